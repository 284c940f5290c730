package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/vi-lab/vivoice/internal/assist"
	"github.com/vi-lab/vivoice/internal/chat"
	"github.com/vi-lab/vivoice/internal/observe"
	"github.com/vi-lab/vivoice/internal/session"
	"github.com/vi-lab/vivoice/internal/wire"
)

// disconnectFinalizeWait bounds how long an abruptly dropped translate
// session may spend persisting its transcript.
const disconnectFinalizeWait = 15 * time.Second

func (s *Server) handleTranslateWS(w http.ResponseWriter, r *http.Request) {
	conn, ok := s.accept(w, r)
	if !ok {
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	sink := &wsSink{conn: conn}
	log := observe.WithTrace(ctx, s.log).With("ws", "translate", "remote", r.RemoteAddr)
	sess := session.New(session.Config{
		Sink:    sink,
		STT:     s.deps.STT,
		LLM:     s.deps.LLM,
		Titles:  s.deps.Titles,
		Metrics: s.deps.Metrics,
		Logger:  log,
	})
	defer sess.Close()

	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			s.finalizeDisconnected(sess, log)
			return
		}
		if msgType == websocket.MessageBinary {
			sess.HandleAudio(ctx, data)
			continue
		}

		env, payloadOK := decodeEnvelope(ctx, sink, data)
		if !payloadOK {
			continue
		}
		switch env {
		case wire.TypeInit:
			var msg wire.Init
			if !decodePayload(ctx, sink, data, &msg) {
				continue
			}
			if err := sess.HandleInit(ctx, msg); err != nil {
				conn.Close(websocket.StatusPolicyViolation, "init failed")
				return
			}
		case wire.TypeStart:
			var msg wire.Start
			if !decodePayload(ctx, sink, data, &msg) {
				continue
			}
			sess.HandleStart(ctx, msg)
		case wire.TypeAudioChunk:
			if pcm, ok := decodeInlineAudio(ctx, sink, data); ok {
				sess.HandleAudio(ctx, pcm)
			}
		case wire.TypeUttCommit:
			sess.HandleUttCommit(ctx)
		case wire.TypeStop:
			sess.HandleStop(ctx)
			select {
			case <-sess.Done():
				conn.Close(websocket.StatusNormalClosure, "")
			case <-ctx.Done():
			}
			return
		default:
			sink.Send(ctx, wire.NewError(wire.ErrUnknownType, env))
		}
	}
}

// finalizeDisconnected persists what an abruptly dropped session had
// accumulated. The socket is already dead, so the final events vanish, but
// the transcript still reaches disk.
func (s *Server) finalizeDisconnected(sess *session.Session, log *slog.Logger) {
	switch sess.State() {
	case session.StateActive, session.StateInitialized, session.StateStopping:
	default:
		return
	}
	log.Info("client disconnected, finalizing session")
	sess.HandleStop(context.Background())
	select {
	case <-sess.Done():
	case <-time.After(disconnectFinalizeWait):
		log.Warn("finalize after disconnect timed out")
	}
}

func (s *Server) handleAssistantWS(w http.ResponseWriter, r *http.Request) {
	conn, ok := s.accept(w, r)
	if !ok {
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	sink := &wsSink{conn: conn}
	log := observe.WithTrace(ctx, s.log).With("ws", "assistant", "remote", r.RemoteAddr)
	sess := assist.NewSession(assist.SessionConfig{
		Sink:           sink,
		STT:            s.deps.STT,
		Responder:      s.deps.Responder,
		TTS:            s.deps.TTS,
		History:        s.deps.History,
		Metrics:        s.deps.Metrics,
		Logger:         log,
		InlineMaxChars: s.deps.Config.TTSStream.InlineMaxChars,
	})

	// Respond cycles run off the read loop so the socket keeps reading while
	// a chunk stream is in flight; a new start frame then cancels the stream
	// via the session's generation counter.
	var cycles sync.WaitGroup
	defer cycles.Wait()

	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		if msgType == websocket.MessageBinary {
			sess.HandleAudio(data)
			continue
		}

		env, payloadOK := decodeEnvelope(ctx, sink, data)
		if !payloadOK {
			continue
		}
		switch env {
		case wire.TypeStart:
			var msg wire.Start
			if !decodePayload(ctx, sink, data, &msg) {
				continue
			}
			if err := sess.HandleStart(ctx, msg); err != nil {
				return
			}
		case wire.TypeAudioChunk:
			if pcm, ok := decodeInlineAudio(ctx, sink, data); ok {
				sess.HandleAudio(pcm)
			}
		case wire.TypeStop:
			cycles.Add(1)
			go func() {
				defer cycles.Done()
				if err := sess.HandleStop(ctx); err != nil {
					log.Warn("respond cycle failed", "error", err)
				}
			}()
		default:
			sink.Send(ctx, wire.NewError(wire.ErrUnknownType, env))
		}
	}
}

func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	if s.deps.ChatStore == nil {
		http.Error(w, "chat store not configured", http.StatusServiceUnavailable)
		return
	}
	conn, ok := s.accept(w, r)
	if !ok {
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	s.deps.Metrics.ActiveChatSessions.Add(ctx, 1)
	defer s.deps.Metrics.ActiveChatSessions.Add(context.Background(), -1)

	sink := &wsSink{conn: conn}
	sess := chat.New(chat.Config{
		Sink:         sink,
		LLM:          s.deps.LLM,
		Store:        s.deps.ChatStore,
		SystemPrompt: s.chatSystemPrompt(),
		Metrics:      s.deps.Metrics,
		Logger:       observe.WithTrace(ctx, s.log).With("ws", "chat", "remote", r.RemoteAddr),
	})

	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		if msgType == websocket.MessageBinary {
			sink.Send(ctx, wire.NewError(wire.ErrUnknownType, "binary frame"))
			continue
		}

		env, payloadOK := decodeEnvelope(ctx, sink, data)
		if !payloadOK {
			continue
		}
		switch env {
		case wire.TypeChatSend:
			var msg wire.ChatSend
			if !decodePayload(ctx, sink, data, &msg) {
				continue
			}
			if err := sess.HandleSend(ctx, msg); err != nil {
				return
			}
		default:
			sink.Send(ctx, wire.NewError(wire.ErrUnknownType, env))
		}
	}
}

// decodeEnvelope extracts the type discriminator from a text frame. A false
// result means an error event was already sent.
func decodeEnvelope(ctx context.Context, sink *wsSink, data []byte) (string, bool) {
	var env wire.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		sink.Send(ctx, wire.NewError(wire.ErrBadJSON, err.Error()))
		return "", false
	}
	return env.Type, true
}

// decodePayload unmarshals a text frame into its concrete message type.
func decodePayload(ctx context.Context, sink *wsSink, data []byte, dst any) bool {
	if err := json.Unmarshal(data, dst); err != nil {
		sink.Send(ctx, wire.NewError(wire.ErrBadJSON, err.Error()))
		return false
	}
	return true
}

// decodeInlineAudio handles the JSON form of an audio frame.
func decodeInlineAudio(ctx context.Context, sink *wsSink, data []byte) ([]byte, bool) {
	var msg wire.AudioChunk
	if err := json.Unmarshal(data, &msg); err != nil {
		sink.Send(ctx, wire.NewError(wire.ErrBadJSON, err.Error()))
		return nil, false
	}
	pcm, err := base64.StdEncoding.DecodeString(msg.PCM16B64)
	if err != nil || len(pcm) == 0 {
		detail := "empty payload"
		if err != nil {
			detail = err.Error()
		}
		sink.Send(ctx, wire.NewError(wire.ErrBadAudio, detail))
		return nil, false
	}
	return pcm, true
}
