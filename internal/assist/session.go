package assist

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/vi-lab/vivoice/internal/history"
	"github.com/vi-lab/vivoice/internal/observe"
	"github.com/vi-lab/vivoice/internal/ttsout"
	"github.com/vi-lab/vivoice/internal/wire"
	"github.com/vi-lab/vivoice/pkg/provider/stt"
)

const (
	// prebufferMaxBytes caps audio accepted before the start control message,
	// one second at 16 kHz mono PCM16.
	prebufferMaxBytes = 32000

	// maxUtteranceBytes caps one recorded utterance; past this the oldest
	// audio is discarded. Roughly five minutes.
	maxUtteranceBytes = 10 << 20

	// inlineTTSMaxChars clips reply text before synthesis for embedded
	// clients, whose players choke on long clips. Overridable per session
	// via [SessionConfig.InlineMaxChars].
	inlineTTSMaxChars = 400
)

// SessionConfig wires one assistant socket.
type SessionConfig struct {
	Sink      ttsout.Sink
	STT       stt.Transcriber
	Responder *Responder
	TTS       *ttsout.Streamer
	History   *history.Store
	Metrics   *observe.Metrics
	Logger    *slog.Logger

	// InlineMaxChars overrides the shortening boundary applied to reply text
	// before synthesis for embedded clients. Zero keeps the default.
	InlineMaxChars int
}

// Session handles one assistant connection: push-to-talk audio in, one
// spoken result out per start/stop cycle. Methods are called from the
// socket's read loop; finalization may also run from a goroutine, so state
// is mutex-guarded.
type Session struct {
	cfg SessionConfig
	log *slog.Logger

	mu       sync.Mutex
	language string
	client   string
	active   bool
	prebuf   []byte
	pcm      []byte

	// generation invalidates in-flight TTS chunk streams when a new
	// utterance starts.
	generation atomic.Int64
}

// NewSession creates an assistant Session.
func NewSession(cfg SessionConfig) *Session {
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.InlineMaxChars <= 0 {
		cfg.InlineMaxChars = inlineTTSMaxChars
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Session{cfg: cfg, log: log, language: "en", client: "generic"}
}

// HandleStart arms recording: pre-start audio becomes the head of the new
// utterance and any in-flight TTS stream is cancelled.
func (s *Session) HandleStart(ctx context.Context, msg wire.Start) error {
	s.generation.Add(1)

	s.mu.Lock()
	if lang := strings.TrimSpace(msg.Language); lang != "" {
		s.language = strings.ToLower(lang)
	}
	if client := strings.TrimSpace(msg.Client); client != "" {
		s.client = strings.ToLower(client)
	}
	s.pcm = s.prebuf
	s.prebuf = nil
	s.active = true
	s.mu.Unlock()

	return s.cfg.Sink.Send(ctx, wire.Ack{Type: wire.TypeAck, Status: "started"})
}

// HandleAudio buffers one PCM frame. Frames arriving before start are held in
// a small prebuffer so clients that speak immediately lose nothing.
func (s *Session) HandleAudio(data []byte) {
	if len(data) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		s.prebuf = append(s.prebuf, data...)
		if overflow := len(s.prebuf) - prebufferMaxBytes; overflow > 0 {
			s.prebuf = s.prebuf[overflow:]
		}
		return
	}
	s.pcm = append(s.pcm, data...)
	if overflow := len(s.pcm) - maxUtteranceBytes; overflow > 0 {
		s.pcm = s.pcm[overflow:]
	}
}

// HandleStop ends recording and runs the full respond cycle: STT, intent
// handling, history, and audio egress.
func (s *Session) HandleStop(ctx context.Context) error {
	s.mu.Lock()
	pcm := s.pcm
	client := s.client
	language := s.language
	s.pcm = nil
	s.prebuf = nil
	s.active = false
	s.mu.Unlock()

	if len(pcm) == 0 {
		return s.cfg.Sink.Send(ctx, wire.Result{Type: wire.TypeResult, Error: wire.ErrEmptyAudio})
	}

	text, err := s.cfg.STT.Transcribe(ctx, pcm, language)
	if err != nil {
		s.log.Error("utterance transcription failed", "error", err)
		s.cfg.Metrics.RecordProviderError(ctx, "stt", "transcribe")
		return s.cfg.Sink.Send(ctx, wire.Result{Type: wire.TypeResult, Error: wire.ErrSTTFail})
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return s.cfg.Sink.Send(ctx, wire.Result{Type: wire.TypeResult, Error: wire.ErrSTTFail})
	}
	s.cfg.Metrics.RecordProviderRequest(ctx, "stt", "transcribe", "ok")
	s.log.Info("utterance", "text", text, "client", client)

	outcome := s.cfg.Responder.Respond(ctx, text, s.cfg.History.Tail(maxHistoryTurns))
	result := buildResult(text, outcome)
	if !result.OK {
		return s.cfg.Sink.Send(ctx, result)
	}

	if outcome.Reply != "" {
		if err := s.cfg.History.Append(text, outcome.Reply); err != nil {
			s.log.Warn("history append failed", "error", err)
		}
	}

	if client == "esp32" {
		return s.sendStreamed(ctx, result, outcome, language)
	}
	return s.sendInline(ctx, result, outcome, language)
}

// sendInline attaches reply audio to the result frame as base64 WAV. Used by
// browser-class clients.
func (s *Session) sendInline(ctx context.Context, result wire.Result, outcome Outcome, language string) error {
	wav := outcome.MusicWAV
	if wav == nil {
		synthesized, err := s.cfg.TTS.Synthesize(ctx, outcome.Reply, language)
		if err != nil {
			s.log.Warn("reply synthesis failed", "error", err)
			if result.Error == "" {
				result.Error = wire.ErrTTSFail
			}
		}
		wav = synthesized
	}
	if len(wav) > 0 {
		result.AudioB64 = base64.StdEncoding.EncodeToString(wav)
		result.AudioMime = "audio/wav"
	}
	return s.cfg.Sink.Send(ctx, result)
}

// sendStreamed sends the result frame first, then the reply audio as paced
// binary PCM chunks. Used by embedded clients that play as bytes arrive.
func (s *Session) sendStreamed(ctx context.Context, result wire.Result, outcome Outcome, language string) error {
	wav := outcome.MusicWAV
	if wav == nil {
		synthesized, err := s.cfg.TTS.Synthesize(ctx, shortenForInline(outcome.Reply, s.cfg.InlineMaxChars), language)
		if err != nil {
			s.log.Warn("reply synthesis failed", "error", err)
			if result.Error == "" {
				result.Error = wire.ErrTTSFail
			}
		}
		wav = synthesized
	}
	if err := s.cfg.Sink.Send(ctx, result); err != nil {
		return err
	}

	gen := s.generation.Load()
	cancelled := func() bool { return s.generation.Load() != gen }
	return s.cfg.TTS.StreamChunks(ctx, s.cfg.Sink, wav, cancelled)
}

// buildResult maps an Outcome onto the wire result frame.
func buildResult(text string, o Outcome) wire.Result {
	result := wire.Result{
		Type:       wire.TypeResult,
		OK:         o.Reply != "",
		Error:      o.ErrTag,
		STTText:    text,
		AIText:     o.Reply,
		MusicQuery: o.MusicQuery,
	}
	if o.DeviceAction != nil {
		result.DeviceAction = mustJSON(o.DeviceAction)
	}
	if o.DeviceResult != nil {
		result.DeviceResult = mustJSON(o.DeviceResult)
	}
	if o.SensorQuery != nil {
		result.SensorQuery = mustJSON(o.SensorQuery)
	}
	if o.SensorResult != nil {
		result.SensorResult = mustJSON(o.SensorResult)
	}
	if o.MusicTrack != nil {
		result.MusicResult = mustJSON(o.MusicTrack)
	}
	return result
}

// mustJSON marshals values whose types are plain data structs; a marshal
// failure here is a programming error.
func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
