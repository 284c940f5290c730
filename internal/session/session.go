// Package session implements the per-connection translation pipeline: audio
// ingress, the cumulative STT worker, the commit router, the streaming
// translation worker, the periodic summary worker, and the finalizer, all
// supervised by a small state machine.
//
// Event flow: binary PCM frames enter through HandleAudio, the STT worker
// turns them into a live draft plus committed source segments, the
// translation worker streams each committed segment through the LLM, and the
// finalizer reconciles and persists the whole transcript on stop.
package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/vi-lab/vivoice/internal/observe"
	"github.com/vi-lab/vivoice/internal/titles"
	"github.com/vi-lab/vivoice/internal/wire"
	"github.com/vi-lab/vivoice/pkg/provider/llm"
	"github.com/vi-lab/vivoice/pkg/provider/stt"
)

// State is the session lifecycle state.
type State int

// Session states, in order of progression.
const (
	StateConnected State = iota
	StateInitialized
	StateActive
	StateStopping
	StateClosed
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateInitialized:
		return "initialized"
	case StateActive:
		return "active"
	case StateStopping:
		return "stopping"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const (
	// audioQueueCap bounds the ingress queue. Real-time audio tolerates loss
	// better than lag, so overflow drops the oldest frame.
	audioQueueCap = 200

	// prebufferMaxBytes caps the pre-start audio buffer at roughly one second
	// of PCM16 mono 16 kHz. It exists to avoid clipping the first syllable.
	prebufferMaxBytes = 32000
)

// errInitFailed marks a fatal init so the connection handler can close the
// socket without further events.
var errInitFailed = errors.New("session: init failed")

// Sink delivers outbound events to the client. Implementations marshal the
// event to JSON and write one WebSocket text frame.
type Sink interface {
	Send(ctx context.Context, event any) error
}

// Config assembles a Session's collaborators and tuning knobs. Zero-value
// durations and counts take the production defaults.
type Config struct {
	Sink    Sink
	STT     stt.Transcriber
	LLM     llm.Provider
	Titles  *titles.Store
	Metrics *observe.Metrics
	Logger  *slog.Logger

	// STTInterval is the minimum spacing between cumulative STT passes.
	STTInterval time.Duration
	// STTTailCap bounds the audio buffer fed to each STT pass.
	STTTailCap time.Duration
	// PauseTick is the poll period of the pause-commit loop.
	PauseTick time.Duration
	// PauseAfter is the STT-idle duration after which a pending draft is
	// committed without waiting for terminal punctuation.
	PauseAfter time.Duration
	// SummaryInterval is the period of the rolling-summary worker.
	SummaryInterval time.Duration
	// StopGrace is the settle delay between a stop request and the draft
	// flush, letting an in-flight STT pass land.
	StopGrace time.Duration
	// QuiescenceWait caps how long the finalizer waits for in-flight
	// translations to drain.
	QuiescenceWait time.Duration
	// MinCommitChars is the minimum normalized length of a committed segment.
	MinCommitChars int
}

func (c *Config) applyDefaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Metrics == nil {
		c.Metrics = observe.DefaultMetrics()
	}
	if c.STTInterval <= 0 {
		c.STTInterval = 800 * time.Millisecond
	}
	if c.STTTailCap <= 0 {
		c.STTTailCap = 15 * time.Second
	}
	if c.PauseTick <= 0 {
		c.PauseTick = 180 * time.Millisecond
	}
	if c.PauseAfter <= 0 {
		c.PauseAfter = 1200 * time.Millisecond
	}
	if c.SummaryInterval <= 0 {
		c.SummaryInterval = 10 * time.Second
	}
	if c.StopGrace <= 0 {
		c.StopGrace = 400 * time.Millisecond
	}
	if c.QuiescenceWait <= 0 {
		c.QuiescenceWait = 2 * time.Second
	}
	if c.MinCommitChars <= 0 {
		c.MinCommitChars = 10
	}
}

// Session is one live translation pipeline. Create with New, drive with the
// Handle* methods from the connection's read loop, and wait on Done for
// shutdown. All methods are safe for concurrent use.
type Session struct {
	cfg Config
	log *slog.Logger
	mem *Memory

	mu      sync.Mutex
	state   State
	prebuf  []byte
	cancel  context.CancelFunc
	started bool

	audioCh chan []byte
	commits *commitQueue
	wg      sync.WaitGroup

	finalizeOnce sync.Once
	shutdownOnce sync.Once
	done         chan struct{}
}

// New creates a Session in the CONNECTED state.
func New(cfg Config) *Session {
	cfg.applyDefaults()
	return &Session{
		cfg:     cfg,
		log:     cfg.Logger,
		mem:     &Memory{},
		state:   StateConnected,
		audioCh: make(chan []byte, audioQueueCap),
		commits: newCommitQueue(),
		done:    make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed when the session reaches CLOSED.
func (s *Session) Done() <-chan struct{} { return s.done }

// Memory exposes the session memory, mainly for tests and the admin surface.
func (s *Session) Memory() *Memory { return s.mem }

// HandleInit validates identity and languages, loads the title's persisted
// transcript, and transitions to INITIALIZED. A failed init is fatal: one
// error event is sent and the session closes.
func (s *Session) HandleInit(ctx context.Context, msg wire.Init) error {
	s.mu.Lock()
	if s.state != StateConnected {
		s.mu.Unlock()
		s.sendError(ctx, wire.ErrUnknownType, "already initialized")
		return nil
	}
	s.mu.Unlock()

	titleID := strings.TrimSpace(msg.TitleID)
	if titleID == "" {
		s.sendError(ctx, wire.ErrMissingField, "missing title_id")
		s.Close()
		return errInitFailed
	}
	sttLang := safeLang(msg.STTLanguage)
	srcLang := safeLang(msg.TranslateSource)
	tgtLang := safeLang(msg.TranslateTarget)
	if !ValidLangs[sttLang] || !ValidLangs[srcLang] || !ValidLangs[tgtLang] {
		s.sendError(ctx, wire.ErrInvalidLanguage, "only languages allowed: en / vi / zh")
		s.Close()
		return errInitFailed
	}
	if srcLang == tgtLang {
		s.sendError(ctx, wire.ErrInvalidLanguage, "translate_source equals translate_target")
		s.Close()
		return errInitFailed
	}

	titleName := strings.TrimSpace(msg.TitleName)
	if titleName == "" {
		titleName = titleID
	}
	if err := s.cfg.Titles.Create(titles.Meta{
		ID:         titleID,
		Name:       titleName,
		SourceLang: srcLang,
		TargetLang: tgtLang,
	}); err != nil {
		s.log.Error("title create failed", "title_id", titleID, "error", err)
		s.sendError(ctx, wire.ErrMissingField, "title store unavailable")
		s.Close()
		return errInitFailed
	}

	prevSrc, prevTgt, err := s.cfg.Titles.Transcript(titleID)
	if err != nil {
		s.log.Warn("transcript load failed", "title_id", titleID, "error", err)
	}
	prevSrc = strings.TrimSpace(prevSrc)
	prevTgt = strings.TrimSpace(prevTgt)
	tail := titles.ContextTail(prevSrc, prevTgt)

	s.mem.Init(titleID, titleName, sttLang, srcLang, tgtLang, "generic", prevSrc, prevTgt, tail)

	s.mu.Lock()
	s.state = StateInitialized
	s.mu.Unlock()

	s.log.Info("session initialized",
		"title_id", titleID,
		"stt_language", sttLang,
		"translate", srcLang+"->"+tgtLang,
	)
	return nil
}

// HandleStart transitions INITIALIZED → ACTIVE, flushes the pre-start audio
// buffer, starts the workers, and acknowledges.
func (s *Session) HandleStart(ctx context.Context, msg wire.Start) {
	if s.activate(ctx) {
		s.send(ctx, wire.Ack{Type: wire.TypeAck, Status: "started"})
	}
}

// HandleAudio accepts one raw PCM16 frame. Before start it is prebuffered and
// the session auto-activates; while ACTIVE it is queued for the STT worker
// (dropping the oldest frame on overflow); in any other state it is silently
// dropped.
func (s *Session) HandleAudio(ctx context.Context, pcm []byte) {
	if len(pcm) == 0 {
		return
	}
	s.mu.Lock()
	state := s.state
	if state == StateInitialized {
		s.prebuf = append(s.prebuf, pcm...)
		if len(s.prebuf) > prebufferMaxBytes {
			s.prebuf = s.prebuf[len(s.prebuf)-prebufferMaxBytes:]
		}
	}
	s.mu.Unlock()

	switch state {
	case StateInitialized:
		// Clients that never send an explicit start begin streaming right
		// after init; the first frame activates the session.
		s.activate(ctx)
	case StateActive:
		s.enqueueAudio(ctx, pcm)
	default:
		// Not active: drop.
	}
}

// HandleStop triggers finalization. Safe to call more than once; only the
// first call runs the finalizer.
func (s *Session) HandleStop(ctx context.Context) {
	s.mu.Lock()
	if s.state != StateActive && s.state != StateInitialized {
		s.mu.Unlock()
		return
	}
	s.state = StateStopping
	s.mu.Unlock()

	s.finalizeOnce.Do(func() {
		s.wgGo("finalizer", func() { s.finalize(context.WithoutCancel(ctx)) })
	})
}

// Close tears the session down without a finalization pass. Used on abrupt
// disconnects and failed inits. Idempotent.
func (s *Session) Close() {
	s.shutdown()
}

// activate flips the session to ACTIVE and starts the workers. Returns false
// when the session is not in a startable state.
func (s *Session) activate(ctx context.Context) bool {
	s.mu.Lock()
	if s.state != StateInitialized || s.started {
		s.mu.Unlock()
		return false
	}
	s.state = StateActive
	s.started = true
	prebuf := s.prebuf
	s.prebuf = nil

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.mu.Unlock()

	if len(prebuf) > 0 {
		s.enqueueAudio(ctx, prebuf)
	}

	s.cfg.Metrics.ActiveSessions.Add(ctx, 1)
	s.spawn(runCtx, "stt", s.runSTT)
	s.spawn(runCtx, "pause_commit", s.runPauseCommits)
	s.spawn(runCtx, "translate", s.runTranslate)
	s.spawn(runCtx, "summary", s.runSummary)
	return true
}

// enqueueAudio pushes a frame onto the audio queue, dropping the oldest
// queued frame when full.
func (s *Session) enqueueAudio(ctx context.Context, pcm []byte) {
	for {
		select {
		case s.audioCh <- pcm:
			return
		default:
		}
		select {
		case <-s.audioCh:
			s.cfg.Metrics.AudioChunksDropped.Add(ctx, 1)
		default:
		}
	}
}

// spawn runs a supervised worker goroutine. Panics are contained and logged
// with the worker's name; they never escape the session.
func (s *Session) spawn(ctx context.Context, name string, fn func(context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("worker panicked", "worker", name, "panic", r)
			}
		}()
		fn(ctx)
		s.log.Debug("worker exited", "worker", name)
	}()
}

// wgGo runs fn outside the worker group so shutdown's wg.Wait cannot deadlock
// on it.
func (s *Session) wgGo(name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("worker panicked", "worker", name, "panic", r)
			}
		}()
		fn()
	}()
}

// shutdown cancels the workers, waits for them, and transitions to CLOSED.
// Idempotent; the only writer of the stopped flag.
func (s *Session) shutdown() {
	s.shutdownOnce.Do(func() {
		s.mem.SetStopping()
		s.commits.close()

		s.mu.Lock()
		cancel := s.cancel
		wasActive := s.started
		s.state = StateClosed
		s.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		s.wg.Wait()
		s.mem.SetStopped()
		if wasActive {
			s.cfg.Metrics.ActiveSessions.Add(context.Background(), -1)
		}
		close(s.done)
		s.log.Info("session closed")
	})
}

// send delivers one event unless the session has stopped.
func (s *Session) send(ctx context.Context, event any) {
	if s.mem.Stopped() {
		return
	}
	if err := s.cfg.Sink.Send(ctx, event); err != nil {
		s.log.Warn("event send failed", "error", err)
	}
}

func (s *Session) sendError(ctx context.Context, tag, detail string) {
	s.send(ctx, wire.NewError(tag, detail))
}

func safeLang(x string) string {
	return strings.ToLower(strings.TrimSpace(x))
}
