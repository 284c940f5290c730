package assist

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/vi-lab/vivoice/internal/devices"
	"github.com/vi-lab/vivoice/internal/history"
	"github.com/vi-lab/vivoice/internal/music"
	"github.com/vi-lab/vivoice/internal/observe"
	"github.com/vi-lab/vivoice/internal/wire"
	"github.com/vi-lab/vivoice/pkg/provider/llm"
)

// maxHistoryTurns is how many past question/answer turns are replayed into
// the free-form chat prompt.
const maxHistoryTurns = 5

// chatTemperature keeps the assistant's free-form answers stable; rule
// compliance degrades quickly at higher temperatures.
const chatTemperature = 0.1

// DeviceBridge is the relay/sensor surface the responder needs. Satisfied by
// *devices.Client.
type DeviceBridge interface {
	SwitchRooms(ctx context.Context, rooms []string, state string) devices.SwitchOutcome
	ReadSensor(ctx context.Context) (devices.SensorReading, error)
}

// MusicSource resolves a spoken music query to playable WAV audio. Satisfied
// by *music.Client.
type MusicSource interface {
	Search(ctx context.Context, query string) ([]music.Track, error)
	Fetch(ctx context.Context, track music.Track) ([]byte, error)
}

// Outcome is the full result of handling one utterance. Reply is always set
// when handling succeeded; the intent-specific fields are populated only for
// the branch that matched.
type Outcome struct {
	Reply  string
	Source string // "device", "sensor", "music", or "llm"

	DeviceAction *DeviceCommand
	DeviceResult *devices.SwitchOutcome

	SensorQuery  *SensorQuery
	SensorResult *devices.SensorReading

	MusicQuery string
	MusicTrack *music.Track
	MusicWAV   []byte

	// ErrTag carries a wire error tag for degraded outcomes: partial relay
	// failure, unreachable sensor, or a dead LLM. Reply may still be set.
	ErrTag string
}

// Responder routes an utterance to the right collaborator and produces the
// spoken reply. Safe for concurrent use.
type Responder struct {
	llm          llm.Provider
	bridge       DeviceBridge
	music        MusicSource
	rules        Rules
	systemPrompt string
	metrics      *observe.Metrics
	log          *slog.Logger
}

// ResponderConfig wires a Responder. LLM is required; Bridge and Music may be
// nil, in which case the matching intents degrade to their failure replies.
type ResponderConfig struct {
	LLM          llm.Provider
	Bridge       DeviceBridge
	Music        MusicSource
	Rules        Rules
	SystemPrompt string
	Metrics      *observe.Metrics
	Logger       *slog.Logger
}

// NewResponder creates a Responder from cfg.
func NewResponder(cfg ResponderConfig) *Responder {
	rules := cfg.Rules
	if rules.MaxChars <= 0 {
		rules.MaxChars = DefaultRules.MaxChars
	}
	if rules.MaxSentences <= 0 {
		rules.MaxSentences = DefaultRules.MaxSentences
	}
	if rules.MaxRewrites < 0 {
		rules.MaxRewrites = 0
	}
	prompt := strings.TrimSpace(cfg.SystemPrompt)
	if prompt == "" {
		prompt = defaultSystemPrompt(rules)
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Responder{
		llm:          cfg.LLM,
		bridge:       cfg.Bridge,
		music:        cfg.Music,
		rules:        rules,
		systemPrompt: prompt,
		metrics:      metrics,
		log:          log,
	}
}

// SetSystemPrompt swaps the free-form system prompt. Used by config hot
// reload.
func (r *Responder) SetSystemPrompt(prompt string) {
	if p := strings.TrimSpace(prompt); p != "" {
		r.systemPrompt = p
	}
}

// Respond classifies text and executes the matching branch. turns is the
// recent conversation history for the free-form path.
func (r *Responder) Respond(ctx context.Context, text string, turns []history.Turn) Outcome {
	switch intent := Classify(text).(type) {
	case DeviceCommand:
		return r.respondDevice(ctx, intent)
	case SensorQuery:
		return r.respondSensor(ctx, intent)
	case MusicRequest:
		return r.respondMusic(ctx, intent)
	default:
		return r.respondFreeForm(ctx, text, turns)
	}
}

func (r *Responder) respondDevice(ctx context.Context, cmd DeviceCommand) Outcome {
	out := Outcome{Source: "device", DeviceAction: &cmd}
	if r.bridge == nil {
		out.Reply = "I cannot reach the device bridge right now."
		out.ErrTag = wire.ErrPartialFailure
		return out
	}

	result := r.bridge.SwitchRooms(ctx, cmd.Rooms, cmd.State)
	out.DeviceResult = &result
	out.Reply = deviceReply(cmd, result)
	status := "ok"
	switch {
	case !result.AnyOK():
		status = "error"
		out.Reply = "I could not reach the lights right now."
		out.ErrTag = wire.ErrPartialFailure
	case !result.AllOK():
		status = "partial"
		out.ErrTag = wire.ErrPartialFailure
	}
	r.metrics.RecordDeviceCommand(ctx, "relay_"+cmd.State, status)
	return out
}

func (r *Responder) respondSensor(ctx context.Context, q SensorQuery) Outcome {
	out := Outcome{Source: "sensor", SensorQuery: &q}
	if r.bridge == nil {
		out.Reply = sensorFailReply
		out.ErrTag = wire.ErrSensorUnavailable
		return out
	}

	reading, err := r.bridge.ReadSensor(ctx)
	if err != nil {
		r.log.Warn("sensor read failed", "error", err)
		r.metrics.RecordDeviceCommand(ctx, "sensor", "error")
		out.Reply = sensorFailReply
		out.ErrTag = wire.ErrSensorUnavailable
		return out
	}
	r.metrics.RecordDeviceCommand(ctx, "sensor", "ok")
	out.SensorResult = &reading
	out.Reply = sensorReply(q, reading)
	return out
}

func (r *Responder) respondMusic(ctx context.Context, req MusicRequest) Outcome {
	out := Outcome{Source: "music", MusicQuery: req.Query}
	if r.music == nil {
		out.Reply = musicFailReply(req.Query)
		return out
	}

	tracks, err := r.music.Search(ctx, req.Query)
	if err != nil {
		if !errors.Is(err, music.ErrNoResults) && !errors.Is(err, music.ErrDisabled) {
			r.log.Warn("music search failed", "query", req.Query, "error", err)
		}
		out.Reply = musicFailReply(req.Query)
		return out
	}
	track := tracks[0]
	wav, err := r.music.Fetch(ctx, track)
	if err != nil {
		r.log.Warn("music fetch failed", "track", track.ID, "error", err)
		out.Reply = musicFailReply(req.Query)
		return out
	}
	out.MusicTrack = &track
	out.MusicWAV = wav
	out.Reply = musicReply(track)
	return out
}

func (r *Responder) respondFreeForm(ctx context.Context, text string, turns []history.Turn) Outcome {
	out := Outcome{Source: "llm"}
	reply, err := r.chatWithRules(ctx, text, turns)
	if err != nil {
		r.log.Error("assistant chat failed", "error", err)
		r.metrics.RecordProviderError(ctx, "llm", "chat")
		out.ErrTag = wire.ErrLLMHTTP
		return out
	}
	out.Reply = reply
	return out
}

// chatWithRules runs the free-form completion and enforces the reply rules:
// each violating answer gets a repair round, and whatever still violates
// after the final round is sanitized deterministically.
func (r *Responder) chatWithRules(ctx context.Context, text string, turns []history.Turn) (string, error) {
	if len(turns) > maxHistoryTurns {
		turns = turns[len(turns)-maxHistoryTurns:]
	}
	base := make([]llm.Message, 0, 2*len(turns)+1)
	for _, t := range turns {
		if t.Q != "" {
			base = append(base, llm.Message{Role: "user", Content: t.Q})
		}
		if t.A != "" {
			base = append(base, llm.Message{Role: "assistant", Content: t.A})
		}
	}
	base = append(base, llm.Message{Role: "user", Content: text})

	reply, err := r.llm.Chat(ctx, llm.ChatRequest{
		SystemPrompt: r.systemPrompt,
		Messages:     base,
		Temperature:  chatTemperature,
	})
	if err != nil {
		return "", err
	}
	r.metrics.RecordProviderRequest(ctx, "llm", "chat", "ok")

	reply = strings.TrimSpace(reply)
	for attempt := 0; attempt < r.rules.MaxRewrites; attempt++ {
		violations := ruleViolations(reply, r.rules)
		if len(violations) == 0 {
			return reply, nil
		}
		r.log.Debug("reply violates rules, requesting rewrite",
			"attempt", attempt+1, "violations", strings.Join(violations, ","))
		msgs := append(append([]llm.Message(nil), base...),
			llm.Message{Role: "assistant", Content: reply},
			llm.Message{Role: "user", Content: repairPrompt(violations, r.rules)},
		)
		fixed, err := r.llm.Chat(ctx, llm.ChatRequest{
			SystemPrompt: r.systemPrompt,
			Messages:     msgs,
			Temperature:  chatTemperature,
		})
		if err != nil {
			// The first answer exists; repair errors degrade to the sanitizer.
			r.log.Warn("rewrite round failed", "error", err)
			break
		}
		reply = strings.TrimSpace(fixed)
	}
	if len(ruleViolations(reply, r.rules)) > 0 {
		reply = sanitizeReply(reply, r.rules)
	}
	return reply, nil
}
