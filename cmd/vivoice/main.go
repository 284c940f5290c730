// Command vivoice is the main entry point for the vivoice voice backend.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/vi-lab/vivoice/internal/assist"
	"github.com/vi-lab/vivoice/internal/chatstore"
	"github.com/vi-lab/vivoice/internal/config"
	"github.com/vi-lab/vivoice/internal/devices"
	"github.com/vi-lab/vivoice/internal/health"
	"github.com/vi-lab/vivoice/internal/history"
	"github.com/vi-lab/vivoice/internal/music"
	"github.com/vi-lab/vivoice/internal/observe"
	"github.com/vi-lab/vivoice/internal/resilience"
	"github.com/vi-lab/vivoice/internal/server"
	"github.com/vi-lab/vivoice/internal/titles"
	"github.com/vi-lab/vivoice/internal/ttsout"
	"github.com/vi-lab/vivoice/pkg/provider/llm"
	"github.com/vi-lab/vivoice/pkg/provider/llm/anyllm"
	"github.com/vi-lab/vivoice/pkg/provider/llm/ollama"
	"github.com/vi-lab/vivoice/pkg/provider/stt"
	"github.com/vi-lab/vivoice/pkg/provider/stt/whisper"
	"github.com/vi-lab/vivoice/pkg/provider/tts"
	"github.com/vi-lab/vivoice/pkg/provider/tts/coqui"
)

const shutdownTimeout = 15 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "vivoice: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "vivoice: %v\n", err)
		}
		return 1
	}

	levelVar := new(slog.LevelVar)
	levelVar.Set(slogLevel(cfg.Server.LogLevel))
	logger := newLogger(cfg.Server.LogFormat, levelVar)
	slog.SetDefault(logger)

	slog.Info("vivoice starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "vivoice"})
	if err != nil {
		slog.Error("telemetry init failed", "err", err)
		return 1
	}
	defer func() {
		sdCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := otelShutdown(sdCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Providers ─────────────────────────────────────────────────────────────
	sttEngine, err := buildSTT(cfg)
	if err != nil {
		slog.Error("stt provider init failed", "err", err)
		return 1
	}
	llmProvider, err := buildLLM(cfg)
	if err != nil {
		slog.Error("llm provider init failed", "err", err)
		return 1
	}
	var ttsEngine tts.Synthesizer = buildTTS(cfg)
	if !cfg.Resilience.Disabled {
		sttEngine, llmProvider, ttsEngine = wrapWithBreakers(cfg, sttEngine, llmProvider, ttsEngine)
	}

	// ── Stores ────────────────────────────────────────────────────────────────
	titleStore, err := titles.NewStore(cfg.Store.DataDir)
	if err != nil {
		slog.Error("title store init failed", "err", err)
		return 1
	}
	historyStore := history.NewStore(cfg.Assistant.HistoryFile, cfg.Assistant.HistoryMaxEntries)

	checkers := providerCheckers(cfg)
	var chatStore *chatstore.Store
	if cfg.Store.PostgresDSN != "" {
		store, pool, err := chatstore.Connect(ctx, cfg.Store.PostgresDSN)
		if err != nil {
			slog.Error("chat store init failed", "err", err)
			return 1
		}
		defer pool.Close()
		chatStore = store
		checkers = append(checkers, health.PingChecker("postgres", pool))
		slog.Info("chat store connected")
	}

	// ── Assistant collaborators ───────────────────────────────────────────────
	var bridge assist.DeviceBridge
	if cfg.Devices.ESPBaseURL != "" {
		bridge = devices.New(cfg.Devices.ESPBaseURL)
	}
	var musicSource assist.MusicSource
	if cfg.Music.JamendoClientID != "" {
		musicSource = music.New(cfg.Music.JamendoClientID, cfg.Music.CacheDir,
			music.WithFFmpeg(cfg.Music.FFmpegPath))
	}

	streamer := ttsout.New(ttsEngine, ttsout.Options{
		ChunkBytes:    cfg.TTSStream.ChunkBytes,
		PrefillChunks: cfg.TTSStream.PrefillChunks,
		PaceFactor:    cfg.TTSStream.PaceFactor,
		LeadSilenceMs: cfg.TTSStream.LeadSilenceMs,
		Filler:        cfg.TTSStream.Filler,
	}, metrics, logger)

	responder := assist.NewResponder(assist.ResponderConfig{
		LLM:    llmProvider,
		Bridge: bridge,
		Music:  musicSource,
		Rules: assist.Rules{
			MaxChars:     cfg.Assistant.MaxResponseChars,
			MaxSentences: cfg.Assistant.MaxSentences,
			MaxRewrites:  cfg.Assistant.RewriteRetries,
		},
		SystemPrompt: cfg.Assistant.SystemPrompt,
		Metrics:      metrics,
		Logger:       logger,
	})

	// ── HTTP server ───────────────────────────────────────────────────────────
	srv := server.New(server.Deps{
		Config:    cfg,
		STT:       sttEngine,
		LLM:       llmProvider,
		TTS:       streamer,
		Titles:    titleStore,
		Responder: responder,
		History:   historyStore,
		ChatStore: chatStore,
		Health:    health.New(checkers...),
		Metrics:   metrics,
		Logger:    logger,
	})
	httpServer := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			levelVar.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level reloaded", "level", d.NewLogLevel)
		}
		if d.SystemPromptChanged {
			responder.SetSystemPrompt(d.NewSystemPrompt)
			srv.SetSystemPrompt(d.NewSystemPrompt)
			slog.Info("system prompt reloaded")
		}
		if d.AssistantLimitsChanged {
			slog.Info("assistant limit changes require a restart to take effect")
		}
	})
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()
	slog.Info("server ready — press Ctrl+C to shut down")

	select {
	case err := <-errCh:
		slog.Error("server error", "err", err)
		return 1
	case <-ctx.Done():
	}

	slog.Info("shutdown signal received, stopping…")
	sdCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(sdCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

func buildSTT(cfg *config.Config) (stt.Transcriber, error) {
	sc := cfg.Providers.STT
	switch sc.Name {
	case "whisper":
		return whisper.NewServer(sc.BaseURL), nil
	case "whisper-native":
		return whisper.NewNative(sc.ModelPath)
	default:
		return nil, fmt.Errorf("unknown stt provider %q", sc.Name)
	}
}

func buildLLM(cfg *config.Config) (llm.Provider, error) {
	lc := cfg.Providers.LLM
	if lc.Name == "ollama" {
		var opts []ollama.Option
		if lc.Model != "" {
			opts = append(opts, ollama.WithModel(lc.Model))
		}
		return ollama.New(lc.BaseURL, opts...), nil
	}

	var opts []anyllmlib.Option
	if lc.APIKey != "" {
		opts = append(opts, anyllmlib.WithAPIKey(lc.APIKey))
	}
	if lc.BaseURL != "" {
		opts = append(opts, anyllmlib.WithBaseURL(lc.BaseURL))
	}
	return anyllm.New(lc.Name, lc.Model, opts...)
}

// wrapWithBreakers puts each backend behind its own circuit breaker so a dead
// server stops being hammered on every utterance. A whisper HTTP setup that
// also names a local model gets the native engine registered as an STT
// fallback.
func wrapWithBreakers(cfg *config.Config, sttEngine stt.Transcriber, llmProvider llm.Provider, ttsEngine tts.Synthesizer) (stt.Transcriber, llm.Provider, tts.Synthesizer) {
	fbCfg := resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  cfg.Resilience.MaxFailures,
			ResetTimeout: time.Duration(cfg.Resilience.ResetSeconds) * time.Second,
		},
	}

	sttFB := resilience.NewSTTFallback(sttEngine, cfg.Providers.STT.Name, fbCfg)
	if cfg.Providers.STT.Name == "whisper" && cfg.Providers.STT.ModelPath != "" {
		native, err := whisper.NewNative(cfg.Providers.STT.ModelPath)
		if err != nil {
			slog.Warn("native whisper fallback unavailable", "err", err)
		} else {
			sttFB.AddFallback("whisper-native", native)
			slog.Info("stt fallback registered", "name", "whisper-native")
		}
	}

	llmFB := resilience.NewLLMFallback(llmProvider, cfg.Providers.LLM.Name, fbCfg)
	ttsFB := resilience.NewTTSFallback(ttsEngine, cfg.Providers.TTS.Name, fbCfg)
	return sttFB, llmFB, ttsFB
}

func buildTTS(cfg *config.Config) *coqui.Synthesizer {
	tc := cfg.Providers.TTS
	var opts []coqui.Option
	if tc.APIMode != "" {
		opts = append(opts, coqui.WithAPIMode(coqui.APIMode(tc.APIMode)))
	}
	if tc.Speaker != "" {
		opts = append(opts, coqui.WithSpeaker(tc.Speaker))
	}
	return coqui.New(tc.BaseURL, opts...)
}

// providerCheckers builds readiness checks for the HTTP-reachable backends.
func providerCheckers(cfg *config.Config) []health.Checker {
	var checkers []health.Checker
	if cfg.Providers.STT.Name == "whisper" && cfg.Providers.STT.BaseURL != "" {
		checkers = append(checkers, health.HTTPChecker("whisper", cfg.Providers.STT.BaseURL))
	}
	if cfg.Providers.TTS.BaseURL != "" {
		checkers = append(checkers, health.HTTPChecker("coqui", cfg.Providers.TTS.BaseURL))
	}
	if cfg.Providers.LLM.Name == "ollama" && cfg.Providers.LLM.BaseURL != "" {
		checkers = append(checkers, health.HTTPChecker("ollama", cfg.Providers.LLM.BaseURL))
	}
	return checkers
}

// ── Logging ───────────────────────────────────────────────────────────────────

func newLogger(format string, level slog.Leveler) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func slogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
