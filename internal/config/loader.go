package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt": {"whisper", "whisper-native"},
	"tts": {"coqui"},
	"llm": {"ollama", "openai", "anthropic", "gemini", "mistral", "groq"},
}

// Load reads the YAML configuration file at path, applies environment
// overrides, and returns a validated [Config]. It is a convenience wrapper
// around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies environment overrides,
// fills defaults, and validates the result. Useful in tests where configs are
// constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyEnv(cfg)
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overlays the documented environment knobs onto cfg. Environment
// values win over YAML so deployments can retune a container without editing
// its mounted config.
func ApplyEnv(cfg *Config) {
	setString(&cfg.Devices.ESPBaseURL, "ESP_BASE_URL")
	setString(&cfg.Providers.LLM.BaseURL, "OLLAMA_URL")
	setString(&cfg.Providers.LLM.Model, "OLLAMA_MODEL")
	setString(&cfg.Assistant.SystemPrompt, "AI_SYSTEM_PROMPT")
	setInt(&cfg.Assistant.MaxResponseChars, "VI_MAX_AI_RESPONSE_CHARS")
	setInt(&cfg.Assistant.MaxSentences, "VI_AI_MAX_SENTENCES")
	setInt(&cfg.Assistant.RewriteRetries, "VI_AI_REWRITE_RETRIES")
	setInt(&cfg.Assistant.HistoryMaxEntries, "VI_HISTORY_FILE_MAX_ENTRIES")
	setInt(&cfg.TTSStream.ChunkBytes, "VI_ESP_TTS_STREAM_CHUNK_BYTES")
	setInt(&cfg.TTSStream.PrefillChunks, "VI_ESP_TTS_STREAM_PREFILL_CHUNKS")
	setFloat(&cfg.TTSStream.PaceFactor, "VI_ESP_TTS_STREAM_PACE_FACTOR")
	setInt(&cfg.TTSStream.LeadSilenceMs, "VI_TTS_LEAD_SIL_MS")
	setString(&cfg.TTSStream.Filler, "VI_TTS_FILLER")
	setInt(&cfg.TTSStream.InlineMaxChars, "ESP_INLINE_TTS_MAX_CHARS")
}

// ApplyDefaults fills zero-valued fields with their documented defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8000"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.LogFormat == "" {
		cfg.Server.LogFormat = "json"
	}
	if cfg.Providers.STT.Name == "" {
		cfg.Providers.STT.Name = "whisper"
	}
	if cfg.Providers.TTS.Name == "" {
		cfg.Providers.TTS.Name = "coqui"
	}
	if cfg.Providers.LLM.Name == "" {
		cfg.Providers.LLM.Name = "ollama"
	}
	if cfg.Assistant.MaxResponseChars <= 0 {
		cfg.Assistant.MaxResponseChars = 280
	}
	if cfg.Assistant.MaxSentences <= 0 {
		cfg.Assistant.MaxSentences = 3
	}
	if cfg.Assistant.RewriteRetries < 0 {
		cfg.Assistant.RewriteRetries = 0
	} else if cfg.Assistant.RewriteRetries == 0 {
		cfg.Assistant.RewriteRetries = 2
	}
	if cfg.Assistant.HistoryMaxEntries <= 0 {
		cfg.Assistant.HistoryMaxEntries = 1000
	}
	if cfg.Assistant.HistoryFile == "" {
		cfg.Assistant.HistoryFile = "data/assistant_history.json"
	}
	if cfg.TTSStream.ChunkBytes <= 0 {
		cfg.TTSStream.ChunkBytes = 480
	}
	if cfg.TTSStream.PrefillChunks <= 0 {
		cfg.TTSStream.PrefillChunks = 10
	}
	if cfg.TTSStream.PaceFactor == 0 {
		cfg.TTSStream.PaceFactor = 1.0
	}
	if cfg.Music.FFmpegPath == "" {
		cfg.Music.FFmpegPath = "ffmpeg"
	}
	if cfg.Music.CacheDir == "" {
		cfg.Music.CacheDir = "data/music"
	}
	if cfg.Store.DataDir == "" {
		cfg.Store.DataDir = "data"
	}
	if cfg.Resilience.MaxFailures <= 0 {
		cfg.Resilience.MaxFailures = 5
	}
	if cfg.Resilience.ResetSeconds <= 0 {
		cfg.Resilience.ResetSeconds = 30
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if f := cfg.Server.LogFormat; f != "" && f != "json" && f != "text" {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: json, text", f))
	}

	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)

	if cfg.Providers.STT.Name == "whisper-native" && cfg.Providers.STT.ModelPath == "" {
		errs = append(errs, errors.New("providers.stt.model_path is required for the whisper-native backend"))
	}
	if m := cfg.Providers.TTS.APIMode; m != "" && m != "standard" && m != "xtts" {
		errs = append(errs, fmt.Errorf("providers.tts.api_mode %q is invalid; valid values: standard, xtts", m))
	}
	if cfg.TTSStream.PaceFactor < 0 {
		errs = append(errs, fmt.Errorf("tts_stream.pace_factor must be positive, got %v", cfg.TTSStream.PaceFactor))
	}
	if cfg.Store.PostgresDSN == "" {
		slog.Warn("store.postgres_dsn is empty; chat persistence and the conversations API will be disabled")
	}
	if cfg.Devices.ESPBaseURL == "" {
		slog.Warn("devices.esp_base_url is empty; device and sensor commands will fail")
	}

	return errors.Join(errs...)
}

func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	if !slices.Contains(ValidProviderNames[kind], name) {
		slog.Warn("unrecognised provider name", "kind", kind, "name", name, "known", ValidProviderNames[kind])
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("ignoring non-integer environment override", "key", key, "value", v)
		return
	}
	*dst = n
}

func setFloat(dst *float64, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		slog.Warn("ignoring non-numeric environment override", "key", key, "value", v)
		return
	}
	*dst = f
}
