// Package config provides the configuration schema, loader, and environment
// overrides for the vivoice server.
package config

// LogLevel controls log verbosity for the vivoice server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for vivoice.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Assistant AssistantConfig `yaml:"assistant"`
	Devices   DevicesConfig   `yaml:"devices"`
	Music     MusicConfig     `yaml:"music"`
	TTSStream TTSStreamConfig `yaml:"tts_stream"`
	Store     StoreConfig     `yaml:"store"`

	Resilience ResilienceConfig `yaml:"resilience"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8000").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// LogFormat selects the slog handler: "json" (default) or "text".
	LogFormat string `yaml:"log_format"`
}

// ProvidersConfig declares which backend to use for each pipeline stage.
type ProvidersConfig struct {
	STT STTConfig `yaml:"stt"`
	TTS TTSConfig `yaml:"tts"`
	LLM LLMConfig `yaml:"llm"`
}

// STTConfig selects and configures the speech-to-text backend.
type STTConfig struct {
	// Name is "whisper" (HTTP server) or "whisper-native" (CGO bindings).
	Name string `yaml:"name"`

	// BaseURL is the whisper.cpp server address for the "whisper" backend.
	BaseURL string `yaml:"base_url"`

	// ModelPath is the GGML model file for the "whisper-native" backend.
	ModelPath string `yaml:"model_path"`
}

// TTSConfig selects and configures the text-to-speech backend.
type TTSConfig struct {
	// Name is currently always "coqui".
	Name string `yaml:"name"`

	// BaseURL is the Coqui server address.
	BaseURL string `yaml:"base_url"`

	// APIMode is "standard" (default) or "xtts".
	APIMode string `yaml:"api_mode"`

	// Speaker is the speaker_id (standard) or speaker_wav reference (xtts).
	Speaker string `yaml:"speaker"`
}

// LLMConfig selects and configures the language-model backend used for
// translation, summaries, and the assistant.
type LLMConfig struct {
	// Name is "ollama" (native REST client) or one of the any-llm backends:
	// "openai", "anthropic", "gemini", "mistral", "groq".
	Name string `yaml:"name"`

	// BaseURL overrides the backend's default endpoint. For "ollama" this is
	// the server address (default http://127.0.0.1:11434).
	BaseURL string `yaml:"base_url"`

	// Model pins the model name. Empty lets the Ollama backend auto-select
	// from the server's installed models.
	Model string `yaml:"model"`

	// APIKey authenticates hosted backends. Unused by "ollama".
	APIKey string `yaml:"api_key"`
}

// AssistantConfig tunes the voice-assistant reply pipeline.
type AssistantConfig struct {
	// SystemPrompt overrides the built-in assistant persona prompt.
	SystemPrompt string `yaml:"system_prompt"`

	// MaxResponseChars caps assistant replies. Default 280.
	MaxResponseChars int `yaml:"max_response_chars"`

	// MaxSentences caps assistant replies. Default 3.
	MaxSentences int `yaml:"max_sentences"`

	// RewriteRetries is how many times a rule-violating reply is sent back to
	// the model for a rewrite before deterministic sanitization. Default 2.
	RewriteRetries int `yaml:"rewrite_retries"`

	// HistoryFile is the JSON file persisting q/a turns across restarts.
	HistoryFile string `yaml:"history_file"`

	// HistoryMaxEntries bounds the persisted history file. Default 1000.
	HistoryMaxEntries int `yaml:"history_max_entries"`
}

// DevicesConfig points at the ESP relay/sensor bridge.
type DevicesConfig struct {
	// ESPBaseURL is the base address of the ESP HTTP bridge.
	ESPBaseURL string `yaml:"esp_base_url"`
}

// MusicConfig configures the music search/playback branch.
type MusicConfig struct {
	// JamendoClientID authenticates Jamendo API searches. Empty disables the
	// music branch.
	JamendoClientID string `yaml:"jamendo_client_id"`

	// CacheDir holds downloaded and transcoded tracks.
	CacheDir string `yaml:"cache_dir"`

	// FFmpegPath overrides the ffmpeg binary used for transcoding. Default
	// "ffmpeg" (resolved via PATH).
	FFmpegPath string `yaml:"ffmpeg_path"`
}

// TTSStreamConfig tunes paced audio delivery to embedded clients.
type TTSStreamConfig struct {
	// ChunkBytes is the binary frame size. Default 480, minimum 320, always
	// sample-aligned.
	ChunkBytes int `yaml:"chunk_bytes"`

	// PrefillChunks are sent back-to-back before pacing starts. Default 10.
	PrefillChunks int `yaml:"prefill_chunks"`

	// PaceFactor scales the real-time send rate, clamped to [0.5, 1.2].
	// Default 1.0.
	PaceFactor float64 `yaml:"pace_factor"`

	// LeadSilenceMs of silence prepended to each clip so Bluetooth sinks do
	// not clip the first syllable. Default 0.
	LeadSilenceMs int `yaml:"lead_silence_ms"`

	// Filler is a short phrase synthesized and sent ahead of slow replies.
	Filler string `yaml:"filler"`

	// InlineMaxChars shortens reply text at a punctuation boundary before
	// inline synthesis for low-bandwidth clients. 0 disables shortening.
	InlineMaxChars int `yaml:"inline_max_chars"`
}

// ResilienceConfig tunes the circuit breakers wrapped around the STT, TTS,
// and LLM backends.
type ResilienceConfig struct {
	// Disabled turns off circuit-breaker wrapping entirely.
	Disabled bool `yaml:"disabled"`

	// MaxFailures is the number of consecutive failures before a backend's
	// breaker opens. Default 5.
	MaxFailures int `yaml:"max_failures"`

	// ResetSeconds is how long an open breaker waits before probing the
	// backend again. Default 30.
	ResetSeconds int `yaml:"reset_seconds"`
}

// StoreConfig holds persistence settings.
type StoreConfig struct {
	// PostgresDSN enables the chat store. Empty disables /ws/chat persistence
	// and the conversations REST API.
	PostgresDSN string `yaml:"postgres_dsn"`

	// DataDir holds per-title transcript directories and other file state.
	DataDir string `yaml:"data_dir"`
}
