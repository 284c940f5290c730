package config

// ConfigDiff describes what changed between two configs. Only fields that can
// be safely hot-reloaded are tracked; everything else requires a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	SystemPromptChanged bool
	NewSystemPrompt     string

	AssistantLimitsChanged bool
	NewAssistant           AssistantConfig
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Assistant.SystemPrompt != new.Assistant.SystemPrompt {
		d.SystemPromptChanged = true
		d.NewSystemPrompt = new.Assistant.SystemPrompt
	}
	if old.Assistant.MaxResponseChars != new.Assistant.MaxResponseChars ||
		old.Assistant.MaxSentences != new.Assistant.MaxSentences ||
		old.Assistant.RewriteRetries != new.Assistant.RewriteRetries {
		d.AssistantLimitsChanged = true
		d.NewAssistant = new.Assistant
	}
	return d
}
