package config

import "testing"

func TestDiff(t *testing.T) {
	t.Parallel()

	old := &Config{}
	old.Server.LogLevel = LogInfo
	old.Assistant.SystemPrompt = "be brief"
	old.Assistant.MaxSentences = 3

	t.Run("no changes", func(t *testing.T) {
		t.Parallel()
		cp := *old
		d := Diff(old, &cp)
		if d.LogLevelChanged || d.SystemPromptChanged || d.AssistantLimitsChanged {
			t.Errorf("unexpected diff: %+v", d)
		}
	})

	t.Run("log level", func(t *testing.T) {
		t.Parallel()
		cp := *old
		cp.Server.LogLevel = LogDebug
		d := Diff(old, &cp)
		if !d.LogLevelChanged || d.NewLogLevel != LogDebug {
			t.Errorf("diff = %+v", d)
		}
	})

	t.Run("assistant limits", func(t *testing.T) {
		t.Parallel()
		cp := *old
		cp.Assistant.MaxSentences = 2
		d := Diff(old, &cp)
		if !d.AssistantLimitsChanged || d.NewAssistant.MaxSentences != 2 {
			t.Errorf("diff = %+v", d)
		}
	})
}
