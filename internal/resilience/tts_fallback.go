package resilience

import (
	"context"

	"github.com/vi-lab/vivoice/pkg/provider/tts"
)

// TTSFallback implements [tts.Synthesizer] with automatic failover across
// multiple TTS backends. Each backend has its own circuit breaker, so an
// unreachable synthesis server does not stall every reply.
type TTSFallback struct {
	group *FallbackGroup[tts.Synthesizer]
}

// Compile-time interface assertion.
var _ tts.Synthesizer = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred
// backend.
func NewTTSFallback(primary tts.Synthesizer, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional synthesizer as a fallback.
func (f *TTSFallback) AddFallback(name string, provider tts.Synthesizer) {
	f.group.AddFallback(name, provider)
}

// Synthesize renders text through the first healthy backend.
func (f *TTSFallback) Synthesize(ctx context.Context, text, language string) ([]byte, error) {
	return ExecuteWithResult(f.group, func(p tts.Synthesizer) ([]byte, error) {
		return p.Synthesize(ctx, text, language)
	})
}
