package resilience

import (
	"context"

	"github.com/vi-lab/vivoice/pkg/provider/stt"
)

// STTFallback implements [stt.Transcriber] with automatic failover across
// multiple STT backends. Each backend has its own circuit breaker, so a dead
// whisper server stops being retried on every 0.8 s transcription pass.
type STTFallback struct {
	group *FallbackGroup[stt.Transcriber]
}

// Compile-time interface assertion.
var _ stt.Transcriber = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred
// backend.
func NewSTTFallback(primary stt.Transcriber, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional transcriber as a fallback.
func (f *STTFallback) AddFallback(name string, provider stt.Transcriber) {
	f.group.AddFallback(name, provider)
}

// Transcribe runs the buffer through the first healthy backend.
func (f *STTFallback) Transcribe(ctx context.Context, pcm []byte, language string) (string, error) {
	return ExecuteWithResult(f.group, func(p stt.Transcriber) (string, error) {
		return p.Transcribe(ctx, pcm, language)
	})
}
