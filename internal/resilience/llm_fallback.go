package resilience

import (
	"context"

	"github.com/vi-lab/vivoice/pkg/provider/llm"
)

// LLMFallback implements [llm.Provider] with automatic failover across
// multiple LLM backends. Each backend has its own circuit breaker; when the
// primary fails or its breaker is open, the next healthy fallback is tried.
//
// For the streaming calls only the initial connection attempt participates in
// failover; once a stream is established, mid-stream errors are the caller's
// responsibility (the session pipelines already treat a failed stream as a
// skipped segment).
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

// Compile-time interface assertion.
var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] with primary as the preferred
// backend.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional LLM provider as a fallback.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
}

// Chat sends the request to the first healthy provider.
func (f *LLMFallback) Chat(ctx context.Context, req llm.ChatRequest) (string, error) {
	return ExecuteWithResult(f.group, func(p llm.Provider) (string, error) {
		return p.Chat(ctx, req)
	})
}

// StreamChat opens a chat stream against the first healthy provider.
func (f *LLMFallback) StreamChat(ctx context.Context, req llm.ChatRequest) (<-chan llm.Chunk, error) {
	return ExecuteWithResult(f.group, func(p llm.Provider) (<-chan llm.Chunk, error) {
		return p.StreamChat(ctx, req)
	})
}

// Generate sends the raw-prompt request to the first healthy provider.
func (f *LLMFallback) Generate(ctx context.Context, req llm.GenerateRequest) (string, error) {
	return ExecuteWithResult(f.group, func(p llm.Provider) (string, error) {
		return p.Generate(ctx, req)
	})
}

// StreamGenerate opens a raw-prompt stream against the first healthy
// provider.
func (f *LLMFallback) StreamGenerate(ctx context.Context, req llm.GenerateRequest) (<-chan llm.Chunk, error) {
	return ExecuteWithResult(f.group, func(p llm.Provider) (<-chan llm.Chunk, error) {
		return p.StreamGenerate(ctx, req)
	})
}
