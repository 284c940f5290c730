// Package llm defines the Provider interface for the language-model backends
// used by the translation and assistant pipelines.
//
// Implementors must be safe for concurrent use. Channels returned by
// StreamCompletion and StreamGenerate must be closed by the implementation
// when the stream ends or when the supplied context is cancelled; a stream
// that fails mid-flight emits exactly one Chunk with Err set before closing.
package llm

import "context"

// Message represents a single message in a chat conversation history.
type Message struct {
	// Role is one of "system", "user", or "assistant".
	Role string

	// Content is the text content of the message.
	Content string
}

// ChatRequest carries a chat-style completion request.
type ChatRequest struct {
	// SystemPrompt is an optional high-priority instruction injected before
	// the conversation history as a "system"-role message.
	SystemPrompt string

	// Messages is the ordered conversation history. The last message is
	// typically from the "user" role and drives the response.
	Messages []Message

	// Temperature controls output randomness. Zero requests the provider
	// default.
	Temperature float64
}

// GenerateRequest carries a raw-prompt completion request (no chat framing).
type GenerateRequest struct {
	// Prompt is the full prompt text.
	Prompt string

	// Temperature controls output randomness. Zero requests the provider
	// default.
	Temperature float64
}

// Chunk is a single fragment emitted by a streaming completion.
type Chunk struct {
	// Text is the incremental text content of this chunk.
	Text string

	// Done marks the terminal chunk of a successful stream.
	Done bool

	// Err is set on the final chunk of a failed stream. No further chunks
	// follow a chunk with Err != nil.
	Err error
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// Chat performs a non-streaming chat completion and returns the full
	// reply text.
	Chat(ctx context.Context, req ChatRequest) (string, error)

	// StreamChat performs a streaming chat completion. The returned channel
	// is closed when the stream ends.
	StreamChat(ctx context.Context, req ChatRequest) (<-chan Chunk, error)

	// Generate performs a non-streaming raw-prompt completion.
	Generate(ctx context.Context, req GenerateRequest) (string, error)

	// StreamGenerate performs a streaming raw-prompt completion. The returned
	// channel is closed when the stream ends.
	StreamGenerate(ctx context.Context, req GenerateRequest) (<-chan Chunk, error)
}
