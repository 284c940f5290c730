// Package mock provides a scripted llm.Provider for tests.
package mock

import (
	"context"
	"sync"

	"github.com/vi-lab/vivoice/pkg/provider/llm"
)

// Compile-time assertion that Provider satisfies llm.Provider.
var _ llm.Provider = (*Provider)(nil)

// Provider is a scripted llm.Provider. Responses are consumed in FIFO order
// across all methods; when the script is empty, the fallback fields apply.
// All calls are recorded for later inspection. Safe for concurrent use.
type Provider struct {
	mu sync.Mutex

	// Script is a FIFO of canned responses. Each call to Chat/Generate (or a
	// full drain of a stream) consumes one entry.
	Script []Response

	// ChatText and GenerateText are the fallback replies once Script is empty.
	ChatText     string
	GenerateText string

	// Err, when set, makes every non-streaming call fail and every stream end
	// with an error chunk.
	Err error

	// ChatCalls and GenerateCalls record every request received.
	ChatCalls     []llm.ChatRequest
	GenerateCalls []llm.GenerateRequest
}

// Response is one scripted reply. For streaming calls, Chunks are emitted in
// order; a non-nil Err replaces the terminal Done chunk. For non-streaming
// calls, Text (or the concatenation of Chunks when Text is empty) is returned.
type Response struct {
	Text   string
	Chunks []string
	Err    error
}

func (p *Provider) nextScript() (Response, bool) {
	if len(p.Script) == 0 {
		return Response{}, false
	}
	r := p.Script[0]
	p.Script = p.Script[1:]
	return r, true
}

func (r Response) text() string {
	if r.Text != "" {
		return r.Text
	}
	var s string
	for _, c := range r.Chunks {
		s += c
	}
	return s
}

// Chat implements llm.Provider.
func (p *Provider) Chat(_ context.Context, req llm.ChatRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ChatCalls = append(p.ChatCalls, req)
	if r, ok := p.nextScript(); ok {
		return r.text(), r.Err
	}
	return p.ChatText, p.Err
}

// Generate implements llm.Provider.
func (p *Provider) Generate(_ context.Context, req llm.GenerateRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.GenerateCalls = append(p.GenerateCalls, req)
	if r, ok := p.nextScript(); ok {
		return r.text(), r.Err
	}
	return p.GenerateText, p.Err
}

// StreamChat implements llm.Provider.
func (p *Provider) StreamChat(ctx context.Context, req llm.ChatRequest) (<-chan llm.Chunk, error) {
	p.mu.Lock()
	p.ChatCalls = append(p.ChatCalls, req)
	r, ok := p.nextScript()
	if !ok {
		r = Response{Text: p.ChatText, Err: p.Err}
	}
	p.mu.Unlock()
	return p.streamOf(ctx, r), nil
}

// StreamGenerate implements llm.Provider.
func (p *Provider) StreamGenerate(ctx context.Context, req llm.GenerateRequest) (<-chan llm.Chunk, error) {
	p.mu.Lock()
	p.GenerateCalls = append(p.GenerateCalls, req)
	r, ok := p.nextScript()
	if !ok {
		r = Response{Text: p.GenerateText, Err: p.Err}
	}
	p.mu.Unlock()
	return p.streamOf(ctx, r), nil
}

func (p *Provider) streamOf(ctx context.Context, r Response) <-chan llm.Chunk {
	ch := make(chan llm.Chunk, len(r.Chunks)+2)
	go func() {
		defer close(ch)
		chunks := r.Chunks
		if len(chunks) == 0 && r.Text != "" {
			chunks = []string{r.Text}
		}
		for _, c := range chunks {
			select {
			case ch <- llm.Chunk{Text: c}:
			case <-ctx.Done():
				return
			}
		}
		if r.Err != nil {
			ch <- llm.Chunk{Err: r.Err}
			return
		}
		ch <- llm.Chunk{Done: true}
	}()
	return ch
}
