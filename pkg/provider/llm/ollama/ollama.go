// Package ollama provides an llm.Provider backed by a local Ollama server
// speaking its native REST API.
//
// Streaming responses are newline-delimited JSON: chat streams carry
// {"message":{"content":...}} objects, generate streams carry
// {"response":...} objects, and both terminate with {"done":true}.
//
// When no model is configured the client queries GET /api/tags once and picks
// the best installed model by a fixed priority list; the choice is cached for
// the lifetime of the client.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/vi-lab/vivoice/pkg/provider/llm"
)

const (
	defaultBaseURL = "http://127.0.0.1:11434"

	// connectTimeout and readTimeout mirror the collaborator budget for LLM
	// HTTP calls: connect <= 3 s, read <= 120 s.
	connectTimeout = 3 * time.Second
	readTimeout    = 120 * time.Second

	// streamChanBuf is the buffer depth of returned chunk channels.
	streamChanBuf = 32
)

// modelPriority orders preferred models for auto-selection when no model is
// configured, best first.
var modelPriority = []string{
	"qwen2.5:32b", "qwen2.5:14b", "qwen2.5:7b",
	"llama3.1:70b", "llama3.1:8b", "llama3:8b",
	"gemma2:27b", "gemma2:9b",
	"mistral:7b",
}

// Compile-time assertion that Client satisfies llm.Provider.
var _ llm.Provider = (*Client)(nil)

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithModel pins the model name. When empty, the client auto-selects from the
// server's installed models.
func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

// WithHTTPClient overrides the underlying HTTP client. Primarily for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// Client talks to an Ollama server. Safe for concurrent use.
type Client struct {
	baseURL string
	model   string
	http    *http.Client

	mu     sync.Mutex
	picked string
}

// New creates a Client for the Ollama server at baseURL. An empty baseURL
// selects the default local server.
func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Transport: &http.Transport{
				DialContext:           (&net.Dialer{Timeout: connectTimeout}).DialContext,
				ResponseHeaderTimeout: readTimeout,
			},
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ─── model selection ──────────────────────────────────────────────────────────

// Model returns the model the client will use, querying the server's tag list
// on first use when no model was configured.
func (c *Client) Model(ctx context.Context) (string, error) {
	if c.model != "" {
		return c.model, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.picked != "" {
		return c.picked, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return "", fmt.Errorf("ollama: build tags request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama: list models: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ollama: list models: HTTP %d", resp.StatusCode)
	}

	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return "", fmt.Errorf("ollama: parse tags: %w", err)
	}

	installed := make(map[string]bool, len(tags.Models))
	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		if m.Name != "" {
			installed[m.Name] = true
			names = append(names, m.Name)
		}
	}
	for _, p := range modelPriority {
		if installed[p] {
			c.picked = p
			return p, nil
		}
	}
	if len(names) > 0 {
		c.picked = names[0]
		return c.picked, nil
	}
	return "", fmt.Errorf("ollama: no models installed")
}

// ─── wire types ───────────────────────────────────────────────────────────────

type chatPayload struct {
	Model    string        `json:"model"`
	Messages []wireMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  options       `json:"options"`
}

type generatePayload struct {
	Model   string  `json:"model"`
	Prompt  string  `json:"prompt"`
	Stream  bool    `json:"stream"`
	Options options `json:"options"`
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type options struct {
	Temperature float64 `json:"temperature"`
}

type chatLine struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// ─── Provider implementation ──────────────────────────────────────────────────

// Chat implements llm.Provider.
func (c *Client) Chat(ctx context.Context, req llm.ChatRequest) (string, error) {
	payload, err := c.chatPayload(ctx, req, false)
	if err != nil {
		return "", err
	}
	var out chatLine
	if err := c.post(ctx, "/api/chat", payload, &out); err != nil {
		return "", err
	}
	return strings.TrimSpace(out.Message.Content), nil
}

// StreamChat implements llm.Provider.
func (c *Client) StreamChat(ctx context.Context, req llm.ChatRequest) (<-chan llm.Chunk, error) {
	payload, err := c.chatPayload(ctx, req, true)
	if err != nil {
		return nil, err
	}
	return c.stream(ctx, "/api/chat", payload, func(l chatLine) string { return l.Message.Content })
}

// Generate implements llm.Provider.
func (c *Client) Generate(ctx context.Context, req llm.GenerateRequest) (string, error) {
	payload, err := c.generatePayload(ctx, req, false)
	if err != nil {
		return "", err
	}
	var out chatLine
	if err := c.post(ctx, "/api/generate", payload, &out); err != nil {
		return "", err
	}
	return strings.TrimSpace(out.Response), nil
}

// StreamGenerate implements llm.Provider.
func (c *Client) StreamGenerate(ctx context.Context, req llm.GenerateRequest) (<-chan llm.Chunk, error) {
	payload, err := c.generatePayload(ctx, req, true)
	if err != nil {
		return nil, err
	}
	return c.stream(ctx, "/api/generate", payload, func(l chatLine) string { return l.Response })
}

func (c *Client) chatPayload(ctx context.Context, req llm.ChatRequest, stream bool) (chatPayload, error) {
	model, err := c.Model(ctx)
	if err != nil {
		return chatPayload{}, err
	}
	msgs := make([]wireMessage, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		msgs = append(msgs, wireMessage{Role: "system", Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		msgs = append(msgs, wireMessage{Role: m.Role, Content: m.Content})
	}
	return chatPayload{
		Model:    model,
		Messages: msgs,
		Stream:   stream,
		Options:  options{Temperature: req.Temperature},
	}, nil
}

func (c *Client) generatePayload(ctx context.Context, req llm.GenerateRequest, stream bool) (generatePayload, error) {
	model, err := c.Model(ctx)
	if err != nil {
		return generatePayload{}, err
	}
	return generatePayload{
		Model:   model,
		Prompt:  req.Prompt,
		Stream:  stream,
		Options: options{Temperature: req.Temperature},
	}, nil
}

// post performs a non-streaming POST with a bounded read deadline and decodes
// the single JSON response object into out.
func (c *Client) post(ctx context.Context, path string, payload any, out any) error {
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("ollama: marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("ollama: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("ollama: %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("ollama: %s: HTTP %d: %s", path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("ollama: %s: decode response: %w", path, err)
	}
	return nil
}

// stream POSTs payload and forwards the newline-delimited JSON response as
// chunks. extract selects the text field appropriate for the endpoint.
func (c *Client) stream(ctx context.Context, path string, payload any, extract func(chatLine) string) (<-chan llm.Chunk, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("ollama: marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ollama: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama: %s: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("ollama: %s: HTTP %d: %s", path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	ch := make(chan llm.Chunk, streamChanBuf)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		sc := bufio.NewScanner(resp.Body)
		sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for sc.Scan() {
			line := bytes.TrimSpace(sc.Bytes())
			if len(line) == 0 {
				continue
			}
			var obj chatLine
			if err := json.Unmarshal(line, &obj); err != nil {
				emit(ctx, ch, llm.Chunk{Err: fmt.Errorf("ollama: parse stream line: %w", err)})
				return
			}
			if text := extract(obj); text != "" {
				if !emit(ctx, ch, llm.Chunk{Text: text}) {
					return
				}
			}
			if obj.Done {
				emit(ctx, ch, llm.Chunk{Done: true})
				return
			}
		}
		if err := sc.Err(); err != nil {
			emit(ctx, ch, llm.Chunk{Err: fmt.Errorf("ollama: read stream: %w", err)})
			return
		}
		// Stream closed without a done marker: treat as a transport failure so
		// callers do not commit a truncated result.
		emit(ctx, ch, llm.Chunk{Err: fmt.Errorf("ollama: stream ended without done marker")})
	}()
	return ch, nil
}

// emit sends a chunk unless the context is cancelled. Reports whether the
// send happened.
func emit(ctx context.Context, ch chan<- llm.Chunk, chunk llm.Chunk) bool {
	select {
	case ch <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}
