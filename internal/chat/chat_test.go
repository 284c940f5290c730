package chat

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/vi-lab/vivoice/internal/chatstore"
	"github.com/vi-lab/vivoice/internal/wire"
	llmmock "github.com/vi-lab/vivoice/pkg/provider/llm/mock"
)

// memStore is an in-memory Store for tests.
type memStore struct {
	mu            sync.Mutex
	conversations map[int64]chatstore.Conversation
	messages      map[int64][]chatstore.Message
	memory        map[string]string
	nextID        int64
	appendErr     error
}

func newMemStore() *memStore {
	return &memStore{
		conversations: map[int64]chatstore.Conversation{},
		messages:      map[int64][]chatstore.Message{},
		memory:        map[string]string{},
		nextID:        1,
	}
}

func (m *memStore) CreateConversation(_ context.Context, title string) (chatstore.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv := chatstore.Conversation{ID: m.nextID, Title: title}
	m.nextID++
	m.conversations[conv.ID] = conv
	return conv, nil
}

func (m *memStore) GetConversation(_ context.Context, id int64) (chatstore.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.conversations[id]
	if !ok {
		return chatstore.Conversation{}, chatstore.ErrNotFound
	}
	return conv, nil
}

func (m *memStore) AppendMessage(_ context.Context, id int64, role, content string) (chatstore.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return chatstore.Message{}, m.appendErr
	}
	msg := chatstore.Message{ConversationID: id, Role: role, Content: content}
	m.messages[id] = append(m.messages[id], msg)
	return msg, nil
}

func (m *memStore) Messages(_ context.Context, id int64, limit int) ([]chatstore.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := m.messages[id]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]chatstore.Message(nil), msgs...), nil
}

func (m *memStore) AllMemory(context.Context) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.memory))
	for k, v := range m.memory {
		out[k] = v
	}
	return out, nil
}

type captureSink struct {
	mu     sync.Mutex
	events []any
}

func (c *captureSink) Send(_ context.Context, ev any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

func newTestSession(store Store, llmP *llmmock.Provider) (*Session, *captureSink) {
	sink := &captureSink{}
	s := New(Config{
		Sink:   sink,
		LLM:    llmP,
		Store:  store,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return s, sink
}

func TestHandleSendStreamsAndPersists(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.memory["owner"] = "Lan"
	llmP := &llmmock.Provider{Script: []llmmock.Response{
		{Chunks: []string{"Hello ", "Lan."}},
	}}
	s, sink := newTestSession(store, llmP)

	if err := s.HandleSend(context.Background(), wire.ChatSend{Message: "hi there"}); err != nil {
		t.Fatalf("HandleSend: %v", err)
	}

	if len(sink.events) != 4 {
		t.Fatalf("events = %+v", sink.events)
	}
	start, ok := sink.events[0].(wire.ChatStart)
	if !ok || start.ConversationID != 1 {
		t.Errorf("first event = %+v, want chat.start conv 1", sink.events[0])
	}
	if d, ok := sink.events[1].(wire.ChatDelta); !ok || d.TextDelta != "Hello " {
		t.Errorf("second event = %+v", sink.events[1])
	}
	if d, ok := sink.events[2].(wire.ChatDelta); !ok || d.TextDelta != "Lan." {
		t.Errorf("third event = %+v", sink.events[2])
	}
	if done, ok := sink.events[3].(wire.ChatDone); !ok || done.ConversationID != 1 {
		t.Errorf("last event = %+v, want chat.done", sink.events[3])
	}

	msgs := store.messages[1]
	if len(msgs) != 2 || msgs[0].Role != "user" || msgs[1].Role != "assistant" || msgs[1].Content != "Hello Lan." {
		t.Errorf("persisted messages = %+v", msgs)
	}

	req := llmP.ChatCalls[0]
	if !strings.Contains(req.SystemPrompt, "Known facts:") || !strings.Contains(req.SystemPrompt, "- owner: Lan") {
		t.Errorf("system prompt missing memory block: %q", req.SystemPrompt)
	}
	if len(req.Messages) != 1 || req.Messages[0].Content != "hi there" {
		t.Errorf("prompt messages = %+v", req.Messages)
	}
}

func TestHandleSendDerivesConversationTitle(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	llmP := &llmmock.Provider{ChatText: "ok"}
	s, _ := newTestSession(store, llmP)

	long := strings.Repeat("word ", 20)
	if err := s.HandleSend(context.Background(), wire.ChatSend{Message: long}); err != nil {
		t.Fatalf("HandleSend: %v", err)
	}
	title := store.conversations[1].Title
	if len([]rune(title)) > 48 || !strings.HasPrefix(title, "word word") {
		t.Errorf("derived title = %q", title)
	}
}

func TestHandleSendContinuesExistingConversation(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	conv, _ := store.CreateConversation(context.Background(), "existing")
	store.messages[conv.ID] = []chatstore.Message{
		{ConversationID: conv.ID, Role: "user", Content: "earlier question"},
		{ConversationID: conv.ID, Role: "assistant", Content: "earlier answer"},
	}
	llmP := &llmmock.Provider{ChatText: "later answer"}
	s, sink := newTestSession(store, llmP)

	err := s.HandleSend(context.Background(), wire.ChatSend{ConversationID: conv.ID, Message: "follow up"})
	if err != nil {
		t.Fatalf("HandleSend: %v", err)
	}

	req := llmP.ChatCalls[0]
	if len(req.Messages) != 3 || req.Messages[0].Content != "earlier question" || req.Messages[2].Content != "follow up" {
		t.Errorf("prompt messages = %+v", req.Messages)
	}
	if done, ok := sink.events[len(sink.events)-1].(wire.ChatDone); !ok || done.ConversationID != conv.ID {
		t.Errorf("last event = %+v", sink.events[len(sink.events)-1])
	}
}

func TestHandleSendUnknownConversation(t *testing.T) {
	t.Parallel()

	s, sink := newTestSession(newMemStore(), &llmmock.Provider{})
	if err := s.HandleSend(context.Background(), wire.ChatSend{ConversationID: 99, Message: "hi"}); err != nil {
		t.Fatalf("HandleSend: %v", err)
	}
	cerr, ok := sink.events[0].(wire.ChatError)
	if !ok || cerr.Error != wire.ErrNotFound {
		t.Errorf("event = %+v, want not_found chat.error", sink.events[0])
	}
}

func TestHandleSendEmptyMessage(t *testing.T) {
	t.Parallel()

	s, sink := newTestSession(newMemStore(), &llmmock.Provider{})
	if err := s.HandleSend(context.Background(), wire.ChatSend{Message: "   "}); err != nil {
		t.Fatalf("HandleSend: %v", err)
	}
	cerr, ok := sink.events[0].(wire.ChatError)
	if !ok || cerr.Error != wire.ErrMissingField {
		t.Errorf("event = %+v, want missing_field chat.error", sink.events[0])
	}
}

func TestHandleSendStreamFailure(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	llmP := &llmmock.Provider{Script: []llmmock.Response{
		{Chunks: []string{"par"}, Err: fmt.Errorf("upstream reset")},
	}}
	s, sink := newTestSession(store, llmP)

	if err := s.HandleSend(context.Background(), wire.ChatSend{Message: "hi"}); err != nil {
		t.Fatalf("HandleSend: %v", err)
	}

	last, ok := sink.events[len(sink.events)-1].(wire.ChatError)
	if !ok || last.Error != wire.ErrLLMHTTP {
		t.Errorf("last event = %+v, want llm_http_error", sink.events[len(sink.events)-1])
	}
	for _, m := range store.messages[1] {
		if m.Role == "assistant" {
			t.Errorf("assistant message persisted after failed stream: %+v", m)
		}
	}
}
