// Package chat implements the text-chat flavor: persisted multi-turn
// conversations with streamed LLM replies and durable app-memory facts
// injected into every prompt.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/vi-lab/vivoice/internal/chatstore"
	"github.com/vi-lab/vivoice/internal/observe"
	"github.com/vi-lab/vivoice/internal/wire"
	"github.com/vi-lab/vivoice/pkg/provider/llm"
)

const (
	// defaultHistoryLimit bounds how many persisted messages are replayed
	// into the prompt.
	defaultHistoryLimit = 40

	// titleMaxRunes bounds auto-derived conversation titles.
	titleMaxRunes = 48
)

const defaultSystemPrompt = "You are Vi Assistant, a helpful text assistant. " +
	"Answer concisely and truthfully. Use the known facts below when they are relevant."

// Sink delivers outbound chat events.
type Sink interface {
	Send(ctx context.Context, event any) error
}

// Store is the persistence surface the chat flow needs. Satisfied by
// *chatstore.Store.
type Store interface {
	CreateConversation(ctx context.Context, title string) (chatstore.Conversation, error)
	GetConversation(ctx context.Context, id int64) (chatstore.Conversation, error)
	AppendMessage(ctx context.Context, conversationID int64, role, content string) (chatstore.Message, error)
	Messages(ctx context.Context, conversationID int64, limit int) ([]chatstore.Message, error)
	AllMemory(ctx context.Context) (map[string]string, error)
}

// Config wires one chat socket.
type Config struct {
	Sink         Sink
	LLM          llm.Provider
	Store        Store
	SystemPrompt string
	HistoryLimit int
	Metrics      *observe.Metrics
	Logger       *slog.Logger
}

// Session handles one chat connection. Messages are processed one at a time
// from the socket's read loop.
type Session struct {
	cfg Config
	log *slog.Logger
}

// New creates a chat Session.
func New(cfg Config) *Session {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	if strings.TrimSpace(cfg.SystemPrompt) == "" {
		cfg.SystemPrompt = defaultSystemPrompt
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Session{cfg: cfg, log: log}
}

// HandleSend processes one chat.send: persist the user turn, stream the
// reply, persist the assistant turn. A zero conversation id starts a new
// conversation titled after the message.
func (s *Session) HandleSend(ctx context.Context, msg wire.ChatSend) error {
	text := strings.TrimSpace(msg.Message)
	if text == "" {
		return s.cfg.Sink.Send(ctx, wire.ChatError{
			Type: wire.TypeChatError, Error: wire.ErrMissingField, Detail: "message is required",
		})
	}

	conv, err := s.resolveConversation(ctx, msg.ConversationID, text)
	if err != nil {
		tag := wire.ErrStorageFail
		if errors.Is(err, chatstore.ErrNotFound) {
			tag = wire.ErrNotFound
		}
		s.log.Warn("conversation lookup failed", "conversation_id", msg.ConversationID, "error", err)
		return s.cfg.Sink.Send(ctx, wire.ChatError{Type: wire.TypeChatError, Error: tag})
	}

	if _, err := s.cfg.Store.AppendMessage(ctx, conv.ID, "user", text); err != nil {
		s.log.Error("persist user message failed", "conversation_id", conv.ID, "error", err)
		return s.cfg.Sink.Send(ctx, wire.ChatError{Type: wire.TypeChatError, Error: wire.ErrStorageFail})
	}

	req, err := s.buildRequest(ctx, conv.ID)
	if err != nil {
		s.log.Error("build chat prompt failed", "conversation_id", conv.ID, "error", err)
		return s.cfg.Sink.Send(ctx, wire.ChatError{Type: wire.TypeChatError, Error: wire.ErrStorageFail})
	}

	if err := s.cfg.Sink.Send(ctx, wire.ChatStart{Type: wire.TypeChatStart, ConversationID: conv.ID}); err != nil {
		return err
	}
	reply, err := s.streamReply(ctx, req)
	if err != nil {
		s.cfg.Metrics.RecordProviderError(ctx, "llm", "chat")
		s.log.Error("chat stream failed", "conversation_id", conv.ID, "error", err)
		return s.cfg.Sink.Send(ctx, wire.ChatError{Type: wire.TypeChatError, Error: wire.ErrLLMHTTP})
	}
	s.cfg.Metrics.RecordProviderRequest(ctx, "llm", "chat", "ok")

	if reply != "" {
		if _, err := s.cfg.Store.AppendMessage(ctx, conv.ID, "assistant", reply); err != nil {
			// The client already has the text; losing the persisted copy is
			// not worth aborting the exchange.
			s.log.Warn("persist assistant message failed", "conversation_id", conv.ID, "error", err)
		}
	}
	return s.cfg.Sink.Send(ctx, wire.ChatDone{Type: wire.TypeChatDone, ConversationID: conv.ID})
}

func (s *Session) resolveConversation(ctx context.Context, id int64, text string) (chatstore.Conversation, error) {
	if id == 0 {
		return s.cfg.Store.CreateConversation(ctx, deriveTitle(text))
	}
	return s.cfg.Store.GetConversation(ctx, id)
}

// buildRequest assembles the prompt: system prompt plus app-memory facts,
// then the persisted conversation including the just-appended user turn.
func (s *Session) buildRequest(ctx context.Context, conversationID int64) (llm.ChatRequest, error) {
	memory, err := s.cfg.Store.AllMemory(ctx)
	if err != nil {
		return llm.ChatRequest{}, fmt.Errorf("load app memory: %w", err)
	}
	msgs, err := s.cfg.Store.Messages(ctx, conversationID, s.cfg.HistoryLimit)
	if err != nil {
		return llm.ChatRequest{}, fmt.Errorf("load history: %w", err)
	}

	history := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role != "user" && m.Role != "assistant" {
			continue
		}
		history = append(history, llm.Message{Role: m.Role, Content: m.Content})
	}
	return llm.ChatRequest{
		SystemPrompt: s.cfg.SystemPrompt + memoryBlock(memory),
		Messages:     history,
	}, nil
}

// streamReply forwards stream chunks as chat.delta events and returns the
// assembled reply.
func (s *Session) streamReply(ctx context.Context, req llm.ChatRequest) (string, error) {
	stream, err := s.cfg.LLM.StreamChat(ctx, req)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for chunk := range stream {
		if chunk.Err != nil {
			return "", chunk.Err
		}
		if chunk.Done {
			break
		}
		if chunk.Text == "" {
			continue
		}
		b.WriteString(chunk.Text)
		if err := s.cfg.Sink.Send(ctx, wire.ChatDelta{Type: wire.TypeChatDelta, TextDelta: chunk.Text}); err != nil {
			return "", err
		}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return strings.TrimSpace(b.String()), nil
}

// memoryBlock renders app-memory pairs as a deterministic prompt suffix.
// Empty memory contributes nothing.
func memoryBlock(memory map[string]string) string {
	if len(memory) == 0 {
		return ""
	}
	keys := make([]string, 0, len(memory))
	for k := range memory {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("\n\nKnown facts:\n")
	for _, k := range keys {
		fmt.Fprintf(&b, "- %s: %s\n", k, memory[k])
	}
	return strings.TrimRight(b.String(), "\n")
}

// deriveTitle makes a conversation title from the opening message.
func deriveTitle(text string) string {
	title := strings.Join(strings.Fields(text), " ")
	runes := []rune(title)
	if len(runes) > titleMaxRunes {
		title = strings.TrimSpace(string(runes[:titleMaxRunes-1])) + "…"
	}
	return title
}
