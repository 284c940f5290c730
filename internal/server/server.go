// Package server exposes the vivoice surfaces over HTTP: the three WebSocket
// flavors (/ws/translate, /ws/assistant, /ws/chat), the admin REST API, and
// the health and metrics endpoints.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vi-lab/vivoice/internal/assist"
	"github.com/vi-lab/vivoice/internal/chatstore"
	"github.com/vi-lab/vivoice/internal/config"
	"github.com/vi-lab/vivoice/internal/health"
	"github.com/vi-lab/vivoice/internal/history"
	"github.com/vi-lab/vivoice/internal/observe"
	"github.com/vi-lab/vivoice/internal/titles"
	"github.com/vi-lab/vivoice/internal/ttsout"
	"github.com/vi-lab/vivoice/pkg/provider/llm"
	"github.com/vi-lab/vivoice/pkg/provider/stt"
)

// Deps carries the shared backends one Server serves from. ChatStore may be
// nil, which disables /ws/chat and the conversation/memory REST routes.
type Deps struct {
	Config    *config.Config
	STT       stt.Transcriber
	LLM       llm.Provider
	TTS       *ttsout.Streamer
	Titles    *titles.Store
	Responder *assist.Responder
	History   *history.Store
	ChatStore *chatstore.Store
	Health    *health.Handler
	Metrics   *observe.Metrics
	Logger    *slog.Logger
}

// Server routes HTTP and WebSocket traffic to the session pipelines.
type Server struct {
	deps Deps
	log  *slog.Logger

	mu           sync.RWMutex
	systemPrompt string
}

// New creates a Server over deps.
func New(deps Deps) *Server {
	if deps.Metrics == nil {
		deps.Metrics = observe.DefaultMetrics()
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		deps:         deps,
		log:          log,
		systemPrompt: deps.Config.Assistant.SystemPrompt,
	}
}

// SetSystemPrompt updates the chat system prompt for new connections. Used by
// config hot reload; the assistant responder reloads separately.
func (s *Server) SetSystemPrompt(prompt string) {
	s.mu.Lock()
	s.systemPrompt = prompt
	s.mu.Unlock()
}

func (s *Server) chatSystemPrompt() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.systemPrompt
}

// Handler builds the full route table wrapped in the observability
// middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /ws/translate", s.handleTranslateWS)
	mux.HandleFunc("GET /ws/assistant", s.handleAssistantWS)
	mux.HandleFunc("GET /ws/chat", s.handleChatWS)

	s.registerREST(mux)

	if s.deps.Health != nil {
		s.deps.Health.Register(mux)
	}
	mux.Handle("GET /metrics", promhttp.Handler())

	return observe.Middleware(s.deps.Metrics)(mux)
}

// accept upgrades an HTTP request to a WebSocket. Origin checks are left to
// the reverse proxy in front of the server.
func (s *Server) accept(w http.ResponseWriter, r *http.Request) (*websocket.Conn, bool) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.log.Warn("websocket accept failed", "path", r.URL.Path, "error", err)
		return nil, false
	}
	conn.SetReadLimit(1 << 20)
	return conn, true
}

// wsSink adapts a websocket connection to the event/binary sink interfaces.
// The pipeline workers send concurrently, so writes are serialized here.
type wsSink struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *wsSink) Send(ctx context.Context, event any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return wsjson.Write(ctx, s.conn, event)
}

func (s *wsSink) SendBinary(ctx context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Write(ctx, websocket.MessageBinary, data)
}
