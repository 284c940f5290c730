package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/vi-lab/vivoice/internal/assist"
	"github.com/vi-lab/vivoice/internal/chatstore"
	"github.com/vi-lab/vivoice/internal/titles"
	"github.com/vi-lab/vivoice/pkg/audio"
)

// maxUploadBytes caps the batch upload body, about ten minutes of 16 kHz
// mono PCM16 inside a WAV wrapper.
const maxUploadBytes = 20 << 20

func (s *Server) registerREST(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/titles", s.handleListTitles)
	mux.HandleFunc("POST /api/titles", s.handleCreateTitle)
	mux.HandleFunc("GET /api/titles/{id}", s.handleGetTitle)
	mux.HandleFunc("DELETE /api/titles/{id}", s.handleDeleteTitle)

	mux.HandleFunc("GET /api/conversations", s.withChatStore(s.handleListConversations))
	mux.HandleFunc("POST /api/conversations", s.withChatStore(s.handleCreateConversation))
	mux.HandleFunc("GET /api/conversations/{id}", s.withChatStore(s.handleGetConversation))
	mux.HandleFunc("DELETE /api/conversations/{id}", s.withChatStore(s.handleDeleteConversation))

	mux.HandleFunc("POST /api/assist/upload", s.handleAssistUpload)

	mux.HandleFunc("GET /api/memory", s.withChatStore(s.handleListMemory))
	mux.HandleFunc("PUT /api/memory/{key}", s.withChatStore(s.handleSetMemory))
	mux.HandleFunc("DELETE /api/memory/{key}", s.withChatStore(s.handleDeleteMemory))
}

// withChatStore rejects conversation and memory routes when PostgreSQL is
// not configured.
func (s *Server) withChatStore(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.deps.ChatStore == nil {
			writeError(w, http.StatusServiceUnavailable, "chat store not configured")
			return
		}
		next(w, r)
	}
}

// ─── titles ───────────────────────────────────────────────────────────────────

func (s *Server) handleListTitles(w http.ResponseWriter, _ *http.Request) {
	metas, err := s.deps.Titles.List()
	if err != nil {
		s.log.Error("list titles failed", "error", err)
		writeError(w, http.StatusInternalServerError, "list titles failed")
		return
	}
	writeJSON(w, http.StatusOK, metas)
}

func (s *Server) handleCreateTitle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID         string `json:"id"`
		Name       string `json:"name"`
		SourceLang string `json:"source_lang"`
		TargetLang string `json:"target_lang"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.ID) == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	meta := titles.Meta{
		ID:         req.ID,
		Name:       req.Name,
		SourceLang: req.SourceLang,
		TargetLang: req.TargetLang,
	}
	if err := s.deps.Titles.Create(meta); err != nil {
		s.log.Error("create title failed", "title_id", req.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "create title failed")
		return
	}
	created, err := s.deps.Titles.Meta(req.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "read created title failed")
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetTitle(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	meta, err := s.deps.Titles.Meta(id)
	if err != nil {
		if errors.Is(err, titles.ErrNotFound) {
			writeError(w, http.StatusNotFound, "title not found")
			return
		}
		s.log.Error("read title failed", "title_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "read title failed")
		return
	}
	source, target, err := s.deps.Titles.Transcript(id)
	if err != nil {
		s.log.Error("read transcript failed", "title_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "read transcript failed")
		return
	}
	writeJSON(w, http.StatusOK, struct {
		titles.Meta
		Source string `json:"source"`
		Target string `json:"target"`
	}{Meta: meta, Source: source, Target: target})
}

func (s *Server) handleDeleteTitle(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.deps.Titles.Delete(id); err != nil {
		if errors.Is(err, titles.ErrNotFound) {
			writeError(w, http.StatusNotFound, "title not found")
			return
		}
		s.log.Error("delete title failed", "title_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "delete title failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ─── conversations ────────────────────────────────────────────────────────────

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := s.deps.ChatStore.ListConversations(r.Context())
	if err != nil {
		s.log.Error("list conversations failed", "error", err)
		writeError(w, http.StatusInternalServerError, "list conversations failed")
		return
	}
	writeJSON(w, http.StatusOK, convs)
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title string `json:"title"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	conv, err := s.deps.ChatStore.CreateConversation(r.Context(), req.Title)
	if err != nil {
		s.log.Error("create conversation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "create conversation failed")
		return
	}
	writeJSON(w, http.StatusCreated, conv)
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	conv, err := s.deps.ChatStore.GetConversation(r.Context(), id)
	if err != nil {
		if errors.Is(err, chatstore.ErrNotFound) {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		s.log.Error("read conversation failed", "conversation_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "read conversation failed")
		return
	}
	msgs, err := s.deps.ChatStore.Messages(r.Context(), id, 0)
	if err != nil {
		s.log.Error("read messages failed", "conversation_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "read messages failed")
		return
	}
	writeJSON(w, http.StatusOK, struct {
		chatstore.Conversation
		Messages []chatstore.Message `json:"messages"`
	}{Conversation: conv, Messages: msgs})
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.deps.ChatStore.DeleteConversation(r.Context(), id); err != nil {
		if errors.Is(err, chatstore.ErrNotFound) {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		s.log.Error("delete conversation failed", "conversation_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "delete conversation failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ─── batch assist ─────────────────────────────────────────────────────────────

// handleAssistUpload runs the one-shot assistant pipeline over an uploaded WAV
// clip and returns the result frame as JSON. No audio is synthesized.
func (s *Server) handleAssistUpload(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUploadBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "audio body too large")
		return
	}
	pcm, format, err := audio.WAVToPCM16Mono(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "body must be a 16-bit WAV clip")
		return
	}
	if format.SampleRate != 16000 {
		pcm = audio.ResampleMono16(pcm, format.SampleRate, 16000)
	}
	language := strings.ToLower(r.URL.Query().Get("language"))
	if language == "" {
		language = "en"
	}
	result := assist.RespondOnce(r.Context(), s.deps.STT, s.deps.Responder, s.deps.History, pcm, language)
	writeJSON(w, http.StatusOK, result)
}

// ─── app memory ───────────────────────────────────────────────────────────────

func (s *Server) handleListMemory(w http.ResponseWriter, r *http.Request) {
	memory, err := s.deps.ChatStore.AllMemory(r.Context())
	if err != nil {
		s.log.Error("list memory failed", "error", err)
		writeError(w, http.StatusInternalServerError, "list memory failed")
		return
	}
	writeJSON(w, http.StatusOK, memory)
}

func (s *Server) handleSetMemory(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	var req struct {
		Value string `json:"value"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Value) == "" {
		writeError(w, http.StatusBadRequest, "value is required")
		return
	}
	if err := s.deps.ChatStore.SetMemory(r.Context(), key, req.Value); err != nil {
		s.log.Error("set memory failed", "key", key, "error", err)
		writeError(w, http.StatusInternalServerError, "set memory failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteMemory(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if err := s.deps.ChatStore.DeleteMemory(r.Context(), key); err != nil {
		s.log.Error("delete memory failed", "key", key, "error", err)
		writeError(w, http.StatusInternalServerError, "delete memory failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ─── helpers ──────────────────────────────────────────────────────────────────

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

func readJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
