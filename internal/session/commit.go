package session

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/vi-lab/vivoice/internal/wire"
)

// routeCommit normalizes a raw committed slice, rejects short or duplicate
// results, and on success records the segment, enqueues it for translation,
// and emits stt.commit. force bypasses the minimum-length check; it is used
// only for the explicit end-of-session flush.
func (s *Session) routeCommit(ctx context.Context, raw, kind string, force bool) bool {
	text := normalizeSpace(raw)
	if text == "" {
		return false
	}
	if !force && utf8.RuneCountInString(text) < s.cfg.MinCommitChars {
		return false
	}
	if !s.mem.TryCommit(text) {
		return false
	}
	// stt.commit goes out before the segment is handed to the translation
	// worker so the client never sees a translation delta for a segment it
	// has not been told about.
	s.send(ctx, wire.STTCommit{Type: wire.TypeSTTCommit, Text: text})
	s.commits.push(text)
	s.cfg.Metrics.RecordCommit(ctx, kind)
	return true
}

// runPauseCommits is the secondary commit path: when the STT stream has been
// idle past the pause threshold and a long-enough draft is pending, commit
// the whole draft and clear the client's draft line.
func (s *Session) runPauseCommits(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PauseTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if s.mem.Stopping() {
			return
		}
		if time.Since(s.mem.LastSTTUpdate()) < s.cfg.PauseAfter {
			continue
		}

		draft := s.mem.Draft()
		if utf8.RuneCountInString(normalizeSpace(draft)) < s.cfg.MinCommitChars {
			continue
		}
		s.mem.AdvanceCursor(len(draft))
		if s.routeCommit(ctx, draft, "pause", false) {
			s.send(ctx, wire.STTDelta{Type: wire.TypeSTTDelta, Text: ""})
		}
	}
}

// HandleUttCommit commits the current draft on the client's explicit
// request, bypassing the minimum-length check.
func (s *Session) HandleUttCommit(ctx context.Context) {
	if s.State() != StateActive {
		return
	}
	draft := s.mem.Draft()
	if strings.TrimSpace(draft) == "" {
		return
	}
	s.mem.AdvanceCursor(len(draft))
	if s.routeCommit(ctx, draft, "manual", true) {
		s.send(ctx, wire.STTDelta{Type: wire.TypeSTTDelta, Text: ""})
	}
}

// flushDraft commits whatever draft remains, bypassing the minimum-length
// check. Called once by the finalizer.
func (s *Session) flushDraft(ctx context.Context) {
	draft := s.mem.Draft()
	if strings.TrimSpace(draft) == "" {
		return
	}
	s.mem.AdvanceCursor(len(draft))
	if s.routeCommit(ctx, draft, "final", true) {
		s.send(ctx, wire.STTDelta{Type: wire.TypeSTTDelta, Text: ""})
	}
}
