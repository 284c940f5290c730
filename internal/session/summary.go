package session

import (
	"context"
	"strings"
	"time"

	"github.com/vi-lab/vivoice/internal/wire"
	"github.com/vi-lab/vivoice/pkg/provider/llm"
)

// runSummary is Line 3: on a fixed period it summarizes everything spoken so
// far (persisted source, session commits, and the live draft) and replaces
// the running summary wholesale. Failures are logged and skipped; the
// summary is context grease, never load-bearing.
func (s *Session) runSummary(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SummaryInterval)
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

		src := s.summarySource()
		if src == "" {
			continue
		}

		start := time.Now()
		out, err := s.cfg.LLM.Generate(ctx, llm.GenerateRequest{Prompt: summaryPrompt(s.mem.Snapshot().SrcLang, src)})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.cfg.Metrics.RecordProviderError(ctx, "llm", "summary")
			s.log.Warn("summary pass failed", "error", err)
			s.sendError(ctx, wire.ErrSummaryFail, err.Error())
			continue
		}
		out = strings.TrimSpace(out)
		if out == "" {
			continue
		}

		s.mem.SetSummary(out)
		s.cfg.Metrics.SummaryDuration.Record(ctx, time.Since(start).Seconds())
		s.send(ctx, wire.SummaryUpdate{Type: wire.TypeSummaryUpdate, Summary: out})
	}
}

// summarySource composes the text to summarize: persisted source, then the
// session's committed segments, then the current draft.
func (s *Session) summarySource() string {
	snap := s.mem.Snapshot()
	parts := make([]string, 0, len(snap.SrcSegments)+2)
	if snap.PersistedSource != "" {
		parts = append(parts, snap.PersistedSource)
	}
	parts = append(parts, snap.SrcSegments...)
	if draft := strings.TrimSpace(s.mem.Draft()); draft != "" {
		parts = append(parts, draft)
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}
