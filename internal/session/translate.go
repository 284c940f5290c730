package session

import (
	"context"
	"strings"
	"time"

	"github.com/vi-lab/vivoice/internal/wire"
	"github.com/vi-lab/vivoice/pkg/provider/llm"
)

// runTranslate is Line 2: it consumes committed source segments strictly in
// FIFO order and streams one LLM translation per segment. A failed stream
// produces an error event and no translation.commit; the worker moves on to
// the next segment.
func (s *Session) runTranslate(ctx context.Context) {
	for {
		seg, ok := s.commits.pop(ctx)
		if !ok {
			return
		}
		s.mem.SetTranslating(true)
		s.translateSegment(ctx, seg)
		s.mem.SetTranslating(false)
	}
}

func (s *Session) translateSegment(ctx context.Context, seg string) {
	snap := s.mem.Snapshot()
	prompt := translateSegmentPrompt(snap.SrcLang, snap.TgtLang, snap.ContextTail, snap.Summary, seg)

	start := time.Now()
	stream, err := s.cfg.LLM.StreamGenerate(ctx, llm.GenerateRequest{Prompt: prompt})
	if err != nil {
		s.cfg.Metrics.RecordProviderError(ctx, "llm", "translate")
		s.sendError(ctx, wire.ErrTranslateFail, err.Error())
		return
	}

	var out strings.Builder
	for chunk := range stream {
		if chunk.Err != nil {
			s.cfg.Metrics.RecordProviderError(ctx, "llm", "translate")
			s.sendError(ctx, wire.ErrTranslateFail, chunk.Err.Error())
			return
		}
		if chunk.Text != "" {
			out.WriteString(chunk.Text)
			s.send(ctx, wire.TranslationDelta{Type: wire.TypeTranslationDelta, Delta: chunk.Text})
		}
		if chunk.Done {
			break
		}
	}
	if ctx.Err() != nil {
		return
	}

	text := normalizeSpace(out.String())
	s.mem.AppendTgtSegment(text)
	s.cfg.Metrics.TranslateDuration.Record(ctx, time.Since(start).Seconds())
	s.cfg.Metrics.RecordProviderRequest(ctx, "llm", "translate", "ok")
	s.send(ctx, wire.TranslationCommit{Type: wire.TypeTranslationCommit, Text: text})
}
