package session

import (
	"context"
	"strings"
	"time"

	"github.com/vi-lab/vivoice/internal/titles"
	"github.com/vi-lab/vivoice/internal/wire"
	"github.com/vi-lab/vivoice/pkg/provider/llm"
)

// quiescencePoll is the interval at which the finalizer re-checks the commit
// queue and the translating flag.
const quiescencePoll = 25 * time.Millisecond

// finalize runs the stop sequence: settle, flush the remaining draft, wait
// bounded for in-flight translations, re-translate the full source for
// coherence, persist, and emit exactly one final.result. Any failure along
// the way surfaces as one final_translate_fail error; shutdown happens
// regardless.
func (s *Session) finalize(ctx context.Context) {
	defer s.shutdown()

	start := time.Now()
	s.mem.SetStopping()
	s.log.Info("finalizing session")

	// Grace period so an in-flight STT pass can land its last words.
	sleepCtx(ctx, s.cfg.StopGrace)

	s.flushDraft(ctx)
	s.awaitQuiescence(ctx)

	snap := s.mem.Snapshot()
	fullSrc := joinNonEmpty(snap.PersistedSource, strings.Join(snap.SrcSegments, "\n"))

	if fullSrc == "" {
		s.send(ctx, wire.FinalResult{Type: wire.TypeFinalResult, Summary: snap.Summary})
		s.cfg.Metrics.FinalizeDuration.Record(ctx, time.Since(start).Seconds())
		return
	}

	prompt := finalTranslatePrompt(snap.SrcLang, snap.TgtLang, snap.ContextTail, snap.Summary, fullSrc)
	finalTgt, err := s.cfg.LLM.Generate(ctx, llm.GenerateRequest{Prompt: prompt})
	if err != nil {
		s.cfg.Metrics.RecordProviderError(ctx, "llm", "final_translate")
		s.sendError(ctx, wire.ErrFinalTranslateFail, err.Error())
		return
	}
	finalTgt = strings.TrimSpace(finalTgt)
	s.cfg.Metrics.RecordProviderRequest(ctx, "llm", "final_translate", "ok")

	// Source lands before target so a crash between the two leaves a
	// recoverable transcript.
	if err := s.cfg.Titles.SaveTranscript(snap.TitleID, fullSrc, finalTgt); err != nil {
		s.log.Error("transcript persist failed", "title_id", snap.TitleID, "error", err)
		s.sendError(ctx, wire.ErrFinalTranslateFail, "persist failed: "+err.Error())
		return
	}
	s.mem.SetContextTail(titles.ContextTail(fullSrc, finalTgt))

	s.send(ctx, wire.FinalResult{
		Type:    wire.TypeFinalResult,
		Source:  fullSrc,
		Target:  finalTgt,
		Summary: snap.Summary,
	})
	s.cfg.Metrics.FinalizeDuration.Record(ctx, time.Since(start).Seconds())
	s.log.Info("final result sent", "source_len", len(fullSrc), "target_len", len(finalTgt))
}

// awaitQuiescence waits until the commit queue is empty and no translation is
// in flight, capped at the configured ceiling.
func (s *Session) awaitQuiescence(ctx context.Context) {
	deadline := time.Now().Add(s.cfg.QuiescenceWait)
	for time.Now().Before(deadline) {
		if s.commits.empty() && !s.mem.Translating() {
			return
		}
		if !sleepCtx(ctx, quiescencePoll) {
			return
		}
	}
	s.log.Warn("quiescence wait timed out", "ceiling", s.cfg.QuiescenceWait)
}

// sleepCtx sleeps for d or until ctx is done, reporting whether the full
// duration elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func joinNonEmpty(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "\n")
}
