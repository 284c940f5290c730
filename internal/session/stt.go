package session

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/vi-lab/vivoice/internal/wire"
)

// terminalPunct are the runes that end a committable sentence.
const terminalPunct = ".!?。！？"

// audioPollTimeout bounds how long the STT worker waits for a frame before
// re-checking readiness and lifecycle flags.
const audioPollTimeout = 250 * time.Millisecond

// runSTT is Line 1: it drains the audio queue into the cumulative streamer,
// periodically asks the engine for a fresh cumulative transcript, and feeds
// the result through draft emission and punctuation commits. Transient STT
// errors are reported and skipped. The worker exits once stopping is set and
// a final pass has run.
func (s *Session) runSTT(ctx context.Context) {
	streamer := newCumulativeStreamer(s.cfg.STT, s.mem.Snapshot().STTLang, s.cfg.STTInterval, s.cfg.STTTailCap)
	timer := time.NewTimer(audioPollTimeout)
	defer timer.Stop()

	for {
		if s.mem.Stopped() {
			return
		}

		timer.Reset(audioPollTimeout)
		select {
		case pcm := <-s.audioCh:
			streamer.push(pcm)
		case <-timer.C:
		case <-ctx.Done():
			return
		}

		// Drain whatever else queued up while we were transcribing.
		for {
			select {
			case pcm := <-s.audioCh:
				streamer.push(pcm)
				continue
			default:
			}
			break
		}

		stopping := s.mem.Stopping()
		if streamer.ready() || (stopping && len(streamer.buf) > 0) {
			start := time.Now()
			full, err := streamer.transcribe(ctx)
			s.cfg.Metrics.STTDuration.Record(ctx, time.Since(start).Seconds())
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				s.cfg.Metrics.RecordProviderError(ctx, "stt", "cumulative")
				s.sendError(ctx, wire.ErrSTTFail, err.Error())
				continue
			}
			s.cfg.Metrics.RecordProviderRequest(ctx, "stt", "cumulative", "ok")
			s.onCumulative(ctx, full)
		}

		if stopping {
			return
		}
	}
}

// onCumulative applies one cumulative transcript: update memory, emit the
// draft, and commit up to the last terminal punctuation mark.
func (s *Session) onCumulative(ctx context.Context, full string) {
	if strings.TrimSpace(full) == "" {
		return
	}
	if !s.mem.SetCumulative(full) {
		return
	}

	draft := s.mem.Draft()
	s.send(ctx, wire.STTDelta{Type: wire.TypeSTTDelta, Text: strings.TrimSpace(draft)})

	end := lastTerminalEnd(draft)
	if end <= 0 {
		return
	}
	commit := draft[:end]
	if utf8.RuneCountInString(normalizeSpace(commit)) < s.cfg.MinCommitChars {
		return
	}
	s.mem.AdvanceCursor(end)
	if s.routeCommit(ctx, commit, "punctuation", false) {
		s.send(ctx, wire.STTDelta{Type: wire.TypeSTTDelta, Text: strings.TrimSpace(s.mem.Draft())})
	}
}

// lastTerminalEnd returns the byte offset just past the last terminal
// punctuation rune in s, or 0 when there is none.
func lastTerminalEnd(s string) int {
	end := 0
	for i, r := range s {
		if strings.ContainsRune(terminalPunct, r) {
			end = i + utf8.RuneLen(r)
		}
	}
	return end
}
