package assist

import (
	"context"
	"strings"

	"github.com/vi-lab/vivoice/internal/history"
	"github.com/vi-lab/vivoice/internal/wire"
	"github.com/vi-lab/vivoice/pkg/provider/stt"
)

// RespondOnce runs a single transcribe and respond cycle outside a socket,
// returning the same result frame the socket path produces. Used by the batch
// upload endpoint; no audio is synthesized. hist may be nil.
func RespondOnce(ctx context.Context, tr stt.Transcriber, r *Responder, hist *history.Store, pcm []byte, language string) wire.Result {
	if len(pcm) == 0 {
		return wire.Result{Type: wire.TypeResult, Error: wire.ErrEmptyAudio}
	}

	text, err := tr.Transcribe(ctx, pcm, language)
	if err != nil {
		return wire.Result{Type: wire.TypeResult, Error: wire.ErrSTTFail}
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return wire.Result{Type: wire.TypeResult, Error: wire.ErrSTTFail}
	}

	var turns []history.Turn
	if hist != nil {
		turns = hist.Tail(maxHistoryTurns)
	}
	outcome := r.Respond(ctx, text, turns)
	result := buildResult(text, outcome)
	if hist != nil && result.OK && outcome.Reply != "" {
		// Batch uploads share the assistant's conversational memory.
		_ = hist.Append(text, outcome.Reply)
	}
	return result
}
