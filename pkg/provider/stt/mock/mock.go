// Package mock provides a scripted stt.Transcriber for tests.
package mock

import (
	"context"
	"sync"

	"github.com/vi-lab/vivoice/pkg/provider/stt"
)

// Compile-time assertion that Transcriber satisfies stt.Transcriber.
var _ stt.Transcriber = (*Transcriber)(nil)

// Transcriber is a scripted stt.Transcriber. Each Transcribe call consumes
// the next entry of Script; when the script is exhausted the last entry (or
// Text) is repeated. Safe for concurrent use.
type Transcriber struct {
	mu sync.Mutex

	// Script is the sequence of cumulative transcripts to return, in order.
	Script []string

	// Text is the fallback transcript when Script is empty.
	Text string

	// Err, when set, makes every call fail.
	Err error

	// Calls records the PCM length and language of every call.
	Calls []Call

	idx int
}

// Call records one Transcribe invocation.
type Call struct {
	PCMBytes int
	Language string
}

// Transcribe implements stt.Transcriber.
func (t *Transcriber) Transcribe(_ context.Context, pcm []byte, language string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Calls = append(t.Calls, Call{PCMBytes: len(pcm), Language: language})
	if t.Err != nil {
		return "", t.Err
	}
	if len(t.Script) == 0 {
		return t.Text, nil
	}
	if t.idx >= len(t.Script) {
		return t.Script[len(t.Script)-1], nil
	}
	out := t.Script[t.idx]
	t.idx++
	return out, nil
}
