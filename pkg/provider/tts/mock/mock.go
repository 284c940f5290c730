// Package mock provides a scripted tts.Synthesizer for tests.
package mock

import (
	"context"
	"sync"

	"github.com/vi-lab/vivoice/pkg/audio"
	"github.com/vi-lab/vivoice/pkg/provider/tts"
)

// Compile-time assertion that Synthesizer satisfies tts.Synthesizer.
var _ tts.Synthesizer = (*Synthesizer)(nil)

// Synthesizer is a canned tts.Synthesizer. Every call returns WAV (or Err
// when set) and is recorded. When WAV is nil, a valid 16 kHz mono clip of
// PCMMillis milliseconds of silence is returned instead. Safe for concurrent
// use.
type Synthesizer struct {
	mu sync.Mutex

	// WAV is the canned reply. Nil means "generate silence".
	WAV []byte

	// PCMMillis sizes the generated silence clip when WAV is nil. Zero means
	// 100 ms.
	PCMMillis int

	// Err, when set, makes every call fail.
	Err error

	// Calls records every synthesis request.
	Calls []Call
}

// Call records one Synthesize invocation.
type Call struct {
	Text     string
	Language string
}

// Synthesize implements tts.Synthesizer.
func (s *Synthesizer) Synthesize(_ context.Context, text, language string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls = append(s.Calls, Call{Text: text, Language: language})
	if s.Err != nil {
		return nil, s.Err
	}
	if s.WAV != nil {
		return s.WAV, nil
	}
	ms := s.PCMMillis
	if ms <= 0 {
		ms = 100
	}
	pcm := audio.Silence(ms, 16000, 1)
	return audio.EncodeWAV(pcm, 16000, 1), nil
}
