package session

import (
	"context"
	"time"

	"github.com/vi-lab/vivoice/pkg/audio"
	"github.com/vi-lab/vivoice/pkg/provider/stt"
)

// cumulativeStreamer buffers PCM16 mono 16 kHz audio and periodically asks
// the STT engine for one transcript of the whole buffer. The buffer keeps only
// the most recent tail so a long utterance cannot grow transcription latency
// without bound.
type cumulativeStreamer struct {
	engine      stt.Transcriber
	language    string
	minInterval time.Duration
	maxBytes    int

	buf      []byte
	lastPass time.Time
}

func newCumulativeStreamer(engine stt.Transcriber, language string, minInterval, tailCap time.Duration) *cumulativeStreamer {
	maxBytes := int(tailCap.Seconds() * 16000 * 2)
	return &cumulativeStreamer{
		engine:      engine,
		language:    language,
		minInterval: minInterval,
		maxBytes:    audio.AlignToSamples(maxBytes),
	}
}

// push appends pcm to the buffer, dropping the oldest audio beyond the tail
// cap. The cut stays sample-aligned.
func (s *cumulativeStreamer) push(pcm []byte) {
	s.buf = append(s.buf, pcm...)
	if len(s.buf) > s.maxBytes {
		cut := audio.AlignToSamples(len(s.buf) - s.maxBytes)
		s.buf = s.buf[cut:]
	}
}

// ready reports whether enough time has passed since the last pass and there
// is audio to transcribe.
func (s *cumulativeStreamer) ready() bool {
	return len(s.buf) > 0 && time.Since(s.lastPass) >= s.minInterval
}

// transcribe runs one cumulative STT pass over the current buffer.
func (s *cumulativeStreamer) transcribe(ctx context.Context) (string, error) {
	s.lastPass = time.Now()
	return s.engine.Transcribe(ctx, s.buf, s.language)
}
