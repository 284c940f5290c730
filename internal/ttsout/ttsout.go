// Package ttsout turns reply text into client audio. It wraps the TTS engine
// with WAV header repair and lead-in silence, and implements the paced binary
// chunk stream used by low-bandwidth embedded clients whose playback buffer
// holds well under a second of audio.
package ttsout

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/vi-lab/vivoice/internal/observe"
	"github.com/vi-lab/vivoice/internal/wire"
	"github.com/vi-lab/vivoice/pkg/audio"
	"github.com/vi-lab/vivoice/pkg/provider/tts"
)

const (
	streamSampleRate = 16000
	// bytesPerSecond is PCM16 mono at the stream sample rate.
	bytesPerSecond = streamSampleRate * 2

	defaultChunkBytes = 480
	minChunkBytes     = 320
	defaultPrefill    = 10
	minPaceFactor     = 0.5
	maxPaceFactor     = 1.2
)

// Sink delivers outbound frames: JSON events and raw binary PCM.
type Sink interface {
	Send(ctx context.Context, event any) error
	SendBinary(ctx context.Context, data []byte) error
}

// Options tunes synthesis post-processing and chunk pacing. The zero value
// takes the production defaults.
type Options struct {
	// ChunkBytes is the binary frame size. Clamped to at least 320 bytes and
	// aligned down to a whole 16-bit sample.
	ChunkBytes int
	// PrefillChunks is how many leading frames ship back-to-back before
	// pacing starts, to fill the client's playback buffer.
	PrefillChunks int
	// PaceFactor multiplies the natural chunk duration for the inter-frame
	// sleep. Clamped to [0.5, 1.2]: below real time drains the client buffer,
	// above it overruns.
	PaceFactor float64
	// LeadSilenceMs is prepended to every synthesis so Bluetooth sinks do not
	// clip the first syllable.
	LeadSilenceMs int
	// Filler is spoken before the reply text when set.
	Filler string
}

func (o Options) normalized() Options {
	if o.ChunkBytes <= 0 {
		o.ChunkBytes = defaultChunkBytes
	}
	if o.ChunkBytes < minChunkBytes {
		o.ChunkBytes = minChunkBytes
	}
	o.ChunkBytes = audio.AlignToSamples(o.ChunkBytes)
	if o.PrefillChunks < 0 {
		o.PrefillChunks = 0
	}
	if o.PaceFactor == 0 {
		o.PaceFactor = 1.0
	}
	if o.PaceFactor < minPaceFactor {
		o.PaceFactor = minPaceFactor
	}
	if o.PaceFactor > maxPaceFactor {
		o.PaceFactor = maxPaceFactor
	}
	return o
}

// Streamer synthesizes and emits reply audio. Safe for concurrent use.
type Streamer struct {
	synth   tts.Synthesizer
	opts    Options
	metrics *observe.Metrics
	log     *slog.Logger
}

// New creates a Streamer. A nil logger uses slog.Default.
func New(synth tts.Synthesizer, opts Options, metrics *observe.Metrics, log *slog.Logger) *Streamer {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Streamer{synth: synth, opts: opts.normalized(), metrics: metrics, log: log}
}

// Synthesize converts text to a playback-ready WAV: filler prefix, engine
// synthesis, header repair, and lead-in silence. Empty text yields nil audio
// and no engine call.
func (s *Streamer) Synthesize(ctx context.Context, text, language string) ([]byte, error) {
	full := strings.TrimSpace(strings.TrimSpace(s.opts.Filler) + " " + strings.TrimSpace(text))
	if full == "" {
		return nil, nil
	}

	start := time.Now()
	raw, err := s.synth.Synthesize(ctx, full, language)
	s.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		s.metrics.RecordProviderError(ctx, "tts", "synthesize")
		return nil, fmt.Errorf("ttsout: synthesize: %w", err)
	}
	s.metrics.RecordProviderRequest(ctx, "tts", "synthesize", "ok")

	return audio.AddLeadingSilence(audio.NormalizeWAV(raw), s.opts.LeadSilenceMs), nil
}

// StreamChunks emits wav to sink as a tts_start event, a sequence of paced
// binary PCM16 mono frames, and a tts_end event. cancelled is polled between
// frames; a true result stops the stream early but still emits tts_end. The
// terminal tts_end is sent even on conversion failure so the client's player
// state machine never wedges.
func (s *Streamer) StreamChunks(ctx context.Context, sink Sink, wav []byte, cancelled func() bool) error {
	if len(wav) == 0 {
		return sink.Send(ctx, wire.TTSEnd{Type: wire.TypeTTSEnd})
	}

	pcm, format, err := audio.WAVToPCM16Mono(wav)
	if err != nil {
		if endErr := sink.Send(ctx, wire.TTSEnd{Type: wire.TypeTTSEnd}); endErr != nil {
			return endErr
		}
		return fmt.Errorf("ttsout: convert: %w", err)
	}
	if format.SampleRate != streamSampleRate {
		pcm = audio.ResampleMono16(pcm, format.SampleRate, streamSampleRate)
	}
	if len(pcm) == 0 {
		return sink.Send(ctx, wire.TTSEnd{Type: wire.TypeTTSEnd})
	}

	err = sink.Send(ctx, wire.TTSStart{
		Type:          wire.TypeTTSStart,
		AudioFormat:   "pcm_s16le",
		SampleRate:    streamSampleRate,
		Channels:      1,
		BitsPerSample: 16,
	})
	if err != nil {
		return err
	}

	chunkBytes := s.opts.ChunkBytes
	s.log.Debug("tts stream start",
		"pcm_bytes", len(pcm),
		"chunk_bytes", chunkBytes,
		"prefill", s.opts.PrefillChunks,
		"pace", s.opts.PaceFactor,
	)

	index := 0
	for off := 0; off < len(pcm); off += chunkBytes {
		if cancelled != nil && cancelled() {
			s.log.Debug("tts stream cancelled", "sent_chunks", index)
			break
		}
		end := off + chunkBytes
		if end > len(pcm) {
			end = len(pcm)
		}
		chunk := pcm[off:end]

		sentAt := time.Now()
		if err := sink.SendBinary(ctx, chunk); err != nil {
			return err
		}
		if index >= s.opts.PrefillChunks {
			target := time.Duration(float64(len(chunk)) / bytesPerSecond * s.opts.PaceFactor * float64(time.Second))
			if remain := target - time.Since(sentAt); remain > 0 {
				if !sleepCtx(ctx, remain) {
					break
				}
			}
		}
		index++
	}

	return sink.Send(ctx, wire.TTSEnd{Type: wire.TypeTTSEnd})
}

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
