// Package tts defines the Synthesizer interface for Text-to-Speech backends.
//
// Synthesis is batch-mode: one call per utterance, returning a complete WAV
// file. Streaming delivery to clients (chunking, pacing, prefill) is handled
// downstream by the audio egress layer, which only needs the full clip.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Synthesizer is the abstraction over any batch TTS backend.
type Synthesizer interface {
	// Synthesize renders text as speech and returns a complete WAV file
	// (RIFF container, PCM payload). language is a two-letter code hint;
	// empty lets the engine use its default voice language.
	Synthesize(ctx context.Context, text, language string) ([]byte, error)
}
