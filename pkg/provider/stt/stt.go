// Package stt defines the Transcriber interface for Speech-to-Text backends.
//
// The engines used here are batch engines: callers hand over a complete PCM
// buffer and receive the engine's current best-effort transcription of the
// whole buffer (a cumulative transcript, not an incremental delta). Streaming
// behaviour is built on top by the session pipelines, which re-transcribe a
// growing buffer on a fixed cadence.
//
// Implementations must be safe for concurrent use.
package stt

import "context"

// Transcriber is the abstraction over any batch STT backend.
type Transcriber interface {
	// Transcribe returns the transcription of pcm, raw 16-bit little-endian
	// signed mono PCM at 16 kHz. language is a two-letter code hint (e.g.,
	// "en", "vi", "zh"); empty lets the engine auto-detect where supported.
	Transcribe(ctx context.Context, pcm []byte, language string) (string, error)
}
