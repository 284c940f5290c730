// This file contains the Native implementation backed by the whisper.cpp CGO
// bindings. The whisper.cpp static library (libwhisper.a) and headers
// (whisper.h) must be available at link time via LIBRARY_PATH and
// C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/vi-lab/vivoice/pkg/provider/stt"
)

// Compile-time assertion that Native satisfies stt.Transcriber.
var _ stt.Transcriber = (*Native)(nil)

// models caches loaded whisper models by file path so concurrent sessions
// share one in-memory copy. Construction is serialized: loading a multi-GB
// model twice because two sessions raced is the failure mode this prevents.
var models = struct {
	sync.Mutex
	byPath map[string]whisperlib.Model
}{byPath: make(map[string]whisperlib.Model)}

func loadModel(modelPath string) (whisperlib.Model, error) {
	models.Lock()
	defer models.Unlock()
	if m, ok := models.byPath[modelPath]; ok {
		return m, nil
	}
	m, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	models.byPath[modelPath] = m
	return m, nil
}

// Native is an stt.Transcriber running whisper.cpp in-process, eliminating
// HTTP overhead entirely. The model is loaded once per path and shared across
// all sessions; each Transcribe call uses its own whisper context, so the
// engine is safe for concurrent use.
type Native struct {
	model whisperlib.Model
}

// NewNative creates a Native engine for the whisper.cpp model at modelPath.
// Repeated calls with the same path reuse the already-loaded model.
func NewNative(modelPath string) (*Native, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := loadModel(modelPath)
	if err != nil {
		return nil, err
	}
	return &Native{model: model}, nil
}

// Transcribe implements stt.Transcriber.
func (n *Native) Transcribe(ctx context.Context, pcm []byte, language string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	samples := pcmToFloat32(pcm)

	// Each context is NOT thread-safe, but the model can be shared across
	// goroutines.
	wctx, err := n.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}
	if language != "" {
		if err := wctx.SetLanguage(language); err != nil {
			slog.Warn("whisper: failed to set language, using default", "language", language, "error", err)
		}
	}
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}

	var sb strings.Builder
	for {
		seg, err := wctx.NextSegment()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(strings.TrimSpace(seg.Text))
	}
	return strings.TrimSpace(sb.String()), nil
}
