// Package whisper provides stt.Transcriber implementations backed by
// Whisper: an HTTP client for a whisper.cpp server's /inference endpoint, and
// a native in-process engine via the whisper.cpp Go bindings.
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/vi-lab/vivoice/pkg/audio"
	"github.com/vi-lab/vivoice/pkg/provider/stt"
)

const (
	defaultServerURL = "http://127.0.0.1:8080"
	inferTimeout     = 60 * time.Second
)

// Compile-time assertion that Server satisfies stt.Transcriber.
var _ stt.Transcriber = (*Server)(nil)

// ServerOption is a functional option for configuring a Server.
type ServerOption func(*Server)

// WithHTTPClient overrides the underlying HTTP client. Primarily for tests.
func WithHTTPClient(hc *http.Client) ServerOption {
	return func(s *Server) { s.http = hc }
}

// Server is an stt.Transcriber talking to a whisper.cpp server over HTTP.
// Safe for concurrent use.
type Server struct {
	url  string
	http *http.Client
}

// NewServer creates a Server client for the whisper.cpp server at serverURL.
// An empty serverURL selects the default local server.
func NewServer(serverURL string, opts ...ServerOption) *Server {
	if serverURL == "" {
		serverURL = defaultServerURL
	}
	s := &Server{
		url:  strings.TrimRight(serverURL, "/"),
		http: &http.Client{Timeout: inferTimeout},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Transcribe implements stt.Transcriber. The PCM buffer is wrapped in a WAV
// container and posted as a multipart form to POST /inference.
func (s *Server) Transcribe(ctx context.Context, pcm []byte, language string) (string, error) {
	wav := audio.EncodeWAV(pcm, 16000, 1)

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", fmt.Errorf("whisper: build form: %w", err)
	}
	if _, err := part.Write(wav); err != nil {
		return "", fmt.Errorf("whisper: write form file: %w", err)
	}
	if language != "" {
		if err := w.WriteField("language", language); err != nil {
			return "", fmt.Errorf("whisper: write form field: %w", err)
		}
	}
	if err := w.WriteField("response_format", "json"); err != nil {
		return "", fmt.Errorf("whisper: write form field: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("whisper: close form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url+"/inference", &body)
	if err != nil {
		return "", fmt.Errorf("whisper: build request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := s.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper: inference: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("whisper: inference: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("whisper: parse response: %w", err)
	}
	return strings.TrimSpace(out.Text), nil
}
