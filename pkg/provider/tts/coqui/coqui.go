// Package coqui provides a tts.Synthesizer that connects to either a Coqui
// XTTS v2 server or a standard Coqui TTS server via its REST API.
//
// Two API modes are supported:
//
//   - APIModeStandard (default): targets the standard Coqui TTS server
//     (ghcr.io/coqui-ai/tts-cpu). Synthesis is performed via GET /api/tts with
//     URL query parameters.
//
//   - APIModeXTTS: targets the Coqui XTTS v2 API server. Synthesis is
//     performed via POST /tts_to_audio/ with a JSON body.
//
// Typical usage (standard server):
//
//	s := coqui.New("http://localhost:5002",
//	    coqui.WithSpeaker("p225"),
//	    coqui.WithTimeout(15*time.Second),
//	)
//	wav, err := s.Synthesize(ctx, "hello", "en")
package coqui

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vi-lab/vivoice/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ tts.Synthesizer = (*Synthesizer)(nil)

const (
	defaultTimeout = 30 * time.Second
	ttsEndpoint    = "/tts_to_audio/"
	apiTTSEndpoint = "/api/tts"
)

// APIMode selects which Coqui server API the synthesizer will target.
type APIMode string

const (
	// APIModeXTTS targets the Coqui XTTS v2 API server (/tts_to_audio/).
	APIModeXTTS APIMode = "xtts"

	// APIModeStandard targets the standard Coqui TTS server (/api/tts).
	// This is the default mode.
	APIModeStandard APIMode = "standard"
)

// Option is a functional option for configuring a Synthesizer.
type Option func(*Synthesizer)

// WithAPIMode selects the server API flavour. Defaults to APIModeStandard.
func WithAPIMode(mode APIMode) Option {
	return func(s *Synthesizer) { s.mode = mode }
}

// WithSpeaker sets the speaker identifier: speaker_id for the standard server,
// speaker_wav reference for XTTS.
func WithSpeaker(speaker string) Option {
	return func(s *Synthesizer) { s.speaker = speaker }
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(s *Synthesizer) { s.http.Timeout = d }
}

// WithHTTPClient overrides the underlying HTTP client. Primarily for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(s *Synthesizer) { s.http = hc }
}

// Synthesizer talks to a Coqui TTS server. Safe for concurrent use.
type Synthesizer struct {
	serverURL string
	mode      APIMode
	speaker   string
	http      *http.Client
}

// New creates a Synthesizer for the Coqui server at serverURL.
func New(serverURL string, opts ...Option) *Synthesizer {
	s := &Synthesizer{
		serverURL: strings.TrimRight(serverURL, "/"),
		mode:      APIModeStandard,
		http:      &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Synthesize implements tts.Synthesizer, returning the server's WAV response
// verbatim.
func (s *Synthesizer) Synthesize(ctx context.Context, text, language string) ([]byte, error) {
	if s.mode == APIModeXTTS {
		return s.synthesizeXTTS(ctx, text, language)
	}
	return s.synthesizeStandard(ctx, text, language)
}

type xttsRequest struct {
	Text       string `json:"text"`
	SpeakerWav string `json:"speaker_wav,omitempty"`
	Language   string `json:"language,omitempty"`
}

func (s *Synthesizer) synthesizeXTTS(ctx context.Context, text, language string) ([]byte, error) {
	data, err := json.Marshal(xttsRequest{Text: text, SpeakerWav: s.speaker, Language: language})
	if err != nil {
		return nil, fmt.Errorf("coqui: marshal tts request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.serverURL+ttsEndpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("coqui: create tts request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/wav")
	return s.do(req, ttsEndpoint)
}

func (s *Synthesizer) synthesizeStandard(ctx context.Context, text, language string) ([]byte, error) {
	params := url.Values{}
	params.Set("text", text)
	if s.speaker != "" {
		params.Set("speaker_id", s.speaker)
	}
	if language != "" {
		params.Set("language_id", language)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.serverURL+apiTTSEndpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("coqui: create tts request: %w", err)
	}
	req.Header.Set("Accept", "audio/wav")
	return s.do(req, apiTTSEndpoint)
}

func (s *Synthesizer) do(req *http.Request, endpoint string) ([]byte, error) {
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coqui: %s %s: %w", req.Method, endpoint, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coqui: %s %s returned status %d", req.Method, endpoint, resp.StatusCode)
	}
	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("coqui: read WAV response: %w", err)
	}
	return wav, nil
}
