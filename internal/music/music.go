// Package music resolves a spoken music request to playable audio: it
// searches the Jamendo catalogue, downloads the top-ranked track, and
// transcodes it to the 16 kHz mono PCM16 WAV the audio egress layer speaks.
//
// Transcoding shells out to ffmpeg; there is no robust pure-Go MP3 decoder
// and the target boxes ship ffmpeg anyway.
package music

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	defaultAPIURL  = "https://api.jamendo.com/v3.0"
	searchLimit    = 5
	downloadCap    = 64 << 20 // refuse tracks larger than 64 MiB
	requestTimeout = 30 * time.Second
)

// ErrNoResults is returned when the catalogue has no match for a query.
var ErrNoResults = errors.New("music: no results")

// ErrDisabled is returned when no Jamendo client id is configured.
var ErrDisabled = errors.New("music: search disabled, no client id")

// Track is one catalogue hit.
type Track struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Artist   string `json:"artist_name"`
	AudioURL string `json:"audio"`
}

// Client searches and fetches tracks. Safe for concurrent use.
type Client struct {
	apiURL     string
	clientID   string
	cacheDir   string
	ffmpegPath string
	http       *http.Client

	// fetches collapses concurrent Fetch calls for the same track into one
	// download and ffmpeg run.
	fetches singleflight.Group
}

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithAPIURL overrides the Jamendo API base URL. Primarily for tests.
func WithAPIURL(u string) Option {
	return func(c *Client) { c.apiURL = strings.TrimRight(u, "/") }
}

// WithFFmpeg overrides the ffmpeg binary path.
func WithFFmpeg(path string) Option {
	return func(c *Client) { c.ffmpegPath = path }
}

// WithHTTPClient overrides the underlying HTTP client. Primarily for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New creates a Client. clientID may be empty, which disables searching.
func New(clientID, cacheDir string, opts ...Option) *Client {
	c := &Client{
		apiURL:     defaultAPIURL,
		clientID:   clientID,
		cacheDir:   cacheDir,
		ffmpegPath: "ffmpeg",
		http:       &http.Client{Timeout: requestTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Search returns up to searchLimit catalogue hits for query, best first.
func (c *Client) Search(ctx context.Context, query string) ([]Track, error) {
	if c.clientID == "" {
		return nil, ErrDisabled
	}
	params := url.Values{}
	params.Set("client_id", c.clientID)
	params.Set("format", "json")
	params.Set("limit", fmt.Sprint(searchLimit))
	params.Set("search", query)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+"/tracks/?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("music: build search request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("music: search: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("music: search: HTTP %d", resp.StatusCode)
	}

	var body struct {
		Results []Track `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("music: parse search response: %w", err)
	}
	if len(body.Results) == 0 {
		return nil, fmt.Errorf("%w for %q", ErrNoResults, query)
	}
	return body.Results, nil
}

// Fetch downloads a track's audio and transcodes it to 16 kHz mono PCM16
// WAV, returning the WAV bytes. Both the raw download and the transcoded file
// are cached by track id, so repeated requests for the same track cost one
// ffmpeg run total.
func (c *Client) Fetch(ctx context.Context, track Track) ([]byte, error) {
	if track.AudioURL == "" {
		return nil, errors.New("music: track has no audio URL")
	}
	if err := os.MkdirAll(c.cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("music: create cache dir: %w", err)
	}

	key := track.ID
	if key == "" {
		sum := sha256.Sum256([]byte(track.AudioURL))
		key = hex.EncodeToString(sum[:8])
	}
	wavPath := filepath.Join(c.cacheDir, key+".wav")
	if data, err := os.ReadFile(wavPath); err == nil {
		return data, nil
	}

	v, err, _ := c.fetches.Do(key, func() (any, error) {
		// A concurrent caller may have finished the same track already.
		if data, err := os.ReadFile(wavPath); err == nil {
			return data, nil
		}
		rawPath := filepath.Join(c.cacheDir, key+".audio")
		if _, err := os.Stat(rawPath); err != nil {
			if err := c.download(ctx, track.AudioURL, rawPath); err != nil {
				return nil, err
			}
		}
		if err := c.transcode(ctx, rawPath, wavPath); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(wavPath)
		if err != nil {
			return nil, fmt.Errorf("music: read transcoded wav: %w", err)
		}
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (c *Client) download(ctx context.Context, audioURL, dst string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, audioURL, nil)
	if err != nil {
		return fmt.Errorf("music: build download request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("music: download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("music: download: HTTP %d", resp.StatusCode)
	}

	tmp := dst + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("music: create download file: %w", err)
	}
	_, err = io.Copy(f, io.LimitReader(resp.Body, downloadCap))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return fmt.Errorf("music: write download: %w", err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("music: finalize download: %w", err)
	}
	return nil
}

// transcode runs ffmpeg to produce 16 kHz mono signed 16-bit WAV.
func (c *Client) transcode(ctx context.Context, src, dst string) error {
	cmd := exec.CommandContext(ctx, c.ffmpegPath,
		"-y", "-i", src,
		"-ar", "16000",
		"-ac", "1",
		"-sample_fmt", "s16",
		"-f", "wav",
		dst,
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		os.Remove(dst)
		tail := string(out)
		if len(tail) > 400 {
			tail = tail[len(tail)-400:]
		}
		return fmt.Errorf("music: ffmpeg transcode: %w: %s", err, strings.TrimSpace(tail))
	}
	return nil
}
