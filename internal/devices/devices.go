// Package devices talks to the ESP HTTP bridge that fronts the relay board
// and the climate sensor.
//
// The bridge is a tiny embedded web server, so timeouts are short and errors
// are expected operational events rather than bugs: a room whose relay is
// unreachable is reported per-room and the remaining rooms still switch.
package devices

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// connectTimeout and readTimeout bound each bridge call: the ESP answers
	// in well under a second or not at all.
	connectTimeout = 2 * time.Second
	readTimeout    = 5 * time.Second
)

// sensorPaths are tried in order; the first endpoint answering ok=true with
// both readings wins.
var sensorPaths = []string{"/dht", "/sensor"}

// ErrNoSensor is returned when no sensor endpoint produced a valid reading.
var ErrNoSensor = errors.New("devices: no sensor endpoint available")

// RelayResult is the outcome of switching one room.
type RelayResult struct {
	Room string `json:"room"`
	OK   bool   `json:"ok"`
	Err  string `json:"error,omitempty"`
}

// SwitchOutcome aggregates a multi-room relay command.
type SwitchOutcome struct {
	State   string        `json:"state"`
	Results []RelayResult `json:"results"`
}

// AllOK reports whether every room switched successfully.
func (o SwitchOutcome) AllOK() bool {
	for _, r := range o.Results {
		if !r.OK {
			return false
		}
	}
	return true
}

// AnyOK reports whether at least one room switched successfully.
func (o SwitchOutcome) AnyOK() bool {
	for _, r := range o.Results {
		if r.OK {
			return true
		}
	}
	return false
}

// SensorReading is one climate measurement from the bridge.
type SensorReading struct {
	TemperatureC float64 `json:"temperature_c"`
	Humidity     float64 `json:"humidity"`
}

// Client calls the ESP bridge. Safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
}

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client. Primarily for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New creates a Client for the bridge at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Transport: &http.Transport{
				DialContext:           (&net.Dialer{Timeout: connectTimeout}).DialContext,
				ResponseHeaderTimeout: readTimeout,
			},
			Timeout: readTimeout,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// SwitchRoom flips one room's relay to state ("on" or "off").
func (c *Client) SwitchRoom(ctx context.Context, room, state string) error {
	if c.baseURL == "" {
		return errors.New("devices: bridge address not configured")
	}
	u := fmt.Sprintf("%s/relay?room=%s&state=%s", c.baseURL, url.QueryEscape(room), url.QueryEscape(state))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("devices: build relay request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("devices: relay %s: %w", room, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 256))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("devices: relay %s: HTTP %d", room, resp.StatusCode)
	}
	return nil
}

// SwitchRooms flips each room in turn and aggregates per-room outcomes. All
// rooms are attempted even when earlier ones fail.
func (c *Client) SwitchRooms(ctx context.Context, rooms []string, state string) SwitchOutcome {
	out := SwitchOutcome{State: state, Results: make([]RelayResult, 0, len(rooms))}
	for _, room := range rooms {
		r := RelayResult{Room: room, OK: true}
		if err := c.SwitchRoom(ctx, room, state); err != nil {
			r.OK = false
			r.Err = err.Error()
		}
		out.Results = append(out.Results, r)
	}
	return out
}

// ReadSensor queries the sensor endpoints in priority order and returns the
// first valid reading.
func (c *Client) ReadSensor(ctx context.Context) (SensorReading, error) {
	if c.baseURL == "" {
		return SensorReading{}, errors.New("devices: bridge address not configured")
	}
	var lastErr error
	for _, path := range sensorPaths {
		reading, err := c.readSensorPath(ctx, path)
		if err == nil {
			return reading, nil
		}
		lastErr = err
	}
	return SensorReading{}, fmt.Errorf("%w: %w", ErrNoSensor, lastErr)
}

func (c *Client) readSensorPath(ctx context.Context, path string) (SensorReading, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return SensorReading{}, fmt.Errorf("devices: build sensor request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return SensorReading{}, fmt.Errorf("devices: sensor %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return SensorReading{}, fmt.Errorf("devices: sensor %s: HTTP %d", path, resp.StatusCode)
	}

	var body struct {
		OK           bool     `json:"ok"`
		TemperatureC *float64 `json:"temperature_c"`
		Humidity     *float64 `json:"humidity"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return SensorReading{}, fmt.Errorf("devices: sensor %s: parse: %w", path, err)
	}
	if !body.OK || body.TemperatureC == nil || body.Humidity == nil {
		return SensorReading{}, fmt.Errorf("devices: sensor %s: incomplete reading", path)
	}
	return SensorReading{TemperatureC: *body.TemperatureC, Humidity: *body.Humidity}, nil
}
