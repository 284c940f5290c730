// Package observe provides application-wide observability primitives for
// vivoice: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all vivoice metrics.
const meterName = "github.com/vi-lab/vivoice"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// STTDuration tracks one cumulative speech-to-text pass.
	STTDuration metric.Float64Histogram

	// TranslateDuration tracks one streamed segment translation, first token
	// to commit.
	TranslateDuration metric.Float64Histogram

	// SummaryDuration tracks one rolling-summary refresh.
	SummaryDuration metric.Float64Histogram

	// TTSDuration tracks one text-to-speech synthesis call.
	TTSDuration metric.Float64Histogram

	// FinalizeDuration tracks session finalization, stop request to
	// final.result.
	FinalizeDuration metric.Float64Histogram

	// --- Counters ---

	// Commits counts committed source segments. Use with attribute:
	//   attribute.String("kind", "punctuation"|"pause"|"final")
	Commits metric.Int64Counter

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// DeviceCommands counts relay/sensor commands. Use with attributes:
	//   attribute.String("action", ...), attribute.String("status", ...)
	DeviceCommands metric.Int64Counter

	// AudioChunksDropped counts ingress chunks discarded because the session
	// queue was full.
	AudioChunksDropped metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live translation sessions.
	ActiveSessions metric.Int64UpDownCounter

	// ActiveChatSessions tracks the number of live chat sockets.
	ActiveChatSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.STTDuration, err = m.Float64Histogram("vivoice.stt.duration",
		metric.WithDescription("Latency of one cumulative speech-to-text pass."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TranslateDuration, err = m.Float64Histogram("vivoice.translate.duration",
		metric.WithDescription("Latency of one streamed segment translation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SummaryDuration, err = m.Float64Histogram("vivoice.summary.duration",
		metric.WithDescription("Latency of one rolling-summary refresh."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("vivoice.tts.duration",
		metric.WithDescription("Latency of text-to-speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.FinalizeDuration, err = m.Float64Histogram("vivoice.finalize.duration",
		metric.WithDescription("Latency from stop request to final.result."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Commits, err = m.Int64Counter("vivoice.commits",
		metric.WithDescription("Total committed source segments by kind."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("vivoice.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.DeviceCommands, err = m.Int64Counter("vivoice.device.commands",
		metric.WithDescription("Total relay and sensor commands by action and status."),
	); err != nil {
		return nil, err
	}
	if met.AudioChunksDropped, err = m.Int64Counter("vivoice.audio.chunks_dropped",
		metric.WithDescription("Ingress audio chunks discarded because the session queue was full."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("vivoice.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("vivoice.active_sessions",
		metric.WithDescription("Number of live translation sessions."),
	); err != nil {
		return nil, err
	}
	if met.ActiveChatSessions, err = m.Int64UpDownCounter("vivoice.active_chat_sessions",
		metric.WithDescription("Number of live chat sockets."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("vivoice.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordCommit is a convenience method that records one committed segment.
func (m *Metrics) RecordCommit(ctx context.Context, kind string) {
	m.Commits.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordDeviceCommand is a convenience method that records one relay or
// sensor command.
func (m *Metrics) RecordDeviceCommand(ctx context.Context, action, status string) {
	m.DeviceCommands.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("action", action),
			attribute.String("status", status),
		),
	)
}
