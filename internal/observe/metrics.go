// Package observe provides application-wide observability primitives for
// Earshot: OpenTelemetry metrics, tracing helpers, structured logging, and
// HTTP middleware that ties them together.
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

// meterName is the instrumentation scope name used for all Earshot metrics.
const meterName = "github.com/earshot-ai/earshot"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Histograms ---

	// UtteranceDuration tracks the voiced duration of completed utterances.
	UtteranceDuration metric.Float64Histogram

	// AudioLevel tracks the smoothed loudness level sampled once per
	// analysis tick.
	AudioLevel metric.Float64Histogram

	// --- Counters ---

	// UtterancesCompleted counts utterances flushed to the consumer.
	UtterancesCompleted metric.Int64Counter

	// UtterancesDiscarded counts utterances dropped as noise or by mute.
	UtterancesDiscarded metric.Int64Counter

	// EmptyFlushes counts utterance flushes that produced no audio chunks.
	EmptyFlushes metric.Int64Counter

	// BargeIns counts playback interruptions caused by detected speech.
	BargeIns metric.Int64Counter

	// PlaybackRequests counts playback enqueues. Use with attribute:
	//   attribute.String("status", "completed"|"stopped"|"error")
	PlaybackRequests metric.Int64Counter

	// EncodedChunks counts audio chunks emitted by the active encoder.
	EncodedChunks metric.Int64Counter

	// --- Error counters ---

	// PlaybackErrors counts device-level playback failures.
	PlaybackErrors metric.Int64Counter

	// CaptureErrors counts capture pipeline failures.
	CaptureErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveCaptures tracks the number of open capture streams.
	ActiveCaptures metric.Int64UpDownCounter

	// PlaybackQueueDepth tracks the number of queued playback requests,
	// including the one currently rendering.
	PlaybackQueueDepth metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// utteranceBuckets defines histogram bucket boundaries (in seconds) sized for
// conversational utterance lengths.
var utteranceBuckets = []float64{
	0.3, 0.5, 1, 2, 4, 8, 15, 30, 60,
}

// levelBuckets covers the [0, 1] smoothed loudness range.
var levelBuckets = []float64{
	0.01, 0.02, 0.05, 0.1, 0.2, 0.4, 0.6, 0.8, 1,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.UtteranceDuration, err = m.Float64Histogram("earshot.utterance.duration",
		metric.WithDescription("Voiced duration of completed utterances."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(utteranceBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AudioLevel, err = m.Float64Histogram("earshot.audio.level",
		metric.WithDescription("Smoothed loudness level per analysis tick."),
		metric.WithExplicitBucketBoundaries(levelBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.UtterancesCompleted, err = m.Int64Counter("earshot.utterances.completed",
		metric.WithDescription("Total utterances flushed to the consumer."),
	); err != nil {
		return nil, err
	}
	if met.UtterancesDiscarded, err = m.Int64Counter("earshot.utterances.discarded",
		metric.WithDescription("Total utterances discarded as noise or by mute."),
	); err != nil {
		return nil, err
	}
	if met.EmptyFlushes, err = m.Int64Counter("earshot.utterances.empty_flushes",
		metric.WithDescription("Total utterance flushes that carried no audio."),
	); err != nil {
		return nil, err
	}
	if met.BargeIns, err = m.Int64Counter("earshot.playback.barge_ins",
		metric.WithDescription("Total playback interruptions caused by detected speech."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackRequests, err = m.Int64Counter("earshot.playback.requests",
		metric.WithDescription("Total playback requests by final status."),
	); err != nil {
		return nil, err
	}
	if met.EncodedChunks, err = m.Int64Counter("earshot.encoder.chunks",
		metric.WithDescription("Total audio chunks emitted by the active encoder."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.PlaybackErrors, err = m.Int64Counter("earshot.playback.errors",
		metric.WithDescription("Total device-level playback failures."),
	); err != nil {
		return nil, err
	}
	if met.CaptureErrors, err = m.Int64Counter("earshot.capture.errors",
		metric.WithDescription("Total capture pipeline failures."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveCaptures, err = m.Int64UpDownCounter("earshot.active_captures",
		metric.WithDescription("Number of open capture streams."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackQueueDepth, err = m.Int64UpDownCounter("earshot.playback.queue_depth",
		metric.WithDescription("Number of queued playback requests."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("earshot.http.request.duration",
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

// RecordUtterance records a completed utterance with its voiced duration in
// seconds.
func (m *Metrics) RecordUtterance(ctx context.Context, voicedSeconds float64) {
	m.UtterancesCompleted.Add(ctx, 1)
	m.UtteranceDuration.Record(ctx, voicedSeconds)
}

// RecordPlayback records the final status of a playback request.
func (m *Metrics) RecordPlayback(ctx context.Context, status string) {
	m.PlaybackRequests.Add(ctx, 1,
		metric.WithAttributes(Attr("status", status)),
	)
}

// RecordBargeIn records a playback interruption caused by detected speech.
func (m *Metrics) RecordBargeIn(ctx context.Context) {
	m.BargeIns.Add(ctx, 1)
}
