// Package observe provides application-wide observability primitives for
// voxgated: OpenTelemetry metrics, distributed tracing, structured logging,
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

// meterName is the instrumentation scope name used for all voxgated metrics.
const meterName = "github.com/voxgate/voxgate"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// STTDuration tracks speech-to-text transcription latency.
	STTDuration metric.Float64Histogram

	// LLMDuration tracks LLM inference latency.
	LLMDuration metric.Float64Histogram

	// TTSDuration tracks text-to-speech synthesis latency.
	TTSDuration metric.Float64Histogram

	// TimeToFirstAudioByte is the histogram for the latency from a turn's
	// final transcript to the first synthesized audio byte reaching the sink
	// (spec scenario 6's TTFB measurement). It is registered here; no caller
	// in this module records to it.
	TimeToFirstAudioByte metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// SecondSpeakerIgnored counts the times a session ignored a second
	// concurrent speaker while one utterance was already locked
	// (second_speaker_ignored_total, spec scenario 6).
	SecondSpeakerIgnored metric.Int64Counter

	// LLMFallbackUsed counts the times [resilience.LLMFallback] served a
	// response from its secondary backend (llm_fallback_used, spec
	// scenario 6).
	LLMFallbackUsed metric.Int64Counter

	// TTSUnitsSkipped counts synthesis units dropped by the response
	// pipeline's skip or exhausted-retry error policy.
	TTSUnitsSkipped metric.Int64Counter

	// TTSUnitsRetried counts synthesis unit retry attempts made by the
	// response pipeline's retry error policy.
	TTSUnitsRetried metric.Int64Counter

	// TurnsInterrupted counts turns cut short by a new utterance per
	// interruption_strategy. Use with attribute.String("policy", ...).
	TurnsInterrupted metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live voice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// ActiveParticipants tracks the number of connected participants across
	// all sessions.
	ActiveParticipants metric.Int64UpDownCounter

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
	if met.STTDuration, err = m.Float64Histogram("voxgate.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("voxgate.llm.duration",
		metric.WithDescription("Latency of LLM inference."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("voxgate.tts.duration",
		metric.WithDescription("Latency of text-to-speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TimeToFirstAudioByte, err = m.Float64Histogram("voxgate.ttfb",
		metric.WithDescription("Latency from a turn's final transcript to the first synthesized audio byte."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("voxgate.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("voxgate.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.SecondSpeakerIgnored, err = m.Int64Counter("voxgate.second_speaker_ignored_total",
		metric.WithDescription("Total times a second concurrent speaker was ignored while a session's utterance was locked."),
	); err != nil {
		return nil, err
	}
	if met.LLMFallbackUsed, err = m.Int64Counter("voxgate.llm_fallback_used",
		metric.WithDescription("Total times a turn was served by the secondary LLM backend."),
	); err != nil {
		return nil, err
	}
	if met.TTSUnitsSkipped, err = m.Int64Counter("voxgate.tts.units_skipped",
		metric.WithDescription("Total synthesis units dropped by the response pipeline's error policy."),
	); err != nil {
		return nil, err
	}
	if met.TTSUnitsRetried, err = m.Int64Counter("voxgate.tts.units_retried",
		metric.WithDescription("Total synthesis unit retry attempts."),
	); err != nil {
		return nil, err
	}
	if met.TurnsInterrupted, err = m.Int64Counter("voxgate.turns_interrupted",
		metric.WithDescription("Total turns cut short by a new utterance, by interruption policy."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("voxgate.active_sessions",
		metric.WithDescription("Number of live voice sessions."),
	); err != nil {
		return nil, err
	}
	if met.ActiveParticipants, err = m.Int64UpDownCounter("voxgate.active_participants",
		metric.WithDescription("Number of connected participants across all sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxgate.http.request.duration",
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

// RecordSecondSpeakerIgnored is a convenience method for the
// second_speaker_ignored_total counter.
func (m *Metrics) RecordSecondSpeakerIgnored(ctx context.Context) {
	m.SecondSpeakerIgnored.Add(ctx, 1)
}

// RecordLLMFallbackUsed is a convenience method for the llm_fallback_used
// counter.
func (m *Metrics) RecordLLMFallbackUsed(ctx context.Context) {
	m.LLMFallbackUsed.Add(ctx, 1)
}

// RecordTurnInterrupted is a convenience method that records an interrupted
// turn with its interruption policy as an attribute.
func (m *Metrics) RecordTurnInterrupted(ctx context.Context, policy string) {
	m.TurnsInterrupted.Add(ctx, 1, metric.WithAttributes(attribute.String("policy", policy)))
}
