// Package observe provides application-wide observability primitives for
// Parley: OpenTelemetry metrics and the SDK provider setup that bridges them
// to a Prometheus /metrics endpoint.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A package-level
// default [Metrics] instance ([DefaultMetrics]) is provided for convenience;
// tests should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Parley metrics.
const meterName = "github.com/hollowmere/parley"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation. A nil *Metrics is valid: every recording method
// becomes a no-op.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// TurnDuration tracks the full turn lifecycle from utterance to
	// generation end.
	TurnDuration metric.Float64Histogram

	// LLMDuration tracks LLM streaming latency per turn.
	LLMDuration metric.Float64Histogram

	// ToolExecutionDuration tracks tool execution latency.
	ToolExecutionDuration metric.Float64Histogram

	// --- Counters ---

	// Turns counts completed turns. Use with attributes:
	//   attribute.String("npc_id", ...), attribute.String("outcome", ...)
	Turns metric.Int64Counter

	// DedupDrops counts utterances discarded by the deduplication window.
	DedupDrops metric.Int64Counter

	// CooldownRejections counts connection attempts rejected by the
	// cooldown gate.
	CooldownRejections metric.Int64Counter

	// ToolCalls counts tool invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attribute:
	//   attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActivePipelines tracks the number of live conversation pipelines.
	ActivePipelines metric.Int64UpDownCounter
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

	if met.TurnDuration, err = m.Float64Histogram("parley.turn.duration",
		metric.WithDescription("Full turn latency from utterance to generation end."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("parley.llm.duration",
		metric.WithDescription("LLM streaming latency per turn."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ToolExecutionDuration, err = m.Float64Histogram("parley.tool_execution.duration",
		metric.WithDescription("Latency of tool execution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.Turns, err = m.Int64Counter("parley.turns",
		metric.WithDescription("Completed turns by NPC ID and outcome."),
	); err != nil {
		return nil, err
	}
	if met.DedupDrops, err = m.Int64Counter("parley.dedup.drops",
		metric.WithDescription("Utterances discarded by the deduplication window."),
	); err != nil {
		return nil, err
	}
	if met.CooldownRejections, err = m.Int64Counter("parley.cooldown.rejections",
		metric.WithDescription("Connection attempts rejected by the cooldown gate."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("parley.tool.calls",
		metric.WithDescription("Total tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("parley.provider.errors",
		metric.WithDescription("Provider errors by kind."),
	); err != nil {
		return nil, err
	}

	if met.ActivePipelines, err = m.Int64UpDownCounter("parley.active_pipelines",
		metric.WithDescription("Number of live conversation pipelines."),
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

// RecordTurn records a completed turn with its duration and outcome
// ("complete", "aborted", or "failed").
func (m *Metrics) RecordTurn(ctx context.Context, npcID, outcome string, seconds float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("npc_id", npcID),
		attribute.String("outcome", outcome),
	)
	m.Turns.Add(ctx, 1, attrs)
	m.TurnDuration.Record(ctx, seconds, attrs)
}

// RecordLLMDuration records the LLM streaming latency of one turn.
func (m *Metrics) RecordLLMDuration(ctx context.Context, seconds float64) {
	if m == nil {
		return
	}
	m.LLMDuration.Record(ctx, seconds)
}

// RecordDedupDrop records one utterance discarded as a duplicate.
func (m *Metrics) RecordDedupDrop(ctx context.Context) {
	if m == nil {
		return
	}
	m.DedupDrops.Add(ctx, 1)
}

// RecordCooldownRejection records one connection rejected by the cooldown
// gate.
func (m *Metrics) RecordCooldownRejection(ctx context.Context) {
	if m == nil {
		return
	}
	m.CooldownRejections.Add(ctx, 1)
}

// RecordToolCall records a tool invocation with its status ("ok" or "error")
// and execution latency.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string, seconds float64) {
	if m == nil {
		return
	}
	m.ToolCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("status", status),
	))
	m.ToolExecutionDuration.Record(ctx, seconds)
}

// RecordProviderError records a provider error by kind ("stt", "tts", "llm").
func (m *Metrics) RecordProviderError(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// PipelineStarted increments the active-pipeline gauge.
func (m *Metrics) PipelineStarted(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActivePipelines.Add(ctx, 1)
}

// PipelineEnded decrements the active-pipeline gauge.
func (m *Metrics) PipelineEnded(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActivePipelines.Add(ctx, -1)
}
