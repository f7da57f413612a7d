package observe

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

func TestNewMetrics(t *testing.T) {
	t.Parallel()

	mp := sdkmetric.NewMeterProvider()
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	// Exercise every recording path once; none should panic.
	ctx := context.Background()
	m.RecordTurn(ctx, "warden", "complete", 1.2)
	m.RecordLLMDuration(ctx, 0.8)
	m.RecordDedupDrop(ctx)
	m.RecordCooldownRejection(ctx)
	m.RecordToolCall(ctx, "give_item", "ok", 0.05)
	m.RecordProviderError(ctx, "stt")
	m.PipelineStarted(ctx)
	m.PipelineEnded(ctx)
}

func TestNilMetricsAreNoOps(t *testing.T) {
	t.Parallel()

	var m *Metrics
	ctx := context.Background()
	m.RecordTurn(ctx, "warden", "failed", 0)
	m.RecordLLMDuration(ctx, 0)
	m.RecordDedupDrop(ctx)
	m.RecordCooldownRejection(ctx)
	m.RecordToolCall(ctx, "x", "error", 0)
	m.RecordProviderError(ctx, "llm")
	m.PipelineStarted(ctx)
	m.PipelineEnded(ctx)
}
