package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/ShayCichocki/tandem/internal/config"
	"github.com/ShayCichocki/tandem/internal/coordinator"
	"github.com/ShayCichocki/tandem/pkg/models"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := map[string]metricdata.Aggregation{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func sum(t *testing.T, data metricdata.Aggregation) int64 {
	t.Helper()
	s, ok := data.(metricdata.Sum[int64])
	require.True(t, ok, "not an int64 sum: %T", data)
	var total int64
	for _, dp := range s.DataPoints {
		total += dp.Value
	}
	return total
}

func count(t *testing.T, data metricdata.Aggregation) uint64 {
	t.Helper()
	h, ok := data.(metricdata.Histogram[float64])
	require.True(t, ok, "not a float64 histogram: %T", data)
	var total uint64
	for _, dp := range h.DataPoints {
		total += dp.Count
	}
	return total
}

func TestRecorder_Observe(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	r, err := NewRecorder(mp)
	require.NoError(t, err)

	ctx := context.Background()
	score := 0.9
	r.Observe(ctx, coordinator.Request{}, &coordinator.Result{
		Tier: models.TierLocal, Success: true, LocalElapsed: time.Second, QualityScore: &score,
	})
	r.Observe(ctx, coordinator.Request{}, &coordinator.Result{
		Tier: models.TierEscalation, Success: true, Escalated: true, Reason: "complex task",
		LocalElapsed: time.Second, EscalationElapsed: 2 * time.Second,
	})
	r.Observe(ctx, coordinator.Request{}, &coordinator.Result{Tier: models.TierLocal})
	r.Observe(ctx, coordinator.Request{}, nil)

	got := collect(t, reader)
	assert.Equal(t, int64(3), sum(t, got["tandem.executions"]))
	assert.Equal(t, int64(1), sum(t, got["tandem.escalations"]))
	assert.Equal(t, int64(1), sum(t, got["tandem.local.successes"]))
	assert.Equal(t, int64(2), sum(t, got["tandem.local.failures"]))
	assert.Equal(t, uint64(3), count(t, got["tandem.local.latency_ms"]))
	assert.Equal(t, uint64(1), count(t, got["tandem.escalation.latency_ms"]))
	assert.Equal(t, uint64(1), count(t, got["tandem.quality.score"]))
}

func TestSetup_Disabled(t *testing.T) {
	mp, shutdown, err := Setup(context.Background(), config.TelemetryConfig{})
	require.NoError(t, err)
	require.NotNil(t, mp)
	assert.NoError(t, shutdown(context.Background()))

	r, err := NewRecorder(mp)
	require.NoError(t, err)
	r.Observe(context.Background(), coordinator.Request{}, &coordinator.Result{Tier: models.TierLocal, Success: true})
}
