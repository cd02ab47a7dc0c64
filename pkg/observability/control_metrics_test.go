package observability_test

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/Sumatoshi-tech/maxe/pkg/observability"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()

	var rm metricdata.ResourceMetrics

	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Metrics)

	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}

	return out
}

func TestControlMetrics_Records(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	cm, err := observability.NewControlMetrics(mp.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()

	cm.RecordRequest(ctx, "break", 2)
	cm.RecordRequest(ctx, "dump", 1)
	cm.RecordRequest(ctx, "dump", 0)
	cm.RecordEscalation(ctx)
	cm.RecordBarrierWait(ctx, 3*time.Millisecond)
	cm.RecordCheckpoint(ctx, true, time.Second)
	cm.RecordCheckpoint(ctx, false, time.Second)
	cm.RecordCheckpointSize(ctx, 4096)
	cm.RecordUnits(ctx, 5)
	cm.RecordGeneration(ctx, 12)

	got := collect(t, reader)

	requests, ok := got["maxe.control.requests.total"].Data.(metricdata.Sum[int64])
	require.True(t, ok)

	var total int64
	for _, dp := range requests.DataPoints {
		total += dp.Value
	}

	assert.Equal(t, int64(3), total)
	assert.Len(t, requests.DataPoints, 2)

	checkpoints, ok := got["maxe.checkpoint.writes.total"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	assert.Len(t, checkpoints.DataPoints, 2)

	gen, ok := got["maxe.search.generation"].Data.(metricdata.Gauge[int64])
	require.True(t, ok)
	require.Len(t, gen.DataPoints, 1)
	assert.Equal(t, int64(12), gen.DataPoints[0].Value)
}

func TestControlMetrics_NilSafe(t *testing.T) {
	t.Parallel()

	var cm *observability.ControlMetrics

	ctx := context.Background()

	assert.NotPanics(t, func() {
		cm.RecordRequest(ctx, "dump", 1)
		cm.RecordEscalation(ctx)
		cm.RecordBarrierWait(ctx, time.Second)
		cm.RecordCheckpoint(ctx, true, time.Second)
		cm.RecordCheckpointSize(ctx, 1)
		cm.RecordUnits(ctx, 1)
		cm.RecordGeneration(ctx, 1)
	})
}

func TestInit_PrometheusHandlerServesInstruments(t *testing.T) {
	cfg := observability.DefaultConfig()
	cfg.Prometheus = true
	cfg.LogJSON = true

	var logs bytes.Buffer

	providers, err := observability.InitWithWriter(cfg, &logs)
	require.NoError(t, err)

	t.Cleanup(func() { assert.NoError(t, providers.Shutdown(context.Background())) })

	require.NotNil(t, providers.MetricsHandler)

	cm, err := observability.NewControlMetrics(providers.Meter)
	require.NoError(t, err)

	cm.RecordUnits(context.Background(), 7)

	rec := httptest.NewRecorder()
	providers.MetricsHandler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "maxe_search_units")

	providers.Logger.Info("ready")
	assert.Contains(t, logs.String(), `"service":"maxe"`)
}

func TestInit_NoopWithoutExporters(t *testing.T) {
	providers, err := observability.InitWithWriter(observability.DefaultConfig(), io.Discard)
	require.NoError(t, err)

	assert.Nil(t, providers.MetricsHandler)
	assert.NotNil(t, providers.Tracer)
	require.NoError(t, providers.Shutdown(context.Background()))
}
