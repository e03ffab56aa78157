package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/AnTengye/escrowdash/config"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := map[string]metricdata.Metrics{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func TestPipelineRecordsMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	metrics, err := NewMetrics(provider.Meter("test"))
	require.NoError(t, err)

	p := NewPipeline(&fakeChain{op: confirmedOp()}, testSubmitConfig(), WithMetrics(metrics))
	_, err = p.Submit(context.Background(), Accept("id-1"))
	require.NoError(t, err)

	got := collect(t, reader)

	submissions, ok := got["escrowdash.submissions.total"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, submissions.DataPoints, 1)
	assert.Equal(t, int64(1), submissions.DataPoints[0].Value)
	outcome, _ := submissions.DataPoints[0].Attributes.Value("outcome")
	assert.Equal(t, outcomeConfirmed, outcome.AsString())

	inFlight, ok := got["escrowdash.operations.in_flight"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, inFlight.DataPoints, 1)
	assert.Zero(t, inFlight.DataPoints[0].Value)

	latency, ok := got["escrowdash.confirmation.duration"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, latency.DataPoints, 1)
	assert.Equal(t, uint64(1), latency.DataPoints[0].Count)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordSubmission(context.Background(), "accept", outcomeConfirmed)
	m.AddInFlight(context.Background(), "accept", 1)
}

func TestSetupTelemetryDisabled(t *testing.T) {
	shutdown, err := SetupTelemetry(context.Background(), &config.TelemetryConfig{})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))

	_, err = NewMetrics(DefaultMeter())
	assert.NoError(t, err)
}
