package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	totals := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				totals[m.Name] += dp.Value
			}
		}
	}
	return totals
}

func TestMetricsRecord(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()
	m.ChallengeIssued(ctx, "daily")
	m.ChallengeIssued(ctx, "suggested")
	m.ResponseTransition(ctx, "pending")
	m.ValidationRequested(ctx)
	m.JobRun(ctx, "expire", nil)
	m.JobRun(ctx, "expire", errors.New("boom"))

	totals := collect(t, reader)
	assert.Equal(t, int64(2), totals["accountably.challenges.issued"])
	assert.Equal(t, int64(1), totals["accountably.responses.transitions"])
	assert.Equal(t, int64(1), totals["accountably.validations.requested"])
	assert.Equal(t, int64(2), totals["accountably.jobs.runs"])
}

func TestInitDisabled(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{}, "accountably")
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))

	Noop().JobRun(context.Background(), "issue", nil)
}
