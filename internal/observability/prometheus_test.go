package observability

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusRecorderCountsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := NewPrometheusRecorder(reg, "test")
	require.NoError(t, err)

	rec.Observe(context.Background(), "consumables.submit", true, 20*time.Millisecond)
	rec.Observe(context.Background(), "consumables.submit", false, 5*time.Millisecond)
	rec.Observe(context.Background(), "consumables.submit", true, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(rec.results.WithLabelValues("consumables.submit", resultSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.results.WithLabelValues("consumables.submit", resultError)))
	assert.Equal(t, 1, testutil.CollectAndCount(rec.durations))
}

func TestPrometheusRecorderSharesRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewPrometheusRecorder(reg, "")
	require.NoError(t, err)
	second, err := NewPrometheusRecorder(reg, "")
	require.NoError(t, err)

	first.Observe(context.Background(), "core.list", true, time.Millisecond)
	second.Observe(context.Background(), "core.list", true, time.Millisecond)
	assert.Equal(t, 2.0, testutil.ToFloat64(second.results.WithLabelValues("core.list", resultSuccess)))
}
