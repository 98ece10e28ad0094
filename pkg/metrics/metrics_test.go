package metrics_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/veritas/pkg/metrics"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(metrics.MetricsConfig{Namespace: "test", Registry: reg})

	m.ObserveQuery(metrics.OutcomeAnswered, 120*time.Millisecond)
	m.ObserveQuery(metrics.OutcomeCached, time.Millisecond)
	m.ObserveQuery(metrics.OutcomeCached, time.Millisecond)
	m.ProviderRetry()
	m.ObserveRetrieval(3, 2)
	m.CacheError("set")
	m.DocumentIndexed(7)
	m.DocumentRemoved()

	families, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["test_chat_queries_total"])
	assert.True(t, names["test_ingested_chunks_total"])

	count, err := testutil.GatherAndCount(reg, "test_chat_queries_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = testutil.GatherAndCount(reg, "test_provider_retries_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *metrics.Metrics
	assert.NotPanics(t, func() {
		m.ObserveQuery(metrics.OutcomeFailed, time.Second)
		m.ProviderRetry()
		m.ObserveRetrieval(1, 0)
		m.CacheError("get")
		m.DocumentIndexed(1)
		m.DocumentRemoved()
	})
}
