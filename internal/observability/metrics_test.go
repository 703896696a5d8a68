package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dex-trending/internal/storage"
)

type fixedStats storage.Stats

func (f fixedStats) Stats() storage.Stats { return storage.Stats(f) }

func TestMetrics_IndependentRegistries(t *testing.T) {
	// Two instances must not collide on registration.
	m1 := NewMetrics("")
	m2 := NewMetrics("")

	m1.ObserveCacheLookup(true)
	m2.ObserveCacheLookup(false)

	assert.Equal(t, 1.0, testutil.ToFloat64(m1.CacheLookups.WithLabelValues("hit")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m2.CacheLookups.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m2.CacheLookups.WithLabelValues("miss")))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.ObserveCacheLookup(true)
		m.ObserveExtraction("success", 1)
		m.ObserveRejection("missing_name")
		m.ObserveFieldWarning("marketCap")
		m.ObserveTokens(3)
		m.ObserveHTTP("/", "200", 0.01)
		m.RegisterStoreStats(fixedStats{})
	})
	assert.NotNil(t, m.Handler())
}

func TestMetrics_ExtractionCounters(t *testing.T) {
	m := NewMetrics("test")

	m.ObserveExtraction("success", 2.5)
	m.ObserveExtraction("no_valid_rows", 1)
	m.ObserveRejection("missing_name")
	m.ObserveRejection("missing_name")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Extractions.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Extractions.WithLabelValues("no_valid_rows")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RowsRejected.WithLabelValues("missing_name")))
}

func TestMetrics_RegisterStoreStats(t *testing.T) {
	m := NewMetrics("test")
	m.RegisterStoreStats(fixedStats{Hits: 4, Misses: 2, Evictions: 1})

	families, err := m.Registry().Gather()
	require.NoError(t, err)

	values := map[string]float64{}
	for _, f := range families {
		for _, metric := range f.GetMetric() {
			if metric.GetCounter() != nil {
				values[f.GetName()] = metric.GetCounter().GetValue()
			}
		}
	}

	assert.Equal(t, 4.0, values["test_store_hits_total"])
	assert.Equal(t, 2.0, values["test_store_misses_total"])
	assert.Equal(t, 1.0, values["test_store_evictions_total"])
	assert.Equal(t, 0.0, values["test_store_expirations_total"])
}
