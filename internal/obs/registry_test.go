package obs

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistryCounters(t *testing.T) {
	r := NewRegistry()
	r.IncrementCounter("retrieval_requests_total", map[string]string{"mode": "primary"})
	r.IncrementCounter("retrieval_requests_total", map[string]string{"mode": "primary"})
	r.IncrementCounter("retrieval_requests_total", map[string]string{"mode": "fallback"})

	require.Equal(t, int64(2), r.GetCounter("retrieval_requests_total", map[string]string{"mode": "primary"}))
	require.Equal(t, int64(1), r.GetCounter("retrieval_requests_total", map[string]string{"mode": "fallback"}))
	require.Equal(t, int64(0), r.GetCounter("unknown", nil))
}

func TestRegistryHistogramPercentiles(t *testing.T) {
	r := NewRegistry()
	for i := 1; i <= 100; i++ {
		r.ObserveHistogram("retrieval_ms", float64(i), nil)
	}
	st := r.GetHistogramStats("retrieval_ms", nil)
	require.Equal(t, int64(100), st.Count)
	require.InDelta(t, 50.5, st.P50, 0.5)
	require.InDelta(t, 95.05, st.P95, 0.5)
	require.InDelta(t, 99.01, st.P99, 0.5)
	require.Equal(t, 1.0, st.Min)
	require.Equal(t, 100.0, st.Max)
}

// TestPercentileOrderIndependence covers the testable property in spec.md
// §8: metrics percentile computation on a fixed sample is order-independent.
func TestPercentileOrderIndependence(t *testing.T) {
	values := make([]float64, 500)
	for i := range values {
		values[i] = rand.Float64() * 1000
	}

	ordered := NewRegistry()
	for _, v := range values {
		ordered.ObserveHistogram("x", v, nil)
	}

	shuffled := make([]float64, len(values))
	copy(shuffled, values)
	rand.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	reordered := NewRegistry()
	for _, v := range shuffled {
		reordered.ObserveHistogram("x", v, nil)
	}

	a := ordered.GetHistogramStats("x", nil)
	b := reordered.GetHistogramStats("x", nil)
	require.Equal(t, a, b)
}

func TestHistogramRingBufferBound(t *testing.T) {
	r := NewRegistry()
	for i := 0; i < maxHistogramSamples+500; i++ {
		r.ObserveHistogram("bounded", float64(i), nil)
	}
	st := r.GetHistogramStats("bounded", nil)
	require.Equal(t, int64(maxHistogramSamples), st.Count)
	// the oldest 500 samples (0..499) were evicted
	require.GreaterOrEqual(t, st.Min, 500.0)
}

type recordingSink struct {
	counters   []string
	histograms []string
}

func (s *recordingSink) IncCounter(name string, _ map[string]string) { s.counters = append(s.counters, name) }
func (s *recordingSink) ObserveHistogram(name string, _ float64, _ map[string]string) {
	s.histograms = append(s.histograms, name)
}

func TestRegistryMirrorsToSinks(t *testing.T) {
	sink := &recordingSink{}
	r := NewRegistry(sink)
	r.IncrementCounter("c", nil)
	r.ObserveHistogram("h", 1, nil)
	require.Equal(t, []string{"c"}, sink.counters)
	require.Equal(t, []string{"h"}, sink.histograms)
}
