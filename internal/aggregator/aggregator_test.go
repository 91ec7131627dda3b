package aggregator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAggregator(opts Options) (*Aggregator, *time.Time) {
	if opts.Hostname == "" {
		opts.Hostname = "test-host"
	}
	a := New(opts)
	now := time.Unix(1_700_000_000, 0)
	a.now = func() time.Time { return now }
	return a, &now
}

func findSamples(samples []Sample, metric string) []Sample {
	var out []Sample
	for _, s := range samples {
		if s.Metric == metric {
			out = append(out, s)
		}
	}
	return out
}

func TestGaugeKeepsLastValueAcrossFlushes(t *testing.T) {
	a, now := newTestAggregator(Options{})
	a.Gauge("system.load.1", 0.5, nil, "", "")
	a.Gauge("system.load.1", 1.5, nil, "", "")

	samples := a.Flush()
	require.Len(t, samples, 1)
	assert.Equal(t, 1.5, samples[0].Value)
	assert.Equal(t, "test-host", samples[0].Hostname)

	// Gauges re-report until expiry.
	*now = now.Add(time.Minute)
	samples = a.Flush()
	require.Len(t, samples, 1)
	assert.Equal(t, 1.5, samples[0].Value)
}

func TestGaugeContextExpires(t *testing.T) {
	a, now := newTestAggregator(Options{Expiry: 2 * time.Minute})
	a.Gauge("system.mem.used", 42, nil, "", "")
	require.Len(t, a.Flush(), 1)

	*now = now.Add(3 * time.Minute)
	assert.Empty(t, a.Flush())
}

func TestCounterNormalizedByInterval(t *testing.T) {
	a, _ := newTestAggregator(Options{Interval: 10 * time.Second})
	for i := 0; i < 5; i++ {
		a.Count("requests", 1, nil, "", "")
	}
	samples := a.Flush()
	require.Len(t, samples, 1)
	assert.InDelta(t, 0.5, samples[0].Value, 1e-9)
	assert.Equal(t, "rate", samples[0].Type)

	// Nothing submitted: nothing flushed.
	assert.Empty(t, a.Flush())
}

func TestCounterSampleRateCorrection(t *testing.T) {
	a, _ := newTestAggregator(Options{Interval: time.Second})
	a.Submit("sampled", 1, CounterType, nil, "", "", 0.5)
	samples := a.Flush()
	require.Len(t, samples, 1)
	assert.InDelta(t, 2.0, samples[0].Value, 1e-9)
}

func TestRateRequiresTwoSamples(t *testing.T) {
	a, now := newTestAggregator(Options{})
	a.Rate("net.bytes_sent", 1000, nil, "", "")
	assert.Empty(t, a.Flush())

	*now = now.Add(10 * time.Second)
	a.Rate("net.bytes_sent", 2000, nil, "", "")
	samples := a.Flush()
	require.Len(t, samples, 1)
	assert.InDelta(t, 100.0, samples[0].Value, 1e-9)
}

func TestRateSkipsCounterReset(t *testing.T) {
	a, now := newTestAggregator(Options{})
	a.Rate("net.bytes_sent", 5000, nil, "", "")
	*now = now.Add(10 * time.Second)
	a.Rate("net.bytes_sent", 100, nil, "", "") // reset
	assert.Empty(t, a.Flush())
}

func TestMonotonicCountSumsPositiveDeltas(t *testing.T) {
	a, _ := newTestAggregator(Options{})
	a.MonotonicCount("uploads", 1, nil, "", "")
	a.MonotonicCount("uploads", 3, nil, "", "")
	a.MonotonicCount("uploads", 5, nil, "", "")
	samples := a.Flush()
	require.Len(t, samples, 1)
	assert.Equal(t, 4.0, samples[0].Value)

	// Reset is skipped; counting resumes from the new baseline.
	a.MonotonicCount("uploads", 2, nil, "", "")
	a.MonotonicCount("uploads", 3, nil, "", "")
	samples = a.Flush()
	require.Len(t, samples, 1)
	assert.Equal(t, 1.0, samples[0].Value)
}

func TestHistogramAggregatesAndPercentiles(t *testing.T) {
	a, _ := newTestAggregator(Options{
		Interval:             10 * time.Second,
		HistogramAggregates:  []string{"max", "median", "avg", "count"},
		HistogramPercentiles: []float64{0.95},
	})
	for i := 1; i <= 20; i++ {
		a.Histogram("request.duration", float64(i), nil, "", "")
	}
	samples := a.Flush()

	get := func(metric string) Sample {
		found := findSamples(samples, metric)
		require.Len(t, found, 1, metric)
		return found[0]
	}
	assert.Equal(t, 20.0, get("request.duration.max").Value)
	assert.Equal(t, 10.0, get("request.duration.median").Value)
	assert.Equal(t, 10.5, get("request.duration.avg").Value)
	assert.Equal(t, 2.0, get("request.duration.count").Value) // 20 samples / 10s
	assert.Equal(t, 19.0, get("request.duration.95percentile").Value)
}

func TestSetCountsUniqueValues(t *testing.T) {
	a, _ := newTestAggregator(Options{})
	a.Set("users.uniques", "alice", nil, "", "")
	a.Set("users.uniques", "bob", nil, "", "")
	a.Set("users.uniques", "alice", nil, "", "")
	samples := a.Flush()
	require.Len(t, samples, 1)
	assert.Equal(t, 2.0, samples[0].Value)
}

func TestTagOrderDoesNotSplitContexts(t *testing.T) {
	a, _ := newTestAggregator(Options{})
	a.Gauge("disk.used", 1, []string{"device:sda", "env:prod"}, "", "")
	a.Gauge("disk.used", 2, []string{"env:prod", "device:sda"}, "", "")
	samples := a.Flush()
	require.Len(t, samples, 1)
	assert.Equal(t, 2.0, samples[0].Value)
	assert.Equal(t, []string{"device:sda", "env:prod"}, samples[0].Tags)
}

func TestDistinctHostnamesAreDistinctContexts(t *testing.T) {
	a, _ := newTestAggregator(Options{})
	a.Gauge("vm.cpu", 1, nil, "vm-1", "")
	a.Gauge("vm.cpu", 2, nil, "vm-2", "")
	samples := a.Flush()
	assert.Len(t, samples, 2)
}

func TestStats(t *testing.T) {
	a, _ := newTestAggregator(Options{})
	a.Gauge("m", 1, nil, "", "")
	a.Gauge("m", 2, nil, "", "")
	a.Flush()
	samples, flushes := a.Stats()
	assert.Equal(t, int64(2), samples)
	assert.Equal(t, int64(1), flushes)
}
