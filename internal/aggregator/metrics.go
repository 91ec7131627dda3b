package aggregator

import (
	"math"
	"sort"
	"strconv"
	"time"
)

// point is one value produced by a metric handler on flush. A handler may
// produce several (histograms) or none (rate with a single sample so far).
type point struct {
	suffix     string
	value      float64
	ts         int64 // 0 means "use the flush timestamp"
	metricType string
}

func (p point) suffixed(name string) string {
	if p.suffix == "" {
		return name
	}
	return name + "." + p.suffix
}

func (p point) timestamp(flushTS int64) int64 {
	if p.ts != 0 {
		return p.ts
	}
	return flushTS
}

// metricHandler accumulates samples for one context between flushes.
type metricHandler interface {
	sample(value, sampleRate float64, at time.Time)
	flush(flushTS int64, interval float64) []point
}

func newMetricHandler(mtype MetricType, aggregates []string, percentiles []float64) metricHandler {
	switch mtype {
	case CounterType:
		return &counterMetric{}
	case RateType:
		return &rateMetric{}
	case MonotonicCountType:
		return &monotonicMetric{}
	case HistogramType:
		return &histogramMetric{aggregates: aggregates, percentiles: percentiles}
	case SetType:
		return &setMetric{values: make(map[string]struct{})}
	default:
		return &gaugeMetric{}
	}
}

// gaugeMetric keeps the last value and re-reports it every flush until the
// context expires.
type gaugeMetric struct {
	value    float64
	ts       int64
	hasValue bool
}

func (g *gaugeMetric) sample(value, _ float64, at time.Time) {
	g.value = value
	g.ts = at.Unix()
	g.hasValue = true
}

func (g *gaugeMetric) flush(_ int64, _ float64) []point {
	if !g.hasValue {
		return nil
	}
	return []point{{value: g.value, ts: g.ts, metricType: "gauge"}}
}

// counterMetric accumulates increments and flushes a per-second rate.
type counterMetric struct {
	sum     float64
	sampled bool
}

func (c *counterMetric) sample(value, sampleRate float64, _ time.Time) {
	c.sum += value / sampleRate
	c.sampled = true
}

func (c *counterMetric) flush(_ int64, interval float64) []point {
	if !c.sampled {
		return nil
	}
	v := c.sum / interval
	c.sum = 0
	c.sampled = false
	return []point{{value: v, metricType: "rate"}}
}

// rateMetric computes a per-second rate between the two most recent raw
// samples. Negative deltas mean a counter reset and are skipped.
type rateMetric struct {
	samples [][2]float64 // (unix seconds, raw value)
}

func (r *rateMetric) sample(value, _ float64, at time.Time) {
	r.samples = append(r.samples, [2]float64{float64(at.UnixNano()) / float64(time.Second), value})
	if len(r.samples) > 2 {
		r.samples = r.samples[len(r.samples)-2:]
	}
}

func (r *rateMetric) flush(_ int64, _ float64) []point {
	if len(r.samples) < 2 {
		return nil
	}
	prev, cur := r.samples[0], r.samples[1]
	r.samples = r.samples[1:]
	elapsed := cur[0] - prev[0]
	if elapsed <= 0 {
		return nil
	}
	delta := cur[1] - prev[1]
	if delta < 0 {
		// counter reset
		return nil
	}
	return []point{{value: delta / elapsed, metricType: "gauge"}}
}

// monotonicMetric sums positive deltas of an increasing raw counter.
type monotonicMetric struct {
	last     float64
	hasLast  bool
	delta    float64
	hasDelta bool
}

func (m *monotonicMetric) sample(value, _ float64, _ time.Time) {
	if m.hasLast && value >= m.last {
		m.delta += value - m.last
		m.hasDelta = true
	}
	m.last = value
	m.hasLast = true
}

func (m *monotonicMetric) flush(_ int64, _ float64) []point {
	if !m.hasDelta {
		return nil
	}
	v := m.delta
	m.delta = 0
	m.hasDelta = false
	return []point{{value: v, metricType: "count"}}
}

// histogramMetric expands into configured aggregates plus percentiles.
type histogramMetric struct {
	aggregates  []string
	percentiles []float64
	values      []float64
}

func (h *histogramMetric) sample(value, sampleRate float64, _ time.Time) {
	n := int(1 / sampleRate)
	if n < 1 {
		n = 1
	}
	for i := 0; i < n; i++ {
		h.values = append(h.values, value)
	}
}

func (h *histogramMetric) flush(_ int64, interval float64) []point {
	if len(h.values) == 0 {
		return nil
	}
	values := h.values
	h.values = nil
	sort.Float64s(values)

	length := float64(len(values))
	var sum float64
	for _, v := range values {
		sum += v
	}

	var pts []point
	for _, agg := range h.aggregates {
		switch agg {
		case "min":
			pts = append(pts, point{suffix: "min", value: values[0], metricType: "gauge"})
		case "max":
			pts = append(pts, point{suffix: "max", value: values[len(values)-1], metricType: "gauge"})
		case "median":
			pts = append(pts, point{suffix: "median", value: percentile(values, 0.5), metricType: "gauge"})
		case "avg":
			pts = append(pts, point{suffix: "avg", value: sum / length, metricType: "gauge"})
		case "sum":
			pts = append(pts, point{suffix: "sum", value: sum, metricType: "gauge"})
		case "count":
			pts = append(pts, point{suffix: "count", value: length / interval, metricType: "rate"})
		}
	}
	for _, p := range h.percentiles {
		suffix := percentileSuffix(p)
		pts = append(pts, point{suffix: suffix, value: percentile(values, p), metricType: "gauge"})
	}
	return pts
}

// percentile uses the same index rule as the legacy aggregator:
// values[ceil(p*len)-1] on the sorted slice.
func percentile(sorted []float64, p float64) float64 {
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func percentileSuffix(p float64) string {
	return strconv.Itoa(int(math.Round(p*100))) + "percentile"
}

// setMetric counts unique values per flush window.
type setMetric struct {
	values map[string]struct{}
}

func (s *setMetric) sample(value, _ float64, _ time.Time) {}

func (s *setMetric) add(value string) {
	s.values[value] = struct{}{}
}

func (s *setMetric) flush(_ int64, _ float64) []point {
	if len(s.values) == 0 {
		return nil
	}
	n := float64(len(s.values))
	s.values = make(map[string]struct{})
	return []point{{value: n, metricType: "gauge"}}
}
