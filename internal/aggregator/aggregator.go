// Package aggregator buffers metric samples submitted by checks and the
// statsd listener, and turns them into flushable series points. Counters and
// rates are normalized per second, histograms expand into their configured
// aggregates and percentiles, and idle contexts expire so that tags which
// stop reporting do not linger forever.
package aggregator

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// MetricType identifies the aggregation semantics of a sample.
type MetricType string

const (
	GaugeType          MetricType = "gauge"
	CounterType        MetricType = "counter"
	RateType           MetricType = "rate"
	MonotonicCountType MetricType = "monotonic_count"
	HistogramType      MetricType = "histogram"
	SetType            MetricType = "set"
)

// DefaultExpirySeconds is how long an idle context survives before being
// dropped on flush.
const DefaultExpirySeconds = 300

// Sample is one flushed series point.
type Sample struct {
	Metric     string
	Timestamp  int64
	Value      float64
	Tags       []string
	Hostname   string
	DeviceName string
	Type       string
}

// Options configures an Aggregator.
type Options struct {
	Hostname string
	// Interval is the nominal flush interval used to normalize counters.
	Interval time.Duration
	// Expiry drops contexts that have not received a sample recently.
	Expiry               time.Duration
	HistogramAggregates  []string
	HistogramPercentiles []float64
}

// Aggregator accumulates samples between flushes. Safe for concurrent use:
// checks and the statsd listener submit from different goroutines.
type Aggregator struct {
	mu       sync.Mutex
	hostname string
	interval float64
	expiry   time.Duration

	aggregates  []string
	percentiles []float64

	contexts map[string]*contextEntry

	// flush bookkeeping for agent telemetry
	sampleCount int64
	flushCount  int64

	now func() time.Time
}

type contextEntry struct {
	metric     metricHandler
	name       string
	tags       []string
	hostname   string
	deviceName string
	lastSample time.Time
}

// New creates an aggregator with the given options; zero values fall back to
// sensible defaults.
func New(opts Options) *Aggregator {
	interval := opts.Interval.Seconds()
	if interval <= 0 {
		interval = 1
	}
	expiry := opts.Expiry
	if expiry <= 0 {
		expiry = DefaultExpirySeconds * time.Second
	}
	aggregates := opts.HistogramAggregates
	if len(aggregates) == 0 {
		aggregates = []string{"max", "median", "avg", "count"}
	}
	percentiles := opts.HistogramPercentiles
	if len(percentiles) == 0 {
		percentiles = []float64{0.95}
	}
	return &Aggregator{
		hostname:    opts.Hostname,
		interval:    interval,
		expiry:      expiry,
		aggregates:  aggregates,
		percentiles: percentiles,
		contexts:    make(map[string]*contextEntry),
		now:         time.Now,
	}
}

// Submit records one sample. sampleRate corrects for client-side sampling
// (statsd |@0.5); pass 1 when unsampled.
func (a *Aggregator) Submit(name string, value float64, mtype MetricType, tags []string, hostname, deviceName string, sampleRate float64) {
	if sampleRate <= 0 || sampleRate > 1 {
		sampleRate = 1
	}
	if hostname == "" {
		hostname = a.hostname
	}
	tags = normalizeTags(tags)

	a.mu.Lock()
	defer a.mu.Unlock()

	key := contextKey(name, mtype, tags, hostname, deviceName)
	entry, ok := a.contexts[key]
	if !ok {
		entry = &contextEntry{
			metric:     newMetricHandler(mtype, a.aggregates, a.percentiles),
			name:       name,
			tags:       tags,
			hostname:   hostname,
			deviceName: deviceName,
		}
		a.contexts[key] = entry
	}
	entry.lastSample = a.now()
	entry.metric.sample(value, sampleRate, entry.lastSample)
	a.sampleCount++
}

// Gauge records the current value of a metric.
func (a *Aggregator) Gauge(name string, value float64, tags []string, hostname, deviceName string) {
	a.Submit(name, value, GaugeType, tags, hostname, deviceName, 1)
}

// Count adds to a counter flushed as a per-second rate over the interval.
func (a *Aggregator) Count(name string, value float64, tags []string, hostname, deviceName string) {
	a.Submit(name, value, CounterType, tags, hostname, deviceName, 1)
}

// MonotonicCount submits an increasing raw counter value; the flushed value
// is the sum of positive deltas. Counter resets are skipped.
func (a *Aggregator) MonotonicCount(name string, value float64, tags []string, hostname, deviceName string) {
	a.Submit(name, value, MonotonicCountType, tags, hostname, deviceName, 1)
}

// Rate submits a point of an ever-increasing counter; flush emits the
// per-second rate between the last two points.
func (a *Aggregator) Rate(name string, value float64, tags []string, hostname, deviceName string) {
	a.Submit(name, value, RateType, tags, hostname, deviceName, 1)
}

// Histogram samples a value distribution.
func (a *Aggregator) Histogram(name string, value float64, tags []string, hostname, deviceName string) {
	a.Submit(name, value, HistogramType, tags, hostname, deviceName, 1)
}

// Set counts unique string values per flush window.
func (a *Aggregator) Set(name string, value string, tags []string, hostname, deviceName string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if hostname == "" {
		hostname = a.hostname
	}
	tags = normalizeTags(tags)
	key := contextKey(name, SetType, tags, hostname, deviceName)
	entry, ok := a.contexts[key]
	if !ok {
		entry = &contextEntry{
			metric:     &setMetric{values: make(map[string]struct{})},
			name:       name,
			tags:       tags,
			hostname:   hostname,
			deviceName: deviceName,
		}
		a.contexts[key] = entry
	}
	entry.lastSample = a.now()
	entry.metric.(*setMetric).add(value)
	a.sampleCount++
}

// Flush drains the aggregator, returning every series point accumulated since
// the previous flush and expiring idle contexts.
func (a *Aggregator) Flush() []Sample {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	ts := now.Unix()
	var samples []Sample
	for key, entry := range a.contexts {
		if now.Sub(entry.lastSample) > a.expiry {
			delete(a.contexts, key)
			continue
		}
		for _, pt := range entry.metric.flush(ts, a.interval) {
			samples = append(samples, Sample{
				Metric:     pt.suffixed(entry.name),
				Timestamp:  pt.timestamp(ts),
				Value:      pt.value,
				Tags:       entry.tags,
				Hostname:   entry.hostname,
				DeviceName: entry.deviceName,
				Type:       pt.metricType,
			})
		}
	}
	sort.Slice(samples, func(i, j int) bool {
		if samples[i].Metric != samples[j].Metric {
			return samples[i].Metric < samples[j].Metric
		}
		return strings.Join(samples[i].Tags, ",") < strings.Join(samples[j].Tags, ",")
	})
	a.flushCount++
	return samples
}

// Stats reports the totals since startup, for agent self-telemetry.
func (a *Aggregator) Stats() (samples, flushes int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sampleCount, a.flushCount
}

func contextKey(name string, mtype MetricType, sortedTags []string, hostname, deviceName string) string {
	var b strings.Builder
	b.WriteString(name)
	b.WriteByte(0)
	b.WriteString(string(mtype))
	b.WriteByte(0)
	b.WriteString(strings.Join(sortedTags, ","))
	b.WriteByte(0)
	b.WriteString(hostname)
	b.WriteByte(0)
	b.WriteString(deviceName)
	return b.String()
}

func normalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	out := make([]string, len(tags))
	copy(out, tags)
	sort.Strings(out)
	return out
}
