package checks

import (
	"log/slog"
	"sync"

	"github.com/serverdensity/sd-agent/internal/aggregator"
)

// AggregatorSender is the Sender used by the collector: metrics go to the
// shared aggregator; service checks, events and warnings are buffered until
// the collector drains them into the payload.
type AggregatorSender struct {
	agg      *aggregator.Aggregator
	hostname string

	mu            sync.Mutex
	serviceChecks []ServiceCheck
	events        []Event
	warnings      []string
}

// NewAggregatorSender wires a sender to the shared aggregator.
func NewAggregatorSender(agg *aggregator.Aggregator, hostname string) *AggregatorSender {
	return &AggregatorSender{agg: agg, hostname: hostname}
}

func (s *AggregatorSender) Gauge(metric string, value float64, tags []string, deviceName string) {
	s.agg.Gauge(NormalizeMetricName(metric), value, tags, "", deviceName)
}

func (s *AggregatorSender) Count(metric string, value float64, tags []string, deviceName string) {
	s.agg.Count(NormalizeMetricName(metric), value, tags, "", deviceName)
}

func (s *AggregatorSender) MonotonicCount(metric string, value float64, tags []string, deviceName string) {
	s.agg.MonotonicCount(NormalizeMetricName(metric), value, tags, "", deviceName)
}

func (s *AggregatorSender) Rate(metric string, value float64, tags []string, deviceName string) {
	s.agg.Rate(NormalizeMetricName(metric), value, tags, "", deviceName)
}

func (s *AggregatorSender) Histogram(metric string, value float64, tags []string, deviceName string) {
	s.agg.Histogram(NormalizeMetricName(metric), value, tags, "", deviceName)
}

func (s *AggregatorSender) ServiceCheck(name string, status ServiceCheckStatus, tags []string, message string) {
	sc := NewServiceCheck(name, status, s.hostname, sortedUnique(tags), message)
	s.mu.Lock()
	s.serviceChecks = append(s.serviceChecks, sc)
	s.mu.Unlock()
}

func (s *AggregatorSender) Event(e Event) {
	if e.Host == "" {
		e.Host = s.hostname
	}
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
}

func (s *AggregatorSender) Warning(message string) {
	slog.Warn(message)
	s.mu.Lock()
	s.warnings = append(s.warnings, message)
	s.mu.Unlock()
}

// DrainServiceChecks returns and clears the buffered service checks.
func (s *AggregatorSender) DrainServiceChecks() []ServiceCheck {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.serviceChecks
	s.serviceChecks = nil
	return out
}

// DrainEvents returns and clears the buffered events.
func (s *AggregatorSender) DrainEvents() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.events
	s.events = nil
	return out
}

// DrainWarnings returns and clears the buffered warnings.
func (s *AggregatorSender) DrainWarnings() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.warnings
	s.warnings = nil
	return out
}
