package metrics

import (
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	checkDuration   *prom.HistogramVec
	checkResults    *prom.CounterVec
	cycleDuration   prom.Histogram
	emitterAttempts *prom.CounterVec
	queueDepth      prom.Gauge
	queueDropped    *prom.CounterVec
	statsdPackets   prom.Counter
}

// NewPrometheusRecorder constructs and registers the agent metrics on reg.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		checkDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "sdagent",
			Name:      "check_run_duration_seconds",
			Help:      "Duration of individual check runs",
			Buckets:   prom.DefBuckets,
		}, []string{"check"}),
		checkResults: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "sdagent",
			Name:      "check_results_total",
			Help:      "Check run counts by outcome",
		}, []string{"check", "result"}),
		cycleDuration: prom.NewHistogram(prom.HistogramOpts{
			Namespace: "sdagent",
			Name:      "collector_cycle_duration_seconds",
			Help:      "Total duration of one collection cycle",
			Buckets:   prom.DefBuckets,
		}),
		emitterAttempts: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "sdagent",
			Name:      "emitter_attempts_total",
			Help:      "Payload delivery attempts by emitter and result",
		}, []string{"emitter", "result"}),
		queueDepth: prom.NewGauge(prom.GaugeOpts{
			Namespace: "sdagent",
			Name:      "forwarder_queue_depth",
			Help:      "Payloads waiting in the forwarder queue",
		}),
		queueDropped: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "sdagent",
			Name:      "forwarder_dropped_total",
			Help:      "Payloads dropped from the forwarder queue by reason",
		}, []string{"reason"}),
		statsdPackets: prom.NewCounter(prom.CounterOpts{
			Namespace: "sdagent",
			Name:      "statsd_packets_total",
			Help:      "Statsd datagrams received",
		}),
	}
	reg.MustRegister(pr.checkDuration, pr.checkResults, pr.cycleDuration,
		pr.emitterAttempts, pr.queueDepth, pr.queueDropped, pr.statsdPackets)
	return pr
}

// Handler returns an http.Handler serving the given registry.
func Handler(reg *prom.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func (p *PrometheusRecorder) ObserveCheckDuration(check string, d time.Duration) {
	p.checkDuration.WithLabelValues(check).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncCheckResult(check string, result CheckResult) {
	p.checkResults.WithLabelValues(check, string(result)).Inc()
}

func (p *PrometheusRecorder) ObserveCycleDuration(d time.Duration) {
	p.cycleDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncEmitterAttempt(emitter string, success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	p.emitterAttempts.WithLabelValues(emitter, result).Inc()
}

func (p *PrometheusRecorder) SetQueueDepth(n int) {
	p.queueDepth.Set(float64(n))
}

func (p *PrometheusRecorder) IncQueueDropped(reason string) {
	p.queueDropped.WithLabelValues(reason).Inc()
}

func (p *PrometheusRecorder) IncStatsdPackets(n int) {
	p.statsdPackets.Add(float64(n))
}
