// Package metrics provides the agent's self-telemetry hooks. Components
// receive a Recorder by injection; NoopRecorder is the default so callers
// never nil-check. The Prometheus implementation is scraped through the
// forwarder's /metrics endpoint.
package metrics

import "time"

// CheckResult enumerates check run outcomes for counters.
type CheckResult string

const (
	CheckResultOK      CheckResult = "ok"
	CheckResultError   CheckResult = "error"
	CheckResultSkipped CheckResult = "skipped"
)

// Recorder defines observability hooks for the collection pipeline. All
// methods must be safe for concurrent use.
type Recorder interface {
	ObserveCheckDuration(check string, d time.Duration)
	IncCheckResult(check string, result CheckResult)
	ObserveCycleDuration(d time.Duration)
	IncEmitterAttempt(emitter string, success bool)
	SetQueueDepth(n int)
	IncQueueDropped(reason string)
	IncStatsdPackets(n int)
}

// NoopRecorder is a Recorder that does nothing (default when metrics are not
// configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveCheckDuration(string, time.Duration) {}
func (NoopRecorder) IncCheckResult(string, CheckResult)         {}
func (NoopRecorder) ObserveCycleDuration(time.Duration)         {}
func (NoopRecorder) IncEmitterAttempt(string, bool)             {}
func (NoopRecorder) SetQueueDepth(int)                          {}
func (NoopRecorder) IncQueueDropped(string)                     {}
func (NoopRecorder) IncStatsdPackets(int)                       {}
