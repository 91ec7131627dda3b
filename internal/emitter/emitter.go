// Package emitter delivers collector payloads to their destinations: the
// Server Density intake API over HTTP and, optionally, a NATS JetStream
// subject for local fan-out.
package emitter

import (
	"context"
	"sync"
	"time"
)

// Emitter delivers one serialized payload.
type Emitter interface {
	Name() string
	Emit(ctx context.Context, body []byte) error
}

// Status tracks delivery outcomes for one emitter, for the status report.
type Status struct {
	mu          sync.Mutex
	name        string
	sent        int64
	failures    int64
	lastAttempt time.Time
	lastSuccess time.Time
	lastError   string
}

func NewStatus(name string) *Status { return &Status{name: name} }

func (s *Status) RecordSuccess(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent++
	s.lastAttempt = at
	s.lastSuccess = at
	s.lastError = ""
}

func (s *Status) RecordFailure(at time.Time, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures++
	s.lastAttempt = at
	if err != nil {
		s.lastError = err.Error()
	}
}

// Snapshot is a copyable view of a Status.
type Snapshot struct {
	Name        string    `json:"name"`
	Sent        int64     `json:"sent"`
	Failures    int64     `json:"failures"`
	LastAttempt time.Time `json:"last_attempt,omitzero"`
	LastSuccess time.Time `json:"last_success,omitzero"`
	LastError   string    `json:"last_error,omitempty"`
}

func (s *Status) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Name:        s.name,
		Sent:        s.sent,
		Failures:    s.failures,
		LastAttempt: s.lastAttempt,
		LastSuccess: s.lastSuccess,
		LastError:   s.lastError,
	}
}
