// Package checks defines the agent check framework: the Check interface
// integrations implement, the Sender they report through, and the loader that
// binds conf.d configuration to registered checks.
package checks

import (
	"sync/atomic"
	"time"

	"github.com/serverdensity/sd-agent/internal/config"
)

// ServiceCheckStatus is the wire status of a service check.
type ServiceCheckStatus int

const (
	StatusOK ServiceCheckStatus = iota
	StatusWarning
	StatusCritical
	StatusUnknown
)

func (s ServiceCheckStatus) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusWarning:
		return "WARNING"
	case StatusCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// ServiceCheck is a point-in-time up/down style result.
type ServiceCheck struct {
	ID        int64              `json:"id"`
	Check     string             `json:"check"`
	Status    ServiceCheckStatus `json:"status"`
	Timestamp float64            `json:"timestamp"`
	HostName  string             `json:"host_name,omitempty"`
	Tags      []string           `json:"tags,omitempty"`
	Message   string             `json:"message,omitempty"`
}

// Event is a newsfeed entry attached to the payload.
type Event struct {
	Timestamp  int64    `json:"timestamp"`
	EventType  string   `json:"event_type"`
	MsgTitle   string   `json:"msg_title,omitempty"`
	MsgText    string   `json:"msg_text,omitempty"`
	AlertType  string   `json:"alert_type,omitempty"`
	Host       string   `json:"host,omitempty"`
	SourceType string   `json:"source_type_name,omitempty"`
	Tags       []string `json:"tags,omitempty"`
}

var serviceCheckID atomic.Int64

// NewServiceCheck builds a service check with a fresh run id and the current
// timestamp when none is given.
func NewServiceCheck(name string, status ServiceCheckStatus, hostname string, tags []string, message string) ServiceCheck {
	return ServiceCheck{
		ID:        serviceCheckID.Add(1),
		Check:     name,
		Status:    status,
		Timestamp: float64(time.Now().UnixNano()) / float64(time.Second),
		HostName:  hostname,
		Tags:      tags,
		Message:   message,
	}
}

// Sender is how a check reports its results. All metric methods accept
// optional tags and a device name; hostname defaults to the agent host.
type Sender interface {
	Gauge(metric string, value float64, tags []string, deviceName string)
	Count(metric string, value float64, tags []string, deviceName string)
	MonotonicCount(metric string, value float64, tags []string, deviceName string)
	Rate(metric string, value float64, tags []string, deviceName string)
	Histogram(metric string, value float64, tags []string, deviceName string)
	ServiceCheck(name string, status ServiceCheckStatus, tags []string, message string)
	Event(e Event)
	// Warning records a non-fatal problem surfaced in the status report.
	Warning(message string)
}

// Check is a single configured check instance.
type Check interface {
	Name() string
	// Configure binds init_config and one instance block. Returning an
	// error marks the instance as failed to initialize.
	Configure(init map[string]any, instance config.Instance, agentCfg *config.Config) error
	// Run executes one collection for this instance.
	Run(sender Sender) error
}

// Factory constructs an unconfigured check instance.
type Factory func() Check
