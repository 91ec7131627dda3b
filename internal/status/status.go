// Package status persists a snapshot of the running agent's health under the
// run directory so `sd-agent status` can report on a live daemon.
package status

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/serverdensity/sd-agent/internal/emitter"
	"github.com/serverdensity/sd-agent/internal/version"
)

const statusFile = "status.json"

// InstanceStatus is the outcome of the latest run of one check instance.
type InstanceStatus struct {
	Instance int       `json:"instance"`
	Metrics  int       `json:"metrics"`
	LastRun  time.Time `json:"last_run,omitzero"`
	Error    string    `json:"error,omitempty"`
	Warnings []string  `json:"warnings,omitempty"`
}

// CheckStatus groups the instance outcomes of one configured check.
type CheckStatus struct {
	Name      string           `json:"name"`
	Source    string           `json:"source"`
	Instances []InstanceStatus `json:"instances"`
}

// CollectorStatus is the full snapshot written after every cycle.
type CollectorStatus struct {
	Pid          int                `json:"pid"`
	AgentVersion string             `json:"agent_version"`
	Hostname     string             `json:"hostname"`
	RunCount     int64              `json:"run_count"`
	LastRun      time.Time          `json:"last_run,omitzero"`
	LastDuration time.Duration      `json:"last_duration_ns"`
	Checks       []CheckStatus      `json:"checks,omitempty"`
	InitErrors   []string           `json:"init_errors,omitempty"`
	Emitters     []emitter.Snapshot `json:"emitters,omitempty"`
}

func New(hostname string) *CollectorStatus {
	return &CollectorStatus{
		Pid:          os.Getpid(),
		AgentVersion: version.AgentVersion,
		Hostname:     hostname,
	}
}

// Persist writes the snapshot atomically under runPath.
func (s *CollectorStatus) Persist(runPath string) error {
	if err := os.MkdirAll(runPath, 0o755); err != nil {
		return fmt.Errorf("create run directory: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	tmp := filepath.Join(runPath, statusFile+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write status: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(runPath, statusFile)); err != nil {
		return fmt.Errorf("replace status: %w", err)
	}
	return nil
}

// Load reads the snapshot a running agent last persisted.
func Load(runPath string) (*CollectorStatus, error) {
	data, err := os.ReadFile(filepath.Join(runPath, statusFile))
	if err != nil {
		return nil, fmt.Errorf("read status: %w", err)
	}
	var s CollectorStatus
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse status: %w", err)
	}
	return &s, nil
}
