package system

import (
	"fmt"

	"github.com/shirou/gopsutil/v4/host"
)

// Uptime reports host uptime in seconds.
type Uptime struct{}

func NewUptime() *Uptime { return &Uptime{} }

func (u *Uptime) Name() string { return "uptime" }

func (u *Uptime) Collect() (map[string]any, error) {
	seconds, err := host.Uptime()
	if err != nil {
		return nil, fmt.Errorf("read uptime: %w", err)
	}
	return map[string]any{"uptimeSeconds": seconds}, nil
}
