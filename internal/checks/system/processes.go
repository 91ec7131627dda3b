package system

import (
	"fmt"

	"github.com/shirou/gopsutil/v4/process"
)

// Processes reports the total process count and a breakdown by state.
type Processes struct{}

func NewProcesses() *Processes { return &Processes{} }

func (p *Processes) Name() string { return "processes" }

func (p *Processes) Collect() (map[string]any, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}

	states := map[string]int{}
	for _, proc := range procs {
		st, err := proc.Status()
		if err != nil || len(st) == 0 {
			// The process may have exited between listing and inspection.
			continue
		}
		states[st[0]]++
	}

	return map[string]any{
		"processCount":  len(procs),
		"processStates": states,
	}, nil
}
