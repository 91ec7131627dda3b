package system

import (
	"fmt"
	"runtime"

	"github.com/shirou/gopsutil/v4/load"
)

// Load reports the 1/5/15 minute load averages, plus values normalized by
// core count.
type Load struct{}

func NewLoad() *Load { return &Load{} }

func (l *Load) Name() string { return "load" }

func (l *Load) Collect() (map[string]any, error) {
	avg, err := load.Avg()
	if err != nil {
		return nil, fmt.Errorf("read load average: %w", err)
	}
	cores := float64(runtime.NumCPU())
	return map[string]any{
		"loadAvrg1":      avg.Load1,
		"loadAvrg5":      avg.Load5,
		"loadAvrg15":     avg.Load15,
		"loadNormAvrg1":  avg.Load1 / cores,
		"loadNormAvrg5":  avg.Load5 / cores,
		"loadNormAvrg15": avg.Load15 / cores,
	}, nil
}
