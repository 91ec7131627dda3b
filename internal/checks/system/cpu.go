package system

import (
	"fmt"

	"github.com/shirou/gopsutil/v4/cpu"
)

// CPU reports the share of time spent in each cpu state since the previous
// cycle. The first collection establishes the baseline and reports nothing.
type CPU struct {
	prev *cpu.TimesStat
}

func NewCPU() *CPU { return &CPU{} }

func (c *CPU) Name() string { return "cpu" }

func (c *CPU) Collect() (map[string]any, error) {
	times, err := cpu.Times(false)
	if err != nil {
		return nil, fmt.Errorf("read cpu times: %w", err)
	}
	if len(times) == 0 {
		return nil, fmt.Errorf("no cpu times reported")
	}
	cur := times[0]

	prev := c.prev
	c.prev = &cur
	if prev == nil {
		return nil, nil
	}

	user := (cur.User + cur.Nice) - (prev.User + prev.Nice)
	system := (cur.System + cur.Irq + cur.Softirq) - (prev.System + prev.Irq + prev.Softirq)
	idle := cur.Idle - prev.Idle
	wait := cur.Iowait - prev.Iowait
	stolen := cur.Steal - prev.Steal

	total := user + system + idle + wait + stolen
	if total <= 0 {
		return nil, nil
	}
	pct := func(v float64) float64 { return 100 * v / total }
	return map[string]any{
		"cpuUser":   pct(user),
		"cpuSys":    pct(system),
		"cpuIdle":   pct(idle),
		"cpuWait":   pct(wait),
		"cpuStolen": pct(stolen),
	}, nil
}
