package system

import (
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v4/disk"
)

// IO reports per-device disk throughput as per-second rates between cycles.
// The first collection establishes the baseline and reports nothing.
type IO struct {
	prev     map[string]disk.IOCountersStat
	prevTime time.Time
	now      func() time.Time
	read     func() (map[string]disk.IOCountersStat, error)
}

func NewIO() *IO {
	return &IO{
		now: time.Now,
		read: func() (map[string]disk.IOCountersStat, error) {
			return disk.IOCounters()
		},
	}
}

func (i *IO) Name() string { return "io" }

func (i *IO) Collect() (map[string]any, error) {
	counters, err := i.read()
	if err != nil {
		return nil, fmt.Errorf("read io counters: %w", err)
	}
	now := i.now()

	prev, prevTime := i.prev, i.prevTime
	i.prev, i.prevTime = counters, now
	if prev == nil {
		return nil, nil
	}
	elapsed := now.Sub(prevTime).Seconds()
	if elapsed <= 0 {
		return nil, nil
	}

	stats := make(map[string]any, len(counters))
	for device, cur := range counters {
		old, ok := prev[device]
		if !ok {
			continue
		}
		// Counters are cumulative; a decrease means the device was reset.
		if cur.ReadCount < old.ReadCount || cur.WriteCount < old.WriteCount {
			continue
		}
		stats[device] = map[string]any{
			"r/s":   float64(cur.ReadCount-old.ReadCount) / elapsed,
			"w/s":   float64(cur.WriteCount-old.WriteCount) / elapsed,
			"rkB/s": float64(cur.ReadBytes-old.ReadBytes) / 1024 / elapsed,
			"wkB/s": float64(cur.WriteBytes-old.WriteBytes) / 1024 / elapsed,
			"%util": 100 * float64(cur.IoTime-old.IoTime) / (elapsed * 1000),
		}
	}
	if len(stats) == 0 {
		return nil, nil
	}
	return map[string]any{"ioStats": stats}, nil
}
