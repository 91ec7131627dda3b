// Package agentmetrics reports the agent's own resource usage and internal
// timings as regular metrics.
package agentmetrics

import (
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/serverdensity/sd-agent/internal/checks"
	"github.com/serverdensity/sd-agent/internal/config"
)

// CheckName is the conf.d name this check registers under.
const CheckName = "agent_metrics"

func init() {
	checks.Register(CheckName, func() checks.Check { return New(DefaultTimings) })
}

// Timings collects internal durations other agent components record for the
// agent_metrics check to report. Safe for concurrent use.
type Timings struct {
	mu      sync.Mutex
	collect time.Duration
	emit    time.Duration
}

// DefaultTimings is the process-wide timing store the collector and emitter
// write into.
var DefaultTimings = &Timings{}

func (t *Timings) RecordCollection(d time.Duration) {
	t.mu.Lock()
	t.collect = d
	t.mu.Unlock()
}

func (t *Timings) RecordEmit(d time.Duration) {
	t.mu.Lock()
	t.emit = d
	t.mu.Unlock()
}

func (t *Timings) snapshot() (collect, emit time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.collect, t.emit
}

// Check reports the agent process's memory, cpu and goroutine counts plus
// the latest collection and emit durations.
type Check struct {
	timings *Timings
	tags    []string
	proc    *process.Process
}

func New(timings *Timings) *Check { return &Check{timings: timings} }

func (c *Check) Name() string { return CheckName }

func (c *Check) Configure(init map[string]any, instance config.Instance, agentCfg *config.Config) error {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return fmt.Errorf("open own process: %w", err)
	}
	c.proc = proc
	c.tags = instance.Tags()
	return nil
}

func (c *Check) Run(sender checks.Sender) error {
	sender.Gauge("serverdensity.agent.goroutines", float64(runtime.NumGoroutine()), c.tags, "")

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	sender.Gauge("serverdensity.agent.mem.heap_alloc", float64(ms.HeapAlloc), c.tags, "")

	if c.proc != nil {
		if mem, err := c.proc.MemoryInfo(); err == nil {
			sender.Gauge("serverdensity.agent.mem.rss", float64(mem.RSS), c.tags, "")
		} else {
			sender.Warning(fmt.Sprintf("agent_metrics: read rss: %v", err))
		}
		if pct, err := c.proc.CPUPercent(); err == nil {
			sender.Gauge("serverdensity.agent.cpu.pct", pct, c.tags, "")
		}
	}

	if c.timings != nil {
		collect, emit := c.timings.snapshot()
		if collect > 0 {
			sender.Gauge("serverdensity.agent.collector.collection_time", collect.Seconds(), c.tags, "")
		}
		if emit > 0 {
			sender.Gauge("serverdensity.agent.emitter.emit_time", emit.Seconds(), c.tags, "")
		}
	}
	return nil
}
