package system

import (
	"fmt"

	"github.com/shirou/gopsutil/v4/mem"
)

// Memory reports physical and swap usage in megabytes, using the legacy
// payload key set the intake expects.
type Memory struct{}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Name() string { return "memory" }

func (m *Memory) Collect() (map[string]any, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return nil, fmt.Errorf("read virtual memory: %w", err)
	}

	const mb = 1024 * 1024
	out := map[string]any{
		"memPhysTotal":     float64(vm.Total) / mb,
		"memPhysFree":      float64(vm.Free) / mb,
		"memPhysUsed":      float64(vm.Used) / mb,
		"memPhysUsable":    float64(vm.Available) / mb,
		"memCached":        float64(vm.Cached) / mb,
		"memBuffers":       float64(vm.Buffers) / mb,
		"memShared":        float64(vm.Shared) / mb,
		"memSlab":          float64(vm.Slab) / mb,
		"memPageTables":    float64(vm.PageTables) / mb,
		"memPhysPctUsable": pctOf(vm.Available, vm.Total),
	}

	swap, err := mem.SwapMemory()
	if err == nil && swap.Total > 0 {
		out["memSwapTotal"] = float64(swap.Total) / mb
		out["memSwapFree"] = float64(swap.Free) / mb
		out["memSwapUsed"] = float64(swap.Used) / mb
		out["memSwapPctFree"] = pctOf(swap.Free, swap.Total)
	}
	return out, nil
}

func pctOf(part, total uint64) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total)
}
