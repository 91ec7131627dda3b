package system

import (
	"fmt"
	"strings"
	"time"

	gopsnet "github.com/shirou/gopsutil/v4/net"
)

// Network reports per-interface traffic as bytes-per-second rates between
// cycles. Like IO, the first collection only establishes the baseline.
type Network struct {
	prev     map[string]gopsnet.IOCountersStat
	prevTime time.Time
	now      func() time.Time
	read     func() ([]gopsnet.IOCountersStat, error)
}

func NewNetwork() *Network {
	return &Network{
		now: time.Now,
		read: func() ([]gopsnet.IOCountersStat, error) {
			return gopsnet.IOCounters(true)
		},
	}
}

func (n *Network) Name() string { return "network" }

func (n *Network) Collect() (map[string]any, error) {
	counters, err := n.read()
	if err != nil {
		return nil, fmt.Errorf("read network counters: %w", err)
	}
	now := n.now()

	current := make(map[string]gopsnet.IOCountersStat, len(counters))
	for _, c := range counters {
		if strings.HasPrefix(c.Name, "lo") {
			continue
		}
		current[c.Name] = c
	}

	prev, prevTime := n.prev, n.prevTime
	n.prev, n.prevTime = current, now
	if prev == nil {
		return nil, nil
	}
	elapsed := now.Sub(prevTime).Seconds()
	if elapsed <= 0 {
		return nil, nil
	}

	traffic := make(map[string]any, len(current))
	for name, cur := range current {
		old, ok := prev[name]
		if !ok {
			continue
		}
		// Counters are cumulative; a decrease means the interface was reset.
		if cur.BytesRecv < old.BytesRecv || cur.BytesSent < old.BytesSent {
			continue
		}
		traffic[name] = map[string]any{
			"recv_bytes":  float64(cur.BytesRecv-old.BytesRecv) / elapsed,
			"trans_bytes": float64(cur.BytesSent-old.BytesSent) / elapsed,
		}
	}
	if len(traffic) == 0 {
		return nil, nil
	}
	return map[string]any{"networkTraffic": traffic}, nil
}
