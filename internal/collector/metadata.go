package collector

import (
	"log/slog"
	"net"
	"os"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/process"
)

// Metadata cadences. Every kind is also attached on the first run so a fresh
// agent shows up in the backend immediately.
const (
	hostMetadataInterval = 4 * time.Hour
	agentChecksInterval  = 10 * time.Minute
	hostTagsInterval     = 5 * time.Minute
	processesInterval    = time.Minute
	processListLimit     = 20
)

func (c *Collector) attachMetadata(payload map[string]any, now time.Time, firstRun bool) {
	if firstRun || c.metadataDue("host_metadata", now, hostMetadataInterval) {
		payload["systemStats"] = systemStats()
		payload["meta"] = c.hostMetadata(now)
	}
	if firstRun || c.metadataDue("agent_checks", now, agentChecksInterval) {
		payload["agent_checks"] = c.agentChecksMetadata()
	}
	if firstRun || c.metadataDue("host_tags", now, hostTagsInterval) {
		if tags := c.hostTags(); len(tags) > 0 {
			payload["host-tags"] = map[string]any{"system": tags}
		}
	}
	if firstRun || c.metadataDue("processes", now, processesInterval) {
		if procs := topProcesses(); len(procs) > 0 {
			payload["processes"] = map[string]any{
				"processes": procs,
				"host":      c.hostname,
			}
		}
	}
}

func (c *Collector) metadataDue(kind string, now time.Time, interval time.Duration) bool {
	last, ok := c.lastMeta[kind]
	if ok && now.Sub(last) < interval {
		return false
	}
	c.lastMeta[kind] = now
	return true
}

func (c *Collector) hostMetadata(now time.Time) map[string]any {
	meta := map[string]any{"hostname": c.hostname}
	if socketHost, err := os.Hostname(); err == nil {
		meta["socket-hostname"] = socketHost
		meta["socket-fqdn"] = fqdn(socketHost)
	}
	zone, _ := now.Zone()
	meta["timezones"] = []string{zone}
	return meta
}

// fqdn resolves the fully qualified name for a host, falling back to the
// bare name when reverse lookup is unavailable.
func fqdn(hostname string) string {
	addrs, err := net.LookupHost(hostname)
	if err != nil || len(addrs) == 0 {
		return hostname
	}
	names, err := net.LookupAddr(addrs[0])
	if err != nil || len(names) == 0 {
		return hostname
	}
	return strings.TrimSuffix(names[0], ".")
}

func systemStats() map[string]any {
	stats := map[string]any{
		"machine":   runtime.GOARCH,
		"cpuCores":  runtime.NumCPU(),
		"goVersion": runtime.Version(),
	}
	if info, err := host.Info(); err == nil {
		stats["platform"] = info.Platform
		stats["platformVersion"] = info.PlatformVersion
		stats["kernelVersion"] = info.KernelVersion
	} else {
		slog.Debug("host info unavailable", "error", err)
	}
	if infos, err := cpu.Info(); err == nil && len(infos) > 0 {
		stats["processor"] = infos[0].ModelName
	}
	return stats
}

// agentChecksMetadata lists every configured check and its init state.
func (c *Collector) agentChecksMetadata() []any {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []any
	for _, lc := range c.loaded {
		out = append(out, []any{lc.Name, lc.Source, "OK", ""})
	}
	for _, ie := range c.initErrors {
		out = append(out, []any{ie.Check, "", "ERROR", ie.Err.Error()})
	}
	return out
}

func (c *Collector) hostTags() []string {
	tags := append([]string(nil), c.cfg.Tags...)
	if c.cfg.CreateCheckTags {
		c.mu.Lock()
		for _, lc := range c.loaded {
			tags = append(tags, "sd_check:"+lc.Name)
		}
		c.mu.Unlock()
	}
	return tags
}

// topProcesses snapshots the heaviest processes by resident memory.
func topProcesses() []any {
	procs, err := process.Processes()
	if err != nil {
		slog.Debug("process list unavailable", "error", err)
		return nil
	}

	type entry struct {
		pid  int32
		name string
		rss  uint64
		cpu  float64
	}
	entries := make([]entry, 0, len(procs))
	for _, p := range procs {
		name, err := p.Name()
		if err != nil {
			continue
		}
		e := entry{pid: p.Pid, name: name}
		if mem, err := p.MemoryInfo(); err == nil && mem != nil {
			e.rss = mem.RSS
		}
		if pct, err := p.CPUPercent(); err == nil {
			e.cpu = pct
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].rss > entries[j].rss })
	if len(entries) > processListLimit {
		entries = entries[:processListLimit]
	}

	out := make([]any, 0, len(entries))
	for _, e := range entries {
		out = append(out, []any{e.pid, e.name, e.rss, e.cpu})
	}
	return out
}
