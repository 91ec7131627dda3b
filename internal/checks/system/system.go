// Package system implements the host-level checks that run every collection
// cycle regardless of conf.d: cpu, memory, load, disk usage, disk io,
// network traffic, processes, file handles and uptime. Unlike integration
// checks they contribute fragments merged into the top level of the payload.
package system

// Check is a system check producing a payload fragment.
type Check interface {
	Name() string
	Collect() (map[string]any, error)
}

// Checks returns the full system check set in collection order.
func Checks() []Check {
	return []Check{
		NewLoad(),
		NewCPU(),
		NewMemory(),
		NewDisk(),
		NewIO(),
		NewNetwork(),
		NewProcesses(),
		NewFileHandles(),
		NewUptime(),
	}
}
