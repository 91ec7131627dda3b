package system

import (
	"fmt"
	"strings"

	"github.com/shirou/gopsutil/v4/disk"
)

// Disk reports filesystem usage for real mounted filesystems. Pseudo
// filesystems (proc, sysfs, tmpfs and friends) are excluded.
type Disk struct {
	partitions func() ([]disk.PartitionStat, error)
	usage      func(path string) (*disk.UsageStat, error)
}

func NewDisk() *Disk {
	return &Disk{
		partitions: func() ([]disk.PartitionStat, error) { return disk.Partitions(false) },
		usage:      disk.Usage,
	}
}

func (d *Disk) Name() string { return "disk" }

func (d *Disk) Collect() (map[string]any, error) {
	parts, err := d.partitions()
	if err != nil {
		return nil, fmt.Errorf("list partitions: %w", err)
	}

	var rows []any
	seen := map[string]bool{}
	for _, p := range parts {
		if seen[p.Mountpoint] || skipFilesystem(p.Fstype) {
			continue
		}
		seen[p.Mountpoint] = true

		u, err := d.usage(p.Mountpoint)
		if err != nil || u == nil || u.Total == 0 {
			continue
		}
		// Row layout matches df -k output: device, total, used, available,
		// percent used, mount point.
		rows = append(rows, []any{
			p.Device,
			u.Total / 1024,
			u.Used / 1024,
			u.Free / 1024,
			fmt.Sprintf("%.0f%%", u.UsedPercent),
			p.Mountpoint,
		})
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return map[string]any{"diskUsage": rows}, nil
}

func skipFilesystem(fstype string) bool {
	switch strings.ToLower(fstype) {
	case "tmpfs", "devtmpfs", "devfs", "proc", "sysfs", "cgroup", "cgroup2",
		"overlay", "squashfs", "autofs", "debugfs", "tracefs", "fusectl",
		"configfs", "securityfs", "pstore", "mqueue", "hugetlbfs", "bpf":
		return true
	}
	return false
}
