// Package resource snapshots host CPU, memory, disk, and uptime so the
// Think Loop can gate recommendation execution on available headroom.
package resource

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
)

// Snapshot is one point-in-time host health reading.
type Snapshot struct {
	CPUPercent      float64
	MemTotalMB      int64
	MemAvailableMB  int64
	MemUsedPercent  float64
	DiskTotalGB     float64
	DiskUsedPercent float64
	// DiskAvailable is false when the disk probe failed (e.g. an
	// unreadable mount); callers should treat disk fields as absent
	// rather than zero in that case.
	DiskAvailable bool
	UptimeSeconds uint64
	CollectedAt   time.Time
}

// diskPath is the filesystem mount probed for disk usage. The supervisor
// cares about the host's general free space, not any one project's volume.
const diskPath = "/"

// Collect samples CPU/mem/disk/uptime. CPU sampling blocks for the given
// interval (a short, non-zero duration gives a real instantaneous reading
// instead of the since-boot average).
func Collect(ctx context.Context, cpuSampleInterval time.Duration) (Snapshot, error) {
	snap := Snapshot{CollectedAt: time.Now()}

	cpuPercents, err := cpu.PercentWithContext(ctx, cpuSampleInterval, false)
	if err != nil {
		return Snapshot{}, fmt.Errorf("resource: cpu percent: %w", err)
	}
	if len(cpuPercents) > 0 {
		snap.CPUPercent = cpuPercents[0]
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("resource: virtual memory: %w", err)
	}
	snap.MemTotalMB = int64(vm.Total / (1024 * 1024))
	snap.MemAvailableMB = int64(vm.Available / (1024 * 1024))
	snap.MemUsedPercent = vm.UsedPercent

	if du, err := disk.UsageWithContext(ctx, diskPath); err == nil {
		snap.DiskAvailable = true
		snap.DiskTotalGB = float64(du.Total) / (1024 * 1024 * 1024)
		snap.DiskUsedPercent = du.UsedPercent
	}

	if info, err := host.InfoWithContext(ctx); err == nil {
		snap.UptimeSeconds = info.Uptime
	}

	return snap, nil
}

// HasHeadroom reports whether available memory clears the configured
// minimum, the single gate the Think Loop checks before invoking the LLM.
func (s Snapshot) HasHeadroom(minFreeMemoryMB int64) bool {
	if minFreeMemoryMB <= 0 {
		return true
	}
	return s.MemAvailableMB >= minFreeMemoryMB
}
