// Package telemetry gathers host and process statistics for the status endpoint
package telemetry

import (
	"context"
	"log/slog"
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// Memory describes the supervisor's own memory use
type Memory struct {
	RSS       uint64 `json:"rss"`
	HeapAlloc uint64 `json:"heapAlloc"`
	HeapSys   uint64 `json:"heapSys"`
}

// SystemMemory describes host memory
type SystemMemory struct {
	Total       uint64  `json:"total"`
	Free        uint64  `json:"free"`
	Used        uint64  `json:"used"`
	UsedPercent float64 `json:"usedPercent"`
}

// Snapshot is a point-in-time view of the host and the supervisor process
type Snapshot struct {
	Memory       Memory       `json:"memory"`
	SystemMemory SystemMemory `json:"systemMemory"`
	LoadAvg      []float64    `json:"loadAvg"`
	Hostname     string       `json:"hostname"`
	Platform     string       `json:"platform"`
}

// Collect gathers a Snapshot. Probes that fail leave their fields zero.
func Collect(ctx context.Context) Snapshot {
	snap := Snapshot{
		LoadAvg:  []float64{0, 0, 0},
		Platform: runtime.GOOS,
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	snap.Memory.HeapAlloc = ms.HeapAlloc
	snap.Memory.HeapSys = ms.HeapSys

	if proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid())); err == nil {
		if info, err := proc.MemoryInfoWithContext(ctx); err == nil {
			snap.Memory.RSS = info.RSS
		} else {
			slog.Debug("Failed to read process memory", "error", err)
		}
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		snap.SystemMemory = SystemMemory{
			Total:       vm.Total,
			Free:        vm.Available,
			Used:        vm.Used,
			UsedPercent: vm.UsedPercent,
		}
	} else {
		slog.Debug("Failed to read system memory", "error", err)
	}

	if avg, err := load.AvgWithContext(ctx); err == nil {
		snap.LoadAvg = []float64{avg.Load1, avg.Load5, avg.Load15}
	} else {
		slog.Debug("Failed to read load average", "error", err)
	}

	if info, err := host.InfoWithContext(ctx); err == nil {
		snap.Hostname = info.Hostname
		if info.OS != "" {
			snap.Platform = info.OS
		}
	} else {
		slog.Debug("Failed to read host info", "error", err)
		snap.Hostname, _ = os.Hostname()
	}

	return snap
}
