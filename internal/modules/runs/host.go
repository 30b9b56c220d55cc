package runs

import (
	"os"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// HostInfo records the machine a run executed on
type HostInfo struct {
	Hostname       string  `json:"hostname"`
	OS             string  `json:"os"`
	Arch           string  `json:"arch"`
	GoMaxProcs     int     `json:"gomaxprocs"`
	CPUCount       int     `json:"cpu_count"`
	CPUPercent     float64 `json:"cpu_percent"`
	MemTotalMB     uint64  `json:"mem_total_mb"`
	MemUsedPercent float64 `json:"mem_used_percent"`
}

// CollectHostInfo samples the host. Failures leave the affected fields zero.
func CollectHostInfo(log zerolog.Logger) HostInfo {
	info := HostInfo{
		OS:         runtime.GOOS,
		Arch:       runtime.GOARCH,
		GoMaxProcs: runtime.GOMAXPROCS(0),
	}

	if name, err := os.Hostname(); err == nil {
		info.Hostname = name
	}

	if n, err := cpu.Counts(true); err != nil {
		log.Warn().Err(err).Msg("Failed to get CPU count")
	} else {
		info.CPUCount = n
	}

	if pct, err := cpu.Percent(100*time.Millisecond, false); err != nil {
		log.Warn().Err(err).Msg("Failed to get CPU percentage")
	} else if len(pct) > 0 {
		info.CPUPercent = pct[0]
	}

	if vm, err := mem.VirtualMemory(); err != nil {
		log.Warn().Err(err).Msg("Failed to get memory statistics")
	} else {
		info.MemTotalMB = vm.Total / 1024 / 1024
		info.MemUsedPercent = vm.UsedPercent
	}

	return info
}
