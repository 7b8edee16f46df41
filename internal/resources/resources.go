// Package resources samples host and Go runtime statistics for reporting.
//
// System figures come from gopsutil. When a figure cannot be read on the
// current platform the snapshot keeps the zero value and the failure is
// logged at DEBUG, so callers never have to handle a partial sample.
package resources

import (
	"runtime"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/tristanlee/substrate/internal/logging"
)

// HostInfo describes the machine. It does not change while the node runs.
type HostInfo struct {
	Hostname string `json:"hostname"`
	OS       string `json:"os"`
	Platform string `json:"platform"`
	Kernel   string `json:"kernel"`
	Arch     string `json:"arch"`
	CPU      string `json:"cpu"`
	CPUCores int    `json:"cpuCores"`
	Memory   uint64 `json:"memory"`
	IsVM     bool   `json:"isVirtualMachine"`
}

// Snapshot is a point-in-time sample of host and runtime usage.
type Snapshot struct {
	Timestamp time.Time `json:"timestamp"`

	MemoryTotal uint64  `json:"memoryTotal"`
	MemoryUsed  uint64  `json:"memoryUsed"`
	MemoryUsage float64 `json:"memoryUsage"`

	Load1  float64 `json:"load1"`
	Load5  float64 `json:"load5"`
	Load15 float64 `json:"load15"`

	GoRoutines int    `json:"goRoutines"`
	GoMemAlloc uint64 `json:"goMemAlloc"`
	GoMemSys   uint64 `json:"goMemSys"`
	GoGCCycles uint32 `json:"goGcCycles"`

	Uptime time.Duration `json:"uptime"`
}

// Host reads static machine information.
func Host() HostInfo {
	info := HostInfo{
		OS:       runtime.GOOS,
		Arch:     runtime.GOARCH,
		CPUCores: runtime.NumCPU(),
	}

	if h, err := host.Info(); err == nil {
		info.Hostname = h.Hostname
		info.Platform = h.Platform
		info.Kernel = h.KernelVersion
		info.IsVM = h.VirtualizationRole == "guest"
	} else {
		logging.Debug("Host info unavailable: %v", err)
	}

	if cpus, err := cpu.Info(); err == nil && len(cpus) > 0 {
		info.CPU = cpus[0].ModelName
	} else if err != nil {
		logging.Debug("CPU info unavailable: %v", err)
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		info.Memory = vm.Total
	}
	return info
}

// Gather takes a snapshot. Uptime is measured from started.
func Gather(started time.Time) *Snapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	s := &Snapshot{
		Timestamp:  time.Now(),
		GoRoutines: runtime.NumGoroutine(),
		GoMemAlloc: memStats.Alloc,
		GoMemSys:   memStats.Sys,
		GoGCCycles: memStats.NumGC,
		Uptime:     time.Since(started),
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		s.MemoryTotal = vm.Total
		s.MemoryUsed = vm.Used
		s.MemoryUsage = vm.UsedPercent
	} else {
		logging.Debug("System memory stats unavailable: %v", err)
	}

	if avg, err := load.Avg(); err == nil {
		s.Load1, s.Load5, s.Load15 = avg.Load1, avg.Load5, avg.Load15
	} else {
		logging.Debug("Load average unavailable: %v", err)
	}

	return s
}

// Summary renders the snapshot for log lines.
func (s *Snapshot) Summary() string {
	return "mem " + humanize.IBytes(s.MemoryUsed) + "/" + humanize.IBytes(s.MemoryTotal) +
		", heap " + humanize.IBytes(s.GoMemAlloc) +
		", goroutines " + humanize.Comma(int64(s.GoRoutines))
}
