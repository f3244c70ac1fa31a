// Package hostinfo samples host health for status replies and the status
// endpoint. The watchdog runs on the same machine as the game server, so
// host pressure is part of every status picture.
package hostinfo

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// Snapshot is a point-in-time sample of host health.
type Snapshot struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemPercent    float64 `json:"mem_percent"`
	MemUsedMB     uint64  `json:"mem_used_mb"`
	MemTotalMB    uint64  `json:"mem_total_mb"`
	LoadAvg1      float64 `json:"load_avg_1"`
	LoadAvg5      float64 `json:"load_avg_5"`
	LoadAvg15     float64 `json:"load_avg_15"`
	SampleErrors  int     `json:"sample_errors,omitempty"`
}

// Sample collects a host health snapshot. Individual probe failures are
// counted, not fatal; the snapshot carries whatever could be read.
func Sample() Snapshot {
	var snap Snapshot

	if cpuPercent, err := cpu.Percent(0, false); err == nil && len(cpuPercent) > 0 {
		snap.CPUPercent = cpuPercent[0]
	} else {
		snap.SampleErrors++
	}

	if memInfo, err := mem.VirtualMemory(); err == nil && memInfo != nil {
		snap.MemPercent = memInfo.UsedPercent
		snap.MemUsedMB = memInfo.Used / 1024 / 1024
		snap.MemTotalMB = memInfo.Total / 1024 / 1024
	} else {
		snap.SampleErrors++
	}

	if loadAvg, err := load.Avg(); err == nil && loadAvg != nil {
		snap.LoadAvg1 = loadAvg.Load1
		snap.LoadAvg5 = loadAvg.Load5
		snap.LoadAvg15 = loadAvg.Load15
	} else {
		snap.SampleErrors++
	}

	return snap
}

// String renders the snapshot for a chat reply.
func (s Snapshot) String() string {
	return fmt.Sprintf("host: cpu %.0f%%, mem %.0f%% (%d/%d MB), load %.2f",
		s.CPUPercent, s.MemPercent, s.MemUsedMB, s.MemTotalMB, s.LoadAvg1)
}
