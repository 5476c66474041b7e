package monitor

import (
	"fmt"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"
)

// Capacity describes the host the planner runs on
type Capacity struct {
	LogicalCPUs  int     `json:"logical_cpus"`
	PhysicalCPUs int     `json:"physical_cpus"`
	MemoryTotal  uint64  `json:"memory_total"`
	MemoryUsed   float64 `json:"memory_used_percent"`
}

// ProbeCapacity reads CPU and memory figures from the host
func ProbeCapacity() (*Capacity, error) {
	logical, err := cpu.Counts(true)
	if err != nil {
		return nil, fmt.Errorf("failed to count logical CPUs: %w", err)
	}
	// Physical counts are unavailable in some containers; zero means unknown.
	physical, _ := cpu.Counts(false)
	memInfo, err := mem.VirtualMemory()
	if err != nil {
		return nil, fmt.Errorf("failed to get memory usage: %w", err)
	}
	return &Capacity{
		LogicalCPUs:  logical,
		PhysicalCPUs: physical,
		MemoryTotal:  memInfo.Total,
		MemoryUsed:   memInfo.UsedPercent,
	}, nil
}

// DefaultConcurrency returns configured when positive, otherwise the number
// of logical CPUs. It falls back to runtime.NumCPU if the probe fails.
func DefaultConcurrency(configured int, logger *zap.Logger) int {
	if configured > 0 {
		return configured
	}
	logical, err := cpu.Counts(true)
	if err != nil || logical < 1 {
		logger.Warn("Failed to count logical CPUs, using runtime count",
			zap.Error(err),
			zap.Int("cpus", runtime.NumCPU()))
		return runtime.NumCPU()
	}
	return logical
}
