package reindex

import (
	"context"
	"runtime"

	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
)

const (
	lowMemoryMB      = 1024
	highSystemLoad   = 0.8
	bytesPerMegabyte = 1024 * 1024
)

// SystemContext describes the resources available for a reindex.
// Zero values mean "unknown" and are ignored by RecommendedStrategy.
type SystemContext struct {
	AvailableMemoryMB    int
	CPUCores             int
	ConcurrentOperations int
	// SystemLoad is the one-minute load average divided by the core count.
	SystemLoad       float64
	RepositorySizeMB float64
	IsProduction     bool
}

// RecommendedStrategy picks an execution strategy from resource pressure.
func (s SystemContext) RecommendedStrategy() Strategy {
	if (s.AvailableMemoryMB > 0 && s.AvailableMemoryMB < lowMemoryMB) || s.SystemLoad > highSystemLoad {
		return StrategyProgressive
	}
	if s.IsProduction || s.ConcurrentOperations > 0 {
		return StrategyBlueGreen
	}
	return StrategyInPlace
}

// DetectSystemContext fills memory, core count and load from the host.
// Probing failures leave the corresponding field at its zero value.
func DetectSystemContext(ctx context.Context, repoSizeMB float64) SystemContext {
	sc := SystemContext{
		CPUCores:         runtime.NumCPU(),
		RepositorySizeMB: repoSizeMB,
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		sc.AvailableMemoryMB = int(vm.Available / bytesPerMegabyte)
	}
	if avg, err := load.AvgWithContext(ctx); err == nil && sc.CPUCores > 0 {
		sc.SystemLoad = avg.Load1 / float64(sc.CPUCores)
	}
	return sc
}
