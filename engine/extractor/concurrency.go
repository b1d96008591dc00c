package extractor

import "runtime"

// fallbackConcurrency is used when host parallelism cannot be detected
const fallbackConcurrency = 4

// CapacityFunc reports how many page tasks may be active at once
type CapacityFunc func() int

// MaxConcurrency sizes the worker pool from the number of cores. Small hosts
// are oversubscribed since rendering mixes I/O with CPU work; large hosts are
// held back to keep per-context caches warm.
func MaxConcurrency(cores int) int {
	switch {
	case cores < 1:
		return fallbackConcurrency
	case cores <= 4:
		return cores * 2
	case cores <= 8:
		return cores + 2
	case cores <= 16:
		return cores
	default:
		return min(cores*3/4, 32)
	}
}

// HostCapacity applies MaxConcurrency to the cores visible to this process
func HostCapacity() int {
	return MaxConcurrency(runtime.NumCPU())
}

// FixedCapacity returns a CapacityFunc that always reports n
func FixedCapacity(n int) CapacityFunc {
	return func() int { return n }
}
