// Package parallel provides the goroutine fan-out helpers used by the CPU
// backend kernels.
package parallel

import (
	"runtime"
	"sync"

	"github.com/klauspost/cpuid/v2"
)

// Config controls parallel execution behavior.
type Config struct {
	Enabled      bool // Whether parallel execution is enabled.
	NumWorkers   int  // Number of worker goroutines to use.
	MinChunkSize int  // Minimum items per goroutine to avoid overhead.
}

// DefaultConfig sizes the worker pool from the CPU topology. Compute-bound
// kernels gain nothing from SMT siblings, so the physical core count is
// preferred when the CPU reports one.
func DefaultConfig() Config {
	n := runtime.NumCPU()
	if pc := cpuid.CPU.PhysicalCores; pc > 0 && pc < n {
		n = pc
	}
	return Config{
		Enabled:      n > 1,
		NumWorkers:   n,
		MinChunkSize: 64,
	}
}

// For executes f(i) for i in [0, n), chunked across workers. Falls back to
// sequential execution when parallelism is disabled or n is below the chunk
// threshold.
func For(n int, f func(i int), cfg Config) {
	if !cfg.Enabled || n < cfg.MinChunkSize {
		for i := 0; i < n; i++ {
			f(i)
		}
		return
	}

	var wg sync.WaitGroup
	chunkSize := max((n+cfg.NumWorkers-1)/cfg.NumWorkers, cfg.MinChunkSize)

	for start := 0; start < n; start += chunkSize {
		end := min(start+chunkSize, n)
		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			for i := s; i < e; i++ {
				f(i)
			}
		}(start, end)
	}
	wg.Wait()
}

// ForBatch iterates a batch*channels grid, the access pattern of the NCHW
// convolution and pooling kernels.
func ForBatch(batch, channels int, f func(b, c int), cfg Config) {
	n := batch * channels
	For(n, func(k int) {
		f(k/channels, k%channels)
	}, cfg)
}
