package parallel

import (
	"sync/atomic"
	"testing"
)

func TestForCoversRange(t *testing.T) {
	cfg := DefaultConfig()

	seen := make([]int32, 1000)
	For(len(seen), func(i int) {
		atomic.AddInt32(&seen[i], 1)
	}, cfg)

	for i, v := range seen {
		if v != 1 {
			t.Fatalf("index %d visited %d times, want exactly once", i, v)
		}
	}
}

func TestForSequentialFallback(t *testing.T) {
	var counter int64
	For(100, func(_ int) {
		atomic.AddInt64(&counter, 1)
	}, Config{Enabled: false})

	if counter != 100 {
		t.Errorf("visited %d, want 100", counter)
	}
}

func TestForBelowChunkThreshold(t *testing.T) {
	cfg := DefaultConfig()
	n := cfg.MinChunkSize - 1

	var counter int64
	For(n, func(_ int) {
		atomic.AddInt64(&counter, 1)
	}, cfg)

	if counter != int64(n) {
		t.Errorf("visited %d, want %d", counter, n)
	}
}

func TestForBatchGrid(t *testing.T) {
	cfg := DefaultConfig()
	batch, channels := 4, 8

	var hits [4][8]int32
	ForBatch(batch, channels, func(b, c int) {
		atomic.AddInt32(&hits[b][c], 1)
	}, cfg)

	for b := 0; b < batch; b++ {
		for c := 0; c < channels; c++ {
			if hits[b][c] != 1 {
				t.Errorf("cell [%d][%d] visited %d times", b, c, hits[b][c])
			}
		}
	}
}

func TestDefaultConfigWorkers(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.NumWorkers < 1 {
		t.Errorf("NumWorkers = %d, want >= 1", cfg.NumWorkers)
	}
}
