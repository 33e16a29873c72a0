package distributed

import (
	"context"
	"errors"
	"net"
	"reflect"
	"sync"
	"testing"
	"time"
)

// buildGroup forms a loopback TCP group of the given size. Rank 0 gets a
// pre-bound listener so the workers know the port before dialing.
func buildGroup(t *testing.T, worldSize int) []Group {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ctx := context.Background()

	groups := make([]Group, worldSize)
	errs := make([]error, worldSize)
	var wg sync.WaitGroup
	wg.Add(worldSize)
	go func() {
		defer wg.Done()
		cfg := Config{WorldSize: worldSize, Rank: 0, Coordinator: addr}
		groups[0], errs[0] = newCoordinator(ctx, cfg, ln)
	}()
	for rank := 1; rank < worldSize; rank++ {
		go func(rank int) {
			defer wg.Done()
			cfg := Config{WorldSize: worldSize, Rank: rank, Coordinator: addr, DialTimeout: 5 * time.Second}
			groups[rank], errs[rank] = NewTCPGroup(ctx, cfg)
		}(rank)
	}
	wg.Wait()

	for rank, err := range errs {
		if err != nil {
			t.Fatalf("rank %d join: %v", rank, err)
		}
	}
	t.Cleanup(func() {
		for _, g := range groups {
			g.Close()
		}
	})
	return groups
}

func TestSingleProcess(t *testing.T) {
	g := SingleProcess{}
	if g.Rank() != 0 || g.WorldSize() != 1 {
		t.Fatalf("rank/world = %d/%d, want 0/1", g.Rank(), g.WorldSize())
	}

	got, err := g.AllGatherFloat32(context.Background(), "loss", []float32{1, 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || !reflect.DeepEqual(got[0], []float32{1, 2}) {
		t.Errorf("gather = %v, want [[1 2]]", got)
	}
	if err := g.Barrier(context.Background()); err != nil {
		t.Errorf("barrier: %v", err)
	}
}

func TestTCPAllGatherOrdersByRank(t *testing.T) {
	const world = 3
	groups := buildGroup(t, world)

	results := make([][][]float32, world)
	errs := make([]error, world)
	var wg sync.WaitGroup
	wg.Add(world)
	for rank, g := range groups {
		go func(rank int, g Group) {
			defer wg.Done()
			results[rank], errs[rank] = g.AllGatherFloat32(context.Background(), "loss", []float32{float32(rank), float32(rank) * 10})
		}(rank, g)
	}
	wg.Wait()

	want := [][]float32{{0, 0}, {1, 10}, {2, 20}}
	for rank := 0; rank < world; rank++ {
		if errs[rank] != nil {
			t.Fatalf("rank %d: %v", rank, errs[rank])
		}
		if !reflect.DeepEqual(results[rank], want) {
			t.Errorf("rank %d got %v, want %v", rank, results[rank], want)
		}
	}
}

func TestTCPAllGatherInt64(t *testing.T) {
	const world = 2
	groups := buildGroup(t, world)

	results := make([][][]int64, world)
	errs := make([]error, world)
	var wg sync.WaitGroup
	wg.Add(world)
	for rank, g := range groups {
		go func(rank int, g Group) {
			defer wg.Done()
			// Rank r contributes r+1 values so lengths differ per rank.
			values := make([]int64, rank+1)
			for i := range values {
				values[i] = int64(rank*100 + i)
			}
			results[rank], errs[rank] = g.AllGatherInt64(context.Background(), "indices", values)
		}(rank, g)
	}
	wg.Wait()

	want := [][]int64{{0}, {100, 101}}
	for rank := 0; rank < world; rank++ {
		if errs[rank] != nil {
			t.Fatalf("rank %d: %v", rank, errs[rank])
		}
		if !reflect.DeepEqual(results[rank], want) {
			t.Errorf("rank %d got %v, want %v", rank, results[rank], want)
		}
	}
}

func TestTCPBarrier(t *testing.T) {
	const world = 3
	groups := buildGroup(t, world)

	errs := make([]error, world)
	var wg sync.WaitGroup
	wg.Add(world)
	for rank, g := range groups {
		go func(rank int, g Group) {
			defer wg.Done()
			errs[rank] = g.Barrier(context.Background())
		}(rank, g)
	}
	wg.Wait()

	for rank, err := range errs {
		if err != nil {
			t.Errorf("rank %d barrier: %v", rank, err)
		}
	}
}

func TestTCPCancellationUnblocks(t *testing.T) {
	groups := buildGroup(t, 2)

	// Rank 1 enters a round alone; rank 0 never joins, so only the
	// context can unblock it.
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := groups[1].Barrier(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want context.DeadlineExceeded", err)
	}
}

func TestTCPClosedGroup(t *testing.T) {
	groups := buildGroup(t, 2)
	if err := groups[1].Close(); err != nil {
		t.Fatal(err)
	}
	_, err := groups[1].AllGatherFloat32(context.Background(), "loss", nil)
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
}

func TestSyncedMetricsConcatenates(t *testing.T) {
	const world = 2
	groups := buildGroup(t, world)

	results := make([]map[string][]float32, world)
	errs := make([]error, world)
	var wg sync.WaitGroup
	wg.Add(world)
	for rank, g := range groups {
		go func(rank int, g Group) {
			defer wg.Done()
			metrics := map[string][]float32{
				"loss": {float32(rank * 2)},
				"acc":  {float32(rank*2 + 1)},
			}
			results[rank], errs[rank] = SyncedMetrics(context.Background(), g, metrics)
		}(rank, g)
	}
	wg.Wait()

	want := map[string][]float32{
		"loss": {0, 2},
		"acc":  {1, 3},
	}
	for rank := 0; rank < world; rank++ {
		if errs[rank] != nil {
			t.Fatalf("rank %d: %v", rank, errs[rank])
		}
		if !reflect.DeepEqual(results[rank], want) {
			t.Errorf("rank %d got %v, want %v", rank, results[rank], want)
		}
	}
}

func TestConfigEnvOverrides(t *testing.T) {
	t.Setenv(EnvRank, "2")
	t.Setenv(EnvWorldSize, "4")
	t.Setenv(EnvCoordinator, "10.0.0.1:29500")

	cfg, err := (Config{WorldSize: 1}).WithEnvOverrides()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Rank != 2 || cfg.WorldSize != 4 || cfg.Coordinator != "10.0.0.1:29500" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestConfigEnvRejectsBadInt(t *testing.T) {
	t.Setenv(EnvRank, "two")
	if _, err := (Config{}).WithEnvOverrides(); err == nil {
		t.Error("expected parse error")
	}
}

func TestConfigValidate(t *testing.T) {
	cases := []Config{
		{WorldSize: 0},
		{WorldSize: 2, Rank: 2, Coordinator: "x"},
		{WorldSize: 2, Rank: -1, Coordinator: "x"},
		{WorldSize: 2, Rank: 0},
	}
	for i, cfg := range cases {
		if err := cfg.Validate(); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}
	if err := (Config{WorldSize: 1}).Validate(); err != nil {
		t.Errorf("world of one should validate: %v", err)
	}
}

func TestNewPicksSingleProcess(t *testing.T) {
	g, err := New(context.Background(), Config{WorldSize: 1})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := g.(SingleProcess); !ok {
		t.Fatalf("got %T, want SingleProcess", g)
	}
}
