// Package distributed synchronizes metric and result vectors across the
// processes of a data-parallel run. Ranks exchange values through named
// all-gather rounds; parameters and gradients never cross process
// boundaries.
package distributed

import (
	"context"
	"sort"
)

// Group is a set of cooperating processes. Every rank must call the same
// collectives with the same names in the same order.
type Group interface {
	// Rank is this process's position in the group, 0-based.
	Rank() int

	// WorldSize is the total number of processes in the group.
	WorldSize() int

	// AllGatherFloat32 contributes values to the named round and returns
	// every rank's contribution, ordered by rank. All ranks receive the
	// same result.
	AllGatherFloat32(ctx context.Context, name string, values []float32) ([][]float32, error)

	// AllGatherInt64 is AllGatherFloat32 for int64 vectors.
	AllGatherInt64(ctx context.Context, name string, values []int64) ([][]int64, error)

	// Barrier blocks until every rank has reached it.
	Barrier(ctx context.Context) error

	// Close releases the group's connections. The group is unusable
	// afterwards.
	Close() error
}

// SingleProcess is the Group for a world of one. Collectives return the
// caller's own values and Barrier is a no-op.
type SingleProcess struct{}

func (SingleProcess) Rank() int      { return 0 }
func (SingleProcess) WorldSize() int { return 1 }

func (SingleProcess) AllGatherFloat32(_ context.Context, _ string, values []float32) ([][]float32, error) {
	return [][]float32{values}, nil
}

func (SingleProcess) AllGatherInt64(_ context.Context, _ string, values []int64) ([][]int64, error) {
	return [][]int64{values}, nil
}

func (SingleProcess) Barrier(context.Context) error { return nil }
func (SingleProcess) Close() error                  { return nil }

// SyncedMetrics all-gathers every named vector and returns each one with
// the ranks' values concatenated in rank order. Names are visited in
// sorted order so every rank runs the same collective sequence.
func SyncedMetrics(ctx context.Context, g Group, metrics map[string][]float32) (map[string][]float32, error) {
	names := make([]string, 0, len(metrics))
	for name := range metrics {
		names = append(names, name)
	}
	sort.Strings(names)

	synced := make(map[string][]float32, len(metrics))
	for _, name := range names {
		parts, err := g.AllGatherFloat32(ctx, name, metrics[name])
		if err != nil {
			return nil, err
		}
		total := 0
		for _, part := range parts {
			total += len(part)
		}
		merged := make([]float32, 0, total)
		for _, part := range parts {
			merged = append(merged, part...)
		}
		synced[name] = merged
	}
	return synced, nil
}
