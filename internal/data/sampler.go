package data

import "math/rand"

// Sampler decides the visit order of dataset positions for one epoch.
// Implementations derive any randomness from the epoch number, so every
// process asking for the same epoch computes the same order without
// coordinating.
type Sampler interface {
	Indices(epoch int) []int
}

// SequentialSampler visits positions in dataset order.
type SequentialSampler struct {
	n int
}

func NewSequentialSampler(n int) *SequentialSampler { return &SequentialSampler{n: n} }

func (s *SequentialSampler) Indices(int) []int {
	indices := make([]int, s.n)
	for i := range indices {
		indices[i] = i
	}
	return indices
}

// RandomSampler reshuffles every epoch with a seed derived from the base
// seed and the epoch.
type RandomSampler struct {
	n    int
	seed int64
}

func NewRandomSampler(n int, seed int64) *RandomSampler {
	return &RandomSampler{n: n, seed: seed}
}

func (s *RandomSampler) Indices(epoch int) []int {
	rng := rand.New(rand.NewSource(s.seed + int64(epoch))) //nolint:gosec // shuffling, not secrets
	return rng.Perm(s.n)
}

// DistributedSampler deals a rank-disjoint share of the dataset to each
// process. The order is reshuffled per epoch from seed+epoch, identically
// on every rank, then padded by wrapping so all ranks get the same count
// and rank r takes every worldSize-th position starting at r.
type DistributedSampler struct {
	n         int
	worldSize int
	rank      int
	seed      int64
	shuffle   bool
}

func NewDistributedSampler(n, worldSize, rank int, seed int64, shuffle bool) *DistributedSampler {
	if worldSize < 1 {
		worldSize = 1
	}
	if rank < 0 || rank >= worldSize {
		rank = 0
	}
	return &DistributedSampler{n: n, worldSize: worldSize, rank: rank, seed: seed, shuffle: shuffle}
}

func (s *DistributedSampler) Indices(epoch int) []int {
	var order []int
	if s.shuffle {
		rng := rand.New(rand.NewSource(s.seed + int64(epoch))) //nolint:gosec // shuffling, not secrets
		order = rng.Perm(s.n)
	} else {
		order = make([]int, s.n)
		for i := range order {
			order[i] = i
		}
	}

	// Pad to a multiple of worldSize by wrapping from the front.
	perRank := (s.n + s.worldSize - 1) / s.worldSize
	total := perRank * s.worldSize
	for i := s.n; i < total; i++ {
		order = append(order, order[i-s.n])
	}

	own := make([]int, 0, perRank)
	for i := s.rank; i < total; i += s.worldSize {
		own = append(own, order[i])
	}
	return own
}
