// Package data provides datasets, samplers and the batch loader feeding
// the training engine.
package data

import (
	"fmt"
	"math/rand"

	"github.com/kiln-ml/kiln/internal/tensor"
)

// Sample is one dataset element. Data is a CHW float32 tensor; Index is
// the sample's position in the underlying dataset and travels with it
// through subsets and shuffling, so evaluation outputs can be traced back
// to source rows.
type Sample struct {
	Data  *tensor.RawTensor
	Label int32
	Index int64
}

// Dataset is random access to samples.
type Dataset interface {
	Len() int
	At(i int) (Sample, error)
}

// Subset exposes a fixed selection of a parent dataset. Sample indices
// remain the parent's.
type Subset struct {
	parent  Dataset
	indices []int
}

func NewSubset(parent Dataset, indices []int) (*Subset, error) {
	for _, idx := range indices {
		if idx < 0 || idx >= parent.Len() {
			return nil, fmt.Errorf("data: subset index %d out of range [0, %d)", idx, parent.Len())
		}
	}
	return &Subset{parent: parent, indices: indices}, nil
}

func (s *Subset) Len() int { return len(s.indices) }

func (s *Subset) At(i int) (Sample, error) {
	if i < 0 || i >= len(s.indices) {
		return Sample{}, fmt.Errorf("data: index %d out of range [0, %d)", i, len(s.indices))
	}
	return s.parent.At(s.indices[i])
}

// Split shuffles sample positions with the given seed and carves the
// dataset into a training part and a validation part of size
// round(valFraction * len).
func Split(d Dataset, valFraction float64, seed int64) (train, val Dataset, err error) {
	if valFraction < 0 || valFraction >= 1 {
		return nil, nil, fmt.Errorf("data: validation fraction %v outside [0, 1)", valFraction)
	}

	n := d.Len()
	perm := rand.New(rand.NewSource(seed)).Perm(n) //nolint:gosec // shuffling, not secrets
	valSize := int(float64(n)*valFraction + 0.5)

	val, err = NewSubset(d, perm[:valSize])
	if err != nil {
		return nil, nil, err
	}
	train, err = NewSubset(d, perm[valSize:])
	if err != nil {
		return nil, nil, err
	}
	return train, val, nil
}
