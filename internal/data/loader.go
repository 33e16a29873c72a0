package data

import (
	"errors"
	"fmt"

	"github.com/kiln-ml/kiln/internal/tensor"
)

// ErrExhausted signals the end of an iteration pass. A fresh pass starts
// with Reset.
var ErrExhausted = errors.New("data: loader exhausted")

// Batch is one collated group of samples. Data is [N, C, H, W] float32,
// Labels is [N] int32, Indices maps each row back to its dataset sample.
type Batch struct {
	Data    *tensor.RawTensor
	Labels  *tensor.RawTensor
	Indices []int64
	Size    int
}

// Loader batches a dataset in the order its sampler dictates. The final
// batch of a pass may be smaller than the batch size.
type Loader struct {
	dataset   Dataset
	sampler   Sampler
	batchSize int

	epoch   int
	indices []int
	cursor  int
}

func NewLoader(dataset Dataset, sampler Sampler, batchSize int) (*Loader, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("data: batch size must be positive, got %d", batchSize)
	}
	l := &Loader{dataset: dataset, sampler: sampler, batchSize: batchSize}
	l.Reset()
	return l, nil
}

// SetEpoch changes the epoch that seeds the sampler on the next Reset.
func (l *Loader) SetEpoch(epoch int) { l.epoch = epoch }

// Reset starts a new pass with indices for the current epoch.
func (l *Loader) Reset() {
	l.indices = l.sampler.Indices(l.epoch)
	l.cursor = 0
}

// NumBatches is the number of batches one full pass yields.
func (l *Loader) NumBatches() int {
	return (len(l.indices) + l.batchSize - 1) / l.batchSize
}

// Next returns the next batch or ErrExhausted at the end of the pass.
func (l *Loader) Next() (*Batch, error) {
	if l.cursor >= len(l.indices) {
		return nil, ErrExhausted
	}

	end := l.cursor + l.batchSize
	if end > len(l.indices) {
		end = len(l.indices)
	}
	positions := l.indices[l.cursor:end]
	l.cursor = end

	return l.collate(positions)
}

func (l *Loader) collate(positions []int) (*Batch, error) {
	n := len(positions)

	first, err := l.dataset.At(positions[0])
	if err != nil {
		return nil, err
	}
	sampleShape := first.Data.Shape()
	batchShape := append(tensor.Shape{n}, sampleShape...)

	data, err := tensor.NewRaw(batchShape, tensor.Float32, tensor.CPU)
	if err != nil {
		return nil, fmt.Errorf("data: allocating batch: %w", err)
	}
	labels, err := tensor.NewRaw(tensor.Shape{n}, tensor.Int32, tensor.CPU)
	if err != nil {
		return nil, fmt.Errorf("data: allocating labels: %w", err)
	}

	batch := &Batch{
		Data:    data,
		Labels:  labels,
		Indices: make([]int64, n),
		Size:    n,
	}

	values := data.AsFloat32()
	labelData := labels.AsInt32()
	sampleSize := sampleShape.NumElements()

	for row, pos := range positions {
		sample := first
		if row > 0 {
			if sample, err = l.dataset.At(pos); err != nil {
				return nil, err
			}
			if !sample.Data.Shape().Equal(sampleShape) {
				return nil, fmt.Errorf("data: sample %d has shape %v, batch has %v",
					pos, sample.Data.Shape(), sampleShape)
			}
		}
		copy(values[row*sampleSize:(row+1)*sampleSize], sample.Data.AsFloat32())
		labelData[row] = sample.Label
		batch.Indices[row] = sample.Index
	}
	return batch, nil
}
