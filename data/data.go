// Copyright 2026 Kiln ML Engine. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package data provides dataset loading, splitting and batching for the
// Kiln engine.
//
// This package wraps the internal data implementations and provides a
// clean public API for feeding training and evaluation loops.
//
// Components:
//   - Dataset: random-access sample collections (ArrayDataset, Subset)
//   - Samplers: sequential, shuffled and distributed index orders
//   - Loader: collates samples into [N, C, H, W] batches
//   - LoadIDX: reads IDX image/label file pairs (the MNIST format)
//
// Example usage:
//
//	import (
//	    "github.com/kiln-ml/kiln/data"
//	)
//
//	dataset, err := data.LoadIDX("train-images-idx3-ubyte", "train-labels-idx1-ubyte")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	train, val, err := data.Split(dataset, 0.1, 42)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	loader, err := data.NewLoader(train, data.NewRandomSampler(train.Len(), 42), 64)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	for {
//	    batch, err := loader.Next()
//	    if errors.Is(err, data.ErrExhausted) {
//	        break
//	    }
//	    // train on batch.Data / batch.Labels
//	}
package data

import (
	"github.com/kiln-ml/kiln/internal/data"
	"github.com/kiln-ml/kiln/internal/tensor"
)

// Datasets

// Sample is one dataset element: float32 data, an int32 class label and
// the sample's stable index within the dataset.
type Sample = data.Sample

// Dataset is a random-access collection of samples.
type Dataset = data.Dataset

// ArrayDataset holds all samples in one contiguous float32 array.
type ArrayDataset = data.ArrayDataset

// NewArrayDataset creates a dataset over values, where each sample has
// sampleShape and labels holds one class label per sample.
func NewArrayDataset(values []float32, sampleShape tensor.Shape, labels []int32) (*ArrayDataset, error) {
	return data.NewArrayDataset(values, sampleShape, labels)
}

// Subset exposes a subset of a parent dataset. Samples keep the parent's
// indices, so evaluation outputs can be traced back to source rows.
type Subset = data.Subset

// NewSubset creates a view over parent restricted to the given positions.
func NewSubset(parent Dataset, indices []int) (*Subset, error) {
	return data.NewSubset(parent, indices)
}

// Split partitions a dataset into disjoint train and validation subsets.
// valFraction of the samples (rounded) go to validation; the shuffle is
// seeded, so every process that splits with the same seed gets the same
// partition.
func Split(d Dataset, valFraction float64, seed int64) (train, val Dataset, err error) {
	return data.Split(d, valFraction, seed)
}

// LoadIDX reads an IDX image file and its label file into an ArrayDataset.
// Pixel bytes are scaled to [0, 1] float32 and each sample is shaped
// [1, rows, cols].
func LoadIDX(imagesPath, labelsPath string) (*ArrayDataset, error) {
	return data.LoadIDX(imagesPath, labelsPath)
}

// Samplers

// Sampler produces the index order for one pass over a dataset.
type Sampler = data.Sampler

// SequentialSampler visits samples in dataset order.
type SequentialSampler = data.SequentialSampler

// NewSequentialSampler creates a sampler over n samples in order.
func NewSequentialSampler(n int) *SequentialSampler {
	return data.NewSequentialSampler(n)
}

// RandomSampler shuffles all indices each epoch, reseeded per epoch so
// passes differ but runs reproduce.
type RandomSampler = data.RandomSampler

// NewRandomSampler creates a shuffling sampler over n samples.
func NewRandomSampler(n int, seed int64) *RandomSampler {
	return data.NewRandomSampler(n, seed)
}

// DistributedSampler partitions indices across processes so each rank
// sees a disjoint, near-equal share of every epoch.
type DistributedSampler = data.DistributedSampler

// NewDistributedSampler creates a sampler for one rank of a process group.
func NewDistributedSampler(n, worldSize, rank int, seed int64, shuffle bool) *DistributedSampler {
	return data.NewDistributedSampler(n, worldSize, rank, seed, shuffle)
}

// Loading

// ErrExhausted signals the end of an iteration pass. A fresh pass starts
// with Reset.
var ErrExhausted = data.ErrExhausted

// Batch is one collated group of samples. Data is [N, C, H, W] float32,
// Labels is [N] int32, Indices maps each row back to its dataset sample.
type Batch = data.Batch

// Loader batches a dataset in the order its sampler dictates. The final
// batch of a pass may be smaller than the batch size.
type Loader = data.Loader

// NewLoader creates a loader and primes it for the first pass.
//
// Example:
//
//	loader, err := data.NewLoader(dataset, data.NewSequentialSampler(dataset.Len()), 32)
func NewLoader(dataset Dataset, sampler Sampler, batchSize int) (*Loader, error) {
	return data.NewLoader(dataset, sampler, batchSize)
}
