// Copyright 2026 Kiln ML Engine. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package nn

import (
	"github.com/kiln-ml/kiln/internal/nn"
	"github.com/kiln-ml/kiln/internal/tensor"
)

// Module is the base interface for all neural network components.
//
// Every module implements:
//   - Forward: compute output from input
//   - Parameters: return all trainable parameters
//   - StateDict: export persistent tensors for serialization
//   - LoadStateDict: import persistent tensors from a checkpoint
//
// Modules compose into larger architectures:
//
//	model := nn.NewSequential(
//	    nn.NewLinear(784, 128, backend),
//	    nn.NewReLU[B](),
//	    nn.NewLinear(128, 10, backend),
//	)
type Module[B tensor.Backend] = nn.Module[B]

// Parameter represents a trainable parameter in a neural network.
type Parameter[B tensor.Backend] = nn.Parameter[B]

// NewParameter creates a new parameter with the given name and tensor.
func NewParameter[B tensor.Backend](name string, t *tensor.Tensor[float32, B]) *Parameter[B] {
	return nn.NewParameter(name, t)
}

// SetTraining flips the train/eval mode of a module. Containers propagate
// the flag to their children; modules without mode-dependent behavior are
// left alone.
func SetTraining[B tensor.Backend](m Module[B], training bool) {
	nn.SetTraining(m, training)
}

// Layers

// Linear represents a fully connected (dense) layer.
type Linear[B tensor.Backend] = nn.Linear[B]

// NewLinear creates a new linear layer with Xavier initialization.
//
// Example:
//
//	backend := cpu.New()
//	layer := nn.NewLinear(784, 128, backend)
func NewLinear[B tensor.Backend](inFeatures, outFeatures int, backend B) *Linear[B] {
	return nn.NewLinear(inFeatures, outFeatures, backend)
}

// Conv2D represents a 2D convolutional layer over NCHW inputs.
type Conv2D[B tensor.Backend] = nn.Conv2D[B]

// NewConv2D creates a new 2D convolutional layer with a square kernel.
//
// Example:
//
//	backend := cpu.New()
//	conv := nn.NewConv2D(1, 32, 3, 1, 1, true, backend)  // in=1, out=32, kernel=3x3, stride=1, padding=1, bias
func NewConv2D[B tensor.Backend](
	inChannels, outChannels int,
	kernelSize, stride, padding int,
	useBias bool,
	backend B,
) *Conv2D[B] {
	return nn.NewConv2D(inChannels, outChannels, kernelSize, stride, padding, useBias, backend)
}

// MaxPool2D represents a 2D max pooling layer.
type MaxPool2D[B tensor.Backend] = nn.MaxPool2D[B]

// NewMaxPool2D creates a new 2D max pooling layer.
//
// Example:
//
//	pool := nn.NewMaxPool2D[B](2, 2)  // kernel=2, stride=2
func NewMaxPool2D[B tensor.Backend](kernelSize, stride int) *MaxPool2D[B] {
	return nn.NewMaxPool2D[B](kernelSize, stride)
}

// BatchNorm2D represents 2D batch normalization over the channel dimension.
//
// During training it normalizes with batch statistics and updates running
// estimates; during inference it normalizes with the running estimates.
// Switch modes with SetTraining.
type BatchNorm2D[B tensor.Backend] = nn.BatchNorm2D[B]

// NewBatchNorm2D creates a new batch normalization layer.
//
// Example:
//
//	backend := cpu.New()
//	norm := nn.NewBatchNorm2D(16, backend)
func NewBatchNorm2D[B tensor.Backend](numFeatures int, backend B) *BatchNorm2D[B] {
	return nn.NewBatchNorm2D(numFeatures, backend)
}

// Flatten reshapes [N, ...] inputs to [N, features].
type Flatten[B tensor.Backend] = nn.Flatten[B]

// NewFlatten creates a new flatten layer.
//
// Example:
//
//	flatten := nn.NewFlatten[B]()
func NewFlatten[B tensor.Backend]() *Flatten[B] {
	return nn.NewFlatten[B]()
}

// Activations

// ReLU represents the Rectified Linear Unit activation function.
type ReLU[B tensor.Backend] = nn.ReLU[B]

// NewReLU creates a new ReLU activation layer.
//
// Example:
//
//	relu := nn.NewReLU[B]()
func NewReLU[B tensor.Backend]() *ReLU[B] {
	return nn.NewReLU[B]()
}

// Loss Functions

// CrossEntropyLoss combines log-softmax and negative log-likelihood for
// classification, taking int32 class labels as targets.
type CrossEntropyLoss[B tensor.Backend] = nn.CrossEntropyLoss[B]

// NewCrossEntropyLoss creates a new cross-entropy loss function.
//
// Example:
//
//	backend := cpu.New()
//	criterion := nn.NewCrossEntropyLoss(backend)
//	loss := criterion.Forward(logits, labels)
func NewCrossEntropyLoss[B tensor.Backend](backend B) *CrossEntropyLoss[B] {
	return nn.NewCrossEntropyLoss(backend)
}

// Sequential

// Sequential represents a sequential container of modules.
type Sequential[B tensor.Backend] = nn.Sequential[B]

// NewSequential creates a new sequential model.
//
// Example:
//
//	backend := cpu.New()
//	model := nn.NewSequential(
//	    nn.NewLinear(784, 128, backend),
//	    nn.NewReLU[B](),
//	    nn.NewLinear(128, 10, backend),
//	)
func NewSequential[B tensor.Backend](modules ...Module[B]) *Sequential[B] {
	return nn.NewSequential(modules...)
}

// Initialization

// Seed reseeds the package-level weight initializer. Call before
// constructing models; processes that seed identically and build the same
// architecture start from identical weights.
func Seed(seed int64) {
	nn.Seed(seed)
}

// Xavier draws weights from the Glorot uniform distribution
// U(-sqrt(6/(fanIn+fanOut)), +sqrt(6/(fanIn+fanOut))).
func Xavier[B tensor.Backend](fanIn, fanOut int, shape tensor.Shape, backend B) *tensor.Tensor[float32, B] {
	return nn.Xavier(fanIn, fanOut, shape, backend)
}

// Metrics

// Accuracy is the fraction of rows whose argmax matches the target index.
//
// Example:
//
//	acc := nn.Accuracy(logits, labels)  // [batch, classes], [batch]
func Accuracy[B tensor.Backend](
	logits *tensor.Tensor[float32, B],
	targets *tensor.Tensor[int32, B],
) float32 {
	return nn.Accuracy(logits, targets)
}

// Softmax normalizes t along dim so each lane sums to one.
func Softmax[B tensor.Backend](t *tensor.Tensor[float32, B], dim int) *tensor.Tensor[float32, B] {
	return nn.Softmax(t, dim)
}

// Argmax returns the index of the largest value along dim as an int32
// tensor with that dimension removed.
func Argmax[B tensor.Backend](t *tensor.Tensor[float32, B], dim int) *tensor.Tensor[int32, B] {
	return nn.Argmax(t, dim)
}
