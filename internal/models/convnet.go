// Package models holds the built-in network architectures the engine
// trains. Architectures are described by the config model block, so runs
// are reproducible from their run file alone.
package models

import (
	"fmt"

	"github.com/kiln-ml/kiln/internal/config"
	"github.com/kiln-ml/kiln/internal/nn"
	"github.com/kiln-ml/kiln/internal/tensor"
)

// ConvNet is the built-in image classifier: conv stages (Conv2D, optional
// BatchNorm2D, ReLU, 2x2 max pool), flatten, then a two-layer head. Convs
// always carry a bias so batch-norm folding has a term to absorb the
// shift into.
type ConvNet[B tensor.Backend] struct {
	name    string
	classes int
	layers  *nn.Sequential[B]
}

// NewConvNet builds the network described by cfg over the given backend.
func NewConvNet[B tensor.Backend](cfg config.Model, backend B) (*ConvNet[B], error) {
	if cfg.Name == "" {
		cfg.Name = "convnet"
	}
	if err := checkConfig(cfg); err != nil {
		return nil, err
	}

	layers := nn.NewSequential[B]()
	in := cfg.InChannels
	size := cfg.ImageSize
	for i, out := range cfg.Channels {
		if size < 2 {
			return nil, fmt.Errorf("models: image size %d leaves nothing to pool at stage %d",
				cfg.ImageSize, i)
		}
		layers.Add(nn.NewConv2D(in, out, cfg.KernelSize, 1, cfg.KernelSize/2, true, backend))
		if cfg.BatchNormEnabled() {
			layers.Add(nn.NewBatchNorm2D(out, backend))
		}
		layers.Add(nn.NewReLU[B]())
		layers.Add(nn.NewMaxPool2D[B](2, 2))
		in = out
		size = (size-2)/2 + 1
	}
	layers.Add(nn.NewFlatten[B]())
	layers.Add(nn.NewLinear(in*size*size, cfg.Hidden, backend))
	layers.Add(nn.NewReLU[B]())
	layers.Add(nn.NewLinear(cfg.Hidden, cfg.Classes, backend))

	return &ConvNet[B]{name: cfg.Name, classes: cfg.Classes, layers: layers}, nil
}

func checkConfig(cfg config.Model) error {
	if cfg.Classes < 2 {
		return fmt.Errorf("models: need at least 2 classes, got %d", cfg.Classes)
	}
	if cfg.InChannels < 1 {
		return fmt.Errorf("models: in_channels must be positive, got %d", cfg.InChannels)
	}
	if cfg.ImageSize < 1 {
		return fmt.Errorf("models: image_size must be positive, got %d", cfg.ImageSize)
	}
	if len(cfg.Channels) == 0 {
		return fmt.Errorf("models: at least one conv stage is required")
	}
	for i, c := range cfg.Channels {
		if c < 1 {
			return fmt.Errorf("models: channels[%d] must be positive, got %d", i, c)
		}
	}
	if cfg.KernelSize < 1 || cfg.KernelSize%2 == 0 {
		// Same-size padding needs an odd kernel.
		return fmt.Errorf("models: kernel_size must be odd and positive, got %d", cfg.KernelSize)
	}
	if cfg.Hidden < 1 {
		return fmt.Errorf("models: hidden must be positive, got %d", cfg.Hidden)
	}
	return nil
}

// Name is the checkpoint file stem.
func (m *ConvNet[B]) Name() string { return m.name }

// Classes is the width of the output layer.
func (m *ConvNet[B]) Classes() int { return m.classes }

// Layers exposes the layer chain for relevance attribution.
func (m *ConvNet[B]) Layers() *nn.Sequential[B] { return m.layers }

func (m *ConvNet[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	return m.layers.Forward(input)
}

func (m *ConvNet[B]) Parameters() []*nn.Parameter[B] { return m.layers.Parameters() }

func (m *ConvNet[B]) StateDict() map[string]*tensor.RawTensor { return m.layers.StateDict() }

func (m *ConvNet[B]) LoadStateDict(state map[string]*tensor.RawTensor) error {
	return m.layers.LoadStateDict(state)
}

// SetTraining switches batch-norm layers between batch statistics and
// running statistics.
func (m *ConvNet[B]) SetTraining(training bool) { m.layers.SetTraining(training) }
