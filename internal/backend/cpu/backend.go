// Package cpu implements the pure-Go CPU backend. Every operation works
// on raw tensors in host memory and parallelizes across physical cores
// where the loop is large enough to pay for the goroutine fan-out.
package cpu

import (
	"fmt"

	"github.com/kiln-ml/kiln/internal/parallel"
	"github.com/kiln-ml/kiln/internal/tensor"
)

// Backend executes tensor operations on the host CPU.
type Backend struct {
	device tensor.Device
	pool   parallel.Config
}

// New creates a CPU backend with the default worker pool.
func New() *Backend {
	return &Backend{
		device: tensor.CPU,
		pool:   parallel.DefaultConfig(),
	}
}

func (c *Backend) Name() string          { return "CPU" }
func (c *Backend) Device() tensor.Device { return c.device }

// newResult allocates an uninitialized output tensor for an operation.
func (c *Backend) newResult(shape tensor.Shape, dtype tensor.DataType) *tensor.RawTensor {
	out, err := tensor.NewRaw(shape, dtype, c.device)
	if err != nil {
		panic(fmt.Sprintf("cpu: allocating result: %v", err))
	}
	return out
}
