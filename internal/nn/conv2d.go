package nn

import (
	"fmt"

	"github.com/kiln-ml/kiln/internal/tensor"
)

// Conv2D applies a 2D convolution over NCHW input with a square kernel.
//
// Weight shape: [outChannels, inChannels, kernelSize, kernelSize].
// Output spatial size: (in + 2*padding - kernelSize)/stride + 1.
type Conv2D[B tensor.Backend] struct {
	inChannels  int
	outChannels int
	kernelSize  int
	stride      int
	padding     int

	weight *Parameter[B]
	bias   *Parameter[B] // nil when constructed without bias

	backend B
}

// NewConv2D creates a convolution layer. Weights use Xavier initialization
// with fan counts that include the kernel area; bias starts at zero.
func NewConv2D[B tensor.Backend](inChannels, outChannels, kernelSize, stride, padding int, useBias bool, backend B) *Conv2D[B] {
	if inChannels <= 0 || outChannels <= 0 {
		panic(fmt.Sprintf("conv2d: invalid channels in=%d out=%d", inChannels, outChannels))
	}
	if kernelSize <= 0 || stride <= 0 || padding < 0 {
		panic(fmt.Sprintf("conv2d: invalid geometry kernel=%d stride=%d padding=%d", kernelSize, stride, padding))
	}

	fanIn := inChannels * kernelSize * kernelSize
	fanOut := outChannels * kernelSize * kernelSize
	weight := Xavier(fanIn, fanOut, tensor.Shape{outChannels, inChannels, kernelSize, kernelSize}, backend)

	c := &Conv2D[B]{
		inChannels:  inChannels,
		outChannels: outChannels,
		kernelSize:  kernelSize,
		stride:      stride,
		padding:     padding,
		weight:      NewParameter("weight", weight),
		backend:     backend,
	}
	if useBias {
		c.bias = NewParameter("bias", Zeros(tensor.Shape{outChannels}, backend))
	}
	return c
}

func (c *Conv2D[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	shape := input.Shape()
	if len(shape) != 4 || shape[1] != c.inChannels {
		panic(fmt.Sprintf("conv2d: expected input [batch, %d, h, w], got %v", c.inChannels, shape))
	}

	be := input.Backend()
	out := be.Conv2D(input.Raw(), c.weight.Raw(), c.stride, c.padding)
	if c.bias != nil {
		// [C] -> [1, C, 1, 1] so the add broadcasts per channel.
		bias := be.Reshape(c.bias.Raw(), tensor.Shape{1, c.outChannels, 1, 1})
		out = be.Add(out, bias)
	}
	return tensor.New[float32, B](out, c.backend)
}

func (c *Conv2D[B]) Parameters() []*Parameter[B] {
	if c.bias != nil {
		return []*Parameter[B]{c.weight, c.bias}
	}
	return []*Parameter[B]{c.weight}
}

func (c *Conv2D[B]) StateDict() map[string]*tensor.RawTensor {
	state := map[string]*tensor.RawTensor{"weight": c.weight.Raw()}
	if c.bias != nil {
		state["bias"] = c.bias.Raw()
	}
	return state
}

func (c *Conv2D[B]) LoadStateDict(state map[string]*tensor.RawTensor) error {
	if err := loadTensor(c.weight.Raw(), state, "weight"); err != nil {
		return err
	}
	if c.bias != nil {
		return loadTensor(c.bias.Raw(), state, "bias")
	}
	return nil
}

func (c *Conv2D[B]) Stride() int  { return c.stride }
func (c *Conv2D[B]) Padding() int { return c.padding }

func (c *Conv2D[B]) Weight() *Parameter[B] { return c.weight }

// Bias returns nil for layers constructed without one.
func (c *Conv2D[B]) Bias() *Parameter[B] { return c.bias }
