// Copyright 2026 Kiln ML Engine. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package tensor

import (
	"math/rand"

	"github.com/kiln-ml/kiln/internal/tensor"
)

// Type aliases for the public API.

// DType is the compile-time constraint for tensor element types.
// Supported types: float32, float64, int32, int64, uint8, bool.
type DType = tensor.DType

// DataType is the runtime type tag of a tensor.
type DataType = tensor.DataType

// Data type constants.
const (
	Float32 DataType = tensor.Float32
	Float64 DataType = tensor.Float64
	Int32   DataType = tensor.Int32
	Int64   DataType = tensor.Int64
	Uint8   DataType = tensor.Uint8
	Bool    DataType = tensor.Bool
)

// Device identifies where tensor memory lives and where ops execute.
type Device = tensor.Device

// Device constants.
const (
	CPU    Device = tensor.CPU
	WebGPU Device = tensor.WebGPU
)

// Shape represents the dimensions of a tensor.
// Example: Shape{2, 3, 4} represents a 3D tensor with dimensions 2x3x4.
type Shape = tensor.Shape

// Backend is defined in backend.go.

// Tensor is a generic type-safe tensor.
//
// T is the element type (float32, float64, int32, int64, uint8, bool).
// B is the backend implementation (CPU, WebGPU, or an autodiff decorator).
//
// Example:
//
//	backend := cpu.New()
//	x := tensor.Zeros[float32](tensor.Shape{2, 3}, backend)
//	y := tensor.Ones[float32](tensor.Shape{2, 3}, backend)
//	z := x.Add(y)  // Element-wise addition
type Tensor[T DType, B Backend] = tensor.Tensor[T, B]

// Creation functions.

// Zeros creates a tensor filled with zeros.
//
// Example:
//
//	backend := cpu.New()
//	x := tensor.Zeros[float32](tensor.Shape{2, 3}, backend)
func Zeros[T DType, B Backend](shape Shape, b B) *Tensor[T, B] {
	return tensor.Zeros[T, B](shape, b)
}

// Ones creates a tensor filled with ones (true for bool tensors).
//
// Example:
//
//	backend := cpu.New()
//	x := tensor.Ones[float32](tensor.Shape{2, 3}, backend)
func Ones[T DType, B Backend](shape Shape, b B) *Tensor[T, B] {
	return tensor.Ones[T, B](shape, b)
}

// Full creates a tensor filled with a specific value.
//
// Example:
//
//	backend := cpu.New()
//	x := tensor.Full[float32](tensor.Shape{2, 3}, 3.14, backend)
func Full[T DType, B Backend](shape Shape, value T, b B) *Tensor[T, B] {
	return tensor.Full[T, B](shape, value, b)
}

// Rand creates a float32 tensor with uniform values in [0, 1) drawn from rng.
// Passing a seeded source keeps runs reproducible.
//
// Example:
//
//	rng := rand.New(rand.NewSource(42))
//	x := tensor.Rand(tensor.Shape{2, 3}, rng, backend)
func Rand[B Backend](shape Shape, rng *rand.Rand, b B) *Tensor[float32, B] {
	return tensor.Rand[B](shape, rng, b)
}

// RandN creates a float32 tensor with standard normal values drawn from rng.
//
// Example:
//
//	rng := rand.New(rand.NewSource(42))
//	x := tensor.RandN(tensor.Shape{2, 3}, rng, backend)
func RandN[B Backend](shape Shape, rng *rand.Rand, b B) *Tensor[float32, B] {
	return tensor.RandN[B](shape, rng, b)
}

// FromSlice creates a tensor from a Go slice.
//
// Example:
//
//	backend := cpu.New()
//	data := []float32{1, 2, 3, 4, 5, 6}
//	x, err := tensor.FromSlice(data, tensor.Shape{2, 3}, backend)
func FromSlice[T DType, B Backend](data []T, shape Shape, b B) (*Tensor[T, B], error) {
	return tensor.FromSlice[T, B](data, shape, b)
}

// New creates a tensor from a raw tensor.
//
// This is a low-level function. Most users should use creation functions like
// Zeros, Ones, or FromSlice instead.
func New[T DType, B Backend](raw *RawTensor, b B) *Tensor[T, B] {
	return tensor.New[T, B](raw, b)
}

// NewRaw creates a new raw tensor with the given shape, dtype, and device.
//
// This is a low-level function. Most users should use high-level creation
// functions instead.
func NewRaw(shape Shape, dtype DataType, device Device) (*RawTensor, error) {
	return tensor.NewRaw(shape, dtype, device)
}

// OnesRaw creates a ones-filled Float32 raw tensor, commonly used as the
// output gradient seeding a backward pass.
func OnesRaw(shape Shape, device Device) *RawTensor {
	return tensor.OnesRaw(shape, device)
}

// Utility functions.

// ParseDataType maps a lower-case type name ("float32", "int64", ...) to its
// DataType tag. The second result reports whether the name was recognized.
func ParseDataType(name string) (DataType, bool) {
	return tensor.ParseDataType(name)
}

// BroadcastShapes computes the broadcast shape for two shapes following
// NumPy broadcasting rules. Returns the resulting shape and a flag indicating
// whether either operand needs broadcasting.
//
// Example:
//
//	resultShape, needsBroadcast, err := tensor.BroadcastShapes(
//	    tensor.Shape{3, 1},
//	    tensor.Shape{3, 4},
//	)
//	// resultShape = [3, 4], needsBroadcast = true
func BroadcastShapes(a, b Shape) (Shape, bool, error) {
	return tensor.BroadcastShapes(a, b)
}
