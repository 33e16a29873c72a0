package tensor

import "fmt"

// Tensor is the typed wrapper over RawTensor. T fixes the element type at
// compile time, B the backend the tensor computes on.
type Tensor[T DType, B Backend] struct {
	raw     *RawTensor
	backend B
	grad    *Tensor[T, B]
}

// New wraps a RawTensor with a typed handle.
func New[T DType, B Backend](raw *RawTensor, b B) *Tensor[T, B] {
	return &Tensor[T, B]{raw: raw, backend: b}
}

// FromSlice copies data into a freshly allocated tensor of the given shape.
func FromSlice[T DType, B Backend](data []T, shape Shape, b B) (*Tensor[T, B], error) {
	if shape.NumElements() != len(data) {
		return nil, fmt.Errorf("shape %v requires %d elements, but got %d", shape, shape.NumElements(), len(data))
	}

	var dummy T
	raw, err := NewRaw(shape, inferDataType(dummy), b.Device())
	if err != nil {
		return nil, err
	}

	t := New[T, B](raw, b)
	copy(t.Data(), data)
	return t, nil
}

// Shape returns the tensor's shape.
func (t *Tensor[T, B]) Shape() Shape { return t.raw.Shape() }

// DType returns the runtime element type.
func (t *Tensor[T, B]) DType() DataType { return t.raw.DType() }

// Device returns the compute device.
func (t *Tensor[T, B]) Device() Device { return t.raw.Device() }

// NumElements returns the total element count.
func (t *Tensor[T, B]) NumElements() int { return t.raw.NumElements() }

// Raw exposes the underlying RawTensor for backend-level calls.
func (t *Tensor[T, B]) Raw() *RawTensor { return t.raw }

// Backend returns the compute backend.
func (t *Tensor[T, B]) Backend() B { return t.backend }

// Grad returns the gradient tensor populated by a backward pass, or nil.
func (t *Tensor[T, B]) Grad() *Tensor[T, B] { return t.grad }

// SetGrad stores a gradient tensor.
func (t *Tensor[T, B]) SetGrad(grad *Tensor[T, B]) { t.grad = grad }

// Data views the tensor's memory as a typed slice. Writes through the slice
// modify the tensor.
func (t *Tensor[T, B]) Data() []T {
	var dummy T
	switch any(dummy).(type) {
	case float32:
		return any(t.raw.AsFloat32()).([]T)
	case float64:
		return any(t.raw.AsFloat64()).([]T)
	case int32:
		return any(t.raw.AsInt32()).([]T)
	case int64:
		return any(t.raw.AsInt64()).([]T)
	case uint8:
		return any(t.raw.AsUint8()).([]T)
	case bool:
		return any(t.raw.AsBool()).([]T)
	default:
		panic("unsupported type")
	}
}

// Item returns the value of a single-element tensor.
func (t *Tensor[T, B]) Item() T {
	if t.NumElements() != 1 {
		panic(fmt.Sprintf("Item() requires a single-element tensor, got shape %v", t.Shape()))
	}
	return t.Data()[0]
}

// At returns the element at the given multi-dimensional indices.
func (t *Tensor[T, B]) At(indices ...int) T {
	return t.Data()[t.flatIndex(indices)]
}

// Set writes the element at the given multi-dimensional indices.
func (t *Tensor[T, B]) Set(value T, indices ...int) {
	t.Data()[t.flatIndex(indices)] = value
}

func (t *Tensor[T, B]) flatIndex(indices []int) int {
	if len(indices) != len(t.Shape()) {
		panic(fmt.Sprintf("expected %d indices, got %d", len(t.Shape()), len(indices)))
	}
	offset := 0
	strides := t.raw.Strides()
	for i, idx := range indices {
		if idx < 0 || idx >= t.Shape()[i] {
			panic(fmt.Sprintf("index %d out of bounds for dimension %d (size %d)", idx, i, t.Shape()[i]))
		}
		offset += idx * strides[i]
	}
	return offset
}

// Clone returns a copy-on-write copy without gradient state.
func (t *Tensor[T, B]) Clone() *Tensor[T, B] {
	return &Tensor[T, B]{raw: t.raw.Clone(), backend: t.backend}
}

// Detach returns a handle sharing the same data with no gradient state.
// Useful for bookkeeping values that must not extend the autodiff graph.
func (t *Tensor[T, B]) Detach() *Tensor[T, B] {
	return &Tensor[T, B]{raw: t.raw, backend: t.backend}
}

// String describes the tensor without printing its data.
func (t *Tensor[T, B]) String() string {
	return fmt.Sprintf("Tensor[%s]%v on %s", t.raw.DType(), t.raw.Shape(), t.raw.Device())
}

// Convenience methods mirroring the Backend interface. Each delegates to
// the tensor's backend so autodiff decoration is transparent.

// Add returns t + other element-wise.
func (t *Tensor[T, B]) Add(other *Tensor[T, B]) *Tensor[T, B] {
	return New[T, B](t.backend.Add(t.raw, other.raw), t.backend)
}

// Sub returns t - other element-wise.
func (t *Tensor[T, B]) Sub(other *Tensor[T, B]) *Tensor[T, B] {
	return New[T, B](t.backend.Sub(t.raw, other.raw), t.backend)
}

// Mul returns t * other element-wise.
func (t *Tensor[T, B]) Mul(other *Tensor[T, B]) *Tensor[T, B] {
	return New[T, B](t.backend.Mul(t.raw, other.raw), t.backend)
}

// Div returns t / other element-wise.
func (t *Tensor[T, B]) Div(other *Tensor[T, B]) *Tensor[T, B] {
	return New[T, B](t.backend.Div(t.raw, other.raw), t.backend)
}

// MatMul returns the matrix product t @ other.
func (t *Tensor[T, B]) MatMul(other *Tensor[T, B]) *Tensor[T, B] {
	return New[T, B](t.backend.MatMul(t.raw, other.raw), t.backend)
}

// Reshape returns a tensor with the same data and a new shape.
func (t *Tensor[T, B]) Reshape(shape Shape) *Tensor[T, B] {
	return New[T, B](t.backend.Reshape(t.raw, shape), t.backend)
}

// Transpose permutes dimensions; with no axes a 2D tensor is transposed.
func (t *Tensor[T, B]) Transpose(axes ...int) *Tensor[T, B] {
	return New[T, B](t.backend.Transpose(t.raw, axes...), t.backend)
}

// Softmax normalizes along dim.
func (t *Tensor[T, B]) Softmax(dim int) *Tensor[T, B] {
	return New[T, B](t.backend.Softmax(t.raw, dim), t.backend)
}

// Argmax returns Int32 indices of the maximum along dim.
func (t *Tensor[T, B]) Argmax(dim int) *RawTensor {
	return t.backend.Argmax(t.raw, dim)
}
