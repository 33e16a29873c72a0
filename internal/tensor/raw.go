package tensor

import (
	"fmt"
	"sync/atomic"
	"unsafe"
)

// Device identifies where tensor memory lives and where ops execute.
type Device int

// Supported compute devices.
const (
	CPU Device = iota
	WebGPU
)

// String returns a human-readable device name.
func (d Device) String() string {
	switch d {
	case CPU:
		return "CPU"
	case WebGPU:
		return "WebGPU"
	default:
		return "Unknown"
	}
}

// buffer is a reference-counted byte store shared between tensor views.
// Reference counting enables copy-on-write: a backend may reuse the buffer
// in place only while refCount == 1.
type buffer struct {
	data     []byte
	refCount atomic.Int32
}

func newBuffer(size int) *buffer {
	b := &buffer{data: make([]byte, size)}
	b.refCount.Store(1)
	return b
}

func (b *buffer) addRef() { b.refCount.Add(1) }

func (b *buffer) release() {
	if b.refCount.Add(-1) == 0 {
		b.data = nil
	}
}

func (b *buffer) isUnique() bool { return b.refCount.Load() == 1 }

// RawTensor is the dtype-erased tensor representation shared by all
// backends. Typed access goes through the AsXxx views; shape metadata is
// immutable after construction.
type RawTensor struct {
	buffer *buffer
	shape  Shape
	stride []int
	dtype  DataType
	device Device
	offset int
}

// NewRaw allocates a zero-filled tensor with the given shape and type.
func NewRaw(shape Shape, dtype DataType, device Device) (*RawTensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape: %w", err)
	}

	byteSize := shape.NumElements() * dtype.Size()

	return &RawTensor{
		buffer: newBuffer(byteSize),
		shape:  shape.Clone(),
		stride: shape.ComputeStrides(),
		dtype:  dtype,
		device: device,
		offset: 0,
	}, nil
}

// Shape returns the tensor's shape.
func (r *RawTensor) Shape() Shape { return r.shape }

// Strides returns the tensor's row-major memory strides.
func (r *RawTensor) Strides() []int { return r.stride }

// DType returns the runtime element type.
func (r *RawTensor) DType() DataType { return r.dtype }

// Device returns the compute device the tensor belongs to.
func (r *RawTensor) Device() Device { return r.device }

// NumElements returns the total element count.
func (r *RawTensor) NumElements() int { return r.shape.NumElements() }

// ByteSize returns the total memory size in bytes.
func (r *RawTensor) ByteSize() int { return r.NumElements() * r.dtype.Size() }

// Data returns the raw byte slice backing the tensor.
func (r *RawTensor) Data() []byte {
	return r.buffer.data[r.offset:]
}

// AsFloat32 views the data as []float32. Panics on dtype mismatch.
func (r *RawTensor) AsFloat32() []float32 {
	if r.dtype != Float32 {
		panic(fmt.Sprintf("tensor dtype is %s, not float32", r.dtype))
	}
	data := r.buffer.data[r.offset:]
	return unsafe.Slice((*float32)(unsafe.Pointer(&data[0])), r.NumElements())
}

// AsFloat64 views the data as []float64. Panics on dtype mismatch.
func (r *RawTensor) AsFloat64() []float64 {
	if r.dtype != Float64 {
		panic(fmt.Sprintf("tensor dtype is %s, not float64", r.dtype))
	}
	data := r.buffer.data[r.offset:]
	return unsafe.Slice((*float64)(unsafe.Pointer(&data[0])), r.NumElements())
}

// AsInt32 views the data as []int32. Panics on dtype mismatch.
func (r *RawTensor) AsInt32() []int32 {
	if r.dtype != Int32 {
		panic(fmt.Sprintf("tensor dtype is %s, not int32", r.dtype))
	}
	data := r.buffer.data[r.offset:]
	return unsafe.Slice((*int32)(unsafe.Pointer(&data[0])), r.NumElements())
}

// AsInt64 views the data as []int64. Panics on dtype mismatch.
func (r *RawTensor) AsInt64() []int64 {
	if r.dtype != Int64 {
		panic(fmt.Sprintf("tensor dtype is %s, not int64", r.dtype))
	}
	data := r.buffer.data[r.offset:]
	return unsafe.Slice((*int64)(unsafe.Pointer(&data[0])), r.NumElements())
}

// AsUint8 views the data as []uint8. Panics on dtype mismatch.
func (r *RawTensor) AsUint8() []uint8 {
	if r.dtype != Uint8 {
		panic(fmt.Sprintf("tensor dtype is %s, not uint8", r.dtype))
	}
	return r.buffer.data[r.offset:]
}

// AsBool views the data as []bool. Panics on dtype mismatch.
func (r *RawTensor) AsBool() []bool {
	if r.dtype != Bool {
		panic(fmt.Sprintf("tensor dtype is %s, not bool", r.dtype))
	}
	data := r.buffer.data[r.offset:]
	return unsafe.Slice((*bool)(unsafe.Pointer(&data[0])), r.NumElements())
}

// Clone returns a view sharing the buffer under reference counting.
// The data is physically copied only when a later write needs it
// (copy-on-write through IsUnique checks in the backends).
func (r *RawTensor) Clone() *RawTensor {
	r.buffer.addRef()
	return &RawTensor{
		buffer: r.buffer,
		shape:  r.shape.Clone(),
		stride: append([]int(nil), r.stride...),
		dtype:  r.dtype,
		device: r.device,
		offset: r.offset,
	}
}

// DeepClone returns a copy with its own freshly allocated buffer.
func (r *RawTensor) DeepClone() *RawTensor {
	out, err := NewRaw(r.shape, r.dtype, r.device)
	if err != nil {
		panic(err)
	}
	copy(out.Data(), r.Data())
	return out
}

// Release decrements the reference count, freeing the buffer at zero.
func (r *RawTensor) Release() {
	r.buffer.release()
}

// IsUnique reports whether this tensor holds the only buffer reference,
// in which case a backend may write the buffer in place.
func (r *RawTensor) IsUnique() bool {
	return r.buffer.isUnique()
}

// ForceNonUnique pins the buffer against in-place reuse and returns the
// function that unpins it (call with defer). The autodiff layer pins every
// recorded input: an in-place update would corrupt the saved forward values
// the backward pass reads.
func (r *RawTensor) ForceNonUnique() func() {
	r.buffer.addRef()
	return func() {
		r.buffer.release()
	}
}
