package tensor

import "math/rand"

// Zeros allocates a zero-filled tensor.
func Zeros[T DType, B Backend](shape Shape, b B) *Tensor[T, B] {
	raw, err := NewRaw(shape, inferDataTypeFor[T](), b.Device())
	if err != nil {
		panic(err)
	}
	return New[T, B](raw, b)
}

// Ones allocates a tensor filled with ones (true for bool tensors).
func Ones[T DType, B Backend](shape Shape, b B) *Tensor[T, B] {
	var one T
	switch p := any(&one).(type) {
	case *float32:
		*p = 1
	case *float64:
		*p = 1
	case *int32:
		*p = 1
	case *int64:
		*p = 1
	case *uint8:
		*p = 1
	case *bool:
		*p = true
	}
	return Full[T, B](shape, one, b)
}

// Full allocates a tensor filled with value.
func Full[T DType, B Backend](shape Shape, value T, b B) *Tensor[T, B] {
	t := Zeros[T, B](shape, b)
	data := t.Data()
	for i := range data {
		data[i] = value
	}
	return t
}

// Rand fills a float32 tensor with uniform values in [0, 1) from rng.
// A seeded source keeps runs reproducible.
func Rand[B Backend](shape Shape, rng *rand.Rand, b B) *Tensor[float32, B] {
	t := Zeros[float32, B](shape, b)
	data := t.Data()
	for i := range data {
		data[i] = rng.Float32()
	}
	return t
}

// RandN fills a float32 tensor with standard normal values from rng.
func RandN[B Backend](shape Shape, rng *rand.Rand, b B) *Tensor[float32, B] {
	t := Zeros[float32, B](shape, b)
	data := t.Data()
	for i := range data {
		data[i] = float32(rng.NormFloat64())
	}
	return t
}

// OnesRaw allocates a ones-filled Float32 RawTensor, the usual seed for a
// backward pass.
func OnesRaw(shape Shape, device Device) *RawTensor {
	raw, err := NewRaw(shape, Float32, device)
	if err != nil {
		panic(err)
	}
	data := raw.AsFloat32()
	for i := range data {
		data[i] = 1
	}
	return raw
}

func inferDataTypeFor[T DType]() DataType {
	var dummy T
	return inferDataType(dummy)
}
