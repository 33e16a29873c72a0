//go:build windows

package webgpu

import (
	"github.com/kiln-ml/kiln/internal/tensor"
)

var _ tensor.Backend = (*Backend)(nil)

// sameShapeFloat32 reports whether the element-wise GPU fast path
// applies; mismatched shapes broadcast on the host instead.
func sameShapeFloat32(x, y *tensor.RawTensor) bool {
	return x.DType() == tensor.Float32 &&
		y.DType() == tensor.Float32 &&
		x.Shape().Equal(y.Shape())
}

func scalarFloat32(scalar any) (float32, bool) {
	switch v := scalar.(type) {
	case float32:
		return v, true
	case float64:
		return float32(v), true
	case int:
		return float32(v), true
	case int32:
		return float32(v), true
	case int64:
		return float32(v), true
	default:
		return 0, false
	}
}

func (b *Backend) Add(x, y *tensor.RawTensor) *tensor.RawTensor {
	if !sameShapeFloat32(x, y) {
		return b.host.Add(x, y)
	}
	out, err := b.runBinary("add", "a[idx] + b[idx]", x, y)
	if err != nil {
		panic("webgpu: Add: " + err.Error())
	}
	return out
}

func (b *Backend) Sub(x, y *tensor.RawTensor) *tensor.RawTensor {
	if !sameShapeFloat32(x, y) {
		return b.host.Sub(x, y)
	}
	out, err := b.runBinary("sub", "a[idx] - b[idx]", x, y)
	if err != nil {
		panic("webgpu: Sub: " + err.Error())
	}
	return out
}

func (b *Backend) Mul(x, y *tensor.RawTensor) *tensor.RawTensor {
	if !sameShapeFloat32(x, y) {
		return b.host.Mul(x, y)
	}
	out, err := b.runBinary("mul", "a[idx] * b[idx]", x, y)
	if err != nil {
		panic("webgpu: Mul: " + err.Error())
	}
	return out
}

func (b *Backend) Div(x, y *tensor.RawTensor) *tensor.RawTensor {
	if !sameShapeFloat32(x, y) {
		return b.host.Div(x, y)
	}
	out, err := b.runBinary("div", "a[idx] / b[idx]", x, y)
	if err != nil {
		panic("webgpu: Div: " + err.Error())
	}
	return out
}

func (b *Backend) AddScalar(x *tensor.RawTensor, scalar any) *tensor.RawTensor {
	s, ok := scalarFloat32(scalar)
	if !ok || x.DType() != tensor.Float32 {
		return b.host.AddScalar(x, scalar)
	}
	out, err := b.runScalar("add_scalar", "x[idx] + params.scalar", x, s)
	if err != nil {
		panic("webgpu: AddScalar: " + err.Error())
	}
	return out
}

func (b *Backend) SubScalar(x *tensor.RawTensor, scalar any) *tensor.RawTensor {
	s, ok := scalarFloat32(scalar)
	if !ok || x.DType() != tensor.Float32 {
		return b.host.SubScalar(x, scalar)
	}
	out, err := b.runScalar("sub_scalar", "x[idx] - params.scalar", x, s)
	if err != nil {
		panic("webgpu: SubScalar: " + err.Error())
	}
	return out
}

func (b *Backend) MulScalar(x *tensor.RawTensor, scalar any) *tensor.RawTensor {
	s, ok := scalarFloat32(scalar)
	if !ok || x.DType() != tensor.Float32 {
		return b.host.MulScalar(x, scalar)
	}
	out, err := b.runScalar("mul_scalar", "x[idx] * params.scalar", x, s)
	if err != nil {
		panic("webgpu: MulScalar: " + err.Error())
	}
	return out
}

func (b *Backend) DivScalar(x *tensor.RawTensor, scalar any) *tensor.RawTensor {
	s, ok := scalarFloat32(scalar)
	if !ok || x.DType() != tensor.Float32 {
		return b.host.DivScalar(x, scalar)
	}
	out, err := b.runScalar("div_scalar", "x[idx] / params.scalar", x, s)
	if err != nil {
		panic("webgpu: DivScalar: " + err.Error())
	}
	return out
}

// MatMul runs 2D float32 multiplication on the GPU; batched and integer
// cases go to the host.
func (b *Backend) MatMul(x, y *tensor.RawTensor) *tensor.RawTensor {
	if x.DType() != tensor.Float32 || y.DType() != tensor.Float32 ||
		len(x.Shape()) != 2 || len(y.Shape()) != 2 ||
		x.Shape()[1] != y.Shape()[0] {
		return b.host.MatMul(x, y)
	}
	out, err := b.runMatMul(x, y)
	if err != nil {
		panic("webgpu: MatMul: " + err.Error())
	}
	return out
}

func (b *Backend) Exp(x *tensor.RawTensor) *tensor.RawTensor {
	if x.DType() != tensor.Float32 {
		return b.host.Exp(x)
	}
	out, err := b.runUnary("exp", "exp(x[idx])", x)
	if err != nil {
		panic("webgpu: Exp: " + err.Error())
	}
	return out
}

func (b *Backend) Log(x *tensor.RawTensor) *tensor.RawTensor {
	if x.DType() != tensor.Float32 {
		return b.host.Log(x)
	}
	out, err := b.runUnary("log", "log(x[idx])", x)
	if err != nil {
		panic("webgpu: Log: " + err.Error())
	}
	return out
}

func (b *Backend) Sqrt(x *tensor.RawTensor) *tensor.RawTensor {
	if x.DType() != tensor.Float32 {
		return b.host.Sqrt(x)
	}
	out, err := b.runUnary("sqrt", "sqrt(x[idx])", x)
	if err != nil {
		panic("webgpu: Sqrt: " + err.Error())
	}
	return out
}

func (b *Backend) ReLU(x *tensor.RawTensor) *tensor.RawTensor {
	if x.DType() != tensor.Float32 {
		return b.host.ReLU(x)
	}
	out, err := b.runUnary("relu", "max(x[idx], 0.0)", x)
	if err != nil {
		panic("webgpu: ReLU: " + err.Error())
	}
	return out
}
