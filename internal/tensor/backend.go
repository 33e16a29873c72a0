package tensor

// Backend is the compute interface every device implementation provides.
// Operations allocate and return new tensors unless the receiver is provably
// unique (copy-on-write); shape mismatches are programming errors and panic.
//
// Implementations:
//   - cpu.Backend: pure Go, goroutine-parallel kernels
//   - webgpu.Backend: WGSL compute pipelines for the hot element-wise and
//     matmul paths, CPU delegate for the rest
//   - autodiff.Backend: decorator recording ops on a gradient tape
type Backend interface {
	// Element-wise binary operations with NumPy-style broadcasting.
	Add(a, b *RawTensor) *RawTensor
	Sub(a, b *RawTensor) *RawTensor
	Mul(a, b *RawTensor) *RawTensor
	Div(a, b *RawTensor) *RawTensor

	// Element-wise operations against a scalar.
	AddScalar(x *RawTensor, scalar any) *RawTensor
	SubScalar(x *RawTensor, scalar any) *RawTensor
	MulScalar(x *RawTensor, scalar any) *RawTensor
	DivScalar(x *RawTensor, scalar any) *RawTensor

	// MatMul multiplies two 2D matrices: [M,K] @ [K,N] -> [M,N].
	MatMul(a, b *RawTensor) *RawTensor

	// Convolution and pooling over NCHW inputs, plus the gradient kernels
	// the reverse pass needs.
	Conv2D(input, kernel *RawTensor, stride, padding int) *RawTensor
	Conv2DInputBackward(input, kernel, grad *RawTensor, stride, padding int) *RawTensor
	Conv2DKernelBackward(input, kernel, grad *RawTensor, stride, padding int) *RawTensor
	MaxPool2D(input *RawTensor, kernelSize, stride int) *RawTensor
	MaxPool2DBackward(input, grad *RawTensor, maxIndices []int, kernelSize, stride int) *RawTensor

	// Element-wise math.
	Exp(x *RawTensor) *RawTensor
	Log(x *RawTensor) *RawTensor
	Sqrt(x *RawTensor) *RawTensor

	// Activations and classification heads.
	ReLU(x *RawTensor) *RawTensor
	Softmax(x *RawTensor, dim int) *RawTensor

	// Comparisons producing Bool tensors.
	Greater(a, b *RawTensor) *RawTensor
	Equal(a, b *RawTensor) *RawTensor

	// Reductions.
	Sum(x *RawTensor) *RawTensor
	SumDim(x *RawTensor, dim int, keepDim bool) *RawTensor
	MeanDim(x *RawTensor, dim int, keepDim bool) *RawTensor
	Argmax(x *RawTensor, dim int) *RawTensor

	// Shape manipulation.
	Reshape(t *RawTensor, newShape Shape) *RawTensor
	Transpose(t *RawTensor, axes ...int) *RawTensor
	Cat(tensors []*RawTensor, dim int) *RawTensor
	Unsqueeze(x *RawTensor, dim int) *RawTensor
	Squeeze(x *RawTensor, dim int) *RawTensor

	// Selection and type conversion.
	Where(cond, x, y *RawTensor) *RawTensor
	Cast(x *RawTensor, dtype DataType) *RawTensor

	// Metadata.
	Name() string
	Device() Device
}
