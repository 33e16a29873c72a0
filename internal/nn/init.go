package nn

import (
	"math"
	"math/rand"

	"github.com/kiln-ml/kiln/internal/tensor"
)

// initRng drives weight initialization. The fixed default seed makes two
// processes that build the same model start from the same weights, which
// distributed training relies on.
var initRng = rand.New(rand.NewSource(1)) //nolint:gosec // weights, not secrets

// Seed reseeds weight initialization. Call before constructing models.
func Seed(seed int64) {
	initRng = rand.New(rand.NewSource(seed)) //nolint:gosec // weights, not secrets
}

// Xavier draws weights from the Glorot uniform distribution
// U(-√(6/(fanIn+fanOut)), +√(6/(fanIn+fanOut))).
func Xavier[B tensor.Backend](fanIn, fanOut int, shape tensor.Shape, backend B) *tensor.Tensor[float32, B] {
	bound := math.Sqrt(6.0 / float64(fanIn+fanOut))

	raw, err := tensor.NewRaw(shape, tensor.Float32, backend.Device())
	if err != nil {
		panic(err)
	}
	data := raw.AsFloat32()
	for i := range data {
		data[i] = float32((initRng.Float64()*2 - 1) * bound)
	}
	return tensor.New[float32, B](raw, backend)
}

// Zeros is the usual bias initializer.
func Zeros[B tensor.Backend](shape tensor.Shape, backend B) *tensor.Tensor[float32, B] {
	return tensor.Zeros[float32](shape, backend)
}

// Ones initializes batch-norm scale parameters.
func Ones[B tensor.Backend](shape tensor.Shape, backend B) *tensor.Tensor[float32, B] {
	return tensor.Ones[float32](shape, backend)
}
