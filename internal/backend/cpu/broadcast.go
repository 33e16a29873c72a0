package cpu

import "github.com/kiln-ml/kiln/internal/tensor"

// broadcastIndexer maps flat positions in a broadcast output back to flat
// positions in one of the inputs. Dimensions the input lacks, or holds with
// size 1, contribute a zero stride so the same input element repeats.
type broadcastIndexer struct {
	outShape tensor.Shape
	strides  []int
}

func newBroadcastIndexer(inShape, outShape tensor.Shape) broadcastIndexer {
	inStrides := inShape.ComputeStrides()
	strides := make([]int, len(outShape))
	offset := len(outShape) - len(inShape)
	for d := range outShape {
		in := d - offset
		if in >= 0 && inShape[in] != 1 {
			strides[d] = inStrides[in]
		}
	}
	return broadcastIndexer{outShape: outShape, strides: strides}
}

func (ix broadcastIndexer) at(flat int) int {
	idx := 0
	for d := len(ix.outShape) - 1; d >= 0; d-- {
		coord := flat % ix.outShape[d]
		flat /= ix.outShape[d]
		idx += coord * ix.strides[d]
	}
	return idx
}
