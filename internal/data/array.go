package data

import (
	"fmt"

	"github.com/kiln-ml/kiln/internal/tensor"
)

// ArrayDataset holds every sample in host memory as one contiguous
// float32 array. Suited to image datasets that fit in RAM, which is the
// regime this engine targets.
type ArrayDataset struct {
	values      []float32
	sampleShape tensor.Shape // CHW
	sampleSize  int
	labels      []int32
}

// NewArrayDataset wraps flat sample data. values holds len(labels)
// samples of sampleShape laid out back to back.
func NewArrayDataset(values []float32, sampleShape tensor.Shape, labels []int32) (*ArrayDataset, error) {
	if err := sampleShape.Validate(); err != nil {
		return nil, fmt.Errorf("data: invalid sample shape: %w", err)
	}
	size := sampleShape.NumElements()
	if len(values) != size*len(labels) {
		return nil, fmt.Errorf("data: %d values cannot hold %d samples of shape %v",
			len(values), len(labels), sampleShape)
	}
	return &ArrayDataset{
		values:      values,
		sampleShape: sampleShape,
		sampleSize:  size,
		labels:      labels,
	}, nil
}

func (d *ArrayDataset) Len() int { return len(d.labels) }

// SampleShape returns the CHW shape of one sample.
func (d *ArrayDataset) SampleShape() tensor.Shape { return d.sampleShape }

func (d *ArrayDataset) At(i int) (Sample, error) {
	if i < 0 || i >= len(d.labels) {
		return Sample{}, fmt.Errorf("data: index %d out of range [0, %d)", i, len(d.labels))
	}

	raw, err := tensor.NewRaw(d.sampleShape, tensor.Float32, tensor.CPU)
	if err != nil {
		return Sample{}, fmt.Errorf("data: allocating sample: %w", err)
	}
	copy(raw.AsFloat32(), d.values[i*d.sampleSize:(i+1)*d.sampleSize])

	return Sample{Data: raw, Label: d.labels[i], Index: int64(i)}, nil
}

// MapLabels remaps the dataset's labels to 0..N-1 by their position in
// labelSet. Datasets whose labels already run 0..N-1 need no mapping.
// Every stored label must appear in the set.
func (d *ArrayDataset) MapLabels(labelSet []int32) error {
	mapping := make(map[int32]int32, len(labelSet))
	for pos, label := range labelSet {
		if _, dup := mapping[label]; dup {
			return fmt.Errorf("data: label %d appears twice in label set", label)
		}
		mapping[label] = int32(pos)
	}
	for i, label := range d.labels {
		mapped, ok := mapping[label]
		if !ok {
			return fmt.Errorf("data: sample %d has label %d not covered by label set %v", i, label, labelSet)
		}
		d.labels[i] = mapped
	}
	return nil
}

// Labels exposes the (possibly remapped) label slice.
func (d *ArrayDataset) Labels() []int32 { return d.labels }
