package data

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/kiln-ml/kiln/internal/tensor"
)

// IDX magic numbers: unsigned byte data with 3 dimensions (images) or
// 1 dimension (labels).
const (
	idxImageMagic = 0x00000803
	idxLabelMagic = 0x00000801
)

// LoadIDX reads an MNIST-style IDX image/label file pair into an
// ArrayDataset. Pixels are scaled from [0, 255] to [0, 1] and each sample
// gets shape [1, rows, cols].
func LoadIDX(imagesPath, labelsPath string) (*ArrayDataset, error) {
	values, shape, err := readIDXImages(imagesPath)
	if err != nil {
		return nil, err
	}
	labels, err := readIDXLabels(labelsPath)
	if err != nil {
		return nil, err
	}
	if len(labels)*shape.NumElements() != len(values) {
		return nil, fmt.Errorf("data: %s has %d images but %s has %d labels",
			imagesPath, len(values)/shape.NumElements(), labelsPath, len(labels))
	}
	return NewArrayDataset(values, shape, labels)
}

func readIDXImages(path string) ([]float32, tensor.Shape, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("data: opening images: %w", err)
	}
	defer file.Close()
	r := bufio.NewReader(file)

	var header [4]uint32
	for i := range header {
		if err := binary.Read(r, binary.BigEndian, &header[i]); err != nil {
			return nil, nil, fmt.Errorf("data: reading image header: %w", err)
		}
	}
	if header[0] != idxImageMagic {
		return nil, nil, fmt.Errorf("data: %s: bad image magic 0x%08x", path, header[0])
	}
	count, rows, cols := int(header[1]), int(header[2]), int(header[3])
	if count <= 0 || rows <= 0 || cols <= 0 {
		return nil, nil, fmt.Errorf("data: %s: implausible dimensions %dx%dx%d", path, count, rows, cols)
	}

	pixels := make([]byte, count*rows*cols)
	if _, err := io.ReadFull(r, pixels); err != nil {
		return nil, nil, fmt.Errorf("data: reading %d pixels: %w", len(pixels), err)
	}

	values := make([]float32, len(pixels))
	for i, p := range pixels {
		values[i] = float32(p) / 255
	}
	return values, tensor.Shape{1, rows, cols}, nil
}

func readIDXLabels(path string) ([]int32, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("data: opening labels: %w", err)
	}
	defer file.Close()
	r := bufio.NewReader(file)

	var header [2]uint32
	for i := range header {
		if err := binary.Read(r, binary.BigEndian, &header[i]); err != nil {
			return nil, fmt.Errorf("data: reading label header: %w", err)
		}
	}
	if header[0] != idxLabelMagic {
		return nil, fmt.Errorf("data: %s: bad label magic 0x%08x", path, header[0])
	}
	count := int(header[1])

	bytes := make([]byte, count)
	if _, err := io.ReadFull(r, bytes); err != nil {
		return nil, fmt.Errorf("data: reading %d labels: %w", count, err)
	}

	labels := make([]int32, count)
	for i, b := range bytes {
		labels[i] = int32(b)
	}
	return labels, nil
}
