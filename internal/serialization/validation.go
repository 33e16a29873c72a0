package serialization

import (
	"fmt"
	"sort"
	"strings"
)

const (
	maxHeaderSize  = 64 * 1024 * 1024
	maxTensorCount = 65536
	maxNameLength  = 1024
)

// validateDirectory rejects malformed tensor directories before any
// payload bytes are interpreted: overlapping regions, out-of-bounds reads
// and hostile names all fail here.
func validateDirectory(tensors []TensorMeta, dataSize int64) error {
	if len(tensors) > maxTensorCount {
		return &ValidationError{
			Field:  "tensors",
			Reason: fmt.Sprintf("%d entries exceed the limit of %d", len(tensors), maxTensorCount),
		}
	}

	seen := make(map[string]bool, len(tensors))
	for _, t := range tensors {
		if err := validateName(t.Name); err != nil {
			return err
		}
		if seen[t.Name] {
			return &ValidationError{Field: "name", Reason: fmt.Sprintf("duplicate tensor %q", t.Name)}
		}
		seen[t.Name] = true

		if t.Offset < 0 || t.Size < 0 {
			return &ValidationError{
				Field:  "offset",
				Reason: fmt.Sprintf("tensor %q has negative offset %d or size %d", t.Name, t.Offset, t.Size),
			}
		}
		if t.Offset+t.Size > dataSize {
			return &ValidationError{
				Field:  "offset",
				Reason: fmt.Sprintf("tensor %q region [%d, %d) exceeds data section of %d bytes", t.Name, t.Offset, t.Offset+t.Size, dataSize),
			}
		}
	}

	sorted := make([]TensorMeta, len(tensors))
	copy(sorted, tensors)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Offset < sorted[j].Offset })
	for i := 0; i < len(sorted)-1; i++ {
		cur, next := sorted[i], sorted[i+1]
		if cur.Offset+cur.Size > next.Offset {
			return &ValidationError{
				Field:  "offset",
				Reason: fmt.Sprintf("tensors %q and %q overlap", cur.Name, next.Name),
			}
		}
	}
	return nil
}

func validateName(name string) error {
	if name == "" {
		return &ValidationError{Field: "name", Reason: "empty tensor name"}
	}
	if len(name) > maxNameLength {
		return &ValidationError{Field: "name", Reason: fmt.Sprintf("%d bytes exceed the limit of %d", len(name), maxNameLength)}
	}
	if strings.Contains(name, "..") || strings.ContainsAny(name, "/\\\x00") {
		return &ValidationError{Field: "name", Reason: fmt.Sprintf("%q contains path separators or traversal", name)}
	}
	return nil
}
