package serialization

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidMagic       = errors.New("not a kiln file: bad magic bytes")
	ErrUnsupportedVersion = errors.New("unsupported format version")
	ErrTensorNotFound     = errors.New("tensor not found")
	ErrChecksumMismatch   = errors.New("checksum mismatch: file may be corrupted")
	ErrHeaderTooLarge     = errors.New("header exceeds maximum size")
)

// ValidationError reports a malformed header field. Malformed offsets or
// names are rejected before any payload is touched.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
