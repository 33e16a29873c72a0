package serialization

import "crypto/sha256"

// computeChecksum hashes the data section for integrity validation.
func computeChecksum(data []byte) [checksumSize]byte {
	return sha256.Sum256(data)
}

// validateChecksum compares a freshly computed digest against the stored
// one.
func validateChecksum(computed, stored [checksumSize]byte) error {
	if computed != stored {
		return ErrChecksumMismatch
	}
	return nil
}
