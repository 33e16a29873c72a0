// Copyright 2026 Kiln ML Engine. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package cpu

import (
	internalcpu "github.com/kiln-ml/kiln/internal/backend/cpu"
	"github.com/kiln-ml/kiln/tensor"
)

// Backend executes tensor operations on the host CPU.
type Backend = internalcpu.Backend

// Compile-time check that Backend implements tensor.Backend.
var _ tensor.Backend = (*Backend)(nil)

// New creates a new CPU backend with the default worker pool.
//
// Example:
//
//	import (
//	    "github.com/kiln-ml/kiln/backend/cpu"
//	    "github.com/kiln-ml/kiln/tensor"
//	)
//
//	func main() {
//	    backend := cpu.New()
//	    x := tensor.Zeros[float32](tensor.Shape{2, 3}, backend)
//	}
func New() *Backend {
	return internalcpu.New()
}
