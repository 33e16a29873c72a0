//go:build !windows

package main

import (
	"context"
	"errors"

	"github.com/kiln-ml/kiln/internal/config"
	"github.com/kiln-ml/kiln/internal/distributed"
)

// launchGPU reports that this build carries no GPU backend; the caller
// falls back to the CPU.
func launchGPU(context.Context, *config.File, distributed.Group, runParams) (bool, error) {
	return false, errors.New("webgpu backend requires a windows build")
}
