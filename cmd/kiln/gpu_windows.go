//go:build windows

package main

import (
	"context"

	"github.com/kiln-ml/kiln/internal/autodiff"
	"github.com/kiln-ml/kiln/internal/backend/webgpu"
	"github.com/kiln-ml/kiln/internal/config"
	"github.com/kiln-ml/kiln/internal/distributed"
)

// launchGPU builds the WebGPU backend and drives the run on it. A false
// first return means no backend could be built and the caller should fall
// back to the CPU.
func launchGPU(ctx context.Context, cfg *config.File, group distributed.Group, p runParams) (bool, error) {
	gpu, err := webgpu.New()
	if err != nil {
		return false, err
	}
	defer gpu.Release()
	return true, drive(ctx, cfg, group, autodiff.New(gpu), p)
}
