//go:build windows

// Package webgpu implements the WebGPU backend. Element-wise ops, scalar
// ops and MatMul run as WGSL compute shaders through go-webgpu's zero-CGO
// bindings; every other operation is delegated to an embedded CPU backend,
// so the backend always presents the full op surface.
package webgpu

import (
	"errors"
	"fmt"
	"sync"

	"github.com/go-webgpu/webgpu/wgpu"

	"github.com/kiln-ml/kiln/internal/backend/cpu"
	"github.com/kiln-ml/kiln/internal/tensor"
)

// Backend executes tensor operations on a WebGPU device.
type Backend struct {
	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue

	// Compiled shader and pipeline caches, keyed by op name.
	shaders   map[string]*wgpu.ShaderModule
	pipelines map[string]*wgpu.ComputePipeline
	mu        sync.RWMutex

	adapterInfo *wgpu.AdapterInfo

	// host runs the ops that have no WGSL kernel.
	host *cpu.Backend
}

// New initializes the WebGPU instance, adapter, device and queue. It
// returns an error when the native library or a compatible adapter is
// missing, so callers can fall back to the CPU backend.
func New() (backend *Backend, err error) {
	// The binding panics when wgpu_native cannot be loaded.
	defer func() {
		if r := recover(); r != nil {
			backend = nil
			err = fmt.Errorf("webgpu: native library not available: %v", r)
		}
	}()

	instance := wgpu.CreateInstance(nil)
	adapter, adapterErr := instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: wgpu.PowerPreferenceHighPerformance,
	})
	if adapterErr != nil {
		instance.Release()
		return nil, fmt.Errorf("webgpu: requesting adapter: %w", adapterErr)
	}
	adapterInfo := adapter.GetInfo()

	device, deviceErr := adapter.RequestDevice(nil)
	if deviceErr != nil {
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("webgpu: requesting device: %w", deviceErr)
	}
	queue := device.GetQueue()
	if queue == nil {
		device.Release()
		adapter.Release()
		instance.Release()
		return nil, errors.New("webgpu: device has no default queue")
	}

	return &Backend{
		instance:    instance,
		adapter:     adapter,
		device:      device,
		queue:       queue,
		shaders:     make(map[string]*wgpu.ShaderModule),
		pipelines:   make(map[string]*wgpu.ComputePipeline),
		adapterInfo: &adapterInfo,
		host:        cpu.New(),
	}, nil
}

// IsAvailable reports whether a WebGPU adapter can be acquired on this
// system.
func IsAvailable() (available bool) {
	defer func() {
		if r := recover(); r != nil {
			available = false
		}
	}()

	instance := wgpu.CreateInstance(nil)
	defer instance.Release()

	adapter, err := instance.RequestAdapter(nil)
	if err != nil {
		return false
	}
	adapter.Release()
	return true
}

// Release frees every cached pipeline and shader and the WebGPU objects.
// The backend must not be used afterwards.
func (b *Backend) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, p := range b.pipelines {
		p.Release()
	}
	b.pipelines = nil
	for _, s := range b.shaders {
		s.Release()
	}
	b.shaders = nil

	if b.queue != nil {
		b.queue.Release()
		b.queue = nil
	}
	if b.device != nil {
		b.device.Release()
		b.device = nil
	}
	if b.adapter != nil {
		b.adapter.Release()
		b.adapter = nil
	}
	if b.instance != nil {
		b.instance.Release()
		b.instance = nil
	}
}

// Name identifies the adapter backing this backend.
func (b *Backend) Name() string {
	if b.adapterInfo != nil {
		return fmt.Sprintf("WebGPU (%s %s)", b.adapterInfo.Name, b.adapterInfo.VendorName)
	}
	return "WebGPU"
}

// Device returns the compute device tag.
func (b *Backend) Device() tensor.Device { return tensor.WebGPU }

// AdapterInfo exposes the adapter description for diagnostics.
func (b *Backend) AdapterInfo() *wgpu.AdapterInfo { return b.adapterInfo }
