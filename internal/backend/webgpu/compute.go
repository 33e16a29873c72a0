//go:build windows

package webgpu

import (
	"encoding/binary"
	"fmt"
	"math"
	"unsafe"

	"github.com/go-webgpu/webgpu/wgpu"

	"github.com/kiln-ml/kiln/internal/tensor"
)

// compileShader compiles WGSL into a cached ShaderModule.
func (b *Backend) compileShader(name, code string) *wgpu.ShaderModule {
	b.mu.RLock()
	shader, ok := b.shaders[name]
	b.mu.RUnlock()
	if ok {
		return shader
	}

	shader = b.device.CreateShaderModuleWGSL(code)

	b.mu.Lock()
	b.shaders[name] = shader
	b.mu.Unlock()
	return shader
}

// pipelineFor returns the cached compute pipeline for name, compiling the
// shader and building the pipeline on first use.
func (b *Backend) pipelineFor(name, code string) *wgpu.ComputePipeline {
	b.mu.RLock()
	pipeline, ok := b.pipelines[name]
	b.mu.RUnlock()
	if ok {
		return pipeline
	}

	shader := b.compileShader(name, code)
	pipeline = b.device.CreateComputePipelineSimple(nil, shader, "main")

	b.mu.Lock()
	b.pipelines[name] = pipeline
	b.mu.Unlock()
	return pipeline
}

// createBuffer uploads data into a new GPU buffer via MappedAtCreation.
func (b *Backend) createBuffer(data []byte, usage wgpu.BufferUsage) *wgpu.Buffer {
	size := uint64(len(data))
	buffer := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage:            usage,
		Size:             size,
		MappedAtCreation: wgpu.True,
	})

	mapped := buffer.GetMappedRange(0, size)
	copy(unsafe.Slice((*byte)(mapped), size), data)
	buffer.Unmap()
	return buffer
}

// createStorageBuffer allocates an uninitialized result buffer.
func (b *Backend) createStorageBuffer(size uint64) *wgpu.Buffer {
	return b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst,
		Size:  size,
	})
}

// createUniformBuffer uploads params with the 16-byte alignment uniform
// buffers require.
func (b *Backend) createUniformBuffer(data []byte) *wgpu.Buffer {
	size := uint64(len(data))
	aligned := (size + 15) &^ 15

	buffer := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage:            wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst,
		Size:             aligned,
		MappedAtCreation: wgpu.True,
	})

	mapped := buffer.GetMappedRange(0, aligned)
	copy(unsafe.Slice((*byte)(mapped), aligned), data)
	buffer.Unmap()
	return buffer
}

// readBuffer copies a storage buffer back to host memory through a
// staging buffer, since storage buffers cannot be mapped directly.
func (b *Backend) readBuffer(src *wgpu.Buffer, size uint64) ([]byte, error) {
	staging := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
		Size:  size,
	})
	defer staging.Release()

	encoder := b.device.CreateCommandEncoder(nil)
	encoder.CopyBufferToBuffer(src, 0, staging, 0, size)
	b.queue.Submit(encoder.Finish(nil))

	if err := staging.MapAsync(b.device, wgpu.MapModeRead, 0, size); err != nil {
		return nil, fmt.Errorf("mapping staging buffer: %w", err)
	}
	mapped := staging.GetMappedRange(0, size)
	out := make([]byte, size)
	copy(out, unsafe.Slice((*byte)(mapped), size))
	staging.Unmap()
	return out, nil
}

// runKernel binds the entries, dispatches the pipeline and reads the
// result buffer back into out.
func (b *Backend) runKernel(pipeline *wgpu.ComputePipeline, entries []wgpu.BindGroupEntry, out *tensor.RawTensor, outBuffer *wgpu.Buffer, x, y uint32) error {
	bindGroup := b.device.CreateBindGroupSimple(pipeline.GetBindGroupLayout(0), entries)
	defer bindGroup.Release()

	encoder := b.device.CreateCommandEncoder(nil)
	pass := encoder.BeginComputePass(nil)
	pass.SetPipeline(pipeline)
	pass.SetBindGroup(0, bindGroup, nil)
	pass.DispatchWorkgroups(x, y, 1)
	pass.End()
	b.queue.Submit(encoder.Finish(nil))

	data, err := b.readBuffer(outBuffer, uint64(out.ByteSize()))
	if err != nil {
		return err
	}
	copy(out.Data(), data)
	return nil
}

func (b *Backend) runBinary(name, expr string, x, y *tensor.RawTensor) (*tensor.RawTensor, error) {
	out, err := tensor.NewRaw(x.Shape(), tensor.Float32, tensor.WebGPU)
	if err != nil {
		return nil, err
	}
	size := uint64(x.ByteSize())

	bufX := b.createBuffer(x.Data(), wgpu.BufferUsageStorage|wgpu.BufferUsageCopySrc)
	defer bufX.Release()
	bufY := b.createBuffer(y.Data(), wgpu.BufferUsageStorage|wgpu.BufferUsageCopySrc)
	defer bufY.Release()
	bufOut := b.createStorageBuffer(size)
	defer bufOut.Release()

	params := make([]byte, 16)
	binary.LittleEndian.PutUint32(params[0:4], uint32(x.NumElements()))
	bufParams := b.createUniformBuffer(params)
	defer bufParams.Release()

	entries := []wgpu.BindGroupEntry{
		wgpu.BufferBindingEntry(0, bufX, 0, size),
		wgpu.BufferBindingEntry(1, bufY, 0, size),
		wgpu.BufferBindingEntry(2, bufOut, 0, size),
		wgpu.BufferBindingEntry(3, bufParams, 0, 16),
	}
	groups := uint32((x.NumElements() + workgroupSize - 1) / workgroupSize)
	pipeline := b.pipelineFor(name, binaryShader(expr))
	if err := b.runKernel(pipeline, entries, out, bufOut, groups, 1); err != nil {
		return nil, err
	}
	return out, nil
}

func (b *Backend) runUnary(name, expr string, x *tensor.RawTensor) (*tensor.RawTensor, error) {
	out, err := tensor.NewRaw(x.Shape(), tensor.Float32, tensor.WebGPU)
	if err != nil {
		return nil, err
	}
	size := uint64(x.ByteSize())

	bufX := b.createBuffer(x.Data(), wgpu.BufferUsageStorage|wgpu.BufferUsageCopySrc)
	defer bufX.Release()
	bufOut := b.createStorageBuffer(size)
	defer bufOut.Release()

	params := make([]byte, 16)
	binary.LittleEndian.PutUint32(params[0:4], uint32(x.NumElements()))
	bufParams := b.createUniformBuffer(params)
	defer bufParams.Release()

	entries := []wgpu.BindGroupEntry{
		wgpu.BufferBindingEntry(0, bufX, 0, size),
		wgpu.BufferBindingEntry(1, bufOut, 0, size),
		wgpu.BufferBindingEntry(2, bufParams, 0, 16),
	}
	groups := uint32((x.NumElements() + workgroupSize - 1) / workgroupSize)
	pipeline := b.pipelineFor(name, unaryShader(expr))
	if err := b.runKernel(pipeline, entries, out, bufOut, groups, 1); err != nil {
		return nil, err
	}
	return out, nil
}

func (b *Backend) runScalar(name, expr string, x *tensor.RawTensor, scalar float32) (*tensor.RawTensor, error) {
	out, err := tensor.NewRaw(x.Shape(), tensor.Float32, tensor.WebGPU)
	if err != nil {
		return nil, err
	}
	size := uint64(x.ByteSize())

	bufX := b.createBuffer(x.Data(), wgpu.BufferUsageStorage|wgpu.BufferUsageCopySrc)
	defer bufX.Release()
	bufOut := b.createStorageBuffer(size)
	defer bufOut.Release()

	params := make([]byte, 16)
	binary.LittleEndian.PutUint32(params[0:4], uint32(x.NumElements()))
	binary.LittleEndian.PutUint32(params[4:8], math.Float32bits(scalar))
	bufParams := b.createUniformBuffer(params)
	defer bufParams.Release()

	entries := []wgpu.BindGroupEntry{
		wgpu.BufferBindingEntry(0, bufX, 0, size),
		wgpu.BufferBindingEntry(1, bufOut, 0, size),
		wgpu.BufferBindingEntry(2, bufParams, 0, 16),
	}
	groups := uint32((x.NumElements() + workgroupSize - 1) / workgroupSize)
	pipeline := b.pipelineFor(name, scalarShader(expr))
	if err := b.runKernel(pipeline, entries, out, bufOut, groups, 1); err != nil {
		return nil, err
	}
	return out, nil
}

func (b *Backend) runMatMul(x, y *tensor.RawTensor) (*tensor.RawTensor, error) {
	m, k, n := x.Shape()[0], x.Shape()[1], y.Shape()[1]
	out, err := tensor.NewRaw(tensor.Shape{m, n}, tensor.Float32, tensor.WebGPU)
	if err != nil {
		return nil, err
	}
	outSize := uint64(out.ByteSize())

	bufX := b.createBuffer(x.Data(), wgpu.BufferUsageStorage|wgpu.BufferUsageCopySrc)
	defer bufX.Release()
	bufY := b.createBuffer(y.Data(), wgpu.BufferUsageStorage|wgpu.BufferUsageCopySrc)
	defer bufY.Release()
	bufOut := b.createStorageBuffer(outSize)
	defer bufOut.Release()

	params := make([]byte, 16)
	binary.LittleEndian.PutUint32(params[0:4], uint32(m))
	binary.LittleEndian.PutUint32(params[4:8], uint32(k))
	binary.LittleEndian.PutUint32(params[8:12], uint32(n))
	bufParams := b.createUniformBuffer(params)
	defer bufParams.Release()

	entries := []wgpu.BindGroupEntry{
		wgpu.BufferBindingEntry(0, bufX, 0, uint64(x.ByteSize())),
		wgpu.BufferBindingEntry(1, bufY, 0, uint64(y.ByteSize())),
		wgpu.BufferBindingEntry(2, bufOut, 0, outSize),
		wgpu.BufferBindingEntry(3, bufParams, 0, 16),
	}
	groupsX := uint32((n + matmulTile - 1) / matmulTile)
	groupsY := uint32((m + matmulTile - 1) / matmulTile)
	pipeline := b.pipelineFor("matmul", matmulShader)
	if err := b.runKernel(pipeline, entries, out, bufOut, groupsX, groupsY); err != nil {
		return nil, err
	}
	return out, nil
}
