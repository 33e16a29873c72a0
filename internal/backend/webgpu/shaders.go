//go:build windows

package webgpu

import "fmt"

// workgroupSize is the thread count per 1D workgroup; it must match the
// @workgroup_size in the element-wise shader templates.
const workgroupSize = 256

// binaryShaderTemplate is specialized per operator. The substituted
// expression computes result[idx] from a[idx] and b[idx].
const binaryShaderTemplate = `
@group(0) @binding(0) var<storage, read> a: array<f32>;
@group(0) @binding(1) var<storage, read> b: array<f32>;
@group(0) @binding(2) var<storage, read_write> result: array<f32>;

struct Params {
    size: u32,
}
@group(0) @binding(3) var<uniform> params: Params;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) global_id: vec3<u32>) {
    let idx = global_id.x;
    if (idx < params.size) {
        result[idx] = %s;
    }
}
`

// unaryShaderTemplate maps x[idx] through the substituted expression.
const unaryShaderTemplate = `
@group(0) @binding(0) var<storage, read> x: array<f32>;
@group(0) @binding(1) var<storage, read_write> result: array<f32>;

struct Params {
    size: u32,
}
@group(0) @binding(2) var<uniform> params: Params;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) global_id: vec3<u32>) {
    let idx = global_id.x;
    if (idx < params.size) {
        result[idx] = %s;
    }
}
`

// scalarShaderTemplate combines x[idx] with a uniform scalar.
const scalarShaderTemplate = `
@group(0) @binding(0) var<storage, read> x: array<f32>;
@group(0) @binding(1) var<storage, read_write> result: array<f32>;

struct Params {
    size: u32,
    scalar: f32,
}
@group(0) @binding(2) var<uniform> params: Params;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) global_id: vec3<u32>) {
    let idx = global_id.x;
    if (idx < params.size) {
        result[idx] = %s;
    }
}
`

// matmulShader computes C = A x B for row-major A [M, K] and B [K, N].
const matmulShader = `
@group(0) @binding(0) var<storage, read> a: array<f32>;
@group(0) @binding(1) var<storage, read> b: array<f32>;
@group(0) @binding(2) var<storage, read_write> result: array<f32>;

struct Params {
    m: u32,
    k: u32,
    n: u32,
}
@group(0) @binding(3) var<uniform> params: Params;

@compute @workgroup_size(16, 16)
fn main(@builtin(global_invocation_id) global_id: vec3<u32>) {
    let row = global_id.y;
    let col = global_id.x;
    if (row >= params.m || col >= params.n) {
        return;
    }

    var sum: f32 = 0.0;
    for (var i: u32 = 0u; i < params.k; i = i + 1u) {
        sum = sum + a[row * params.k + i] * b[i * params.n + col];
    }
    result[row * params.n + col] = sum;
}
`

// matmulTile is the square workgroup edge used by matmulShader.
const matmulTile = 16

func binaryShader(expr string) string { return fmt.Sprintf(binaryShaderTemplate, expr) }
func unaryShader(expr string) string  { return fmt.Sprintf(unaryShaderTemplate, expr) }
func scalarShader(expr string) string { return fmt.Sprintf(scalarShaderTemplate, expr) }
