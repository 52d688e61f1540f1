// Package matmul defines the matmul kernel-algorithm contract consumed by
// the fusion engine, the hardware-agnostic problem description, and two
// reference algorithms (simple and cyclic double-buffering) that run against
// host memory.
package matmul

import (
	"github.com/tsawler/go-fusion/gpu/device"
	"github.com/tsawler/go-fusion/tensor"
)

// Layout is the logical matrix layout of one operand.
type Layout int

const (
	RowMajor Layout = iota
	ColMajor
)

// String returns the layout name.
func (l Layout) String() string {
	if l == ColMajor {
		return "col_major"
	}
	return "row_major"
}

// Problem is the hardware-agnostic description of one batched matmul:
// dimensions, per-operand batch shapes, operand layouts and vector line
// sizes. It is built fresh per launch and never persisted.
type Problem struct {
	M, N, K int

	// LhsBatch and RhsBatch are the leading dimensions before the trailing
	// matrix dims, kept separate per operand. Broadcasting between them is
	// resolved by the kernel, not by the problem builder.
	LhsBatch []int
	RhsBatch []int

	LhsLayout Layout
	RhsLayout Layout

	LhsLineSize uint32
	RhsLineSize uint32
	OutLineSize uint32
}

// NumBatches returns the number of matmul instances the kernel executes,
// which is the larger of the two operand batch counts (the smaller side is
// broadcast).
func (p Problem) NumBatches() int {
	lhs := prod(p.LhsBatch)
	rhs := prod(p.RhsBatch)
	if lhs > rhs {
		return lhs
	}
	return rhs
}

func prod(dims []int) int {
	n := 1
	for _, d := range dims {
		n *= d
	}
	return n
}

// PrecisionSpec describes the numeric types of one kernel launch: the
// storage element type of the operands, the type the multiply runs in, and
// the accumulator type. Mixed precision keeps Element wider than Compute.
type PrecisionSpec struct {
	Element    tensor.Precision
	Compute    tensor.Precision
	Accumulate tensor.Precision
}

// SpecFor returns the exact-precision spec for an element type: compute and
// storage match, accumulation in f32.
func SpecFor(p tensor.Precision) PrecisionSpec {
	return PrecisionSpec{Element: p, Compute: p, Accumulate: tensor.F32}
}

// TF32Spec is the tensor-core upgrade path for f32 tensors: storage and
// accumulation stay f32 while the multiply runs in tf32.
func TF32Spec() PrecisionSpec {
	return PrecisionSpec{Element: tensor.F32, Compute: tensor.TF32, Accumulate: tensor.F32}
}

// Operand is one tensor binding handed to a kernel launch.
type Operand struct {
	Shape     []int
	Strides   []int
	Precision tensor.Precision
	Buffer    *device.Buffer
}

// KernelInput carries the two input operand bindings of a launch.
type KernelInput struct {
	Lhs Operand
	Rhs Operand
}

// KernelOutput carries the output operand binding of a launch.
type KernelOutput struct {
	Out Operand
}
