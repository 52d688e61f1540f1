// Package fusion implements the fused-matmul kernel selection, validation
// and dispatch engine: it inspects operand layouts, builds a matmul problem
// description, picks a kernel strategy, and launches it through the trace
// kernel-runner contract, falling back to unfused execution when the fused
// path cannot run.
package fusion

import (
	"fmt"

	"github.com/tsawler/go-fusion/tensor"
)

// ArgKind says which side of a trace an operand reference points into.
type ArgKind int

const (
	// ArgInput references a trace input slot.
	ArgInput ArgKind = iota
	// ArgOutput references a trace output slot.
	ArgOutput
)

// Arg is an opaque reference to a tensor slot within a captured trace,
// tagged with the slot's numeric precision. The trace owns the slot; the
// fusion engine only reads through it.
type Arg struct {
	Kind      ArgKind          `json:"kind"`
	Index     int              `json:"index"`
	Precision tensor.Precision `json:"precision"`
}

// Input returns an input-slot reference.
func Input(index int, precision tensor.Precision) Arg {
	return Arg{Kind: ArgInput, Index: index, Precision: precision}
}

// Output returns an output-slot reference.
func Output(index int, precision tensor.Precision) Arg {
	return Arg{Kind: ArgOutput, Index: index, Precision: precision}
}

// BinaryOp describes the captured binary operation a fused unit replaces,
// by global tensor id. The out id is what correctness checks diff against
// the fallback run.
type BinaryOp struct {
	Lhs tensor.ID `json:"lhs"`
	Rhs tensor.ID `json:"rhs"`
	Out tensor.ID `json:"out"`
}

// RefLayout names the operand whose layout the trace's vectorization
// analysis used as reference. A nil Concrete arg is a virtual reference
// layout, which forces scalar (line size 1) output iteration.
type RefLayout struct {
	Concrete *Arg `json:"concrete,omitempty"`
}

// ElemwiseKind enumerates the trailing elementwise operations a block can
// carry.
type ElemwiseKind int

const (
	ElemwiseIdentity ElemwiseKind = iota
	ElemwiseReLU
	ElemwiseAddScalar
	ElemwiseMulScalar
)

func (k ElemwiseKind) String() string {
	switch k {
	case ElemwiseIdentity:
		return "identity"
	case ElemwiseReLU:
		return "relu"
	case ElemwiseAddScalar:
		return "add_scalar"
	case ElemwiseMulScalar:
		return "mul_scalar"
	}
	return fmt.Sprintf("elemwise(%d)", int(k))
}

// ElemwiseOp is one trailing elementwise operation inside a block.
type ElemwiseOp struct {
	Kind   ElemwiseKind `json:"kind"`
	Scalar float32      `json:"scalar,omitempty"`
	Input  Arg          `json:"input"`
	Out    Arg          `json:"out"`
}

// BlockConfig is the per-block configuration a runner receives: the
// reference layout chosen by the trace and the block's elementwise tail.
type BlockConfig struct {
	RefLayout RefLayout    `json:"ref_layout"`
	Ops       []ElemwiseOp `json:"ops,omitempty"`
}
