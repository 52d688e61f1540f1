package fusion

import (
	"fmt"

	"github.com/tsawler/go-fusion/gpu/device"
	"github.com/tsawler/go-fusion/gpu/matmul"
	"github.com/tsawler/go-fusion/tensor"
)

// Selector is the tagged choice of kernel strategy a fused unit launches.
// It is set once at construction and selection between strategies happens
// by choosing which unit to run, never by mutating the tag.
type Selector int

const (
	SelectorSimple Selector = iota
	SelectorDoubleBuffering
)

func (s Selector) String() string {
	if s == SelectorDoubleBuffering {
		return "double_buffering"
	}
	return "simple"
}

// FusedMatmul is the kernel-runner bound into the trace framework for the
// fused path: a matmul over two trace inputs followed by the trace's
// elementwise tail, launched as one kernel.
type FusedMatmul struct {
	Lhs      Arg      `json:"lhs"`
	Rhs      Arg      `json:"rhs"`
	Out      Arg      `json:"out"`
	Op       BinaryOp `json:"op"`
	Selector Selector `json:"selector"`

	// Kernel strategies, bound at construction and rebound on restore.
	// Not persisted.
	simple matmul.Algorithm
	double matmul.Algorithm
}

// NewFusedMatmul creates a fused-matmul unit over the default accelerated
// kernel strategies, with the Simple selector.
func NewFusedMatmul(lhs, rhs, out Arg, op BinaryOp) FusedMatmul {
	f := FusedMatmul{Lhs: lhs, Rhs: rhs, Out: out, Op: op}
	f.bindAlgorithms()
	return f
}

// bindAlgorithms attaches the concrete kernel strategies. Called from the
// constructor and after state restore, where only the serializable fields
// survive.
func (f *FusedMatmul) bindAlgorithms() {
	f.simple = matmul.NewSimple(matmul.TileAccelerated)
	f.double = matmul.NewCyclicDoubleBuffering(matmul.TileAccelerated)
}

// MaxLineSize declares that the fused matmul imposes no vectorization
// constraints beyond what the trace already computed.
func (f *FusedMatmul) MaxLineSize() uint32 {
	return 0
}

// Run is the kernel-runner entry point invoked by the trace framework. It
// branches on the output operand's declared precision; a tag outside the
// supported float set means the trace was built inconsistently, which is a
// programming error, not a launch failure.
func (f *FusedMatmul) Run(client device.Client, inputs, outputs GlobalArgs, configs []BlockConfig) error {
	switch f.Out.Precision {
	case tensor.F32:
		return f.matmulFused(client, matmul.SpecFor(tensor.F32), inputs, outputs, &configs[0])
	case tensor.Flex32:
		return f.matmulFused(client, matmul.SpecFor(tensor.Flex32), inputs, outputs, &configs[0])
	case tensor.F16:
		return f.matmulFused(client, matmul.SpecFor(tensor.F16), inputs, outputs, &configs[0])
	case tensor.BF16:
		return f.matmulFused(client, matmul.SpecFor(tensor.BF16), inputs, outputs, &configs[0])
	default:
		panic(fmt.Sprintf("unsupported precision %s for fused matmul output", f.Out.Precision))
	}
}

func (f *FusedMatmul) matmulFused(client device.Client, spec matmul.PrecisionSpec, inputs, outputs GlobalArgs, config *BlockConfig) error {
	lhsShape := inputs.Shape(f.Lhs)
	rhsShape := inputs.Shape(f.Rhs)

	lhsLayout := tensor.ClassifyMatrixBatchLayout(inputs.Strides(f.Lhs))
	rhsLayout := tensor.ClassifyMatrixBatchLayout(inputs.Strides(f.Rhs))

	// A layout needing a materializing copy is rejected outright; inserting
	// the copy is the caller's decision, not this engine's.
	if lhsLayout.Layout == tensor.LayoutHighlyPermuted || rhsLayout.Layout == tensor.LayoutHighlyPermuted {
		return ErrInvalidInput
	}

	rank := len(lhsShape)
	m := lhsShape[rank-2]
	k := lhsShape[rank-1]
	n := rhsShape[len(rhsShape)-1]

	lhsLineSize := inputs.LineSize(f.Lhs)
	rhsLineSize := inputs.LineSize(f.Rhs)
	outLineSize := refLineSize(config.RefLayout, inputs, outputs)

	// A unit output line forces scalar-per-lane writes; wider input lanes
	// would read past the narrower output iteration.
	if outLineSize == 1 && (lhsLineSize > 1 || rhsLineSize > 1) {
		return ErrInvalidInput
	}

	problem := matmul.Problem{
		M:           m,
		N:           n,
		K:           k,
		LhsBatch:    lhsShape[:rank-2],
		RhsBatch:    rhsShape[:len(rhsShape)-2],
		LhsLayout:   matrixLayout(lhsLayout.Transposed),
		RhsLayout:   matrixLayout(rhsLayout.Transposed),
		LhsLineSize: lhsLineSize,
		RhsLineSize: rhsLineSize,
		OutLineSize: outLineSize,
	}

	planeSize, ok := client.Properties().DefinedPlaneSize()
	if !ok {
		return &LaunchError{Err: &matmul.UnavailableError{Reason: matmul.PlaneDimUnknown}}
	}

	input := matmul.KernelInput{
		Lhs: operand(inputs, f.Lhs),
		Rhs: operand(inputs, f.Rhs),
	}
	output := matmul.KernelOutput{Out: operand(outputs, f.Out)}

	var algo matmul.Algorithm
	switch f.Selector {
	case SelectorSimple:
		algo = f.simple
	case SelectorDoubleBuffering:
		algo = f.double
	default:
		panic(fmt.Sprintf("unknown selector %d", int(f.Selector)))
	}

	if err := launchKernel(client, algo, spec, input, output, problem, planeSize); err != nil {
		return err
	}

	// The elementwise tail belongs to the same dispatch. The reference
	// algorithms apply it over the produced output.
	for _, eop := range config.Ops {
		if err := applyElemwise(eop, inputs, outputs); err != nil {
			return &LaunchError{Err: err}
		}
	}
	return nil
}

// launchKernel dispatches one algorithm launch, upgrading f32 tensors to
// the reduced-precision tf32 compute path when the algorithm's tile family
// runs on tensor cores and the device accelerates it. Storage and
// accumulation stay in f32.
func launchKernel(client device.Client, algo matmul.Algorithm, spec matmul.PrecisionSpec, input matmul.KernelInput, output matmul.KernelOutput, problem matmul.Problem, planeSize uint32) error {
	if algo.RequiresTensorCores() && spec.Element == tensor.F32 && client.Properties().TF32 {
		spec = matmul.TF32Spec()
	}
	if err := algo.Launch(client, spec, input, output, problem, planeSize); err != nil {
		return &LaunchError{Err: err}
	}
	return nil
}

// refLineSize resolves the output line size from the block's reference
// layout: a concrete reference uses that operand's line size, a virtual
// reference iterates scalar.
func refLineSize(ref RefLayout, inputs, outputs GlobalArgs) uint32 {
	if ref.Concrete == nil {
		return 1
	}
	switch ref.Concrete.Kind {
	case ArgInput:
		return inputs.LineSize(*ref.Concrete)
	case ArgOutput:
		return outputs.LineSize(*ref.Concrete)
	default:
		panic(fmt.Sprintf("invalid reference layout arg kind %d", int(ref.Concrete.Kind)))
	}
}

func matrixLayout(transposed bool) matmul.Layout {
	if transposed {
		return matmul.ColMajor
	}
	return matmul.RowMajor
}

func operand(args GlobalArgs, a Arg) matmul.Operand {
	return matmul.Operand{
		Shape:     args.Shape(a),
		Strides:   args.Strides(a),
		Precision: a.Precision,
		Buffer:    args.Buffer(a),
	}
}
