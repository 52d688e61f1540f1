package fusion

import (
	"fmt"

	"github.com/tsawler/go-fusion/gpu/device"
	"github.com/tsawler/go-fusion/tensor"
)

// ElemwiseRunner replays a trace's elementwise operations as plain
// per-element kernels. The fallback path uses it to apply the trailing
// operations that were meant to be fused into the matmul launch.
type ElemwiseRunner struct{}

// MaxLineSize declares no vectorization constraints.
func (ElemwiseRunner) MaxLineSize() uint32 {
	return 0
}

// Run applies every block's elementwise tail over the bound buffers.
func (ElemwiseRunner) Run(client device.Client, inputs, outputs GlobalArgs, configs []BlockConfig) error {
	for _, block := range configs {
		for _, op := range block.Ops {
			if err := applyElemwise(op, inputs, outputs); err != nil {
				return err
			}
		}
	}
	return nil
}

func applyElemwise(op ElemwiseOp, inputs, outputs GlobalArgs) error {
	if !op.Input.Precision.IsFloat() || !op.Out.Precision.IsFloat() {
		return fmt.Errorf("elementwise op %s on non-float operand", op.Kind)
	}

	src := side(op.Input, inputs, outputs).Buffer(op.Input)
	dst := side(op.Out, inputs, outputs).Buffer(op.Out)

	vals := tensor.DecodeFloats(op.Input.Precision, src.Bytes())
	switch op.Kind {
	case ElemwiseIdentity:
	case ElemwiseReLU:
		for i, v := range vals {
			if v < 0 {
				vals[i] = 0
			}
		}
	case ElemwiseAddScalar:
		for i := range vals {
			vals[i] += op.Scalar
		}
	case ElemwiseMulScalar:
		for i := range vals {
			vals[i] *= op.Scalar
		}
	default:
		return fmt.Errorf("unknown elementwise op %s", op.Kind)
	}

	encoded := tensor.EncodeFloats(op.Out.Precision, vals)
	if len(encoded) > dst.Len() {
		return fmt.Errorf("elementwise output buffer too small: need %d bytes, have %d", len(encoded), dst.Len())
	}
	copy(dst.Bytes(), encoded)
	return nil
}

func side(a Arg, inputs, outputs GlobalArgs) GlobalArgs {
	if a.Kind == ArgOutput {
		return outputs
	}
	return inputs
}
