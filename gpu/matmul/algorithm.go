package matmul

import (
	"fmt"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/tsawler/go-fusion/gpu/device"
	"github.com/tsawler/go-fusion/tensor"
)

// TileFamily describes the inner tile matmul an outer algorithm is built on.
// The dispatcher uses it to decide whether a launch can take the
// reduced-precision tensor-core path.
type TileFamily int

const (
	// TilePlane is a plane-cooperative FMA tile.
	TilePlane TileFamily = iota
	// TileAccelerated is a tensor-core-class tile.
	TileAccelerated
)

// RequiresTensorCores reports whether tiles of this family run on
// tensor-core-class units.
func (f TileFamily) RequiresTensorCores() bool {
	return f == TileAccelerated
}

// Algorithm is the pluggable kernel strategy contract. Implementations are
// supplied to the fusion engine; the engine only chooses which one to
// launch. Launch must return an error on any unsupported configuration,
// never panic.
type Algorithm interface {
	Name() string
	RequiresTensorCores() bool
	Launch(client device.Client, spec PrecisionSpec, input KernelInput, output KernelOutput, problem Problem, planeSize uint32) error
}

// validateLaunch performs the checks shared by the reference algorithms.
func validateLaunch(name string, input KernelInput, output KernelOutput, problem Problem, planeSize uint32) error {
	if problem.M <= 0 || problem.N <= 0 || problem.K <= 0 {
		return &InvalidConfigError{Algorithm: name, Reason: fmt.Sprintf("degenerate problem %dx%dx%d", problem.M, problem.N, problem.K)}
	}
	if planeSize == 0 {
		return &UnavailableError{Reason: PlaneDimUnknown}
	}

	batches := problem.NumBatches()
	lhsWant := prod(problem.LhsBatch) * problem.M * problem.K * input.Lhs.Precision.ElemSize()
	rhsWant := prod(problem.RhsBatch) * problem.K * problem.N * input.Rhs.Precision.ElemSize()
	outWant := batches * problem.M * problem.N * output.Out.Precision.ElemSize()

	if input.Lhs.Buffer == nil || input.Lhs.Buffer.Len() < lhsWant {
		return &InvalidConfigError{Algorithm: name, Reason: "lhs buffer smaller than problem"}
	}
	if input.Rhs.Buffer == nil || input.Rhs.Buffer.Len() < rhsWant {
		return &InvalidConfigError{Algorithm: name, Reason: "rhs buffer smaller than problem"}
	}
	if output.Out.Buffer == nil || output.Out.Buffer.Len() < outWant {
		return &InvalidConfigError{Algorithm: name, Reason: "out buffer smaller than problem"}
	}
	return nil
}

// loadInputs decodes both operands to float32 and applies the compute
// precision rounding, so the multiply observes exactly the precision the
// spec declares.
func loadInputs(spec PrecisionSpec, input KernelInput) (lhs, rhs []float32) {
	lhs = tensor.DecodeFloats(input.Lhs.Precision, input.Lhs.Buffer.Bytes())
	rhs = tensor.DecodeFloats(input.Rhs.Precision, input.Rhs.Buffer.Bytes())
	roundToCompute(spec.Compute, lhs)
	roundToCompute(spec.Compute, rhs)
	return lhs, rhs
}

// roundToCompute rounds values in place to the given compute precision.
func roundToCompute(p tensor.Precision, vals []float32) {
	switch p {
	case tensor.F32, tensor.Flex32:
		// Full (or relaxed) single precision, nothing to drop.
	case tensor.TF32:
		for i, v := range vals {
			vals[i] = tensor.TruncateTF32(v)
		}
	case tensor.F16:
		for i, v := range vals {
			vals[i] = tensor.Float16ToFloat32(tensor.Float32ToFloat16(v))
		}
	case tensor.BF16:
		for i, v := range vals {
			vals[i] = tensor.BFloat16ToFloat32(tensor.Float32ToBFloat16(v))
		}
	default:
		panic(fmt.Sprintf("cannot compute matmul in %s", p))
	}
}

// batchGeneral builds the blas32 view of one batch of an operand. The
// layout decides whether the physical matrix is stored as rows×cols or as
// its transpose; the returned transpose flag restores the logical view.
func batchGeneral(data []float32, layout Layout, batch, rows, cols int) (blas32.General, blas.Transpose) {
	off := batch * rows * cols
	if layout == ColMajor {
		return blas32.General{
			Rows:   cols,
			Cols:   rows,
			Stride: rows,
			Data:   data[off : off+rows*cols],
		}, blas.Trans
	}
	return blas32.General{
		Rows:   rows,
		Cols:   cols,
		Stride: cols,
		Data:   data[off : off+rows*cols],
	}, blas.NoTrans
}

// storeOutput encodes the accumulated result into the output buffer with
// the output's storage precision.
func storeOutput(out Operand, result []float32) {
	copy(out.Buffer.Bytes(), tensor.EncodeFloats(out.Precision, result))
}
