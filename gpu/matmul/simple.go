package matmul

import (
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/tsawler/go-fusion/gpu/device"
)

// Simple is the single-buffered pipelined algorithm: each batch runs one
// full-depth multiply with no tile staging. It is the default strategy and
// the one with the fewest configuration constraints.
type Simple struct {
	Tile TileFamily
}

// NewSimple creates the simple algorithm over the given tile family.
func NewSimple(tile TileFamily) *Simple {
	return &Simple{Tile: tile}
}

func (s *Simple) Name() string {
	return "simple"
}

func (s *Simple) RequiresTensorCores() bool {
	return s.Tile.RequiresTensorCores()
}

// Launch runs the batched multiply against the bound buffers.
func (s *Simple) Launch(client device.Client, spec PrecisionSpec, input KernelInput, output KernelOutput, problem Problem, planeSize uint32) error {
	if err := validateLaunch(s.Name(), input, output, problem, planeSize); err != nil {
		return err
	}

	lhs, rhs := loadInputs(spec, input)

	batches := problem.NumBatches()
	lhsBatches := prod(problem.LhsBatch)
	rhsBatches := prod(problem.RhsBatch)
	m, n, k := problem.M, problem.N, problem.K

	result := make([]float32, batches*m*n)
	for b := 0; b < batches; b++ {
		a, ta := batchGeneral(lhs, problem.LhsLayout, b%lhsBatches, m, k)
		bb, tb := batchGeneral(rhs, problem.RhsLayout, b%rhsBatches, k, n)
		c := blas32.General{Rows: m, Cols: n, Stride: n, Data: result[b*m*n : (b+1)*m*n]}
		blas32.Gemm(ta, tb, 1, a, bb, 0, c)
	}

	storeOutput(output.Out, result)
	return nil
}
