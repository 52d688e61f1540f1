package matmul

import (
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/tsawler/go-fusion/gpu/device"
)

// CyclicDoubleBuffering is the pipelined algorithm that splits the reduction
// dimension into tiles and cycles between two staging buffers, so the next
// tile is staged while the current one is consumed. The host reference keeps
// the staging structure and accumulation order of the pipelined kernel.
type CyclicDoubleBuffering struct {
	Tile TileFamily

	// TileK overrides the reduction tile depth. Zero derives it from the
	// plane size at launch.
	TileK int
}

// NewCyclicDoubleBuffering creates the double-buffered algorithm over the
// given tile family.
func NewCyclicDoubleBuffering(tile TileFamily) *CyclicDoubleBuffering {
	return &CyclicDoubleBuffering{Tile: tile}
}

func (d *CyclicDoubleBuffering) Name() string {
	return "double_buffering"
}

func (d *CyclicDoubleBuffering) RequiresTensorCores() bool {
	return d.Tile.RequiresTensorCores()
}

// Launch runs the batched multiply, accumulating one reduction tile at a
// time through the two staging buffers.
func (d *CyclicDoubleBuffering) Launch(client device.Client, spec PrecisionSpec, input KernelInput, output KernelOutput, problem Problem, planeSize uint32) error {
	if err := validateLaunch(d.Name(), input, output, problem, planeSize); err != nil {
		return err
	}

	lhs, rhs := loadInputs(spec, input)

	batches := problem.NumBatches()
	lhsBatches := prod(problem.LhsBatch)
	rhsBatches := prod(problem.RhsBatch)
	m, n, k := problem.M, problem.N, problem.K

	tileK := d.TileK
	if tileK <= 0 {
		tileK = 2 * int(planeSize)
	}
	if tileK > k {
		tileK = k
	}

	// Two staging buffers per operand, cycled per tile.
	var stageLhs, stageRhs [2][]float32
	for i := range stageLhs {
		stageLhs[i] = make([]float32, m*tileK)
		stageRhs[i] = make([]float32, tileK*n)
	}

	result := make([]float32, batches*m*n)
	for b := 0; b < batches; b++ {
		c := blas32.General{Rows: m, Cols: n, Stride: n, Data: result[b*m*n : (b+1)*m*n]}
		for tile, j0 := 0, 0; j0 < k; tile, j0 = tile+1, j0+tileK {
			kt := tileK
			if j0+kt > k {
				kt = k - j0
			}
			stage := tile % 2
			a, ta := stageLhsTile(stageLhs[stage], lhs, problem.LhsLayout, b%lhsBatches, m, k, j0, kt)
			bb, tb := stageRhsTile(stageRhs[stage], rhs, problem.RhsLayout, b%rhsBatches, n, k, j0, kt)
			blas32.Gemm(ta, tb, 1, a, bb, 1, c)
		}
	}

	storeOutput(output.Out, result)
	return nil
}

// stageLhsTile copies the [j0, j0+kt) reduction slice of one lhs batch into
// a dense staging buffer and returns its blas view.
func stageLhsTile(dst, lhs []float32, layout Layout, batch, m, k, j0, kt int) (blas32.General, blas.Transpose) {
	off := batch * m * k
	if layout == ColMajor {
		// Physical k×m: the tile is kt contiguous physical rows.
		copy(dst[:kt*m], lhs[off+j0*m:off+(j0+kt)*m])
		return blas32.General{Rows: kt, Cols: m, Stride: m, Data: dst[:kt*m]}, blas.Trans
	}
	for i := 0; i < m; i++ {
		copy(dst[i*kt:(i+1)*kt], lhs[off+i*k+j0:off+i*k+j0+kt])
	}
	return blas32.General{Rows: m, Cols: kt, Stride: kt, Data: dst[:m*kt]}, blas.NoTrans
}

// stageRhsTile copies the [j0, j0+kt) reduction slice of one rhs batch into
// a dense staging buffer and returns its blas view.
func stageRhsTile(dst, rhs []float32, layout Layout, batch, n, k, j0, kt int) (blas32.General, blas.Transpose) {
	off := batch * k * n
	if layout == ColMajor {
		// Physical n×k: the tile is kt columns of every physical row.
		for i := 0; i < n; i++ {
			copy(dst[i*kt:(i+1)*kt], rhs[off+i*k+j0:off+i*k+j0+kt])
		}
		return blas32.General{Rows: n, Cols: kt, Stride: kt, Data: dst[:n*kt]}, blas.Trans
	}
	copy(dst[:kt*n], rhs[off+j0*n:off+(j0+kt)*n])
	return blas32.General{Rows: kt, Cols: n, Stride: n, Data: dst[:kt*n]}, blas.NoTrans
}
