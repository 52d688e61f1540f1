package fusion

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/tsawler/go-fusion/gpu/device"
	"github.com/tsawler/go-fusion/tensor"
)

// Tensor ids used by every fixture: lhs, rhs, the unfused matmul output,
// and the final fused output.
const (
	idLhs tensor.ID = iota + 1
	idRhs
	idMatmulOut
	idFinalOut
)

type fixtureConfig struct {
	lhsShape []int
	rhsShape []int

	precision tensor.Precision

	// stride overrides; nil means row-major contiguous.
	lhsStrides []int
	rhsStrides []int

	// virtualRef switches the block's reference layout from the concrete
	// output operand to a virtual one (scalar output iteration).
	virtualRef bool

	// withReLU adds a trailing ReLU to both the fused block and the
	// fallback trace.
	withReLU bool

	// props overrides the device capabilities; nil uses plane size 8 with
	// no tf32 support.
	props *device.HardwareProperties
}

func defaultProps() device.HardwareProperties {
	return device.HardwareProperties{PlaneSize: 8}
}

// fillPattern produces deterministic values spread over [-1.5, 1.5),
// all exactly representable in f16 and bf16.
func fillPattern(n int) []float32 {
	vals := make([]float32, n)
	for i := range vals {
		vals[i] = float32(i%13)*0.25 - 1.5
	}
	return vals
}

// newFixture builds a coordinator plus context for one fused matmul
// subgraph: out = elemwise_tail(lhs @ rhs).
func newFixture(t *testing.T, cfg fixtureConfig) (*MatmulOptimization, *Context) {
	t.Helper()

	props := defaultProps()
	if cfg.props != nil {
		props = *cfg.props
	}
	dev := device.NewCPUDeviceWithProperties(props)
	client := dev.Client()
	p := cfg.precision

	lhsDesc := tensor.NewDesc(idLhs, cfg.lhsShape, p)
	if cfg.lhsStrides != nil {
		lhsDesc.Strides = cfg.lhsStrides
	}
	rhsDesc := tensor.NewDesc(idRhs, cfg.rhsShape, p)
	if cfg.rhsStrides != nil {
		rhsDesc.Strides = cfg.rhsStrides
	}

	rank := len(cfg.lhsShape)
	outShape := append(append([]int{}, cfg.lhsShape[:rank-1]...), cfg.rhsShape[len(cfg.rhsShape)-1])
	matDesc := tensor.NewDesc(idMatmulOut, outShape, p)
	finalDesc := tensor.NewDesc(idFinalOut, outShape, p)

	ctx := NewContext()
	ctx.Register(lhsDesc, device.NewBuffer(tensor.EncodeFloats(p, fillPattern(lhsDesc.NumElements()))))
	ctx.Register(rhsDesc, device.NewBuffer(tensor.EncodeFloats(p, fillPattern(rhsDesc.NumElements()))))
	ctx.Register(matDesc, nil)
	ctx.Register(finalDesc, nil)

	ref := RefLayout{Concrete: &Arg{Kind: ArgOutput, Index: 0, Precision: p}}
	if cfg.virtualRef {
		ref = RefLayout{}
	}

	fusedOps := []ElemwiseOp{}
	fallbackOps := []ElemwiseOp{{Kind: ElemwiseIdentity, Input: Input(0, p), Out: Output(0, p)}}
	if cfg.withReLU {
		fusedOps = append(fusedOps, ElemwiseOp{Kind: ElemwiseReLU, Input: Output(0, p), Out: Output(0, p)})
		fallbackOps = []ElemwiseOp{{Kind: ElemwiseReLU, Input: Input(0, p), Out: Output(0, p)}}
	}

	fusedTrace := Trace{
		Resources: Resources{Inputs: []tensor.ID{idLhs, idRhs}, Outputs: []tensor.ID{idFinalOut}},
		Blocks:    []BlockConfig{{RefLayout: ref, Ops: fusedOps}},
	}
	fallbackTrace := Trace{
		Resources: Resources{Inputs: []tensor.ID{idMatmulOut}, Outputs: []tensor.ID{idFinalOut}},
		Blocks:    []BlockConfig{{RefLayout: RefLayout{Concrete: &Arg{Kind: ArgInput, Index: 0, Precision: p}}, Ops: fallbackOps}},
	}

	unit := NewFusedMatmul(Input(0, p), Input(1, p), Output(0, p), BinaryOp{Lhs: idLhs, Rhs: idRhs, Out: idMatmulOut})
	opt := NewMatmulOptimization(fusedTrace, fallbackTrace, client, dev, 1+len(fusedOps), unit)
	return opt, ctx
}

// unfusedMatmul is the test fallback operation: the original unfused
// matmul, computed through gonum with float64 accumulation.
type unfusedMatmul struct {
	op     BinaryOp
	client device.Client
	runs   int
}

func (u *unfusedMatmul) Run(ctx *Context) {
	u.runs++

	lhsDesc := ctx.Tensors[u.op.Lhs]
	rhsDesc := ctx.Tensors[u.op.Rhs]
	outDesc := ctx.Tensors[u.op.Out]

	lhs := tensor.DecodeFloats(lhsDesc.Precision, ctx.Handles[u.op.Lhs].Bytes())
	rhs := tensor.DecodeFloats(rhsDesc.Precision, ctx.Handles[u.op.Rhs].Bytes())

	rank := len(lhsDesc.Shape)
	m := lhsDesc.Shape[rank-2]
	k := lhsDesc.Shape[rank-1]
	n := rhsDesc.Shape[len(rhsDesc.Shape)-1]
	batches := outDesc.NumElements() / (m * n)

	lhsT := tensor.ClassifyMatrixBatchLayout(lhsDesc.Strides).Transposed
	rhsT := tensor.ClassifyMatrixBatchLayout(rhsDesc.Strides).Transposed

	result := make([]float32, batches*m*n)
	for b := 0; b < batches; b++ {
		a := logicalDense(lhs[b*m*k:(b+1)*m*k], m, k, lhsT)
		bb := logicalDense(rhs[b*k*n:(b+1)*k*n], k, n, rhsT)
		var c mat.Dense
		c.Mul(a, bb)
		for i := 0; i < m; i++ {
			for j := 0; j < n; j++ {
				result[b*m*n+i*n+j] = float32(c.At(i, j))
			}
		}
	}

	buf := ctx.Handles[u.op.Out]
	if buf == nil {
		buf = u.client.AllocBuffer(outDesc.SizeBytes())
		ctx.Handles[u.op.Out] = buf
	}
	copy(buf.Bytes(), tensor.EncodeFloats(outDesc.Precision, result))
}

// logicalDense builds the logical rows×cols matrix from one dense physical
// batch, honoring a transposed storage layout.
func logicalDense(vals []float32, rows, cols int, transposed bool) *mat.Dense {
	d := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			if transposed {
				d.Set(i, j, float64(vals[j*rows+i]))
			} else {
				d.Set(i, j, float64(vals[i*cols+j]))
			}
		}
	}
	return d
}

func fallbackFactoryFor(opt *MatmulOptimization) (*unfusedMatmul, FallbackFactory) {
	fb := &unfusedMatmul{op: opt.matmulSimple.Op, client: opt.client}
	return fb, func(index int) FallbackOperation { return fb }
}

func readFloats(t *testing.T, ctx *Context, id tensor.ID) []float32 {
	t.Helper()
	desc, ok := ctx.Tensors[id]
	if !ok {
		t.Fatalf("tensor %d not registered", id)
	}
	buf := ctx.Handles[id]
	if buf == nil {
		t.Fatalf("tensor %d has no buffer", id)
	}
	return tensor.DecodeFloats(desc.Precision, buf.Bytes())
}

func approxEqualSlices(a, b []float32, tolerance float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if math.Abs(float64(a[i]-b[i])) > tolerance {
			return false
		}
	}
	return true
}
