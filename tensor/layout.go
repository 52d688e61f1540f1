package tensor

// MatrixBatchLayout classifies the memory layout of a batched matrix from
// its strides: whether the trailing two dimensions can be consumed as-is,
// as a transposed view, or only after a materializing copy.
type MatrixBatchLayout int

const (
	// LayoutContiguous means the tensor is dense row-major; no changes needed.
	LayoutContiguous MatrixBatchLayout = iota
	// LayoutMildlyPermuted means the matrix dims are swapped (transposed
	// view) and/or batch dims are reordered, but every dimension is still
	// addressable without a copy.
	LayoutMildlyPermuted
	// LayoutHighlyPermuted means a batch stride interleaves with the matrix
	// strides (or a stride is zero); the tensor must be copied before a
	// matmul kernel can consume it.
	LayoutHighlyPermuted
)

// LayoutInfo is the result of classifying a stride sequence.
type LayoutInfo struct {
	Layout     MatrixBatchLayout
	Transposed bool
	BatchSwap  bool
}

// ClassifyMatrixBatchLayout inspects the strides of a rank>=2 tensor whose
// trailing two dimensions are the matrix dimensions. Batch strides must all
// dominate the matrix strides; otherwise rows of different batches
// interleave and the layout is highly permuted.
func ClassifyMatrixBatchLayout(strides []int) LayoutInfo {
	rank := len(strides)
	if rank <= 1 {
		return LayoutInfo{Layout: LayoutContiguous}
	}

	rowStride := strides[rank-2]
	colStride := strides[rank-1]
	if rowStride == 0 || colStride == 0 {
		// Broadcast matrix dims require materialization.
		return LayoutInfo{Layout: LayoutHighlyPermuted}
	}

	transposed := rowStride < colStride
	batchSwap := false

	previous := max(rowStride, colStride)
	for d := rank - 3; d >= 0; d-- {
		current := strides[d]
		if current < rowStride || current < colStride {
			return LayoutInfo{Layout: LayoutHighlyPermuted}
		}
		if current < previous {
			batchSwap = true
		}
		previous = current
	}

	if transposed || batchSwap {
		return LayoutInfo{Layout: LayoutMildlyPermuted, Transposed: transposed, BatchSwap: batchSwap}
	}
	return LayoutInfo{Layout: LayoutContiguous}
}
