package tensor

import "fmt"

// ID identifies a tensor within a captured trace and its execution context.
type ID uint64

// Desc describes a tensor without owning its storage: shape, strides and
// element precision. Buffers live with the device client; the fusion engine
// only ever reads descriptors.
type Desc struct {
	ID        ID        `json:"id"`
	Shape     []int     `json:"shape"`
	Strides   []int     `json:"strides"`
	Precision Precision `json:"precision"`
}

// NewDesc creates a descriptor with row-major contiguous strides.
func NewDesc(id ID, shape []int, precision Precision) Desc {
	return Desc{
		ID:        id,
		Shape:     shape,
		Strides:   ContiguousStrides(shape),
		Precision: precision,
	}
}

// ContiguousStrides returns the row-major strides for a shape.
func ContiguousStrides(shape []int) []int {
	strides := make([]int, len(shape))
	acc := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = acc
		acc *= shape[i]
	}
	return strides
}

// NumElements returns the number of elements the shape spans.
func (d Desc) NumElements() int {
	n := 1
	for _, dim := range d.Shape {
		n *= dim
	}
	return n
}

// SizeBytes returns the storage size of a dense buffer for this descriptor.
func (d Desc) SizeBytes() int {
	return d.NumElements() * d.Precision.ElemSize()
}

// Validate checks shape/stride agreement.
func (d Desc) Validate() error {
	if len(d.Shape) != len(d.Strides) {
		return fmt.Errorf("shape rank (%d) does not match stride rank (%d)", len(d.Shape), len(d.Strides))
	}
	for _, dim := range d.Shape {
		if dim <= 0 {
			return fmt.Errorf("invalid dimension %d in shape %v", dim, d.Shape)
		}
	}
	return nil
}

// Clone returns a deep copy of the descriptor.
func (d Desc) Clone() Desc {
	out := d
	out.Shape = append([]int(nil), d.Shape...)
	out.Strides = append([]int(nil), d.Strides...)
	return out
}
