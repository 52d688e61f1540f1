package tensor

import "fmt"

// Precision identifies the numeric element type of a tensor or of a compute
// path. It mirrors the precision tags carried by captured traces, so it
// includes non-float tags even though the fused-matmul engine only dispatches
// on the float ones.
type Precision int

const (
	F32 Precision = iota
	Flex32
	F16
	BF16
	TF32
	I32
	U32
	Bool
)

// String returns the lowercase tag name used in logs and errors.
func (p Precision) String() string {
	switch p {
	case F32:
		return "f32"
	case Flex32:
		return "flex32"
	case F16:
		return "f16"
	case BF16:
		return "bf16"
	case TF32:
		return "tf32"
	case I32:
		return "i32"
	case U32:
		return "u32"
	case Bool:
		return "bool"
	}
	return fmt.Sprintf("precision(%d)", int(p))
}

// ElemSize returns the storage size in bytes of one element.
func (p Precision) ElemSize() int {
	switch p {
	case F32, Flex32, TF32, I32, U32:
		return 4
	case F16, BF16:
		return 2
	case Bool:
		return 1
	}
	panic(fmt.Sprintf("unknown precision %d", int(p)))
}

// IsFloat reports whether the precision is one of the floating-point tags.
func (p Precision) IsFloat() bool {
	switch p {
	case F32, Flex32, F16, BF16, TF32:
		return true
	}
	return false
}
