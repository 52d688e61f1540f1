package tensor

import (
	"encoding/binary"
	"fmt"
	"math"
)

// EncodeFloats packs float32 values into the byte representation of the
// given storage precision. Used at the buffer boundary by reference kernels
// and tests; accelerator backends work on device memory directly.
func EncodeFloats(p Precision, vals []float32) []byte {
	switch p {
	case F32, Flex32, TF32:
		out := make([]byte, 4*len(vals))
		for i, v := range vals {
			binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(v))
		}
		return out
	case F16:
		out := make([]byte, 2*len(vals))
		for i, v := range vals {
			binary.LittleEndian.PutUint16(out[2*i:], uint16(Float32ToFloat16(v)))
		}
		return out
	case BF16:
		out := make([]byte, 2*len(vals))
		for i, v := range vals {
			binary.LittleEndian.PutUint16(out[2*i:], uint16(Float32ToBFloat16(v)))
		}
		return out
	}
	panic(fmt.Sprintf("cannot encode floats as %s", p))
}

// DecodeFloats unpacks a byte buffer of the given storage precision into
// float32 values.
func DecodeFloats(p Precision, data []byte) []float32 {
	switch p {
	case F32, Flex32, TF32:
		out := make([]float32, len(data)/4)
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))
		}
		return out
	case F16:
		out := make([]float32, len(data)/2)
		for i := range out {
			out[i] = Float16ToFloat32(Float16(binary.LittleEndian.Uint16(data[2*i:])))
		}
		return out
	case BF16:
		out := make([]float32, len(data)/2)
		for i := range out {
			out[i] = BFloat16ToFloat32(BFloat16(binary.LittleEndian.Uint16(data[2*i:])))
		}
		return out
	}
	panic(fmt.Sprintf("cannot decode floats from %s", p))
}
