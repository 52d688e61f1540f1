package tensor

import "math"

// Half-precision storage formats used by the kernel dispatch paths. Values
// are stored as raw bit patterns; conversion to and from float32 happens at
// the buffer boundary, never inside the dispatch logic.

// Float16 is an IEEE 754 binary16 value stored as its bit pattern.
type Float16 uint16

// BFloat16 is a bfloat16 (truncated binary32) value stored as its bit pattern.
type BFloat16 uint16

// Float32ToFloat16 converts a float32 to IEEE half precision, rounding
// toward zero and saturating overflow to infinity.
func Float32ToFloat16(f float32) Float16 {
	bits := math.Float32bits(f)

	sign := (bits >> 31) & 0x1
	exp := (bits >> 23) & 0xFF
	mantissa := bits & 0x7FFFFF

	if exp == 0 {
		// Zero or subnormal, flushes to signed zero.
		return Float16(sign << 15)
	} else if exp == 0xFF {
		if mantissa == 0 {
			return Float16((sign << 15) | 0x7C00)
		}
		// NaN keeps the top mantissa bits.
		return Float16((sign << 15) | 0x7C00 | (mantissa >> 13))
	}

	// Adjust exponent for float16 bias (15 vs 127).
	expAdjusted := int32(exp) - 127 + 15

	if expAdjusted >= 31 {
		// Overflow to infinity.
		return Float16((sign << 15) | 0x7C00)
	} else if expAdjusted <= 0 {
		if expAdjusted < -10 {
			// Too small, round to zero.
			return Float16(sign << 15)
		}
		// Subnormal number.
		shiftAmount := 1 - expAdjusted
		mantissa = (mantissa | 0x800000) >> uint32(shiftAmount)
		return Float16((sign << 15) | (mantissa >> 13))
	}

	return Float16((sign << 15) | (uint32(expAdjusted) << 10) | (mantissa >> 13))
}

// Float16ToFloat32 converts an IEEE half precision value back to float32.
func Float16ToFloat32(h Float16) float32 {
	sign := uint32(h>>15) & 0x1
	exp := uint32(h>>10) & 0x1F
	mantissa := uint32(h) & 0x3FF

	var bits uint32
	switch {
	case exp == 0 && mantissa == 0:
		bits = sign << 31
	case exp == 0:
		// Subnormal: normalize into the float32 exponent range.
		e := int32(-14)
		for mantissa&0x400 == 0 {
			mantissa <<= 1
			e--
		}
		mantissa &= 0x3FF
		bits = (sign << 31) | (uint32(e+127) << 23) | (mantissa << 13)
	case exp == 0x1F:
		// Infinity or NaN.
		bits = (sign << 31) | 0x7F800000 | (mantissa << 13)
	default:
		bits = (sign << 31) | ((exp - 15 + 127) << 23) | (mantissa << 13)
	}
	return math.Float32frombits(bits)
}

// Float32ToBFloat16 converts a float32 to bfloat16 by truncating the low
// 16 mantissa bits.
func Float32ToBFloat16(f float32) BFloat16 {
	return BFloat16(math.Float32bits(f) >> 16)
}

// BFloat16ToFloat32 converts a bfloat16 value back to float32.
func BFloat16ToFloat32(b BFloat16) float32 {
	return math.Float32frombits(uint32(b) << 16)
}

// TruncateTF32 reduces a float32 to tf32 compute precision by zeroing the
// low 13 mantissa bits, keeping the 10-bit tf32 mantissa and full exponent.
func TruncateTF32(f float32) float32 {
	return math.Float32frombits(math.Float32bits(f) &^ 0x1FFF)
}
