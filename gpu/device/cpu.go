package device

import "golang.org/x/sys/cpu"

// CPUClient is the host reference client. It reports a plane size derived
// from the widest available SIMD unit so that kernel algorithms requiring a
// scheduling granularity can run unmodified against host memory.
type CPUClient struct {
	props HardwareProperties
}

// NewCPUClient creates a host client with properties detected from CPU
// feature flags.
func NewCPUClient() *CPUClient {
	return &CPUClient{props: detectHostProperties()}
}

// detectHostProperties maps host SIMD features onto the capability flags the
// dispatcher understands: lane count of the widest vector unit as the plane
// size, and AMX tiles as the tensor-core-class reduced-precision unit.
func detectHostProperties() HardwareProperties {
	props := HardwareProperties{PlaneSize: 4}

	switch {
	case cpu.X86.HasAVX512F:
		props.PlaneSize = 16
	case cpu.X86.HasAVX2:
		props.PlaneSize = 8
	case cpu.ARM64.HasASIMD:
		props.PlaneSize = 4
	}

	if cpu.X86.HasAMXTile {
		props.TF32 = true
	}

	return props
}

// Properties returns the detected (or overridden) capability flags.
func (c *CPUClient) Properties() HardwareProperties {
	return c.props
}

// AllocBuffer allocates a zeroed host buffer.
func (c *CPUClient) AllocBuffer(size int) *Buffer {
	return &Buffer{data: make([]byte, size)}
}
