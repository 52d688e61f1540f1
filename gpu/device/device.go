// Package device provides the compute-client boundary consumed by the
// fusion engine: hardware capability queries, buffer handles, and a CPU
// reference client. Accelerator backends plug in behind the same Client
// interface.
package device

import "fmt"

// HardwareProperties describes the capabilities the kernel dispatch logic
// queries before launching. All fields are read-only after client creation.
type HardwareProperties struct {
	// PlaneSize is the hardware group-scheduling granularity (warp or
	// wavefront width). Zero means the device cannot report it.
	PlaneSize uint32
	// TF32 reports whether the device accelerates reduced-precision
	// (tf32-class) accumulation for 32-bit float inputs.
	TF32 bool
}

// DefinedPlaneSize returns the plane size and whether the device defines one.
func (p HardwareProperties) DefinedPlaneSize() (uint32, bool) {
	if p.PlaneSize == 0 {
		return 0, false
	}
	return p.PlaneSize, true
}

// Buffer is an opaque storage handle owned by a client. The fusion engine
// never inspects buffers; reference kernels and tests go through Bytes.
type Buffer struct {
	data []byte
}

// Bytes exposes the raw storage of the buffer.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Len returns the buffer size in bytes.
func (b *Buffer) Len() int {
	return len(b.data)
}

// NewBuffer wraps existing storage in a buffer handle.
func NewBuffer(data []byte) *Buffer {
	return &Buffer{data: data}
}

// Client is the compute service shared by every unit bound to one device.
// It is a queried, reference-counted resource: capability flags may be read
// and work may be enqueued, but nothing on it is ever mutated.
type Client interface {
	// Properties returns the device capability flags.
	Properties() HardwareProperties
	// AllocBuffer allocates a zeroed device buffer of the given byte size.
	AllocBuffer(size int) *Buffer
}

// Kind identifies a device backend.
type Kind int

const (
	// CPU is the host reference backend.
	CPU Kind = iota
)

// Device is a runtime-only handle identifying where work runs. It is cheap
// to copy and never persisted; restoring a persisted optimization rebinds
// a fresh Device.
type Device struct {
	Kind  Kind
	Index int

	// props overrides autodetected hardware properties when non-nil.
	props *HardwareProperties
}

// NewCPUDevice returns the host device with autodetected properties.
func NewCPUDevice() Device {
	return Device{Kind: CPU}
}

// NewCPUDeviceWithProperties returns a host device reporting fixed
// properties, bypassing feature detection.
func NewCPUDeviceWithProperties(props HardwareProperties) Device {
	p := props
	return Device{Kind: CPU, props: &p}
}

// Client returns the compute client bound to this device.
func (d Device) Client() Client {
	switch d.Kind {
	case CPU:
		if d.props != nil {
			return &CPUClient{props: *d.props}
		}
		return NewCPUClient()
	}
	panic(fmt.Sprintf("unknown device kind %d", d.Kind))
}
