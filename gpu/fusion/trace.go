package fusion

import (
	"fmt"

	"github.com/tsawler/go-fusion/gpu/device"
	"github.com/tsawler/go-fusion/tensor"
)

// Resources lists the tensors a trace touches, by global id, in slot order.
// Input slot i of the trace binds the tensor Resources.Inputs[i].
type Resources struct {
	Inputs  []tensor.ID `json:"inputs"`
	Outputs []tensor.ID `json:"outputs"`
}

// Trace is a captured, ordered sequence of tensor operations plus their
// resource bindings, replayed through a kernel runner. It is serializable
// independent of any live device binding.
type Trace struct {
	Resources Resources     `json:"resources"`
	Blocks    []BlockConfig `json:"blocks"`
}

// Context carries the live tensors of one execution: descriptors and device
// buffer handles keyed by global tensor id.
type Context struct {
	Tensors map[tensor.ID]tensor.Desc
	Handles map[tensor.ID]*device.Buffer
}

// NewContext creates an empty execution context.
func NewContext() *Context {
	return &Context{
		Tensors: make(map[tensor.ID]tensor.Desc),
		Handles: make(map[tensor.ID]*device.Buffer),
	}
}

// Register adds a tensor descriptor and its buffer to the context.
func (c *Context) Register(desc tensor.Desc, buf *device.Buffer) {
	c.Tensors[desc.ID] = desc
	c.Handles[desc.ID] = buf
}

// GlobalArgs is the launch-binding view of one side (inputs or outputs) of
// a trace, indexed by operand reference.
type GlobalArgs struct {
	descs     []tensor.Desc
	buffers   []*device.Buffer
	lineSizes []uint32
}

// Shape returns the shape bound to an operand reference.
func (g GlobalArgs) Shape(a Arg) []int { return g.descs[a.Index].Shape }

// Strides returns the strides bound to an operand reference.
func (g GlobalArgs) Strides(a Arg) []int { return g.descs[a.Index].Strides }

// LineSize returns the vector line width resolved for an operand.
func (g GlobalArgs) LineSize(a Arg) uint32 { return g.lineSizes[a.Index] }

// Buffer returns the device buffer bound to an operand reference.
func (g GlobalArgs) Buffer(a Arg) *device.Buffer { return g.buffers[a.Index] }

// Runner is the kernel-runner contract a trace replays through: one launch
// over the bound inputs and outputs of the trace.
type Runner interface {
	Run(client device.Client, inputs, outputs GlobalArgs, configs []BlockConfig) error
	// MaxLineSize caps the vector line sizes the runner supports. Zero
	// declares no constraint beyond what the trace already computed.
	MaxLineSize() uint32
}

// Overrides tweaks one trace run. The zero value (or nil pointer) keeps the
// trace's own vectorization analysis and records nothing.
type Overrides struct {
	// LineSizes caps the resolved line size per tensor id.
	LineSizes map[tensor.ID]uint32
	// RecordOutputs captures output handles into the execution output so
	// callers can diff results across strategies.
	RecordOutputs bool
}

// CheckedOutput is one recorded output buffer, kept with enough metadata to
// compare numeric results across strategies.
type CheckedOutput struct {
	Shape     []int
	Precision tensor.Precision
	Buffer    *device.Buffer
}

// ExecutionOutput is what one trace run (or fallback run) produced. Handles
// is populated only when output recording is enabled.
type ExecutionOutput struct {
	Handles map[tensor.ID]CheckedOutput
}

// Merge combines the recorded handles of two execution outputs.
func (o ExecutionOutput) Merge(other ExecutionOutput) ExecutionOutput {
	if other.Handles == nil {
		return o
	}
	if o.Handles == nil {
		o.Handles = make(map[tensor.ID]CheckedOutput, len(other.Handles))
	}
	for id, h := range other.Handles {
		o.Handles[id] = h
	}
	return o
}

// TraceError wraps a failure of one trace run, keeping the runner's own
// error reachable through errors.Is and errors.As.
type TraceError struct {
	Stage string
	Err   error
}

func (e *TraceError) Error() string {
	return fmt.Sprintf("trace %s: %v", e.Stage, e.Err)
}

func (e *TraceError) Unwrap() error {
	return e.Err
}

// Run replays the trace through a runner: binds every input and output slot
// to its context handle (allocating missing output buffers on the client),
// resolves vector line sizes, and invokes the runner once.
func (t *Trace) Run(client device.Client, dev device.Device, ctx *Context, runner Runner, overrides *Overrides) (ExecutionOutput, error) {
	if overrides == nil {
		overrides = &Overrides{}
	}

	inputs, err := t.bind(client, ctx, t.Resources.Inputs, false, runner, overrides)
	if err != nil {
		return ExecutionOutput{}, &TraceError{Stage: "bind inputs", Err: err}
	}
	outputs, err := t.bind(client, ctx, t.Resources.Outputs, true, runner, overrides)
	if err != nil {
		return ExecutionOutput{}, &TraceError{Stage: "bind outputs", Err: err}
	}

	if err := runner.Run(client, inputs, outputs, t.Blocks); err != nil {
		return ExecutionOutput{}, &TraceError{Stage: "run", Err: err}
	}

	out := ExecutionOutput{}
	if overrides.RecordOutputs {
		out.Handles = make(map[tensor.ID]CheckedOutput, len(t.Resources.Outputs))
		for i, id := range t.Resources.Outputs {
			out.Handles[id] = CheckedOutput{
				Shape:     outputs.descs[i].Shape,
				Precision: outputs.descs[i].Precision,
				Buffer:    outputs.buffers[i],
			}
		}
	}
	return out, nil
}

// bind resolves one side of the trace into launch bindings.
func (t *Trace) bind(client device.Client, ctx *Context, ids []tensor.ID, allocMissing bool, runner Runner, overrides *Overrides) (GlobalArgs, error) {
	args := GlobalArgs{
		descs:     make([]tensor.Desc, len(ids)),
		buffers:   make([]*device.Buffer, len(ids)),
		lineSizes: make([]uint32, len(ids)),
	}
	for i, id := range ids {
		desc, ok := ctx.Tensors[id]
		if !ok {
			return GlobalArgs{}, fmt.Errorf("tensor %d is not registered in the context", id)
		}
		buf := ctx.Handles[id]
		if buf == nil {
			if !allocMissing {
				return GlobalArgs{}, fmt.Errorf("tensor %d has no bound buffer", id)
			}
			buf = client.AllocBuffer(desc.SizeBytes())
			ctx.Handles[id] = buf
		}
		line := lineSizeOf(desc)
		if limit, ok := overrides.LineSizes[id]; ok && limit < line {
			line = limit
		}
		if limit := runner.MaxLineSize(); limit != 0 && line > limit {
			line = limit
		}
		args.descs[i] = desc
		args.buffers[i] = buf
		args.lineSizes[i] = line
	}
	return args, nil
}

// lineSizeOf resolves the widest vector line a tensor supports: its last
// dimension must be unit-stride and divisible by the line width.
func lineSizeOf(desc tensor.Desc) uint32 {
	rank := len(desc.Shape)
	if rank == 0 || desc.Strides[rank-1] != 1 {
		return 1
	}
	last := desc.Shape[rank-1]
	for _, w := range []int{8, 4, 2} {
		if last%w == 0 {
			return uint32(w)
		}
	}
	return 1
}
