package fusion

import (
	"github.com/tsawler/go-fusion/gpu/device"
	"github.com/tsawler/go-fusion/tensor"
)

// FallbackOperation runs the original unfused operation the fused subgraph
// replaced, writing its output into the context's tensor handles.
type FallbackOperation interface {
	Run(ctx *Context)
}

// FallbackFactory lazily captures the fallback operation for the fused
// subgraph at the given position in the larger trace.
type FallbackFactory func(index int) FallbackOperation

// MatmulOptimization coordinates one fused matmul subgraph: the fused trace,
// the unfused fallback trace, and the two strategy variants of the fused
// unit. A coordinator is used by one logical execution stream at a time;
// the fallback operation is call-scoped and never shared across calls.
type MatmulOptimization struct {
	trace         Trace
	traceFallback Trace
	client        device.Client
	dev           device.Device
	length        int
	matmulSimple  FusedMatmul
	matmulDouble  FusedMatmul
	fallback      FallbackOperation

	// tuner, when set, owns strategy selection in Execute.
	tuner *Tuner
	// checks enables recording of output handles so fused and fallback
	// results can be diffed.
	checks bool
}

// NewMatmulOptimization creates a coordinator. The fused unit template is
// cloned into its two selector variants; selection later happens by
// choosing which variant to run.
func NewMatmulOptimization(trace, traceFallback Trace, client device.Client, dev device.Device, numOpsFused int, unit FusedMatmul) *MatmulOptimization {
	simple := unit
	double := unit
	simple.Selector = SelectorSimple
	double.Selector = SelectorDoubleBuffering
	simple.bindAlgorithms()
	double.bindAlgorithms()

	return &MatmulOptimization{
		trace:         trace,
		traceFallback: traceFallback,
		client:        client,
		dev:           dev,
		length:        numOpsFused,
		matmulSimple:  simple,
		matmulDouble:  double,
	}
}

// SetTuner enables autotuned strategy selection. A nil tuner disables it.
func (o *MatmulOptimization) SetTuner(t *Tuner) {
	o.tuner = t
}

// EnableChecks turns on recording of output handles for correctness
// cross-checks between the fused and fallback paths.
func (o *MatmulOptimization) EnableChecks(enabled bool) {
	o.checks = enabled
}

// Execute runs the optimization. It always produces the final output in the
// context: either the fused kernel succeeds, or the fallback path completes
// it. Recoverable fused errors are absorbed here and never surface to the
// caller; contract violations panic.
func (o *MatmulOptimization) Execute(ctx *Context, fallback FallbackFactory) {
	// The index of the fallback matmul is always 0. Captured first,
	// unconditionally: both the tuned and the manual path may need it.
	o.fallback = fallback(0)

	if o.tuner != nil {
		o.tuner.Execute(o, ctx)
		return
	}

	if _, err := o.executeStandardFused(ctx); err != nil {
		o.ExecuteFallback(ctx)
	}
}

// executeStandardFused is the non-autotuned fused attempt: the fused trace
// with the Simple unit.
func (o *MatmulOptimization) executeStandardFused(ctx *Context) (ExecutionOutput, error) {
	return o.ExecuteSimpleFused(ctx)
}

// ExecuteSimpleFused runs the fused trace with the simple strategy unit.
// Safe to invoke repeatedly and in any order with the other entry points;
// the autotuner relies on that.
func (o *MatmulOptimization) ExecuteSimpleFused(ctx *Context) (ExecutionOutput, error) {
	return o.trace.Run(o.client, o.dev, ctx, &o.matmulSimple, o.runOverrides())
}

// ExecuteDoubleBufferingFused runs the fused trace with the double-buffered
// strategy unit.
func (o *MatmulOptimization) ExecuteDoubleBufferingFused(ctx *Context) (ExecutionOutput, error) {
	return o.trace.Run(o.client, o.dev, ctx, &o.matmulDouble, o.runOverrides())
}

// ExecuteFallback runs the captured unfused operation, then replays the
// fallback trace through the elementwise runner to apply the trailing
// operations. It never fails: a missing fallback operation is a contract
// violation, since Execute captures one before any path that could need it.
func (o *MatmulOptimization) ExecuteFallback(ctx *Context) ExecutionOutput {
	if o.fallback == nil {
		panic("a fallback operation should be available")
	}
	o.fallback.Run(ctx)

	output := ExecutionOutput{}
	if o.checks {
		// Record the matmul output before the elementwise pass so callers
		// can diff fused-vs-fallback numeric results.
		id := o.matmulSimple.Op.Out
		if desc, ok := ctx.Tensors[id]; ok && ctx.Handles[id] != nil {
			output.Handles = map[tensor.ID]CheckedOutput{
				id: {Shape: desc.Shape, Precision: desc.Precision, Buffer: ctx.Handles[id]},
			}
		}
	}

	outputWrite, err := o.traceFallback.Run(o.client, o.dev, ctx, ElemwiseRunner{}, o.runOverrides())
	if err != nil {
		panic("fallback trace must not fail: " + err.Error())
	}
	return output.Merge(outputWrite)
}

func (o *MatmulOptimization) runOverrides() *Overrides {
	if !o.checks {
		return nil
	}
	return &Overrides{RecordOutputs: true}
}

// NumOpsFused returns the number of operations fused into this subgraph.
func (o *MatmulOptimization) NumOpsFused() int {
	return o.length
}

// NumOutputBuffers returns the number of output buffers added by fusion.
func (o *MatmulOptimization) NumOutputBuffers() int {
	return len(o.traceFallback.Resources.Outputs)
}
