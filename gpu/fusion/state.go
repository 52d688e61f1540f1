package fusion

import (
	"fmt"

	json "github.com/goccy/go-json"

	"github.com/tsawler/go-fusion/gpu/device"
)

// MatmulOptimizationState is the serializable snapshot of a coordinator:
// both traces, both unit variants and the fused-op count. Runtime-only
// fields (client, device, fallback operation) are rebound on restore.
type MatmulOptimizationState struct {
	Trace                 Trace       `json:"trace"`
	TraceFallback         Trace       `json:"trace_fallback"`
	MatmulSimple          FusedMatmul `json:"matmul_simple"`
	MatmulDoubleBuffering FusedMatmul `json:"matmul_double_buffering"`
	Len                   int         `json:"len"`
}

// ToState snapshots the coordinator into its persisted form.
func (o *MatmulOptimization) ToState() MatmulOptimizationState {
	return MatmulOptimizationState{
		Trace:                 o.trace,
		TraceFallback:         o.traceFallback,
		MatmulSimple:          o.matmulSimple,
		MatmulDoubleBuffering: o.matmulDouble,
		Len:                   o.length,
	}
}

// FromState rebuilds a coordinator from its persisted form, binding it to a
// live device. The fallback operation is call-scoped and therefore always
// unset after restore.
func FromState(dev device.Device, state MatmulOptimizationState) *MatmulOptimization {
	simple := state.MatmulSimple
	double := state.MatmulDoubleBuffering
	simple.bindAlgorithms()
	double.bindAlgorithms()

	return &MatmulOptimization{
		trace:         state.Trace,
		traceFallback: state.TraceFallback,
		client:        dev.Client(),
		dev:           dev,
		length:        state.Len,
		matmulSimple:  simple,
		matmulDouble:  double,
	}
}

// Encode serializes the state for persistence.
func (s MatmulOptimizationState) Encode() ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to encode optimization state: %w", err)
	}
	return data, nil
}

// DecodeState deserializes a persisted optimization state.
func DecodeState(data []byte) (MatmulOptimizationState, error) {
	var s MatmulOptimizationState
	if err := json.Unmarshal(data, &s); err != nil {
		return MatmulOptimizationState{}, fmt.Errorf("failed to decode optimization state: %w", err)
	}
	return s, nil
}
