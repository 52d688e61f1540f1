package fusion

import (
	"reflect"
	"testing"

	"github.com/tsawler/go-fusion/gpu/device"
	"github.com/tsawler/go-fusion/tensor"
)

func TestStateRoundTrip(t *testing.T) {
	opt, _ := newFixture(t, fixtureConfig{
		lhsShape:  []int{8, 16, 32},
		rhsShape:  []int{8, 32, 64},
		precision: tensor.F32,
		withReLU:  true,
	})

	data, err := opt.ToState().Encode()
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	state, err := DecodeState(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}

	restored := FromState(device.NewCPUDeviceWithProperties(defaultProps()), state)

	if !reflect.DeepEqual(opt.trace, restored.trace) {
		t.Errorf("fused trace not structurally identical after round trip")
	}
	if !reflect.DeepEqual(opt.traceFallback, restored.traceFallback) {
		t.Errorf("fallback trace not structurally identical after round trip")
	}
	if restored.NumOpsFused() != opt.NumOpsFused() {
		t.Errorf("fused-op count changed: %d vs %d", restored.NumOpsFused(), opt.NumOpsFused())
	}
	if restored.matmulSimple.Selector != SelectorSimple || restored.matmulDouble.Selector != SelectorDoubleBuffering {
		t.Errorf("selector tags lost in round trip")
	}
	if restored.fallback != nil {
		t.Errorf("fallback operation must be unset after restore")
	}
	if restored.client == nil {
		t.Errorf("restore must rebind a client from the device")
	}
}

func TestRestoredCoordinatorExecutes(t *testing.T) {
	opt, ctx := newFixture(t, fixtureConfig{
		lhsShape:  []int{2, 8, 16},
		rhsShape:  []int{2, 16, 8},
		precision: tensor.F32,
	})

	data, err := opt.ToState().Encode()
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	state, err := DecodeState(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	restored := FromState(device.NewCPUDeviceWithProperties(defaultProps()), state)

	if _, err := restored.ExecuteSimpleFused(ctx); err != nil {
		t.Fatalf("restored coordinator cannot run the fused path: %v", err)
	}

	want := fusedReference(t, fixtureConfig{
		lhsShape:  []int{2, 8, 16},
		rhsShape:  []int{2, 16, 8},
		precision: tensor.F32,
	})
	got := readFloats(t, ctx, idFinalOut)
	if !approxEqualSlices(got, want, 1e-4) {
		t.Fatalf("restored coordinator produced different output")
	}
}

func TestRestoredFallbackWithoutOperationPanics(t *testing.T) {
	opt, ctx := newFixture(t, fixtureConfig{
		lhsShape:  []int{2, 8, 16},
		rhsShape:  []int{2, 16, 8},
		precision: tensor.F32,
	})
	restored := FromState(device.NewCPUDeviceWithProperties(defaultProps()), opt.ToState())

	defer func() {
		if recover() == nil {
			t.Fatalf("restored coordinator must panic on fallback without a captured operation")
		}
	}()
	restored.ExecuteFallback(ctx)
}
