package fusion

import (
	"errors"
	"testing"

	"github.com/tsawler/go-fusion/gpu/device"
	"github.com/tsawler/go-fusion/gpu/matmul"
	"github.com/tsawler/go-fusion/tensor"
)

func TestSimpleFusedContiguous(t *testing.T) {
	opt, ctx := newFixture(t, fixtureConfig{
		lhsShape:  []int{8, 16, 32},
		rhsShape:  []int{8, 32, 64},
		precision: tensor.F32,
	})

	if _, err := opt.ExecuteSimpleFused(ctx); err != nil {
		t.Fatalf("fused launch failed: %v", err)
	}

	fb, _ := fallbackFactoryFor(opt)
	fb.Run(ctx)
	want := readFloats(t, ctx, idMatmulOut)
	got := readFloats(t, ctx, idFinalOut)
	if !approxEqualSlices(got, want, 1e-4) {
		t.Fatalf("fused output diverges from unfused matmul")
	}
}

func TestSimpleFusedTransposedRhs(t *testing.T) {
	// rhs stored col-major: same logical [8, 32, 64], physical 64x32 per batch.
	opt, ctx := newFixture(t, fixtureConfig{
		lhsShape:   []int{8, 16, 32},
		rhsShape:   []int{8, 32, 64},
		rhsStrides: []int{2048, 1, 32},
		precision:  tensor.F32,
	})

	if _, err := opt.ExecuteSimpleFused(ctx); err != nil {
		t.Fatalf("fused launch with transposed rhs failed: %v", err)
	}

	fb, _ := fallbackFactoryFor(opt)
	fb.Run(ctx)
	want := readFloats(t, ctx, idMatmulOut)
	got := readFloats(t, ctx, idFinalOut)
	if !approxEqualSlices(got, want, 1e-4) {
		t.Fatalf("fused output diverges from unfused matmul for transposed rhs")
	}
}

func TestFusedRejectsHighlyPermuted(t *testing.T) {
	// Batch stride interleaves below the matrix strides: consuming this
	// operand would need a materializing copy.
	opt, ctx := newFixture(t, fixtureConfig{
		lhsShape:   []int{8, 16, 32},
		rhsShape:   []int{8, 32, 64},
		lhsStrides: []int{1, 256, 8},
		precision:  tensor.F32,
	})

	_, err := opt.ExecuteSimpleFused(ctx)
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	// Rejection happens before the plane query and kernel dispatch, so no
	// launch error may be present in the chain.
	var launch *LaunchError
	if errors.As(err, &launch) {
		t.Fatalf("layout rejection must not reach a kernel launch: %v", err)
	}
}

func TestFusedRejectsLineSizeMismatch(t *testing.T) {
	// A virtual reference layout forces out_line_size == 1 while the
	// contiguous f32 inputs resolve to wider lines.
	opt, ctx := newFixture(t, fixtureConfig{
		lhsShape:   []int{8, 16, 32},
		rhsShape:   []int{8, 32, 64},
		precision:  tensor.F32,
		virtualRef: true,
	})

	if _, err := opt.ExecuteSimpleFused(ctx); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input for line-size mismatch, got %v", err)
	}
}

func TestFusedPlaneDimUnknown(t *testing.T) {
	opt, ctx := newFixture(t, fixtureConfig{
		lhsShape:  []int{8, 16, 32},
		rhsShape:  []int{8, 32, 64},
		precision: tensor.F32,
		props:     &device.HardwareProperties{PlaneSize: 0},
	})

	_, err := opt.ExecuteSimpleFused(ctx)
	var unavailable *matmul.UnavailableError
	if !errors.As(err, &unavailable) || unavailable.Reason != matmul.PlaneDimUnknown {
		t.Fatalf("expected plane-dim-unknown, got %v", err)
	}
}

func TestSupportedPrecisions(t *testing.T) {
	for _, p := range []tensor.Precision{tensor.F32, tensor.Flex32, tensor.F16, tensor.BF16} {
		opt, ctx := newFixture(t, fixtureConfig{
			lhsShape:  []int{2, 8, 16},
			rhsShape:  []int{2, 16, 8},
			precision: p,
		})
		if _, err := opt.ExecuteSimpleFused(ctx); err != nil {
			t.Errorf("%s: fused launch failed: %v", p, err)
		}
	}
}

func TestUnsupportedPrecisionIsFatal(t *testing.T) {
	opt, ctx := newFixture(t, fixtureConfig{
		lhsShape:  []int{2, 8, 16},
		rhsShape:  []int{2, 16, 8},
		precision: tensor.F32,
	})
	// Mis-wire the unit's output precision the way a broken trace builder
	// would.
	opt.matmulSimple.Out.Precision = tensor.I32

	defer func() {
		if recover() == nil {
			t.Fatalf("unsupported output precision must panic, not return")
		}
	}()
	_, _ = opt.ExecuteSimpleFused(ctx)
}

func TestDoubleBufferingFusedMatchesSimple(t *testing.T) {
	opt, ctx := newFixture(t, fixtureConfig{
		lhsShape:  []int{4, 16, 40},
		rhsShape:  []int{4, 40, 24},
		precision: tensor.F32,
	})

	if _, err := opt.ExecuteSimpleFused(ctx); err != nil {
		t.Fatalf("simple launch failed: %v", err)
	}
	simple := append([]float32(nil), readFloats(t, ctx, idFinalOut)...)

	if _, err := opt.ExecuteDoubleBufferingFused(ctx); err != nil {
		t.Fatalf("double buffering launch failed: %v", err)
	}
	double := readFloats(t, ctx, idFinalOut)

	if !approxEqualSlices(simple, double, 1e-4) {
		t.Fatalf("strategies disagree on the same problem")
	}
}

func TestTF32UpgradeKeepsF32Storage(t *testing.T) {
	run := func(tf32 bool) []float32 {
		opt, ctx := newFixture(t, fixtureConfig{
			lhsShape:  []int{2, 8, 32},
			rhsShape:  []int{2, 32, 16},
			precision: tensor.F32,
			props:     &device.HardwareProperties{PlaneSize: 8, TF32: tf32},
		})
		if _, err := opt.ExecuteSimpleFused(ctx); err != nil {
			t.Fatalf("fused launch (tf32=%v) failed: %v", tf32, err)
		}
		return readFloats(t, ctx, idFinalOut)
	}

	exact := run(false)
	upgraded := run(true)
	if !approxEqualSlices(exact, upgraded, 1e-2) {
		t.Fatalf("tf32 upgrade drifted beyond reduced-precision tolerance")
	}
}
