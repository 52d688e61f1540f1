package fusion

import (
	"fmt"
	"time"
)

// Tuner measures the coordinator's per-strategy execution entry points and
// picks the fastest one that runs. Decisions are cached per problem key, so
// repeated shapes pay the measurement cost once. The entry points hold no
// shared mutable state between calls, so the tuner may invoke them
// repeatedly and in any order.
type Tuner struct {
	cache *tuneCache
}

// NewTuner creates a tuner with an empty decision cache.
func NewTuner() *Tuner {
	return &Tuner{cache: newTuneCache()}
}

// CacheStats returns the decision-cache hit and miss counts.
func (t *Tuner) CacheStats() (hits, misses int64) {
	return t.cache.stats()
}

// Execute picks and runs a strategy for the coordinator. The fallback entry
// point never fails, so execution always completes the output.
func (t *Tuner) Execute(opt *MatmulOptimization, ctx *Context) {
	key := t.problemKey(opt, ctx)

	if winner, ok := t.cache.lookup(key); ok {
		if t.runCandidate(winner, opt, ctx) {
			return
		}
		// The cached winner stopped being launchable (device change,
		// layout drift); re-measure.
	}

	winner := t.measure(opt, ctx)
	t.cache.store(key, winner)
}

// measure times every candidate, keeping the fastest successful one. The
// fallback both completes the output and serves as the baseline, so it is
// always run last.
func (t *Tuner) measure(opt *MatmulOptimization, ctx *Context) tuneCandidate {
	winner := candidateFallback
	best := time.Duration(0)

	for _, c := range []tuneCandidate{candidateSimple, candidateDoubleBuffering} {
		start := time.Now()
		if !t.runCandidate(c, opt, ctx) {
			continue
		}
		elapsed := time.Since(start)
		if winner == candidateFallback || elapsed < best {
			winner = c
			best = elapsed
		}
	}

	start := time.Now()
	opt.ExecuteFallback(ctx)
	if elapsed := time.Since(start); winner == candidateFallback || elapsed < best {
		winner = candidateFallback
	}
	return winner
}

// runCandidate executes one entry point, reporting whether it succeeded.
func (t *Tuner) runCandidate(c tuneCandidate, opt *MatmulOptimization, ctx *Context) bool {
	switch c {
	case candidateSimple:
		_, err := opt.ExecuteSimpleFused(ctx)
		return err == nil
	case candidateDoubleBuffering:
		_, err := opt.ExecuteDoubleBufferingFused(ctx)
		return err == nil
	case candidateFallback:
		opt.ExecuteFallback(ctx)
		return true
	}
	return false
}

// problemKey derives the cache key from the operand descriptors of the
// fused op: shapes, strides and output precision decide which kernel wins.
func (t *Tuner) problemKey(opt *MatmulOptimization, ctx *Context) string {
	op := opt.matmulSimple.Op
	lhs := ctx.Tensors[op.Lhs]
	rhs := ctx.Tensors[op.Rhs]
	return fmt.Sprintf("lhs=%v/%v rhs=%v/%v out=%s",
		lhs.Shape, lhs.Strides, rhs.Shape, rhs.Strides, opt.matmulSimple.Out.Precision)
}
