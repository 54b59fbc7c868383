package ramp

import (
	"fmt"
	"math"

	"github.com/arloliu/go-scpi/internal/util"
)

// planDigits is the number of decimal digits interior targets are rounded to.
const planDigits = 6

// Plan is an immutable, monotonic sequence of voltage targets.
//
// The first target is exactly the start value and the last is exactly the stop value. Interior
// targets are spaced by the step magnitude and never pass stop.
type Plan struct {
	start   float64
	stop    float64
	step    float64
	targets []float64
}

// NewPlan builds the targets from start to stop.
//
// The direction follows stop-start; only the magnitude of step is used. A plan with
// start == stop holds two equal targets, a settle step.
//
// 0 → 1.1 with step 0.02 yields 56 targets: 0, 0.02, ..., 1.08, 1.1.
func NewPlan(start, stop, step float64) (Plan, error) {
	if !util.IsFinite(start) || !util.IsFinite(stop) {
		return Plan{}, fmt.Errorf("%w: start=%v stop=%v", ErrInvalidEndpoint, start, stop)
	}

	step = math.Abs(step)
	if step == 0 || !util.IsFinite(step) {
		return Plan{}, fmt.Errorf("%w: %v", ErrInvalidStep, step)
	}

	dir := 1.0
	if stop < start {
		dir = -1.0
	}

	// number of targets before stop; the epsilon absorbs float noise in dist/step
	n := int(math.Ceil(math.Abs(stop-start)/step - 1e-9))
	if n < 1 {
		n = 1
	}

	targets := make([]float64, 0, n+1)
	targets = append(targets, start)
	for k := 1; k < n; k++ {
		targets = append(targets, util.RoundTo(start+dir*float64(k)*step, planDigits))
	}
	targets = append(targets, stop)

	return Plan{start: start, stop: stop, step: step, targets: targets}, nil
}

// MustPlan is NewPlan that panics on error. It is meant for constant plans.
func MustPlan(start, stop, step float64) Plan {
	p, err := NewPlan(start, stop, step)
	if err != nil {
		panic(err)
	}

	return p
}

// Start returns the first target.
func (p Plan) Start() float64 { return p.start }

// Stop returns the last target.
func (p Plan) Stop() float64 { return p.stop }

// Step returns the step magnitude.
func (p Plan) Step() float64 { return p.step }

// Len returns the number of targets.
func (p Plan) Len() int { return len(p.targets) }

// IsZero reports whether p was not built by NewPlan.
func (p Plan) IsZero() bool { return len(p.targets) == 0 }

// Targets returns a copy of the targets.
func (p Plan) Targets() []float64 {
	return util.CloneSlice(p.targets, 0)
}

// String returns a short description such as "0→1.1 V step 0.02 (56 targets)".
func (p Plan) String() string {
	return fmt.Sprintf("%g→%g V step %g (%d targets)", p.start, p.stop, p.step, len(p.targets))
}
