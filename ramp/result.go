package ramp

import "time"

// Step is the telemetry recorded for one plan target.
type Step struct {
	// Index is the position of the target in the plan.
	Index int
	// Target is the programmed voltage.
	Target float64
	// Offset is the time from the start of the ramp to the moment the target was sent.
	Offset time.Duration
	// Voltage and Current are the readbacks after the target was applied.
	Voltage float64
	Current float64
}

// StepHandler observes every recorded step, e.g. to report progress.
// total is the number of targets of the running plan.
type StepHandler func(ch int, step Step, total int)

// Result is the complete telemetry of one channel ramp.
type Result struct {
	Channel int
	Plan    Plan
	Steps   []Step
}

// Len returns the number of recorded steps.
func (r *Result) Len() int { return len(r.Steps) }

// Last returns the final step. It panics on an empty result.
func (r *Result) Last() Step { return r.Steps[len(r.Steps)-1] }

// Pairs returns the measured (voltage, current) pairs.
func (r *Result) Pairs() [][2]float64 {
	out := make([][2]float64, len(r.Steps))
	for i, s := range r.Steps {
		out[i] = [2]float64{s.Voltage, s.Current}
	}

	return out
}

// Offsets returns the step offsets.
func (r *Result) Offsets() []time.Duration {
	out := make([]time.Duration, len(r.Steps))
	for i, s := range r.Steps {
		out[i] = s.Offset
	}

	return out
}

// Seconds returns the step offsets in seconds.
func (r *Result) Seconds() []float64 {
	out := make([]float64, len(r.Steps))
	for i, s := range r.Steps {
		out[i] = s.Offset.Seconds()
	}

	return out
}

// Voltages returns the measured voltages.
func (r *Result) Voltages() []float64 {
	out := make([]float64, len(r.Steps))
	for i, s := range r.Steps {
		out[i] = s.Voltage
	}

	return out
}

// Currents returns the measured currents.
func (r *Result) Currents() []float64 {
	out := make([]float64, len(r.Steps))
	for i, s := range r.Steps {
		out[i] = s.Current
	}

	return out
}

// Targets returns the programmed voltages.
func (r *Result) Targets() []float64 {
	out := make([]float64, len(r.Steps))
	for i, s := range r.Steps {
		out[i] = s.Target
	}

	return out
}

// Cycle holds the gate and drain ramps of a turn-on or turn-off sequence.
type Cycle struct {
	Gate  *Result
	Drain *Result
}

// ChannelStatus is the live state of one channel.
type ChannelStatus struct {
	Channel int
	Output  bool
	Voltage float64
	Current float64
}

// Status is the live state of the gate and drain channels.
type Status struct {
	State State
	Gate  ChannelStatus
	Drain ChannelStatus
}
