package ramp

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidStep indicates a zero, NaN or infinite ramp step.
	ErrInvalidStep = errors.New("ramp: invalid step")

	// ErrInvalidEndpoint indicates a NaN or infinite plan start or stop.
	ErrInvalidEndpoint = errors.New("ramp: invalid plan endpoint")

	// ErrEmptyPlan indicates a zero value Plan.
	ErrEmptyPlan = errors.New("ramp: empty plan")

	// ErrInvalidDelay indicates a negative step delay.
	ErrInvalidDelay = errors.New("ramp: negative delay")

	// ErrInvalidChannel indicates invalid gate or drain channel configuration.
	ErrInvalidChannel = errors.New("ramp: invalid channel")

	// ErrSupplyNil indicates that a nil psu.Supply was provided.
	ErrSupplyNil = errors.New("ramp: supply is nil")

	// ErrBusy indicates that another sequencer operation is in progress.
	ErrBusy = errors.New("ramp: sequencer busy")

	// ErrInvalidTransition indicates a state change the sequencer does not allow.
	ErrInvalidTransition = errors.New("ramp: invalid state transition")

	// ErrInterlockViolation is wrapped by InterlockError.
	ErrInterlockViolation = errors.New("ramp: interlock violation")

	// ErrRampVerification is wrapped by VerificationError.
	ErrRampVerification = errors.New("ramp: verification failed")
)

// InterlockError reports that the output states did not allow the requested operation.
// No command was written to the supply.
type InterlockError struct {
	Op       string
	Required bool // output state both channels must have
	GateCh   int
	DrainCh  int
	GateOn   bool
	DrainOn  bool
}

func (e *InterlockError) Error() string {
	want := "off"
	if e.Required {
		want = "on"
	}

	return fmt.Sprintf("ramp: %s requires CH%d and CH%d outputs %s (gate on=%t, drain on=%t)",
		e.Op, e.GateCh, e.DrainCh, want, e.GateOn, e.DrainOn)
}

func (e *InterlockError) Unwrap() error { return ErrInterlockViolation }

// VerificationError reports a channel that did not reach its final target after a ramp.
type VerificationError struct {
	Op        string
	Channel   int
	Target    float64
	Measured  float64
	Tolerance float64
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("ramp: %s: CH%d did not reach %g V (measured %g V, tolerance %g V)",
		e.Op, e.Channel, e.Target, e.Measured, e.Tolerance)
}

func (e *VerificationError) Unwrap() error { return ErrRampVerification }

// StepError wraps a failure while driving one plan target.
type StepError struct {
	Channel int
	Index   int
	Target  float64
	Err     error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("ramp: CH%d step %d (%g V): %v", e.Channel, e.Index, e.Target, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }
