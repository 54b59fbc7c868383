package ramp

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-scpi/internal/pool"
	"github.com/arloliu/go-scpi/internal/util"
	"github.com/arloliu/go-scpi/logger"
	"github.com/arloliu/go-scpi/psu"
)

const (
	// DefaultGateChannel is the supply channel biasing the HEMT gate.
	DefaultGateChannel = 1
	// DefaultDrainChannel is the supply channel biasing the HEMT drain.
	DefaultDrainChannel = 2
)

// Sequencer drives gate and drain channels of a supply under the HEMT bias interlocks.
//
// Operations block the calling goroutine. Only one operation runs at a time; overlapping
// calls fail with ErrBusy.
type Sequencer struct {
	supply      psu.Supply
	gateCh      int
	drainCh     int
	verifyTol   float64
	logger      logger.Logger
	stepHandler StepHandler
	stateMgr    *StateMgr
	busy        atomic.Bool
}

// Option represents a functional option for configuring a Sequencer.
type Option interface {
	apply(*Sequencer) error
}

type optFunc func(*Sequencer) error

func (f optFunc) apply(s *Sequencer) error { return f(s) }

// WithGateChannel sets the gate channel. An error is returned if ch is less than 1.
//
// The default value is 1.
func WithGateChannel(ch int) Option {
	return optFunc(func(s *Sequencer) error {
		if ch < 1 {
			return fmt.Errorf("%w: gate channel %d", ErrInvalidChannel, ch)
		}
		s.gateCh = ch

		return nil
	})
}

// WithDrainChannel sets the drain channel. An error is returned if ch is less than 1.
//
// The default value is 2.
func WithDrainChannel(ch int) Option {
	return optFunc(func(s *Sequencer) error {
		if ch < 1 {
			return fmt.Errorf("%w: drain channel %d", ErrInvalidChannel, ch)
		}
		s.drainCh = ch

		return nil
	})
}

// WithVerifyTolerance sets how far, in volts, a ramped channel may fall short of its final
// target and still pass verification. An error is returned if tol is outside [0, 1].
//
// The default value is 0, the gate must read at least its target after turn-on and the
// drain at most 0 V after turn-off.
func WithVerifyTolerance(tol float64) Option {
	return optFunc(func(s *Sequencer) error {
		if tol < 0 || tol > 1 {
			return errors.New("ramp: verify tolerance out of range [0, 1]")
		}
		s.verifyTol = tol

		return nil
	})
}

// WithLogger sets the logger of the sequencer.
//
// The default logger is the package default logger.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(s *Sequencer) error {
		if l == nil {
			return errors.New("ramp: logger is nil")
		}
		s.logger = l

		return nil
	})
}

// WithStepHandler sets a handler invoked after every recorded step.
func WithStepHandler(h StepHandler) Option {
	return optFunc(func(s *Sequencer) error {
		s.stepHandler = h
		return nil
	})
}

// WithStateChangeHandler adds a handler invoked on every state change.
func WithStateChangeHandler(h StateChangeHandler) Option {
	return optFunc(func(s *Sequencer) error {
		if h == nil {
			return errors.New("ramp: state change handler is nil")
		}
		s.stateMgr.AddHandler(h)

		return nil
	})
}

// NewSequencer creates a sequencer for supply.
func NewSequencer(supply psu.Supply, opts ...Option) (*Sequencer, error) {
	if supply == nil {
		return nil, ErrSupplyNil
	}

	s := &Sequencer{
		supply:  supply,
		gateCh:  DefaultGateChannel,
		drainCh: DefaultDrainChannel,
		logger:  logger.GetLogger(),
	}
	s.stateMgr = NewStateMgr(nil)

	for _, opt := range opts {
		if err := opt.apply(s); err != nil {
			return nil, err
		}
	}

	if s.gateCh == s.drainCh {
		return nil, fmt.Errorf("%w: gate and drain share channel %d", ErrInvalidChannel, s.gateCh)
	}

	s.logger = s.logger.With("gate_channel", s.gateCh, "drain_channel", s.drainCh)
	s.stateMgr.logger = s.logger

	return s, nil
}

// GateChannel returns the gate channel.
func (s *Sequencer) GateChannel() int { return s.gateCh }

// DrainChannel returns the drain channel.
func (s *Sequencer) DrainChannel() int { return s.drainCh }

// State returns the current sequencer state.
func (s *Sequencer) State() State { return s.stateMgr.State() }

// GetLogger returns the logger of the sequencer.
func (s *Sequencer) GetLogger() logger.Logger { return s.logger }

// Execute drives ch through plan, waiting delay between targets.
//
// For every target it programs the voltage, reads back voltage and current and records a
// Step. Any error, including ctx cancellation, aborts the ramp and discards its telemetry.
func (s *Sequencer) Execute(ctx context.Context, ch int, plan Plan, delay time.Duration) (*Result, error) {
	if err := s.begin(); err != nil {
		return nil, err
	}
	defer s.end()

	if err := s.precheck(delay, plan, ch); err != nil {
		return nil, err
	}

	res, err := s.execute(ctx, ch, plan, delay)
	if err != nil {
		return nil, err
	}
	if err := s.stateMgr.ToIdle(); err != nil {
		return nil, err
	}

	return res, nil
}

// TurnOn powers the HEMT up: gate first, then drain.
//
// Both outputs must be disabled, otherwise an *InterlockError is returned and nothing is
// written. If the gate does not reach the last target of gatePlan, both channels are reset
// and a *VerificationError is returned.
func (s *Sequencer) TurnOn(ctx context.Context, gatePlan, drainPlan Plan, delay time.Duration) (*Cycle, error) {
	if err := s.begin(); err != nil {
		return nil, err
	}
	defer s.end()

	const op = "turn-on"
	s.logger.Info("begin HEMT soft-start", "gate_plan", gatePlan.String(), "drain_plan", drainPlan.String())

	if err := s.interlock(op, false); err != nil {
		return nil, err
	}
	if err := s.precheck(delay, gatePlan, s.gateCh); err != nil {
		return nil, err
	}
	if err := s.precheck(delay, drainPlan, s.drainCh); err != nil {
		return nil, err
	}

	if err := s.supply.SetOutput(true, s.gateCh, s.drainCh); err != nil {
		s.stateMgr.ToAborted()
		return nil, err
	}
	s.logger.Info("outputs enabled")

	gate, err := s.execute(ctx, s.gateCh, gatePlan, delay)
	if err != nil {
		return nil, err
	}

	if err := s.verify(op, s.gateCh, gatePlan.Stop(), true); err != nil {
		var verr *VerificationError
		if errors.As(err, &verr) {
			s.logger.Error("gate verification failed, resetting", "error", err)
			if rerr := s.supply.Reset(s.gateCh, s.drainCh); rerr != nil {
				err = errors.Join(err, fmt.Errorf("ramp: reset after failed verification: %w", rerr))
			}
		}

		return nil, err
	}

	drain, err := s.execute(ctx, s.drainCh, drainPlan, delay)
	if err != nil {
		return nil, err
	}
	if err := s.stateMgr.ToIdle(); err != nil {
		return nil, err
	}

	s.logger.Info("HEMT soft-start complete")

	return &Cycle{Gate: gate, Drain: drain}, nil
}

// TurnOff powers the HEMT down: drain first, then gate, then resets both channels.
//
// Both outputs must be enabled, otherwise an *InterlockError is returned and nothing is
// written. Ramps start from the measured voltages and go to 0 V in steps of step. If the
// drain does not reach 0 V, a *VerificationError is returned without a reset.
func (s *Sequencer) TurnOff(ctx context.Context, step float64, delay time.Duration) (*Cycle, error) {
	if err := s.begin(); err != nil {
		return nil, err
	}
	defer s.end()

	const op = "turn-off"
	s.logger.Info("begin HEMT soft-shutdown", "step", step)

	if err := s.interlock(op, true); err != nil {
		return nil, err
	}
	if delay < 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDelay, delay)
	}

	gateStart, err := s.supply.Voltage(s.gateCh)
	if err != nil {
		return nil, err
	}
	drainStart, err := s.supply.Voltage(s.drainCh)
	if err != nil {
		return nil, err
	}

	if gateStart, err = s.startVoltage(s.gateCh, gateStart); err != nil {
		return nil, err
	}
	if drainStart, err = s.startVoltage(s.drainCh, drainStart); err != nil {
		return nil, err
	}

	gatePlan, err := NewPlan(gateStart, 0, step)
	if err != nil {
		return nil, err
	}
	drainPlan, err := NewPlan(drainStart, 0, step)
	if err != nil {
		return nil, err
	}
	if err := s.precheck(delay, gatePlan, s.gateCh); err != nil {
		return nil, err
	}
	if err := s.precheck(delay, drainPlan, s.drainCh); err != nil {
		return nil, err
	}

	drain, err := s.execute(ctx, s.drainCh, drainPlan, delay)
	if err != nil {
		return nil, err
	}

	if err := s.verify(op, s.drainCh, drainPlan.Stop(), false); err != nil {
		return nil, err
	}

	gate, err := s.execute(ctx, s.gateCh, gatePlan, delay)
	if err != nil {
		return nil, err
	}

	if err := s.supply.Reset(s.gateCh, s.drainCh); err != nil {
		s.stateMgr.ToAborted()
		return nil, err
	}
	if err := s.stateMgr.ToIdle(); err != nil {
		return nil, err
	}

	s.logger.Info("HEMT soft-shutdown complete")

	return &Cycle{Gate: gate, Drain: drain}, nil
}

// startVoltage pulls a measured voltage into the programmable range of ch. Readback noise
// near 0 V or near the channel maximum must not make the shutdown ramp unplannable.
func (s *Sequencer) startVoltage(ch int, measured float64) (float64, error) {
	lr, ok := s.supply.(psu.LimitReporter)
	if !ok {
		return math.Max(measured, 0), nil
	}

	lim, err := lr.Limits(ch)
	if err != nil {
		return 0, err
	}

	return util.Clamp(measured, lim.Voltage.Min, lim.Voltage.Max), nil
}

// Reset disables outputs, zeroes setpoints and clears protection of the gate and drain
// channels, then returns the sequencer to IdleState.
func (s *Sequencer) Reset() error {
	if err := s.begin(); err != nil {
		return err
	}
	defer s.end()

	s.logger.Info("resetting HEMT channels")
	if err := s.supply.Reset(s.gateCh, s.drainCh); err != nil {
		s.stateMgr.ToAborted()
		return err
	}

	return s.stateMgr.ToIdle()
}

// Status reads the output state, voltage and current of the gate and drain channels.
func (s *Sequencer) Status() (*Status, error) {
	gate, err := s.channelStatus(s.gateCh)
	if err != nil {
		return nil, err
	}
	drain, err := s.channelStatus(s.drainCh)
	if err != nil {
		return nil, err
	}

	return &Status{State: s.State(), Gate: gate, Drain: drain}, nil
}

func (s *Sequencer) channelStatus(ch int) (ChannelStatus, error) {
	st := ChannelStatus{Channel: ch}

	var err error
	if st.Output, err = s.supply.Output(ch); err != nil {
		return st, err
	}
	if st.Voltage, err = s.supply.Voltage(ch); err != nil {
		return st, err
	}
	if st.Current, err = s.supply.Current(ch); err != nil {
		return st, err
	}

	return st, nil
}

func (s *Sequencer) begin() error {
	if !s.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}

	return nil
}

func (s *Sequencer) end() {
	s.busy.Store(false)
}

// interlock checks that both outputs are in the required state using queries only.
func (s *Sequencer) interlock(op string, required bool) error {
	gateOn, err := s.supply.Output(s.gateCh)
	if err != nil {
		return err
	}
	drainOn, err := s.supply.Output(s.drainCh)
	if err != nil {
		return err
	}

	if gateOn != required || drainOn != required {
		err := &InterlockError{
			Op:       op,
			Required: required,
			GateCh:   s.gateCh,
			DrainCh:  s.drainCh,
			GateOn:   gateOn,
			DrainOn:  drainOn,
		}
		s.logger.Error("interlock violation", "error", err)

		return err
	}

	return nil
}

// precheck validates a plan before any command is sent for it.
func (s *Sequencer) precheck(delay time.Duration, plan Plan, ch int) error {
	if delay < 0 {
		return fmt.Errorf("%w: %v", ErrInvalidDelay, delay)
	}
	if plan.IsZero() {
		return ErrEmptyPlan
	}

	checker, ok := s.supply.(psu.VoltageChecker)
	if !ok {
		return nil
	}
	for _, v := range plan.targets {
		if err := checker.CheckVoltage(ch, v); err != nil {
			return err
		}
	}

	return nil
}

// verify compares the measured voltage of ch with target. Rising ramps must read at least
// target-tol, falling ramps at most target+tol.
func (s *Sequencer) verify(op string, ch int, target float64, rising bool) error {
	if err := s.stateMgr.ToVerifying(ch); err != nil {
		s.stateMgr.ToAborted()
		return err
	}

	measured, err := s.supply.Voltage(ch)
	if err != nil {
		s.stateMgr.ToAborted()
		return err
	}

	ok := measured <= target+s.verifyTol
	if rising {
		ok = measured >= target-s.verifyTol
	}
	if !ok {
		s.stateMgr.ToAborted()
		return &VerificationError{Op: op, Channel: ch, Target: target, Measured: measured, Tolerance: s.verifyTol}
	}

	s.logger.Info("channel verified", "channel", ch, "target", target, "measured", measured)

	return nil
}

// execute runs plan on ch. On failure the state is AbortedState and no result is returned.
func (s *Sequencer) execute(ctx context.Context, ch int, plan Plan, delay time.Duration) (*Result, error) {
	if err := s.stateMgr.ToRamping(ch); err != nil {
		s.stateMgr.ToAborted()
		return nil, err
	}

	total := plan.Len()
	s.logger.Info("ramping channel", "channel", ch, "start", plan.Start(), "stop", plan.Stop(), "steps", total)

	steps := make([]Step, 0, total)
	t0 := time.Now()

	for i, target := range plan.targets {
		if i > 0 {
			if err := pool.Sleep(ctx, delay); err != nil {
				return nil, s.abort(ch, i, target, err)
			}
		} else if err := ctx.Err(); err != nil {
			return nil, s.abort(ch, i, target, err)
		}

		step := Step{Index: i, Target: target, Offset: time.Since(t0)}

		if err := s.supply.SetVoltage(ch, target); err != nil {
			return nil, s.abort(ch, i, target, err)
		}

		var err error
		if step.Voltage, err = s.supply.Voltage(ch); err != nil {
			return nil, s.abort(ch, i, target, err)
		}
		if step.Current, err = s.supply.Current(ch); err != nil {
			return nil, s.abort(ch, i, target, err)
		}

		s.logger.Debug("ramp step",
			"channel", ch, "index", i, "target", target,
			"voltage", step.Voltage, "current", step.Current,
		)

		steps = append(steps, step)
		if s.stepHandler != nil {
			s.stepHandler(ch, step, total)
		}
	}

	return &Result{Channel: ch, Plan: plan, Steps: steps}, nil
}

func (s *Sequencer) abort(ch, index int, target float64, err error) error {
	s.stateMgr.ToAborted()
	s.logger.Error("ramp aborted", "channel", ch, "index", index, "target", target, "error", err)

	return &StepError{Channel: ch, Index: index, Target: target, Err: err}
}
