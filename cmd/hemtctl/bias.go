package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/arloliu/go-scpi/ramp"
)

type rampFlags struct {
	gateTarget  float64
	drainTarget float64
	step        float64
	delay       time.Duration
}

func addRampFlags(cmd *cobra.Command, f *rampFlags, targets bool) {
	flags := cmd.Flags()
	if targets {
		flags.Float64Var(&f.gateTarget, "gate", 0, "gate target voltage (default from config)")
		flags.Float64Var(&f.drainTarget, "drain", 0, "drain target voltage (default from config)")
	}
	flags.Float64Var(&f.step, "step", 0, "ramp step in volts (default from config)")
	flags.DurationVar(&f.delay, "delay", 0, "settle time after each step (default from config)")
}

// resolve fills the flags the user did not set from cfg.
func (f *rampFlags) resolve(cmd *cobra.Command) {
	flags := cmd.Flags()
	if !flags.Changed("gate") {
		f.gateTarget = cfg.Ramp.GateTarget
	}
	if !flags.Changed("drain") {
		f.drainTarget = cfg.Ramp.DrainTarget
	}
	if !flags.Changed("step") {
		f.step = cfg.Ramp.Step
	}
	if !flags.Changed("delay") {
		f.delay = cfg.Ramp.Delay
	}
}

func (f *rampFlags) plans() (ramp.Plan, ramp.Plan, error) {
	gate, err := ramp.NewPlan(0, f.gateTarget, f.step)
	if err != nil {
		return ramp.Plan{}, ramp.Plan{}, err
	}
	drain, err := ramp.NewPlan(0, f.drainTarget, f.step)
	if err != nil {
		return ramp.Plan{}, ramp.Plan{}, err
	}

	return gate, drain, nil
}

// signalContext is canceled on SIGINT or SIGTERM so a ramp stops between steps.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func printCycle(cmd *cobra.Command, title string, cycle *ramp.Cycle) {
	cmd.Println(bold("%s", title))
	for _, r := range []*ramp.Result{cycle.Gate, cycle.Drain} {
		if r == nil || r.Len() == 0 {
			continue
		}
		last := r.Last()
		cmd.Printf("  CH%d: %d steps in %s, final %.4f V / %.6f A\n",
			r.Channel, r.Len(), last.Offset.Round(time.Millisecond), last.Voltage, last.Current)
	}
}

func NewOnCommand() *cobra.Command {
	var f rampFlags

	cmd := &cobra.Command{
		Use:     "on",
		Short:   "Soft-start the HEMT: ramp gate, then drain",
		GroupID: gBias,
		Long: `Soft-start the HEMT.

Both outputs must be off. The outputs are enabled at 0 V, the gate is ramped to its
target and verified, then the drain is ramped. A gate that does not reach its target
resets both channels.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f.resolve(cmd)
			gatePlan, drainPlan, err := f.plans()
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			return withController(func(ctl *controller) error {
				cycle, err := ctl.seq.TurnOn(ctx, gatePlan, drainPlan, f.delay)
				if err != nil {
					return err
				}
				printCycle(cmd, "HEMT on:", cycle)

				return nil
			})
		},
	}
	addRampFlags(cmd, &f, true)

	return cmd
}

func NewOffCommand() *cobra.Command {
	var f rampFlags

	cmd := &cobra.Command{
		Use:     "off",
		Short:   "Soft-shutdown the HEMT: ramp drain, then gate",
		GroupID: gBias,
		Long: `Soft-shutdown the HEMT.

Both outputs must be on. The drain is ramped from its measured voltage to 0 V and
verified, then the gate is ramped down and both channels are reset.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f.resolve(cmd)

			ctx, cancel := signalContext()
			defer cancel()

			return withController(func(ctl *controller) error {
				cycle, err := ctl.seq.TurnOff(ctx, f.step, f.delay)
				if err != nil {
					return err
				}
				printCycle(cmd, "HEMT off:", cycle)

				return nil
			})
		},
	}
	addRampFlags(cmd, &f, false)

	return cmd
}

func NewCycleCommand() *cobra.Command {
	var (
		f    rampFlags
		hold time.Duration
	)

	cmd := &cobra.Command{
		Use:     "cycle",
		Short:   "Turn the HEMT on, hold, then turn it off",
		GroupID: gBias,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f.resolve(cmd)
			gatePlan, drainPlan, err := f.plans()
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			return withController(func(ctl *controller) error {
				on, err := ctl.seq.TurnOn(ctx, gatePlan, drainPlan, f.delay)
				if err != nil {
					return err
				}
				printCycle(cmd, "HEMT on:", on)

				select {
				case <-ctx.Done():
					log.Warn("hold interrupted, shutting down")
				case <-time.After(hold):
				}

				// shutdown must run even after an interrupt during hold
				off, err := ctl.seq.TurnOff(context.Background(), f.step, f.delay)
				if err != nil {
					return err
				}
				printCycle(cmd, "HEMT off:", off)

				return nil
			})
		},
	}
	addRampFlags(cmd, &f, true)
	cmd.Flags().DurationVar(&hold, "hold", time.Second, "time to stay biased between turn-on and turn-off")

	return cmd
}

func NewResetCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "reset",
		Short:   "Force gate and drain outputs off at 0 V",
		GroupID: gBias,
		Long: `Force gate and drain outputs off at 0 V and clear their protection latches.

This does not ramp. Use it only to recover from an aborted sequence.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withController(func(ctl *controller) error {
				if err := ctl.seq.Reset(); err != nil {
					return err
				}
				cmd.Println("gate and drain channels reset")

				return nil
			})
		},
	}
}
