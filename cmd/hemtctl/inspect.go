package main

import (
	"fmt"
	"strconv"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/arloliu/go-scpi/config"
	"github.com/arloliu/go-scpi/psu"
	"github.com/arloliu/go-scpi/ramp"
)

func bold(format string, a ...any) string {
	return color.New(color.Bold).Sprintf(format, a...)
}

func onOffText(on bool) string {
	if on {
		return color.New(color.Bold, color.FgGreen).Sprint("ON")
	}

	return color.New(color.Bold, color.FgRed).Sprint("OFF")
}

func NewStatusCommand() *cobra.Command {
	var full bool

	cmd := &cobra.Command{
		Use:     "status",
		Short:   "Show output state and readbacks of the gate and drain channels",
		GroupID: gInspect,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withController(func(ctl *controller) error {
				if full {
					snap, err := ctl.supply.Snapshot()
					if err != nil {
						return err
					}
					printSnapshot(cmd, snap)

					return nil
				}

				st, err := ctl.seq.Status()
				if err != nil {
					return err
				}

				cmd.Println(bold("HEMT bias (%s, %s limits):", ctl.supply.Name(), ctl.supply.Profile()))
				for _, row := range []struct {
					label string
					cs    ramp.ChannelStatus
				}{{"Gate", st.Gate}, {"Drain", st.Drain}} {
					cmd.Printf("  %-5s CH%d  %s  %.4f V  %.6f A\n",
						row.label, row.cs.Channel, onOffText(row.cs.Output), row.cs.Voltage, row.cs.Current)
				}

				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&full, "all", false, "dump every channel and drain the instrument error queue")

	return cmd
}

func printSnapshot(cmd *cobra.Command, snap *psu.Snapshot) {
	cmd.Println(bold("%s", snap.Identity))
	cmd.Printf("  name: %s, profile: %s\n", snap.Name, snap.Profile)
	for _, cs := range snap.Channels {
		cmd.Printf("  CH%d  %s  meas %.4f V %.6f A  set %.4f V limit %.4f A  bounds [%g, %g] V [%g, %g] A\n",
			cs.Index, onOffText(cs.Output), cs.MeasuredVoltage, cs.MeasuredCurrent,
			cs.Setpoint, cs.CurrentLimit,
			cs.Limits.Voltage.Min, cs.Limits.Voltage.Max, cs.Limits.Current.Min, cs.Limits.Current.Max)
	}

	if len(snap.Errors) == 0 {
		cmd.Println("  error queue: empty")
		return
	}
	cmd.Println(color.YellowString("  error queue:"))
	for _, e := range snap.Errors {
		cmd.Printf("    %d %q\n", e.Code, e.Message)
	}
}

func NewIdentifyCommand() *cobra.Command {
	var beep bool

	cmd := &cobra.Command{
		Use:     "idn",
		Short:   "Print the instrument identification string",
		GroupID: gInspect,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withController(func(ctl *controller) error {
				idn, err := ctl.supply.Identify()
				if err != nil {
					return err
				}
				cmd.Println(idn)

				if beep {
					return ctl.supply.Beep()
				}

				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&beep, "beep", false, "also sound the instrument beeper")

	return cmd
}

func parseFloatArg(s string, name string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}

	return v, nil
}

func NewPlanCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "plan [start] [stop] [step]",
		Short:   "Print the voltage targets of a ramp without touching the supply",
		GroupID: gInspect,
		Args:    cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			var vals [3]float64
			for i, name := range []string{"start", "stop", "step"} {
				v, err := parseFloatArg(args[i], name)
				if err != nil {
					return err
				}
				vals[i] = v
			}

			plan, err := ramp.NewPlan(vals[0], vals[1], vals[2])
			if err != nil {
				return err
			}

			cmd.Println(bold("%s", plan.String()))
			for i, target := range plan.Targets() {
				cmd.Printf("  %3d  %.6g\n", i, target)
			}

			return nil
		},
	}
}

func NewConfigCommand() *cobra.Command {
	var defaults bool

	cmd := &cobra.Command{
		Use:     "config",
		Short:   "Print the effective configuration as TOML",
		GroupID: gInspect,
		Args:    cobra.NoArgs,
		// no instrument and no validation needed to print a template
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := config.Default()
			if !defaults {
				loaded, err := config.Load(configPath)
				if err != nil {
					return err
				}
				c = loaded
			}

			data, err := config.Encode(c)
			if err != nil {
				return err
			}
			cmd.Print(string(data))

			return nil
		},
	}
	cmd.Flags().BoolVar(&defaults, "defaults", false, "print the built-in defaults as an editable template")

	return cmd
}
