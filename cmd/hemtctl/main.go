// hemtctl biases a HEMT amplifier through a Keysight EDU36311A supply.
//
// The supply address, channels and default ramps come from a TOML or YAML file given by
// --config, overridden by the HEMT_* environment variables. With fake_instrument_mode (or
// --fake) every command runs against an in-process simulator.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/arloliu/go-scpi/config"
	"github.com/arloliu/go-scpi/logger"
	"github.com/arloliu/go-scpi/psu"
	"github.com/arloliu/go-scpi/ramp"
	"github.com/arloliu/go-scpi/transport"
)

var (
	configPath string
	logLevel   string
	logFile    string
	fakeMode   bool
)

var (
	cfg       *config.Config
	log       logger.Logger
	logCloser io.Closer
)

var (
	gBias    = "Bias:"
	gInspect = "Inspect:"
)

func setupLogger(c *config.Config) error {
	level, err := logger.ParseLevel(c.Log.Level)
	if err != nil {
		return fmt.Errorf("failed to parse log level: %w", err)
	}

	if c.Log.File == "" {
		log = logger.NewSlogWithWriter(os.Stderr, level, false)
		return nil
	}

	log, logCloser = logger.NewFileSlog(c.Log.File, level, logger.FileOptions{
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
	})

	return nil
}

func handleCmdError(err error) {
	var (
		interlock *ramp.InterlockError
		verify    *ramp.VerificationError
		connErr   *transport.ConnectionError
	)

	switch {
	case errors.As(err, &interlock):
		fmt.Fprintln(os.Stderr, "\nError: bias interlock refused the operation")
		fmt.Fprintln(os.Stderr, "  - run 'hemtctl status' to see the output states")
		fmt.Fprintln(os.Stderr, "  - run 'hemtctl reset' to force both channels off")
	case errors.As(err, &verify):
		fmt.Fprintln(os.Stderr, "\nError: a channel did not reach its target voltage")
		fmt.Fprintln(os.Stderr, "  - check the cabling and the current limits of the supply")
	case errors.As(err, &connErr):
		fmt.Fprintln(os.Stderr, "\nError: cannot reach the power supply")
		fmt.Fprintln(os.Stderr, "  - check the address in the config file or HEMT_ADDRESS")
	case errors.Is(err, psu.ErrOutOfRange):
		fmt.Fprintln(os.Stderr, "\nError: a setpoint is outside the active limit profile")
	}
}

func main() {
	cmd := NewCommand()
	err := cmd.Execute()
	if logCloser != nil {
		_ = logCloser.Close()
	}
	if err != nil {
		handleCmdError(err)
		os.Exit(1)
	}
}

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hemtctl",
		Short: "hemtctl ramps HEMT gate and drain bias on an EDU36311A supply",
		Long: `hemtctl ramps HEMT gate and drain bias on an EDU36311A supply.

Turn-on ramps the gate before the drain, turn-off ramps the drain before the gate.
Both refuse to run unless the outputs are in the expected state.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if fakeMode {
				// same effect as HEMT_FAKE_INSTRUMENT=1, applied before validation
				if err := os.Setenv(config.EnvFakeMode, "1"); err != nil {
					return err
				}
			}

			c, err := config.Load(configPath)
			if err != nil {
				return err
			}

			if cmd.Flags().Changed("log-level") {
				c.Log.Level = logLevel
			}
			if logFile != "" {
				c.Log.File = logFile
			}
			if err := c.Validate(); err != nil {
				return err
			}
			cfg = c

			return setupLogger(cfg)
		},
	}

	globalFlags := cmd.PersistentFlags()
	globalFlags.StringVarP(&configPath, "config", "c", "", "config file path (.toml, .yaml or .yml)")
	globalFlags.StringVarP(&logLevel, "log-level", "l", "info", "log level (debug, info, warn, error)")
	globalFlags.StringVar(&logFile, "log-file", "", "append JSON logs to a rotating file instead of stderr")
	globalFlags.BoolVar(&fakeMode, "fake", false, "run against a simulated supply")

	cmd.AddGroup(
		&cobra.Group{ID: gBias, Title: gBias},
		&cobra.Group{ID: gInspect, Title: gInspect},
	)

	cmd.AddCommand(
		NewOnCommand(),
		NewOffCommand(),
		NewCycleCommand(),
		NewResetCommand(),
		NewStatusCommand(),
		NewIdentifyCommand(),
		NewPlanCommand(),
		NewConfigCommand(),
	)

	return cmd
}
