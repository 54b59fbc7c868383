// psusim serves a simulated EDU36311A supply on a raw SCPI socket.
//
// Point hemtctl at it with address "TCPIP0::127.0.0.1::5025::SOCKET" to exercise the real TCP
// transport without hardware.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/arloliu/go-scpi/logger"
	"github.com/arloliu/go-scpi/sim"
)

type options struct {
	listen      string
	name        string
	identity    string
	idleTimeout time.Duration
	logLevel    string
	loads       []float64
	httpAddr    string
}

func main() {
	if err := NewCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func NewCommand() *cobra.Command {
	opts := options{}

	cmd := &cobra.Command{
		Use:          "psusim",
		Short:        "Serve a simulated EDU36311A power supply over TCP",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			return run(ctx, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.listen, "listen", ":5025", "listen address")
	flags.StringVar(&opts.name, "name", "psusim", "instrument name used in logs")
	flags.StringVar(&opts.identity, "identity", sim.DefaultIdentity, "*IDN? response")
	flags.DurationVar(&opts.idleTimeout, "idle-timeout", sim.DefaultIdleTimeout, "drop clients idle for this long, 0 disables")
	flags.StringVarP(&opts.logLevel, "log-level", "l", "info", "log level (debug, info, warn, error)")
	flags.StringVar(&opts.httpAddr, "http", "", "serve the control API (state and fault injection) on this address")
	flags.Float64SliceVar(&opts.loads, "load", nil, "load resistance in ohms per channel, e.g. --load 10000,40,40")

	return cmd
}

func newInstrument(opts options, l logger.Logger) (*sim.Instrument, error) {
	if len(opts.loads) > sim.NumChannels {
		return nil, fmt.Errorf("at most %d loads, got %d", sim.NumChannels, len(opts.loads))
	}

	instOpts := []sim.InstrumentOption{
		sim.WithIdentity(opts.identity),
		sim.WithInstrumentLogger(l),
	}
	for i, ohms := range opts.loads {
		if ohms <= 0 {
			return nil, fmt.Errorf("load of channel %d must be positive, got %g", i+1, ohms)
		}
		instOpts = append(instOpts, sim.WithLoad(i+1, ohms))
	}

	return sim.NewInstrument(opts.name, instOpts...), nil
}

func run(ctx context.Context, opts options) error {
	level, err := logger.ParseLevel(opts.logLevel)
	if err != nil {
		return err
	}
	l := logger.NewSlogWithWriter(os.Stderr, level, false)

	inst, err := newInstrument(opts, l)
	if err != nil {
		return err
	}

	if opts.httpAddr != "" {
		stop, err := serveControlAPI(ctx, opts.httpAddr, inst, l)
		if err != nil {
			return err
		}
		defer stop()
	}

	srv := sim.NewServer(inst, l)
	srv.SetIdleTimeout(opts.idleTimeout)

	err = srv.ListenAndServe(ctx, opts.listen)
	if errors.Is(err, sim.ErrServerClosed) {
		l.Info("simulator stopped")
		return nil
	}

	return err
}

// serveControlAPI starts the HTTP control API on addr. The returned function shuts it down.
func serveControlAPI(ctx context.Context, addr string, inst *sim.Instrument, l logger.Logger) (func(), error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	httpSrv := &http.Server{
		Handler:           setupRoutes(inst, l),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		l.Info("control API listening", "address", ln.Addr().String())
		if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Error("control API stopped", "error", err)
		}
	}()

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}, nil
}
