package main

import (
	"errors"
	"fmt"

	"github.com/arloliu/go-scpi/config"
	"github.com/arloliu/go-scpi/logger"
	"github.com/arloliu/go-scpi/psu"
	"github.com/arloliu/go-scpi/ramp"
	"github.com/arloliu/go-scpi/scpi"
	"github.com/arloliu/go-scpi/sim"
	"github.com/arloliu/go-scpi/transport"
)

// controller is the driver stack of one CLI invocation.
type controller struct {
	registry *transport.Registry
	supply   *psu.EDU36311A
	seq      *ramp.Sequencer
	logger   logger.Logger
}

func newBackend(c *config.Config, l logger.Logger) (transport.Backend, error) {
	switch c.EffectiveBackend() {
	case config.BackendSim:
		return sim.NewBackend(l), nil
	case config.BackendTCP:
		return transport.NewTCPBackend(
			transport.WithDialTimeout(c.Transport.DialTimeout),
			transport.WithIOTimeout(c.Transport.IOTimeout),
			transport.WithTerminator(c.Transport.Terminator),
		)
	default:
		return nil, fmt.Errorf("%w: %q", transport.ErrUnknownBackend, c.EffectiveBackend())
	}
}

func openController(c *config.Config, l logger.Logger) (*controller, error) {
	backend, err := newBackend(c, l)
	if err != nil {
		return nil, err
	}

	reg, err := transport.NewRegistry(transport.WithBackend(backend), transport.WithRegistryLogger(l))
	if err != nil {
		return nil, err
	}

	ctl, err := buildController(reg, c, l, backend.ID())
	if err != nil {
		return nil, errors.Join(err, reg.CloseAll())
	}

	return ctl, nil
}

func buildController(reg *transport.Registry, c *config.Config, l logger.Logger, backendID string) (*controller, error) {
	sess, err := reg.Open(c.EffectiveAddress(), backendID)
	if err != nil {
		return nil, err
	}

	clientOpts := []scpi.ClientOption{scpi.WithLogger(l)}
	if c.Transport.ResyncCommand != "" {
		clientOpts = append(clientOpts, scpi.WithResyncCommand(c.Transport.ResyncCommand))
	}
	client, err := scpi.NewClient(sess, clientOpts...)
	if err != nil {
		return nil, err
	}

	supply, err := psu.NewEDU36311A(client,
		psu.WithName(c.InstrumentName),
		psu.WithFactoryLimits(c.UseFactoryLimits),
		psu.WithLogger(l),
	)
	if err != nil {
		return nil, err
	}

	seq, err := ramp.NewSequencer(supply,
		ramp.WithGateChannel(c.GateChannel),
		ramp.WithDrainChannel(c.DrainChannel),
		ramp.WithVerifyTolerance(c.Ramp.VerifyTolerance),
		ramp.WithLogger(l),
		ramp.WithStateChangeHandler(func(prev, next ramp.State, ch int) {
			l.Debug("sequencer state changed", "prev", prev, "next", next, "channel", ch)
		}),
	)
	if err != nil {
		return nil, err
	}

	return &controller{registry: reg, supply: supply, seq: seq, logger: l}, nil
}

func (c *controller) Close() error {
	return c.registry.CloseAll()
}

func withController(fn func(ctl *controller) error) error {
	ctl, err := openController(cfg, log)
	if err != nil {
		return err
	}

	err = fn(ctl)
	if cerr := ctl.Close(); cerr != nil {
		log.Warn("failed to close session", "error", cerr)
	}

	return err
}
