package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-scpi/logger"
	"github.com/arloliu/go-scpi/sim"
)

func TestNewInstrument(t *testing.T) {
	require := require.New(t)
	l := logger.NewMockLogger().AllowAll()

	inst, err := newInstrument(options{name: "bench", identity: "ACME,PSU,1,0", loads: []float64{5000, 20}}, l)
	require.NoError(err)
	require.Equal("bench", inst.Name())
	require.Equal("ACME,PSU,1,0", inst.Exec("*IDN?"))
	require.InDelta(5000, inst.Channel(1).Load, 1e-9)
	require.InDelta(20, inst.Channel(2).Load, 1e-9)

	_, err = newInstrument(options{loads: []float64{1, 2, 3, 4}}, l)
	require.ErrorContains(err, "at most 3 loads")

	_, err = newInstrument(options{loads: []float64{0}}, l)
	require.ErrorContains(err, "load of channel 1 must be positive")
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- run(ctx, options{
			listen:   "127.0.0.1:0",
			name:     "psusim",
			identity: sim.DefaultIdentity,
			logLevel: "error",
		})
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not return")
	}
}

func TestRunRejectsBadLevel(t *testing.T) {
	err := run(context.Background(), options{logLevel: "loud"})
	require.ErrorContains(t, err, "unknown log level")
}
