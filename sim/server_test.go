package sim

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-scpi/transport"
)

func startServer(t *testing.T, inst *Instrument) (*Server, string) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := NewServer(inst, nil)
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ln) }()

	t.Cleanup(func() {
		_ = srv.Close()
		select {
		case err := <-done:
			require.ErrorIs(t, err, ErrServerClosed)
		case <-time.After(2 * time.Second):
			t.Error("server did not stop")
		}
	})

	return srv, ln.Addr().String()
}

func openTCP(t *testing.T, hostPort string) *transport.Session {
	t.Helper()

	backend, err := transport.NewTCPBackend(transport.WithIOTimeout(time.Second))
	require.NoError(t, err)
	reg, err := transport.NewRegistry(transport.WithBackend(backend))
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.CloseAll() })

	sess, err := reg.Open(hostPort, transport.TCPBackendID)
	require.NoError(t, err)

	return sess
}

func TestServer_RoundTrip(t *testing.T) {
	require := require.New(t)

	inst := NewInstrument("psu")
	srv, hostPort := startServer(t, inst)
	require.NotNil(srv.Addr())

	sess := openTCP(t, hostPort)

	idn, err := sess.Query("*IDN?")
	require.NoError(err)
	require.Equal(DefaultIdentity, idn)

	require.NoError(sess.Write("APPL CH2,0.7,0.05"))
	require.NoError(sess.Write("OUTP ON,(@2)"))

	out, err := sess.Query("OUTP? (@2)")
	require.NoError(err)
	require.Equal("1", out)
	require.Equal(0.7, inst.Channel(2).Voltage)
}

func TestServer_StaleFaultDropsClient(t *testing.T) {
	require := require.New(t)

	inst := NewInstrument("psu")
	_, hostPort := startServer(t, inst)
	sess := openTCP(t, hostPort)

	inst.InjectFault(Fault{Kind: FaultStaleSession, Match: "*IDN?"})

	_, err := sess.Query("*IDN?")
	require.True(transport.IsSessionInvalid(err), "got %v", err)

	require.NoError(sess.Reopen())
	idn, err := sess.Query("*IDN?")
	require.NoError(err)
	require.Equal(DefaultIdentity, idn)
}

func TestServer_ListenAndServeStopsOnContext(t *testing.T) {
	srv := NewServer(NewInstrument("psu"), nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx, "127.0.0.1:0") }()

	require.Eventually(t, func() bool { return srv.Addr() != nil }, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.True(t, errors.Is(err, ErrServerClosed))
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}

	require.ErrorIs(t, srv.Serve(nil), ErrServerClosed)
}
