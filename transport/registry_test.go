package transport

import (
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackend hands out fakeConns and counts opens.
type fakeBackend struct {
	mu      sync.Mutex
	id      string
	opens   int
	openErr error
	conns   []*fakeConn
}

func (b *fakeBackend) ID() string { return b.id }

func (b *fakeBackend) Open(addr Address) (Conn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.openErr != nil {
		return nil, b.openErr
	}
	b.opens++
	c := &fakeConn{}
	b.conns = append(b.conns, c)

	return c, nil
}

func (b *fakeBackend) last() *fakeConn {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.conns[len(b.conns)-1]
}

type fakeConn struct {
	writes   []string
	writeErr error
	closed   bool
	closeErr error
}

func (c *fakeConn) Write(cmd string) error {
	if c.writeErr != nil {
		return c.writeErr
	}
	c.writes = append(c.writes, cmd)

	return nil
}

func (c *fakeConn) Query(cmd string) (string, error) {
	if err := c.Write(cmd); err != nil {
		return "", err
	}

	return "echo " + cmd, nil
}

func (c *fakeConn) Close() error {
	c.closed = true
	return c.closeErr
}

func newTestRegistry(t *testing.T, backends ...Backend) *Registry {
	t.Helper()

	opts := make([]RegistryOption, 0, len(backends))
	for _, b := range backends {
		opts = append(opts, WithBackend(b))
	}

	reg, err := NewRegistry(opts...)
	require.NoError(t, err)

	return reg
}

func TestRegistry_OpenIsIdempotentPerAddress(t *testing.T) {
	backend := &fakeBackend{id: "fake"}
	reg := newTestRegistry(t, backend)

	s1, err := reg.Open("TCPIP0::10.0.0.5::inst0::INSTR", "fake")
	require.NoError(t, err)
	s2, err := reg.Open("10.0.0.5:5025", "fake")
	require.NoError(t, err)

	assert.Same(t, s1, s2)
	assert.Equal(t, 1, backend.opens)
	assert.Equal(t, 1, reg.Len())

	// first close only drops a reference
	require.NoError(t, s1.Close())
	assert.True(t, s2.IsOpen())
	assert.False(t, backend.last().closed)

	require.NoError(t, s2.Close())
	assert.False(t, s2.IsOpen())
	assert.True(t, backend.last().closed)
	assert.Equal(t, 0, reg.Len())

	// safe to call again
	require.NoError(t, s2.Close())

	_, ok := reg.Lookup("10.0.0.5:5025")
	assert.False(t, ok)
}

func TestRegistry_OpenAfterFullCloseCreatesNewSession(t *testing.T) {
	backend := &fakeBackend{id: "fake"}
	reg := newTestRegistry(t, backend)

	s1, err := reg.Open("SIM::psu", "fake")
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := reg.Open("SIM::psu", "fake")
	require.NoError(t, err)
	assert.NotSame(t, s1, s2)
	assert.Equal(t, 2, backend.opens)
}

func TestRegistry_BackendMismatch(t *testing.T) {
	reg := newTestRegistry(t, &fakeBackend{id: "a"}, &fakeBackend{id: "b"})

	_, err := reg.Open("SIM::psu", "a")
	require.NoError(t, err)

	_, err = reg.Open("SIM0::psu::INSTR", "b")
	require.ErrorIs(t, err, ErrBackendMismatch)
}

func TestRegistry_OpenErrors(t *testing.T) {
	openErr := errors.New("no route to host")
	reg := newTestRegistry(t, &fakeBackend{id: "broken", openErr: openErr})

	_, err := reg.Open("SIM::psu", "missing")
	require.ErrorIs(t, err, ErrUnknownBackend)

	_, err = reg.Open("not an address", "broken")
	require.ErrorIs(t, err, ErrInvalidAddress)

	_, err = reg.Open("SIM::psu", "broken")
	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.ErrorIs(t, err, openErr)
	assert.Equal(t, "SIM0::psu::INSTR", connErr.Address)
	assert.Equal(t, 0, reg.Len())
}

func TestRegistry_RegisterDuplicate(t *testing.T) {
	reg := newTestRegistry(t, &fakeBackend{id: "a"})

	require.ErrorIs(t, reg.Register(&fakeBackend{id: "a"}), ErrDuplicateBackend)
	require.ErrorIs(t, reg.Register(nil), ErrBackendNil)

	_, ok := reg.Backend("a")
	assert.True(t, ok)
}

func TestRegistry_CloseAll(t *testing.T) {
	backend := &fakeBackend{id: "fake"}
	reg := newTestRegistry(t, backend)

	s1, err := reg.Open("SIM::one", "fake")
	require.NoError(t, err)
	_, err = reg.Open("SIM::one", "fake")
	require.NoError(t, err)
	s2, err := reg.Open("SIM::two", "fake")
	require.NoError(t, err)

	require.NoError(t, reg.CloseAll())
	assert.Equal(t, 0, reg.Len())
	assert.False(t, s1.IsOpen())
	assert.False(t, s2.IsOpen())
	require.NoError(t, s1.Close())
}

func TestSession_WriteQueryAndClassification(t *testing.T) {
	backend := &fakeBackend{id: "fake"}
	reg := newTestRegistry(t, backend)

	s, err := reg.Open("SIM::psu", "fake")
	require.NoError(t, err)

	require.NoError(t, s.Write("OUTP ON"))
	resp, err := s.Query("*IDN?")
	require.NoError(t, err)
	assert.Equal(t, "echo *IDN?", resp)

	backend.last().writeErr = io.EOF
	err = s.Write("VOLT 1")
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, KindSessionInvalid, te.Kind)
	assert.Equal(t, "write", te.Op)
	assert.Equal(t, "VOLT 1", te.Command)
	assert.True(t, IsSessionInvalid(err))

	backend.last().writeErr = errors.New("device busy")
	_, err = s.Query("MEAS:VOLT? (@1)")
	require.ErrorAs(t, err, &te)
	assert.Equal(t, KindIO, te.Kind)
	assert.False(t, IsSessionInvalid(err))
	assert.Equal(t, uint64(2), s.GetMetrics().ErrCount.Load())

	// the failed handle is dropped so a late reply can never answer a later query
	assert.True(t, backend.last().closed)
	_, err = s.Query("OUTP? (@1)")
	assert.True(t, IsSessionInvalid(err))
	require.NoError(t, s.Reopen())
	resp, err = s.Query("OUTP? (@1)")
	require.NoError(t, err)
	assert.Equal(t, "echo OUTP? (@1)", resp)

	require.NoError(t, s.Close())
	err = s.Write("OUTP OFF")
	require.ErrorAs(t, err, &te)
	assert.Equal(t, KindClosed, te.Kind)
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestSession_Reopen(t *testing.T) {
	backend := &fakeBackend{id: "fake"}
	reg := newTestRegistry(t, backend)

	s, err := reg.Open("SIM::psu", "fake")
	require.NoError(t, err)

	first := backend.last()
	first.closeErr = errors.New("already gone")

	require.NoError(t, s.Reopen())
	assert.True(t, first.closed)
	assert.NotSame(t, first, backend.last())
	assert.Equal(t, 2, backend.opens)
	assert.True(t, s.IsOpen())

	require.NoError(t, s.Write("*CLS"))
	assert.Equal(t, []string{"*CLS"}, backend.last().writes)

	// failed reopen leaves a stale session
	backend.openErr = errors.New("instrument powered off")
	var connErr *ConnectionError
	require.ErrorAs(t, s.Reopen(), &connErr)
	assert.True(t, IsSessionInvalid(s.Write("*CLS")))
	assert.Equal(t, uint64(2), s.GetMetrics().ReopenCount.Load())

	require.NoError(t, s.Close())
	require.ErrorIs(t, s.Reopen(), ErrSessionClosed)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, KindSessionInvalid, Classify(ErrSessionInvalid))
	assert.Equal(t, KindSessionInvalid, Classify(io.ErrUnexpectedEOF))
	assert.Equal(t, KindClosed, Classify(ErrSessionClosed))
	assert.Equal(t, KindIO, Classify(errors.New("boom")))
	assert.Equal(t, "timeout", KindTimeout.String())
}
