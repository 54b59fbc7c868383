package transport

import (
	"bufio"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startLineServer answers every line ending with '?' by echoing it in upper case.
func startLineServer(t *testing.T) (string, chan string) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	received := make(chan string, 16)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				r := bufio.NewReader(c)
				for {
					line, err := r.ReadString('\n')
					if err != nil {
						return
					}
					line = strings.TrimRight(line, "\r\n")
					received <- line
					if strings.HasSuffix(line, "?") {
						_, _ = c.Write([]byte(strings.ToUpper(line) + "\r\n"))
					}
				}
			}(conn)
		}
	}()

	return ln.Addr().String(), received
}

func TestNewTCPBackend_Options(t *testing.T) {
	b, err := NewTCPBackend()
	require.NoError(t, err)
	assert.Equal(t, TCPBackendID, b.ID())
	assert.Equal(t, DefaultDialTimeout, b.DialTimeout())
	assert.Equal(t, DefaultIOTimeout, b.IOTimeout())

	b, err = NewTCPBackend(WithDialTimeout(time.Second), WithIOTimeout(200*time.Millisecond), WithTerminator("\r\n"))
	require.NoError(t, err)
	assert.Equal(t, time.Second, b.DialTimeout())
	assert.Equal(t, 200*time.Millisecond, b.IOTimeout())

	_, err = NewTCPBackend(WithDialTimeout(time.Millisecond))
	require.Error(t, err)
	_, err = NewTCPBackend(WithIOTimeout(time.Hour))
	require.Error(t, err)
	_, err = NewTCPBackend(WithTerminator(";"))
	require.Error(t, err)
}

func TestTCPBackend_RoundTrip(t *testing.T) {
	hostPort, received := startLineServer(t)

	b, err := NewTCPBackend(WithIOTimeout(time.Second))
	require.NoError(t, err)
	reg := newTestRegistry(t, b)

	s, err := reg.Open(hostPort, TCPBackendID)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Write("OUTP ON,(@1)"))
	assert.Equal(t, "OUTP ON,(@1)", <-received)

	resp, err := s.Query("meas:volt? (@1)")
	require.NoError(t, err)
	assert.Equal(t, "MEAS:VOLT? (@1)", resp)
}

func TestTCPBackend_QueryTimeout(t *testing.T) {
	hostPort, _ := startLineServer(t)

	b, err := NewTCPBackend(WithIOTimeout(50 * time.Millisecond))
	require.NoError(t, err)
	reg := newTestRegistry(t, b)

	s, err := reg.Open(hostPort, TCPBackendID)
	require.NoError(t, err)
	defer s.Close()

	// no '?' suffix: the server never answers
	_, err = s.Query("VOLT 1")
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, KindTimeout, te.Kind)
}

// startSlowServer answers queries like startLineServer but holds the first reply for delay.
func startSlowServer(t *testing.T, delay time.Duration) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	var replies atomic.Int32
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				r := bufio.NewReader(c)
				for {
					line, err := r.ReadString('\n')
					if err != nil {
						return
					}
					line = strings.TrimRight(line, "\r\n")
					if !strings.HasSuffix(line, "?") {
						continue
					}
					if replies.Add(1) == 1 {
						time.Sleep(delay)
					}
					if _, err := c.Write([]byte(strings.ToUpper(line) + "\r\n")); err != nil {
						return
					}
				}
			}(conn)
		}
	}()

	return ln.Addr().String()
}

func TestTCPBackend_LateReplyIsNotReadByNextQuery(t *testing.T) {
	hostPort := startSlowServer(t, 300*time.Millisecond)

	b, err := NewTCPBackend(WithIOTimeout(100 * time.Millisecond))
	require.NoError(t, err)
	reg := newTestRegistry(t, b)

	s, err := reg.Open(hostPort, TCPBackendID)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Query("MEAS:VOLT? (@1)")
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, KindTimeout, te.Kind)

	// let the late reply reach the dropped connection
	time.Sleep(300 * time.Millisecond)

	resp, err := s.Query("OUTP? (@1)")
	assert.NotEqual(t, "MEAS:VOLT? (@1)", resp)
	require.Error(t, err)
	assert.True(t, IsSessionInvalid(err))

	require.NoError(t, s.Reopen())
	resp, err = s.Query("OUTP? (@1)")
	require.NoError(t, err)
	assert.Equal(t, "OUTP? (@1)", resp)
}

func TestTCPBackend_ConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	hostPort := ln.Addr().String()
	require.NoError(t, ln.Close())

	b, err := NewTCPBackend(WithDialTimeout(200 * time.Millisecond))
	require.NoError(t, err)
	reg := newTestRegistry(t, b)

	_, err = reg.Open(hostPort, TCPBackendID)
	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, TCPBackendID, connErr.Backend)
}

func TestTCPBackend_RejectsSimAddress(t *testing.T) {
	b, err := NewTCPBackend()
	require.NoError(t, err)

	addr, err := ParseAddress("SIM::psu")
	require.NoError(t, err)

	_, err = b.Open(addr)
	require.ErrorIs(t, err, ErrUnsupportedAddress)
}
