package transport

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"
)

// TCPBackendID is the backend id of raw SCPI sockets.
const TCPBackendID = "tcp"

const (
	// DefaultDialTimeout is the default timeout to establish a socket.
	DefaultDialTimeout = 3 * time.Second
	// DefaultIOTimeout is the default deadline applied to every write and read.
	DefaultIOTimeout = 5 * time.Second
)

// TCPBackend opens raw SCPI sockets to LAN instruments.
//
// Commands are sent as one line ending with the configured terminator, responses are read
// up to a line feed.
type TCPBackend struct {
	mu          sync.RWMutex
	dialTimeout time.Duration
	ioTimeout   time.Duration
	terminator  string
	dialer      func(network, address string, timeout time.Duration) (net.Conn, error)
}

var _ Backend = (*TCPBackend)(nil)

// TCPOption represents a functional option for configuring a TCPBackend.
type TCPOption interface {
	apply(*TCPBackend) error
}

type tcpOptFunc struct {
	name      string
	applyFunc func(*TCPBackend) error
}

func (o *tcpOptFunc) apply(b *TCPBackend) error { return o.applyFunc(b) }

func newTCPOptFunc(name string, f func(*TCPBackend) error) *tcpOptFunc {
	return &tcpOptFunc{name: name, applyFunc: f}
}

// NewTCPBackend creates a raw socket backend with the given options.
func NewTCPBackend(opts ...TCPOption) (*TCPBackend, error) {
	b := &TCPBackend{
		dialTimeout: DefaultDialTimeout,
		ioTimeout:   DefaultIOTimeout,
		terminator:  "\n",
		dialer:      net.DialTimeout,
	}

	for _, opt := range opts {
		if err := opt.apply(b); err != nil {
			return nil, err
		}
	}

	return b, nil
}

// WithDialTimeout sets the timeout for establishing a socket.
// An error is returned if the timeout is outside the valid range (0.1-30 seconds).
//
// The default value is 3 seconds.
func WithDialTimeout(val time.Duration) TCPOption {
	return newTCPOptFunc("WithDialTimeout", func(b *TCPBackend) error {
		if val < 100*time.Millisecond || val > 30*time.Second {
			return errors.New("dial timeout out of range [0.1, 30]")
		}
		b.dialTimeout = val

		return nil
	})
}

// WithIOTimeout sets the deadline applied to each write and each response read.
// An error is returned if the timeout is outside the valid range (0.01-120 seconds).
//
// The default value is 5 seconds.
func WithIOTimeout(val time.Duration) TCPOption {
	return newTCPOptFunc("WithIOTimeout", func(b *TCPBackend) error {
		if val < 10*time.Millisecond || val > 120*time.Second {
			return errors.New("io timeout out of range [0.01, 120]")
		}
		b.ioTimeout = val

		return nil
	})
}

// WithTerminator sets the command terminator. It must be "\n" or "\r\n".
//
// The default value is "\n".
func WithTerminator(term string) TCPOption {
	return newTCPOptFunc("WithTerminator", func(b *TCPBackend) error {
		if term != "\n" && term != "\r\n" {
			return fmt.Errorf("unsupported terminator %q", term)
		}
		b.terminator = term

		return nil
	})
}

// ID returns TCPBackendID.
func (b *TCPBackend) ID() string { return TCPBackendID }

// DialTimeout returns the configured dial timeout.
func (b *TCPBackend) DialTimeout() time.Duration {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.dialTimeout
}

// IOTimeout returns the configured per round trip deadline.
func (b *TCPBackend) IOTimeout() time.Duration {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.ioTimeout
}

// Open dials the instrument socket of addr.
func (b *TCPBackend) Open(addr Address) (Conn, error) {
	if addr.Interface != InterfaceTCPIP {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAddress, addr.String())
	}

	b.mu.RLock()
	dialTimeout, ioTimeout, term := b.dialTimeout, b.ioTimeout, b.terminator
	b.mu.RUnlock()

	nc, err := b.dialer("tcp", addr.HostPort(), dialTimeout)
	if err != nil {
		return nil, err
	}

	return &tcpConn{
		conn:       nc,
		reader:     bufio.NewReader(nc),
		ioTimeout:  ioTimeout,
		terminator: term,
	}, nil
}

type tcpConn struct {
	conn       net.Conn
	reader     *bufio.Reader
	ioTimeout  time.Duration
	terminator string
}

func (c *tcpConn) Write(cmd string) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.ioTimeout)); err != nil {
		return err
	}

	_, err := c.conn.Write([]byte(cmd + c.terminator))

	return err
}

func (c *tcpConn) Query(cmd string) (string, error) {
	if err := c.Write(cmd); err != nil {
		return "", err
	}

	if err := c.conn.SetReadDeadline(time.Now().Add(c.ioTimeout)); err != nil {
		return "", err
	}

	line, err := c.reader.ReadString('\n')
	if err != nil {
		return "", err
	}

	return strings.TrimRight(line, "\r\n"), nil
}

func (c *tcpConn) Close() error {
	return c.conn.Close()
}
