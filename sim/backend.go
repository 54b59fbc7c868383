package sim

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/arloliu/go-scpi/logger"
	"github.com/arloliu/go-scpi/transport"
)

// BackendID is the backend identifier of the in-process simulator.
const BackendID = "sim"

// ErrOpenRefused is returned by Open while open failures are injected.
var ErrOpenRefused = errors.New("sim: open refused")

// Backend is a transport.Backend serving simulated instruments in-process.
//
// Instruments are keyed by canonical address and persist across handle reopens, so a
// recovered session sees the state left by the previous handle. Any address is accepted;
// unknown addresses get a new default instrument.
type Backend struct {
	instruments *xsync.MapOf[string, *Instrument]
	openFails   atomic.Int32
	opens       atomic.Int32
	logger      logger.Logger
}

var _ transport.Backend = (*Backend)(nil)

// NewBackend creates a simulator backend with optional pre-attached instruments.
func NewBackend(l logger.Logger) *Backend {
	if l == nil {
		l = logger.GetLogger()
	}

	return &Backend{
		instruments: xsync.NewMapOf[string, *Instrument](),
		logger:      l,
	}
}

// ID returns BackendID.
func (b *Backend) ID() string { return BackendID }

// Attach serves inst at address, replacing any instrument already there.
func (b *Backend) Attach(address string, inst *Instrument) error {
	addr, err := transport.ParseAddress(address)
	if err != nil {
		return err
	}
	if inst == nil {
		return fmt.Errorf("sim: attach %s: nil instrument", addr)
	}

	b.instruments.Store(addr.String(), inst)

	return nil
}

// Instrument returns the instrument served at address, creating it if needed.
func (b *Backend) Instrument(address string) (*Instrument, error) {
	addr, err := transport.ParseAddress(address)
	if err != nil {
		return nil, err
	}

	return b.instrument(addr), nil
}

func (b *Backend) instrument(addr transport.Address) *Instrument {
	inst, _ := b.instruments.LoadOrCompute(addr.String(), func() *Instrument {
		return NewInstrument(addr.Host, WithInstrumentLogger(b.logger))
	})

	return inst
}

// FailOpens makes the next n calls to Open fail with ErrOpenRefused.
func (b *Backend) FailOpens(n int) {
	b.openFails.Store(int32(n))
}

// OpenCount returns the number of successful opens.
func (b *Backend) OpenCount() int {
	return int(b.opens.Load())
}

// Open opens a new handle to the instrument at addr.
func (b *Backend) Open(addr transport.Address) (transport.Conn, error) {
	for {
		n := b.openFails.Load()
		if n <= 0 {
			break
		}
		if b.openFails.CompareAndSwap(n, n-1) {
			return nil, ErrOpenRefused
		}
	}

	b.opens.Add(1)

	return &conn{inst: b.instrument(addr)}, nil
}

// conn is a handle to a simulated instrument. A stale fault kills the handle for good.
type conn struct {
	mu     sync.Mutex
	inst   *Instrument
	dead   bool
	closed bool
}

func (c *conn) Write(cmd string) error {
	_, err := c.do(cmd, false)
	return err
}

func (c *conn) Query(cmd string) (string, error) {
	return c.do(cmd, true)
}

func (c *conn) do(cmd string, query bool) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.dead {
		return "", errStale
	}

	resp, err := c.inst.handle(cmd, query)
	if errors.Is(err, transport.ErrSessionInvalid) {
		c.dead = true
	}

	return resp, err
}

func (c *conn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	return nil
}
