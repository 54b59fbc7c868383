package transport

import (
	"sync"
	"sync/atomic"

	"github.com/arloliu/go-scpi/logger"
)

// Session owns the handle to one physical instrument address.
//
// Write and Query are serialized on the handle. Command sequences that must not interleave
// with other users of the same Session (a command followed by its error status query) are
// bracketed with Lock and Unlock.
type Session struct {
	txMu sync.Mutex

	ioMu sync.Mutex
	conn Conn

	addr     Address
	backend  Backend
	registry *Registry
	logger   logger.Logger

	opState AtomicOpState
	refs    int // guarded by registry.openMu

	metrics SessionMetrics
}

// SessionMetrics contains atomic counters of a session.
type SessionMetrics struct {
	// OpenCount indicates the number of handles opened, including reopens.
	OpenCount atomic.Uint64
	// ReopenCount indicates the number of reopen attempts.
	ReopenCount atomic.Uint64
	// ErrCount indicates the number of failed round trips.
	ErrCount atomic.Uint64
}

func newSession(reg *Registry, addr Address, backend Backend, conn Conn, l logger.Logger) *Session {
	s := &Session{
		conn:     conn,
		addr:     addr,
		backend:  backend,
		registry: reg,
		logger:   l.With("address", addr.String(), "backend", backend.ID()),
		refs:     1,
	}
	s.opState.Set(OpenedState)
	s.metrics.OpenCount.Add(1)

	return s
}

// Address returns the parsed resource address of the session.
func (s *Session) Address() Address { return s.addr }

// BackendID returns the id of the backend serving this session.
func (s *Session) BackendID() string { return s.backend.ID() }

// IsOpen reports whether the session has not been closed by its owners.
func (s *Session) IsOpen() bool { return s.opState.IsOpened() }

// GetLogger returns the logger associated with the session.
func (s *Session) GetLogger() logger.Logger { return s.logger }

// GetMetrics returns the metrics associated with the session.
func (s *Session) GetMetrics() *SessionMetrics { return &s.metrics }

// Lock acquires the transaction lock of the session.
func (s *Session) Lock() { s.txMu.Lock() }

// Unlock releases the transaction lock of the session.
func (s *Session) Unlock() { s.txMu.Unlock() }

// Write sends cmd through the session handle.
func (s *Session) Write(cmd string) error {
	s.ioMu.Lock()
	defer s.ioMu.Unlock()

	conn, err := s.usableConn("write", cmd)
	if err != nil {
		return err
	}

	if err := conn.Write(cmd); err != nil {
		return s.fail("write", cmd, err)
	}

	return nil
}

// Query sends cmd through the session handle and returns the response.
func (s *Session) Query(cmd string) (string, error) {
	s.ioMu.Lock()
	defer s.ioMu.Unlock()

	conn, err := s.usableConn("query", cmd)
	if err != nil {
		return "", err
	}

	resp, err := conn.Query(cmd)
	if err != nil {
		return "", s.fail("query", cmd, err)
	}

	return resp, nil
}

// Reopen closes the current handle, ignoring close failures, and opens a new one.
//
// On failure the session is left without a handle; the next round trip reports
// KindSessionInvalid so a later recovery can try again.
func (s *Session) Reopen() error {
	s.ioMu.Lock()
	defer s.ioMu.Unlock()

	if s.opState.IsClosed() {
		return &ConnectionError{Address: s.addr.String(), Backend: s.backend.ID(), Err: ErrSessionClosed}
	}

	s.metrics.ReopenCount.Add(1)
	s.opState.ToOpening()

	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			s.logger.Debug("ignore close error before reopen", "error", err)
		}
		s.conn = nil
	}

	conn, err := s.backend.Open(s.addr)
	s.opState.ToOpened()
	if err != nil {
		s.logger.Error("failed to reopen session", "error", err)
		return &ConnectionError{Address: s.addr.String(), Backend: s.backend.ID(), Err: err}
	}

	s.conn = conn
	s.metrics.OpenCount.Add(1)
	s.logger.Info("session reopened")

	return nil
}

// Close releases one reference to the session.
//
// The last release closes the handle and removes the session from its registry.
// Calling Close on a fully released session is a no-op.
func (s *Session) Close() error {
	if s.registry != nil {
		return s.registry.release(s)
	}

	return s.closeHandle()
}

func (s *Session) closeHandle() error {
	s.ioMu.Lock()
	defer s.ioMu.Unlock()

	if !s.opState.ToClosing() {
		return nil
	}
	defer s.opState.ToClosed()

	if s.conn == nil {
		return nil
	}

	err := s.conn.Close()
	s.conn = nil
	if err != nil {
		s.logger.Warn("error while closing session", "error", err)
		return &ConnectionError{Address: s.addr.String(), Backend: s.backend.ID(), Err: err}
	}

	s.logger.Info("session closed")

	return nil
}

// usableConn returns the current handle or a TransportError describing why there is none.
// The caller must hold ioMu.
func (s *Session) usableConn(op string, cmd string) (Conn, error) {
	if s.opState.IsShuttingDown() {
		return nil, s.wrapErr(op, cmd, ErrSessionClosed)
	}

	if s.conn == nil {
		return nil, s.wrapErr(op, cmd, ErrSessionInvalid)
	}

	return s.conn, nil
}

// fail wraps a round trip failure on the current handle. A handle that timed out or hit
// an IO error may still deliver the late reply, so it is dropped; the next round trip
// reports KindSessionInvalid and goes through reopen. The caller must hold ioMu.
func (s *Session) fail(op string, cmd string, err error) error {
	terr := s.wrapErr(op, cmd, err)

	kind := Classify(err)
	if (kind == KindTimeout || kind == KindIO) && s.conn != nil {
		if cerr := s.conn.Close(); cerr != nil {
			s.logger.Debug("ignore close error of dropped handle", "error", cerr)
		}
		s.conn = nil
		s.logger.Warn("handle dropped after failed round trip", "op", op, "command", cmd, "kind", kind)
	}

	return terr
}

func (s *Session) wrapErr(op string, cmd string, err error) error {
	s.metrics.ErrCount.Add(1)

	return &TransportError{
		Op:      op,
		Command: cmd,
		Address: s.addr.String(),
		Kind:    Classify(err),
		Err:     err,
	}
}
