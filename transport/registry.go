package transport

import (
	"errors"
	"fmt"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/arloliu/go-scpi/logger"
)

// Registry keeps exactly one live Session per canonical resource address.
//
// A Registry is an explicit dependency: create one per process (or per test) and pass it to
// whoever opens sessions.
type Registry struct {
	openMu   sync.Mutex
	sessions *xsync.MapOf[string, *Session]
	backends *xsync.MapOf[string, Backend]
	logger   logger.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry) error

// WithBackend registers a backend with the registry.
func WithBackend(b Backend) RegistryOption {
	return func(r *Registry) error {
		return r.Register(b)
	}
}

// WithRegistryLogger sets the logger for the registry and its sessions.
//
// The default logger is the global logger instance.
func WithRegistryLogger(l logger.Logger) RegistryOption {
	return func(r *Registry) error {
		if l == nil {
			return errors.New("transport: logger is nil")
		}
		r.logger = l

		return nil
	}
}

// NewRegistry creates an empty registry configured by opts.
func NewRegistry(opts ...RegistryOption) (*Registry, error) {
	r := &Registry{
		sessions: xsync.NewMapOf[string, *Session](),
		backends: xsync.NewMapOf[string, Backend](),
		logger:   logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}

	return r, nil
}

// Register adds a backend. Backend ids must be unique within a registry.
func (r *Registry) Register(b Backend) error {
	if b == nil {
		return ErrBackendNil
	}

	if _, loaded := r.backends.LoadOrStore(b.ID(), b); loaded {
		return fmt.Errorf("%w: %q", ErrDuplicateBackend, b.ID())
	}

	return nil
}

// Backend returns the backend registered under id.
func (r *Registry) Backend(id string) (Backend, bool) {
	return r.backends.Load(id)
}

// Open returns the session for address, opening it through backendID if needed.
//
// If a session for the same canonical address exists, it is returned with its reference count
// increased. Requesting an address that is held by another backend fails with
// ErrBackendMismatch. A backend failure is returned as *ConnectionError.
func (r *Registry) Open(address string, backendID string) (*Session, error) {
	addr, err := ParseAddress(address)
	if err != nil {
		return nil, err
	}
	key := addr.String()

	r.openMu.Lock()
	defer r.openMu.Unlock()

	if s, ok := r.sessions.Load(key); ok {
		if s.BackendID() != backendID {
			return nil, fmt.Errorf("%w: %s is open with %q, requested %q", ErrBackendMismatch, key, s.BackendID(), backendID)
		}

		s.refs++
		r.logger.Debug("reuse session", "address", key, "refs", s.refs)

		return s, nil
	}

	backend, ok := r.backends.Load(backendID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backendID)
	}

	conn, err := backend.Open(addr)
	if err != nil {
		r.logger.Error("failed to open session", "address", key, "backend", backendID, "error", err)
		return nil, &ConnectionError{Address: key, Backend: backendID, Err: err}
	}

	s := newSession(r, addr, backend, conn, r.logger)
	r.sessions.Store(key, s)
	r.logger.Info("session opened", "address", key, "backend", backendID)

	return s, nil
}

// Lookup returns the live session for address, if any.
func (r *Registry) Lookup(address string) (*Session, bool) {
	addr, err := ParseAddress(address)
	if err != nil {
		return nil, false
	}

	return r.sessions.Load(addr.String())
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	return r.sessions.Size()
}

// CloseAll closes every live session regardless of reference counts.
func (r *Registry) CloseAll() error {
	r.openMu.Lock()
	var sessions []*Session
	r.sessions.Range(func(key string, s *Session) bool {
		sessions = append(sessions, s)
		s.refs = 0
		r.sessions.Delete(key)

		return true
	})
	r.openMu.Unlock()

	var errs []error
	for _, s := range sessions {
		if err := s.closeHandle(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (r *Registry) release(s *Session) error {
	r.openMu.Lock()
	if s.refs <= 0 {
		r.openMu.Unlock()
		return nil
	}

	s.refs--
	last := s.refs == 0
	if last {
		r.sessions.Compute(s.addr.String(), func(cur *Session, loaded bool) (*Session, bool) {
			// only delete the entry if it still points at this session
			return cur, !loaded || cur == s
		})
	}
	r.openMu.Unlock()

	if !last {
		return nil
	}

	return s.closeHandle()
}
