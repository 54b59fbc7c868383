package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

var (
	// ErrSessionInvalid indicates that the session handle is stale and must be reopened.
	// Backends return it (or wrap it) when the underlying handle is no longer usable.
	ErrSessionInvalid = errors.New("transport: session invalid")

	// ErrSessionClosed indicates that the session was explicitly closed by its owners.
	ErrSessionClosed = errors.New("transport: session closed")

	// ErrBackendMismatch indicates that an address is already held by a session of another backend.
	ErrBackendMismatch = errors.New("transport: address is open with a different backend")

	// ErrUnknownBackend indicates that no backend with the requested id is registered.
	ErrUnknownBackend = errors.New("transport: unknown backend")

	// ErrDuplicateBackend indicates that a backend with the same id is already registered.
	ErrDuplicateBackend = errors.New("transport: backend already registered")

	// ErrBackendNil indicates that a nil Backend was provided.
	ErrBackendNil = errors.New("transport: backend is nil")

	// ErrInvalidAddress indicates a malformed resource address.
	ErrInvalidAddress = errors.New("transport: invalid resource address")

	// ErrUnsupportedAddress indicates that a backend cannot serve the address' interface type.
	ErrUnsupportedAddress = errors.New("transport: address not supported by backend")
)

// ErrorKind classifies a TransportError.
type ErrorKind uint8

const (
	// KindIO is a communication fault of the device or link. Not retried.
	KindIO ErrorKind = iota
	// KindSessionInvalid means the handle is stale. Recoverable by one reopen and retry.
	KindSessionInvalid
	// KindTimeout means the backend gave up waiting for the device. Not retried.
	KindTimeout
	// KindClosed means the session was closed by its owners. Not retried.
	KindClosed
)

// String returns string representation of the error kind.
func (k ErrorKind) String() string {
	switch k {
	case KindIO:
		return "io"
	case KindSessionInvalid:
		return "session-invalid"
	case KindTimeout:
		return "timeout"
	case KindClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// TransportError is a failed write or query round trip.
type TransportError struct {
	// Op is "write" or "query".
	Op string
	// Command is the command text that was being sent.
	Command string
	// Address is the canonical resource address of the session.
	Address string
	// Kind classifies the failure.
	Kind ErrorKind
	// Err is the backend error.
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %s %q on %s failed (%s): %v", e.Op, e.Command, e.Address, e.Kind, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsSessionInvalid reports whether err is a TransportError of kind KindSessionInvalid.
func IsSessionInvalid(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Kind == KindSessionInvalid
	}

	return false
}

// ConnectionError indicates that a session handle could not be opened or reopened.
type ConnectionError struct {
	Address string
	Backend string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("transport: cannot open %s with backend %q: %v", e.Address, e.Backend, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Classify maps a backend error to an ErrorKind.
//
// Closed sockets, EOF and connection resets mean the handle went stale; timeouts are reported
// separately so they are never retried.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return KindIO
	case errors.Is(err, ErrSessionClosed):
		return KindClosed
	case errors.Is(err, ErrSessionInvalid),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.ErrClosedPipe),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNABORTED):
		return KindSessionInvalid
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}

	return KindIO
}
