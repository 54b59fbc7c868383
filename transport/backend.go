package transport

// Conn is one open handle to an instrument.
//
// Implementations are not required to be safe for concurrent use; Session serializes access.
type Conn interface {
	// Write sends a command that produces no response.
	Write(cmd string) error
	// Query sends a command and returns its response without the line terminator.
	Query(cmd string) (string, error)
	// Close releases the handle.
	Close() error
}

// Backend opens handles for resource addresses, e.g. raw TCP sockets or a simulator.
type Backend interface {
	// ID returns the backend identifier used in configuration, e.g. "tcp" or "sim".
	ID() string
	// Open opens a new handle to addr.
	Open(addr Address) (Conn, error)
}
