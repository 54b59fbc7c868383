package scpi

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNil indicates that a nil transport.Session was provided.
	ErrSessionNil = errors.New("scpi: session is nil")

	// ErrMalformedResponse is wrapped by ParseError when a response does not match the expected format.
	ErrMalformedResponse = errors.New("scpi: malformed response")
)

// DeviceError is a nonzero error status reported by the instrument after a command.
type DeviceError struct {
	// Code is the SCPI error code, e.g. -222.
	Code int
	// Message is the error text reported by the instrument.
	Message string
	// Command is the command after which the error was reported.
	Command string
}

func (e *DeviceError) Error() string {
	if e.Command == "" {
		return fmt.Sprintf("scpi: device error %d %q", e.Code, e.Message)
	}

	return fmt.Sprintf("scpi: device error %d %q after %q", e.Code, e.Message, e.Command)
}

// ParseError is a response that could not be parsed.
type ParseError struct {
	Command  string
	Response string
	Err      error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("scpi: cannot parse response %q to %q: %v", e.Response, e.Command, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
