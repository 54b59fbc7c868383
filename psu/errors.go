package psu

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidChannel indicates a channel index the supply does not have.
	ErrInvalidChannel = errors.New("psu: invalid channel")

	// ErrOutOfRange is wrapped by OutOfRangeError.
	ErrOutOfRange = errors.New("psu: value out of range")

	// ErrClientNil indicates that a nil scpi.Client was provided.
	ErrClientNil = errors.New("psu: client is nil")
)

// Quantity names a programmable channel quantity.
type Quantity string

const (
	QuantityVoltage Quantity = "voltage"
	QuantityCurrent Quantity = "current"
)

func (q Quantity) unit() string {
	if q == QuantityCurrent {
		return "A"
	}

	return "V"
}

// OutOfRangeError is a setpoint rejected by the active limit profile. No command was sent.
type OutOfRangeError struct {
	Channel  int
	Quantity Quantity
	Value    float64
	Bounds   Bounds
	Profile  Profile
}

func (e *OutOfRangeError) Error() string {
	u := e.Quantity.unit()

	return fmt.Sprintf("psu: CH%d %s %g %s outside %s limits [%g, %g] %s",
		e.Channel, e.Quantity, e.Value, u, e.Profile, e.Bounds.Min, e.Bounds.Max, u)
}

func (e *OutOfRangeError) Unwrap() error { return ErrOutOfRange }

func invalidChannel(ch int) error {
	return fmt.Errorf("%w: %d", ErrInvalidChannel, ch)
}
