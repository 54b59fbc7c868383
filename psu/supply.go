package psu

// Supply is a multi-channel programmable supply as seen by the ramp sequencer.
//
// Channels are numbered from 1. Methods taking a variadic channel list apply to every channel
// in index order when the list is empty.
type Supply interface {
	// Voltage returns the measured output voltage of ch.
	Voltage(ch int) (float64, error)
	// Current returns the measured output current of ch.
	Current(ch int) (float64, error)
	// SetVoltage programs ch to v after checking it against the active limits.
	SetVoltage(ch int, v float64) error
	// SetOutput enables or disables the outputs of channels.
	SetOutput(enabled bool, channels ...int) error
	// Output reports whether the output of ch is enabled. It never writes to the instrument.
	Output(ch int) (bool, error)
	// Outputs reports the output state of every channel.
	Outputs() (map[int]bool, error)
	// Reset disables outputs, zeroes setpoints and clears protection latches of channels.
	Reset(channels ...int) error
}

// VoltageChecker is implemented by supplies that can validate a setpoint without sending it.
type VoltageChecker interface {
	CheckVoltage(ch int, v float64) error
}

// LimitReporter is implemented by supplies that expose the bounds of a channel.
type LimitReporter interface {
	Limits(ch int) (Limits, error)
}

var (
	_ VoltageChecker = (*EDU36311A)(nil)
	_ LimitReporter  = (*EDU36311A)(nil)
)

// Channel is the cached state of one supply channel.
type Channel struct {
	Index        int
	Voltage      float64 // last programmed voltage
	CurrentLimit float64 // last programmed current limit
	Output       bool    // last commanded output state
	Limits       Limits
}
