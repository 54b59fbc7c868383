package psu

import "fmt"

// Profile selects the limit table of a supply.
type Profile int

const (
	// UserProfile restricts currents to values safe for HEMT biasing.
	UserProfile Profile = iota
	// FactoryProfile uses the full data sheet ranges.
	FactoryProfile
)

// String returns the profile name.
func (p Profile) String() string {
	switch p {
	case UserProfile:
		return "user"
	case FactoryProfile:
		return "factory"
	default:
		return fmt.Sprintf("Profile(%d)", int(p))
	}
}

// Bounds is a closed interval.
type Bounds struct {
	Min float64
	Max float64
}

// Contains reports whether v lies in [Min, Max].
func (b Bounds) Contains(v float64) bool {
	return v >= b.Min && v <= b.Max
}

// Limits holds the voltage and current bounds of one channel.
type Limits struct {
	Voltage Bounds
	Current Bounds
}

// Resolution is the number of decimal digits setpoints are rounded to.
const Resolution = 4

// EDU36311A channel limits, indexed by channel number.
var (
	edu36311aFactory = map[int]Limits{
		1: {Voltage: Bounds{0, 6.18}, Current: Bounds{0.002, 5.15}}, // P6V
		2: {Voltage: Bounds{0, 30.9}, Current: Bounds{0.001, 1.03}}, // P30V
		3: {Voltage: Bounds{0, 30.9}, Current: Bounds{0.001, 1.03}}, // N30V
	}

	edu36311aUser = map[int]Limits{
		1: {Voltage: Bounds{0, 6.18}, Current: Bounds{0, 0.005}}, // gate
		2: {Voltage: Bounds{0, 30.9}, Current: Bounds{0, 0.05}},  // drain
		3: {Voltage: Bounds{0, 30.9}, Current: Bounds{0, 1.03}},
	}
)

func edu36311aLimits(p Profile) map[int]Limits {
	if p == FactoryProfile {
		return edu36311aFactory
	}

	return edu36311aUser
}
