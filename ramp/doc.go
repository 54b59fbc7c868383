// Package ramp sequences safe voltage ramps on a psu.Supply.
//
// A Plan is an ordered list of voltage targets from a start to a stop value in fixed steps.
// Sequencer.Execute drives one channel through a plan and records a Step per target.
// TurnOn and TurnOff run the HEMT bias order on a gate and a drain channel:
//
//	turn-on:  check both outputs off, enable outputs, ramp gate, verify gate, ramp drain
//	turn-off: check both outputs on, ramp drain to 0 V, verify drain, ramp gate to 0 V, reset
//
// A failed gate verification on turn-on resets both channels before the error is returned.
// A failed drain verification on turn-off is returned as is, leaving the channels in place for
// inspection. Any error while ramping aborts the whole operation and no partial telemetry
// is returned.
package ramp
