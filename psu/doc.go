// Package psu implements limit-checked drivers for programmable DC power supplies.
//
// Supply is the capability set the ramp sequencer depends on: per-channel voltage and current
// readback, voltage setpoints, output enable and a safety reset. EDU36311A implements it for
// the Keysight EDU36311A triple-output supply on top of an scpi.Client.
//
// Every setpoint is validated against the active limit profile before any command reaches the
// instrument. The profile, factory or user-restricted, is chosen at construction and never
// changes afterwards.
package psu
