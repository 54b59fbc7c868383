// Package sim provides a simulated triple-output bench power supply.
//
// The Instrument understands the SCPI subset of a Keysight EDU36311A used by package psu,
// drives resistive loads with constant-current limiting, keeps a SCPI error queue and records
// every command it receives. Faults can be injected to exercise recovery paths: stale
// sessions, I/O failures, device errors and a measurement sag that keeps a channel below its
// setpoint.
//
// The Instrument is reachable in-process through Backend (backend id "sim") or over TCP
// through Server, which speaks the same raw socket protocol as a LAN instrument.
package sim
