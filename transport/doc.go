// Package transport owns the connection handles to physical instruments.
//
// A Registry keeps exactly one live Session per canonical resource address. Drivers that
// target different channels of the same instrument share that Session; each Open is
// balanced by a Close and the last Close releases the handle.
//
// Resource addresses follow the VISA conventions:
//
//	TCPIP0::192.168.0.106::5025::SOCKET   raw SCPI socket
//	TCPIP0::192.168.0.106::inst0::INSTR   treated as a raw socket on port 5025
//	SIM0::hemt-psu::INSTR                 in-process simulated instrument
//	192.168.0.106:5025                    shorthand for a raw socket
//
// Failures of a round trip are reported as *TransportError. The Kind of the error tells the
// command layer whether the handle is stale (KindSessionInvalid, recoverable by Reopen) or
// whether the device or link is really at fault. Failures to open or reopen a handle are
// reported as *ConnectionError.
package transport
