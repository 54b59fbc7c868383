package sim

import (
	"errors"
	"fmt"
	"strings"

	"github.com/arloliu/go-scpi/transport"
)

// FaultKind is the kind of an injected fault.
type FaultKind int

const (
	// FaultStaleSession fails the operation as if the instrument handle had gone stale.
	FaultStaleSession FaultKind = iota + 1
	// FaultIO fails the operation with a generic I/O error. It is not a stale session, but the
	// transport session drops the handle that produced it.
	FaultIO
	// FaultDeviceError makes the instrument reject the command and queue a SCPI error.
	FaultDeviceError
)

// String returns the fault kind name.
func (k FaultKind) String() string {
	switch k {
	case FaultStaleSession:
		return "stale-session"
	case FaultIO:
		return "io"
	case FaultDeviceError:
		return "device-error"
	default:
		return fmt.Sprintf("FaultKind(%d)", int(k))
	}
}

// ParseFaultKind converts the String form of a FaultKind back to the kind.
func ParseFaultKind(s string) (FaultKind, error) {
	for _, k := range []FaultKind{FaultStaleSession, FaultIO, FaultDeviceError} {
		if s == k.String() {
			return k, nil
		}
	}

	return 0, fmt.Errorf("sim: unknown fault kind %q", s)
}

var (
	errStale   = fmt.Errorf("sim: stale handle: %w", transport.ErrSessionInvalid)
	errIOFault = errors.New("sim: injected i/o failure")
)

// Fault describes a failure injected into the instrument.
type Fault struct {
	Kind FaultKind
	// Match restricts the fault to commands whose header starts with Match, in either long or
	// short form, e.g. "MEAS:VOLT?". An empty Match applies to every command.
	Match string
	// Count is the number of operations the fault applies to. Zero means one.
	Count int
	// Code and Message are the SCPI error queued by FaultDeviceError.
	Code    int
	Message string

	match string
}

// InjectFault queues f. Faults are consumed in injection order.
func (i *Instrument) InjectFault(f Fault) {
	if f.Count <= 0 {
		f.Count = 1
	}
	if f.Kind == FaultDeviceError && f.Code == 0 {
		f.Code = errCodeOutOfRange
		f.Message = "Data out of range"
	}
	if f.Match != "" {
		f.match = normalizeHeader(f.Match)
	}

	i.mu.Lock()
	i.faults = append(i.faults, &f)
	i.mu.Unlock()
}

// ClearFaults drops every pending fault.
func (i *Instrument) ClearFaults() {
	i.mu.Lock()
	i.faults = nil
	i.mu.Unlock()
}

// PendingFaults returns the number of fault operations not yet consumed.
func (i *Instrument) PendingFaults() int {
	i.mu.Lock()
	defer i.mu.Unlock()

	n := 0
	for _, f := range i.faults {
		n += f.Count
	}

	return n
}

// takeFault consumes one operation of the first fault matching header.
func (i *Instrument) takeFault(header string) *Fault {
	for idx, f := range i.faults {
		if f.match != "" && !strings.HasPrefix(header, f.match) {
			continue
		}

		f.Count--
		if f.Count == 0 {
			i.faults = append(i.faults[:idx], i.faults[idx+1:]...)
		}

		return f
	}

	return nil
}
