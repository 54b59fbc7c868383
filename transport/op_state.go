package transport

import "sync/atomic"

// OpState is the lifecycle state of a session.
type OpState uint32

const (
	// ClosedState means every owner released the session; it never opens again.
	ClosedState OpState = iota
	// ClosingState means the last owner is closing the handle.
	ClosingState
	// OpeningState means the handle is being opened or reopened.
	OpeningState
	// OpenedState means the session accepts round trips.
	OpenedState
)

// String returns string representation of the state.
func (s OpState) String() string {
	switch s {
	case ClosedState:
		return "closed"
	case ClosingState:
		return "closing"
	case OpeningState:
		return "opening"
	case OpenedState:
		return "opened"
	default:
		return "unknown"
	}
}

// AtomicOpState holds an OpState that several goroutines read and transition.
type AtomicOpState struct {
	state atomic.Uint32
}

func (st *AtomicOpState) String() string { return st.Get().String() }

// Get returns the current state.
func (st *AtomicOpState) Get() OpState { return OpState(st.state.Load()) }

// Set stores state unconditionally. Sessions use it once, at creation.
func (st *AtomicOpState) Set(state OpState) { st.state.Store(uint32(state)) }

// IsClosed reports whether the session reached ClosedState.
func (st *AtomicOpState) IsClosed() bool { return st.Get() == ClosedState }

// IsOpened reports whether the session is in OpenedState.
func (st *AtomicOpState) IsOpened() bool { return st.Get() == OpenedState }

// IsShuttingDown reports whether the session is closed or being closed.
func (st *AtomicOpState) IsShuttingDown() bool {
	s := st.Get()
	return s == ClosedState || s == ClosingState
}

func (st *AtomicOpState) swap(from, to OpState) bool {
	return st.state.CompareAndSwap(uint32(from), uint32(to))
}

// ToOpening moves an opened session into OpeningState for a reopen.
func (st *AtomicOpState) ToOpening() bool {
	return st.swap(OpenedState, OpeningState)
}

// ToOpened completes an open or reopen. It is a no-op on an opened session.
func (st *AtomicOpState) ToOpened() bool {
	return st.IsOpened() || st.swap(OpeningState, OpenedState)
}

// ToClosing starts the final close from OpenedState or OpeningState. It returns false when
// another caller already started it.
func (st *AtomicOpState) ToClosing() bool {
	return st.swap(OpenedState, ClosingState) || st.swap(OpeningState, ClosingState)
}

// ToClosed completes the final close.
func (st *AtomicOpState) ToClosed() bool {
	return st.IsClosed() || st.swap(ClosingState, ClosedState)
}
