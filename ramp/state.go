package ramp

import (
	"sync"
	"sync/atomic"

	"github.com/arloliu/go-scpi/logger"
)

// State is the sequencer state.
type State uint32

const (
	// IdleState indicates that no operation is running.
	IdleState State = iota
	// RampingState indicates that a channel is being driven through a plan.
	RampingState
	// VerifyingState indicates that a ramped channel is being checked against its final target.
	VerifyingState
	// AbortedState indicates that the last operation failed.
	AbortedState
)

// String returns string representation of the state.
func (s State) String() string {
	switch s {
	case IdleState:
		return "idle"
	case RampingState:
		return "ramping"
	case VerifyingState:
		return "verifying"
	case AbortedState:
		return "aborted"
	default:
		return "unknown"
	}
}

// StateChangeHandler is invoked when the sequencer state changes.
//
// ch is the channel being ramped or verified, or 0 for idle and aborted.
//
// Note: the handler is invoked synchronously while the state lock is held; it must not call
// back into the StateMgr.
type StateChangeHandler func(prevState State, newState State, ch int)

// StateMgr manages the sequencer state with guarded transitions.
//
// Allowed transitions:
//
//	idle, aborted, verifying → ramping
//	ramping                  → ramping (next channel), verifying, idle
//	verifying                → idle
//	any other state          → aborted
//	aborted                  → idle (after reset)
type StateMgr struct {
	mu       sync.Mutex
	state    atomic.Uint32
	channel  atomic.Int32
	logger   logger.Logger
	handlers []StateChangeHandler
}

// NewStateMgr creates a StateMgr in IdleState.
func NewStateMgr(l logger.Logger, handlers ...StateChangeHandler) *StateMgr {
	if l == nil {
		l = logger.GetLogger()
	}

	sm := &StateMgr{logger: l}
	sm.AddHandler(handlers...)
	sm.state.Store(uint32(IdleState))

	return sm
}

// State returns the current state.
func (sm *StateMgr) State() State {
	return State(sm.state.Load())
}

// Channel returns the channel of the current ramping or verifying state, or 0.
func (sm *StateMgr) Channel() int {
	return int(sm.channel.Load())
}

// AddHandler adds state change handlers.
func (sm *StateMgr) AddHandler(handlers ...StateChangeHandler) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	for _, h := range handlers {
		if h != nil {
			sm.handlers = append(sm.handlers, h)
		}
	}
}

// ToRamping transitions to RampingState for ch.
func (sm *StateMgr) ToRamping(ch int) error {
	return sm.transition(RampingState, ch)
}

// ToVerifying transitions to VerifyingState for ch. It is only allowed while ramping.
func (sm *StateMgr) ToVerifying(ch int) error {
	return sm.transition(VerifyingState, ch)
}

// ToIdle transitions to IdleState. It is a no-op when already idle.
func (sm *StateMgr) ToIdle() error {
	return sm.transition(IdleState, 0)
}

// ToAborted transitions to AbortedState. It is a no-op when already aborted.
func (sm *StateMgr) ToAborted() {
	_ = sm.transition(AbortedState, 0)
}

func (sm *StateMgr) transition(next State, ch int) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	cur := sm.State()
	if cur == next && sm.Channel() == ch {
		return nil
	}

	if !allowed(cur, next) {
		sm.logger.Debug("reject state transition", "cur_state", cur.String(), "new_state", next.String(), "channel", ch)
		return ErrInvalidTransition
	}

	sm.state.Store(uint32(next))
	sm.channel.Store(int32(ch))
	sm.logger.Debug("sequencer state changed", "prev_state", cur.String(), "new_state", next.String(), "channel", ch)

	for _, h := range sm.handlers {
		h(cur, next, ch)
	}

	return nil
}

func allowed(cur, next State) bool {
	switch next {
	case RampingState:
		return true
	case VerifyingState:
		return cur == RampingState
	case IdleState:
		return cur == RampingState || cur == VerifyingState || cur == AbortedState
	case AbortedState:
		return cur != AbortedState
	default:
		return false
	}
}
