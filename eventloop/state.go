package eventloop

import (
	"sync/atomic"
)

// LoopState is the lifecycle state of a Loop, as reported by Loop.State.
//
// A loop starts Awake. Run moves it to Running, and back to Awake on
// return. While Running, it is Sleeping for the duration of each blocking
// poll. Close moves an Awake loop to Terminated, which is final.
type LoopState uint32

const (
	// StateAwake means the loop is idle, and may be run or closed.
	StateAwake LoopState = iota
	// StateTerminated means Close has been called.
	StateTerminated
	// StateSleeping means Run is blocked, waiting on timers or a wake-up.
	StateSleeping
	// StateRunning means Run is dispatching callbacks.
	StateRunning
)

// String returns a human-readable representation of the state.
func (s LoopState) String() string {
	switch s {
	case StateAwake:
		return "Awake"
	case StateRunning:
		return "Running"
	case StateSleeping:
		return "Sleeping"
	case StateTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// loopState holds a LoopState. It is read from any goroutine (e.g. by
// Async.Send), but only the goroutine calling Run or Close changes it.
type loopState struct {
	v atomic.Uint32
}

func (s *loopState) load() LoopState {
	return LoopState(s.v.Load())
}

// transition moves from one state to another, failing if the current state
// is not from.
func (s *loopState) transition(from, to LoopState) bool {
	return s.v.CompareAndSwap(uint32(from), uint32(to))
}

func (s *loopState) terminated() bool {
	return s.load() == StateTerminated
}

// running reports whether Run is in progress, dispatching or sleeping.
func (s *loopState) running() bool {
	switch s.load() {
	case StateRunning, StateSleeping:
		return true
	}
	return false
}
