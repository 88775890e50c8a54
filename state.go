package corort

import "sync/atomic"

// LoopState is the lifecycle state of a Loop.
type LoopState uint32

const (
	// StateAwake is the initial state: constructed, not yet running.
	StateAwake LoopState = iota
	// StateRunning indicates the loop is on its owning goroutine processing
	// a tick.
	StateRunning
	// StateSleeping indicates the loop is blocked in the poller waiting for
	// the next readiness, timer or user event.
	StateSleeping
	// StateTerminating indicates Shutdown has been requested; the loop is
	// draining and rejecting pending events but has not yet exited Run.
	StateTerminating
	// StateTerminated is the terminal state: Run has returned and all
	// tables have been rejected and closed.
	StateTerminated
)

func (s LoopState) String() string {
	switch s {
	case StateAwake:
		return "Awake"
	case StateRunning:
		return "Running"
	case StateSleeping:
		return "Sleeping"
	case StateTerminating:
		return "Terminating"
	case StateTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// runState is an atomic CAS state machine guarding a Loop's lifecycle.
// Transitions between Running and Sleeping happen on every tick so they
// use a plain CAS; the transition into Terminating/Terminated is driven
// from Shutdown and may race with the loop's own goroutine, so it also
// goes through CAS rather than a lock.
type runState struct {
	v atomic.Uint32
}

func newRunState() *runState {
	s := &runState{}
	s.v.Store(uint32(StateAwake))
	return s
}

func (s *runState) Load() LoopState {
	return LoopState(s.v.Load())
}

func (s *runState) Store(state LoopState) {
	s.v.Store(uint32(state))
}

func (s *runState) TryTransition(from, to LoopState) bool {
	return s.v.CompareAndSwap(uint32(from), uint32(to))
}

// TransitionAny moves to `to` from whichever of validFrom currently holds,
// used when the caller doesn't know (and doesn't care) whether the loop is
// Running or Sleeping, only that it isn't already terminal.
func (s *runState) TransitionAny(validFrom []LoopState, to LoopState) bool {
	for _, from := range validFrom {
		if s.v.CompareAndSwap(uint32(from), uint32(to)) {
			return true
		}
	}
	return false
}

func (s *runState) IsTerminal() bool {
	return s.Load() == StateTerminated
}

// CanAcceptWork reports whether Submit should be allowed to enqueue
// against this loop.
func (s *runState) CanAcceptWork() bool {
	switch s.Load() {
	case StateAwake, StateRunning, StateSleeping:
		return true
	default:
		return false
	}
}
