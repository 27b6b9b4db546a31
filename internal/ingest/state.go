package ingest

import "fmt"

// State is the lifecycle position of an upload session.
type State int

const (
	StateIdle State = iota
	StateReceiving
	StateFinalizing
	StateCompleted
	StateCancelled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReceiving:
		return "receiving"
	case StateFinalizing:
		return "finalizing"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether s frees all session resources.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateCancelled, StateFailed:
		return true
	default:
		return false
	}
}

// canTransition reports whether the session may move from s to next.
// Cancellation is only possible before finalization starts.
func (s State) canTransition(next State) bool {
	switch s {
	case StateIdle:
		return next == StateReceiving || next == StateCancelled || next == StateFailed
	case StateReceiving:
		return next == StateFinalizing || next == StateCancelled || next == StateFailed
	case StateFinalizing:
		return next == StateCompleted || next == StateFailed
	case StateCompleted, StateCancelled, StateFailed:
		return false
	default:
		return false
	}
}
