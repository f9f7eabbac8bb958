package crier

import "time"

// State is the lifecycle state of the supervised session.
type State int

const (
	StateUninitialized State = iota
	StateAuthenticating
	StateReady
	StateDegraded
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateAuthenticating:
		return "authenticating"
	case StateReady:
		return "ready"
	case StateDegraded:
		return "degraded"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// transitions lists the states reachable from each state.
var transitions = map[State][]State{
	StateUninitialized:  {StateAuthenticating, StateTerminated},
	StateAuthenticating: {StateReady, StateDegraded, StateTerminated},
	StateReady:          {StateDegraded, StateTerminated},
	StateDegraded:       {StateAuthenticating, StateTerminated},
	StateTerminated:     nil,
}

// canTransition reports whether the state machine allows from → to.
func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Status is a read-only snapshot of the supervisor.
type Status struct {
	State          State
	Since          time.Time // when State was entered
	Retries        int       // consecutive failed sessions
	LastFailure    string
	Identity       string // bot identity reported by the last ready event
	RestartPending bool
	AuthRequired   bool // parked until an operator restart
}
