package agent

import "fmt"

// State is a step of one contract analysis.
type State int

const (
	StatePending State = iota
	StateRetrieving
	StatePrompting
	StateValidating
	StateRetryPrompting
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "PENDING"
	case StateRetrieving:
		return "RETRIEVING"
	case StatePrompting:
		return "PROMPTING"
	case StateValidating:
		return "VALIDATING"
	case StateRetryPrompting:
		return "RETRY_PROMPTING"
	case StateDone:
		return "DONE"
	case StateFailed:
		return "FAILED"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

var transitions = map[State][]State{
	StatePending:        {StateRetrieving, StateFailed},
	StateRetrieving:     {StatePrompting, StateFailed},
	StatePrompting:      {StateValidating, StateFailed},
	StateValidating:     {StateDone, StateRetryPrompting, StateFailed},
	StateRetryPrompting: {StateValidating, StateFailed},
}

// CanTransition reports whether the table allows moving from one state to another.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// run tracks the state of a single Analyze call. The retry prompt may be
// entered at most once.
type run struct {
	state   State
	retried bool
	history []State
}

func newRun() *run {
	return &run{
		state:   StatePending,
		history: []State{StatePending},
	}
}

func (r *run) to(next State) error {
	if !CanTransition(r.state, next) {
		return fmt.Errorf("illegal analysis transition %s -> %s", r.state, next)
	}
	if next == StateRetryPrompting {
		if r.retried {
			return fmt.Errorf("illegal analysis transition %s -> %s: retry already used", r.state, next)
		}
		r.retried = true
	}
	r.state = next
	r.history = append(r.history, next)
	return nil
}
