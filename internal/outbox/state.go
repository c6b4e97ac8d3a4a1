package outbox

import (
	"fmt"
	"slices"
)

// State is the lifecycle state of a single optimistic send.
type State string

const (
	Composed State = "COMPOSED"
	Pending  State = "PENDING"
	Sent     State = "SENT"
	Failed   State = "FAILED"
)

// validTransitions defines allowed state transitions. Sent and Failed are
// terminal; a retry starts a new send.
var validTransitions = map[State][]State{
	Composed: {Pending},
	Pending:  {Sent, Failed},
}

func (s State) transition(to State) (State, error) {
	if !slices.Contains(validTransitions[s], to) {
		return s, fmt.Errorf("invalid send transition from %s to %s", s, to)
	}
	return to, nil
}
