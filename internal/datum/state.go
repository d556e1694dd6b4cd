package datum

import (
	"fmt"

	"github.com/dagflow/engine/internal/errs"
)

// State is a Datum's lifecycle state.
type State int

const (
	Empty State = iota
	Populated
	Available
)

func (s State) String() string {
	switch s {
	case Empty:
		return "EMPTY"
	case Populated:
		return "POPULATED"
	case Available:
		return "AVAILABLE"
	default:
		return "UNKNOWN"
	}
}

// legalTransitions enumerates the five legal non-self Datum transitions.
var legalTransitions = map[State]map[State]bool{
	Empty:     {Populated: true},
	Populated: {Empty: true, Available: true},
	Available: {Populated: true, Empty: true},
}

// checkTransition reports whether from->to is legal. Self-transitions are
// always legal.
func checkTransition(from, to State) error {
	if from == to {
		return nil
	}
	if legalTransitions[from][to] {
		return nil
	}
	return fmt.Errorf("%w: datum %s -> %s", errs.ErrInvalidTransition, from, to)
}
