package task

import (
	"fmt"

	"github.com/dagflow/engine/internal/errs"
)

// State is a Task's lifecycle state.
type State int

const (
	Waiting State = iota
	Running
	Complete
	Failed
)

func (s State) String() string {
	switch s {
	case Waiting:
		return "WAITING"
	case Running:
		return "RUNNING"
	case Complete:
		return "COMPLETE"
	case Failed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// legalTransitions enumerates the seven legal non-self Task transitions.
var legalTransitions = map[State]map[State]bool{
	Waiting:   {Running: true, Complete: true},
	Running:   {Complete: true, Failed: true, Waiting: true},
	Complete:  {Waiting: true},
	Failed:    {Waiting: true},
}

func checkTransition(from, to State) error {
	if from == to {
		return nil
	}
	if legalTransitions[from][to] {
		return nil
	}
	return fmt.Errorf("%w: task %s -> %s", errs.ErrInvalidTransition, from, to)
}
