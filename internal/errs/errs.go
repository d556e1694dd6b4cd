// Package errs defines the sentinel error kinds shared by the datum, task,
// and coordinator packages, dispatched with errors.Is/errors.As rather than
// custom error interfaces.
package errs

import "errors"

var (
	// ErrCyclicDAG is raised from the coordinator constructor when DAG
	// validation finds a cycle. Fatal.
	ErrCyclicDAG = errors.New("workflow: cyclic dependency graph")

	// ErrInvalidTransition is raised when a state assignment violates a
	// Datum's or Task's transition table. Fatal; indicates a programmer
	// error in the calling code.
	ErrInvalidTransition = errors.New("workflow: invalid state transition")

	// ErrInvalidFormat is raised when a Datum pointer fails format
	// validation on populate.
	ErrInvalidFormat = errors.New("workflow: invalid datum pointer format")

	// ErrNoConverter is raised on a converter registry lookup miss.
	ErrNoConverter = errors.New("workflow: no registered converter")

	// ErrNotReady is raised when run() is called on a task whose
	// dependencies are not all COMPLETE.
	ErrNotReady = errors.New("workflow: task is not ready")

	// ErrMissingOutput is raised when a task body returns successfully but
	// an output Datum did not reach AVAILABLE.
	ErrMissingOutput = errors.New("workflow: task output did not become available")

	// ErrTaskBody wraps any error returned from a task's run logic.
	ErrTaskBody = errors.New("workflow: task body error")

	// ErrInterrupted signals caller-initiated cancellation.
	ErrInterrupted = errors.New("workflow: interrupted")

	// ErrUnexpectedState is raised when a finished task's reporter holds
	// neither COMPLETE nor FAILED.
	ErrUnexpectedState = errors.New("workflow: unexpected reporter state")
)
