// Package task implements the Task lifecycle: WAITING/RUNNING/COMPLETE/
// FAILED, with Run/Interrupt/Fail and a recursive Sync that reconciles a
// task's state against its dependencies, inputs, and outputs.
package task

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dagflow/engine/internal/convert"
	"github.com/dagflow/engine/internal/datum"
	"github.com/dagflow/engine/internal/errs"
	"github.com/dagflow/engine/internal/fingerprint"
	"github.com/dagflow/engine/internal/ids"
	"github.com/dagflow/engine/internal/report"
)

// Variant is the contract a concrete task kind (HTTPTask, ShellTask,
// FunctionTask, PolicyTask, ...) must satisfy.
type Variant interface {
	// Quickhash satisfies the identification + modification laws: it
	// changes whenever the task's body or configuration changes in a way
	// that invalidates prior outputs.
	Quickhash() uint64
	// RunLogic is the task body. It must populate every output Datum
	// passed to New. ctx is cancelled on interruption;
	// long-running bodies should observe it at I/O boundaries.
	RunLogic(ctx context.Context, inputs map[string]any) error
	// InterruptCleanup and FailCleanup are idempotent teardown hooks,
	// usually clearing output Datums so a retry starts clean.
	InterruptCleanup() error
	FailCleanup() error
	// InputForm declares how this variant's inputs should be
	// materialized, unless it also implements InputCollector.
	InputForm() convert.InputForm
}

// InputCollector lets a task variant override the default elementwise
// converter-registry dispatch in collectInputs.
type InputCollector interface {
	CollectInputs(inputs map[string]datum.Handle, registry *convert.Registry) (map[string]any, error)
}

// Task is a unit of computational work: an identifier, named inputs and
// outputs wired to Datums, a dependency set, resource demand, a fingerprint,
// and the WAITING/RUNNING/COMPLETE/FAILED state machine.
type Task struct {
	mu sync.Mutex

	id           ids.TaskID
	variant      Variant
	inputs       map[string]datum.Handle
	outputs      map[string]datum.Handle
	dependencies []*Task
	resources    map[string]float64
	registry     *convert.Registry

	state     State
	quickhash uint64
	reporter  *report.Reporter[State]
}

// New constructs a WAITING Task. outputs must already have their Datum
// parents set to id by the caller (typically the variant's output-schema
// constructor). dependencies is the union of explicit dependencies and the
// producing tasks of every input Datum; the caller is responsible for
// resolving input parents into that union before calling New, since Task
// deliberately does not reach across an ids.TaskID to find the owning
// *Task (that lookup belongs to the coordinator's workflow-scoped arena).
func New(id ids.TaskID, variant Variant, inputs, outputs map[string]datum.Handle, dependencies []*Task, resources map[string]float64, registry *convert.Registry) *Task {
	if registry == nil {
		registry = convert.Default
	}
	t := &Task{
		id:           id,
		variant:      variant,
		inputs:       inputs,
		outputs:      outputs,
		dependencies: dependencies,
		resources:    resources,
		registry:     registry,
		state:        Waiting,
	}
	t.quickhash = t.computeQuickhashLocked()
	t.reporter = report.New(Waiting)
	return t
}

// ID returns the task's identifier.
func (t *Task) ID() ids.TaskID { return t.id }

// Dependencies returns the task's dependency set.
func (t *Task) Dependencies() []*Task {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Task, len(t.dependencies))
	copy(out, t.dependencies)
	return out
}

// Outputs returns the task's output Datums, keyed by name.
func (t *Task) Outputs() map[string]datum.Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]datum.Handle, len(t.outputs))
	for k, v := range t.outputs {
		out[k] = v
	}
	return out
}

// Resources returns the task's resource demand.
func (t *Task) Resources() map[string]float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]float64, len(t.resources))
	for k, v := range t.resources {
		out[k] = v
	}
	return out
}

// State returns the current lifecycle state.
func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Quickhash returns the task's current fingerprint.
func (t *Task) Quickhash() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.quickhash
}

// Reporter returns the task's State Reporter. The coordinator installs a
// fresh one on each launch via AttachReporter; until then a no-op reporter
// (never polled) is installed, matching inline execution.
func (t *Task) Reporter() *report.Reporter[State] {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reporter
}

// AttachReporter installs a new reporter before dispatch to an execution
// backend, so the executing context's writes are visible to the
// coordinator's polls without either side touching Task internals.
func (t *Task) AttachReporter() *report.Reporter[State] {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reporter = report.New(t.state)
	return t.reporter
}

// DetachReporter reverts to a fresh no-op reporter after wrapup.
func (t *Task) DetachReporter() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reporter = report.New(t.state)
}

func (t *Task) computeQuickhashLocked() uint64 {
	return fingerprint.Combine(fingerprint.String(string(t.id)), t.variant.Quickhash())
}

// IsReady reports whether every dependency has reached COMPLETE.
func (t *Task) IsReady() bool {
	t.mu.Lock()
	deps := make([]*Task, len(t.dependencies))
	copy(deps, t.dependencies)
	t.mu.Unlock()
	for _, dep := range deps {
		if dep.State() != Complete {
			return false
		}
	}
	return true
}

func (t *Task) report(s State) {
	t.mu.Lock()
	r := t.reporter
	t.mu.Unlock()
	r.Report(s)
}

func (t *Task) transition(to State) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := checkTransition(t.state, to); err != nil {
		return err
	}
	t.state = to
	return nil
}

// Run executes the task body: transitions WAITING->RUNNING, collects
// inputs via the converter registry (or the variant's own CollectInputs),
// invokes RunLogic, verifies every output reaches AVAILABLE, and
// transitions to COMPLETE. An input-collection error, a TaskBodyError or a
// missing output demotes to FAILED and runs FailCleanup; observing ctx
// cancellation demotes to WAITING and runs InterruptCleanup.
func (t *Task) Run(ctx context.Context) error {
	if !t.IsReady() {
		return fmt.Errorf("%w: task %s", errs.ErrNotReady, t.id)
	}
	if err := t.transition(Running); err != nil {
		return err
	}
	t.report(Running)

	inputs, err := t.collectInputs()
	if err != nil {
		return t.doFail(err)
	}

	if runErr := t.variant.RunLogic(ctx, inputs); runErr != nil {
		if errors.Is(ctx.Err(), context.Canceled) || errors.Is(runErr, errs.ErrInterrupted) {
			return t.doInterrupt()
		}
		return t.doFail(fmt.Errorf("%w: %w", errs.ErrTaskBody, runErr))
	}

	for name, h := range t.outputs {
		if !h.VerifyAvailable(true) {
			return t.doFail(fmt.Errorf("%w: output %q of task %s", errs.ErrMissingOutput, name, t.id))
		}
	}

	t.mu.Lock()
	if err := checkTransition(t.state, Complete); err != nil {
		t.mu.Unlock()
		return err
	}
	t.state = Complete
	t.quickhash = t.computeQuickhashLocked()
	t.mu.Unlock()
	t.report(Complete)
	return nil
}

func (t *Task) collectInputs() (map[string]any, error) {
	if ic, ok := t.variant.(InputCollector); ok {
		return ic.CollectInputs(t.inputs, t.registry)
	}
	form := t.variant.InputForm()
	out := make(map[string]any, len(t.inputs))
	for name, h := range t.inputs {
		switch v := h.(type) {
		case *datum.Datum:
			val, err := t.registry.Convert(form, v)
			if err != nil {
				return nil, err
			}
			out[name] = val
		case *datum.DatumList:
			elems := v.Elems()
			vals := make([]any, len(elems))
			for i, e := range elems {
				val, err := t.registry.Convert(form, e)
				if err != nil {
					return nil, err
				}
				vals[i] = val
			}
			out[name] = vals
		default:
			return nil, fmt.Errorf("task: input %q has unsupported handle type %T", name, h)
		}
	}
	return out, nil
}

// Interrupt transitions a RUNNING task back to WAITING and runs
// InterruptCleanup. Called by the coordinator on forceful teardown, since
// the execution backend cannot cooperatively stop a task body mid-flight.
func (t *Task) Interrupt() error {
	return t.doInterrupt()
}

func (t *Task) doInterrupt() error {
	if err := t.transition(Waiting); err != nil {
		return err
	}
	cleanupErr := t.variant.InterruptCleanup()
	t.report(Waiting)
	if cleanupErr != nil {
		return fmt.Errorf("task %s: interrupt cleanup: %w", t.id, cleanupErr)
	}
	return errs.ErrInterrupted
}

// Fail transitions the task to FAILED and runs FailCleanup, re-raising
// cause after cleanup completes.
func (t *Task) Fail(cause error) error {
	return t.doFail(cause)
}

func (t *Task) doFail(cause error) error {
	if err := t.transition(Failed); err != nil {
		return err
	}
	cleanupErr := t.variant.FailCleanup()
	t.report(Failed)
	if cleanupErr != nil {
		return fmt.Errorf("task %s: fail cleanup: %w (original: %w)", t.id, cleanupErr, cause)
	}
	return cause
}

// Sync recursively reconciles dependencies (each visited at most once via
// visited), then syncs this task's inputs and outputs, recomputes its
// quickhash, and reclassifies: COMPLETE iff it was not FAILED, every
// dependency is COMPLETE, every input is AVAILABLE, every output is
// AVAILABLE, and the quickhash is unchanged; FAILED stays FAILED;
// otherwise WAITING.
func (t *Task) Sync(recursive bool, visited map[ids.TaskID]bool) {
	if visited == nil {
		visited = make(map[ids.TaskID]bool)
	}
	if visited[t.id] {
		return
	}
	visited[t.id] = true

	t.mu.Lock()
	deps := make([]*Task, len(t.dependencies))
	copy(deps, t.dependencies)
	t.mu.Unlock()

	if recursive {
		for _, dep := range deps {
			dep.Sync(true, visited)
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for _, h := range t.inputs {
		h.Sync()
	}
	for _, h := range t.outputs {
		h.Sync()
	}

	prevHash := t.quickhash
	newHash := t.computeQuickhashLocked()

	if t.state == Failed {
		t.quickhash = newHash
		return
	}

	allDepsComplete := true
	for _, dep := range deps {
		if dep.State() != Complete {
			allDepsComplete = false
			break
		}
	}
	allInputsAvailable := true
	for _, h := range t.inputs {
		if h.State() != datum.Available {
			allInputsAvailable = false
			break
		}
	}
	allOutputsAvailable := true
	for _, h := range t.outputs {
		if h.State() != datum.Available {
			allOutputsAvailable = false
			break
		}
	}

	if allDepsComplete && allInputsAvailable && allOutputsAvailable && newHash == prevHash {
		t.state = Complete
	} else {
		t.state = Waiting
	}
	t.quickhash = newHash
}

// MarkComplete forces a transition to COMPLETE without running the task.
// Used by the coordinator's initial state assessment to promote a task
// whose outputs are already verified AVAILABLE from a prior run.
func (t *Task) MarkComplete() error {
	return t.transition(Complete)
}

// MarkWaiting forces a transition back to WAITING. Used by the
// coordinator's initial state assessment (verification failed) and by
// wrapup when a reporter holds neither COMPLETE nor FAILED.
func (t *Task) MarkWaiting() error {
	return t.transition(Waiting)
}

// VerifyComplete reports whether the task may be trusted as COMPLETE
// without running it: all dependencies COMPLETE, this task's own
// quickhash unchanged, every input fingerprint unchanged, and every output
// AVAILABLE. Used by the coordinator's initial state assessment.
func (t *Task) VerifyComplete() bool {
	t.mu.Lock()
	deps := make([]*Task, len(t.dependencies))
	copy(deps, t.dependencies)
	t.mu.Unlock()

	for _, dep := range deps {
		if dep.State() != Complete {
			return false
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.computeQuickhashLocked() != t.quickhash {
		return false
	}
	for _, h := range t.inputs {
		if !h.VerifyAvailable(false) || !h.VerifyQuickhash(false) {
			return false
		}
	}
	for _, h := range t.outputs {
		if !h.VerifyAvailable(false) {
			return false
		}
	}
	return true
}
