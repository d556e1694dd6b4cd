// Package coordinator implements the Workflow Coordinator: DAG
// validation, initial state assessment, the greedy resource-constrained
// main loop, finished-task wrapup, and global interruption.
package coordinator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dagflow/engine/internal/backend"
	"github.com/dagflow/engine/internal/errs"
	"github.com/dagflow/engine/internal/ids"
	"github.com/dagflow/engine/internal/report"
	"github.com/dagflow/engine/internal/schedule"
	"github.com/dagflow/engine/internal/task"
)

// DefaultLoopInterval is the bounded sleep between empty-finished
// iterations of the main loop.
const DefaultLoopInterval = 100 * time.Millisecond

type bucket int

const (
	bucketWaiting bucket = iota
	bucketReady
	bucketRunning
	bucketComplete
	bucketFailed
)

type runningEntry struct {
	t        *task.Task
	reporter *report.Reporter[task.State]
	handle   *backend.Handle
}

// Coordinator owns the scheduling collections (WAITING/READY/RUNNING/
// COMPLETE/FAILED), the resource budget, and every running task's
// reporter. Construct with New, which performs DAG validation.
type Coordinator struct {
	mu sync.Mutex

	end        *task.Task
	all        map[ids.TaskID]*task.Task
	adjacency  map[ids.TaskID][]*task.Task

	waiting  map[ids.TaskID]*task.Task
	ready    []*task.Task
	running  map[ids.TaskID]*runningEntry
	complete map[ids.TaskID]*task.Task
	failed   map[ids.TaskID]*task.Task

	budget       map[string]float64
	policy       *schedule.Policy
	backend      backend.Backend
	loopInterval time.Duration

	anomalies []error
}

// Option configures a Coordinator at construction.
type Option func(*Coordinator)

// WithLoopInterval overrides the bounded sleep between empty-finished main
// loop iterations.
func WithLoopInterval(d time.Duration) Option {
	return func(c *Coordinator) { c.loopInterval = d }
}

// WithBackend overrides the default goroutine-pool execution backend.
func WithBackend(b backend.Backend) Option {
	return func(c *Coordinator) { c.backend = b }
}

// WithPolicy overrides the default greedy scheduling policy.
func WithPolicy(p *schedule.Policy) Option {
	return func(c *Coordinator) { c.policy = p }
}

// New validates the DAG rooted at end and constructs a Coordinator with
// the given resource budget. Returns ErrCyclicDAG if validation fails.
func New(end *task.Task, budget map[string]float64, opts ...Option) (*Coordinator, error) {
	all, err := validateDAG(end)
	if err != nil {
		return nil, err
	}
	c := &Coordinator{
		end:          end,
		all:          all,
		adjacency:    buildAdjacency(all),
		waiting:      make(map[ids.TaskID]*task.Task),
		running:      make(map[ids.TaskID]*runningEntry),
		complete:     make(map[ids.TaskID]*task.Task),
		failed:       make(map[ids.TaskID]*task.Task),
		budget:       cloneBudget(budget),
		policy:       schedule.NewPolicy(),
		backend:      backend.NewPoolBackend(4),
		loopInterval: DefaultLoopInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func cloneBudget(budget map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(budget))
	for k, v := range budget {
		out[k] = v
	}
	return out
}

// InitializeWorkflowState performs the bottom-up initial state assessment
// described in the component design: a task is WAITING if any dependency
// is WAITING/READY/FAILED; stays FAILED if already FAILED; otherwise, if
// verifyTasks, is promoted to COMPLETE when VerifyComplete succeeds and to
// READY otherwise; without verifyTasks the task's current state flag is
// trusted directly.
func (c *Coordinator) InitializeWorkflowState(verifyTasks bool) {
	memo := make(map[ids.TaskID]bucket)
	c.classify(c.end, verifyTasks, memo)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.waiting = make(map[ids.TaskID]*task.Task)
	c.ready = nil
	c.complete = make(map[ids.TaskID]*task.Task)
	c.failed = make(map[ids.TaskID]*task.Task)
	for id, b := range memo {
		t := c.all[id]
		switch b {
		case bucketWaiting:
			c.waiting[id] = t
		case bucketReady:
			c.ready = append(c.ready, t)
		case bucketComplete:
			c.complete[id] = t
		case bucketFailed:
			c.failed[id] = t
		}
	}
}

func (c *Coordinator) classify(t *task.Task, verifyTasks bool, memo map[ids.TaskID]bucket) bucket {
	if b, ok := memo[t.ID()]; ok {
		return b
	}
	deps := t.Dependencies()
	depsBlocking := false
	for _, dep := range deps {
		switch c.classify(dep, verifyTasks, memo) {
		case bucketWaiting, bucketReady, bucketFailed:
			depsBlocking = true
		}
	}

	var result bucket
	switch {
	case depsBlocking:
		if t.State() != task.Waiting {
			_ = t.MarkWaiting()
		}
		result = bucketWaiting
	case t.State() == task.Failed:
		result = bucketFailed
	case verifyTasks:
		if t.VerifyComplete() {
			if t.State() != task.Complete {
				_ = t.MarkComplete()
			}
			result = bucketComplete
		} else {
			if t.State() == task.Complete {
				_ = t.MarkWaiting()
			}
			result = bucketReady
		}
	default:
		switch t.State() {
		case task.Complete:
			result = bucketComplete
		case task.Running:
			result = bucketRunning
		default:
			result = bucketReady
		}
	}
	memo[t.ID()] = result
	return result
}

// Snapshot reports the size of each of the five collections, for tests and
// observability.
type Snapshot struct {
	Waiting, Ready, Running, Complete, Failed int
}

// Snapshot returns the current partition sizes.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		Waiting:  len(c.waiting),
		Ready:    len(c.ready),
		Running:  len(c.running),
		Complete: len(c.complete),
		Failed:   len(c.failed),
	}
}

// Failed returns the tasks currently in the FAILED collection.
func (c *Coordinator) Failed() []*task.Task {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*task.Task, 0, len(c.failed))
	for _, t := range c.failed {
		out = append(out, t)
	}
	return out
}

// Run executes the main loop: initial assessment, then repeatedly poll
// running tasks, wrap up finished ones, promote their ready children, and
// launch a budget-fitting subset of READY, until nothing is RUNNING and
// READY is exhausted. If haltOnFailure is set, the first task failure
// triggers Interrupt. Task failures alone never abort the loop.
func (c *Coordinator) Run(ctx context.Context, haltOnFailure bool) error {
	c.InitializeWorkflowState(true)
	c.launchReady()

	for {
		c.mu.Lock()
		runningCount := len(c.running)
		readyCount := len(c.ready)
		c.mu.Unlock()
		if runningCount == 0 && readyCount == 0 {
			break
		}

		select {
		case <-ctx.Done():
			return c.Interrupt()
		default:
		}

		finished := c.pollFinished()
		if len(finished) == 0 {
			time.Sleep(c.loopInterval)
			continue
		}

		anyFailure := c.wrapup(finished)
		c.promoteChildren(finished)
		c.launchReady()

		if anyFailure && haltOnFailure {
			return c.Interrupt()
		}
	}

	c.mu.Lock()
	anomalies := c.anomalies
	c.mu.Unlock()
	if len(anomalies) > 0 {
		return anomalies[0]
	}
	return nil
}

func (c *Coordinator) launchReady() {
	c.mu.Lock()
	readyCopy := make([]*task.Task, len(c.ready))
	copy(readyCopy, c.ready)
	selected := c.policy.Select(readyCopy, c.budget)
	c.mu.Unlock()
	if len(selected) == 0 {
		return
	}
	c.launch(selected)
}

func (c *Coordinator) launch(selected []*task.Task) {
	for _, t := range selected {
		reporter := t.AttachReporter()
		tt := t
		handle := c.backend.Submit(func(ctx context.Context) {
			if err := tt.Run(ctx); err != nil {
				slog.Debug("task run returned", "task", tt.ID(), "error", err)
			}
		})
		c.mu.Lock()
		c.running[t.ID()] = &runningEntry{t: t, reporter: reporter, handle: handle}
		c.removeFromReadyLocked(t.ID())
		c.mu.Unlock()
	}
}

func (c *Coordinator) removeFromReadyLocked(id ids.TaskID) {
	out := c.ready[:0]
	for _, t := range c.ready {
		if t.ID() != id {
			out = append(out, t)
		}
	}
	c.ready = out
}

func (c *Coordinator) pollFinished() []*runningEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*runningEntry
	for _, e := range c.running {
		switch e.reporter.Current() {
		case task.Complete, task.Failed:
			out = append(out, e)
		}
	}
	return out
}

// wrapup reads each finished task's final reported state, mirrors it onto
// the coordinator's collections, restores resources, and detaches the
// reporter. Reports true if any task newly failed.
func (c *Coordinator) wrapup(finished []*runningEntry) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	anyFailure := false
	for _, e := range finished {
		switch e.reporter.Current() {
		case task.Complete:
			c.complete[e.t.ID()] = e.t
		case task.Failed:
			c.failed[e.t.ID()] = e.t
			anyFailure = true
		default:
			_ = e.t.MarkWaiting()
			c.waiting[e.t.ID()] = e.t
			c.anomalies = append(c.anomalies, unexpectedStateErr(e.t.ID()))
		}
		delete(c.running, e.t.ID())
		e.t.DetachReporter()
		schedule.Increment(c.budget, e.t.Resources())
	}
	return anyFailure
}

// promoteChildren moves WAITING children of newly finished tasks to READY
// once every one of their dependencies is COMPLETE.
func (c *Coordinator) promoteChildren(finished []*runningEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	seen := make(map[ids.TaskID]bool)
	for _, e := range finished {
		for _, child := range c.adjacency[e.t.ID()] {
			if seen[child.ID()] {
				continue
			}
			seen[child.ID()] = true
			if _, stillWaiting := c.waiting[child.ID()]; !stillWaiting {
				continue
			}
			if child.IsReady() {
				delete(c.waiting, child.ID())
				c.ready = append(c.ready, child)
			}
		}
	}
}

// Interrupt tears down all outstanding submissions (forcefully cancelling
// the backend's shared context; Go cannot truly force-kill a goroutine, so
// task bodies are expected to observe cancellation at I/O boundaries), and
// moves every still-RUNNING task back to WAITING with its resources
// restored and reporter detached.
func (c *Coordinator) Interrupt() error {
	c.mu.Lock()
	running := make([]*runningEntry, 0, len(c.running))
	for _, e := range c.running {
		running = append(running, e)
	}
	c.mu.Unlock()

	c.backend.Shutdown(false, true)

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range running {
		_ = e.t.Interrupt()
		schedule.Increment(c.budget, e.t.Resources())
		e.t.DetachReporter()
		delete(c.running, e.t.ID())
		c.waiting[e.t.ID()] = e.t
	}
	return errs.ErrInterrupted
}

func unexpectedStateErr(id ids.TaskID) error {
	return &unexpectedStateError{id: id}
}

type unexpectedStateError struct {
	id ids.TaskID
}

func (e *unexpectedStateError) Error() string {
	return "coordinator: task " + string(e.id) + ": reporter held neither COMPLETE nor FAILED"
}

func (e *unexpectedStateError) Unwrap() error {
	return errs.ErrUnexpectedState
}
