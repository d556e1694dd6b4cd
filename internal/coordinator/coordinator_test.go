package coordinator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dagflow/engine/internal/backend"
	"github.com/dagflow/engine/internal/convert"
	"github.com/dagflow/engine/internal/datum"
	"github.com/dagflow/engine/internal/errs"
	"github.com/dagflow/engine/internal/ids"
	"github.com/dagflow/engine/internal/task"
)

// incVariant is a minimal in-process task body: reads int input "x",
// writes "x"+1. Used across scenario tests in place of a real task kind.
type incVariant struct {
	output *datum.Datum
	delay  time.Duration
	fail   bool
}

func (v *incVariant) Quickhash() uint64 { return 1 }

func (v *incVariant) RunLogic(ctx context.Context, inputs map[string]any) error {
	if v.delay > 0 {
		select {
		case <-time.After(v.delay):
		case <-ctx.Done():
			return errs.ErrInterrupted
		}
	}
	if v.fail {
		return errors.New("synthetic failure")
	}
	x := inputs["x"].(int)
	return v.output.Populate(x + 1)
}

func (v *incVariant) InterruptCleanup() error { return v.output.Clear() }
func (v *incVariant) FailCleanup() error      { return v.output.Clear() }
func (v *incVariant) InputForm() convert.InputForm { return convert.Object }

func newChainTask(id ids.TaskID, input datum.Handle, dep *task.Task, resources map[string]float64) (*task.Task, *datum.Datum) {
	out := datum.NewMemoryDatum(id)
	v := &incVariant{output: out}
	var deps []*task.Task
	if dep != nil {
		deps = append(deps, dep)
	}
	return task.New(id, v, map[string]datum.Handle{"x": input}, map[string]datum.Handle{"x": out}, deps, resources, convert.Default), out
}

func seedInt(x int) *datum.Datum {
	d := datum.NewMemoryDatum()
	_ = d.Populate(x)
	d.VerifyAvailable(true)
	return d
}

func TestLinearChainColdRun(t *testing.T) {
	seed := seedInt(0)
	var tasks []*task.Task
	var prev *task.Task
	var input datum.Handle = seed
	var last *datum.Datum
	for i := 0; i < 10; i++ {
		id := ids.TaskID("t" + string(rune('0'+i)))
		tk, out := newChainTask(id, input, prev, nil)
		tasks = append(tasks, tk)
		prev = tk
		input = out
		last = out
	}

	c, err := New(tasks[len(tasks)-1], nil, WithBackend(backend.InlineBackend{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Run(context.Background(), false); err != nil {
		t.Fatalf("Run: %v", err)
	}
	for i, tk := range tasks {
		if tk.State() != task.Complete {
			t.Fatalf("task %d state = %s, want COMPLETE", i, tk.State())
		}
	}
	if last.Pointer().(int) != 10 {
		t.Fatalf("final output = %v, want 10", last.Pointer())
	}
}

// Task dependencies are fixed *Task pointers assigned at construction, so
// the public API can only ever build a DAG already shaped like one (a task
// cannot depend on a *Task that does not exist yet). This confirms
// validateDAG accepts that shape and reports every reachable task; its
// onStack-based cycle detection in dag.go mirrors the same ancestor-stack
// walk the teacher's plan validator uses, just over *task.Task instead of
// a stage name.
func TestValidateDAGAcceptsAcyclicChain(t *testing.T) {
	seed := seedInt(0)
	t0, out0 := newChainTask("t0", seed, nil, nil)
	t1, _ := newChainTask("t1", out0, t0, nil)

	all, err := validateDAG(t1)
	if err != nil {
		t.Fatalf("expected acyclic validation to succeed, got %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 reachable tasks, got %d", len(all))
	}
}

func TestResourceThrottling(t *testing.T) {
	seed := seedInt(0)
	var tasks []*task.Task
	for i := 0; i < 10; i++ {
		id := ids.TaskID("job" + string(rune('0'+i)))
		tk, _ := newChainTask(id, seed, nil, map[string]float64{"cpu": 4})
		tasks = append(tasks, tk)
	}
	end, _ := newChainTaskJoinable(tasks)

	c, err := New(end, map[string]float64{"cpu": 10}, WithLoopInterval(5*time.Millisecond))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Run(context.Background(), false); err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, tk := range tasks {
		if tk.State() != task.Complete {
			t.Fatalf("task %s not complete: %s", tk.ID(), tk.State())
		}
	}
}

// newChainTaskJoinable wires an end task depending on every task in deps, so
// the coordinator has a single root to validate and run from. Its body just
// populates its own output once every dependency has completed.
func newChainTaskJoinable(deps []*task.Task) (*task.Task, *datum.Datum) {
	out := datum.NewMemoryDatum("end")
	v := &joinVariant{output: out}
	return task.New("end", v, map[string]datum.Handle{}, map[string]datum.Handle{"x": out}, deps, nil, convert.Default), out
}

type joinVariant struct {
	output *datum.Datum
}

func (v *joinVariant) Quickhash() uint64 { return 1 }
func (v *joinVariant) RunLogic(ctx context.Context, inputs map[string]any) error {
	return v.output.Populate(true)
}
func (v *joinVariant) InterruptCleanup() error      { return v.output.Clear() }
func (v *joinVariant) FailCleanup() error           { return v.output.Clear() }
func (v *joinVariant) InputForm() convert.InputForm { return convert.Object }

func TestFailureContainment(t *testing.T) {
	seed := seedInt(0)
	t0, out0 := newChainTask("t0", seed, nil, nil)

	out1 := datum.NewMemoryDatum("t1")
	v1 := &incVariant{output: out1, fail: true}
	t1 := task.New("t1", v1, map[string]datum.Handle{"x": out0}, map[string]datum.Handle{"x": out1}, []*task.Task{t0}, nil, convert.Default)

	t2, _ := newChainTask("t2", out0, t0, nil)

	out3 := datum.NewMemoryDatum("t3")
	v3 := &incVariant{output: out3}
	t3 := task.New("t3", v3, map[string]datum.Handle{"x": out1}, map[string]datum.Handle{"x": out3}, []*task.Task{t1, t2}, nil, convert.Default)

	c, err := New(t3, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Run(context.Background(), false); err != nil {
		t.Fatalf("Run returned error (should complete normally despite a task failure): %v", err)
	}
	if t0.State() != task.Complete {
		t.Fatalf("t0 = %s, want COMPLETE", t0.State())
	}
	if t2.State() != task.Complete {
		t.Fatalf("t2 = %s, want COMPLETE", t2.State())
	}
	if t1.State() != task.Failed {
		t.Fatalf("t1 = %s, want FAILED", t1.State())
	}
	if t3.State() != task.Waiting {
		t.Fatalf("t3 = %s, want WAITING (never launched)", t3.State())
	}
}

func TestInterruptRestoresWaitingAndResources(t *testing.T) {
	seed := seedInt(0)
	out := datum.NewMemoryDatum("longjob")
	v := &incVariant{output: out, delay: 2 * time.Second}
	long := task.New("longjob", v, map[string]datum.Handle{"x": seed}, map[string]datum.Handle{"x": out}, nil, map[string]float64{"cpu": 1}, convert.Default)

	c, err := New(long, map[string]float64{"cpu": 1}, WithLoopInterval(5*time.Millisecond))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	runErr := c.Run(ctx, false)
	if !errors.Is(runErr, errs.ErrInterrupted) {
		t.Fatalf("expected ErrInterrupted, got %v", runErr)
	}
	if long.State() != task.Waiting {
		t.Fatalf("long.State() = %s, want WAITING after interrupt", long.State())
	}
	snap := c.Snapshot()
	if snap.Running != 0 {
		t.Fatalf("expected 0 running after interrupt, got %d", snap.Running)
	}
	if c.budget["cpu"] != 1 {
		t.Fatalf("cpu budget after interrupt = %v, want 1 (restored)", c.budget["cpu"])
	}
}

func TestDiamondWarmSkipOnFilesystem(t *testing.T) {
	dir := t.TempDir()

	out0 := datum.NewFileDatum("t0")
	_ = out0.Populate(filepath.Join(dir, "t0.out"))
	v0 := &fileWriteVariant{path: out0.Pointer().(string), content: "0"}
	t0 := task.New("t0", v0, map[string]datum.Handle{}, map[string]datum.Handle{"x": out0}, nil, nil, convert.Default)

	out1 := datum.NewFileDatum("t1")
	_ = out1.Populate(filepath.Join(dir, "t1.out"))
	v1 := &fileWriteVariant{path: out1.Pointer().(string), content: "1"}
	t1 := task.New("t1", v1, map[string]datum.Handle{"x": out0}, map[string]datum.Handle{"x": out1}, []*task.Task{t0}, nil, convert.Default)

	out2 := datum.NewFileDatum("t2")
	_ = out2.Populate(filepath.Join(dir, "t2.out"))
	v2 := &fileWriteVariant{path: out2.Pointer().(string), content: "2"}
	t2 := task.New("t2", v2, map[string]datum.Handle{"x": out0}, map[string]datum.Handle{"x": out2}, []*task.Task{t0}, nil, convert.Default)

	out3 := datum.NewFileDatum("t3")
	_ = out3.Populate(filepath.Join(dir, "t3.out"))
	v3 := &fileWriteVariant{path: out3.Pointer().(string), content: "3"}
	t3 := task.New("t3", v3, map[string]datum.Handle{"x": out1}, map[string]datum.Handle{"x": out3}, []*task.Task{t1, t2}, nil, convert.Default)

	c, err := New(t3, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Run(context.Background(), false); err != nil {
		t.Fatalf("first run: %v", err)
	}
	for _, tk := range []*task.Task{t0, t1, t2, t3} {
		if tk.State() != task.Complete {
			t.Fatalf("task %s not complete after first run: %s", tk.ID(), tk.State())
		}
	}

	if err := out2.Clear(); err != nil {
		t.Fatalf("clear t2 output: %v", err)
	}
	if err := out3.Clear(); err != nil {
		t.Fatalf("clear t3 output: %v", err)
	}

	c2, err := New(t3, nil)
	if err != nil {
		t.Fatalf("New (rerun): %v", err)
	}
	if err := c2.Run(context.Background(), false); err != nil {
		t.Fatalf("second run: %v", err)
	}
	for _, tk := range []*task.Task{t0, t1, t2, t3} {
		if tk.State() != task.Complete {
			t.Fatalf("task %s not complete after rerun: %s", tk.ID(), tk.State())
		}
	}
}

type fileWriteVariant struct {
	path    string
	content string
}

func (v *fileWriteVariant) Quickhash() uint64 { return 2 }
func (v *fileWriteVariant) RunLogic(ctx context.Context, inputs map[string]any) error {
	return os.WriteFile(v.path, []byte(v.content), 0o644)
}
func (v *fileWriteVariant) InterruptCleanup() error     { return nil }
func (v *fileWriteVariant) FailCleanup() error           { return nil }
func (v *fileWriteVariant) InputForm() convert.InputForm { return convert.Filepath }
