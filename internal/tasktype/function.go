package tasktype

import (
	"context"
	"fmt"

	"github.com/dagflow/engine/internal/convert"
	"github.com/dagflow/engine/internal/datum"
	"github.com/dagflow/engine/internal/fingerprint"
)

// Func is an in-process task body: given the converted inputs, produce the
// named outputs to populate.
type Func func(ctx context.Context, inputs map[string]any) (map[string]any, error)

// FunctionTask wraps an in-process closure. Unlike a dynamic language, Go
// cannot hash a closure's source at runtime, so the identification +
// modification laws that quickhash must satisfy are carried by an explicit
// Version string the caller bumps whenever the closure's behavior changes;
// Quickhash folds Name and Version together.
type FunctionTask struct {
	Name    string
	Version string
	Fn      Func
	Output  *datum.Datum
	Cache   *ResultCache
}

// NewFunctionTask constructs a FunctionTask. name identifies the closure for
// logging/tracing; version must change whenever fn's behavior changes, since
// it is the only signal VerifyComplete has that a cached result is stale.
func NewFunctionTask(name, version string, fn Func, output *datum.Datum) *FunctionTask {
	return &FunctionTask{Name: name, Version: version, Fn: fn, Output: output}
}

func (f *FunctionTask) Quickhash() uint64 {
	return fingerprint.Combine(fingerprint.String(f.Name), fingerprint.String(f.Version))
}

func (f *FunctionTask) RunLogic(ctx context.Context, inputs map[string]any) error {
	var cacheKey string
	if f.Cache != nil {
		cacheKey = Key(struct {
			Name    string
			Version string
			Inputs  map[string]any
		}{f.Name, f.Version, inputs})
		if cached, ok := f.Cache.Get(cacheKey); ok {
			return f.Output.Populate(cached)
		}
	}
	out, err := f.Fn(ctx, inputs)
	if err != nil {
		return fmt.Errorf("function task %s: %w", f.Name, err)
	}
	if f.Cache != nil {
		f.Cache.Put(cacheKey, out)
	}
	return f.Output.Populate(out)
}

func (f *FunctionTask) InterruptCleanup() error      { return f.Output.Clear() }
func (f *FunctionTask) FailCleanup() error           { return f.Output.Clear() }
func (f *FunctionTask) InputForm() convert.InputForm { return convert.Object }
