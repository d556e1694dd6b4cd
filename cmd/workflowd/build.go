package main

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/dagflow/engine/internal/convert"
	"github.com/dagflow/engine/internal/datum"
	"github.com/dagflow/engine/internal/ids"
	"github.com/dagflow/engine/internal/task"
	"github.com/dagflow/engine/internal/tasktype"
	"github.com/dagflow/engine/pkg/resilience"
)

// TaskDef is the wire format for one node of a WorkflowSpec's Tasks array.
// FunctionTask has no JSON form since a Go closure cannot be serialized;
// workflows that need one are built in-process instead of over the HTTP
// API.
type TaskDef struct {
	ID        string             `json:"id"`
	Kind      string             `json:"kind"` // "http", "shell", "policy"
	DependsOn []string           `json:"depends_on"`
	Resources map[string]float64 `json:"resources"`
	Config    json.RawMessage    `json:"config"`
}

type httpConfig struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers"`
	Body    map[string]any    `json:"body"`
}

type shellConfig struct {
	Command string `json:"command"`
}

type policyConfig struct {
	Query  string `json:"query"`
	Module string `json:"module"`
}

// buildEnv carries the shared infrastructure every built task variant is
// wired against, so a workflow run gets request pooling, a circuit
// breaker, and result caching without each HTTP handler re-assembling
// them.
type buildEnv struct {
	registry *convert.Registry
	cache    *tasktype.ResultCache
	breaker  *resilience.CircuitBreaker
	workflow string
}

// buildDAG decodes a workflow's task definitions into a wired *task.Task
// graph and returns the single end task the Coordinator requires,
// synthesizing a JoinTask when the definition has more than one terminal
// node.
func buildDAG(raw json.RawMessage, env buildEnv) (*task.Task, error) {
	var defs []TaskDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return nil, fmt.Errorf("workflowd: decode task defs: %w", err)
	}
	if len(defs) == 0 {
		return nil, fmt.Errorf("workflowd: workflow %s has no tasks", env.workflow)
	}

	byID := make(map[string]TaskDef, len(defs))
	for _, d := range defs {
		byID[d.ID] = d
	}

	built := make(map[string]*task.Task, len(defs))
	outputs := make(map[string]*datum.Datum, len(defs))
	hasDependent := make(map[string]bool, len(defs))
	visiting := make(map[string]bool, len(defs))

	var build func(id string) (*task.Task, error)
	build = func(id string) (*task.Task, error) {
		if t, ok := built[id]; ok {
			return t, nil
		}
		if visiting[id] {
			return nil, fmt.Errorf("workflowd: workflow %s has a cyclic task definition at %q", env.workflow, id)
		}
		def, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("workflowd: workflow %s references unknown task %q", env.workflow, id)
		}
		visiting[id] = true
		defer delete(visiting, id)

		deps := make([]*task.Task, 0, len(def.DependsOn))
		inputs := make(map[string]datum.Handle, len(def.DependsOn))
		for _, parentID := range def.DependsOn {
			hasDependent[parentID] = true
			parent, err := build(parentID)
			if err != nil {
				return nil, err
			}
			deps = append(deps, parent)
			inputs[parentID] = outputs[parentID]
		}

		output := datum.NewMemoryDatum(ids.TaskID(id))
		variant, err := buildVariant(def, output, env)
		if err != nil {
			return nil, err
		}

		t := task.New(ids.TaskID(id), variant, inputs, map[string]datum.Handle{"result": output}, deps, def.Resources, env.registry)
		built[id] = t
		outputs[id] = output
		return t, nil
	}

	for _, def := range defs {
		if _, err := build(def.ID); err != nil {
			return nil, err
		}
	}

	sinks := make([]*task.Task, 0, 1)
	for id, t := range built {
		if !hasDependent[id] {
			sinks = append(sinks, t)
		}
	}
	if len(sinks) == 1 {
		return sinks[0], nil
	}

	joinOutput := datum.NewMemoryDatum(ids.TaskID("__join"))
	join := tasktype.NewJoinTask(joinOutput)
	return task.New(ids.TaskID("__join"), join, nil, map[string]datum.Handle{"result": joinOutput}, sinks, nil, env.registry), nil
}

func buildVariant(def TaskDef, output *datum.Datum, env buildEnv) (task.Variant, error) {
	switch def.Kind {
	case "http":
		var cfg httpConfig
		if err := json.Unmarshal(def.Config, &cfg); err != nil {
			return nil, fmt.Errorf("workflowd: task %s: decode http config: %w", def.ID, err)
		}
		method := cfg.Method
		if method == "" {
			method = http.MethodGet
		}
		ht := tasktype.NewHTTPTask(method, cfg.URL, output)
		ht.Headers = cfg.Headers
		ht.Body = cfg.Body
		ht.Cache = env.cache
		ht.Breaker = env.breaker
		ht.Template = tasktype.TemplateResolver{WorkflowName: env.workflow}
		return ht, nil

	case "shell":
		var cfg shellConfig
		if err := json.Unmarshal(def.Config, &cfg); err != nil {
			return nil, fmt.Errorf("workflowd: task %s: decode shell config: %w", def.ID, err)
		}
		return tasktype.NewShellTask(cfg.Command, output), nil

	case "policy":
		var cfg policyConfig
		if err := json.Unmarshal(def.Config, &cfg); err != nil {
			return nil, fmt.Errorf("workflowd: task %s: decode policy config: %w", def.ID, err)
		}
		return tasktype.NewPolicyTask(cfg.Query, cfg.Module, output), nil

	default:
		return nil, fmt.Errorf("workflowd: task %s: unsupported kind %q", def.ID, def.Kind)
	}
}
