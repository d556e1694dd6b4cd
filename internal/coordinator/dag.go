package coordinator

import (
	"fmt"

	"github.com/dagflow/engine/internal/errs"
	"github.com/dagflow/engine/internal/ids"
	"github.com/dagflow/engine/internal/task"
)

// validateDAG walks end's dependency graph depth-first using an ancestor
// stack and a visited set; a dependency that reappears in the ancestor
// stack is a cycle. Returns every reachable task keyed by ID.
func validateDAG(end *task.Task) (map[ids.TaskID]*task.Task, error) {
	all := make(map[ids.TaskID]*task.Task)
	visited := make(map[ids.TaskID]bool)
	onStack := make(map[ids.TaskID]bool)

	var visit func(t *task.Task) error
	visit = func(t *task.Task) error {
		if onStack[t.ID()] {
			return fmt.Errorf("%w: task %s", errs.ErrCyclicDAG, t.ID())
		}
		if visited[t.ID()] {
			return nil
		}
		visited[t.ID()] = true
		onStack[t.ID()] = true
		all[t.ID()] = t
		for _, dep := range t.Dependencies() {
			if err := visit(dep); err != nil {
				return err
			}
		}
		onStack[t.ID()] = false
		return nil
	}

	if err := visit(end); err != nil {
		return nil, err
	}
	return all, nil
}

// buildAdjacency constructs parent -> children for every task reachable
// from end; the end task is explicitly mapped to an empty (possibly nil)
// slice since nothing in the graph consumes it.
func buildAdjacency(all map[ids.TaskID]*task.Task) map[ids.TaskID][]*task.Task {
	adj := make(map[ids.TaskID][]*task.Task, len(all))
	for id := range all {
		if _, ok := adj[id]; !ok {
			adj[id] = nil
		}
	}
	for _, t := range all {
		for _, dep := range t.Dependencies() {
			adj[dep.ID()] = append(adj[dep.ID()], t)
		}
	}
	return adj
}
