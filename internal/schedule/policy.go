// Package schedule implements the greedy resource-constrained Scheduling
// Policy: select a budget-fitting subset of READY tasks, admitting them in
// the order they are offered. Tasks carry no priority: the coordinator
// offers READY in the order tasks were promoted to it, and the order among
// tasks found READY by its initial assessment is not defined.
package schedule

import "github.com/dagflow/engine/internal/task"

// Available reports whether demand fits within budget. A resource key
// present in demand but absent from budget is treated as infinite supply;
// a non-positive demand never blocks admission.
func Available(budget, demand map[string]float64) bool {
	for k, v := range demand {
		if v <= 0 {
			continue
		}
		b, ok := budget[k]
		if !ok {
			continue
		}
		if v > b {
			return false
		}
	}
	return true
}

// Decrement deducts demand from budget in place, for resource keys present
// in budget.
func Decrement(budget, demand map[string]float64) {
	for k, v := range demand {
		if _, ok := budget[k]; ok {
			budget[k] -= v
		}
	}
}

// Increment restores demand to budget in place, for resource keys present
// in budget.
func Increment(budget, demand map[string]float64) {
	for k, v := range demand {
		if _, ok := budget[k]; ok {
			budget[k] += v
		}
	}
}

// Policy is the greedy Scheduling Policy: no backfilling guarantee, no
// optimality guarantee, by design (per the core's accepted Non-goal of
// guaranteed-optimal resource packing).
type Policy struct{}

// NewPolicy constructs the greedy scheduling policy.
func NewPolicy() *Policy {
	return &Policy{}
}

// Select iterates ready in order, admitting each task whose resource
// demand currently fits budget and deducting its demand from budget on
// admission. budget is mutated in place.
func (Policy) Select(ready []*task.Task, budget map[string]float64) []*task.Task {
	selected := make([]*task.Task, 0, len(ready))
	for _, t := range ready {
		demand := t.Resources()
		if Available(budget, demand) {
			Decrement(budget, demand)
			selected = append(selected, t)
		}
	}
	return selected
}
