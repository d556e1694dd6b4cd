package tasktype

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/v1/rego"

	"github.com/dagflow/engine/internal/convert"
	"github.com/dagflow/engine/internal/datum"
	"github.com/dagflow/engine/internal/fingerprint"
)

// PolicyTask evaluates a Rego query in-process against the converted
// inputs, in place of the teacher's external policy microservice call.
// This also supplies the conditional-edge evaluation the teacher's DAG
// engine left as a no-op: a PolicyTask's boolean result decides whether
// downstream tasks see it as COMPLETE (allowed) or FAILED (denied).
type PolicyTask struct {
	Query  string // e.g. "data.dagflow.allow"
	Module string // Rego module source
	Output *datum.Datum

	prepared *rego.PreparedEvalQuery
}

// NewPolicyTask constructs a PolicyTask evaluating query against module.
func NewPolicyTask(query, module string, output *datum.Datum) *PolicyTask {
	return &PolicyTask{Query: query, Module: module, Output: output}
}

func (p *PolicyTask) Quickhash() uint64 {
	return fingerprint.Combine(fingerprint.String(p.Query), fingerprint.String(p.Module))
}

func (p *PolicyTask) prepare(ctx context.Context) (*rego.PreparedEvalQuery, error) {
	if p.prepared != nil {
		return p.prepared, nil
	}
	r := rego.New(
		rego.Query(p.Query),
		rego.Module("policy.rego", p.Module),
	)
	pq, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("policy task: prepare: %w", err)
	}
	p.prepared = &pq
	return p.prepared, nil
}

func (p *PolicyTask) RunLogic(ctx context.Context, inputs map[string]any) error {
	pq, err := p.prepare(ctx)
	if err != nil {
		return err
	}
	rs, err := pq.Eval(ctx, rego.EvalInput(inputs))
	if err != nil {
		return fmt.Errorf("policy task: eval: %w", err)
	}
	allowed := false
	if len(rs) > 0 && len(rs[0].Expressions) > 0 {
		if v, ok := rs[0].Expressions[0].Value.(bool); ok {
			allowed = v
		}
	}
	if !allowed {
		return fmt.Errorf("policy task: denied by %s", p.Query)
	}
	return p.Output.Populate(map[string]any{"allowed": allowed})
}

func (p *PolicyTask) InterruptCleanup() error      { return p.Output.Clear() }
func (p *PolicyTask) FailCleanup() error           { return p.Output.Clear() }
func (p *PolicyTask) InputForm() convert.InputForm { return convert.Object }
