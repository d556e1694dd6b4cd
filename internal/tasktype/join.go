package tasktype

import (
	"context"

	"github.com/dagflow/engine/internal/convert"
	"github.com/dagflow/engine/internal/datum"
)

// JoinTask is a no-op sink: the Coordinator's end task must be a single
// node, so a workflow definition whose DAG has more than one terminal task
// gets a synthetic JoinTask depending on all of them, giving the graph one
// discoverable end.
type JoinTask struct {
	Output *datum.Datum
}

func NewJoinTask(output *datum.Datum) *JoinTask {
	return &JoinTask{Output: output}
}

func (j *JoinTask) Quickhash() uint64 { return 1 }

func (j *JoinTask) RunLogic(ctx context.Context, inputs map[string]any) error {
	return j.Output.Populate(true)
}

func (j *JoinTask) InterruptCleanup() error      { return j.Output.Clear() }
func (j *JoinTask) FailCleanup() error           { return j.Output.Clear() }
func (j *JoinTask) InputForm() convert.InputForm { return convert.Object }
