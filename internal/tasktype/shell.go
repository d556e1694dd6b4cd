package tasktype

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/dagflow/engine/internal/convert"
	"github.com/dagflow/engine/internal/datum"
	"github.com/dagflow/engine/internal/fingerprint"
)

// defaultAllowedCommands mirrors the teacher's ShellPlugin whitelist: a
// hard-coded set of commands considered safe enough to run unsandboxed.
var defaultAllowedCommands = map[string]bool{
	"echo": true,
	"cat":  true,
	"grep": true,
	"awk":  true,
	"sed":  true,
	"jq":   true,
	"curl": true,
	"wget": true,
}

// ShellTask runs a whitelisted command via os/exec.CommandContext, capturing
// stdout/stderr/exit-code into a MemoryDatum output named "result". ctx
// cancellation kills the child process, matching CommandContext's contract.
type ShellTask struct {
	Tracer  trace.Tracer
	Allowed map[string]bool

	Command string
	Output  *datum.Datum
}

// NewShellTask constructs a ShellTask against the default command
// whitelist.
func NewShellTask(command string, output *datum.Datum) *ShellTask {
	return &ShellTask{
		Tracer:  otel.Tracer("dagflow-shell-task"),
		Allowed: defaultAllowedCommands,
		Command: command,
		Output:  output,
	}
}

func (s *ShellTask) Quickhash() uint64 { return fingerprint.String(s.Command) }

func (s *ShellTask) RunLogic(ctx context.Context, inputs map[string]any) error {
	_, span := s.Tracer.Start(ctx, "shell_task.execute")
	defer span.End()

	parts := strings.Fields(s.Command)
	if len(parts) == 0 {
		return fmt.Errorf("shell task: empty command")
	}
	if !s.Allowed[parts[0]] {
		return fmt.Errorf("shell task: command not allowed: %s", parts[0])
	}

	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	exitCode := -1
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}
	result := map[string]any{
		"stdout":    stdout.String(),
		"stderr":    stderr.String(),
		"exit_code": exitCode,
	}
	if runErr != nil {
		return fmt.Errorf("shell task: command failed: %w: %s", runErr, stderr.String())
	}
	return s.Output.Populate(result)
}

func (s *ShellTask) InterruptCleanup() error      { return s.Output.Clear() }
func (s *ShellTask) FailCleanup() error           { return s.Output.Clear() }
func (s *ShellTask) InputForm() convert.InputForm { return convert.Object }
