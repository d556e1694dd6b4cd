package main

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/dagflow/engine/internal/convert"
)

func TestBuildDAGSingleSinkUsesItDirectly(t *testing.T) {
	raw := json.RawMessage(`[
		{"id": "fetch", "kind": "shell", "config": {"command": "echo hi"}},
		{"id": "report", "kind": "shell", "depends_on": ["fetch"], "config": {"command": "echo done"}}
	]`)
	end, err := buildDAG(raw, buildEnv{registry: convert.Default, workflow: "t"})
	if err != nil {
		t.Fatalf("buildDAG: %v", err)
	}
	if string(end.ID()) != "report" {
		t.Fatalf("end task = %s, want report", end.ID())
	}
}

func TestBuildDAGMultipleSinksGetSyntheticJoin(t *testing.T) {
	raw := json.RawMessage(`[
		{"id": "a", "kind": "shell", "config": {"command": "echo a"}},
		{"id": "b", "kind": "shell", "config": {"command": "echo b"}}
	]`)
	end, err := buildDAG(raw, buildEnv{registry: convert.Default, workflow: "t"})
	if err != nil {
		t.Fatalf("buildDAG: %v", err)
	}
	if string(end.ID()) != "__join" {
		t.Fatalf("end task = %s, want __join", end.ID())
	}
	if len(end.Dependencies()) != 2 {
		t.Fatalf("join dependencies = %d, want 2", len(end.Dependencies()))
	}
}

func TestBuildDAGRejectsCycle(t *testing.T) {
	raw := json.RawMessage(`[
		{"id": "a", "kind": "shell", "depends_on": ["b"], "config": {"command": "echo a"}},
		{"id": "b", "kind": "shell", "depends_on": ["a"], "config": {"command": "echo b"}}
	]`)
	_, err := buildDAG(raw, buildEnv{registry: convert.Default, workflow: "t"})
	if err == nil || !strings.Contains(err.Error(), "cyclic") {
		t.Fatalf("err = %v, want a cyclic task definition error", err)
	}
}

func TestBuildDAGRejectsUnknownKind(t *testing.T) {
	raw := json.RawMessage(`[{"id": "a", "kind": "carrier-pigeon"}]`)
	_, err := buildDAG(raw, buildEnv{registry: convert.Default, workflow: "t"})
	if err == nil || !strings.Contains(err.Error(), "unsupported kind") {
		t.Fatalf("err = %v, want an unsupported kind error", err)
	}
}

func TestBuildDAGRejectsUnknownDependency(t *testing.T) {
	raw := json.RawMessage(`[{"id": "a", "kind": "shell", "depends_on": ["missing"], "config": {"command": "echo a"}}]`)
	_, err := buildDAG(raw, buildEnv{registry: convert.Default, workflow: "t"})
	if err == nil || !strings.Contains(err.Error(), "unknown task") {
		t.Fatalf("err = %v, want an unknown task error", err)
	}
}
