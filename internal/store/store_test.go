package store

import (
	"path/filepath"
	"testing"
)

func TestWorkflowRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	spec := WorkflowSpec{Name: "etl", Version: 1, Budget: map[string]float64{"cpu": 4}}
	if err := s.PutWorkflow(spec); err != nil {
		t.Fatalf("PutWorkflow: %v", err)
	}

	got, found, err := s.GetWorkflow("etl")
	if err != nil {
		t.Fatalf("GetWorkflow: %v", err)
	}
	if !found {
		t.Fatal("expected workflow to be found")
	}
	if got.Version != 1 || got.Budget["cpu"] != 4 {
		t.Fatalf("got = %+v", got)
	}

	if _, found, err := s.GetWorkflow("missing"); err != nil || found {
		t.Fatalf("expected missing workflow to be absent, found=%v err=%v", found, err)
	}

	if err := s.DeleteWorkflow("etl"); err != nil {
		t.Fatalf("DeleteWorkflow: %v", err)
	}
	if _, found, _ := s.GetWorkflow("etl"); found {
		t.Fatal("expected workflow to be gone after delete")
	}
}

func TestRunLedgerListFiltersByWorkflow(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if err := s.PutRun(RunSummary{RunID: "r1", WorkflowName: "etl", Complete: 3}); err != nil {
		t.Fatalf("PutRun: %v", err)
	}
	if err := s.PutRun(RunSummary{RunID: "r2", WorkflowName: "other", Complete: 1}); err != nil {
		t.Fatalf("PutRun: %v", err)
	}

	runs, err := s.ListRuns("etl")
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 1 || runs[0].RunID != "r1" {
		t.Fatalf("runs = %+v, want exactly r1", runs)
	}

	all, err := s.ListRuns("")
	if err != nil {
		t.Fatalf("ListRuns(all): %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("len(all) = %d, want 2", len(all))
	}
}
