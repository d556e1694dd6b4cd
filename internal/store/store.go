// Package store provides a BoltDB-backed catalog of named workflow
// specifications and a historical ledger of past run summaries. It is
// read-only from the Coordinator's point of view during a run: a Task's
// COMPLETE/WAITING determination flows exclusively through Datum
// fingerprints, never through anything persisted here. The ledger is
// written only after Coordinator.Run returns.
package store

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

var (
	bucketWorkflows = []byte("workflows")
	bucketRuns      = []byte("runs")
)

// WorkflowSpec is a named, versioned workflow definition as the HTTP API
// and cron triggers resolve it by name before handing it to the
// Coordinator.
type WorkflowSpec struct {
	Name      string             `json:"name"`
	Version   int                `json:"version"`
	Budget    map[string]float64 `json:"budget"`
	Tasks     json.RawMessage    `json:"tasks"`
	UpdatedAt time.Time          `json:"updated_at"`

	// Schedule is optional trigger configuration; a zero value means the
	// workflow only ever runs on demand via the HTTP API.
	Schedule ScheduleSpec `json:"schedule,omitempty"`
}

// ScheduleSpec is the persisted form of a workflow's trigger configuration,
// restored into internal/trigger.Config at startup.
type ScheduleSpec struct {
	Enabled       bool           `json:"enabled"`
	CronExpr      string         `json:"cron_expr,omitempty"`
	EventSubject  string         `json:"event_subject,omitempty"`
	EventFilter   map[string]any `json:"event_filter,omitempty"`
	MaxConcurrent int            `json:"max_concurrent,omitempty"`
	TimeoutSec    int            `json:"timeout_sec,omitempty"`
}

// RunSummary is a historical record of one Coordinator.Run invocation,
// written after the run completes purely for later inspection.
type RunSummary struct {
	RunID        string    `json:"run_id"`
	WorkflowName string    `json:"workflow_name"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	Waiting      int       `json:"waiting"`
	Complete     int       `json:"complete"`
	Failed       int       `json:"failed"`
	Err          string    `json:"error,omitempty"`
}

// Store is a BoltDB-backed workflow catalog and run ledger.
type Store struct {
	db *bbolt.DB
}

// Open opens (creating if absent) a BoltDB file at path and ensures the
// workflow and run buckets exist.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("store: open boltdb: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketWorkflows, bucketRuns} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create buckets: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying BoltDB file handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// PutWorkflow upserts a named workflow specification.
func (s *Store) PutWorkflow(spec WorkflowSpec) error {
	spec.UpdatedAt = time.Now()
	b, err := json.Marshal(spec)
	if err != nil {
		return fmt.Errorf("store: marshal workflow %s: %w", spec.Name, err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketWorkflows).Put([]byte(spec.Name), b)
	})
}

// GetWorkflow fetches a workflow specification by name.
func (s *Store) GetWorkflow(name string) (WorkflowSpec, bool, error) {
	var spec WorkflowSpec
	var found bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketWorkflows).Get([]byte(name))
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, &spec)
	})
	if err != nil {
		return WorkflowSpec{}, false, fmt.Errorf("store: get workflow %s: %w", name, err)
	}
	return spec, found, nil
}

// ListWorkflows returns every registered workflow specification.
func (s *Store) ListWorkflows() ([]WorkflowSpec, error) {
	var specs []WorkflowSpec
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketWorkflows).ForEach(func(_, v []byte) error {
			var spec WorkflowSpec
			if err := json.Unmarshal(v, &spec); err != nil {
				return err
			}
			specs = append(specs, spec)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("store: list workflows: %w", err)
	}
	return specs, nil
}

// DeleteWorkflow removes a named workflow specification.
func (s *Store) DeleteWorkflow(name string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketWorkflows).Delete([]byte(name))
	})
}

// PutRun appends a run summary to the ledger, keyed by RunID.
func (s *Store) PutRun(summary RunSummary) error {
	b, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("store: marshal run %s: %w", summary.RunID, err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRuns).Put([]byte(summary.RunID), b)
	})
}

// ListRuns returns every ledgered run summary for the given workflow name,
// or every run if workflowName is empty.
func (s *Store) ListRuns(workflowName string) ([]RunSummary, error) {
	var runs []RunSummary
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRuns).ForEach(func(_, v []byte) error {
			var r RunSummary
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			if workflowName == "" || r.WorkflowName == workflowName {
				runs = append(runs, r)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("store: list runs: %w", err)
	}
	return runs, nil
}
