// Command workflowd exposes the DAG execution engine over HTTP: register a
// named workflow, run it, and cancel an in-flight run. Metrics are pushed
// over OTLP; /metrics is mounted only when otelinit.InitMetrics returns an
// HTTP handler, and its OTLP push exporter returns none.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	nats "github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/dagflow/engine/internal/backend"
	"github.com/dagflow/engine/internal/convert"
	"github.com/dagflow/engine/internal/coordinator"
	"github.com/dagflow/engine/internal/errs"
	"github.com/dagflow/engine/internal/store"
	"github.com/dagflow/engine/internal/tasktype"
	"github.com/dagflow/engine/internal/trigger"
	"github.com/dagflow/engine/pkg/logging"
	"github.com/dagflow/engine/pkg/otelinit"
	"github.com/dagflow/engine/pkg/resilience"
)

// runRegistry tracks in-flight Coordinator runs by a caller-assigned run ID
// so /v1/cancel can reach the right one.
type runRegistry struct {
	mu     sync.Mutex
	cancel map[string]context.CancelFunc
}

func newRunRegistry() *runRegistry {
	return &runRegistry{cancel: make(map[string]context.CancelFunc)}
}

func (r *runRegistry) register(runID string, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancel[runID] = cancel
}

func (r *runRegistry) release(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cancel, runID)
}

func (r *runRegistry) cancelRun(runID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cancel, ok := r.cancel[runID]
	if ok {
		cancel()
	}
	return ok
}

type server struct {
	store   *store.Store
	runs    *runRegistry
	env     func(workflow string) buildEnv
	limiter *resilience.RateLimiter
	runOnce metric.Int64Counter
}

func main() {
	const service = "workflowd"
	logging.Init(service)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTrace := otelinit.InitTracer(ctx, service)
	shutdownMetrics, promHandler, _ := otelinit.InitMetrics(ctx, service)

	dbPath := os.Getenv("DAGFLOW_DB_PATH")
	if dbPath == "" {
		dbPath = "workflowd.db"
	}
	st, err := store.Open(dbPath)
	if err != nil {
		slog.Error("open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	breaker := resilience.NewCircuitBreakerAdaptive(30*time.Second, 10, 5, 0.5, 15*time.Second, 2)
	cache := tasktype.NewResultCache(512, 5*time.Minute)
	limiter := resilience.NewRateLimiter(20, 10, 64, 50*time.Millisecond)
	defer limiter.Stop()

	srv := &server{
		store:   st,
		runs:    newRunRegistry(),
		limiter: limiter,
		env: func(workflow string) buildEnv {
			return buildEnv{registry: convert.Default, cache: cache, breaker: breaker, workflow: workflow}
		},
	}
	meter := otel.Meter(service)
	srv.runOnce, _ = meter.Int64Counter("dagflow_workflowd_runs_total")

	var nc *nats.Conn
	if url := os.Getenv("DAGFLOW_NATS_URL"); url != "" {
		nc, err = nats.Connect(url)
		if err != nil {
			slog.Warn("nats connect failed, event triggers disabled", "error", err)
			nc = nil
		} else {
			defer nc.Close()
		}
	}

	sched := trigger.New(nc, func(ctx context.Context, workflowName string) error {
		return srv.runWorkflow(ctx, workflowName, fmt.Sprintf("cron-%d", time.Now().UnixNano()))
	})
	if err := restoreSchedules(st, sched); err != nil {
		slog.Warn("restore schedules", "error", err)
	}
	sched.Start()
	defer sched.Stop(context.Background())

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/v1/workflows", srv.handleWorkflows)
	mux.HandleFunc("/v1/run", srv.handleRun)
	mux.HandleFunc("/v1/cancel", srv.handleCancel)
	if promHandler != nil {
		if h, ok := promHandler.(http.Handler); ok {
			mux.Handle("/metrics", h)
		}
	}

	addr := os.Getenv("DAGFLOW_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	httpSrv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
			cancel()
		}
	}()
	slog.Info("workflowd started", "addr", addr)

	<-ctx.Done()
	slog.Info("shutdown initiated")
	shutdownCtx, c2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer c2()
	_ = httpSrv.Shutdown(shutdownCtx)
	otelinit.Flush(shutdownCtx, shutdownTrace)
	_ = shutdownMetrics(shutdownCtx)
	slog.Info("shutdown complete")
}

// restoreSchedules seeds the cron/event trigger scheduler from every
// workflow's persisted ScheduleSpec, mirroring the teacher's
// RestoreSchedules pass at startup. Workflows with a zero ScheduleSpec are
// simply never triggered automatically; they still run on demand via
// /v1/run.
func restoreSchedules(st *store.Store, sched *trigger.Scheduler) error {
	specs, err := st.ListWorkflows()
	if err != nil {
		return err
	}
	for _, spec := range specs {
		sc := spec.Schedule
		if !sc.Enabled || (sc.CronExpr == "" && sc.EventSubject == "") {
			continue
		}
		cfg := &trigger.Config{
			WorkflowName:  spec.Name,
			CronExpr:      sc.CronExpr,
			EventSubject:  sc.EventSubject,
			EventFilter:   sc.EventFilter,
			Enabled:       sc.Enabled,
			MaxConcurrent: sc.MaxConcurrent,
			Timeout:       time.Duration(sc.TimeoutSec) * time.Second,
		}
		if err := sched.AddSchedule(cfg); err != nil {
			slog.Warn("restore schedule", "workflow", spec.Name, "error", err)
		}
	}
	return nil
}

func (s *server) handleWorkflows(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var spec store.WorkflowSpec
		if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if spec.Name == "" {
			http.Error(w, "name required", http.StatusBadRequest)
			return
		}
		if err := s.store.PutWorkflow(spec); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(spec)

	case http.MethodGet:
		name := r.URL.Query().Get("name")
		if name == "" {
			specs, err := s.store.ListWorkflows()
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			_ = json.NewEncoder(w).Encode(specs)
			return
		}
		spec, found, err := s.store.GetWorkflow(name)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if !found {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(spec)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

type runRequest struct {
	Workflow string `json:"workflow"`
	RunID    string `json:"run_id,omitempty"`
}

func (s *server) handleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	runID := req.RunID
	if runID == "" {
		runID = fmt.Sprintf("%s-%d", req.Workflow, time.Now().UnixNano())
	}

	ctx, cancel := context.WithCancel(r.Context())
	s.runs.register(runID, cancel)
	defer s.runs.release(runID)
	defer cancel()

	if err := s.runWorkflow(ctx, req.Workflow, runID); err != nil {
		if errors.Is(err, errs.ErrInterrupted) {
			http.Error(w, "run interrupted", http.StatusAccepted)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"run_id": runID, "status": "completed"})
}

func (s *server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	runID := r.URL.Query().Get("run_id")
	if runID == "" {
		http.Error(w, "run_id required", http.StatusBadRequest)
		return
	}
	if !s.runs.cancelRun(runID) {
		http.NotFound(w, r)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// runWorkflow resolves workflowName from the store, builds its DAG, and
// runs it to completion (or interruption, via ctx). It records a
// store.RunSummary for the ledger and is the single path both /v1/run and
// the trigger scheduler drive a run through.
func (s *server) runWorkflow(ctx context.Context, workflowName, runID string) error {
	spec, found, err := s.store.GetWorkflow(workflowName)
	if err != nil {
		return fmt.Errorf("workflowd: load workflow %s: %w", workflowName, err)
	}
	if !found {
		return fmt.Errorf("workflowd: workflow %s not found", workflowName)
	}

	end, err := buildDAG(spec.Tasks, s.env(workflowName))
	if err != nil {
		return err
	}

	pool := backend.NewPoolBackend(4).WithRateLimiter(s.limiter)
	co, err := coordinator.New(end, spec.Budget, coordinator.WithBackend(pool))
	if err != nil {
		return fmt.Errorf("workflowd: build coordinator for %s: %w", workflowName, err)
	}

	summary := store.RunSummary{RunID: runID, WorkflowName: workflowName, StartedAt: time.Now()}
	runErr := co.Run(ctx, false)
	pool.Shutdown(true, true) // Run's own Interrupt already did this on cancellation; idempotent otherwise
	summary.FinishedAt = time.Now()
	snap := co.Snapshot()
	summary.Waiting, summary.Complete, summary.Failed = snap.Waiting, snap.Complete, snap.Failed
	if runErr != nil {
		summary.Err = runErr.Error()
	}
	if err := s.store.PutRun(summary); err != nil {
		slog.Warn("persist run summary", "run_id", runID, "error", err)
	}

	attrs := metric.WithAttributes(attribute.String("workflow", workflowName))
	s.runOnce.Add(ctx, 1, attrs)
	return runErr
}
