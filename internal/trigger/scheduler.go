// Package trigger starts workflow runs on a cron schedule or in response to
// a NATS event, and nothing else: it never reaches into Task/Datum
// internals, it only calls RunFunc. This keeps the core's Non-goal of no
// cross-machine distribution intact — one process, one coordinator, N local
// goroutine workers, with this package deciding only *when* to call Run.
package trigger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	nats "github.com/nats-io/nats.go"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/dagflow/engine/pkg/eventbus"
)

// RunFunc starts one run of the named workflow. Scheduler does not know how
// a workflow is built or how Coordinator.Run is invoked; the caller supplies
// this closure, typically one that resolves a store.WorkflowSpec by name,
// builds a Coordinator from it, and calls Run.
type RunFunc func(ctx context.Context, workflowName string) error

// Config describes when and how a workflow run is triggered.
type Config struct {
	WorkflowName string
	CronExpr     string        // e.g. "0 */5 * * * *"; mutually exclusive with EventSubject
	EventSubject string        // NATS subject; mutually exclusive with CronExpr
	EventFilter  map[string]any
	Enabled      bool
	MaxConcurrent int          // 0 = unlimited; event schedules only
	Timeout      time.Duration
}

type eventRoute struct {
	mu        sync.Mutex
	running   int
	schedules []*Config
}

// Scheduler manages cron entries and NATS event subscriptions that start
// workflow runs through a RunFunc.
type Scheduler struct {
	cron   *cron.Cron
	nc     *nats.Conn
	run    RunFunc
	tracer trace.Tracer

	mu     sync.RWMutex
	routes map[string]*eventRoute // NATS subject -> route
	subs   []*nats.Subscription

	runsTotal  metric.Int64Counter
	failsTotal metric.Int64Counter
}

// New constructs a Scheduler. nc may be nil if no event-driven schedules
// will be registered.
func New(nc *nats.Conn, run RunFunc) *Scheduler {
	meter := otel.Meter("dagflow-trigger")
	runsTotal, _ := meter.Int64Counter("dagflow_trigger_runs_total")
	failsTotal, _ := meter.Int64Counter("dagflow_trigger_failures_total")
	return &Scheduler{
		cron:       cron.New(cron.WithSeconds()),
		nc:         nc,
		run:        run,
		tracer:     otel.Tracer("dagflow-trigger"),
		routes:     make(map[string]*eventRoute),
		runsTotal:  runsTotal,
		failsTotal: failsTotal,
	}
}

// Start begins the cron loop. Event subscriptions take effect as soon as
// AddSchedule registers them, independent of Start; Stop unsubscribes them.
func (s *Scheduler) Start() {
	s.cron.Start()
	slog.Info("trigger scheduler started")
}

// Stop drains in-flight cron jobs and unsubscribes from NATS.
func (s *Scheduler) Stop(ctx context.Context) error {
	stopCtx := s.cron.Stop()

	s.mu.Lock()
	for _, sub := range s.subs {
		_ = sub.Unsubscribe()
	}
	s.subs = nil
	s.mu.Unlock()

	select {
	case <-stopCtx.Done():
		slog.Info("trigger scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AddSchedule registers a cron or event-driven trigger for a workflow.
func (s *Scheduler) AddSchedule(cfg *Config) error {
	if !cfg.Enabled {
		return nil
	}
	switch {
	case cfg.CronExpr != "":
		_, err := s.cron.AddFunc(cfg.CronExpr, func() {
			s.fire(context.Background(), cfg)
		})
		if err != nil {
			return fmt.Errorf("trigger: add cron schedule for %s: %w", cfg.WorkflowName, err)
		}
		slog.Info("cron trigger added", "workflow", cfg.WorkflowName, "cron", cfg.CronExpr)
		return nil

	case cfg.EventSubject != "":
		if s.nc == nil {
			return fmt.Errorf("trigger: event schedule for %s requires a NATS connection", cfg.WorkflowName)
		}
		s.registerEventRoute(cfg)
		if err := s.ensureSubscription(cfg.EventSubject); err != nil {
			return fmt.Errorf("trigger: subscribe %s: %w", cfg.EventSubject, err)
		}
		slog.Info("event trigger added", "workflow", cfg.WorkflowName, "subject", cfg.EventSubject)
		return nil

	default:
		return fmt.Errorf("trigger: schedule for %s needs either CronExpr or EventSubject", cfg.WorkflowName)
	}
}

func (s *Scheduler) registerEventRoute(cfg *Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	route, ok := s.routes[cfg.EventSubject]
	if !ok {
		route = &eventRoute{}
		s.routes[cfg.EventSubject] = route
	}
	route.schedules = append(route.schedules, cfg)
}

func (s *Scheduler) ensureSubscription(subject string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subs {
		if sub.Subject == subject {
			return nil
		}
	}
	sub, err := eventbus.Subscribe(s.nc, subject, s.handleEvent)
	if err != nil {
		return err
	}
	s.subs = append(s.subs, sub)
	return nil
}

func (s *Scheduler) handleEvent(ctx context.Context, msg *nats.Msg) {
	s.mu.RLock()
	route, ok := s.routes[msg.Subject]
	s.mu.RUnlock()
	if !ok {
		return
	}

	data, err := decodeEventData(msg.Data)
	if err != nil {
		slog.Warn("trigger: undecodable event payload", "subject", msg.Subject, "error", err)
		return
	}

	for _, cfg := range route.schedules {
		if !cfg.Enabled || !matchesFilter(data, cfg.EventFilter) {
			continue
		}
		go s.fire(ctx, cfg)
	}
}

// fire admits cfg's run past its MaxConcurrent guard and calls RunFunc,
// recording trigger metrics. The guard applies to event schedules only and
// counts runs across every schedule sharing cfg's subject; cron-triggered
// runs are not guarded. It never touches Task/Datum state directly.
func (s *Scheduler) fire(ctx context.Context, cfg *Config) {
	route := s.routeFor(cfg)
	if route != nil {
		route.mu.Lock()
		if cfg.MaxConcurrent > 0 && route.running >= cfg.MaxConcurrent {
			route.mu.Unlock()
			slog.Warn("trigger: max concurrent runs reached", "workflow", cfg.WorkflowName, "max", cfg.MaxConcurrent)
			return
		}
		route.running++
		route.mu.Unlock()
		defer func() {
			route.mu.Lock()
			route.running--
			route.mu.Unlock()
		}()
	}

	ctx, span := s.tracer.Start(ctx, "trigger.fire",
		trace.WithAttributes(attribute.String("workflow", cfg.WorkflowName)))
	defer span.End()

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	attrs := metric.WithAttributes(attribute.String("workflow", cfg.WorkflowName))
	if err := s.run(ctx, cfg.WorkflowName); err != nil {
		s.failsTotal.Add(ctx, 1, attrs)
		slog.Error("triggered workflow run failed", "workflow", cfg.WorkflowName, "error", err, "elapsed", time.Since(start))
		return
	}
	s.runsTotal.Add(ctx, 1, attrs)
	slog.Info("triggered workflow run completed", "workflow", cfg.WorkflowName, "elapsed", time.Since(start))
}

func (s *Scheduler) routeFor(cfg *Config) *eventRoute {
	if cfg.EventSubject == "" {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.routes[cfg.EventSubject]
}

func matchesFilter(data, filter map[string]any) bool {
	if len(filter) == 0 {
		return true
	}
	for key, want := range filter {
		got, ok := data[key]
		if !ok || fmt.Sprintf("%v", got) != fmt.Sprintf("%v", want) {
			return false
		}
	}
	return true
}
