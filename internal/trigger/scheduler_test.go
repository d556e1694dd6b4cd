package trigger

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestCronScheduleFiresRunFunc(t *testing.T) {
	var calls int32
	done := make(chan struct{})
	sched := New(nil, func(ctx context.Context, workflowName string) error {
		if atomic.AddInt32(&calls, 1) == 1 {
			close(done)
		}
		return nil
	})

	err := sched.AddSchedule(&Config{
		WorkflowName: "etl",
		CronExpr:     "* * * * * *", // every second
		Enabled:      true,
	})
	if err != nil {
		t.Fatalf("AddSchedule: %v", err)
	}
	sched.Start()
	defer sched.Stop(context.Background())

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("cron schedule never fired")
	}
}

func TestAddScheduleRejectsMissingTrigger(t *testing.T) {
	sched := New(nil, func(ctx context.Context, workflowName string) error { return nil })
	err := sched.AddSchedule(&Config{WorkflowName: "etl", Enabled: true})
	if err == nil {
		t.Fatal("expected error when neither CronExpr nor EventSubject is set")
	}
}

func TestAddScheduleRejectsEventWithoutNATS(t *testing.T) {
	sched := New(nil, func(ctx context.Context, workflowName string) error { return nil })
	err := sched.AddSchedule(&Config{WorkflowName: "etl", EventSubject: "wf.trigger", Enabled: true})
	if err == nil {
		t.Fatal("expected error when an event schedule has no NATS connection")
	}
}

func TestDisabledScheduleNeverFires(t *testing.T) {
	sched := New(nil, func(ctx context.Context, workflowName string) error {
		t.Fatal("disabled schedule must never run")
		return nil
	})
	if err := sched.AddSchedule(&Config{WorkflowName: "etl", CronExpr: "* * * * * *", Enabled: false}); err != nil {
		t.Fatalf("AddSchedule: %v", err)
	}
	sched.Start()
	defer sched.Stop(context.Background())
	time.Sleep(200 * time.Millisecond)
}

func TestMaxConcurrentGuardCapsEventFires(t *testing.T) {
	var mu sync.Mutex
	inFlight, maxSeen := 0, 0
	release := make(chan struct{})

	sched := New(nil, func(ctx context.Context, workflowName string) error { return nil })
	cfg := &Config{WorkflowName: "etl", EventSubject: "wf.trigger", MaxConcurrent: 2, Enabled: true}
	route := &eventRoute{schedules: []*Config{cfg}}
	sched.routes["wf.trigger"] = route

	sched.run = func(ctx context.Context, workflowName string) error {
		mu.Lock()
		inFlight++
		if inFlight > maxSeen {
			maxSeen = inFlight
		}
		mu.Unlock()
		<-release
		mu.Lock()
		inFlight--
		mu.Unlock()
		return nil
	}

	for i := 0; i < 5; i++ {
		go sched.fire(context.Background(), cfg)
	}
	time.Sleep(100 * time.Millisecond)
	close(release)
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if maxSeen > 2 {
		t.Fatalf("maxSeen = %d, want <= 2 (MaxConcurrent)", maxSeen)
	}
}

func TestMatchesFilter(t *testing.T) {
	if !matchesFilter(map[string]any{"region": "us"}, nil) {
		t.Fatal("empty filter should match everything")
	}
	if !matchesFilter(map[string]any{"region": "us"}, map[string]any{"region": "us"}) {
		t.Fatal("matching key/value should match")
	}
	if matchesFilter(map[string]any{"region": "us"}, map[string]any{"region": "eu"}) {
		t.Fatal("mismatched value should not match")
	}
	if matchesFilter(map[string]any{}, map[string]any{"region": "us"}) {
		t.Fatal("missing key should not match")
	}
}

func TestDecodeEventData(t *testing.T) {
	data, err := decodeEventData([]byte(`{"region":"us"}`))
	if err != nil {
		t.Fatalf("decodeEventData: %v", err)
	}
	if data["region"] != "us" {
		t.Fatalf("data = %v", data)
	}

	empty, err := decodeEventData(nil)
	if err != nil || len(empty) != 0 {
		t.Fatalf("decodeEventData(nil) = %v, %v", empty, err)
	}

	if _, err := decodeEventData([]byte("not json")); err == nil {
		t.Fatal("expected error decoding invalid JSON")
	}
}
