package scheduler

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mtzanidakis/crewbridge/internal/config"
	"github.com/mtzanidakis/crewbridge/internal/invoker"
	"github.com/mtzanidakis/crewbridge/internal/natsbus"
	"github.com/mtzanidakis/crewbridge/internal/store"
	"github.com/mtzanidakis/crewbridge/internal/workflow"
)

type fakeRunner struct {
	mu       sync.Mutex
	calls    []string
	inputs   []string
	triggers []string
	fail     bool
}

func (f *fakeRunner) RunWorkflow(ctx context.Context, name string, initial invoker.Request, trigger string) workflow.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	f.inputs = append(f.inputs, string(initial.Input))
	f.triggers = append(f.triggers, trigger)
	if f.fail {
		return workflow.Result{ID: "run", Status: invoker.StatusError, Workflow: name, Message: "Workflow failed at step A"}
	}
	return workflow.Result{ID: "run", Status: invoker.StatusSuccess, Workflow: name}
}

type recorder struct {
	mu     sync.Mutex
	topics []string
	events []natsbus.Event
}

func (r *recorder) PublishJSON(topic string, v any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.topics = append(r.topics, topic)
	if ev, ok := v.(natsbus.Event); ok {
		r.events = append(r.events, ev)
	}
	return nil
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(config.StoreConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestScheduleID(t *testing.T) {
	if id := ScheduleID(config.ScheduleDefinition{Name: "nightly", Workflow: "w"}, 0); id != "nightly" {
		t.Errorf("expected 'nightly', got '%s'", id)
	}
	if id := ScheduleID(config.ScheduleDefinition{Workflow: "onboarding"}, 2); id != "onboarding-3" {
		t.Errorf("expected 'onboarding-3', got '%s'", id)
	}
}

func TestSyncWritesAndPrunes(t *testing.T) {
	s := newTestStore(t)
	_ = s.SaveSchedule(&store.ScheduleState{ID: "stale", Workflow: "old", Schedule: `{"kind":"interval","interval_ms":1000}`})

	sched := New(s, &fakeRunner{}, nil, []config.ScheduleDefinition{
		{Name: "nightly", Workflow: "onboarding", Input: "digest", Cron: "0 2 * * *"},
		{Workflow: "leads", Every: 10 * time.Minute},
	}, config.SchedulerConfig{})

	if err := sched.Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}

	all, err := s.ListSchedules()
	if err != nil {
		t.Fatalf("list schedules: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 schedules, got %d", len(all))
	}
	for _, st := range all {
		if st.ID == "stale" {
			t.Error("expected stale schedule to be removed")
		}
		if st.NextRunAt == nil {
			t.Errorf("expected next run for %s", st.ID)
		}
	}

	got, _ := s.GetSchedule("leads-2")
	if got == nil {
		t.Fatal("expected schedule 'leads-2'")
	}
	if got.Schedule != `{"kind":"interval","interval_ms":600000}` {
		t.Errorf("unexpected encoded schedule %s", got.Schedule)
	}
}

func TestSyncRejectsInvalidDefinition(t *testing.T) {
	s := newTestStore(t)
	sched := New(s, &fakeRunner{}, nil, []config.ScheduleDefinition{
		{Name: "bad", Workflow: "w", Cron: "not a cron"},
	}, config.SchedulerConfig{})
	if err := sched.Sync(); err == nil {
		t.Error("expected error for invalid cron")
	}
}

func TestPollRunsDueSchedules(t *testing.T) {
	s := newTestStore(t)
	runner := &fakeRunner{}
	rec := &recorder{}

	sched := New(s, runner, rec, []config.ScheduleDefinition{
		{Name: "poll", Workflow: "onboarding", Input: "new leads", Every: time.Minute},
	}, config.SchedulerConfig{})
	if err := sched.Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}

	// Nothing is due yet.
	sched.poll(context.Background())
	if len(runner.calls) != 0 {
		t.Fatalf("expected no runs, got %d", len(runner.calls))
	}

	later := time.Now().Add(2 * time.Minute)
	sched.now = func() time.Time { return later }
	sched.poll(context.Background())

	if len(runner.calls) != 1 || runner.calls[0] != "onboarding" {
		t.Fatalf("expected one onboarding run, got %v", runner.calls)
	}
	if runner.inputs[0] != `"new leads"` {
		t.Errorf("expected text input, got %s", runner.inputs[0])
	}
	if runner.triggers[0] != "schedule" {
		t.Errorf("expected trigger 'schedule', got '%s'", runner.triggers[0])
	}

	st, _ := s.GetSchedule("poll")
	if st.LastStatus != store.RunStatusSuccess {
		t.Errorf("expected last status success, got '%s'", st.LastStatus)
	}
	if st.NextRunAt == nil || !st.NextRunAt.After(later) {
		t.Errorf("expected next run after %v, got %v", later, st.NextRunAt)
	}

	if len(rec.events) != 1 || rec.events[0].Type != natsbus.EventScheduleExecuted {
		t.Fatalf("expected schedule_executed event, got %+v", rec.events)
	}
	if rec.topics[0] != "events.schedule.poll" {
		t.Errorf("unexpected topic %s", rec.topics[0])
	}
}

func TestPollRecordsFailure(t *testing.T) {
	s := newTestStore(t)
	runner := &fakeRunner{fail: true}
	sched := New(s, runner, nil, []config.ScheduleDefinition{
		{Name: "poll", Workflow: "onboarding", Every: time.Minute},
	}, config.SchedulerConfig{})
	if err := sched.Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}

	sched.now = func() time.Time { return time.Now().Add(time.Hour) }
	sched.poll(context.Background())

	st, _ := s.GetSchedule("poll")
	if st.LastStatus != store.RunStatusError {
		t.Errorf("expected last status error, got '%s'", st.LastStatus)
	}
	if st.LastError != "Workflow failed at step A" {
		t.Errorf("unexpected last error %q", st.LastError)
	}
}

func TestStartStopsOnCancel(t *testing.T) {
	s := newTestStore(t)
	sched := New(s, &fakeRunner{}, nil, nil, config.SchedulerConfig{PollInterval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sched.Start(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop after cancel")
	}
}
