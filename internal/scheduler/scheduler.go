package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mtzanidakis/crewbridge/internal/bridge"
	"github.com/mtzanidakis/crewbridge/internal/config"
	"github.com/mtzanidakis/crewbridge/internal/invoker"
	"github.com/mtzanidakis/crewbridge/internal/natsbus"
	"github.com/mtzanidakis/crewbridge/internal/schedule"
	"github.com/mtzanidakis/crewbridge/internal/store"
	"github.com/mtzanidakis/crewbridge/internal/workflow"
)

// Runner executes workflows. *bridge.Bridge satisfies it.
type Runner interface {
	RunWorkflow(ctx context.Context, workflowName string, initial invoker.Request, trigger string) workflow.Result
}

type Scheduler struct {
	store        *store.Store
	runner       Runner
	events       natsbus.Publisher
	defs         []config.ScheduleDefinition
	pollInterval time.Duration
	now          func() time.Time
}

func New(s *store.Store, runner Runner, events natsbus.Publisher, defs []config.ScheduleDefinition, cfg config.SchedulerConfig) *Scheduler {
	return &Scheduler{
		store:        s,
		runner:       runner,
		events:       events,
		defs:         defs,
		pollInterval: cfg.PollInterval,
		now:          time.Now,
	}
}

// ScheduleID is the stored identity of a schedule definition: its name, or
// the workflow key and position when unnamed.
func ScheduleID(def config.ScheduleDefinition, index int) string {
	if def.Name != "" {
		return def.Name
	}
	return fmt.Sprintf("%s-%d", def.Workflow, index+1)
}

// Sync writes the configured schedules to the store and removes schedules
// that are no longer configured. Pending next runs survive when the timing
// is unchanged.
func (s *Scheduler) Sync() error {
	ids := make([]string, 0, len(s.defs))
	now := s.now()

	for i, def := range s.defs {
		sched, err := schedule.FromDefinition(def)
		if err != nil {
			return err
		}
		id := ScheduleID(def, i)
		st := &store.ScheduleState{
			ID:        id,
			Workflow:  def.Workflow,
			Schedule:  sched.Encode(),
			Input:     def.Input,
			NextRunAt: sched.Next(now),
		}
		if err := s.store.SaveSchedule(st); err != nil {
			return err
		}
		ids = append(ids, id)
	}

	if err := s.store.DeleteSchedulesNotIn(ids); err != nil {
		return fmt.Errorf("delete stale schedules: %w", err)
	}
	slog.Info("schedules synced", "count", len(ids))
	return nil
}

func (s *Scheduler) Start(ctx context.Context) {
	if s.pollInterval == 0 {
		s.pollInterval = 30 * time.Second
	}

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	slog.Info("scheduler started", "poll_interval", s.pollInterval, "schedules", len(s.defs))

	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.poll(ctx)
		}
	}
}

func (s *Scheduler) poll(ctx context.Context) {
	due, err := s.store.GetDueSchedules(s.now())
	if err != nil {
		slog.Error("failed to get due schedules", "error", err)
		return
	}

	for _, st := range due {
		if ctx.Err() != nil {
			return
		}
		s.execute(ctx, st)
	}
}

func (s *Scheduler) execute(ctx context.Context, st store.ScheduleState) {
	slog.Info("executing schedule", "id", st.ID, "workflow", st.Workflow)

	res := s.runner.RunWorkflow(ctx, st.Workflow, invoker.TextRequest(st.Input), bridge.TriggerSchedule)

	var lastStatus, lastError string
	if res.OK() {
		lastStatus = store.RunStatusSuccess
	} else {
		lastStatus = store.RunStatusError
		lastError = res.Message
		slog.Error("scheduled workflow failed", "id", st.ID, "workflow", st.Workflow, "error", res.Message)
	}

	// Computed from now rather than the missed slot so downtime does not
	// trigger a burst of catch-up runs.
	nextRun := schedule.CalculateNextRun(st.Schedule, s.now())

	if err := s.store.UpdateScheduleRun(st.ID, lastStatus, lastError, nextRun); err != nil {
		slog.Error("failed to update schedule run", "id", st.ID, "error", err)
	}

	s.publishExecuted(st, res)
}

func (s *Scheduler) publishExecuted(st store.ScheduleState, res workflow.Result) {
	if s.events == nil {
		return
	}
	ev := natsbus.NewEvent(natsbus.EventScheduleExecuted, map[string]any{
		"id":       st.ID,
		"workflow": st.Workflow,
		"run_id":   res.ID,
		"status":   res.Status,
	})
	if err := s.events.PublishJSON(natsbus.TopicEventsSchedule(st.ID), ev); err != nil {
		slog.Debug("publish schedule event failed", "id", st.ID, "error", err)
	}
}
