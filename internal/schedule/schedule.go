// Package schedule encodes workflow schedule timing and computes next runs.
package schedule

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/adhocore/gronx"

	"github.com/mtzanidakis/crewbridge/internal/config"
)

const (
	KindCron     = "cron"
	KindInterval = "interval"
)

type Schedule struct {
	Kind       string `json:"kind"`                  // "cron" or "interval"
	CronExpr   string `json:"cron_expr,omitempty"`   // if kind=cron
	IntervalMs int64  `json:"interval_ms,omitempty"` // if kind=interval
}

// FromDefinition converts a configured schedule into its stored form.
func FromDefinition(def config.ScheduleDefinition) (Schedule, error) {
	switch {
	case def.Cron != "" && def.Every != 0:
		return Schedule{}, fmt.Errorf("schedule %s: set either cron or every", def.Name)
	case def.Cron != "":
		expr := strings.TrimSpace(def.Cron)
		if !gronx.New().IsValid(expr) {
			return Schedule{}, fmt.Errorf("invalid cron expression: %s", expr)
		}
		return Schedule{Kind: KindCron, CronExpr: expr}, nil
	case def.Every > 0:
		return Schedule{Kind: KindInterval, IntervalMs: def.Every.Milliseconds()}, nil
	default:
		return Schedule{}, fmt.Errorf("schedule %s: no timing", def.Name)
	}
}

func ParseSchedule(raw string) (*Schedule, error) {
	var s Schedule
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s Schedule) Encode() string {
	data, _ := json.Marshal(s)
	return string(data)
}

// Next returns the first run strictly after from, or nil if the schedule
// cannot produce one.
func (s Schedule) Next(from time.Time) *time.Time {
	var next time.Time
	switch s.Kind {
	case KindCron:
		t, err := gronx.NextTickAfter(s.CronExpr, from, false)
		if err != nil {
			return nil
		}
		next = t
	case KindInterval:
		if s.IntervalMs <= 0 {
			return nil
		}
		next = from.Add(time.Duration(s.IntervalMs) * time.Millisecond)
	default:
		return nil
	}
	return &next
}

// CalculateNextRun parses an encoded schedule and returns its next run after
// now.
func CalculateNextRun(scheduleJSON string, now time.Time) *time.Time {
	s, err := ParseSchedule(scheduleJSON)
	if err != nil {
		return nil
	}
	return s.Next(now)
}

// FormatSchedule returns a human-readable description of an encoded schedule.
func FormatSchedule(scheduleJSON string) string {
	s, err := ParseSchedule(scheduleJSON)
	if err != nil {
		return scheduleJSON
	}

	switch s.Kind {
	case KindCron:
		return s.CronExpr
	case KindInterval:
		d := time.Duration(s.IntervalMs) * time.Millisecond
		switch {
		case d%time.Hour == 0 && d >= time.Hour:
			h := int(d.Hours())
			if h == 1 {
				return "Every hour"
			}
			return fmt.Sprintf("Every %d hours", h)
		case d%time.Minute == 0 && d >= time.Minute:
			m := int(d.Minutes())
			if m == 1 {
				return "Every minute"
			}
			return fmt.Sprintf("Every %d minutes", m)
		default:
			return fmt.Sprintf("Every %d seconds", int(d.Seconds()))
		}
	default:
		return scheduleJSON
	}
}
