package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// ScheduleState is the persisted runtime state of a configured schedule.
type ScheduleState struct {
	ID         string     `json:"id"`
	Workflow   string     `json:"workflow"`
	Schedule   string     `json:"schedule"`
	Input      string     `json:"input,omitempty"`
	NextRunAt  *time.Time `json:"next_run_at,omitempty"`
	LastRunAt  *time.Time `json:"last_run_at,omitempty"`
	LastStatus string     `json:"last_status,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

const scheduleColumns = `id, workflow, schedule, input, next_run_at, last_run_at, last_status, last_error, created_at`

func scanSchedule(sc scanner) (*ScheduleState, error) {
	st := &ScheduleState{}
	var input, lastStatus, lastError sql.NullString
	err := sc.Scan(&st.ID, &st.Workflow, &st.Schedule, &input, &st.NextRunAt, &st.LastRunAt, &lastStatus, &lastError, &st.CreatedAt)
	if err != nil {
		return nil, err
	}
	st.Input = input.String
	st.LastStatus = lastStatus.String
	st.LastError = lastError.String
	return st, nil
}

// SaveSchedule upserts a schedule definition. The next run is only replaced
// when the timing changed, so restarts do not skip pending runs.
func (s *Store) SaveSchedule(st *ScheduleState) error {
	_, err := s.db.Exec(`
		INSERT INTO schedules (id, workflow, schedule, input, next_run_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			workflow = excluded.workflow,
			input = excluded.input,
			next_run_at = CASE WHEN schedules.schedule != excluded.schedule OR schedules.next_run_at IS NULL
				THEN excluded.next_run_at ELSE schedules.next_run_at END,
			schedule = excluded.schedule`,
		st.ID, st.Workflow, st.Schedule, st.Input, st.NextRunAt)
	if err != nil {
		return fmt.Errorf("save schedule: %w", err)
	}
	return nil
}

func (s *Store) GetSchedule(id string) (*ScheduleState, error) {
	row := s.db.QueryRow(`SELECT `+scheduleColumns+` FROM schedules WHERE id = ?`, id)
	st, err := scanSchedule(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get schedule: %w", err)
	}
	return st, nil
}

func (s *Store) ListSchedules() ([]ScheduleState, error) {
	return s.querySchedules(`SELECT ` + scheduleColumns + ` FROM schedules ORDER BY id`)
}

func (s *Store) GetDueSchedules(now time.Time) ([]ScheduleState, error) {
	return s.querySchedules(`SELECT `+scheduleColumns+` FROM schedules
		WHERE next_run_at IS NOT NULL AND next_run_at <= ?
		ORDER BY next_run_at`, now)
}

func (s *Store) querySchedules(query string, args ...any) ([]ScheduleState, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()

	var out []ScheduleState
	for rows.Next() {
		st, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		out = append(out, *st)
	}
	return out, rows.Err()
}

func (s *Store) UpdateScheduleRun(id, lastStatus, lastError string, nextRunAt *time.Time) error {
	_, err := s.db.Exec(`
		UPDATE schedules
		SET last_run_at = CURRENT_TIMESTAMP, last_status = ?, last_error = ?, next_run_at = ?
		WHERE id = ?`, lastStatus, lastError, nextRunAt, id)
	if err != nil {
		return fmt.Errorf("update schedule run: %w", err)
	}
	return nil
}

func (s *Store) DeleteSchedulesNotIn(ids []string) error {
	if len(ids) == 0 {
		_, err := s.db.Exec(`DELETE FROM schedules`)
		return err
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	_, err := s.db.Exec(`DELETE FROM schedules WHERE id NOT IN (`+placeholders+`)`, args...)
	return err
}
