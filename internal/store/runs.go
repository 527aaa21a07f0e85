package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const (
	RunKindAgent    = "agent"
	RunKindWorkflow = "workflow"

	RunStatusRunning = "running"
	RunStatusSuccess = "success"
	RunStatusError   = "error"
)

// Run is one recorded agent or workflow execution.
type Run struct {
	ID          string          `json:"id"`
	Kind        string          `json:"kind"`
	Target      string          `json:"target"`
	Status      string          `json:"status"`
	Input       json.RawMessage `json:"input,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	Trigger     string          `json:"trigger,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// RunFilter narrows ListRuns. Zero values match everything.
type RunFilter struct {
	Kind   string
	Target string
	Limit  int
}

const runColumns = `id, kind, target, status, input, result, error, trigger, started_at, completed_at`

func scanRun(sc scanner) (*Run, error) {
	r := &Run{}
	var input, result, errMsg, trigger sql.NullString
	err := sc.Scan(&r.ID, &r.Kind, &r.Target, &r.Status, &input, &result, &errMsg, &trigger, &r.StartedAt, &r.CompletedAt)
	if err != nil {
		return nil, err
	}
	if input.Valid && input.String != "" {
		r.Input = json.RawMessage(input.String)
	}
	if result.Valid && result.String != "" {
		r.Result = json.RawMessage(result.String)
	}
	r.Error = errMsg.String
	r.Trigger = trigger.String
	return r, nil
}

func nullJSON(m json.RawMessage) any {
	if len(m) == 0 {
		return nil
	}
	return string(m)
}

// SaveRun inserts a run, or updates status, result and error of an existing
// one. completed_at is set once the run leaves the running state.
func (s *Store) SaveRun(r *Run) error {
	if r.Status == "" {
		r.Status = RunStatusRunning
	}
	_, err := s.db.Exec(`
		INSERT INTO runs (id, kind, target, status, input, result, error, trigger)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			result = excluded.result,
			error = excluded.error,
			completed_at = CASE WHEN excluded.status != 'running' THEN CURRENT_TIMESTAMP ELSE completed_at END`,
		r.ID, r.Kind, r.Target, r.Status, nullJSON(r.Input), nullJSON(r.Result), r.Error, r.Trigger)
	if err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	return nil
}

func (s *Store) FinishRun(id, status string, result json.RawMessage, errMsg string) error {
	res, err := s.db.Exec(`
		UPDATE runs SET status = ?, result = ?, error = ?, completed_at = CURRENT_TIMESTAMP
		WHERE id = ?`, status, nullJSON(result), errMsg, id)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish run: run %s not found", id)
	}
	return nil
}

func (s *Store) GetRun(id string) (*Run, error) {
	row := s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// ListRuns returns runs newest first.
func (s *Store) ListRuns(f RunFilter) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE 1=1`
	var args []any
	if f.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, f.Kind)
	}
	if f.Target != "" {
		query += ` AND target = ?`
		args = append(args, f.Target)
	}
	query += ` ORDER BY started_at DESC, rowid DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// PruneRuns deletes finished runs that started before the cutoff.
func (s *Store) PruneRuns(before time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM runs WHERE status != 'running' AND started_at < ?`,
		before.UTC().Format("2006-01-02 15:04:05"))
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	return res.RowsAffected()
}
