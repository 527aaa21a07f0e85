package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

type Agent struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Endpoint    string    `json:"endpoint"`
	Model       string    `json:"model,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// AgentStats summarises the run history of a single agent.
type AgentStats struct {
	Runs     int        `json:"runs"`
	Failures int        `json:"failures"`
	LastRun  *time.Time `json:"last_run,omitempty"`
}

func (s *Store) SaveAgent(a *Agent) error {
	_, err := s.db.Exec(`
		INSERT INTO agents (id, name, description, endpoint, model, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			endpoint = excluded.endpoint,
			model = excluded.model,
			updated_at = CURRENT_TIMESTAMP`,
		a.ID, a.Name, a.Description, a.Endpoint, a.Model)
	if err != nil {
		return fmt.Errorf("save agent: %w", err)
	}
	return nil
}

func (s *Store) GetAgent(id string) (*Agent, error) {
	a := &Agent{}
	var description, model sql.NullString
	err := s.db.QueryRow(`SELECT id, name, description, endpoint, model, created_at, updated_at FROM agents WHERE id = ?`, id).
		Scan(&a.ID, &a.Name, &description, &a.Endpoint, &model, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get agent: %w", err)
	}
	a.Description = description.String
	a.Model = model.String
	return a, nil
}

func (s *Store) ListAgents() ([]Agent, error) {
	rows, err := s.db.Query(`SELECT id, name, description, endpoint, model, created_at, updated_at FROM agents ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var agents []Agent
	for rows.Next() {
		var a Agent
		var description, model sql.NullString
		if err := rows.Scan(&a.ID, &a.Name, &description, &a.Endpoint, &model, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		a.Description = description.String
		a.Model = model.String
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

func (s *Store) DeleteAgentsNotIn(ids []string) error {
	if len(ids) == 0 {
		_, err := s.db.Exec(`DELETE FROM agents`)
		return err
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	_, err := s.db.Exec(`DELETE FROM agents WHERE id NOT IN (`+placeholders+`)`, args...)
	return err
}

// GetAgentStats returns per-agent run counts keyed by agent display name.
// Agent runs are recorded under the name the caller used.
func (s *Store) GetAgentStats() (map[string]AgentStats, error) {
	rows, err := s.db.Query(`
		SELECT target, COUNT(*),
		       SUM(CASE WHEN status = 'error' THEN 1 ELSE 0 END),
		       MAX(started_at)
		FROM runs WHERE kind = ? GROUP BY target`, RunKindAgent)
	if err != nil {
		return nil, fmt.Errorf("get agent stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]AgentStats)
	for rows.Next() {
		var target string
		var st AgentStats
		var last sql.NullString
		if err := rows.Scan(&target, &st.Runs, &st.Failures, &last); err != nil {
			return nil, fmt.Errorf("scan agent stats: %w", err)
		}
		if last.Valid {
			if t, err := parseSQLiteTime(last.String); err == nil {
				st.LastRun = &t
			}
		}
		stats[target] = st
	}
	return stats, rows.Err()
}

// Aggregates come back as text, so timestamps need parsing by hand.
func parseSQLiteTime(v string) (time.Time, error) {
	layouts := []string{
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05Z",
		time.RFC3339Nano,
	}
	for _, l := range layouts {
		if t, err := time.Parse(l, v); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised time %q", v)
}
