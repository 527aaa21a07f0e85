package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/mtzanidakis/crewbridge/internal/bridge"
	"github.com/mtzanidakis/crewbridge/internal/invoker"
	"github.com/mtzanidakis/crewbridge/internal/schedule"
	"github.com/mtzanidakis/crewbridge/internal/store"
)

const (
	defaultRunLimit = 50
	maxRunLimit     = 500
)

func (s *Server) registerAPI(mux *http.ServeMux) {
	// Directory
	mux.HandleFunc("GET /api/agents", s.listAgents)
	mux.HandleFunc("GET /api/workflows", s.listWorkflows)

	// Execution
	mux.HandleFunc("POST /api/agents/{name}/execute", s.executeAgent)
	mux.HandleFunc("POST /api/workflows/{name}/execute", s.executeWorkflow)

	// History
	mux.HandleFunc("GET /api/runs", s.listRuns)
	mux.HandleFunc("GET /api/runs/{id}", s.getRun)
	mux.HandleFunc("GET /api/schedules", s.listSchedules)

	// Secrets
	mux.HandleFunc("GET /api/secrets", s.listSecrets)
	mux.HandleFunc("PUT /api/secrets/{name}", s.putSecret)
	mux.HandleFunc("DELETE /api/secrets/{name}", s.deleteSecret)

	// System
	mux.HandleFunc("GET /api/status", s.getStatus)
}

func (s *Server) listAgents(w http.ResponseWriter, r *http.Request) {
	snap := s.bridge.LatestStatus(r.Context())

	var stats map[string]store.AgentStats
	if s.store != nil {
		var err error
		if stats, err = s.store.GetAgentStats(); err != nil {
			jsonError(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}

	agents := s.bridge.Registry().Agents()
	out := make([]map[string]any, 0, len(agents))
	for _, a := range agents {
		entry := map[string]any{
			"key":            a.Key,
			"name":           a.Name,
			"description":    a.Description,
			"endpoint":       a.Endpoint,
			"model":          a.Model,
			"temperature":    a.Temperature,
			"max_iterations": a.MaxIterations,
			"status":         snap.Agents[a.Name],
		}
		st := stats[a.Name]
		entry["runs"] = st.Runs
		entry["failures"] = st.Failures
		if st.LastRun != nil {
			entry["last_run"] = st.LastRun.UTC()
		}
		out = append(out, entry)
	}
	jsonResponse(w, out)
}

func (s *Server) listWorkflows(w http.ResponseWriter, r *http.Request) {
	reg := s.bridge.Registry()
	wfs := reg.Workflows()
	out := make([]map[string]any, 0, len(wfs))
	for _, wf := range wfs {
		steps := make([]map[string]string, 0, len(wf.Steps))
		for _, step := range wf.Steps {
			name := step.AgentKey
			if a, err := reg.AgentByKey(step.AgentKey); err == nil {
				name = a.Name
			}
			steps = append(steps, map[string]string{"agent": step.AgentKey, "name": name})
		}
		out = append(out, map[string]any{
			"key":         wf.Key,
			"name":        wf.Name,
			"description": wf.Description,
			"steps":       steps,
		})
	}
	jsonResponse(w, out)
}

type executeRequest struct {
	Input         json.RawMessage `json:"input"`
	Language      string          `json:"language"`
	Temperature   *float64        `json:"temperature"`
	MaxIterations *int            `json:"max_iterations"`
}

func decodeExecute(r *http.Request) (invoker.Request, error) {
	var body executeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return invoker.Request{}, errors.New("invalid request body")
	}
	if len(body.Input) == 0 || string(body.Input) == "null" {
		return invoker.Request{}, errors.New("input is required")
	}
	return invoker.Request{
		Input:         body.Input,
		Language:      body.Language,
		Temperature:   body.Temperature,
		MaxIterations: body.MaxIterations,
	}, nil
}

func (s *Server) executeAgent(w http.ResponseWriter, r *http.Request) {
	req, err := decodeExecute(r)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	res := s.bridge.RunAgent(r.Context(), r.PathValue("name"), req, bridge.TriggerAPI)
	jsonResult(w, res, res.Kind)
}

func (s *Server) executeWorkflow(w http.ResponseWriter, r *http.Request) {
	req, err := decodeExecute(r)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	// Step overrides apply to the first step only; the engine does not
	// carry them along the chain.
	res := s.bridge.RunWorkflow(r.Context(), r.PathValue("name"), req, bridge.TriggerAPI)
	jsonResult(w, res, res.Kind)
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.RunFilter{
		Kind:   q.Get("kind"),
		Target: q.Get("target"),
		Limit:  defaultRunLimit,
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			jsonError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		filter.Limit = min(n, maxRunLimit)
	}

	runs, err := s.store.ListRuns(filter)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []store.Run{}
	}
	jsonResponse(w, runs)
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(r.PathValue("id"))
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if run == nil {
		jsonError(w, "run not found", http.StatusNotFound)
		return
	}
	jsonResponse(w, run)
}

func (s *Server) listSchedules(w http.ResponseWriter, r *http.Request) {
	states, err := s.store.ListSchedules()
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out := make([]map[string]any, 0, len(states))
	for _, st := range states {
		out = append(out, map[string]any{
			"id":          st.ID,
			"workflow":    st.Workflow,
			"schedule":    schedule.FormatSchedule(st.Schedule),
			"input":       st.Input,
			"next_run_at": st.NextRunAt,
			"last_run_at": st.LastRunAt,
			"last_status": st.LastStatus,
			"last_error":  st.LastError,
		})
	}
	jsonResponse(w, out)
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.bridge.LatestStatus(r.Context())
	if r.URL.Query().Get("refresh") == "true" {
		snap = s.bridge.GetStatus(r.Context())
	}

	natsStatus := "disabled"
	if s.events != nil {
		natsStatus = "ok"
	}

	jsonResponse(w, map[string]any{
		"status":       "ok",
		"version":      s.version,
		"uptime":       formatUptime(time.Since(s.startedAt)),
		"agents":       snap.Agents,
		"agents_count": len(snap.Agents),
		"online":       snap.Online(),
		"checked_at":   snap.Timestamp,
		"workflows":    len(s.bridge.ListWorkflows()),
		"nats":         natsStatus,
		"timestamp":    time.Now().UTC(),
	})
}

// resultCode maps a failed execution to an HTTP status. The body always
// carries the full result.
func resultCode(kind invoker.ErrorKind) int {
	switch kind {
	case "":
		return http.StatusOK
	case invoker.KindConfiguration:
		return http.StatusNotFound
	case invoker.KindCancellation:
		return http.StatusRequestTimeout
	default:
		return http.StatusBadGateway
	}
}

func formatUptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	mins := int(d.Minutes()) % 60
	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, mins)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, mins)
	}
	return fmt.Sprintf("%dm", mins)
}

func jsonResult(w http.ResponseWriter, data any, kind invoker.ErrorKind) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resultCode(kind))
	json.NewEncoder(w).Encode(data)
}

func jsonResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
