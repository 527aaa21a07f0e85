package registry

import (
	"errors"
	"fmt"
	"sort"

	"github.com/mtzanidakis/crewbridge/internal/config"
	"github.com/mtzanidakis/crewbridge/internal/store"
)

var (
	ErrAgentNotFound    = errors.New("agent not found")
	ErrWorkflowNotFound = errors.New("workflow not found")
)

// Agent describes a remote agent and its default execution parameters.
type Agent struct {
	Key           string  `json:"key"`
	Name          string  `json:"name"`
	Description   string  `json:"description,omitempty"`
	Endpoint      string  `json:"endpoint"`
	Model         string  `json:"model"`
	Temperature   float64 `json:"temperature"`
	MaxIterations int     `json:"max_iterations"`
}

type Step struct {
	AgentKey string `json:"agent"`
}

type Workflow struct {
	Key         string `json:"key"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Steps       []Step `json:"steps"`
}

// Registry is the read-only directory of agents and workflows. It is built
// once from configuration and safe for concurrent readers.
type Registry struct {
	byKey       map[string]Agent
	byName      map[string]Agent
	workflows   map[string]Workflow
	workflowsBy map[string]Workflow // display name -> workflow
}

func New(agents map[string]config.AgentDefinition, workflows map[string]config.WorkflowDefinition) (*Registry, error) {
	r := &Registry{
		byKey:       make(map[string]Agent, len(agents)),
		byName:      make(map[string]Agent, len(agents)),
		workflows:   make(map[string]Workflow, len(workflows)),
		workflowsBy: make(map[string]Workflow, len(workflows)),
	}

	for key, def := range agents {
		if def.Name == "" || def.Endpoint == "" {
			return nil, fmt.Errorf("agent %s: name and endpoint are required", key)
		}
		if other, dup := r.byName[def.Name]; dup {
			return nil, fmt.Errorf("agent %s: duplicate name %q (also %s)", key, def.Name, other.Key)
		}
		a := Agent{
			Key:           key,
			Name:          def.Name,
			Description:   def.Description,
			Endpoint:      def.Endpoint,
			Model:         def.Model,
			Temperature:   def.Temperature,
			MaxIterations: def.MaxIterations,
		}
		r.byKey[key] = a
		r.byName[a.Name] = a
	}

	for key, def := range workflows {
		wf := Workflow{
			Key:         key,
			Name:        def.Name,
			Description: def.Description,
			Steps:       make([]Step, 0, len(def.Steps)),
		}
		if wf.Name == "" {
			wf.Name = key
		}
		for i, s := range def.Steps {
			if _, ok := r.byKey[s.Agent]; !ok {
				return nil, fmt.Errorf("workflow %s: step %d: %w: %s", key, i+1, ErrAgentNotFound, s.Agent)
			}
			wf.Steps = append(wf.Steps, Step{AgentKey: s.Agent})
		}
		if other, dup := r.workflowsBy[wf.Name]; dup {
			return nil, fmt.Errorf("workflow %s: duplicate name %q (also %s)", key, wf.Name, other.Key)
		}
		r.workflows[key] = wf
		r.workflowsBy[wf.Name] = wf
	}

	return r, nil
}

func (r *Registry) AgentByKey(key string) (Agent, error) {
	a, ok := r.byKey[key]
	if !ok {
		return Agent{}, fmt.Errorf("%w: %s", ErrAgentNotFound, key)
	}
	return a, nil
}

func (r *Registry) AgentByName(name string) (Agent, error) {
	a, ok := r.byName[name]
	if !ok {
		return Agent{}, fmt.Errorf("%w: %s", ErrAgentNotFound, name)
	}
	return a, nil
}

// Workflow resolves a workflow by key, falling back to its display name.
func (r *Registry) Workflow(name string) (Workflow, error) {
	if wf, ok := r.workflows[name]; ok {
		return wf, nil
	}
	if wf, ok := r.workflowsBy[name]; ok {
		return wf, nil
	}
	return Workflow{}, fmt.Errorf("%w: %s", ErrWorkflowNotFound, name)
}

// Agents returns all agents ordered by display name.
func (r *Registry) Agents() []Agent {
	out := make([]Agent, 0, len(r.byKey))
	for _, a := range r.byKey {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Workflows returns all workflows ordered by display name.
func (r *Registry) Workflows() []Workflow {
	out := make([]Workflow, 0, len(r.workflows))
	for _, wf := range r.workflows {
		out = append(out, wf)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Sync mirrors the configured agents into the store so run history can be
// joined against current agent metadata. Agents no longer configured are
// removed.
func (r *Registry) Sync(s *store.Store) error {
	ids := make([]string, 0, len(r.byKey))
	for key, a := range r.byKey {
		ids = append(ids, key)
		rec := &store.Agent{
			ID:          key,
			Name:        a.Name,
			Description: a.Description,
			Endpoint:    a.Endpoint,
			Model:       a.Model,
		}
		if err := s.SaveAgent(rec); err != nil {
			return fmt.Errorf("save agent %s: %w", key, err)
		}
	}

	if err := s.DeleteAgentsNotIn(ids); err != nil {
		return fmt.Errorf("delete stale agents: %w", err)
	}
	return nil
}
