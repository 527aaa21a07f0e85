package registry

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/mtzanidakis/crewbridge/internal/config"
	"github.com/mtzanidakis/crewbridge/internal/store"
)

func testAgents() map[string]config.AgentDefinition {
	return map[string]config.AgentDefinition{
		"legal_consultation": {
			Name:          "Legal Consultation Agent",
			Endpoint:      "/api/agents/legal-consultation",
			Model:         "gpt-4",
			Temperature:   0.7,
			MaxIterations: 3,
		},
		"case_intake": {
			Name:          "Case Intake Agent",
			Endpoint:      "/api/agents/case-intake",
			Model:         "gpt-4",
			Temperature:   0.3,
			MaxIterations: 2,
		},
	}
}

func testWorkflows() map[string]config.WorkflowDefinition {
	return map[string]config.WorkflowDefinition{
		"complete_client_onboarding": {
			Name: "Complete Client Onboarding",
			Steps: []config.StepDefinition{
				{Agent: "case_intake"},
				{Agent: "legal_consultation"},
			},
		},
		"quick_consult": {
			Steps: []config.StepDefinition{{Agent: "legal_consultation"}},
		},
	}
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	reg, err := New(testAgents(), testWorkflows())
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	return reg
}

func TestLookupByKeyAndName(t *testing.T) {
	reg := newTestRegistry(t)

	a, err := reg.AgentByKey("case_intake")
	if err != nil {
		t.Fatalf("lookup by key: %v", err)
	}
	if a.Name != "Case Intake Agent" {
		t.Errorf("expected name 'Case Intake Agent', got %q", a.Name)
	}

	b, err := reg.AgentByName("Legal Consultation Agent")
	if err != nil {
		t.Fatalf("lookup by name: %v", err)
	}
	if b.Key != "legal_consultation" || b.MaxIterations != 3 {
		t.Errorf("unexpected agent: %+v", b)
	}

	if _, err := reg.AgentByKey("nope"); !errors.Is(err, ErrAgentNotFound) {
		t.Errorf("expected ErrAgentNotFound, got %v", err)
	}
	if _, err := reg.AgentByName("Nope Agent"); !errors.Is(err, ErrAgentNotFound) {
		t.Errorf("expected ErrAgentNotFound, got %v", err)
	}
}

func TestWorkflowLookup(t *testing.T) {
	reg := newTestRegistry(t)

	wf, err := reg.Workflow("complete_client_onboarding")
	if err != nil {
		t.Fatalf("lookup workflow by key: %v", err)
	}
	if len(wf.Steps) != 2 || wf.Steps[0].AgentKey != "case_intake" {
		t.Errorf("unexpected steps: %+v", wf.Steps)
	}

	byName, err := reg.Workflow("Complete Client Onboarding")
	if err != nil {
		t.Fatalf("lookup workflow by name: %v", err)
	}
	if byName.Key != "complete_client_onboarding" {
		t.Errorf("expected key complete_client_onboarding, got %q", byName.Key)
	}

	// Display name defaults to the key
	quick, err := reg.Workflow("quick_consult")
	if err != nil {
		t.Fatalf("lookup quick_consult: %v", err)
	}
	if quick.Name != "quick_consult" {
		t.Errorf("expected display name quick_consult, got %q", quick.Name)
	}

	if _, err := reg.Workflow("missing"); !errors.Is(err, ErrWorkflowNotFound) {
		t.Errorf("expected ErrWorkflowNotFound, got %v", err)
	}
}

func TestListingIsSortedByName(t *testing.T) {
	reg := newTestRegistry(t)

	agents := reg.Agents()
	if len(agents) != 2 {
		t.Fatalf("expected 2 agents, got %d", len(agents))
	}
	if agents[0].Name != "Case Intake Agent" {
		t.Errorf("expected Case Intake Agent first, got %q", agents[0].Name)
	}

	wfs := reg.Workflows()
	if len(wfs) != 2 || wfs[0].Name != "Complete Client Onboarding" {
		t.Errorf("unexpected workflow order: %+v", wfs)
	}
}

func TestNewRejectsBrokenDefinitions(t *testing.T) {
	agents := testAgents()
	agents["dup"] = config.AgentDefinition{Name: "Case Intake Agent", Endpoint: "/dup"}
	if _, err := New(agents, nil); err == nil {
		t.Error("expected duplicate name error")
	}

	wfs := map[string]config.WorkflowDefinition{
		"broken": {Steps: []config.StepDefinition{{Agent: "ghost"}}},
	}
	_, err := New(testAgents(), wfs)
	if !errors.Is(err, ErrAgentNotFound) {
		t.Errorf("expected ErrAgentNotFound for unknown step agent, got %v", err)
	}
}

func TestSync(t *testing.T) {
	reg := newTestRegistry(t)
	s, err := store.New(config.StoreConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	// Pre-seed a stale agent
	_ = s.SaveAgent(&store.Agent{ID: "stale", Name: "Stale", Endpoint: "/stale"})

	if err := reg.Sync(s); err != nil {
		t.Fatalf("sync: %v", err)
	}

	agents, err := s.ListAgents()
	if err != nil {
		t.Fatalf("list agents: %v", err)
	}
	if len(agents) != 2 {
		t.Fatalf("expected 2 agents, got %d", len(agents))
	}

	stale, err := s.GetAgent("stale")
	if err != nil {
		t.Fatalf("get stale: %v", err)
	}
	if stale != nil {
		t.Error("expected stale agent to be deleted")
	}
}
