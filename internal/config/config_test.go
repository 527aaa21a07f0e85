package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := defaults()

	if cfg.Bridge.BaseURL != "http://localhost:3000" {
		t.Errorf("expected default base url http://localhost:3000, got %s", cfg.Bridge.BaseURL)
	}
	if cfg.Bridge.HealthPath != "/health" {
		t.Errorf("expected health path /health, got %s", cfg.Bridge.HealthPath)
	}
	if cfg.Bridge.Timeout != 60*time.Second {
		t.Errorf("expected timeout 60s, got %v", cfg.Bridge.Timeout)
	}
	if cfg.Bridge.DefaultLanguage != "en" {
		t.Errorf("expected default language en, got %s", cfg.Bridge.DefaultLanguage)
	}
	if cfg.Web.Port != 8080 {
		t.Errorf("expected web port 8080, got %d", cfg.Web.Port)
	}
	if cfg.Store.Path != "data/crewbridge.db" {
		t.Errorf("expected store path data/crewbridge.db, got %s", cfg.Store.Path)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected defaults to validate, got %v", err)
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	t.Setenv("CREWBRIDGE_CONFIG", "/nonexistent/config.yaml")
	t.Setenv("CREWBRIDGE_BASE_URL", "http://agents.internal:9000")
	t.Setenv("CREWBRIDGE_WEB_PASSWORD", "secret")
	t.Setenv("CREWBRIDGE_WEB_PORT", "9090")
	t.Setenv("CREWBRIDGE_TELEGRAM_CHAT_ID", "-100123")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Bridge.BaseURL != "http://agents.internal:9000" {
		t.Errorf("expected base url override, got %s", cfg.Bridge.BaseURL)
	}
	if cfg.Web.Auth != "secret" {
		t.Errorf("expected web auth secret, got %s", cfg.Web.Auth)
	}
	if cfg.Web.Port != 9090 {
		t.Errorf("expected web port 9090, got %d", cfg.Web.Port)
	}
	if cfg.Telegram.ChatID != -100123 {
		t.Errorf("expected chat id -100123, got %d", cfg.Telegram.ChatID)
	}
}

const validYAML = `
bridge:
  base_url: "http://localhost:3000"
  timeout: 15s
agents:
  legal_consultation:
    name: "Legal Consultation Agent"
    endpoint: "/api/agents/legal-consultation"
    model: "gpt-4"
    temperature: 0.7
    max_iterations: 3
  lead_validation:
    name: "Lead Validation Agent"
    endpoint: "/api/agents/lead-validation"
    model: "gpt-4"
    temperature: 0.2
    max_iterations: 2
workflows:
  complete_client_onboarding:
    name: "Complete Client Onboarding"
    steps:
      - agent: lead_validation
      - agent: legal_consultation
schedules:
  - name: nightly
    workflow: complete_client_onboarding
    input: "daily digest"
    cron: "0 2 * * *"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFromYAML(t *testing.T) {
	t.Setenv("CREWBRIDGE_CONFIG", writeConfig(t, validYAML))
	t.Setenv("CREWBRIDGE_BASE_URL", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Bridge.Timeout != 15*time.Second {
		t.Errorf("expected timeout 15s, got %v", cfg.Bridge.Timeout)
	}
	// Untouched fields keep their defaults
	if cfg.Bridge.HealthPath != "/health" {
		t.Errorf("expected default health path, got %s", cfg.Bridge.HealthPath)
	}
	if len(cfg.Agents) != 2 {
		t.Fatalf("expected 2 agents, got %d", len(cfg.Agents))
	}
	lc := cfg.Agents["legal_consultation"]
	if lc.Name != "Legal Consultation Agent" || lc.MaxIterations != 3 || lc.Temperature != 0.7 {
		t.Errorf("unexpected agent definition: %+v", lc)
	}
	wf := cfg.Workflows["complete_client_onboarding"]
	if len(wf.Steps) != 2 || wf.Steps[0].Agent != "lead_validation" {
		t.Errorf("unexpected workflow steps: %+v", wf.Steps)
	}
	if len(cfg.Schedules) != 1 || cfg.Schedules[0].Cron != "0 2 * * *" {
		t.Errorf("unexpected schedules: %+v", cfg.Schedules)
	}
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("AGENT_MODEL", "claude-sonnet")
	path := writeConfig(t, `
agents:
  a:
    name: "A"
    endpoint: "/a"
    model: "${AGENT_MODEL}"
    max_iterations: 1
`)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Agents["a"].Model != "claude-sonnet" {
		t.Errorf("expected expanded model, got %q", cfg.Agents["a"].Model)
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	_, err := LoadFile(writeConfig(t, "agents: [this is: not a map"))
	if err == nil {
		t.Fatal("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "missing endpoint",
			yaml: `
agents:
  a: {name: "A", model: "m", max_iterations: 1}
`,
			want: "endpoint",
		},
		{
			name: "missing name",
			yaml: `
agents:
  a: {endpoint: "/a", model: "m", max_iterations: 1}
`,
			want: "name is required",
		},
		{
			name: "duplicate agent name",
			yaml: `
agents:
  a: {name: "Same", endpoint: "/a", model: "m", max_iterations: 1}
  b: {name: "Same", endpoint: "/b", model: "m", max_iterations: 1}
`,
			want: "already used",
		},
		{
			name: "unknown step agent",
			yaml: `
agents:
  a: {name: "A", endpoint: "/a", model: "m", max_iterations: 1}
workflows:
  w:
    steps:
      - agent: missing
`,
			want: `unknown agent "missing"`,
		},
		{
			name: "empty workflow",
			yaml: `
workflows:
  w: {steps: []}
`,
			want: "at least one step",
		},
		{
			name: "workflow name shadows another key",
			yaml: `
agents:
  a: {name: "A", endpoint: "/a", model: "m", max_iterations: 1}
workflows:
  intake:
    steps: [{agent: a}]
  onboarding:
    name: intake
    steps: [{agent: a}]
`,
			want: `collides with workflow key intake`,
		},
		{
			name: "bad cron",
			yaml: `
agents:
  a: {name: "A", endpoint: "/a", model: "m", max_iterations: 1}
workflows:
  w:
    steps: [{agent: a}]
schedules:
  - workflow: w
    cron: "every day"
`,
			want: "invalid cron",
		},
		{
			name: "schedule without timing",
			yaml: `
agents:
  a: {name: "A", endpoint: "/a", model: "m", max_iterations: 1}
workflows:
  w:
    steps: [{agent: a}]
schedules:
  - workflow: w
`,
			want: "cron or every is required",
		},
		{
			name: "schedule with both timings",
			yaml: `
agents:
  a: {name: "A", endpoint: "/a", model: "m", max_iterations: 1}
workflows:
  w:
    steps: [{agent: a}]
schedules:
  - workflow: w
    cron: "* * * * *"
    every: 5m
`,
			want: "not both",
		},
		{
			name: "bad temperature",
			yaml: `
agents:
  a: {name: "A", endpoint: "/a", model: "m", temperature: 3, max_iterations: 1}
`,
			want: "temperature",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFile(writeConfig(t, tt.yaml))
			if err == nil {
				t.Fatal("expected validation error")
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected *ValidationError, got %T", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %q", tt.want, err.Error())
			}
		})
	}
}
