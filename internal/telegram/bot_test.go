package telegram

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/mtzanidakis/crewbridge/internal/health"
	"github.com/mtzanidakis/crewbridge/internal/invoker"
	"github.com/mtzanidakis/crewbridge/internal/natsbus"
	"github.com/mtzanidakis/crewbridge/internal/workflow"
)

func TestChunkMessage(t *testing.T) {
	// Short message
	chunks := chunkMessage("hello", maxMessageLen)
	if len(chunks) != 1 {
		t.Errorf("expected 1 chunk, got %d", len(chunks))
	}

	// Exact limit
	chunks = chunkMessage(strings.Repeat("a", 4096), maxMessageLen)
	if len(chunks) != 1 {
		t.Errorf("expected 1 chunk for exact limit, got %d", len(chunks))
	}

	// Over limit
	chunks = chunkMessage(strings.Repeat("a", 8192), maxMessageLen)
	if len(chunks) != 2 {
		t.Errorf("expected 2 chunks, got %d", len(chunks))
	}

	// Split at newline
	msg := []byte(strings.Repeat("a", 5000))
	msg[3000] = '\n'
	chunks = chunkMessage(string(msg), maxMessageLen)
	if len(chunks) != 2 {
		t.Errorf("expected 2 chunks with newline split, got %d", len(chunks))
	}
	if len(chunks[0]) != 3001 {
		t.Errorf("expected first chunk length 3001, got %d", len(chunks[0]))
	}
}

func TestChunkMessageKeepsRunesWhole(t *testing.T) {
	text := strings.Repeat("€", 3000)
	chunks := chunkMessage(text, maxMessageLen)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if !utf8.ValidString(c) {
			t.Errorf("chunk %d is not valid UTF-8", i)
		}
		if len(c) > maxMessageLen {
			t.Errorf("chunk %d: expected at most %d bytes, got %d", i, maxMessageLen, len(c))
		}
	}
	if strings.Join(chunks, "") != text {
		t.Error("expected chunks to reassemble the original text")
	}
}

func TestFormatAgentResultTruncatesOnRuneBoundary(t *testing.T) {
	out, _ := json.Marshal("x" + strings.Repeat("ñ", 2000))
	got := formatAgentResult(invoker.Result{Status: invoker.StatusSuccess, Agent: "Legal Agent", Output: out})
	if !utf8.ValidString(got) {
		t.Fatalf("expected valid UTF-8 reply, got invalid text of %d bytes", len(got))
	}
	if !strings.HasSuffix(got, "\n...") {
		t.Errorf("expected truncation marker, got suffix %q", got[len(got)-10:])
	}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		in, cmd, args string
		ok            bool
	}{
		{"/status", "status", "", true},
		{"/run@crewbot onboarding | hi", "run", "onboarding | hi", true},
		{"  /Agents  ", "agents", "", true},
		{"hello", "", "", false},
	}
	for _, tt := range tests {
		cmd, args, ok := parseCommand(tt.in)
		if cmd != tt.cmd || args != tt.args || ok != tt.ok {
			t.Errorf("parseCommand(%q) = %q, %q, %v", tt.in, cmd, args, ok)
		}
	}
}

type fakeService struct {
	agentName    string
	agentReq     invoker.Request
	workflowName string
	trigger      string
	wfResult     workflow.Result
}

func (f *fakeService) ListAgents() []string    { return []string{"Intake Agent", "Legal Agent"} }
func (f *fakeService) ListWorkflows() []string { return nil }

func (f *fakeService) LatestStatus(ctx context.Context) health.Snapshot {
	return health.Snapshot{Agents: map[string]health.Status{
		"Legal Agent":  health.Online,
		"Intake Agent": health.Offline,
	}}
}

func (f *fakeService) RunAgent(ctx context.Context, name string, req invoker.Request, trigger string) invoker.Result {
	f.agentName, f.agentReq, f.trigger = name, req, trigger
	return invoker.Result{Status: invoker.StatusSuccess, Agent: name, Output: json.RawMessage(`{"answer":"yes"}`)}
}

func (f *fakeService) RunWorkflow(ctx context.Context, name string, initial invoker.Request, trigger string) workflow.Result {
	f.workflowName, f.trigger = name, trigger
	return f.wfResult
}

func TestHandleCommandListings(t *testing.T) {
	svc := &fakeService{}
	ctx := context.Background()

	if got := handleCommand(ctx, svc, "/agents"); got != "Agents:\n- Intake Agent\n- Legal Agent" {
		t.Errorf("unexpected agents reply %q", got)
	}
	if got := handleCommand(ctx, svc, "/workflows"); got != "Workflows: none configured" {
		t.Errorf("unexpected workflows reply %q", got)
	}
	want := "1/2 agents online\nIntake Agent: offline\nLegal Agent: online"
	if got := handleCommand(ctx, svc, "/status"); got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
	if got := handleCommand(ctx, svc, "/bogus"); !strings.HasPrefix(got, "Unknown command /bogus") {
		t.Errorf("unexpected reply %q", got)
	}
}

func TestHandleCommandAgent(t *testing.T) {
	svc := &fakeService{}
	got := handleCommand(context.Background(), svc, "/agent Legal Agent | Can I sublet?")

	if svc.agentName != "Legal Agent" {
		t.Errorf("expected agent 'Legal Agent', got '%s'", svc.agentName)
	}
	if string(svc.agentReq.Input) != `"Can I sublet?"` {
		t.Errorf("unexpected input %s", svc.agentReq.Input)
	}
	if svc.agentReq.Language != "en" {
		t.Errorf("expected default language 'en', got '%s'", svc.agentReq.Language)
	}
	if svc.trigger != "telegram" {
		t.Errorf("expected trigger 'telegram', got '%s'", svc.trigger)
	}
	if !strings.Contains(got, `"answer": "yes"`) {
		t.Errorf("expected agent output in reply, got %q", got)
	}

	if got := handleCommand(context.Background(), svc, "/agent Legal Agent"); !strings.HasPrefix(got, "Usage:") {
		t.Errorf("expected usage, got %q", got)
	}
}

func TestHandleCommandRunFailure(t *testing.T) {
	svc := &fakeService{wfResult: workflow.Result{
		ID:       "run-1",
		Status:   invoker.StatusError,
		Workflow: "onboarding",
		Name:     "Client Onboarding",
		Message:  "Workflow failed at step legal",
		Failure: &workflow.FailureDetail{
			Step:   2,
			Agent:  "Legal Agent",
			Result: invoker.Result{Message: "API request failed with status 500"},
		},
	}}

	got := handleCommand(context.Background(), svc, "/run onboarding | new client")
	want := "Workflow Client Onboarding failed: Workflow failed at step legal\n" +
		"Step 2 (Legal Agent): API request failed with status 500\nRun: run-1"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
	if svc.workflowName != "onboarding" {
		t.Errorf("expected workflow 'onboarding', got '%s'", svc.workflowName)
	}
}

func TestFailureNotice(t *testing.T) {
	ev := natsbus.NewEvent(natsbus.EventWorkflowFailed, map[string]any{
		"id":       "run-9",
		"workflow": "onboarding",
		"name":     "Client Onboarding",
		"message":  "Workflow failed at step legal",
		"step":     2,
		"agent":    "Legal Agent",
		"details":  "API request failed with status 502",
	})
	text, ok := failureNotice(ev)
	if !ok {
		t.Fatal("expected notice for workflow_failed")
	}
	want := "Workflow Client Onboarding failed: Workflow failed at step legal\n" +
		"Step 2 (Legal Agent): API request failed with status 502\nRun: run-9"
	if text != want {
		t.Errorf("expected %q, got %q", want, text)
	}

	if _, ok := failureNotice(natsbus.NewEvent(natsbus.EventWorkflowCompleted, map[string]any{})); ok {
		t.Error("expected no notice for completed workflow")
	}
}
