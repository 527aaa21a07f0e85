// Package bridge exposes the orchestrator's entry points: single agent
// execution, workflow execution, listings and agent status. Every execution
// is recorded in the run history when a store is attached.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/mtzanidakis/crewbridge/internal/health"
	"github.com/mtzanidakis/crewbridge/internal/invoker"
	"github.com/mtzanidakis/crewbridge/internal/registry"
	"github.com/mtzanidakis/crewbridge/internal/store"
	"github.com/mtzanidakis/crewbridge/internal/workflow"
)

// Defaults applied by ExecuteAgent when the caller leaves an option unset.
const (
	DefaultTemperature   = 0.7
	DefaultMaxIterations = 3
	DefaultLanguage      = "English"
)

// Triggers recorded with each run.
const (
	TriggerAPI      = "api"
	TriggerCLI      = "cli"
	TriggerSchedule = "schedule"
	TriggerTelegram = "telegram"
)

// RunStore records execution history. *store.Store satisfies it.
type RunStore interface {
	SaveRun(r *store.Run) error
	FinishRun(id, status string, result json.RawMessage, errMsg string) error
}

// AgentOptions are the caller-facing knobs of ExecuteAgent. Language is a
// human language name such as "English" or "Greek".
type AgentOptions struct {
	Language      string
	Temperature   *float64
	MaxIterations *int
}

type Bridge struct {
	reg     *registry.Registry
	invoker *invoker.Invoker
	engine  *workflow.Engine
	monitor *health.Monitor
	runs    RunStore
}

func New(reg *registry.Registry, inv *invoker.Invoker, eng *workflow.Engine, mon *health.Monitor, runs RunStore) *Bridge {
	return &Bridge{
		reg:     reg,
		invoker: inv,
		engine:  eng,
		monitor: mon,
		runs:    runs,
	}
}

// ExecuteAgent runs one agent with text input and returns the indented JSON
// result. It is the command-line entry point: runs are recorded with the
// cli trigger. Other callers use RunAgent with their own trigger.
func (b *Bridge) ExecuteAgent(ctx context.Context, agentName, inputText string, opts AgentOptions) (string, error) {
	res := b.RunAgent(ctx, agentName, AgentRequest(inputText, opts), TriggerCLI)
	return indent(res)
}

// ExecuteWorkflow runs a workflow from text input and returns the indented
// JSON result. Like ExecuteAgent it records the cli trigger; other callers
// use RunWorkflow.
func (b *Bridge) ExecuteWorkflow(ctx context.Context, workflowName, initialText string) (string, error) {
	res := b.RunWorkflow(ctx, workflowName, invoker.TextRequest(initialText), TriggerCLI)
	return indent(res)
}

// ListAgents returns agent display names.
func (b *Bridge) ListAgents() []string {
	agents := b.reg.Agents()
	names := make([]string, 0, len(agents))
	for _, a := range agents {
		names = append(names, a.Name)
	}
	return names
}

// ListWorkflows returns workflow display names.
func (b *Bridge) ListWorkflows() []string {
	wfs := b.reg.Workflows()
	names := make([]string, 0, len(wfs))
	for _, wf := range wfs {
		names = append(names, wf.Name)
	}
	return names
}

// GetStatus probes every agent now.
func (b *Bridge) GetStatus(ctx context.Context) health.Snapshot {
	return b.monitor.Snapshot(ctx)
}

// LatestStatus returns the last snapshot taken by the background monitor,
// probing only if none exists yet.
func (b *Bridge) LatestStatus(ctx context.Context) health.Snapshot {
	if snap, ok := b.monitor.Latest(); ok {
		return snap
	}
	return b.monitor.Snapshot(ctx)
}

func (b *Bridge) Registry() *registry.Registry {
	return b.reg
}

// RunAgent invokes an agent with a fully formed request and records it.
func (b *Bridge) RunAgent(ctx context.Context, agentName string, req invoker.Request, trigger string) invoker.Result {
	id := uuid.New().String()
	b.begin(id, store.RunKindAgent, agentName, req, trigger)

	res := b.invoker.Invoke(ctx, agentName, req)

	b.finish(id, res.OK(), res, res.Message)
	return res
}

// RunWorkflow executes a workflow and records it.
func (b *Bridge) RunWorkflow(ctx context.Context, workflowName string, initial invoker.Request, trigger string) workflow.Result {
	id := uuid.New().String()
	b.begin(id, store.RunKindWorkflow, workflowName, initial, trigger)

	res := b.engine.ExecuteWithID(ctx, id, workflowName, initial)

	b.finish(id, res.OK(), res, res.Message)
	return res
}

// AgentRequest builds an invoker request from text and caller options,
// filling unset options with the interactive defaults.
func AgentRequest(inputText string, opts AgentOptions) invoker.Request {
	req := invoker.TextRequest(inputText)
	req.Language = LanguageCode(opts.Language)

	temp := DefaultTemperature
	if opts.Temperature != nil {
		temp = *opts.Temperature
	}
	iters := DefaultMaxIterations
	if opts.MaxIterations != nil {
		iters = *opts.MaxIterations
	}
	req.Temperature = &temp
	req.MaxIterations = &iters
	return req
}

// LanguageCode turns a language name into the two-letter code agents
// expect: "English" becomes "en". Empty input means English.
func LanguageCode(language string) string {
	language = strings.ToLower(strings.TrimSpace(language))
	if language == "" {
		language = strings.ToLower(DefaultLanguage)
	}
	r := []rune(language)
	if len(r) > 2 {
		r = r[:2]
	}
	return string(r)
}

func (b *Bridge) begin(id, kind, target string, req invoker.Request, trigger string) {
	if b.runs == nil {
		return
	}
	input, _ := json.Marshal(req)
	run := &store.Run{
		ID:      id,
		Kind:    kind,
		Target:  target,
		Status:  store.RunStatusRunning,
		Input:   input,
		Trigger: trigger,
	}
	if err := b.runs.SaveRun(run); err != nil {
		slog.Error("record run failed", "id", id, "kind", kind, "error", err)
	}
}

func (b *Bridge) finish(id string, ok bool, result any, errMsg string) {
	if b.runs == nil {
		return
	}
	status := store.RunStatusSuccess
	if !ok {
		status = store.RunStatusError
	}
	data, err := json.Marshal(result)
	if err != nil {
		slog.Error("encode run result failed", "id", id, "error", err)
		data = nil
	}
	if err := b.runs.FinishRun(id, status, data, errMsg); err != nil {
		slog.Error("finish run failed", "id", id, "error", err)
	}
}

func indent(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode result: %w", err)
	}
	return string(data), nil
}
