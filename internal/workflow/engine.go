// Package workflow runs configured agent chains step by step, feeding each
// step's output into the next and stopping at the first failure.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/mtzanidakis/crewbridge/internal/invoker"
	"github.com/mtzanidakis/crewbridge/internal/natsbus"
	"github.com/mtzanidakis/crewbridge/internal/registry"
	"github.com/mtzanidakis/crewbridge/internal/tracing"
)

// Directory resolves workflows and the agents their steps reference.
type Directory interface {
	Workflow(name string) (registry.Workflow, error)
	AgentByKey(key string) (registry.Agent, error)
}

// Invoker runs a single agent call. *invoker.Invoker satisfies it.
type Invoker interface {
	Invoke(ctx context.Context, agentName string, req invoker.Request) invoker.Result
}

// FailureDetail identifies the step that stopped a workflow.
type FailureDetail struct {
	Step     int            `json:"step"`
	AgentKey string         `json:"agent_key"`
	Agent    string         `json:"agent"`
	Result   invoker.Result `json:"details"`
}

// Result is the terminal outcome of one workflow execution.
type Result struct {
	ID           string            `json:"id"`
	Status       invoker.Status    `json:"status"`
	Workflow     string            `json:"workflow"`
	Name         string            `json:"name,omitempty"`
	Timestamp    time.Time         `json:"timestamp"`
	InitialInput invoker.Request   `json:"initial_input"`
	Steps        []invoker.Result  `json:"steps"`
	Message      string            `json:"message,omitempty"`
	Kind         invoker.ErrorKind `json:"error_kind,omitempty"`
	Failure      *FailureDetail    `json:"failure,omitempty"`
	DurationMs   int64             `json:"duration_ms"`
}

func (r Result) OK() bool {
	return r.Status == invoker.StatusSuccess
}

type Engine struct {
	dir     Directory
	invoker Invoker
	events  natsbus.Publisher
}

func NewEngine(dir Directory, inv Invoker, events natsbus.Publisher) *Engine {
	return &Engine{dir: dir, invoker: inv, events: events}
}

// Execute runs the workflow named by key or display name. The returned
// result always carries every step attempted, in order.
func (e *Engine) Execute(ctx context.Context, name string, initial invoker.Request) Result {
	return e.ExecuteWithID(ctx, uuid.New().String(), name, initial)
}

// ExecuteWithID is Execute with a caller-chosen run id, so the id can be
// recorded before the run starts.
func (e *Engine) ExecuteWithID(ctx context.Context, id, name string, initial invoker.Request) Result {
	start := time.Now()
	res := Result{
		ID:           id,
		Workflow:     name,
		Timestamp:    start.UTC(),
		InitialInput: initial,
		Steps:        []invoker.Result{},
	}

	wf, err := e.dir.Workflow(name)
	if err != nil {
		res.Status = invoker.StatusError
		res.Kind = invoker.KindConfiguration
		res.Message = err.Error()
		res.DurationMs = time.Since(start).Milliseconds()
		slog.Warn("workflow not found", "workflow", name)
		return res
	}
	res.Workflow = wf.Key
	res.Name = wf.Name

	ctx, span := tracing.StartSpan(ctx, "workflow.execute",
		attribute.String(tracing.WorkflowKey, wf.Key),
		attribute.String(tracing.WorkflowNameKey, wf.Name),
		attribute.String(tracing.RunIDKey, id),
	)
	defer span.End()

	slog.Info("workflow started", "id", id, "workflow", wf.Key, "steps", len(wf.Steps))
	e.publish(wf, natsbus.EventWorkflowStarted, map[string]any{
		"id":    id,
		"steps": len(wf.Steps),
	})

	res = e.run(ctx, wf, initial, res)
	res.DurationMs = time.Since(start).Milliseconds()

	if res.OK() {
		slog.Info("workflow completed", "id", id, "workflow", wf.Key, "duration", time.Since(start))
		e.publish(wf, natsbus.EventWorkflowCompleted, map[string]any{
			"id":          id,
			"steps":       len(res.Steps),
			"duration_ms": res.DurationMs,
		})
		return res
	}

	tracing.SetError(span, errors.New(res.Message), attribute.String(tracing.ErrorKindKey, string(res.Kind)))
	slog.Warn("workflow failed", "id", id, "workflow", wf.Key, "error", res.Message)
	data := map[string]any{
		"id":         id,
		"message":    res.Message,
		"error_kind": res.Kind,
	}
	if res.Failure != nil {
		data["step"] = res.Failure.Step
		data["agent"] = res.Failure.Agent
		data["details"] = res.Failure.Result.Message
	}
	e.publish(wf, natsbus.EventWorkflowFailed, data)
	return res
}

func (e *Engine) run(ctx context.Context, wf registry.Workflow, initial invoker.Request, res Result) Result {
	current := initial

	for i, step := range wf.Steps {
		idx := i + 1

		agent, err := e.dir.AgentByKey(step.AgentKey)
		if err != nil {
			res.Status = invoker.StatusError
			res.Kind = invoker.KindConfiguration
			res.Message = fmt.Sprintf("Agent '%s' not found in workflow", step.AgentKey)
			return res
		}

		if err := ctx.Err(); err != nil {
			res.Status = invoker.StatusError
			res.Kind = invoker.KindCancellation
			res.Message = fmt.Sprintf("workflow cancelled before step %d: %v", idx, err)
			return res
		}

		stepCtx, span := tracing.StartSpan(ctx, "workflow.step",
			attribute.Int(tracing.StepIndexKey, idx),
			attribute.String(tracing.AgentKey, agent.Key),
		)
		stepRes := e.invoker.Invoke(stepCtx, agent.Name, current)
		span.End()

		res.Steps = append(res.Steps, stepRes)

		if !stepRes.OK() {
			res.Status = invoker.StatusError
			res.Kind = stepRes.Kind
			res.Message = fmt.Sprintf("Workflow failed at step %s", step.AgentKey)
			res.Failure = &FailureDetail{
				Step:     idx,
				AgentKey: agent.Key,
				Agent:    agent.Name,
				Result:   stepRes,
			}
			return res
		}

		e.publish(wf, natsbus.EventWorkflowStepComplete, map[string]any{
			"id":    res.ID,
			"step":  idx,
			"total": len(wf.Steps),
			"agent": agent.Name,
		})

		current = chain(stepRes.Output, agent.Key, current.Language)
	}

	res.Status = invoker.StatusSuccess
	return res
}

// chain builds the next step's request from a successful step. Only the
// language carries over; overrides and the original input do not.
func chain(output json.RawMessage, agentKey, language string) invoker.Request {
	return invoker.Request{
		Input:        output,
		Language:     language,
		PreviousStep: agentKey,
	}
}

func (e *Engine) publish(wf registry.Workflow, typ string, data map[string]any) {
	if e.events == nil {
		return
	}
	data["workflow"] = wf.Key
	data["name"] = wf.Name
	if err := e.events.PublishJSON(natsbus.TopicEventsWorkflow(wf.Key), natsbus.NewEvent(typ, data)); err != nil {
		slog.Debug("publish workflow event failed", "workflow", wf.Key, "error", err)
	}
}
