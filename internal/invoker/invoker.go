// Package invoker performs single calls to remote agents and classifies the
// outcome. Invoke never returns a Go error; every failure is reported in the
// Result.
package invoker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"

	"github.com/mtzanidakis/crewbridge/internal/natsbus"
	"github.com/mtzanidakis/crewbridge/internal/registry"
	"github.com/mtzanidakis/crewbridge/internal/tracing"
)

const maxResponseBytes = 8 << 20

// Directory resolves agents by display name.
type Directory interface {
	AgentByName(name string) (registry.Agent, error)
}

type Options struct {
	BaseURL         string
	Timeout         time.Duration
	AuthToken       string
	DefaultLanguage string
	// Client overrides the HTTP client. Per-call timeouts are applied through
	// the request context, not Client.Timeout.
	Client *http.Client
	Events natsbus.Publisher
	// MaxResponseBytes bounds an agent response body. Zero means 8 MiB.
	MaxResponseBytes int64
}

type Invoker struct {
	dir      Directory
	client   *http.Client
	baseURL  string
	timeout  time.Duration
	token    string
	language string
	events   natsbus.Publisher
	maxBody  int64
}

func New(dir Directory, opts Options) *Invoker {
	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.DefaultLanguage == "" {
		opts.DefaultLanguage = "en"
	}
	if opts.MaxResponseBytes <= 0 {
		opts.MaxResponseBytes = maxResponseBytes
	}
	return &Invoker{
		dir:      dir,
		client:   client,
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		timeout:  opts.Timeout,
		token:    opts.AuthToken,
		language: opts.DefaultLanguage,
		events:   opts.Events,
		maxBody:  opts.MaxResponseBytes,
	}
}

// Invoke calls the agent with the given display name. Caller overrides for
// temperature and max iterations win over the agent defaults; the model is
// always the agent's own.
func (inv *Invoker) Invoke(ctx context.Context, agentName string, req Request) Result {
	start := time.Now()
	res := Result{
		Agent:     agentName,
		Timestamp: start.UTC(),
		Input:     req,
	}

	agent, err := inv.dir.AgentByName(agentName)
	if err != nil {
		return fail(res, start, KindConfiguration, err.Error(), "")
	}

	ctx, span := tracing.StartSpan(ctx, "agent.invoke",
		attribute.String(tracing.AgentKey, agent.Key),
		attribute.String(tracing.AgentNameKey, agent.Name),
		attribute.String(tracing.AgentModelKey, agent.Model),
	)
	defer span.End()

	res = inv.call(ctx, agent, req, res, start)

	if !res.OK() {
		tracing.SetError(span, errors.New(res.Message), attribute.String(tracing.ErrorKindKey, string(res.Kind)))
		slog.Warn("agent invocation failed", "agent", agent.Key, "kind", res.Kind, "error", res.Message, "duration", time.Since(start))
	} else {
		slog.Info("agent invoked", "agent", agent.Key, "duration", time.Since(start))
	}
	if res.StatusCode != 0 {
		span.SetAttributes(attribute.Int(tracing.HTTPStatusKey, res.StatusCode))
	}

	inv.publish(agent, res)
	return res
}

func (inv *Invoker) call(parent context.Context, agent registry.Agent, req Request, res Result, start time.Time) Result {
	body, err := json.Marshal(inv.payload(agent, req))
	if err != nil {
		return fail(res, start, KindConfiguration, fmt.Sprintf("encode request: %v", err), "")
	}

	ctx, cancel := context.WithTimeout(parent, inv.timeout)
	defer cancel()

	url := inv.baseURL + agent.Endpoint
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fail(res, start, KindConfiguration, fmt.Sprintf("build request: %v", err), "")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if inv.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+inv.token)
	}
	tracing.Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

	resp, err := inv.client.Do(httpReq)
	if err != nil {
		return classifyTransport(parent, res, start, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, inv.maxBody+1))
	if err != nil {
		return classifyTransport(parent, res, start, err)
	}
	res.StatusCode = resp.StatusCode
	oversized := int64(len(data)) > inv.maxBody
	if oversized {
		data = data[:inv.maxBody]
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fail(res, start, KindRemote, fmt.Sprintf("API request failed with status %d", resp.StatusCode), string(data))
	}
	if oversized {
		return fail(res, start, KindRemote, fmt.Sprintf("parse response: response exceeds %d bytes", inv.maxBody), "")
	}

	data = bytes.TrimSpace(data)
	if !json.Valid(data) {
		return fail(res, start, KindRemote, "parse response: body is not valid JSON", string(data))
	}

	res.Status = StatusSuccess
	res.Output = json.RawMessage(data)
	res.DurationMs = time.Since(start).Milliseconds()
	return res
}

func (inv *Invoker) payload(agent registry.Agent, req Request) payload {
	p := payload{
		Input:    req.Input,
		Language: req.Language,
		Parameters: Parameters{
			Temperature:   agent.Temperature,
			MaxIterations: agent.MaxIterations,
			Model:         agent.Model,
		},
	}
	if len(p.Input) == 0 {
		p.Input = json.RawMessage(`""`)
	}
	if p.Language == "" {
		p.Language = inv.language
	}
	if req.Temperature != nil {
		p.Parameters.Temperature = *req.Temperature
	}
	if req.MaxIterations != nil {
		p.Parameters.MaxIterations = *req.MaxIterations
	}
	return p
}

// classifyTransport separates caller cancellation from every other transport
// failure. A per-call timeout is a transport failure like a refused
// connection; only cancellation of the caller's own context is not.
func classifyTransport(parent context.Context, res Result, start time.Time, err error) Result {
	if errors.Is(parent.Err(), context.Canceled) {
		return fail(res, start, KindCancellation, "invocation cancelled: "+context.Cause(parent).Error(), "")
	}
	return fail(res, start, KindTransport, fmt.Sprintf("error executing agent: %v", err), "")
}

func fail(res Result, start time.Time, kind ErrorKind, msg, details string) Result {
	res.Status = StatusError
	res.Kind = kind
	res.Message = msg
	res.Details = details
	res.Output = nil
	res.DurationMs = time.Since(start).Milliseconds()
	return res
}

func (inv *Invoker) publish(agent registry.Agent, res Result) {
	if inv.events == nil {
		return
	}
	data := map[string]any{
		"agent":       agent.Name,
		"key":         agent.Key,
		"status":      res.Status,
		"duration_ms": res.DurationMs,
	}
	if !res.OK() {
		data["error_kind"] = res.Kind
		data["message"] = res.Message
	}
	ev := natsbus.NewEvent(natsbus.EventAgentInvoked, data)
	if err := inv.events.PublishJSON(natsbus.TopicEventsAgent(agent.Key), ev); err != nil {
		slog.Debug("publish agent event failed", "agent", agent.Key, "error", err)
	}
}
