package invoker

import (
	"encoding/json"
	"time"
)

type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// ErrorKind classifies a failed invocation.
type ErrorKind string

const (
	KindConfiguration ErrorKind = "configuration"
	KindTransport     ErrorKind = "transport"
	KindRemote        ErrorKind = "remote"
	KindCancellation  ErrorKind = "cancellation"
)

// Request is what a caller asks of an agent. Nil overrides fall back to the
// agent's configured defaults.
type Request struct {
	Input         json.RawMessage `json:"input"`
	Language      string          `json:"language,omitempty"`
	Temperature   *float64        `json:"temperature,omitempty"`
	MaxIterations *int            `json:"max_iterations,omitempty"`
	PreviousStep  string          `json:"previous_step,omitempty"`
}

// TextRequest wraps plain text as a request input.
func TextRequest(text string) Request {
	data, _ := json.Marshal(text)
	return Request{Input: data}
}

// Parameters is the execution parameter block sent to the remote agent.
type Parameters struct {
	Temperature   float64 `json:"temperature"`
	MaxIterations int     `json:"max_iterations"`
	Model         string  `json:"model"`
}

// payload is the outbound request body.
type payload struct {
	Input      json.RawMessage `json:"input"`
	Language   string          `json:"language"`
	Parameters Parameters      `json:"parameters"`
}

// Result is the classified outcome of one invocation. It is never modified
// after Invoke returns it.
type Result struct {
	Status     Status          `json:"status"`
	Agent      string          `json:"agent"`
	Timestamp  time.Time       `json:"timestamp"`
	Input      Request         `json:"input"`
	Output     json.RawMessage `json:"result,omitempty"`
	Message    string          `json:"message,omitempty"`
	Details    string          `json:"details,omitempty"`
	Kind       ErrorKind       `json:"error_kind,omitempty"`
	StatusCode int             `json:"status_code,omitempty"`
	DurationMs int64           `json:"duration_ms"`
}

func (r Result) OK() bool {
	return r.Status == StatusSuccess
}
