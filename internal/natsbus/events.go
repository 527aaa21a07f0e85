package natsbus

import "time"

const (
	EventAgentInvoked         = "agent_invoked"
	EventWorkflowStarted      = "workflow_started"
	EventWorkflowStepComplete = "workflow_step_completed"
	EventWorkflowCompleted    = "workflow_completed"
	EventWorkflowFailed       = "workflow_failed"
	EventHealthSnapshot       = "health_snapshot"
	EventScheduleExecuted     = "schedule_executed"
)

// Event is the envelope published on every events.* subject and relayed
// verbatim to websocket clients.
type Event struct {
	Type      string         `json:"type"`
	Topic     string         `json:"topic,omitempty"`
	Timestamp string         `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

func NewEvent(typ string, data map[string]any) Event {
	return Event{
		Type:      typ,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Data:      data,
	}
}

// Publisher is satisfied by *Client. Components take it so tests can record
// events without a running server.
type Publisher interface {
	PublishJSON(topic string, v any) error
}
