package natsbus

import (
	"fmt"
	"strings"
)

// Event subjects. Entity keys are sanitised so a stray dot or space in a
// configured key cannot split or break the subject.

func TopicEventsAgent(agentKey string) string {
	return fmt.Sprintf("events.agent.%s", token(agentKey))
}

func TopicEventsWorkflow(workflowKey string) string {
	return fmt.Sprintf("events.workflow.%s", token(workflowKey))
}

func TopicEventsSchedule(scheduleID string) string {
	return fmt.Sprintf("events.schedule.%s", token(scheduleID))
}

const (
	TopicEventsAll       = "events.>"
	TopicEventsHealth    = "events.health"
	TopicEventsWorkflows = "events.workflow.*"
	TopicEventsAgents    = "events.agent.*"
)

var tokenReplacer = strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_")

func token(s string) string {
	if s == "" {
		return "_"
	}
	return tokenReplacer.Replace(s)
}
