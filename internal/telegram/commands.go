package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/mtzanidakis/crewbridge/internal/bridge"
	"github.com/mtzanidakis/crewbridge/internal/health"
	"github.com/mtzanidakis/crewbridge/internal/invoker"
	"github.com/mtzanidakis/crewbridge/internal/workflow"
)

// Service is the part of the bridge the bot drives. *bridge.Bridge
// satisfies it.
type Service interface {
	ListAgents() []string
	ListWorkflows() []string
	LatestStatus(ctx context.Context) health.Snapshot
	RunAgent(ctx context.Context, agentName string, req invoker.Request, trigger string) invoker.Result
	RunWorkflow(ctx context.Context, workflowName string, initial invoker.Request, trigger string) workflow.Result
}

const helpText = `Commands:
/agents - list agents
/workflows - list workflows
/status - agent health
/agent <name> | <input> - run one agent
/run <workflow> | <input> - run a workflow`

// maxOutput bounds how much agent output is echoed back into the chat.
const maxOutput = 3000

// parseCommand splits "/cmd@botname rest" into "cmd" and "rest".
func parseCommand(text string) (cmd, args string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	cmd, args, _ = strings.Cut(text[1:], " ")
	cmd, _, _ = strings.Cut(cmd, "@")
	return strings.ToLower(cmd), strings.TrimSpace(args), true
}

// splitTarget splits "<name> | <input>". Names may contain spaces.
func splitTarget(args string) (name, input string) {
	name, input, _ = strings.Cut(args, "|")
	return strings.TrimSpace(name), strings.TrimSpace(input)
}

func handleCommand(ctx context.Context, svc Service, text string) string {
	cmd, args, ok := parseCommand(text)
	if !ok {
		return helpText
	}

	switch cmd {
	case "start", "help":
		return helpText
	case "agents":
		return formatList("Agents", svc.ListAgents())
	case "workflows":
		return formatList("Workflows", svc.ListWorkflows())
	case "status":
		return formatSnapshot(svc.LatestStatus(ctx))
	case "agent":
		name, input := splitTarget(args)
		if name == "" || input == "" {
			return "Usage: /agent <name> | <input>"
		}
		res := svc.RunAgent(ctx, name, bridge.AgentRequest(input, bridge.AgentOptions{}), bridge.TriggerTelegram)
		return formatAgentResult(res)
	case "run":
		name, input := splitTarget(args)
		if name == "" || input == "" {
			return "Usage: /run <workflow> | <input>"
		}
		res := svc.RunWorkflow(ctx, name, invoker.TextRequest(input), bridge.TriggerTelegram)
		return formatWorkflowResult(res)
	default:
		return fmt.Sprintf("Unknown command /%s\n\n%s", cmd, helpText)
	}
}

func formatList(title string, names []string) string {
	if len(names) == 0 {
		return fmt.Sprintf("%s: none configured", title)
	}
	var sb strings.Builder
	sb.WriteString(title + ":")
	for _, n := range names {
		sb.WriteString("\n- " + n)
	}
	return sb.String()
}

func formatSnapshot(snap health.Snapshot) string {
	if len(snap.Agents) == 0 {
		return "No agents configured"
	}
	names := make([]string, 0, len(snap.Agents))
	for name := range snap.Agents {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d/%d agents online", snap.Online(), len(snap.Agents))
	for _, name := range names {
		fmt.Fprintf(&sb, "\n%s: %s", name, snap.Agents[name])
	}
	return sb.String()
}

func formatAgentResult(res invoker.Result) string {
	if !res.OK() {
		msg := fmt.Sprintf("%s failed: %s", res.Agent, res.Message)
		if res.Details != "" {
			msg += "\n" + truncate(res.Details, maxOutput)
		}
		return msg
	}
	return fmt.Sprintf("%s:\n%s", res.Agent, truncate(prettyJSON(res.Output), maxOutput))
}

func formatWorkflowResult(res workflow.Result) string {
	name := res.Name
	if name == "" {
		name = res.Workflow
	}
	if !res.OK() {
		return formatFailure(name, res.ID, res.Message, res.Failure)
	}
	var last json.RawMessage
	if n := len(res.Steps); n > 0 {
		last = res.Steps[n-1].Output
	}
	return fmt.Sprintf("Workflow %s completed in %d steps (%dms)\n%s",
		name, len(res.Steps), res.DurationMs, truncate(prettyJSON(last), maxOutput))
}

func formatFailure(name, id, message string, failure *workflow.FailureDetail) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Workflow %s failed: %s", name, message)
	if failure != nil {
		fmt.Fprintf(&sb, "\nStep %d (%s): %s", failure.Step, failure.Agent, failure.Result.Message)
	}
	if id != "" {
		fmt.Fprintf(&sb, "\nRun: %s", id)
	}
	return sb.String()
}

func prettyJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	if s, ok := v.(string); ok {
		return s
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return string(raw)
	}
	return string(out)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:runeCut(s, n)] + "\n..."
}
