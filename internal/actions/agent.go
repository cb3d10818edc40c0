package actions

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/rendis/stepwise/internal/agentqueue"
	"github.com/rendis/stepwise/internal/cloudagent"
	"github.com/rendis/stepwise/pkg/schema"
)

// AgentLauncher delegates a task to an agent.
type AgentLauncher interface {
	Launch(ctx context.Context, req agentqueue.LaunchRequest) (*schema.AgentTask, error)
}

// AgentStatusChecker reports a delegated task's current status.
type AgentStatusChecker interface {
	CheckStatus(ctx context.Context, taskID string) (*schema.AgentTask, error)
}

// CloudAgentClient talks to the remote agent service directly.
type CloudAgentClient interface {
	Configured() bool
	Launch(ctx context.Context, req cloudagent.LaunchRequest) (*cloudagent.Agent, error)
	GetStatus(ctx context.Context, agentID string) (*cloudagent.Agent, error)
}

// AgentModule returns the "agent" module.
func AgentModule(launcher AgentLauncher, checker AgentStatusChecker) Module {
	return Module{
		Name:        "agent",
		Description: "Run background agents to implement tasks",
		Actions: []Action{
			&launchBackgroundAction{launcher: launcher},
			&checkStatusAction{checker: checker},
		},
	}
}

// --- agent.launch-background ---

const launchBackgroundInputSchema = `{
  "type": "object",
  "properties": {
    "prompt": {"type": "string"},
    "tasks": {"type": ["array", "object"]},
    "agentType": {"type": "string", "enum": ["cursor", "cursor-cloud", "local"]},
    "repository": {"type": "string"},
    "branch": {"type": "string"},
    "workstreamId": {"type": "string"},
    "autoMerge": {"type": "boolean"},
    "mergeStrategy": {"type": "string"}
  }
}`

type launchBackgroundAction struct {
	launcher AgentLauncher
}

func (a *launchBackgroundAction) Name() string { return "launch-background" }

func (a *launchBackgroundAction) Schema() ActionSchema {
	return ActionSchema{
		Description: "Delegate tasks to a background agent, remotely when possible.",
		InputSchema: json.RawMessage(launchBackgroundInputSchema),
	}
}

func (a *launchBackgroundAction) Validate(map[string]any) error { return nil }

func (a *launchBackgroundAction) Execute(ctx context.Context, input ActionInput) (*ActionOutput, error) {
	p := params(input)
	tasks := tasksParam(p, "tasks")
	agentType := schema.AgentType(stringParam(p, "agentType", string(schema.AgentCursor)))

	logger(input).InfoContext(ctx, "launching background agent",
		slog.String("agent_type", string(agentType)), slog.Int("tasks", len(tasks)))

	task, err := a.launcher.Launch(ctx, agentqueue.LaunchRequest{
		ExecutionID:   input.Context.ExecutionID,
		VersionTag:    input.Context.VersionTag,
		WorkstreamID:  stringParam(p, "workstreamId", ""),
		Type:          agentType,
		Prompt:        stringParam(p, "prompt", ""),
		Tasks:         tasks,
		Repository:    stringParam(p, "repository", ""),
		Branch:        stringParam(p, "branch", ""),
		AutoMerge:     boolParam(p, "autoMerge", false),
		MergeStrategy: stringParam(p, "mergeStrategy", ""),
	})
	if err != nil {
		return nil, err
	}

	message := "Agent task queued for background processing."
	if task.IsCloud() {
		message = "Agent launched on the remote service."
	}
	return &ActionOutput{Data: map[string]any{
		"success":      true,
		"agentTaskId":  task.ID,
		"cloudAgentId": task.CloudAgentID,
		"type":         string(task.Type),
		"status":       string(task.Status),
		"tasksCount":   len(task.Tasks),
		"message":      message,
	}}, nil
}

// --- agent.check-status ---

type checkStatusAction struct {
	checker AgentStatusChecker
}

func (a *checkStatusAction) Name() string { return "check-status" }

func (a *checkStatusAction) Schema() ActionSchema {
	return ActionSchema{
		Description: "Report a delegated task's status, refreshing cloud tasks.",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"taskId":{"type":"string","minLength":1}},"required":["taskId"]}`),
	}
}

func (a *checkStatusAction) Validate(input map[string]any) error {
	if stringParam(input, "taskId", "") == "" {
		return schema.NewError(schema.ErrCodeValidation, "agent.check-status: missing required param 'taskId'")
	}
	return nil
}

func (a *checkStatusAction) Execute(ctx context.Context, input ActionInput) (*ActionOutput, error) {
	p := params(input)
	if err := a.Validate(p); err != nil {
		return nil, err
	}
	task, err := a.checker.CheckStatus(ctx, stringParam(p, "taskId", ""))
	if err != nil {
		return nil, err
	}
	return &ActionOutput{Data: map[string]any{
		"success": true,
		"task":    taskSummary(task),
	}}, nil
}

func taskSummary(t *schema.AgentTask) map[string]any {
	out := map[string]any{
		"id":         t.ID,
		"status":     string(t.Status),
		"type":       string(t.Type),
		"tasksCount": len(t.Tasks),
		"startedAt":  t.StartedAt,
	}
	if t.CloudAgentID != "" {
		out["cloudAgentId"] = t.CloudAgentID
	}
	if t.AgentBranch != "" {
		out["agentBranch"] = t.AgentBranch
	}
	if t.CompletedAt != nil {
		out["completedAt"] = *t.CompletedAt
	}
	if t.Error != "" {
		out["error"] = t.Error
	}
	return out
}

// CloudAgentModule returns the "cursor-cloud-agent" module.
func CloudAgentModule(client CloudAgentClient) Module {
	return Module{
		Name:        "cursor-cloud-agent",
		Description: "Call the remote agent service directly",
		Actions: []Action{
			&cloudLaunchAction{client: client},
			&cloudStatusAction{client: client},
		},
	}
}

// --- cursor-cloud-agent.launch ---

const cloudLaunchInputSchema = `{
  "type": "object",
  "properties": {
    "prompt": {"type": "string", "minLength": 1},
    "repository": {"type": "string", "minLength": 1},
    "branch": {"type": "string"},
    "maxRuntime": {"type": "number"}
  },
  "required": ["prompt", "repository"]
}`

type cloudLaunchAction struct {
	client CloudAgentClient
}

func (a *cloudLaunchAction) Name() string { return "launch" }

func (a *cloudLaunchAction) Schema() ActionSchema {
	return ActionSchema{
		Description: "Launch a remote agent without queue bookkeeping.",
		InputSchema: json.RawMessage(cloudLaunchInputSchema),
	}
}

func (a *cloudLaunchAction) Validate(input map[string]any) error {
	if stringParam(input, "prompt", "") == "" {
		return schema.NewError(schema.ErrCodeValidation, "cursor-cloud-agent.launch: prompt is required")
	}
	if stringParam(input, "repository", "") == "" {
		return schema.NewError(schema.ErrCodeValidation, "cursor-cloud-agent.launch: repository is required")
	}
	return nil
}

func (a *cloudLaunchAction) Execute(ctx context.Context, input ActionInput) (*ActionOutput, error) {
	p := params(input)
	if err := a.Validate(p); err != nil {
		return nil, err
	}
	options := map[string]any{}
	if rt := floatParam(p, "maxRuntime", 0); rt > 0 {
		options["maxRuntime"] = rt
	}

	agent, err := a.client.Launch(ctx, cloudagent.LaunchRequest{
		Prompt:     stringParam(p, "prompt", ""),
		Repository: stringParam(p, "repository", ""),
		Branch:     stringParam(p, "branch", ""),
		Options:    options,
	})
	if err != nil {
		logger(input).ErrorContext(ctx, "remote agent launch failed", slog.String("error", err.Error()))
		return nil, err
	}
	return agentOutput(agent), nil
}

// --- cursor-cloud-agent.get-status ---

type cloudStatusAction struct {
	client CloudAgentClient
}

func (a *cloudStatusAction) Name() string { return "get-status" }

func (a *cloudStatusAction) Schema() ActionSchema {
	return ActionSchema{
		Description: "Fetch a remote agent's status.",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"agentId":{"type":"string","minLength":1}},"required":["agentId"]}`),
	}
}

func (a *cloudStatusAction) Validate(input map[string]any) error {
	if stringParam(input, "agentId", "") == "" {
		return schema.NewError(schema.ErrCodeValidation, "cursor-cloud-agent.get-status: agentId is required")
	}
	return nil
}

func (a *cloudStatusAction) Execute(ctx context.Context, input ActionInput) (*ActionOutput, error) {
	p := params(input)
	if err := a.Validate(p); err != nil {
		return nil, err
	}
	agent, err := a.client.GetStatus(ctx, stringParam(p, "agentId", ""))
	if err != nil {
		return nil, err
	}
	return agentOutput(agent), nil
}

func agentOutput(agent *cloudagent.Agent) *ActionOutput {
	var data any
	if len(agent.Data) > 0 {
		_ = json.Unmarshal(agent.Data, &data)
	}
	return &ActionOutput{Data: map[string]any{
		"success":      true,
		"agentId":      agent.ID,
		"status":       string(cloudagent.NormalizeStatus(agent.Status)),
		"remoteStatus": agent.Status,
		"data":         data,
	}}
}
