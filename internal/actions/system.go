package actions

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/stepwise/pkg/schema"
)

const maxWait = 10 * time.Minute

// SystemModule returns the built-in "system" module.
func SystemModule() Module {
	return Module{
		Name:        "system",
		Description: "System-level workflow actions",
		Actions: []Action{
			&logAction{},
			&waitAction{},
			&notifyCompletionAction{},
			&handleErrorAction{},
			&requestDecisionAction{},
		},
	}
}

// --- system.log ---

const logInputSchema = `{
  "type": "object",
  "properties": {
    "message": {"type": "string"},
    "level": {"type": "string", "enum": ["debug", "info", "warn", "error"]},
    "data": {}
  },
  "required": ["message"]
}`

type logAction struct{}

func (a *logAction) Name() string { return "log" }

func (a *logAction) Schema() ActionSchema {
	return ActionSchema{
		Description: "Write a structured log entry with workflow context.",
		InputSchema: json.RawMessage(logInputSchema),
	}
}

func (a *logAction) Validate(input map[string]any) error {
	if stringParam(input, "message", "") == "" {
		return schema.NewError(schema.ErrCodeValidation, "system.log: missing required param 'message'")
	}
	return nil
}

func (a *logAction) Execute(ctx context.Context, input ActionInput) (*ActionOutput, error) {
	p := params(input)
	if err := a.Validate(p); err != nil {
		return nil, err
	}
	message := stringParam(p, "message", "")

	var attrs []any
	if data, ok := p["data"]; ok {
		attrs = append(attrs, slog.Any("data", data))
	}

	l := logger(input)
	switch stringParam(p, "level", "info") {
	case "debug":
		l.DebugContext(ctx, message, attrs...)
	case "warn":
		l.WarnContext(ctx, message, attrs...)
	case "error":
		l.ErrorContext(ctx, message, attrs...)
	default:
		l.InfoContext(ctx, message, attrs...)
	}
	return &ActionOutput{Data: map[string]any{"logged": true, "message": message}}, nil
}

// --- system.wait ---

type waitAction struct{}

func (a *waitAction) Name() string { return "wait" }

func (a *waitAction) Schema() ActionSchema {
	return ActionSchema{
		Description: "Pause the step for a number of seconds.",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"seconds":{"type":"number","minimum":0}}}`),
	}
}

func (a *waitAction) Validate(input map[string]any) error {
	if floatParam(input, "seconds", 1) < 0 {
		return schema.NewError(schema.ErrCodeValidation, "system.wait: 'seconds' must not be negative")
	}
	return nil
}

func (a *waitAction) Execute(ctx context.Context, input ActionInput) (*ActionOutput, error) {
	p := params(input)
	if err := a.Validate(p); err != nil {
		return nil, err
	}
	seconds := floatParam(p, "seconds", 1)
	d := time.Duration(seconds * float64(time.Second))
	if d > maxWait {
		d = maxWait
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, schema.NewError(schema.ErrCodeExecution, "system.wait: cancelled").WithCause(ctx.Err())
	case <-timer.C:
	}
	return &ActionOutput{Data: map[string]any{"waited": seconds}}, nil
}

// --- system.notify-completion ---

type notifyCompletionAction struct{}

func (a *notifyCompletionAction) Name() string { return "notify-completion" }

func (a *notifyCompletionAction) Schema() ActionSchema {
	return ActionSchema{
		Description: "Log that the workflow finished and echo its status.",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"status":{},"executionId":{"type":"string"},"duration":{}}}`),
	}
}

func (a *notifyCompletionAction) Validate(map[string]any) error { return nil }

func (a *notifyCompletionAction) Execute(ctx context.Context, input ActionInput) (*ActionOutput, error) {
	p := params(input)
	status := stringParam(p, "status", "")
	// An unresolved template means nothing upstream set a status.
	if status == "" || strings.Contains(status, "{{") {
		status = "completed"
	}
	executionID := stringParam(p, "executionId", input.Context.ExecutionID)

	logger(input).InfoContext(ctx, "workflow finished",
		slog.String("execution_id", executionID), slog.String("status", status))

	return &ActionOutput{Data: map[string]any{
		"notified":    true,
		"status":      status,
		"executionId": executionID,
		"duration":    p["duration"],
	}}, nil
}

// --- system.handle-error ---

type handleErrorAction struct{}

func (a *handleErrorAction) Name() string { return "handle-error" }

func (a *handleErrorAction) Schema() ActionSchema {
	return ActionSchema{
		Description: "Record an upstream step error and continue.",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"error":{},"step":{"type":"string"}}}`),
	}
}

func (a *handleErrorAction) Validate(map[string]any) error { return nil }

func (a *handleErrorAction) Execute(ctx context.Context, input ActionInput) (*ActionOutput, error) {
	p := params(input)
	msg := errorText(p["error"])
	step := stringParam(p, "step", "")

	logger(input).ErrorContext(ctx, "step error handled",
		slog.String("failed_step", step), slog.String("error", msg))

	return &ActionOutput{Data: map[string]any{
		"handled":   true,
		"error":     msg,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}}, nil
}

func errorText(v any) string {
	switch e := v.(type) {
	case nil:
		return ""
	case string:
		return e
	case map[string]any:
		if m, ok := e["message"].(string); ok {
			return m
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

// --- system.request-decision ---

const requestDecisionInputSchema = `{
  "type": "object",
  "properties": {
    "title": {"type": "string", "minLength": 1},
    "description": {"type": "string"},
    "proposals": {"type": "array"}
  },
  "required": ["title"]
}`

type requestDecisionAction struct{}

func (a *requestDecisionAction) Name() string { return "request-decision" }

func (a *requestDecisionAction) Schema() ActionSchema {
	return ActionSchema{
		Description: "Park the run until a human picks one of the proposals.",
		InputSchema: json.RawMessage(requestDecisionInputSchema),
	}
}

func (a *requestDecisionAction) Validate(input map[string]any) error {
	if stringParam(input, "title", "") == "" {
		return schema.NewError(schema.ErrCodeValidation, "system.request-decision: missing required param 'title'")
	}
	return nil
}

func (a *requestDecisionAction) Execute(_ context.Context, input ActionInput) (*ActionOutput, error) {
	p := params(input)
	if err := a.Validate(p); err != nil {
		return nil, err
	}
	proposals, _ := p["proposals"].([]any)
	return Pending(uuid.New().String(), map[string]any{
		"title":       stringParam(p, "title", ""),
		"description": stringParam(p, "description", ""),
		"proposals":   proposals,
	}), nil
}
