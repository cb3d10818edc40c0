package actions

import (
	"context"
	"encoding/json"
	"log/slog"
)

// Action is an executable unit of work within a workflow step. Returning an
// error marks the step failed; it never aborts the run by itself.
type Action interface {
	Name() string
	Schema() ActionSchema
	Execute(ctx context.Context, input ActionInput) (*ActionOutput, error)
	Validate(input map[string]any) error
}

// ActionSchema describes the input/output contract of an action.
type ActionSchema struct {
	InputSchema  json.RawMessage `json:"input_schema,omitempty"`
	OutputSchema json.RawMessage `json:"output_schema,omitempty"`
	Description  string          `json:"description,omitempty"`
}

// ActionContext identifies the step an action runs for.
type ActionContext struct {
	ExecutionID string
	WorkflowID  string
	StepID      string
	VersionTag  string
	Logger      *slog.Logger
}

// ActionInput is the data provided to an action at execution time.
type ActionInput struct {
	Params  map[string]any `json:"params"`
	Context ActionContext  `json:"-"`
}

// ActionOutput is the result of an action execution.
type ActionOutput struct {
	Data map[string]any `json:"data,omitempty"`
}

// ActionInfo is a summary of a registered action for listing.
type ActionInfo struct {
	Module      string `json:"module"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Module groups actions under one name, e.g. "system".
type Module struct {
	Name        string
	Description string
	Actions     []Action
}

// Pending returns the output that parks the run until a human resolves
// decisionID. extra is merged into the output.
func Pending(decisionID string, extra map[string]any) *ActionOutput {
	data := make(map[string]any, len(extra)+2)
	for k, v := range extra {
		data[k] = v
	}
	data["status"] = "pending"
	data["decisionId"] = decisionID
	return &ActionOutput{Data: data}
}

// IsPending reports whether out asks for a human decision, and which one.
func IsPending(out *ActionOutput) (string, bool) {
	if out == nil || out.Data == nil {
		return "", false
	}
	if status, _ := out.Data["status"].(string); status != "pending" {
		return "", false
	}
	id, _ := out.Data["decisionId"].(string)
	return id, id != ""
}

func logger(in ActionInput) *slog.Logger {
	if in.Context.Logger != nil {
		return in.Context.Logger
	}
	return slog.Default()
}

// --- Param helpers ---

func stringParam(m map[string]any, key, defaultVal string) string {
	v, ok := m[key]
	if !ok {
		return defaultVal
	}
	s, ok := v.(string)
	if !ok {
		return defaultVal
	}
	return s
}

func boolParam(m map[string]any, key string, defaultVal bool) bool {
	v, ok := m[key]
	if !ok {
		return defaultVal
	}
	b, ok := v.(bool)
	if !ok {
		return defaultVal
	}
	return b
}

func intParam(m map[string]any, key string, defaultVal int) int {
	v, ok := m[key]
	if !ok {
		return defaultVal
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return defaultVal
		}
		return int(i)
	default:
		return defaultVal
	}
}

func floatParam(m map[string]any, key string, defaultVal float64) float64 {
	v, ok := m[key]
	if !ok {
		return defaultVal
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return defaultVal
		}
		return f
	default:
		return defaultVal
	}
}

// tasksParam accepts either a list or a plan object with a "tasks" list.
func tasksParam(m map[string]any, key string) []any {
	switch v := m[key].(type) {
	case []any:
		return v
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out
	case map[string]any:
		if list, ok := v["tasks"].([]any); ok {
			return list
		}
	}
	return nil
}

func params(in ActionInput) map[string]any {
	if in.Params == nil {
		return map[string]any{}
	}
	return in.Params
}
