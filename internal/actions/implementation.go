package actions

import (
	"context"
	"encoding/json"

	"github.com/rendis/stepwise/internal/workstream"
	"github.com/rendis/stepwise/pkg/schema"
)

// WorkstreamLauncher launches the next goal of a workstream.
type WorkstreamLauncher interface {
	Launch(ctx context.Context, req workstream.LaunchRequest) (*workstream.LaunchResult, error)
}

// BranchMerger merges an agent branch into the working tree.
type BranchMerger interface {
	Merge(ctx context.Context, req schema.MergeRequest) (*schema.MergeResult, error)
}

// ImplementationModule returns the "implementation" module.
func ImplementationModule(ws WorkstreamLauncher) Module {
	return Module{
		Name:        "implementation",
		Description: "Drive workstream implementation tasks",
		Actions:     []Action{&launchWorkstreamTaskAction{ws: ws}},
	}
}

const launchWorkstreamTaskInputSchema = `{
  "type": "object",
  "properties": {
    "workstreamId": {"type": "string", "minLength": 1},
    "taskIndex": {"type": "integer", "minimum": 0},
    "agentType": {"type": "string", "enum": ["cursor", "cursor-cloud", "local"]},
    "mergeStrategy": {"type": "string"},
    "repository": {"type": "string"},
    "branch": {"type": "string"}
  },
  "required": ["workstreamId"]
}`

type launchWorkstreamTaskAction struct {
	ws WorkstreamLauncher
}

func (a *launchWorkstreamTaskAction) Name() string { return "launch-workstream-task" }

func (a *launchWorkstreamTaskAction) Schema() ActionSchema {
	return ActionSchema{
		Description: "Launch one agent task for the workstream's current goal.",
		InputSchema: json.RawMessage(launchWorkstreamTaskInputSchema),
	}
}

func (a *launchWorkstreamTaskAction) Validate(input map[string]any) error {
	if stringParam(input, "workstreamId", "") == "" {
		return schema.NewError(schema.ErrCodeValidation, "implementation.launch-workstream-task: missing required param 'workstreamId'")
	}
	return nil
}

func (a *launchWorkstreamTaskAction) Execute(ctx context.Context, input ActionInput) (*ActionOutput, error) {
	p := params(input)
	if err := a.Validate(p); err != nil {
		return nil, err
	}
	req := workstream.LaunchRequest{
		WorkstreamID:  stringParam(p, "workstreamId", ""),
		AgentType:     schema.AgentType(stringParam(p, "agentType", "")),
		MergeStrategy: stringParam(p, "mergeStrategy", ""),
		Repository:    stringParam(p, "repository", ""),
		Branch:        stringParam(p, "branch", ""),
		ExecutionID:   input.Context.ExecutionID,
		VersionTag:    input.Context.VersionTag,
	}
	if _, ok := p["taskIndex"]; ok {
		idx := intParam(p, "taskIndex", 0)
		req.TaskIndex = &idx
	}

	res, err := a.ws.Launch(ctx, req)
	if err != nil {
		return nil, err
	}
	out := map[string]any{
		"launched":             res.Task != nil,
		"allComplete":          res.AllComplete,
		"taskIndex":            res.TaskIndex,
		"totalTasks":           res.TotalTasks,
		"launchNextOnComplete": res.LaunchNextOnComplete,
	}
	if res.Task != nil {
		out["agentTaskId"] = res.Task.ID
		out["status"] = string(res.Task.Status)
	}
	return &ActionOutput{Data: out}, nil
}

// GitModule returns the "git" module.
func GitModule(merger BranchMerger) Module {
	return Module{
		Name:        "git",
		Description: "Integrate agent branches",
		Actions:     []Action{&mergeBranchAction{merger: merger}},
	}
}

const mergeBranchInputSchema = `{
  "type": "object",
  "properties": {
    "branch": {"type": "string", "minLength": 1},
    "strategy": {"type": "string", "enum": ["merge", "squash", "ff-only"]},
    "message": {"type": "string"},
    "push": {"type": "boolean"}
  },
  "required": ["branch"]
}`

type mergeBranchAction struct {
	merger BranchMerger
}

func (a *mergeBranchAction) Name() string { return "merge-branch" }

func (a *mergeBranchAction) Schema() ActionSchema {
	return ActionSchema{
		Description: "Merge a branch; conflicts fail the step.",
		InputSchema: json.RawMessage(mergeBranchInputSchema),
	}
}

func (a *mergeBranchAction) Validate(input map[string]any) error {
	if stringParam(input, "branch", "") == "" {
		return schema.NewError(schema.ErrCodeValidation, "git.merge-branch: missing required param 'branch'")
	}
	return nil
}

func (a *mergeBranchAction) Execute(ctx context.Context, input ActionInput) (*ActionOutput, error) {
	p := params(input)
	if err := a.Validate(p); err != nil {
		return nil, err
	}
	branch := stringParam(p, "branch", "")
	res, err := a.merger.Merge(ctx, schema.MergeRequest{
		Branch:   branch,
		Strategy: stringParam(p, "strategy", ""),
		Message:  stringParam(p, "message", ""),
		Push:     boolParam(p, "push", false),
	})
	if err != nil {
		return nil, err
	}
	if res.Conflict {
		return nil, schema.NewErrorf(schema.ErrCodeMergeConflict, "merge conflict on %s: %s", branch, res.Error)
	}
	if !res.SafeToProceed() {
		return nil, schema.NewErrorf(schema.ErrCodeMergeFailed, "merge of %s failed: %s", branch, res.Error)
	}
	return &ActionOutput{Data: map[string]any{
		"merged":        res.Merged,
		"alreadyMerged": res.AlreadyMerged,
		"pushed":        res.Pushed,
		"branch":        branch,
	}}, nil
}
