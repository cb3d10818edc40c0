package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/stepwise/internal/engine"
	"github.com/rendis/stepwise/internal/store"
	"github.com/rendis/stepwise/internal/workflows"
	"github.com/rendis/stepwise/internal/workstream"
	"github.com/rendis/stepwise/pkg/schema"
)

// --- Fakes ---

type fakeRunner struct {
	started  []engine.StartRequest
	advanced []string
	resumed  []string
	result   *engine.Result
	err      error
}

func (f *fakeRunner) Start(_ context.Context, req engine.StartRequest) (*engine.Result, error) {
	f.started = append(f.started, req)
	return f.result, f.err
}

func (f *fakeRunner) Advance(_ context.Context, id string) (*engine.Result, error) {
	f.advanced = append(f.advanced, id)
	return f.result, f.err
}

func (f *fakeRunner) Resume(_ context.Context, decisionID, choice, notes string) (*engine.Result, error) {
	f.resumed = append(f.resumed, decisionID+":"+choice+":"+notes)
	return f.result, f.err
}

func (f *fakeRunner) Status(_ context.Context, id string) (*engine.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &engine.Result{ExecutionID: id, Status: schema.ExecutionWaiting, DecisionID: "d-1"}, nil
}

type fakeCatalog struct {
	defs map[string]*schema.WorkflowDefinition
}

func (f *fakeCatalog) Get(_ context.Context, id string) (*schema.WorkflowDefinition, error) {
	if d, ok := f.defs[id]; ok {
		return d, nil
	}
	return nil, schema.NewErrorf(schema.ErrCodeNotFound, "workflow %q not found", id)
}

func (f *fakeCatalog) List(context.Context) ([]workflows.Summary, error) {
	var out []workflows.Summary
	for id, d := range f.defs {
		out = append(out, workflows.Summary{ID: id, Name: d.Name, Source: "file"})
	}
	return out, nil
}

type fakeDecisions struct {
	filter store.DecisionFilter
	list   []*store.PendingDecision
}

func (f *fakeDecisions) ListDecisions(_ context.Context, filter store.DecisionFilter) ([]*store.PendingDecision, error) {
	f.filter = filter
	return f.list, nil
}

type fakeExecutions struct {
	exec *store.Execution
	runs []*store.StepExecution
}

func (f *fakeExecutions) GetExecution(_ context.Context, id string) (*store.Execution, error) {
	if f.exec == nil || f.exec.ID != id {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "execution %q not found", id)
	}
	return f.exec, nil
}

func (f *fakeExecutions) ListStepExecutions(context.Context, string) ([]*store.StepExecution, error) {
	return f.runs, nil
}

type fakeAgents struct {
	task *schema.AgentTask
	err  error
}

func (f *fakeAgents) CheckStatus(context.Context, string) (*schema.AgentTask, error) {
	return f.task, f.err
}

type fakeWorkstreams struct {
	req workstream.LaunchRequest
	err error
}

func (f *fakeWorkstreams) Launch(_ context.Context, req workstream.LaunchRequest) (*workstream.LaunchResult, error) {
	f.req = req
	if f.err != nil {
		return nil, f.err
	}
	return &workstream.LaunchResult{TaskIndex: 0, TotalTasks: 2, LaunchNextOnComplete: true}, nil
}

// --- Helpers ---

func buildRequest(toolName string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      toolName,
			Arguments: args,
		},
	}
}

func extractText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	return mcp.GetTextFromContent(result.Content[0])
}

func unmarshalResult(t *testing.T, result *mcp.CallToolResult, target any) {
	t.Helper()
	require.NoError(t, json.Unmarshal([]byte(extractText(t, result)), target))
}

// --- Tests ---

func TestRunTool(t *testing.T) {
	runner := &fakeRunner{result: &engine.Result{ExecutionID: "e-1", Status: schema.ExecutionCompleted, Outcome: schema.OutcomeNoTasks}}
	catalog := &fakeCatalog{defs: map[string]*schema.WorkflowDefinition{"discover": {ID: "discover", Name: "Discover"}}}
	s := NewServer(ServerDeps{Runner: runner, Catalog: catalog})

	result, err := s.handleRun(context.Background(), buildRequest("workflow_run", map[string]any{
		"workflow_id": "discover",
		"trigger":     map[string]any{"repo": "acme/app"},
		"mode":        "step",
		"version_tag": "v3",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))

	require.Len(t, runner.started, 1)
	req := runner.started[0]
	assert.Equal(t, "discover", req.Workflow.ID)
	assert.Equal(t, schema.ModeStep, req.Mode)
	assert.Equal(t, "v3", req.VersionTag)
	assert.Equal(t, "acme/app", req.Trigger["repo"])
	assert.Equal(t, "mcp", req.TriggerType)

	var got engine.Result
	unmarshalResult(t, result, &got)
	assert.Equal(t, "e-1", got.ExecutionID)
	assert.Equal(t, schema.OutcomeNoTasks, got.Outcome)
}

func TestRunToolErrors(t *testing.T) {
	runner := &fakeRunner{err: schema.NewError(schema.ErrCodeValidation, "bad definition")}
	catalog := &fakeCatalog{defs: map[string]*schema.WorkflowDefinition{"x": {ID: "x"}}}
	s := NewServer(ServerDeps{Runner: runner, Catalog: catalog})
	ctx := context.Background()

	result, err := s.handleRun(ctx, buildRequest("workflow_run", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = s.handleRun(ctx, buildRequest("workflow_run", map[string]any{"workflow_id": "missing"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), "not found")

	result, err = s.handleRun(ctx, buildRequest("workflow_run", map[string]any{"workflow_id": "x"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), "bad definition")

	unconfigured := NewServer(ServerDeps{})
	result, err = unconfigured.handleRun(ctx, buildRequest("workflow_run", map[string]any{"workflow_id": "x"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestAdvanceStatusAndResolve(t *testing.T) {
	runner := &fakeRunner{result: &engine.Result{ExecutionID: "e-1", Status: schema.ExecutionPaused}}
	s := NewServer(ServerDeps{Runner: runner})
	ctx := context.Background()

	result, err := s.handleAdvance(ctx, buildRequest("workflow_advance", map[string]any{"execution_id": "e-1"}))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, []string{"e-1"}, runner.advanced)

	result, err = s.handleStatus(ctx, buildRequest("workflow_status", map[string]any{"execution_id": "e-9"}))
	require.NoError(t, err)
	var status engine.Result
	unmarshalResult(t, result, &status)
	assert.Equal(t, "d-1", status.DecisionID)

	result, err = s.handleResolve(ctx, buildRequest("decision_resolve", map[string]any{
		"decision_id": "d-1", "choice": "approve", "notes": "ok",
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, []string{"d-1:approve:ok"}, runner.resumed)

	result, err = s.handleResolve(ctx, buildRequest("decision_resolve", map[string]any{"decision_id": "d-1"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), "choice is required")
}

func TestDecisionList(t *testing.T) {
	decisions := &fakeDecisions{list: []*store.PendingDecision{{ID: "d-1", Title: "Ship?", Status: schema.DecisionPending}}}
	s := NewServer(ServerDeps{Decisions: decisions})

	result, err := s.handleDecisionList(context.Background(), buildRequest("decision_list", map[string]any{
		"execution_id": "e-1",
		"limit":        float64(5),
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	assert.Equal(t, "e-1", decisions.filter.ExecutionID)
	assert.Equal(t, schema.DecisionPending, decisions.filter.Status)
	assert.Equal(t, 5, decisions.filter.Limit)

	var got struct {
		Decisions []store.PendingDecision `json:"decisions"`
		Count     int                     `json:"count"`
	}
	unmarshalResult(t, result, &got)
	assert.Equal(t, 1, got.Count)
	assert.Equal(t, "Ship?", got.Decisions[0].Title)
}

func TestAgentStatusTool(t *testing.T) {
	task := &schema.AgentTask{ID: "t-1", Status: schema.AgentRunning}
	agents := &fakeAgents{task: task, err: schema.NewError(schema.ErrCodeRemote, "service unavailable")}
	s := NewServer(ServerDeps{Agents: agents})
	ctx := context.Background()

	result, err := s.handleAgentStatus(ctx, buildRequest("agent_status", map[string]any{"task_id": "t-1"}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	var got map[string]any
	unmarshalResult(t, result, &got)
	assert.Contains(t, got["syncError"], "service unavailable")

	agents.task = nil
	agents.err = schema.NewError(schema.ErrCodeNotFound, "agent task not found")
	result, err = s.handleAgentStatus(ctx, buildRequest("agent_status", map[string]any{"task_id": "nope"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestWorkstreamLaunchTool(t *testing.T) {
	ws := &fakeWorkstreams{}
	s := NewServer(ServerDeps{Workstreams: ws})
	ctx := context.Background()

	result, err := s.handleWorkstreamLaunch(ctx, buildRequest("workstream_launch", map[string]any{
		"workstream_id":  "ws-auth",
		"task_index":     float64(1),
		"agent_type":     "local",
		"merge_strategy": "squash",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Equal(t, "ws-auth", ws.req.WorkstreamID)
	require.NotNil(t, ws.req.TaskIndex)
	assert.Equal(t, 1, *ws.req.TaskIndex)
	assert.Equal(t, schema.AgentLocal, ws.req.AgentType)
	assert.Equal(t, "squash", ws.req.MergeStrategy)

	_, err = s.handleWorkstreamLaunch(ctx, buildRequest("workstream_launch", map[string]any{"workstream_id": "ws-auth"}))
	require.NoError(t, err)
	assert.Nil(t, ws.req.TaskIndex)
	assert.Equal(t, schema.AgentCursorCloud, ws.req.AgentType)

	ws.err = errors.New("workstream busy")
	result, err = s.handleWorkstreamLaunch(ctx, buildRequest("workstream_launch", map[string]any{"workstream_id": "ws-auth"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestWorkflowListTool(t *testing.T) {
	catalog := &fakeCatalog{defs: map[string]*schema.WorkflowDefinition{"a": {ID: "a", Name: "A"}}}
	s := NewServer(ServerDeps{Catalog: catalog})

	result, err := s.handleList(context.Background(), buildRequest("workflow_list", nil))
	require.NoError(t, err)
	var got map[string]any
	unmarshalResult(t, result, &got)
	assert.EqualValues(t, 1, got["count"])
}

func TestWorkflowDiagramTool(t *testing.T) {
	def := &schema.WorkflowDefinition{ID: "review", Name: "Review", Steps: []schema.Step{
		{ID: "check", Module: "system", Action: "noop", OnSuccess: &schema.Transition{Next: "report"}},
		{ID: "report", Module: "system", Action: "log"},
	}}
	catalog := &fakeCatalog{defs: map[string]*schema.WorkflowDefinition{"review": def}}
	execs := &fakeExecutions{
		exec: &store.Execution{ID: "e-1", WorkflowID: "review"},
		runs: []*store.StepExecution{{StepID: "check", Status: schema.StepSuccess}},
	}
	s := NewServer(ServerDeps{Catalog: catalog, Executions: execs})
	ctx := context.Background()

	result, err := s.handleDiagram(ctx, buildRequest("workflow_diagram", map[string]any{"workflow_id": "review"}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	out := extractText(t, result)
	assert.Contains(t, out, "check --> report")
	assert.NotContains(t, out, "class check success")

	result, err = s.handleDiagram(ctx, buildRequest("workflow_diagram", map[string]any{"execution_id": "e-1"}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Contains(t, extractText(t, result), "class check success")

	result, err = s.handleDiagram(ctx, buildRequest("workflow_diagram", nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = s.handleDiagram(ctx, buildRequest("workflow_diagram", map[string]any{"execution_id": "missing"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}
