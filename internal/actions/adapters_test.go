package actions

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/stepwise/internal/agentqueue"
	"github.com/rendis/stepwise/internal/cloudagent"
	"github.com/rendis/stepwise/internal/workstream"
	"github.com/rendis/stepwise/pkg/schema"
)

type fakeLauncher struct {
	got  agentqueue.LaunchRequest
	task *schema.AgentTask
	err  error
}

func (f *fakeLauncher) Launch(_ context.Context, req agentqueue.LaunchRequest) (*schema.AgentTask, error) {
	f.got = req
	return f.task, f.err
}

type fakeChecker struct {
	task *schema.AgentTask
	err  error
}

func (f *fakeChecker) CheckStatus(context.Context, string) (*schema.AgentTask, error) {
	return f.task, f.err
}

type fakeCloudClient struct {
	got cloudagent.LaunchRequest
}

func (f *fakeCloudClient) Configured() bool { return true }

func (f *fakeCloudClient) Launch(_ context.Context, req cloudagent.LaunchRequest) (*cloudagent.Agent, error) {
	f.got = req
	return &cloudagent.Agent{ID: "bc-1", Status: "CREATING", Data: json.RawMessage(`{"id":"bc-1"}`)}, nil
}

func (f *fakeCloudClient) GetStatus(_ context.Context, id string) (*cloudagent.Agent, error) {
	return &cloudagent.Agent{ID: id, Status: "FINISHED", Data: json.RawMessage(`{"status":"FINISHED"}`)}, nil
}

type fakeWorkstreams struct {
	got workstream.LaunchRequest
	res *workstream.LaunchResult
}

func (f *fakeWorkstreams) Launch(_ context.Context, req workstream.LaunchRequest) (*workstream.LaunchResult, error) {
	f.got = req
	return f.res, nil
}

type fakeMerger struct {
	res *schema.MergeResult
}

func (f *fakeMerger) Merge(context.Context, schema.MergeRequest) (*schema.MergeResult, error) {
	return f.res, nil
}

func TestLaunchBackground(t *testing.T) {
	l := &fakeLauncher{task: &schema.AgentTask{ID: "t-1", Type: schema.AgentCursor, Status: schema.AgentQueued, Tasks: []any{"a", "b"}}}
	a := AgentModule(l, &fakeChecker{}).Actions[0]

	out, err := a.Execute(context.Background(), ActionInput{
		Params:  map[string]any{"prompt": "do", "tasks": map[string]any{"tasks": []any{"a", "b"}}},
		Context: ActionContext{ExecutionID: "exec-1", VersionTag: "v2"},
	})
	require.NoError(t, err)
	assert.Equal(t, "t-1", out.Data["agentTaskId"])
	assert.Equal(t, "queued", out.Data["status"])
	assert.Equal(t, 2, out.Data["tasksCount"])

	assert.Equal(t, schema.AgentCursor, l.got.Type)
	assert.Equal(t, "exec-1", l.got.ExecutionID)
	assert.Equal(t, "v2", l.got.VersionTag)
	assert.Len(t, l.got.Tasks, 2)
}

func TestCheckStatus(t *testing.T) {
	done := time.Now()
	c := &fakeChecker{task: &schema.AgentTask{ID: "t", Status: schema.AgentCompleted, AgentBranch: "b", CompletedAt: &done}}
	a := AgentModule(&fakeLauncher{}, c).Actions[1]

	out, err := a.Execute(context.Background(), ActionInput{Params: map[string]any{"taskId": "t"}})
	require.NoError(t, err)
	task := out.Data["task"].(map[string]any)
	assert.Equal(t, "completed", task["status"])
	assert.Equal(t, "b", task["agentBranch"])

	c.err = schema.NewError(schema.ErrCodeRemote, "down")
	_, err = a.Execute(context.Background(), ActionInput{Params: map[string]any{"taskId": "t"}})
	assert.True(t, schema.HasCode(err, schema.ErrCodeRemote))
}

func TestCloudAgentActions(t *testing.T) {
	client := &fakeCloudClient{}
	m := CloudAgentModule(client)

	out, err := m.Actions[0].Execute(context.Background(), ActionInput{Params: map[string]any{
		"prompt": "p", "repository": "acme/app", "maxRuntime": 600.0,
	}})
	require.NoError(t, err)
	assert.Equal(t, "bc-1", out.Data["agentId"])
	assert.Equal(t, "queued", out.Data["status"])
	assert.Equal(t, "CREATING", out.Data["remoteStatus"])
	assert.Equal(t, 600.0, client.got.Options["maxRuntime"])

	_, err = m.Actions[0].Execute(context.Background(), ActionInput{Params: map[string]any{"prompt": "p"}})
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))

	out, err = m.Actions[1].Execute(context.Background(), ActionInput{Params: map[string]any{"agentId": "bc-1"}})
	require.NoError(t, err)
	assert.Equal(t, "completed", out.Data["status"])
}

func TestLaunchWorkstreamTask(t *testing.T) {
	ws := &fakeWorkstreams{res: &workstream.LaunchResult{
		Task:                 &schema.AgentTask{ID: "t-9", Status: schema.AgentQueued},
		TaskIndex:            1,
		TotalTasks:           3,
		LaunchNextOnComplete: true,
	}}
	a := ImplementationModule(ws).Actions[0]

	out, err := a.Execute(context.Background(), ActionInput{Params: map[string]any{"workstreamId": "ws", "taskIndex": 1.0}})
	require.NoError(t, err)
	assert.Equal(t, true, out.Data["launched"])
	assert.Equal(t, "t-9", out.Data["agentTaskId"])
	require.NotNil(t, ws.got.TaskIndex)
	assert.Equal(t, 1, *ws.got.TaskIndex)

	_, err = a.Execute(context.Background(), ActionInput{Params: map[string]any{"workstreamId": "ws"}})
	require.NoError(t, err)
	assert.Nil(t, ws.got.TaskIndex)
}

func TestMergeBranch(t *testing.T) {
	m := &fakeMerger{res: &schema.MergeResult{Merged: true}}
	a := GitModule(m).Actions[0]

	out, err := a.Execute(context.Background(), ActionInput{Params: map[string]any{"branch": "agent/x"}})
	require.NoError(t, err)
	assert.Equal(t, true, out.Data["merged"])

	m.res = &schema.MergeResult{Conflict: true, Error: "conflicts in a.go"}
	_, err = a.Execute(context.Background(), ActionInput{Params: map[string]any{"branch": "agent/x"}})
	assert.True(t, schema.HasCode(err, schema.ErrCodeMergeConflict))

	m.res = &schema.MergeResult{Error: "fetch failed"}
	_, err = a.Execute(context.Background(), ActionInput{Params: map[string]any{"branch": "agent/x"}})
	assert.True(t, schema.HasCode(err, schema.ErrCodeMergeFailed))
}
