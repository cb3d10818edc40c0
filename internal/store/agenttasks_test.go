package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/stepwise/pkg/schema"
)

func queuedTask(id string, startedAt time.Time) *schema.AgentTask {
	return &schema.AgentTask{
		ID:        id,
		Type:      schema.AgentLocal,
		Status:    schema.AgentQueued,
		StartedAt: startedAt,
		Tasks:     []any{"do it"},
	}
}

func TestAgentTask_PutReplacesWholeRecord(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task := queuedTask("t1", time.Now())
	task.Prompt = "first"
	require.NoError(t, s.PutAgentTask(ctx, task))

	replacement := queuedTask("t1", task.StartedAt)
	replacement.Status = schema.AgentReady
	require.NoError(t, s.PutAgentTask(ctx, replacement))

	got, err := s.GetAgentTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, schema.AgentReady, got.Status)
	assert.Empty(t, got.Prompt)
}

func TestAgentTask_CloudStatusRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task := queuedTask("cloud-1", time.Now())
	task.Type = schema.AgentCursorCloud
	task.CloudAgentID = "bc-123"
	task.CloudStatus = json.RawMessage(`{"status":"RUNNING"}`)
	task.SyncHistory = []schema.SyncEntry{{Timestamp: time.Now().UTC(), PreviousStatus: "queued", NewStatus: "running", StatusChanged: true, Success: true}}
	require.NoError(t, s.PutAgentTask(ctx, task))

	got, err := s.GetAgentTask(ctx, "cloud-1")
	require.NoError(t, err)
	assert.True(t, got.IsCloud())
	assert.JSONEq(t, `{"status":"RUNNING"}`, string(got.CloudStatus))
	require.Len(t, got.SyncHistory, 1)
	assert.True(t, got.SyncHistory[0].StatusChanged)
}

func TestAgentTask_ListFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	require.NoError(t, s.PutAgentTask(ctx, queuedTask("b", base.Add(2*time.Minute))))
	require.NoError(t, s.PutAgentTask(ctx, queuedTask("a", base.Add(time.Minute))))
	cloud := queuedTask("c", base)
	cloud.CloudAgentID = "bc-1"
	cloud.Status = schema.AgentRunning
	require.NoError(t, s.PutAgentTask(ctx, cloud))

	queued, err := s.ListAgentTasks(ctx, AgentTaskFilter{Statuses: []schema.AgentStatus{schema.AgentQueued}})
	require.NoError(t, err)
	require.Len(t, queued, 2)
	assert.Equal(t, "a", queued[0].ID)
	assert.Equal(t, "b", queued[1].ID)

	clouds, err := s.ListAgentTasks(ctx, AgentTaskFilter{CloudOnly: true})
	require.NoError(t, err)
	require.Len(t, clouds, 1)
	assert.Equal(t, "c", clouds[0].ID)

	locals, err := s.ListAgentTasks(ctx, AgentTaskFilter{LocalOnly: true, Limit: 1})
	require.NoError(t, err)
	require.Len(t, locals, 1)
	assert.Equal(t, "a", locals[0].ID)
}

func TestAgentTask_OneLiveTaskPerWorkstream(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := queuedTask("w1", time.Now())
	first.WorkstreamID = "ws"
	require.NoError(t, s.PutAgentTask(ctx, first))

	second := queuedTask("w2", time.Now())
	second.WorkstreamID = "ws"
	err := s.PutAgentTask(ctx, second)
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeConflict))

	first.Status = schema.AgentCompleted
	require.NoError(t, s.PutAgentTask(ctx, first))
	require.NoError(t, s.PutAgentTask(ctx, second))
}

func TestClaimAgentTask_OldestFirstAndExclusive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.PutAgentTask(ctx, queuedTask("late", now.Add(-time.Minute))))
	require.NoError(t, s.PutAgentTask(ctx, queuedTask("early", now.Add(-time.Hour))))

	got, err := s.ClaimAgentTask(ctx, "proc-1", time.Minute, now)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "early", got.ID)
	assert.Equal(t, schema.AgentProcessing, got.Status)
	assert.Equal(t, "proc-1", got.LeaseOwner)
	require.NotNil(t, got.LeaseExpiresAt)

	stored, err := s.GetAgentTask(ctx, "early")
	require.NoError(t, err)
	assert.Equal(t, schema.AgentProcessing, stored.Status)

	next, err := s.ClaimAgentTask(ctx, "proc-2", time.Minute, now)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "late", next.ID)

	none, err := s.ClaimAgentTask(ctx, "proc-2", time.Minute, now)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestClaimAgentTask_ReclaimsExpiredLease(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.PutAgentTask(ctx, queuedTask("t", now.Add(-time.Hour))))
	_, err := s.ClaimAgentTask(ctx, "crashed", time.Minute, now)
	require.NoError(t, err)

	none, err := s.ClaimAgentTask(ctx, "fresh", time.Minute, now.Add(30*time.Second))
	require.NoError(t, err)
	assert.Nil(t, none)

	again, err := s.ClaimAgentTask(ctx, "fresh", time.Minute, now.Add(2*time.Minute))
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, "fresh", again.LeaseOwner)
}

func TestClaimAgentTask_SkipsCloudTasks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task := queuedTask("cloud", time.Now())
	task.CloudAgentID = "bc-9"
	require.NoError(t, s.PutAgentTask(ctx, task))

	got, err := s.ClaimAgentTask(ctx, "p", time.Minute, time.Now())
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestWorkstream_PutGetList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ws := &schema.Workstream{
		ID:     "ws-auth",
		Name:   "Auth",
		Status: schema.WorkstreamActive,
		Goals: []schema.WorkstreamGoal{
			{Text: "login", TaskSequence: 1},
			{Text: "logout", TaskSequence: 2, Completed: true},
		},
	}
	require.NoError(t, s.PutWorkstream(ctx, ws))

	got, err := s.GetWorkstream(ctx, "ws-auth")
	require.NoError(t, err)
	assert.Equal(t, "Auth", got.Name)
	require.Len(t, got.Goals, 2)
	assert.True(t, got.Goals[1].Completed)

	list, err := s.ListWorkstreams(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = s.GetWorkstream(ctx, "missing")
	assert.True(t, schema.HasCode(err, schema.ErrCodeNotFound))
}
