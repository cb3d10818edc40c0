package agentqueue

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/stepwise/pkg/schema"
)

func queue(t *testing.T, st interface {
	PutAgentTask(context.Context, *schema.AgentTask) error
}, id string, typ schema.AgentType, tasks []any, startedAt time.Time) {
	t.Helper()
	require.NoError(t, st.PutAgentTask(context.Background(), &schema.AgentTask{
		ID: id, Type: typ, Status: schema.AgentQueued, Tasks: tasks, StartedAt: startedAt,
	}))
}

func TestProcessNext_EmptyQueue(t *testing.T) {
	p := NewProcessor(newTestStore(t), nil, ProcessorConfig{})
	processed, err := p.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestProcessNext_OldestFirst(t *testing.T) {
	st := newTestStore(t)
	now := time.Now()
	queue(t, st, "newer", schema.AgentLocal, []any{"a"}, now.Add(-time.Minute))
	queue(t, st, "older", schema.AgentLocal, []any{"a"}, now.Add(-time.Hour))

	p := NewProcessor(st, nil, ProcessorConfig{Owner: "test"})
	processed, err := p.ProcessNext(context.Background())
	require.NoError(t, err)
	require.True(t, processed)

	older, err := st.GetAgentTask(context.Background(), "older")
	require.NoError(t, err)
	assert.Equal(t, schema.AgentReady, older.Status)
	assert.NotNil(t, older.ReadyAt)
	assert.NotNil(t, older.ProcessedAt)
	assert.Empty(t, older.LeaseOwner)

	newer, err := st.GetAgentTask(context.Background(), "newer")
	require.NoError(t, err)
	assert.Equal(t, schema.AgentQueued, newer.Status)
}

func TestProcessNext_EmptyTaskListAutoCompletes(t *testing.T) {
	st := newTestStore(t)
	queue(t, st, "empty", schema.AgentCursor, nil, time.Now())

	p := NewProcessor(st, nil, ProcessorConfig{})
	_, err := p.ProcessNext(context.Background())
	require.NoError(t, err)

	task, err := st.GetAgentTask(context.Background(), "empty")
	require.NoError(t, err)
	assert.Equal(t, schema.AgentCompleted, task.Status)
	assert.Equal(t, NoTasksNote, task.Note)
	assert.NotNil(t, task.CompletedAt)
}

func TestProcessNext_CursorWritesArtifact(t *testing.T) {
	st := newTestStore(t)
	dir := t.TempDir()
	queue(t, st, "cur", schema.AgentCursor, []any{"x"}, time.Now())

	p := NewProcessor(st, nil, ProcessorConfig{ContextDir: dir})
	_, err := p.ProcessNext(context.Background())
	require.NoError(t, err)

	task, err := st.GetAgentTask(context.Background(), "cur")
	require.NoError(t, err)
	assert.Equal(t, schema.AgentReady, task.Status)
	_, err = os.Stat(filepath.Join(dir, "cur.json"))
	assert.NoError(t, err)
}

func TestProcessNext_UnknownTypeFails(t *testing.T) {
	st := newTestStore(t)
	queue(t, st, "odd", schema.AgentType("carrier-pigeon"), []any{"x"}, time.Now())

	p := NewProcessor(st, nil, ProcessorConfig{})
	processed, err := p.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.True(t, processed)

	task, err := st.GetAgentTask(context.Background(), "odd")
	require.NoError(t, err)
	assert.Equal(t, schema.AgentFailed, task.Status)
	assert.Contains(t, task.Error, "carrier-pigeon")
	assert.NotNil(t, task.FailedAt)
}

func TestProcessNext_SingleFlight(t *testing.T) {
	st := newTestStore(t)
	queue(t, st, "t", schema.AgentLocal, []any{"x"}, time.Now())

	p := NewProcessor(st, nil, ProcessorConfig{})
	require.True(t, p.acquire("held"))

	processed, err := p.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.False(t, processed, "a pass in flight turns new passes into no-ops")

	p.setCurrent("")
	processed, err = p.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.True(t, processed)
	assert.Empty(t, p.InFlight())
}

func TestSyncCloudTasks(t *testing.T) {
	st := newTestStore(t)
	seedCloudTask(t, st, "c1")
	seedCloudTask(t, st, "c2")
	queue(t, st, "local", schema.AgentLocal, []any{"x"}, time.Now())

	cloud := &fakeCloud{configured: true}
	cloud.set("RUNNING", `{"status":"RUNNING"}`)
	p := NewProcessor(st, NewSyncer(st, cloud, nil), ProcessorConfig{})

	n, err := p.SyncCloudTasks(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, cloud.checks)

	task, err := st.GetAgentTask(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, schema.AgentRunning, task.Status)
}

func TestStartStop_KickProcesses(t *testing.T) {
	st := newTestStore(t)
	lockPath := filepath.Join(t.TempDir(), "queue.lock")
	p := NewProcessor(st, nil, ProcessorConfig{PollInterval: time.Hour, LockPath: lockPath})

	require.NoError(t, p.Start(context.Background()))
	t.Cleanup(func() { _ = p.Stop() })

	queue(t, st, "kicked", schema.AgentLocal, []any{"x"}, time.Now())
	p.Kick()

	require.Eventually(t, func() bool {
		task, err := st.GetAgentTask(context.Background(), "kicked")
		return err == nil && task.Status == schema.AgentReady
	}, 5*time.Second, 20*time.Millisecond)

	second := NewProcessor(st, nil, ProcessorConfig{LockPath: lockPath})
	err := second.Start(context.Background())
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeConflict))

	require.NoError(t, p.Stop())
	require.NoError(t, second.Start(context.Background()))
	require.NoError(t, second.Stop())
}
