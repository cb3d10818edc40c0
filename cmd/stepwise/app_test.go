package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/stepwise/internal/engine"
	"github.com/rendis/stepwise/internal/store"
	"github.com/rendis/stepwise/pkg/schema"
)

func testApp(t *testing.T) *app {
	t.Helper()
	dir := t.TempDir()
	cfg := defaultConfig()
	cfg.DBPath = filepath.Join(dir, "data", "stepwise.db")
	cfg.QueueLock = filepath.Join(dir, "queue.lock")
	cfg.ContextDir = filepath.Join(dir, "context")
	cfg.WorkflowsDir = filepath.Join("..", "..", "workflows")
	cfg.RepoDir = dir
	cfg.LogLevel = "error"

	a, err := newApp(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestApp_BundledWorkflowsLoad(t *testing.T) {
	a := testApp(t)
	ctx := context.Background()

	list, err := a.catalog.List(ctx)
	require.NoError(t, err)
	ids := make([]string, len(list))
	for i, s := range list {
		ids[i] = s.ID
	}
	assert.Contains(t, ids, "review-self")
	assert.Contains(t, ids, "discover")

	// Sync also recorded them for store-only lookups.
	wf, err := a.store.GetWorkflow(ctx, "review-self")
	require.NoError(t, err)
	assert.Equal(t, "Review Self", wf.Name)
}

func TestApp_ReviewSelfDecisionRoundTrip(t *testing.T) {
	a := testApp(t)
	ctx := context.Background()

	def, err := a.catalog.Get(ctx, "review-self")
	require.NoError(t, err)

	res, err := a.runner.Start(ctx, engine.StartRequest{Workflow: def, VersionTag: "v3"})
	require.NoError(t, err)
	require.Equal(t, schema.ExecutionWaiting, res.Status)
	require.NotEmpty(t, res.DecisionID)

	pending, err := a.store.ListDecisions(ctx, store.DecisionFilter{ExecutionID: res.ExecutionID})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "Review v3", pending[0].Title)

	done, err := a.runner.Resume(ctx, res.DecisionID, "approve", "looks good")
	require.NoError(t, err)
	assert.Equal(t, schema.ExecutionCompleted, done.Status)
	assert.Equal(t, schema.OutcomeCompleted, done.Outcome)
	require.Len(t, done.Suggestions, 1)
	assert.Equal(t, "discover", done.Suggestions[0].WorkflowID)
	assert.Contains(t, done.Summary, "# Workflow Execution Summary")

	runs, err := a.store.ListStepExecutions(ctx, res.ExecutionID)
	require.NoError(t, err)
	var stepIDs []string
	for _, r := range runs {
		stepIDs = append(stepIDs, r.StepID)
	}
	assert.Equal(t, []string{"announce", "review", "approved"}, stepIDs)
}

func TestApp_ReviewSelfRework(t *testing.T) {
	a := testApp(t)
	ctx := context.Background()

	def, err := a.catalog.Get(ctx, "review-self")
	require.NoError(t, err)
	res, err := a.runner.Start(ctx, engine.StartRequest{Workflow: def})
	require.NoError(t, err)

	done, err := a.runner.Resume(ctx, res.DecisionID, "rework", "")
	require.NoError(t, err)
	assert.Equal(t, schema.ExecutionCompleted, done.Status)
	require.NotNil(t, done.State)
	assert.NotNil(t, done.State.Step("rework"))
	assert.Nil(t, done.State.Step("approved"))
}

func TestApp_ProcessorHoldsQueueLock(t *testing.T) {
	a := testApp(t)
	ctx := context.Background()
	require.NoError(t, a.processor.Start(ctx))

	other, err := newApp(ctx, a.cfg)
	require.NoError(t, err)
	defer other.Close()

	err = other.processor.Start(ctx)
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeConflict))
}
