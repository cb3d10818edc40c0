package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/rendis/stepwise/internal/store"
	"github.com/rendis/stepwise/pkg/schema"
)

func TestSummarize(t *testing.T) {
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	state := schema.NewRunState(nil, nil)
	state.SetStep("build", &schema.StepResult{Status: schema.StepSuccess, Duration: 120})
	state.SetStep("test", &schema.StepResult{Status: schema.StepFailure, Error: "a | b\nc", Duration: 5})

	exec := &store.Execution{
		ID:         "e-1",
		WorkflowID: "ci",
		VersionTag: "v1.0.0",
		Status:     schema.ExecutionFailed,
		Outcome:    schema.OutcomeFailed,
		Error:      "a | b",
		State:      state,
		StartedAt:  started,
		FollowUpSuggestions: []schema.Suggestion{
			{WorkflowID: "triage", Name: "Triage", Description: "Look at it"},
		},
	}
	out := Summarize(exec, &schema.WorkflowDefinition{ID: "ci", Name: "Continuous"}, started.Add(1500*time.Millisecond))

	assert.Contains(t, out, "**Workflow:** Continuous (`ci`)")
	assert.Contains(t, out, "**Version:** v1.0.0")
	assert.Contains(t, out, "**Outcome:** failed")
	assert.Contains(t, out, "**Duration:** 1.5s")
	assert.Contains(t, out, "| build | success | 120ms |  |")
	assert.Contains(t, out, `| test | failure | 5ms | a \| b c |`)
	assert.Contains(t, out, "**Triage** (`triage`): Look at it")
}

func TestSummarize_FallsBackToWorkflowID(t *testing.T) {
	exec := &store.Execution{ID: "e", WorkflowID: "plain", Status: schema.ExecutionCompleted}
	out := Summarize(exec, nil, time.Now())
	assert.Contains(t, out, "**Workflow:** plain (`plain`)")
	assert.NotContains(t, out, "## Steps")
}
