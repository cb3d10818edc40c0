package engine

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/stepwise/pkg/schema"
)

type namedStep struct {
	id string
	r  *schema.StepResult
}

func stateWith(steps ...namedStep) *schema.RunState {
	s := schema.NewRunState(nil, nil)
	for _, st := range steps {
		s.SetStep(st.id, st.r)
	}
	return s
}

func succeeded(outputs map[string]any) *schema.StepResult {
	return &schema.StepResult{Status: schema.StepSuccess, Outputs: outputs}
}

func failed(msg string) *schema.StepResult {
	return &schema.StepResult{Status: schema.StepFailure, Error: msg, ReturnCode: 1}
}

func TestDetermineOutcome(t *testing.T) {
	cases := []struct {
		name  string
		state *schema.RunState
		want  schema.Outcome
	}{
		{"nil state", nil, schema.OutcomeUnknown},
		{"no steps", stateWith(), schema.OutcomeUnknown},
		{
			"zero count anywhere beats a later failure",
			stateWith(
				namedStep{"scan", succeeded(map[string]any{"count": 0})},
				namedStep{"build", failed("boom")},
			),
			schema.OutcomeNoTasks,
		},
		{
			"zero count from decoded json",
			stateWith(namedStep{"scan", succeeded(map[string]any{"count": float64(0)})}),
			schema.OutcomeNoTasks,
		},
		{
			"string zero is not a count",
			stateWith(namedStep{"scan", succeeded(map[string]any{"count": "0"})}),
			schema.OutcomeCompleted,
		},
		{"no-tasks step id", stateWith(namedStep{"no-tasks", succeeded(nil)}), schema.OutcomeNoTasks},
		{"nextStepsCount zero", stateWith(namedStep{"x", succeeded(map[string]any{"nextStepsCount": 0})}), schema.OutcomeNoTasks},
		{"empty nextSteps", stateWith(namedStep{"x", succeeded(map[string]any{"nextSteps": []any{}})}), schema.OutcomeNoTasks},
		{"allComplete true", stateWith(namedStep{"x", succeeded(map[string]any{"allComplete": true})}), schema.OutcomeAllComplete},
		{"allComplete false", stateWith(namedStep{"x", succeeded(map[string]any{"allComplete": false})}), schema.OutcomeNoTasks},
		{"last step failed", stateWith(namedStep{"a", succeeded(nil)}, namedStep{"b", failed("x")}), schema.OutcomeFailed},
		{"versionTag output", stateWith(namedStep{"x", succeeded(map[string]any{"versionTag": "v1.2.0"})}), schema.OutcomeVersionCreated},
		{"empty versionTag ignored", stateWith(namedStep{"x", succeeded(map[string]any{"versionTag": ""})}), schema.OutcomeCompleted},
		{"create-next-version id", stateWith(namedStep{"create-next-version", succeeded(nil)}), schema.OutcomeVersionCreated},
		{"only last step counts", stateWith(namedStep{"a", succeeded(map[string]any{"allComplete": true})}, namedStep{"b", succeeded(nil)}), schema.OutcomeCompleted},
		{"plain success", stateWith(namedStep{"a", succeeded(map[string]any{"n": 3})}), schema.OutcomeCompleted},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := DetermineOutcome(tc.state)
			assert.Equal(t, tc.want, got)
			assert.Contains(t, schema.Outcomes, got)
		})
	}
}

func TestDetermineOutcome_InsertionOrderSurvivesRewrite(t *testing.T) {
	s := schema.NewRunState(nil, nil)
	s.SetStep("create-next-version", succeeded(nil))
	s.SetStep("notify", succeeded(nil))
	// Re-running an earlier step keeps its original position.
	s.SetStep("create-next-version", succeeded(nil))
	assert.Equal(t, schema.OutcomeCompleted, DetermineOutcome(s))
}

func TestDetermineOutcome_StateWithoutStepOrder(t *testing.T) {
	var s schema.RunState
	require.NoError(t, json.Unmarshal([]byte(`{"steps":{"extract-next-steps":{"status":"success","outputs":{"count":0}}}}`), &s))
	require.Empty(t, s.StepOrder)
	assert.Equal(t, schema.OutcomeNoTasks, DetermineOutcome(&s))

	var done schema.RunState
	require.NoError(t, json.Unmarshal([]byte(`{"steps":{"a-plan":{"status":"success"},"z-finish":{"status":"success","outputs":{"allComplete":true}}}}`), &done))
	id, _, ok := done.LastStep()
	require.True(t, ok)
	assert.Equal(t, "z-finish", id)
	assert.Equal(t, schema.OutcomeAllComplete, DetermineOutcome(&done))
}

func TestFollowUpSuggestions_Defaults(t *testing.T) {
	def := &schema.WorkflowDefinition{ID: "plan"}

	got := FollowUpSuggestions(schema.OutcomeNoTasks, def)
	require.Len(t, got, 1)
	assert.Equal(t, "review-self", got[0].WorkflowID)
	assert.Equal(t, "Review Self", got[0].Name)
	assert.Equal(t, "Suggested because workflow completed with outcome: no-tasks", got[0].Reason)

	got = FollowUpSuggestions(schema.OutcomeAllComplete, nil)
	require.Len(t, got, 1)
	assert.Equal(t, "review-self", got[0].WorkflowID)

	got = FollowUpSuggestions(schema.OutcomeVersionCreated, def)
	require.Len(t, got, 1)
	assert.Equal(t, "execute-features", got[0].WorkflowID)

	assert.Empty(t, FollowUpSuggestions(schema.OutcomeFailed, def))
	assert.Empty(t, FollowUpSuggestions(schema.OutcomeUnknown, def))
	assert.Empty(t, FollowUpSuggestions(schema.OutcomeCompleted, def))
}

func TestFollowUpSuggestions_DeclaredReplaceDefaults(t *testing.T) {
	def := &schema.WorkflowDefinition{
		ID: "plan",
		FollowUpWorkflows: []schema.FollowUpWorkflow{
			{WorkflowID: "ship", Name: "Ship It", Description: "Release", Reason: "done", OnOutcome: schema.OutcomeList{schema.OutcomeNoTasks}},
			{WorkflowID: "triage", OnOutcome: schema.OutcomeList{schema.OutcomeNoTasks, schema.OutcomeFailed}},
			{WorkflowID: "unrelated", OnOutcome: schema.OutcomeList{schema.OutcomeVersionCreated}},
		},
	}

	got := FollowUpSuggestions(schema.OutcomeNoTasks, def)
	require.Len(t, got, 2)
	assert.Equal(t, schema.Suggestion{WorkflowID: "ship", Name: "Ship It", Description: "Release", Reason: "done"}, got[0])
	assert.Equal(t, "triage", got[1].Name)
	assert.Equal(t, "Run triage workflow", got[1].Description)
	assert.Equal(t, "Suggested because workflow completed with outcome: no-tasks", got[1].Reason)

	// Declared entries apply to failed runs too, even though the default table is empty.
	got = FollowUpSuggestions(schema.OutcomeFailed, def)
	require.Len(t, got, 1)
	assert.Equal(t, "triage", got[0].WorkflowID)

	// No declared match falls back to the defaults.
	got = FollowUpSuggestions(schema.OutcomeAllComplete, def)
	require.Len(t, got, 1)
	assert.Equal(t, "review-self", got[0].WorkflowID)
}

func TestOutcomeScenario_ExtractNextSteps(t *testing.T) {
	s := schema.NewRunState(nil, nil)
	s.SetStep("extract-next-steps", succeeded(map[string]any{"count": 0, "nextSteps": []any{}}))
	def := &schema.WorkflowDefinition{
		ID: "discover",
		FollowUpWorkflows: []schema.FollowUpWorkflow{
			{WorkflowID: "review-self", OnOutcome: schema.OutcomeList{schema.OutcomeNoTasks}},
		},
	}

	outcome := DetermineOutcome(s)
	assert.Equal(t, schema.OutcomeNoTasks, outcome)

	got := FollowUpSuggestions(outcome, def)
	require.Len(t, got, 1)
	assert.Equal(t, "review-self", got[0].WorkflowID)
}
