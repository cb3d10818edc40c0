package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/stepwise/pkg/schema"
)

// mockActionLookup implements ActionLookup for tests.
type mockActionLookup struct {
	registered map[string]bool
}

func (m *mockActionLookup) Has(module, action string) bool {
	return m.registered[module+"."+action]
}

func newMockLookup(names ...string) *mockActionLookup {
	m := &mockActionLookup{registered: make(map[string]bool)}
	for _, n := range names {
		m.registered[n] = true
	}
	return m
}

func validDefinition() *schema.WorkflowDefinition {
	return &schema.WorkflowDefinition{
		ID:   "execute-features",
		Name: "Execute Features",
		Steps: []schema.Step{
			{
				ID: "extract", Module: "system", Action: "log",
				Inputs: map[string]any{"message": "{{ trigger.versionTag || 'none' }}"},
				OnSuccess: &schema.Transition{
					Condition: "{{ steps.extract.outputs.count }} > 0",
					Then:      "launch",
					Else:      "done",
				},
				OnFailure: "done",
			},
			{ID: "launch", Module: "agent", Action: "launch-background", OnSuccess: &schema.Transition{Next: "done"}},
			{ID: "done", Module: "system", Action: "notify-completion"},
		},
		FollowUpWorkflows: []schema.FollowUpWorkflow{
			{WorkflowID: "review-self", OnOutcome: schema.OutcomeList{schema.OutcomeNoTasks}},
		},
	}
}

func newValidator(t *testing.T, lookup ActionLookup) *WorkflowValidator {
	t.Helper()
	wv, err := NewWorkflowValidator(lookup)
	require.NoError(t, err)
	return wv
}

func TestValidate_ValidDefinition(t *testing.T) {
	wv := newValidator(t, newMockLookup("system.log", "agent.launch-background", "system.notify-completion"))
	result := wv.Validate(validDefinition())
	assert.True(t, result.Valid(), "errors: %v", result.Errors)
	assert.Empty(t, result.Warnings)
	assert.NoError(t, wv.ValidateDefinition(validDefinition()))
}

func TestValidate_Nil(t *testing.T) {
	wv := newValidator(t, nil)
	err := wv.ValidateDefinition(nil)
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))
}

func TestValidate_StructuralErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(d *schema.WorkflowDefinition)
	}{
		{"no steps", func(d *schema.WorkflowDefinition) { d.Steps = nil }},
		{"missing id", func(d *schema.WorkflowDefinition) { d.ID = "" }},
		{"step without module", func(d *schema.WorkflowDefinition) { d.Steps[1].Module = "" }},
		{"follow-up without workflow", func(d *schema.WorkflowDefinition) { d.FollowUpWorkflows[0].WorkflowID = "" }},
		{"unknown outcome", func(d *schema.WorkflowDefinition) {
			d.FollowUpWorkflows[0].OnOutcome = schema.OutcomeList{"sort-of-done"}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := validDefinition()
			tt.mutate(def)
			result := newValidator(t, nil).Validate(def)
			require.False(t, result.Valid())
			assert.Equal(t, schema.ErrCodeValidation, result.Errors[0].Code)
		})
	}
}

func TestValidate_DuplicateStepID(t *testing.T) {
	def := validDefinition()
	def.Steps[1].ID = "extract"
	result := newValidator(t, nil).Validate(def)
	require.False(t, result.Valid())
	assert.Contains(t, result.Errors[0].Message, `duplicate step id "extract"`)
}

func TestValidate_DanglingReferences(t *testing.T) {
	def := validDefinition()
	def.Steps[0].OnSuccess.Else = "ghost"
	def.Steps[0].OnFailure = "phantom"
	result := newValidator(t, nil).Validate(def)
	require.Len(t, result.Errors, 2)
	assert.Equal(t, "steps[0].onSuccess", result.Errors[0].Path)
	assert.Contains(t, result.Errors[0].Message, "ghost")
	assert.Equal(t, "steps[0].onFailure", result.Errors[1].Path)
}

func TestValidate_ActionUnavailable(t *testing.T) {
	wv := newValidator(t, newMockLookup("system.log", "system.notify-completion"))
	err := wv.ValidateDefinition(validDefinition())
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeActionUnavailable))
	assert.Contains(t, err.Error(), "agent.launch-background")
}

func TestValidate_BadTemplatesAndConditions(t *testing.T) {
	def := validDefinition()
	def.Steps[0].Inputs["message"] = "{{ trigger.oops"
	def.Steps[0].OnSuccess.Condition = "{{ steps.extract.outputs.count }} > 0 > 1"
	result := newValidator(t, nil).Validate(def)
	require.Len(t, result.Errors, 2)
	paths := []string{result.Errors[0].Path, result.Errors[1].Path}
	assert.Contains(t, paths, "steps[0].onSuccess.condition")
	assert.Contains(t, paths, "steps[0].inputs.message")
}

func TestValidate_PlainConditionIsNotParsed(t *testing.T) {
	def := validDefinition()
	def.Steps[0].OnSuccess.Condition = "always > sometimes > never"
	result := newValidator(t, nil).Validate(def)
	assert.True(t, result.Valid())
}

func TestValidate_UnreachableStepWarns(t *testing.T) {
	def := validDefinition()
	def.Steps = append(def.Steps, schema.Step{ID: "orphan", Module: "system", Action: "log"})
	result := newValidator(t, nil).Validate(def)
	assert.True(t, result.Valid())
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0].Message, "orphan")
}

func TestValidate_LoopsAreLegal(t *testing.T) {
	def := validDefinition()
	def.Steps[1].OnFailure = "extract"
	result := newValidator(t, nil).Validate(def)
	assert.True(t, result.Valid())
}

func TestValidateInput(t *testing.T) {
	wv := newValidator(t, nil)
	inputSchema := []byte(`{"type":"object","required":["prompt"],"properties":{"prompt":{"type":"string"}}}`)

	assert.NoError(t, wv.ValidateInput(map[string]any{"prompt": "go"}, inputSchema))
	assert.NoError(t, wv.ValidateInput(nil, nil))

	err := wv.ValidateInput(map[string]any{"prompt": 3}, inputSchema)
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))
}
