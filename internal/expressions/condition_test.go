package expressions

import (
	"testing"

	"github.com/rendis/stepwise/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func condState() *schema.RunState {
	st := schema.NewRunState(map[string]any{"env": "prod", "flag": true}, nil)
	st.SetStep("review", &schema.StepResult{
		Status: schema.StepSuccess,
		Outputs: map[string]any{
			"count":       float64(3),
			"zero":        float64(0),
			"allComplete": false,
			"label":       "a == b",
			"ratio":       "2.5",
		},
	})
	return st
}

func TestEvaluateCondition(t *testing.T) {
	tests := []struct {
		name string
		cond string
		want bool
	}{
		{"greater true", "{{ steps.review.outputs.count }} > 0", true},
		{"greater false", "{{ steps.review.outputs.zero }} > 0", false},
		{"less", "{{ steps.review.outputs.count }} < 10", true},
		{"less than template", "{{ steps.review.outputs.zero }} < {{ steps.review.outputs.count }}", true},
		{"numeric string operand", "{{ steps.review.outputs.ratio }} > 2", true},
		{"strict equal string", "{{ trigger.env }} === 'prod'", true},
		{"strict equal mismatch", "{{ trigger.env }} === \"dev\"", false},
		{"loose equal bare word", "{{ trigger.env }} == prod", true},
		{"strict not equal", "{{ trigger.env }} !== 'dev'", true},
		{"not equal false", "{{ trigger.env }} != 'prod'", false},
		{"equal bool", "{{ steps.review.outputs.allComplete }} === false", true},
		{"equal number", "{{ steps.review.outputs.count }} == 3", true},
		{"truthy bool", "{{ trigger.flag }}", true},
		{"falsy zero", "{{ steps.review.outputs.zero }}", false},
		{"falsy missing", "{{ trigger.missing }}", false},
		{"truthy default", "{{ trigger.missing || 'x' }}", true},
		{"missing compared numerically", "{{ trigger.missing }} > 0", false},
		{"operator inside quoted literal", "{{ steps.review.outputs.label }} === 'a == b'", true},
		{"no template non-empty", "anything", true},
		{"no template false word", "false", true},
		{"no template empty", "", false},
	}

	r := NewResolver()
	st := condState()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.EvaluateCondition(tt.cond, st)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseCondition_StrictOperatorsNotSplit(t *testing.T) {
	tests := []struct {
		cond string
		op   Operator
	}{
		{"{{ a.b }} === 1", OpStrictEq},
		{"{{ a.b }} !== 1", OpStrictNeq},
		{"{{ a.b }} == 1", OpEq},
		{"{{ a.b }} != 1", OpNeq},
		{"{{ a.b }} > 1", OpGreater},
		{"{{ a.b }} < 1", OpLess},
		{"{{ a.b }}", OpNone},
	}
	for _, tt := range tests {
		t.Run(tt.cond, func(t *testing.T) {
			c, err := ParseCondition(tt.cond)
			require.NoError(t, err)
			assert.Equal(t, tt.op, c.Op)
			require.NotNil(t, c.Left.Template)
			assert.True(t, c.Left.Template.IsFullMatch())
			if tt.op != OpNone {
				require.NotNil(t, c.Right.Literal)
				assert.Equal(t, float64(1), c.Right.Literal.Value)
			}
		})
	}
}

func TestParseCondition_RejectsChains(t *testing.T) {
	_, err := ParseCondition("{{ a.b }} > 1 > 0")
	require.Error(t, err)

	_, err = ParseCondition("{{ a.b }} >")
	require.Error(t, err)

	_, err = ParseCondition("{{ a.b }} == 'open")
	require.Error(t, err)
}

func TestEvaluateCondition_ParseErrorSurfaces(t *testing.T) {
	r := NewResolver()
	ok, err := r.EvaluateCondition("{{ a.b }} > 1 < 2", condState())
	require.Error(t, err)
	assert.False(t, ok)
}
