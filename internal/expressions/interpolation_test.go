package expressions

import (
	"testing"

	"github.com/rendis/stepwise/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testState() *schema.RunState {
	st := schema.NewRunState(
		map[string]any{"param": "value", "count": float64(3), "nested": map[string]any{"deep": "yes"}},
		map[string]any{"executionId": "exec-1", "versionTag": "v2"},
	)
	st.SetStep("fetch", &schema.StepResult{
		Status:  schema.StepSuccess,
		Outputs: map[string]any{"url": "https://example.com", "total": float64(42), "items": []any{"a", "b"}},
	})
	return st
}

func TestResolve_FullMatchString(t *testing.T) {
	r := NewResolver()
	v, err := r.Resolve("{{ trigger.param }}", testState())
	require.NoError(t, err)
	assert.Equal(t, "value", v)
}

func TestResolve_DefaultWhenMissing(t *testing.T) {
	r := NewResolver()
	st := schema.NewRunState(map[string]any{}, nil)

	v, err := r.Resolve("{{ trigger.param || 'default' }}", st)
	require.NoError(t, err)
	assert.Equal(t, "default", v)
}

func TestResolve_NumericDefaultIsNumber(t *testing.T) {
	r := NewResolver()
	v, err := r.Resolve("{{ trigger.limit || 5 }}", schema.NewRunState(nil, nil))
	require.NoError(t, err)
	assert.Equal(t, float64(5), v)
}

func TestResolve_QuotedNumericDefaultStaysString(t *testing.T) {
	r := NewResolver()
	v, err := r.Resolve("{{ trigger.limit || '5' }}", schema.NewRunState(nil, nil))
	require.NoError(t, err)
	assert.Equal(t, "5", v)
}

func TestResolve_FullMatchKeepsNativeType(t *testing.T) {
	r := NewResolver()
	st := testState()

	v, err := r.Resolve("{{ steps.fetch.outputs.total }}", st)
	require.NoError(t, err)
	assert.Equal(t, float64(42), v)

	v, err = r.Resolve("{{ steps.fetch.outputs.items }}", st)
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, v)

	v, err = r.Resolve("{{ trigger.nested }}", st)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"deep": "yes"}, v)
}

func TestResolve_FullMatchMissingIsNil(t *testing.T) {
	r := NewResolver()
	v, err := r.Resolve("{{ trigger.nope.deeper }}", testState())
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestResolve_InterpolationStringifies(t *testing.T) {
	r := NewResolver()
	v, err := r.Resolve("Fetched {{ steps.fetch.outputs.total }} from {{ steps.fetch.outputs.url }}", testState())
	require.NoError(t, err)
	assert.Equal(t, "Fetched 42 from https://example.com", v)
}

func TestResolve_InterpolationSerializesObjects(t *testing.T) {
	r := NewResolver()
	v, err := r.Resolve("items={{ steps.fetch.outputs.items }}", testState())
	require.NoError(t, err)
	assert.Equal(t, `items=["a","b"]`, v)
}

func TestResolve_InterpolationKeepsUnresolvedTemplate(t *testing.T) {
	r := NewResolver()
	v, err := r.Resolve("hello {{ trigger.missing }}!", testState())
	require.NoError(t, err)
	assert.Equal(t, "hello {{ trigger.missing }}!", v)
}

func TestResolve_WholeStepResult(t *testing.T) {
	r := NewResolver()
	v, err := r.Resolve("{{ steps.fetch }}", testState())
	require.NoError(t, err)
	m, ok := v.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "success", m["status"])
}

func TestResolve_OutputsOfUnknownStepIsEmptyObject(t *testing.T) {
	r := NewResolver()
	st := testState()

	v, err := r.Resolve("{{ steps.ghost.outputs }}", st)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{}, v)

	v, err = r.Resolve("{{ steps.ghost.outputs.key || 'fallback' }}", st)
	require.NoError(t, err)
	assert.Equal(t, "fallback", v)
}

func TestResolve_WorkflowMetadata(t *testing.T) {
	r := NewResolver()
	v, err := r.Resolve("run {{ workflow.executionId }} ({{ workflow.versionTag }})", testState())
	require.NoError(t, err)
	assert.Equal(t, "run exec-1 (v2)", v)
}

func TestResolve_Recursive(t *testing.T) {
	r := NewResolver()
	in := map[string]any{
		"url":   "{{ steps.fetch.outputs.url }}",
		"count": "{{ trigger.count }}",
		"list":  []any{"{{ trigger.param }}", 7, true},
		"inner": map[string]any{"deep": "{{ trigger.nested.deep }}"},
	}

	out, err := r.Resolve(in, testState())
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"url":   "https://example.com",
		"count": float64(3),
		"list":  []any{"value", 7, true},
		"inner": map[string]any{"deep": "yes"},
	}, out)

	// Input is not mutated.
	assert.Equal(t, "{{ trigger.param }}", in["list"].([]any)[0])
}

func TestResolveInputs_Nil(t *testing.T) {
	r := NewResolver()
	out, err := r.ResolveInputs(nil, testState())
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestResolve_ParseErrors(t *testing.T) {
	r := NewResolver()
	tests := []string{
		"{{ trigger.param",
		"{{ }}",
		"{{ trigger..param }}",
		"{{ trigger.param || }}",
		"{{ trigger.param | x }}",
	}
	for _, in := range tests {
		t.Run(in, func(t *testing.T) {
			_, err := r.Resolve(in, testState())
			require.Error(t, err)
			var se *schema.Error
			require.ErrorAs(t, err, &se)
			assert.Equal(t, schema.ErrCodeInterpolation, se.Code)
		})
	}
}

func TestInterpolate_FullMatchIsStringified(t *testing.T) {
	r := NewResolver()
	s, err := r.Interpolate("{{ steps.fetch.outputs.total }}", testState())
	require.NoError(t, err)
	assert.Equal(t, "42", s)
}

func TestParseRef(t *testing.T) {
	ref, err := ParseRef(" steps.plan-1.outputs.next_steps || \"none\" ")
	require.NoError(t, err)
	assert.Equal(t, []string{"steps", "plan-1", "outputs", "next_steps"}, ref.Path)
	require.NotNil(t, ref.Default)
	assert.Equal(t, "none", ref.Default.Value)
}

func TestParseTemplate_Parts(t *testing.T) {
	tmpl, err := ParseTemplate("a {{ x.y }} b")
	require.NoError(t, err)
	require.Len(t, tmpl.Parts, 3)
	assert.Equal(t, "a ", tmpl.Parts[0].Text)
	assert.Equal(t, "{{ x.y }}", tmpl.Parts[1].Raw)
	assert.Equal(t, " b", tmpl.Parts[2].Text)
	assert.False(t, tmpl.IsFullMatch())

	full, err := ParseTemplate("{{ x.y }}")
	require.NoError(t, err)
	assert.True(t, full.IsFullMatch())

	padded, err := ParseTemplate(" {{ x.y }}")
	require.NoError(t, err)
	assert.False(t, padded.IsFullMatch())
}
