package engine

import (
	"encoding/json"
	"fmt"

	"github.com/rendis/stepwise/pkg/schema"
)

// DetermineOutcome classifies a finished run. Rules are checked in a fixed
// order and the first match wins; apart from the zero-count scan, only the
// most recently inserted step is inspected.
func DetermineOutcome(state *schema.RunState) schema.Outcome {
	if state == nil || len(state.Steps) == 0 {
		return schema.OutcomeUnknown
	}

	// A zero count anywhere means there was nothing to do, even if a later
	// step failed.
	for _, r := range state.Steps {
		if r == nil {
			continue
		}
		if n, ok := numeric(r.Outputs["count"]); ok && n == 0 {
			return schema.OutcomeNoTasks
		}
	}

	lastID, last, ok := state.LastStep()
	if !ok {
		return schema.OutcomeUnknown
	}
	if lastID == "no-tasks" {
		return schema.OutcomeNoTasks
	}

	out := last.Outputs
	if n, ok := numeric(out["nextStepsCount"]); ok && n == 0 {
		return schema.OutcomeNoTasks
	}
	if list, ok := out["nextSteps"].([]any); ok && len(list) == 0 {
		return schema.OutcomeNoTasks
	}
	if done, ok := out["allComplete"].(bool); ok {
		if done {
			return schema.OutcomeAllComplete
		}
		return schema.OutcomeNoTasks
	}

	if last.Status == schema.StepFailure {
		return schema.OutcomeFailed
	}
	if present(out["versionTag"]) || lastID == "create-next-version" {
		return schema.OutcomeVersionCreated
	}
	return schema.OutcomeCompleted
}

// numeric accepts only real numbers; "0" as a string is not a zero count.
func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func present(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case string:
		return x != ""
	case bool:
		return x
	default:
		return true
	}
}

type defaultSuggestion struct {
	workflowID  string
	name        string
	description string
}

var defaultSuggestions = map[schema.Outcome][]defaultSuggestion{
	schema.OutcomeNoTasks: {{
		workflowID:  "review-self",
		name:        "Review Self",
		description: "Review the codebase and discover the next set of tasks",
	}},
	schema.OutcomeAllComplete: {{
		workflowID:  "review-self",
		name:        "Review Self",
		description: "All tasks are complete; review the codebase for new work",
	}},
	schema.OutcomeVersionCreated: {{
		workflowID:  "execute-features",
		name:        "Execute Features",
		description: "Implement the features planned for the new version",
	}},
}

// FollowUpSuggestions returns the workflows to suggest after a run with the
// given outcome. Entries the workflow declares for the outcome replace the
// defaults entirely; failed and unknown runs get no defaults.
func FollowUpSuggestions(outcome schema.Outcome, def *schema.WorkflowDefinition) []schema.Suggestion {
	reason := fmt.Sprintf("Suggested because workflow completed with outcome: %s", outcome)

	if def != nil {
		var declared []schema.Suggestion
		for _, f := range def.FollowUpWorkflows {
			if !f.OnOutcome.Contains(outcome) {
				continue
			}
			s := schema.Suggestion{
				WorkflowID:  f.WorkflowID,
				Name:        f.Name,
				Description: f.Description,
				Reason:      f.Reason,
			}
			if s.Name == "" {
				s.Name = f.WorkflowID
			}
			if s.Description == "" {
				s.Description = fmt.Sprintf("Run %s workflow", f.WorkflowID)
			}
			if s.Reason == "" {
				s.Reason = reason
			}
			declared = append(declared, s)
		}
		if len(declared) > 0 {
			return declared
		}
	}

	out := []schema.Suggestion{}
	for _, d := range defaultSuggestions[outcome] {
		out = append(out, schema.Suggestion{
			WorkflowID:  d.workflowID,
			Name:        d.name,
			Description: d.description,
			Reason:      reason,
		})
	}
	return out
}
