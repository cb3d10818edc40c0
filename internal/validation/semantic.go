package validation

import (
	"fmt"
	"strings"

	"github.com/rendis/stepwise/internal/expressions"
	"github.com/rendis/stepwise/pkg/schema"
)

// validateSemantic checks what the JSON Schema cannot: unique step ids,
// transition targets, registered actions, parseable templates and conditions.
func validateSemantic(def *schema.WorkflowDefinition, lookup ActionLookup) *Result {
	result := &Result{}

	stepIDs := make(map[string]bool, len(def.Steps))
	for i, s := range def.Steps {
		if stepIDs[s.ID] {
			result.AddError(fmt.Sprintf("steps[%d].id", i), schema.ErrCodeValidation,
				fmt.Sprintf("duplicate step id %q", s.ID))
		}
		stepIDs[s.ID] = true
	}

	for i := range def.Steps {
		validateStep(&def.Steps[i], fmt.Sprintf("steps[%d]", i), stepIDs, lookup, result)
	}

	seenFollowUps := make(map[string]bool, len(def.FollowUpWorkflows))
	for i, f := range def.FollowUpWorkflows {
		path := fmt.Sprintf("followUpWorkflows[%d]", i)
		if len(f.OnOutcome) == 0 {
			result.AddWarning(path+".onOutcome", schema.ErrCodeValidation,
				fmt.Sprintf("follow-up %q has no outcomes and will never be suggested", f.WorkflowID))
		}
		if seenFollowUps[f.WorkflowID] {
			result.AddWarning(path+".workflowId", schema.ErrCodeValidation,
				fmt.Sprintf("follow-up %q is declared more than once", f.WorkflowID))
		}
		seenFollowUps[f.WorkflowID] = true
	}

	return result
}

func validateStep(step *schema.Step, path string, stepIDs map[string]bool, lookup ActionLookup, result *Result) {
	if lookup != nil && !lookup.Has(step.Module, step.Action) {
		result.AddError(path+".action", schema.ErrCodeActionUnavailable,
			fmt.Sprintf("action %s.%s not registered", step.Module, step.Action))
	}

	if t := step.OnSuccess; t != nil {
		if t.Next == "" && t.Condition == "" {
			result.AddError(path+".onSuccess", schema.ErrCodeValidation,
				"onSuccess must name a step or carry a condition")
		}
		if t.IsConditional() && strings.Contains(t.Condition, "{{") {
			if _, err := expressions.ParseCondition(t.Condition); err != nil {
				result.AddError(path+".onSuccess.condition", schema.ErrCodeValidation,
					fmt.Sprintf("invalid condition %q: %v", t.Condition, err))
			}
		}
		if t.IsConditional() && t.Then == "" && t.Else == "" {
			result.AddWarning(path+".onSuccess", schema.ErrCodeValidation,
				"condition has neither then nor else; the run ends after this step")
		}
		for _, target := range t.Targets() {
			if !stepIDs[target] {
				result.AddError(path+".onSuccess", schema.ErrCodeValidation,
					fmt.Sprintf("references non-existent step %q", target))
			}
		}
	}

	if step.OnFailure != "" && !stepIDs[step.OnFailure] {
		result.AddError(path+".onFailure", schema.ErrCodeValidation,
			fmt.Sprintf("references non-existent step %q", step.OnFailure))
	}

	checkTemplates(step.Inputs, path+".inputs", result)
}

// checkTemplates walks an input value and reports templates that do not parse.
func checkTemplates(v any, path string, result *Result) {
	switch x := v.(type) {
	case string:
		if _, err := expressions.ParseTemplate(x); err != nil {
			result.AddError(path, schema.ErrCodeInterpolation, err.Error())
		}
	case map[string]any:
		for k, child := range x {
			checkTemplates(child, path+"."+k, result)
		}
	case []any:
		for i, child := range x {
			checkTemplates(child, fmt.Sprintf("%s[%d]", path, i), result)
		}
	}
}
