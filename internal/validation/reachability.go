package validation

import (
	"fmt"

	"github.com/rendis/stepwise/pkg/schema"
)

// validateReachability walks transitions breadth-first from steps[0] and
// warns about steps no path can reach. Cycles are legal: a step may route
// back to an earlier one.
func validateReachability(def *schema.WorkflowDefinition) *Result {
	result := &Result{}
	first := def.FirstStep()
	if first == nil {
		return result
	}

	reachable := map[string]bool{first.ID: true}
	queue := []string{first.ID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		step := def.StepByID(id)
		if step == nil {
			continue
		}
		next := step.OnSuccess.Targets()
		if step.OnFailure != "" {
			next = append(next, step.OnFailure)
		}
		for _, n := range next {
			if !reachable[n] {
				reachable[n] = true
				queue = append(queue, n)
			}
		}
	}

	for i, s := range def.Steps {
		if !reachable[s.ID] {
			result.AddWarning(fmt.Sprintf("steps[%d]", i), schema.ErrCodeValidation,
				fmt.Sprintf("step %q is unreachable from the first step", s.ID))
		}
	}
	return result
}
