package diagram

import (
	"fmt"

	"github.com/rendis/stepwise/internal/store"
	"github.com/rendis/stepwise/pkg/schema"
)

// Build constructs a Model from a workflow definition. runs, when given, are
// the step executions of one execution in start order; the last run of each
// step wins the overlay.
func Build(def *schema.WorkflowDefinition, runs []*store.StepExecution) (*Model, error) {
	if def == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "diagram: workflow definition is nil")
	}

	model := &Model{Title: titleFromDef(def)}
	model.Nodes = append(model.Nodes, &Node{ID: startID, Label: "Start", Kind: NodeKindStart})

	known := make(map[string]*Node, len(def.Steps))
	for i := range def.Steps {
		step := &def.Steps[i]
		node := &Node{ID: step.ID, Label: nodeLabel(step), Kind: NodeKindAction}
		if step.OnSuccess.IsConditional() {
			node.Kind = NodeKindBranch
		}
		known[step.ID] = node
		model.Nodes = append(model.Nodes, node)
	}
	model.Nodes = append(model.Nodes, &Node{ID: endID, Label: "End", Kind: NodeKindEnd})

	target := func(from, to, label string) error {
		if to == "" {
			to = endID
		} else if _, ok := known[to]; !ok {
			return schema.NewErrorf(schema.ErrCodeValidation,
				"diagram: step %q references unknown step %q", from, to)
		}
		model.Edges = append(model.Edges, Edge{From: from, To: to, Label: label})
		return nil
	}

	if first := def.FirstStep(); first != nil {
		model.Edges = append(model.Edges, Edge{From: startID, To: first.ID})
	} else {
		model.Edges = append(model.Edges, Edge{From: startID, To: endID})
	}

	for i := range def.Steps {
		step := &def.Steps[i]
		var err error
		switch t := step.OnSuccess; {
		case t == nil:
			err = target(step.ID, "", "")
		case t.IsConditional():
			if err = target(step.ID, t.Then, "then"); err == nil {
				err = target(step.ID, t.Else, "else")
			}
		default:
			err = target(step.ID, t.Next, "")
		}
		if err == nil && step.OnFailure != "" {
			err = target(step.ID, step.OnFailure, "failure")
		}
		if err != nil {
			return nil, err
		}
	}

	overlay(known, runs)
	return model, nil
}

func overlay(nodes map[string]*Node, runs []*store.StepExecution) {
	for _, run := range runs {
		node, ok := nodes[run.StepID]
		if !ok {
			continue
		}
		visits := 1
		if node.Status != nil {
			visits = node.Status.Visits + 1
		}
		node.Status = &StatusOverlay{
			Status:     string(run.Status),
			DurationMs: run.DurationMs,
			Visits:     visits,
			Error:      run.Error,
		}
	}
}

func nodeLabel(step *schema.Step) string {
	return fmt.Sprintf("%s\n(%s.%s)", step.ID, step.Module, step.Action)
}

func titleFromDef(def *schema.WorkflowDefinition) string {
	if def.Name != "" {
		return def.Name
	}
	if def.ID != "" {
		return def.ID
	}
	return "Workflow"
}
