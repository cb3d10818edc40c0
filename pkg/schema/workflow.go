package schema

import (
	"encoding/json"
	"fmt"
	"slices"

	"gopkg.in/yaml.v3"
)

// WorkflowDefinition is a named, versioned step graph.
// It is loaded from YAML or JSON and never mutated during a run.
type WorkflowDefinition struct {
	ID                string             `json:"id" yaml:"id"`
	Name              string             `json:"name" yaml:"name"`
	Version           string             `json:"version,omitempty" yaml:"version,omitempty"`
	Description       string             `json:"description,omitempty" yaml:"description,omitempty"`
	Steps             []Step             `json:"steps" yaml:"steps"`
	FollowUpWorkflows []FollowUpWorkflow `json:"followUpWorkflows,omitempty" yaml:"followUpWorkflows,omitempty"`
}

// Step is a single action invocation within a workflow.
type Step struct {
	ID        string         `json:"id" yaml:"id"`
	Module    string         `json:"module" yaml:"module"`
	Action    string         `json:"action" yaml:"action"`
	Inputs    map[string]any `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	OnSuccess *Transition    `json:"onSuccess,omitempty" yaml:"onSuccess,omitempty"`
	OnFailure string         `json:"onFailure,omitempty" yaml:"onFailure,omitempty"`
}

// StepByID returns the step with the given id, or nil.
func (w *WorkflowDefinition) StepByID(id string) *Step {
	for i := range w.Steps {
		if w.Steps[i].ID == id {
			return &w.Steps[i]
		}
	}
	return nil
}

// FirstStep returns steps[0], or nil for an empty workflow.
func (w *WorkflowDefinition) FirstStep() *Step {
	if len(w.Steps) == 0 {
		return nil
	}
	return &w.Steps[0]
}

// Transition is the onSuccess target of a step: either a plain step id
// (Next) or a conditional branch (Condition, Then, Else).
type Transition struct {
	Next      string `json:"-" yaml:"-"`
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`
	Then      string `json:"then,omitempty" yaml:"then,omitempty"`
	Else      string `json:"else,omitempty" yaml:"else,omitempty"`
}

// IsConditional reports whether the transition is a {condition, then, else} triple.
func (t *Transition) IsConditional() bool {
	return t != nil && t.Next == "" && t.Condition != ""
}

// Targets returns every step id the transition may lead to.
func (t *Transition) Targets() []string {
	if t == nil {
		return nil
	}
	var out []string
	for _, id := range []string{t.Next, t.Then, t.Else} {
		if id != "" {
			out = append(out, id)
		}
	}
	return out
}

type transitionFields struct {
	Condition string `json:"condition" yaml:"condition"`
	Then      string `json:"then" yaml:"then"`
	Else      string `json:"else" yaml:"else"`
}

func (t *Transition) UnmarshalJSON(data []byte) error {
	var next string
	if err := json.Unmarshal(data, &next); err == nil {
		*t = Transition{Next: next}
		return nil
	}
	var f transitionFields
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("onSuccess must be a step id or {condition, then, else}: %w", err)
	}
	*t = Transition{Condition: f.Condition, Then: f.Then, Else: f.Else}
	return nil
}

func (t Transition) MarshalJSON() ([]byte, error) {
	if t.Next != "" {
		return json.Marshal(t.Next)
	}
	return json.Marshal(transitionFields{Condition: t.Condition, Then: t.Then, Else: t.Else})
}

func (t *Transition) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*t = Transition{Next: node.Value}
		return nil
	case yaml.MappingNode:
		var f transitionFields
		if err := node.Decode(&f); err != nil {
			return err
		}
		*t = Transition{Condition: f.Condition, Then: f.Then, Else: f.Else}
		return nil
	default:
		return fmt.Errorf("line %d: onSuccess must be a step id or {condition, then, else}", node.Line)
	}
}

// FollowUpWorkflow is a workflow-declared suggestion tied to one or more outcomes.
type FollowUpWorkflow struct {
	WorkflowID  string      `json:"workflowId" yaml:"workflowId"`
	Name        string      `json:"name,omitempty" yaml:"name,omitempty"`
	Description string      `json:"description,omitempty" yaml:"description,omitempty"`
	Reason      string      `json:"reason,omitempty" yaml:"reason,omitempty"`
	OnOutcome   OutcomeList `json:"onOutcome,omitempty" yaml:"onOutcome,omitempty"`
}

// OutcomeList accepts either a single outcome or a list of outcomes.
type OutcomeList []Outcome

// Contains reports whether o is in the list.
func (l OutcomeList) Contains(o Outcome) bool {
	return slices.Contains(l, o)
}

func (l *OutcomeList) UnmarshalJSON(data []byte) error {
	var one Outcome
	if err := json.Unmarshal(data, &one); err == nil {
		*l = OutcomeList{one}
		return nil
	}
	var many []Outcome
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*l = many
	return nil
}

func (l *OutcomeList) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*l = OutcomeList{Outcome(node.Value)}
		return nil
	}
	var many []Outcome
	if err := node.Decode(&many); err != nil {
		return err
	}
	*l = many
	return nil
}

// Suggestion is a recommended next workflow for a finished execution.
type Suggestion struct {
	WorkflowID  string `json:"workflowId"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Reason      string `json:"reason"`
}
