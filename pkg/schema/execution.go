package schema

// ExecutionStatus is the lifecycle state of a workflow execution.
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionWaiting   ExecutionStatus = "waiting"
	ExecutionPaused    ExecutionStatus = "paused"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
)

// IsTerminal reports whether the execution can no longer change.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionCompleted || s == ExecutionFailed
}

// ExecutionMode selects how the runner walks the step graph.
type ExecutionMode string

const (
	// ModeAuto runs steps until the graph ends or a decision is needed.
	ModeAuto ExecutionMode = "auto"
	// ModeStep runs exactly one step per invocation and pauses.
	ModeStep ExecutionMode = "step"
)

// StepStatus is the status of a single step result.
type StepStatus string

const (
	StepSuccess StepStatus = "success"
	StepFailure StepStatus = "failure"
	StepPending StepStatus = "pending"
)

// Outcome is the terminal classification of a finished execution.
type Outcome string

const (
	OutcomeNoTasks        Outcome = "no-tasks"
	OutcomeAllComplete    Outcome = "all-complete"
	OutcomeVersionCreated Outcome = "version-created"
	OutcomeFailed         Outcome = "failed"
	OutcomeCompleted      Outcome = "completed"
	OutcomeUnknown        Outcome = "unknown"
)

// Outcomes lists the full outcome vocabulary.
var Outcomes = []Outcome{
	OutcomeNoTasks, OutcomeAllComplete, OutcomeVersionCreated,
	OutcomeFailed, OutcomeCompleted, OutcomeUnknown,
}

// HistoryEvent names an entry in the append-only execution history.
type HistoryEvent string

const (
	HistoryWorkflowStarted   HistoryEvent = "workflow_started"
	HistoryStepStarted       HistoryEvent = "step_started"
	HistoryStepCompleted     HistoryEvent = "step_completed"
	HistoryStepFailed        HistoryEvent = "step_failed"
	HistoryDecisionRequested HistoryEvent = "decision_requested"
	HistoryDecisionResolved  HistoryEvent = "decision_resolved"
	HistoryWorkflowPaused    HistoryEvent = "workflow_paused"
	HistoryWorkflowCompleted HistoryEvent = "workflow_completed"
	HistoryWorkflowFailed    HistoryEvent = "workflow_failed"
)

// DecisionStatus is the state of a pending human decision.
type DecisionStatus string

const (
	DecisionPending  DecisionStatus = "pending"
	DecisionResolved DecisionStatus = "resolved"
)

// StepResult is what the runner records for a step in the run state.
type StepResult struct {
	Status     StepStatus     `json:"status"`
	Outputs    map[string]any `json:"outputs,omitempty"`
	Error      string         `json:"error,omitempty"`
	ReturnCode int            `json:"returnCode"`
	Duration   int64          `json:"duration"`
}

// RunState is the full state of an execution: trigger data, per-step results
// and run metadata. StepOrder keeps first-insertion order of step ids.
type RunState struct {
	Trigger   map[string]any         `json:"trigger"`
	Steps     map[string]*StepResult `json:"steps"`
	StepOrder []string               `json:"stepOrder"`
	Workflow  map[string]any         `json:"workflow"`
}

// NewRunState creates an empty run state.
func NewRunState(trigger, meta map[string]any) *RunState {
	if trigger == nil {
		trigger = map[string]any{}
	}
	if meta == nil {
		meta = map[string]any{}
	}
	return &RunState{
		Trigger:  trigger,
		Steps:    map[string]*StepResult{},
		Workflow: meta,
	}
}

// SetStep records a step result. A step seen before keeps its position.
func (s *RunState) SetStep(id string, r *StepResult) {
	if s.Steps == nil {
		s.Steps = map[string]*StepResult{}
	}
	if _, ok := s.Steps[id]; !ok {
		s.StepOrder = append(s.StepOrder, id)
	}
	s.Steps[id] = r
}

// Step returns the recorded result for id, or nil.
func (s *RunState) Step(id string) *StepResult {
	if s == nil || s.Steps == nil {
		return nil
	}
	return s.Steps[id]
}

// LastStep returns the most recently inserted step. State decoded without a
// stepOrder falls back to the highest step id so the answer is stable.
func (s *RunState) LastStep() (string, *StepResult, bool) {
	if s == nil {
		return "", nil, false
	}
	for i := len(s.StepOrder) - 1; i >= 0; i-- {
		id := s.StepOrder[i]
		if r, ok := s.Steps[id]; ok {
			return id, r, true
		}
	}
	var last string
	for id, r := range s.Steps {
		if r != nil && id > last {
			last = id
		}
	}
	if last == "" {
		return "", nil, false
	}
	return last, s.Steps[last], true
}

// Scope returns the state as the nested map seen by templates:
// {trigger, steps: {id: {status, outputs, error, returnCode, duration}}, workflow}.
func (s *RunState) Scope() map[string]any {
	steps := make(map[string]any, len(s.Steps))
	for id, r := range s.Steps {
		if r == nil {
			continue
		}
		entry := map[string]any{
			"status":     string(r.Status),
			"returnCode": r.ReturnCode,
			"duration":   r.Duration,
		}
		if r.Outputs != nil {
			entry["outputs"] = r.Outputs
		}
		if r.Error != "" {
			entry["error"] = r.Error
		}
		steps[id] = entry
	}
	return map[string]any{
		"trigger":  s.Trigger,
		"steps":    steps,
		"workflow": s.Workflow,
	}
}
