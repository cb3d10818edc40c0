package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/stepwise/internal/actions"
	"github.com/rendis/stepwise/internal/expressions"
	"github.com/rendis/stepwise/internal/logging"
	"github.com/rendis/stepwise/internal/store"
	"github.com/rendis/stepwise/internal/validation"
	"github.com/rendis/stepwise/pkg/schema"
)

// DefaultMaxSteps bounds a single drive of the step graph. Transitions may
// form cycles, so a run that never reaches an exit fails instead of spinning.
const DefaultMaxSteps = 1000

const defaultTriggerType = "manual"

// ActionRegistry resolves (module, action) pairs. Satisfied by *actions.Registry.
type ActionRegistry interface {
	Get(module, action string) (actions.Action, error)
	Has(module, action string) bool
}

// StartRequest describes a new run.
type StartRequest struct {
	Workflow    *schema.WorkflowDefinition
	Trigger     map[string]any
	TriggerType string
	VersionTag  string
	Mode        schema.ExecutionMode
}

// Result is the externally visible state of an execution after a runner call.
type Result struct {
	ExecutionID   string                 `json:"execution_id"`
	WorkflowID    string                 `json:"workflow_id"`
	Status        schema.ExecutionStatus `json:"status"`
	Mode          schema.ExecutionMode   `json:"execution_mode"`
	CurrentStepID string                 `json:"current_step_id,omitempty"`
	DecisionID    string                 `json:"decision_id,omitempty"`
	Outcome       schema.Outcome         `json:"outcome,omitempty"`
	Suggestions   []schema.Suggestion    `json:"follow_up_suggestions,omitempty"`
	Summary       string                 `json:"summary,omitempty"`
	Error         string                 `json:"error,omitempty"`
	State         *schema.RunState       `json:"state,omitempty"`
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the runner's logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = logging.OrDefault(l) }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// WithMaxSteps overrides DefaultMaxSteps.
func WithMaxSteps(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.maxSteps = n
		}
	}
}

// Runner walks a workflow's step graph one step at a time, persisting the
// run state after every step.
type Runner struct {
	store     store.ExecutionStore
	registry  ActionRegistry
	validator *validation.WorkflowValidator
	resolver  *expressions.Resolver
	fsm       *ExecutionFSM
	logger    *slog.Logger
	now       func() time.Time
	maxSteps  int

	// locks serializes calls touching the same execution.
	locks sync.Map
}

// NewRunner creates a Runner backed by st and reg.
func NewRunner(st store.ExecutionStore, reg ActionRegistry, opts ...Option) (*Runner, error) {
	v, err := validation.NewWorkflowValidator(reg)
	if err != nil {
		return nil, err
	}
	r := &Runner{
		store:     st,
		registry:  reg,
		validator: v,
		resolver:  expressions.NewResolver(),
		fsm:       NewExecutionFSM(st),
		logger:    slog.Default(),
		now:       func() time.Time { return time.Now().UTC() },
		maxSteps:  DefaultMaxSteps,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// FSM exposes the lifecycle state machine so callers can register hooks.
func (r *Runner) FSM() *ExecutionFSM { return r.fsm }

// run is the in-memory view of one execution during a runner call.
type run struct {
	exec *store.Execution
	def  *schema.WorkflowDefinition
	log  *slog.Logger
	// decisionID is set when the run parks on a human decision.
	decisionID string
}

func (rn *run) state() *schema.RunState { return rn.exec.State }

// Start validates the definition, creates the execution and drives it until
// it completes, fails, waits for a decision or pauses (step mode).
// Definition errors are returned before anything is persisted.
func (r *Runner) Start(ctx context.Context, req StartRequest) (*Result, error) {
	def := req.Workflow
	if def == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow definition is required")
	}
	if err := r.validator.ValidateDefinition(def); err != nil {
		return nil, err
	}
	if err := r.store.SaveWorkflow(ctx, def); err != nil {
		return nil, err
	}

	mode := req.Mode
	if mode == "" {
		mode = schema.ModeAuto
	}
	if mode != schema.ModeAuto && mode != schema.ModeStep {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown execution mode %q", mode)
	}
	triggerType := req.TriggerType
	if triggerType == "" {
		triggerType = defaultTriggerType
	}
	versionTag := req.VersionTag
	if versionTag == "" {
		versionTag, _ = req.Trigger["versionTag"].(string)
	}

	id := uuid.New().String()
	state := schema.NewRunState(copyMap(req.Trigger), map[string]any{
		"executionId": id,
		"workflowId":  def.ID,
		"name":        def.Name,
		"versionTag":  versionTag,
		"mode":        string(mode),
	})
	exec := &store.Execution{
		ID:            id,
		WorkflowID:    def.ID,
		VersionTag:    versionTag,
		TriggerType:   triggerType,
		TriggerData:   req.Trigger,
		Status:        schema.ExecutionRunning,
		Mode:          mode,
		CurrentStepID: def.FirstStep().ID,
		State:         state,
		StartedAt:     r.now(),
	}

	ctx = logging.WithExecutionID(ctx, id)
	rn := &run{exec: exec, def: def, log: logging.LogWith(ctx, r.logger)}

	mu := r.lock(id)
	defer mu.Unlock()

	if err := r.store.CreateExecution(ctx, exec); err != nil {
		return nil, err
	}
	if err := r.fsm.Transition(ctx, id, statusNone, schema.ExecutionRunning, map[string]any{
		"workflow_id":  def.ID,
		"mode":         string(mode),
		"trigger_type": triggerType,
	}); err != nil {
		return nil, err
	}
	rn.log.Info("workflow started", "workflow_id", def.ID, "mode", mode)

	return r.drive(ctx, rn, exec.CurrentStepID)
}

// Advance executes the next step of a paused step-mode execution.
func (r *Runner) Advance(ctx context.Context, executionID string) (*Result, error) {
	mu := r.lock(executionID)
	defer mu.Unlock()

	ctx = logging.WithExecutionID(ctx, executionID)
	rn, err := r.load(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if rn.exec.Status != schema.ExecutionPaused {
		return nil, schema.NewErrorf(schema.ErrCodeConflict,
			"execution %q is %s, only paused executions can advance", executionID, rn.exec.Status)
	}
	if err := r.setStatus(ctx, rn, schema.ExecutionRunning, nil); err != nil {
		return nil, err
	}
	return r.drive(ctx, rn, rn.exec.CurrentStepID)
}

// Resume resolves a pending decision and continues its execution from the
// deciding step's onSuccess target. The choice, notes and decision id are
// injected into that step's outputs.
func (r *Runner) Resume(ctx context.Context, decisionID, choice, notes string) (*Result, error) {
	dec, err := r.store.GetDecision(ctx, decisionID)
	if err != nil {
		return nil, err
	}
	if dec.Status != schema.DecisionPending {
		return nil, schema.NewErrorf(schema.ErrCodeConflict, "decision %q is already resolved", decisionID)
	}

	mu := r.lock(dec.ExecutionID)
	defer mu.Unlock()

	ctx = logging.WithStepID(logging.WithExecutionID(ctx, dec.ExecutionID), dec.StepID)
	rn, err := r.load(ctx, dec.ExecutionID)
	if err != nil {
		return nil, err
	}
	if rn.exec.Status != schema.ExecutionWaiting {
		return nil, schema.NewErrorf(schema.ErrCodeConflict,
			"execution %q is %s, not waiting for a decision", dec.ExecutionID, rn.exec.Status)
	}
	step := rn.def.StepByID(dec.StepID)
	if step == nil {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "step %q not found in workflow %q", dec.StepID, rn.def.ID)
	}

	prev := rn.state().Step(step.ID)
	outputs := map[string]any{}
	var duration int64
	if prev != nil {
		for k, v := range prev.Outputs {
			outputs[k] = v
		}
		duration = prev.Duration
	}
	outputs["status"] = string(schema.DecisionResolved)
	outputs["decisionId"] = decisionID
	outputs["choice"] = choice
	outputs["notes"] = notes
	result := &schema.StepResult{Status: schema.StepSuccess, Outputs: outputs, Duration: duration}
	rn.state().SetStep(step.ID, result)

	if err := r.completeOpenStep(ctx, rn.exec.ID, step.ID, result); err != nil {
		return nil, err
	}
	if err := r.store.AppendHistory(ctx, &store.HistoryEntry{
		ExecutionID: rn.exec.ID,
		Event:       schema.HistoryDecisionResolved,
		StepID:      step.ID,
		Data:        map[string]any{"decision_id": decisionID, "choice": choice},
	}); err != nil {
		return nil, err
	}
	// Resolved last: any failed write above leaves the decision pending.
	if err := r.store.ResolveDecision(ctx, decisionID, choice, notes); err != nil {
		return nil, err
	}
	if err := r.setStatus(ctx, rn, schema.ExecutionRunning, nil); err != nil {
		return nil, err
	}
	rn.log.Info("decision resolved", "decision_id", decisionID, "choice", choice)

	next, err := r.nextStep(step, result, rn.state())
	if err != nil {
		return r.abort(ctx, rn, err)
	}
	if next != "" && rn.exec.Mode == schema.ModeStep {
		return r.pause(ctx, rn, next)
	}
	return r.drive(ctx, rn, next)
}

// Recover picks up an execution left in running by a crash. Auto-mode runs
// continue from their persisted current step; step-mode runs go back to
// paused on that step so the next Advance re-executes it.
func (r *Runner) Recover(ctx context.Context, executionID string) (*Result, error) {
	mu := r.lock(executionID)
	defer mu.Unlock()

	ctx = logging.WithExecutionID(ctx, executionID)
	rn, err := r.load(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if rn.exec.Status != schema.ExecutionRunning {
		return nil, schema.NewErrorf(schema.ErrCodeConflict,
			"execution %q is %s, only running executions can be recovered", executionID, rn.exec.Status)
	}
	rn.log.Info("recovering execution", "current_step_id", rn.exec.CurrentStepID, "mode", rn.exec.Mode)
	if rn.exec.Mode == schema.ModeStep {
		return r.pause(ctx, rn, rn.exec.CurrentStepID)
	}
	return r.drive(ctx, rn, rn.exec.CurrentStepID)
}

// RecoverInterrupted recovers every running execution. Failures
// are joined; one bad execution does not stop the others.
func (r *Runner) RecoverInterrupted(ctx context.Context) ([]*Result, error) {
	running := schema.ExecutionRunning
	execs, err := r.store.ListExecutions(ctx, store.ExecutionFilter{Status: &running})
	if err != nil {
		return nil, err
	}
	var results []*Result
	var errs []error
	for _, e := range execs {
		res, err := r.Recover(ctx, e.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("recover %s: %w", e.ID, err))
			continue
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}

// Status returns the current view of an execution, including the pending
// decision id when it is waiting.
func (r *Runner) Status(ctx context.Context, executionID string) (*Result, error) {
	exec, err := r.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	res := resultOf(exec)
	if exec.Status == schema.ExecutionWaiting {
		decs, err := r.store.ListDecisions(ctx, store.DecisionFilter{
			ExecutionID: executionID,
			Status:      schema.DecisionPending,
			Limit:       1,
		})
		if err != nil {
			return nil, err
		}
		if len(decs) > 0 {
			res.DecisionID = decs[0].ID
		}
	}
	return res, nil
}

// drive executes steps starting at stepID until the graph ends, a decision
// is requested, or (in step mode) one step has run.
func (r *Runner) drive(ctx context.Context, rn *run, stepID string) (*Result, error) {
	for executed := 0; ; executed++ {
		if stepID == "" {
			return r.finalize(ctx, rn)
		}
		if executed >= r.maxSteps {
			return r.abort(ctx, rn, schema.NewErrorf(schema.ErrCodeExecution,
				"execution exceeded %d steps without finishing", r.maxSteps))
		}
		step := rn.def.StepByID(stepID)
		if step == nil {
			return r.abort(ctx, rn, schema.NewErrorf(schema.ErrCodeExecution,
				"step %q not found in workflow %q", stepID, rn.def.ID).WithStep(stepID))
		}

		result, decision, err := r.executeStep(ctx, rn, step)
		if err != nil {
			return nil, err
		}
		rn.state().SetStep(step.ID, result)

		if decision != nil {
			return r.park(ctx, rn, step.ID, decision)
		}

		next, err := r.nextStep(step, result, rn.state())
		if err != nil {
			return r.abort(ctx, rn, err)
		}
		if next != "" && rn.exec.Mode == schema.ModeStep {
			return r.pause(ctx, rn, next)
		}

		rn.exec.CurrentStepID = next
		if err := r.store.UpdateExecution(ctx, rn.exec.ID, store.ExecutionUpdate{
			CurrentStepID: &next,
			State:         rn.state(),
		}); err != nil {
			return nil, err
		}
		stepID = next
	}
}

// executeStep runs one step and records its audit row and history. Action
// failures become a failed StepResult; only store errors are returned.
// A non-nil decision means the step asked for human input.
func (r *Runner) executeStep(ctx context.Context, rn *run, step *schema.Step) (*schema.StepResult, *store.PendingDecision, error) {
	ctx = logging.WithStepID(ctx, step.ID)
	log := logging.LogWith(ctx, r.logger)
	execID := rn.exec.ID

	if err := r.store.AppendHistory(ctx, &store.HistoryEntry{
		ExecutionID: execID,
		Event:       schema.HistoryStepStarted,
		StepID:      step.ID,
		Data:        map[string]any{"module": step.Module, "action": step.Action},
	}); err != nil {
		return nil, nil, err
	}

	started := r.now()
	inputs, resolveErr := r.resolver.ResolveInputs(step.Inputs, rn.state())
	if resolveErr != nil {
		inputs = step.Inputs
	}

	se := &store.StepExecution{
		ID:          uuid.New().String(),
		ExecutionID: execID,
		StepID:      step.ID,
		Module:      step.Module,
		Action:      step.Action,
		Inputs:      inputs,
		StartedAt:   started,
	}
	if err := r.store.CreateStepExecution(ctx, se); err != nil {
		return nil, nil, err
	}

	var out *actions.ActionOutput
	err := resolveErr
	if err == nil {
		out, err = r.invoke(ctx, rn, step, inputs, log)
	}
	duration := r.now().Sub(started).Milliseconds()

	result := &schema.StepResult{Duration: duration}
	var decision *store.PendingDecision
	switch decisionID, pending := actions.IsPending(out); {
	case err != nil:
		result.Status = schema.StepFailure
		result.Error = err.Error()
		result.ReturnCode = 1
		log.Warn("step failed", "module", step.Module, "action", step.Action, "error", err)
	case pending:
		result.Status = schema.StepPending
		result.Outputs = out.Data
		decision = decisionFrom(decisionID, execID, step, out.Data, r.now())
	default:
		result.Status = schema.StepSuccess
		result.Outputs = out.Data
		log.Debug("step completed", "duration_ms", duration)
	}
	if result.Outputs == nil && result.Status != schema.StepFailure {
		result.Outputs = map[string]any{}
	}

	if decision != nil {
		// The audit row stays open until the decision is resolved.
		return result, decision, nil
	}

	event := schema.HistoryStepCompleted
	data := map[string]any{"duration_ms": duration}
	if result.Status == schema.StepFailure {
		event = schema.HistoryStepFailed
		data["error"] = result.Error
	}
	if err := r.store.AppendHistory(ctx, &store.HistoryEntry{
		ExecutionID: execID,
		Event:       event,
		StepID:      step.ID,
		Data:        data,
	}); err != nil {
		return nil, nil, err
	}
	if err := r.store.CompleteStepExecution(ctx, se.ID, store.StepCompletion{
		Status:      result.Status,
		Outputs:     result.Outputs,
		ReturnCode:  result.ReturnCode,
		Error:       result.Error,
		DurationMs:  duration,
		CompletedAt: r.now(),
	}); err != nil {
		return nil, nil, err
	}
	return result, nil, nil
}

// invoke looks up and runs the step's action. Panics are converted to errors.
func (r *Runner) invoke(ctx context.Context, rn *run, step *schema.Step, inputs map[string]any, log *slog.Logger) (out *actions.ActionOutput, err error) {
	action, err := r.registry.Get(step.Module, step.Action)
	if err != nil {
		return nil, err
	}
	if s := action.Schema(); len(s.InputSchema) > 0 {
		if err := r.validator.ValidateInput(inputs, s.InputSchema); err != nil {
			return nil, err
		}
	}
	if err := action.Validate(inputs); err != nil {
		return nil, err
	}

	defer func() {
		if p := recover(); p != nil {
			out = nil
			err = schema.NewErrorf(schema.ErrCodeExecution, "action %s.%s panicked: %v", step.Module, step.Action, p).
				WithStep(step.ID)
		}
	}()

	out, err = action.Execute(ctx, actions.ActionInput{
		Params: inputs,
		Context: actions.ActionContext{
			ExecutionID: rn.exec.ID,
			WorkflowID:  rn.exec.WorkflowID,
			StepID:      step.ID,
			VersionTag:  rn.exec.VersionTag,
			Logger:      log,
		},
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = &actions.ActionOutput{}
	}
	return out, nil
}

// nextStep picks the following step id, or "" when the run should end.
func (r *Runner) nextStep(step *schema.Step, result *schema.StepResult, state *schema.RunState) (string, error) {
	if result.Status == schema.StepFailure {
		return step.OnFailure, nil
	}
	t := step.OnSuccess
	if t == nil {
		return "", nil
	}
	if !t.IsConditional() {
		return t.Next, nil
	}
	ok, err := r.resolver.EvaluateCondition(t.Condition, state)
	if err != nil {
		return "", schema.NewErrorf(schema.ErrCodeExecution, "evaluate condition of step %q: %s", step.ID, err.Error()).
			WithStep(step.ID).WithCause(err)
	}
	if ok {
		return t.Then, nil
	}
	return t.Else, nil
}

// park records the decision and moves the execution to waiting.
func (r *Runner) park(ctx context.Context, rn *run, stepID string, dec *store.PendingDecision) (*Result, error) {
	if err := r.store.CreateDecision(ctx, dec); err != nil {
		return nil, err
	}
	if err := r.store.AppendHistory(ctx, &store.HistoryEntry{
		ExecutionID: rn.exec.ID,
		Event:       schema.HistoryDecisionRequested,
		StepID:      stepID,
		Data:        map[string]any{"decision_id": dec.ID, "title": dec.Title},
	}); err != nil {
		return nil, err
	}
	rn.exec.CurrentStepID = stepID
	if err := r.setStatus(ctx, rn, schema.ExecutionWaiting, &store.ExecutionUpdate{
		CurrentStepID: &stepID,
		State:         rn.state(),
	}); err != nil {
		return nil, err
	}
	rn.decisionID = dec.ID
	rn.log.Info("waiting for decision", "step_id", stepID, "decision_id", dec.ID)
	return r.result(rn), nil
}

// pause persists a step-mode execution after one step.
func (r *Runner) pause(ctx context.Context, rn *run, next string) (*Result, error) {
	rn.exec.CurrentStepID = next
	if err := r.setStatus(ctx, rn, schema.ExecutionPaused, &store.ExecutionUpdate{
		CurrentStepID: &next,
		State:         rn.state(),
	}); err != nil {
		return nil, err
	}
	rn.log.Debug("execution paused", "next_step_id", next)
	return r.result(rn), nil
}

// finalize resolves the outcome, suggestions and summary of a run whose
// step graph has ended.
func (r *Runner) finalize(ctx context.Context, rn *run) (*Result, error) {
	status := schema.ExecutionCompleted
	var errMsg string
	if _, last, ok := rn.state().LastStep(); ok && last.Status == schema.StepFailure {
		status = schema.ExecutionFailed
		errMsg = last.Error
	}
	return r.finish(ctx, rn, status, DetermineOutcome(rn.state()), errMsg)
}

// abort fails the run for a reason outside any step (bad condition, step
// limit, dangling step id).
func (r *Runner) abort(ctx context.Context, rn *run, cause error) (*Result, error) {
	rn.log.Warn("execution aborted", "error", cause)
	return r.finish(ctx, rn, schema.ExecutionFailed, schema.OutcomeFailed, cause.Error())
}

func (r *Runner) finish(ctx context.Context, rn *run, status schema.ExecutionStatus, outcome schema.Outcome, errMsg string) (*Result, error) {
	now := r.now()
	exec := rn.exec
	exec.Outcome = outcome
	exec.FollowUpSuggestions = FollowUpSuggestions(outcome, rn.def)
	exec.Error = errMsg
	exec.CurrentStepID = ""
	exec.CompletedAt = &now

	final := *exec
	final.Status = status
	exec.Summary = Summarize(&final, rn.def, now)

	empty := ""
	if err := r.setStatus(ctx, rn, status, &store.ExecutionUpdate{
		CurrentStepID:       &empty,
		State:               rn.state(),
		Outcome:             &outcome,
		FollowUpSuggestions: exec.FollowUpSuggestions,
		Summary:             &exec.Summary,
		Error:               &errMsg,
		CompletedAt:         &now,
	}); err != nil {
		return nil, err
	}
	rn.log.Info("workflow finished", "status", status, "outcome", outcome)
	return r.result(rn), nil
}

// setStatus validates the transition, records it and persists the new
// status together with any extra fields.
func (r *Runner) setStatus(ctx context.Context, rn *run, to schema.ExecutionStatus, extra *store.ExecutionUpdate) error {
	from := rn.exec.Status
	data := map[string]any{}
	if rn.exec.Outcome != "" && to.IsTerminal() {
		data["outcome"] = string(rn.exec.Outcome)
	}
	if rn.exec.Error != "" && to == schema.ExecutionFailed {
		data["error"] = rn.exec.Error
	}
	if err := r.fsm.Transition(ctx, rn.exec.ID, from, to, data); err != nil {
		return err
	}

	update := store.ExecutionUpdate{}
	if extra != nil {
		update = *extra
	}
	update.Status = &to
	if err := r.store.UpdateExecution(ctx, rn.exec.ID, update); err != nil {
		return err
	}
	rn.exec.Status = to
	return nil
}

// completeOpenStep closes the audit row left open by a pending step.
func (r *Runner) completeOpenStep(ctx context.Context, executionID, stepID string, result *schema.StepResult) error {
	rows, err := r.store.ListStepExecutions(ctx, executionID)
	if err != nil {
		return err
	}
	for i := len(rows) - 1; i >= 0; i-- {
		se := rows[i]
		if se.StepID != stepID || se.CompletedAt != nil {
			continue
		}
		return r.store.CompleteStepExecution(ctx, se.ID, store.StepCompletion{
			Status:      result.Status,
			Outputs:     result.Outputs,
			DurationMs:  r.now().Sub(se.StartedAt).Milliseconds(),
			CompletedAt: r.now(),
		})
	}
	return nil
}

func (r *Runner) load(ctx context.Context, executionID string) (*run, error) {
	exec, err := r.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	rec, err := r.store.GetWorkflow(ctx, exec.WorkflowID)
	if err != nil {
		return nil, err
	}
	if exec.State == nil {
		exec.State = schema.NewRunState(exec.TriggerData, nil)
	}
	return &run{exec: exec, def: rec.Definition, log: logging.LogWith(ctx, r.logger)}, nil
}

func (r *Runner) lock(executionID string) *sync.Mutex {
	v, _ := r.locks.LoadOrStore(executionID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu
}

func (r *Runner) result(rn *run) *Result {
	res := resultOf(rn.exec)
	res.DecisionID = rn.decisionID
	return res
}

func resultOf(exec *store.Execution) *Result {
	return &Result{
		ExecutionID:   exec.ID,
		WorkflowID:    exec.WorkflowID,
		Status:        exec.Status,
		Mode:          exec.Mode,
		CurrentStepID: exec.CurrentStepID,
		Outcome:       exec.Outcome,
		Suggestions:   exec.FollowUpSuggestions,
		Summary:       exec.Summary,
		Error:         exec.Error,
		State:         exec.State,
	}
}

func decisionFrom(id, executionID string, step *schema.Step, data map[string]any, now time.Time) *store.PendingDecision {
	title, _ := data["title"].(string)
	if title == "" {
		title = fmt.Sprintf("Decision required for step %s", step.ID)
	}
	description, _ := data["description"].(string)
	proposals, _ := data["proposals"].([]any)
	return &store.PendingDecision{
		ID:          id,
		ExecutionID: executionID,
		StepID:      step.ID,
		Title:       title,
		Description: description,
		Proposals:   proposals,
		Status:      schema.DecisionPending,
		CreatedAt:   now,
	}
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
