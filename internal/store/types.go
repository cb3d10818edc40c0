package store

import (
	"time"

	"github.com/rendis/stepwise/pkg/schema"
)

// WorkflowRecord is a stored workflow definition.
type WorkflowRecord struct {
	ID         string                     `json:"id"`
	Name       string                     `json:"name"`
	Version    string                     `json:"version"`
	Definition *schema.WorkflowDefinition `json:"definition"`
	CreatedAt  time.Time                  `json:"created_at"`
	UpdatedAt  time.Time                  `json:"updated_at"`
}

// Execution is one durable run of a workflow.
type Execution struct {
	ID                  string                 `json:"id"`
	WorkflowID          string                 `json:"workflow_id"`
	VersionTag          string                 `json:"version_tag,omitempty"`
	TriggerType         string                 `json:"trigger_type"`
	TriggerData         map[string]any         `json:"trigger_data,omitempty"`
	Status              schema.ExecutionStatus `json:"status"`
	Mode                schema.ExecutionMode   `json:"execution_mode"`
	CurrentStepID       string                 `json:"current_step_id,omitempty"`
	State               *schema.RunState       `json:"state,omitempty"`
	Outcome             schema.Outcome         `json:"outcome,omitempty"`
	FollowUpSuggestions []schema.Suggestion    `json:"follow_up_suggestions,omitempty"`
	Summary             string                 `json:"summary,omitempty"`
	Error               string                 `json:"error,omitempty"`
	StartedAt           time.Time              `json:"started_at"`
	CompletedAt         *time.Time             `json:"completed_at,omitempty"`
	UpdatedAt           time.Time              `json:"updated_at"`
}

// ExecutionUpdate holds the fields to change on an execution. Nil fields
// are left untouched; a pointer to "" clears CurrentStepID.
type ExecutionUpdate struct {
	Status              *schema.ExecutionStatus
	CurrentStepID       *string
	State               *schema.RunState
	Outcome             *schema.Outcome
	FollowUpSuggestions []schema.Suggestion
	Summary             *string
	Error               *string
	CompletedAt         *time.Time
}

// ExecutionFilter narrows ListExecutions.
type ExecutionFilter struct {
	WorkflowID string
	VersionTag string
	Status     *schema.ExecutionStatus
	Mode       schema.ExecutionMode
	Limit      int
}

// StepExecution is one step attempt in the audit trail.
type StepExecution struct {
	ID          string            `json:"id"`
	ExecutionID string            `json:"execution_id"`
	StepID      string            `json:"step_id"`
	Module      string            `json:"module"`
	Action      string            `json:"action"`
	Inputs      map[string]any    `json:"inputs,omitempty"`
	Outputs     map[string]any    `json:"outputs,omitempty"`
	Status      schema.StepStatus `json:"status"`
	ReturnCode  int               `json:"return_code"`
	Error       string            `json:"error,omitempty"`
	DurationMs  int64             `json:"duration_ms"`
	StartedAt   time.Time         `json:"started_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

// StepCompletion finalizes a step execution. A completed step execution
// is never written again.
type StepCompletion struct {
	Status      schema.StepStatus
	Outputs     map[string]any
	ReturnCode  int
	Error       string
	DurationMs  int64
	CompletedAt time.Time
}

// PendingDecision is a human-in-the-loop checkpoint.
type PendingDecision struct {
	ID          string                `json:"decision_id"`
	ExecutionID string                `json:"execution_id"`
	StepID      string                `json:"step_id"`
	Title       string                `json:"title"`
	Description string                `json:"description,omitempty"`
	Proposals   []any                 `json:"proposals,omitempty"`
	Status      schema.DecisionStatus `json:"status"`
	Choice      string                `json:"choice,omitempty"`
	Notes       string                `json:"notes,omitempty"`
	CreatedAt   time.Time             `json:"created_at"`
	ResolvedAt  *time.Time            `json:"resolved_at,omitempty"`
}

// DecisionFilter narrows ListDecisions.
type DecisionFilter struct {
	ExecutionID string
	Status      schema.DecisionStatus
	Limit       int
}

// HistoryEntry is an immutable entry in an execution's history log.
type HistoryEntry struct {
	ID          int64               `json:"id"`
	ExecutionID string              `json:"execution_id"`
	Sequence    int64               `json:"sequence"`
	Event       schema.HistoryEvent `json:"event_type"`
	StepID      string              `json:"step_id,omitempty"`
	Data        map[string]any      `json:"data,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
}

// AgentTaskFilter narrows ListAgentTasks.
type AgentTaskFilter struct {
	Statuses     []schema.AgentStatus
	WorkstreamID string
	ExecutionID  string
	// CloudOnly keeps tasks with a cloud agent id; LocalOnly keeps the rest.
	CloudOnly bool
	LocalOnly bool
	Limit     int
}

// MigrationState describes one known migration.
type MigrationState struct {
	Version   int        `json:"version"`
	Name      string     `json:"name"`
	Applied   bool       `json:"applied"`
	AppliedAt *time.Time `json:"applied_at,omitempty"`
}

// MigrationResult is the result of applying one pending migration.
type MigrationResult struct {
	Version int
	Name    string
	Err     error
}
