package store

import (
	"context"
	"time"

	"github.com/rendis/stepwise/pkg/schema"
)

// WorkflowStore persists workflow definitions.
type WorkflowStore interface {
	SaveWorkflow(ctx context.Context, def *schema.WorkflowDefinition) error
	GetWorkflow(ctx context.Context, id string) (*WorkflowRecord, error)
	ListWorkflows(ctx context.Context) ([]*WorkflowRecord, error)
}

// ExecutionStore persists executions, their step audit trail, pending
// decisions and history.
type ExecutionStore interface {
	WorkflowStore

	CreateExecution(ctx context.Context, exec *Execution) error
	GetExecution(ctx context.Context, id string) (*Execution, error)
	// UpdateExecution fails with CONFLICT once the execution is completed or failed.
	UpdateExecution(ctx context.Context, id string, update ExecutionUpdate) error
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*Execution, error)

	// CreateStepExecution fails with NOT_FOUND when the execution does not exist.
	CreateStepExecution(ctx context.Context, se *StepExecution) error
	// CompleteStepExecution fails with CONFLICT when already completed.
	CompleteStepExecution(ctx context.Context, id string, c StepCompletion) error
	ListStepExecutions(ctx context.Context, executionID string) ([]*StepExecution, error)

	CreateDecision(ctx context.Context, dec *PendingDecision) error
	GetDecision(ctx context.Context, id string) (*PendingDecision, error)
	// ResolveDecision fails with CONFLICT when the decision is not pending.
	ResolveDecision(ctx context.Context, id, choice, notes string) error
	ListDecisions(ctx context.Context, filter DecisionFilter) ([]*PendingDecision, error)

	AppendHistory(ctx context.Context, entry *HistoryEntry) error
	ListHistory(ctx context.Context, executionID string) ([]*HistoryEntry, error)
}

// AgentTaskStore persists agent task records. Every write replaces the
// whole record (last writer wins).
type AgentTaskStore interface {
	// PutAgentTask fails with CONFLICT when another non-terminal task
	// exists for the same workstream.
	PutAgentTask(ctx context.Context, task *schema.AgentTask) error
	GetAgentTask(ctx context.Context, id string) (*schema.AgentTask, error)
	ListAgentTasks(ctx context.Context, filter AgentTaskFilter) ([]*schema.AgentTask, error)
	// ClaimAgentTask leases the oldest local queued task (or one whose
	// processing lease expired) to owner. Returns nil when nothing is claimable.
	ClaimAgentTask(ctx context.Context, owner string, lease time.Duration, now time.Time) (*schema.AgentTask, error)
}

// WorkstreamStore persists workstream metadata records.
type WorkstreamStore interface {
	PutWorkstream(ctx context.Context, ws *schema.Workstream) error
	GetWorkstream(ctx context.Context, id string) (*schema.Workstream, error)
	ListWorkstreams(ctx context.Context) ([]*schema.Workstream, error)
}

// Store is the full persistence contract.
// All implementations must be safe for concurrent use.
type Store interface {
	ExecutionStore
	AgentTaskStore
	WorkstreamStore

	Migrate(ctx context.Context) error
	RollbackLast(ctx context.Context) (*MigrationState, error)
	MigrationStatus(ctx context.Context) ([]MigrationState, error)

	Close() error
}
