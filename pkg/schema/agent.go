package schema

import (
	"encoding/json"
	"time"
)

// AgentType selects how a delegated task is carried out.
type AgentType string

const (
	AgentCursorCloud AgentType = "cursor-cloud"
	AgentCursor      AgentType = "cursor"
	AgentLocal       AgentType = "local"
)

// RequestsCloud reports whether the type prefers the remote agent service.
func (t AgentType) RequestsCloud() bool {
	return t == AgentCursorCloud || t == AgentCursor
}

// AgentStatus is the local status vocabulary of an agent task.
type AgentStatus string

const (
	AgentQueued     AgentStatus = "queued"
	AgentProcessing AgentStatus = "processing"
	AgentRunning    AgentStatus = "running"
	AgentReady      AgentStatus = "ready"
	AgentCompleted  AgentStatus = "completed"
	AgentFailed     AgentStatus = "failed"
)

// IsTerminal reports whether a task in this status needs no further work.
func (s AgentStatus) IsTerminal() bool {
	return s == AgentReady || s == AgentCompleted || s == AgentFailed
}

// SyncEntry records one status check against the remote agent service.
type SyncEntry struct {
	Timestamp      time.Time   `json:"timestamp"`
	PreviousStatus AgentStatus `json:"previousStatus"`
	NewStatus      AgentStatus `json:"newStatus"`
	StatusChanged  bool        `json:"statusChanged"`
	Success        bool        `json:"success"`
	Error          string      `json:"error,omitempty"`
}

// AgentTask is one delegated unit of long-running work. The record is
// persisted whole; every write replaces the previous version.
type AgentTask struct {
	ID           string      `json:"id"`
	ExecutionID  string      `json:"executionId,omitempty"`
	VersionTag   string      `json:"versionTag,omitempty"`
	WorkstreamID string      `json:"workstreamId,omitempty"`
	Type         AgentType   `json:"type"`
	Status       AgentStatus `json:"status"`
	Prompt       string      `json:"prompt,omitempty"`
	Tasks        []any       `json:"tasks,omitempty"`
	Repository   string      `json:"repository,omitempty"`
	Branch       string      `json:"branch,omitempty"`

	CloudAgentID string          `json:"cloudAgentId,omitempty"`
	CloudStatus  json.RawMessage `json:"cloudStatus,omitempty"`
	AgentBranch  string          `json:"agentBranch,omitempty"`

	AutoMerge            bool   `json:"autoMerge"`
	MergeStrategy        string `json:"mergeStrategy,omitempty"`
	CurrentTaskIndex     int    `json:"currentTaskIndex"`
	TotalTasks           int    `json:"totalTasks"`
	GoalSequence         int    `json:"goalSequence,omitempty"`
	LaunchNextOnComplete bool   `json:"launchNextOnComplete"`

	MergeAttempted bool       `json:"mergeAttempted,omitempty"`
	Merged         bool       `json:"merged,omitempty"`
	MergeConflict  bool       `json:"mergeConflict,omitempty"`
	MergeError     string     `json:"mergeError,omitempty"`
	MergedAt       *time.Time `json:"mergedAt,omitempty"`

	LeaseOwner     string     `json:"leaseOwner,omitempty"`
	LeaseExpiresAt *time.Time `json:"leaseExpiresAt,omitempty"`

	Note        string      `json:"note,omitempty"`
	Error       string      `json:"error,omitempty"`
	StartedAt   time.Time   `json:"startedAt"`
	ProcessedAt *time.Time  `json:"processedAt,omitempty"`
	ReadyAt     *time.Time  `json:"readyAt,omitempty"`
	CompletedAt *time.Time  `json:"completedAt,omitempty"`
	FailedAt    *time.Time  `json:"failedAt,omitempty"`
	SyncHistory []SyncEntry `json:"syncHistory,omitempty"`
}

// IsCloud reports whether the task is backed by a remote agent.
func (t *AgentTask) IsCloud() bool {
	return t.CloudAgentID != ""
}

// WorkstreamStatus is the lifecycle state of a workstream.
type WorkstreamStatus string

const (
	WorkstreamActive    WorkstreamStatus = "active"
	WorkstreamBlocked   WorkstreamStatus = "blocked"
	WorkstreamCompleted WorkstreamStatus = "completed"
)

// WorkstreamGoal is one ordered goal. TaskSequence is assigned once and
// never renumbered.
type WorkstreamGoal struct {
	Text         string `json:"text"`
	Completed    bool   `json:"completed"`
	TaskSequence int    `json:"taskSequence"`
}

// Workstream is an ordered group of goals executed one agent task at a time.
type Workstream struct {
	ID               string           `json:"id"`
	VersionTag       string           `json:"versionTag,omitempty"`
	Name             string           `json:"name"`
	Description      string           `json:"description,omitempty"`
	Status           WorkstreamStatus `json:"status"`
	Goals            []WorkstreamGoal `json:"goals"`
	CurrentTaskIndex int              `json:"currentTaskIndex"`
	TotalTasks       int              `json:"totalTasks"`
	AgentID          string           `json:"agentId,omitempty"`
	AgentStatus      AgentStatus      `json:"agentStatus,omitempty"`
	Error            string           `json:"error,omitempty"`
	UpdatedAt        time.Time        `json:"updatedAt"`
}

// MergeRequest asks the merge collaborator to integrate a branch.
type MergeRequest struct {
	Branch   string
	Strategy string
	Message  string
	Push     bool
}

// MergeResult is the merge collaborator's verdict.
type MergeResult struct {
	Merged        bool   `json:"merged"`
	AlreadyMerged bool   `json:"alreadyMerged"`
	Conflict      bool   `json:"conflict"`
	Pushed        bool   `json:"pushed"`
	Error         string `json:"error,omitempty"`
}

// SafeToProceed reports whether the next task may launch.
func (r *MergeResult) SafeToProceed() bool {
	return r != nil && (r.Merged || r.AlreadyMerged) && !r.Conflict
}
