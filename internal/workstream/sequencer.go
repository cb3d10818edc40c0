// Package workstream launches a workstream's goals one agent task at a time
// and chains each completed task into a merge and the next launch.
package workstream

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rendis/stepwise/internal/agentqueue"
	"github.com/rendis/stepwise/internal/logging"
	"github.com/rendis/stepwise/internal/store"
	"github.com/rendis/stepwise/pkg/schema"
)

const previewLimit = 5

// Store is the persistence the sequencer needs.
type Store interface {
	store.WorkstreamStore
	store.AgentTaskStore
}

// TaskLauncher starts one agent task.
type TaskLauncher interface {
	Launch(ctx context.Context, req agentqueue.LaunchRequest) (*schema.AgentTask, error)
}

// Merger integrates a finished agent branch.
type Merger interface {
	Merge(ctx context.Context, req schema.MergeRequest) (*schema.MergeResult, error)
}

// LaunchRequest selects which goal of a workstream to launch.
type LaunchRequest struct {
	WorkstreamID string
	// TaskIndex overrides the workstream's stored currentTaskIndex. It is
	// an index into the still-incomplete goals and is clamped.
	TaskIndex     *int
	AgentType     schema.AgentType
	MergeStrategy string
	Repository    string
	Branch        string
	ExecutionID   string
	VersionTag    string
}

// LaunchResult reports what was launched, if anything.
type LaunchResult struct {
	Workstream           *schema.Workstream `json:"workstream"`
	Task                 *schema.AgentTask  `json:"task,omitempty"`
	TaskIndex            int                `json:"taskIndex"`
	TotalTasks           int                `json:"totalTasks"`
	LaunchNextOnComplete bool               `json:"launchNextOnComplete"`
	AllComplete          bool               `json:"allComplete"`
}

// CompletionResult reports how a finished task was chained.
type CompletionResult struct {
	Merge *schema.MergeResult `json:"merge,omitempty"`
	Next  *LaunchResult       `json:"next,omitempty"`
}

// Sequencer runs workstreams.
type Sequencer struct {
	store    Store
	launcher TaskLauncher
	merger   Merger
	logger   *slog.Logger
	now      func() time.Time

	// mu serializes read-modify-write cycles on workstream records.
	mu sync.Mutex
}

// Option configures a Sequencer.
type Option func(*Sequencer)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Sequencer) { s.logger = l } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(s *Sequencer) { s.now = now } }

// New creates a Sequencer. merger may be nil, in which case auto-merge
// tasks block their workstream on completion.
func New(st Store, launcher TaskLauncher, merger Merger, opts ...Option) *Sequencer {
	s := &Sequencer{store: st, launcher: launcher, merger: merger, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.OrDefault(s.logger)
	return s
}

// Create stores a new workstream. Goal sequence numbers are assigned in
// order when missing.
func (s *Sequencer) Create(ctx context.Context, ws *schema.Workstream) error {
	if ws.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "workstream id is required")
	}
	if ws.Status == "" {
		ws.Status = schema.WorkstreamActive
	}
	next := nextSequence(ws.Goals)
	for i := range ws.Goals {
		if ws.Goals[i].TaskSequence == 0 {
			ws.Goals[i].TaskSequence = next
			next++
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.PutWorkstream(ctx, ws)
}

// AddGoals appends goals to a workstream. New goals get sequence numbers
// after every existing one; existing numbers are never changed.
func (s *Sequencer) AddGoals(ctx context.Context, workstreamID string, goals ...string) (*schema.Workstream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ws, err := s.store.GetWorkstream(ctx, workstreamID)
	if err != nil {
		return nil, err
	}
	seq := nextSequence(ws.Goals)
	for _, text := range goals {
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		ws.Goals = append(ws.Goals, schema.WorkstreamGoal{Text: text, TaskSequence: seq})
		seq++
	}
	if ws.Status == schema.WorkstreamCompleted && len(pendingGoals(ws)) > 0 {
		ws.Status = schema.WorkstreamActive
	}
	if err := s.store.PutWorkstream(ctx, ws); err != nil {
		return nil, err
	}
	return ws, nil
}

// Launch starts exactly one agent task for the selected incomplete goal.
// A workstream with nothing left to do is marked completed instead.
func (s *Sequencer) Launch(ctx context.Context, req LaunchRequest) (*LaunchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.launch(ctx, req)
}

func (s *Sequencer) launch(ctx context.Context, req LaunchRequest) (*LaunchResult, error) {
	ctx = logging.WithWorkstreamID(ctx, req.WorkstreamID)
	ws, err := s.store.GetWorkstream(ctx, req.WorkstreamID)
	if err != nil {
		return nil, err
	}

	pending := pendingGoals(ws)
	if len(pending) == 0 {
		ws.Status = schema.WorkstreamCompleted
		ws.TotalTasks = 0
		if err := s.store.PutWorkstream(ctx, ws); err != nil {
			return nil, err
		}
		s.logger.InfoContext(ctx, "workstream has no remaining goals")
		return &LaunchResult{Workstream: ws, AllComplete: true}, nil
	}

	idx := ws.CurrentTaskIndex
	if req.TaskIndex != nil {
		idx = *req.TaskIndex
	}
	idx = clampIndex(idx, len(pending))
	goal := pending[idx]
	last := idx == len(pending)-1

	task, err := s.launcher.Launch(ctx, agentqueue.LaunchRequest{
		ExecutionID:          req.ExecutionID,
		VersionTag:           firstNonEmpty(req.VersionTag, ws.VersionTag),
		WorkstreamID:         ws.ID,
		Type:                 req.AgentType,
		Prompt:               buildPrompt(ws, pending, idx),
		Tasks:                []any{goal.Text},
		Repository:           req.Repository,
		Branch:               req.Branch,
		AutoMerge:            true,
		MergeStrategy:        req.MergeStrategy,
		CurrentTaskIndex:     idx,
		TotalTasks:           len(pending),
		GoalSequence:         goal.TaskSequence,
		LaunchNextOnComplete: !last,
	})
	if err != nil {
		return nil, err
	}

	ws.Status = schema.WorkstreamActive
	ws.CurrentTaskIndex = idx
	ws.TotalTasks = len(pending)
	ws.AgentID = task.ID
	ws.AgentStatus = task.Status
	ws.Error = ""
	if err := s.store.PutWorkstream(ctx, ws); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "workstream task launched",
		slog.Int("task_index", idx), slog.Int("total_tasks", len(pending)),
		slog.String("task_id", task.ID), slog.Bool("launch_next", !last))

	return &LaunchResult{
		Workstream:           ws,
		Task:                 task,
		TaskIndex:            idx,
		TotalTasks:           len(pending),
		LaunchNextOnComplete: !last,
	}, nil
}

// OnTaskCompleted chains a terminal workstream task: the agent branch is
// merged, the goal marked done, and the next goal launched when the task
// asked for it. A merge conflict blocks the workstream and is returned as
// MERGE_CONFLICT.
func (s *Sequencer) OnTaskCompleted(ctx context.Context, task *schema.AgentTask) (*CompletionResult, error) {
	if task == nil || task.WorkstreamID == "" {
		return nil, nil
	}
	// ready only means handed to a local editor; the work is not done yet.
	if task.Status != schema.AgentCompleted && task.Status != schema.AgentFailed {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx = logging.WithTaskID(logging.WithWorkstreamID(ctx, task.WorkstreamID), task.ID)
	ws, err := s.store.GetWorkstream(ctx, task.WorkstreamID)
	if err != nil {
		return nil, err
	}
	ws.AgentStatus = task.Status

	if task.Status == schema.AgentFailed {
		return nil, s.block(ctx, ws, schema.ErrCodeExecution,
			fmt.Sprintf("agent task %s failed: %s", task.ID, firstNonEmpty(task.Error, "unknown error")))
	}

	result := &CompletionResult{}
	if task.AutoMerge {
		merge, err := s.merge(ctx, ws, task)
		if err != nil {
			return nil, err
		}
		result.Merge = merge
	}

	markGoal(ws, task.GoalSequence)
	if len(pendingGoals(ws)) == 0 {
		ws.Status = schema.WorkstreamCompleted
		if err := s.store.PutWorkstream(ctx, ws); err != nil {
			return nil, err
		}
		s.logger.InfoContext(ctx, "workstream completed")
		return result, nil
	}
	if err := s.store.PutWorkstream(ctx, ws); err != nil {
		return nil, err
	}

	if !task.LaunchNextOnComplete {
		return result, nil
	}
	// The finished goal left the pending list, so its successor now sits at
	// the same index.
	idx := task.CurrentTaskIndex
	next, err := s.launch(ctx, LaunchRequest{
		WorkstreamID:  ws.ID,
		TaskIndex:     &idx,
		AgentType:     task.Type,
		MergeStrategy: task.MergeStrategy,
		Repository:    task.Repository,
		Branch:        task.Branch,
		ExecutionID:   task.ExecutionID,
		VersionTag:    task.VersionTag,
	})
	if err != nil {
		return result, err
	}
	result.Next = next
	return result, nil
}

func (s *Sequencer) merge(ctx context.Context, ws *schema.Workstream, task *schema.AgentTask) (*schema.MergeResult, error) {
	if task.Merged {
		return &schema.MergeResult{AlreadyMerged: true}, nil
	}
	if s.merger == nil {
		return nil, s.block(ctx, ws, schema.ErrCodeMergeFailed, "no merge collaborator configured")
	}
	if task.AgentBranch == "" {
		return nil, s.block(ctx, ws, schema.ErrCodeMergeFailed,
			fmt.Sprintf("agent task %s reported no branch to merge", task.ID))
	}

	res, err := s.merger.Merge(ctx, schema.MergeRequest{
		Branch:   task.AgentBranch,
		Strategy: task.MergeStrategy,
		Message:  fmt.Sprintf("Merge workstream %s task %d of %d", ws.Name, task.CurrentTaskIndex+1, task.TotalTasks),
		Push:     true,
	})
	if err != nil {
		res = &schema.MergeResult{Error: err.Error()}
	}

	now := s.now().UTC()
	task.MergeAttempted = true
	task.Merged = res.SafeToProceed()
	task.MergeConflict = res.Conflict
	task.MergeError = res.Error
	if task.Merged {
		task.MergedAt = &now
	}
	if err := s.store.PutAgentTask(ctx, task); err != nil {
		return nil, err
	}

	switch {
	case res.Conflict:
		return res, s.block(ctx, ws, schema.ErrCodeMergeConflict,
			fmt.Sprintf("merge conflict on branch %s: %s", task.AgentBranch, res.Error))
	case !res.SafeToProceed():
		return res, s.block(ctx, ws, schema.ErrCodeMergeFailed,
			fmt.Sprintf("merge of branch %s failed: %s", task.AgentBranch, firstNonEmpty(res.Error, "unknown error")))
	}
	s.logger.InfoContext(ctx, "agent branch merged",
		slog.String("branch", task.AgentBranch), slog.Bool("already_merged", res.AlreadyMerged))
	return res, nil
}

// block parks the workstream for a human and returns the matching error.
func (s *Sequencer) block(ctx context.Context, ws *schema.Workstream, code, msg string) error {
	ws.Status = schema.WorkstreamBlocked
	ws.Error = msg
	if err := s.store.PutWorkstream(ctx, ws); err != nil {
		return err
	}
	s.logger.WarnContext(ctx, "workstream blocked", slog.String("reason", msg))
	return schema.NewError(code, msg).WithDetails(map[string]any{"workstream_id": ws.ID})
}

// Hook adapts OnTaskCompleted to the sync completion hook.
func (s *Sequencer) Hook() agentqueue.CompletionHook {
	return func(ctx context.Context, task *schema.AgentTask) {
		if _, err := s.OnTaskCompleted(ctx, task); err != nil {
			s.logger.ErrorContext(ctx, "workstream chaining failed", slog.String("error", err.Error()))
		}
	}
}

func pendingGoals(ws *schema.Workstream) []schema.WorkstreamGoal {
	var out []schema.WorkstreamGoal
	for _, g := range ws.Goals {
		if !g.Completed {
			out = append(out, g)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TaskSequence < out[j].TaskSequence })
	return out
}

func markGoal(ws *schema.Workstream, seq int) {
	for i := range ws.Goals {
		if ws.Goals[i].TaskSequence == seq {
			ws.Goals[i].Completed = true
			return
		}
	}
}

func nextSequence(goals []schema.WorkstreamGoal) int {
	highest := 0
	for _, g := range goals {
		if g.TaskSequence > highest {
			highest = g.TaskSequence
		}
	}
	return highest + 1
}

func clampIndex(idx, n int) int {
	if idx < 0 {
		return 0
	}
	if idx >= n {
		return n - 1
	}
	return idx
}

func buildPrompt(ws *schema.Workstream, pending []schema.WorkstreamGoal, idx int) string {
	name := firstNonEmpty(ws.Name, ws.ID)
	var b strings.Builder
	fmt.Fprintf(&b, "Implement task %d of %d for workstream %s\n\n", idx+1, len(pending), name)
	fmt.Fprintf(&b, "Goal: %s\n", pending[idx].Text)

	remaining := pending[idx+1:]
	if len(remaining) > 0 {
		b.WriteString("\nRemaining goals:\n")
		for i, g := range remaining {
			if i == previewLimit {
				fmt.Fprintf(&b, "- ... and %d more\n", len(remaining)-previewLimit)
				break
			}
			fmt.Fprintf(&b, "- %s\n", g.Text)
		}
	}
	if ws.Description != "" {
		fmt.Fprintf(&b, "\nWorkstream description: %s\n", ws.Description)
	}
	b.WriteString("\nOnly implement this goal. When you finish, your branch is merged automatically and the next task starts.\n")
	return b.String()
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
