package agentqueue

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/rendis/stepwise/internal/cloudagent"
	"github.com/rendis/stepwise/internal/expressions"
	"github.com/rendis/stepwise/internal/logging"
	"github.com/rendis/stepwise/internal/store"
	"github.com/rendis/stepwise/pkg/schema"
)

// CompletionHook observes a task the first time it turns terminal.
type CompletionHook func(ctx context.Context, task *schema.AgentTask)

// Syncer refreshes cloud-backed tasks from the remote service.
type Syncer struct {
	store     store.AgentTaskStore
	cloud     CloudClient
	extractor *expressions.Extractor
	logger    *slog.Logger
	now       func() time.Time

	mu    sync.RWMutex
	hooks []CompletionHook
}

// NewSyncer creates a Syncer. cloud may be nil, in which case cloud-backed
// tasks cannot be refreshed and CheckStatus reports an error for them.
func NewSyncer(st store.AgentTaskStore, cloud CloudClient, logger *slog.Logger) *Syncer {
	return &Syncer{
		store:     st,
		cloud:     cloud,
		extractor: expressions.NewExtractor(),
		logger:    logging.OrDefault(logger),
		now:       time.Now,
	}
}

// OnComplete registers a hook fired once per task when it first becomes
// terminal through a status check.
func (s *Syncer) OnComplete(h CompletionHook) {
	s.mu.Lock()
	s.hooks = append(s.hooks, h)
	s.mu.Unlock()
}

// CheckStatus returns the task's current status. Local tasks are read from
// the store. Cloud tasks are refreshed from the remote service; if that
// fails the stored record is left untouched and the error is returned
// alongside the cached task.
func (s *Syncer) CheckStatus(ctx context.Context, taskID string) (*schema.AgentTask, error) {
	task, err := s.store.GetAgentTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if !task.IsCloud() {
		return task, nil
	}
	ctx = logging.WithTaskID(ctx, task.ID)
	if task.WorkstreamID != "" {
		ctx = logging.WithWorkstreamID(ctx, task.WorkstreamID)
	}

	if s.cloud == nil || !s.cloud.Configured() {
		return task, schema.NewError(schema.ErrCodeValidation,
			"agent service API key is not configured; cannot refresh cloud task")
	}

	remote, err := s.cloud.GetStatus(ctx, task.CloudAgentID)
	if err != nil {
		s.logger.WarnContext(ctx, "cloud status check failed",
			slog.String("cloud_agent_id", task.CloudAgentID), slog.String("error", err.Error()))
		return task, err
	}

	now := s.now().UTC()
	prev := task.Status
	next := cloudagent.NormalizeStatus(remote.Status)
	firstTerminal := next.IsTerminal() && task.CompletedAt == nil

	task.Status = next
	if len(remote.Data) > 0 {
		task.CloudStatus = remote.Data
	}
	if branch := s.extractor.Branch(ctx, remote.Data); branch != "" {
		task.AgentBranch = branch
	}
	task.SyncHistory = append(task.SyncHistory, schema.SyncEntry{
		Timestamp:      now,
		PreviousStatus: prev,
		NewStatus:      next,
		StatusChanged:  prev != next,
		Success:        true,
	})
	if firstTerminal {
		task.CompletedAt = &now
		if next == schema.AgentFailed {
			task.FailedAt = &now
			if task.Error == "" {
				task.Error = remoteError(remote.Data)
			}
		}
	}

	if err := s.store.PutAgentTask(ctx, task); err != nil {
		return nil, err
	}
	if prev != next {
		s.logger.InfoContext(ctx, "cloud task status changed",
			slog.String("from", string(prev)), slog.String("to", string(next)))
	}

	if firstTerminal {
		s.fire(ctx, task)
	}
	return task, nil
}

func (s *Syncer) fire(ctx context.Context, task *schema.AgentTask) {
	s.mu.RLock()
	hooks := append([]CompletionHook(nil), s.hooks...)
	s.mu.RUnlock()
	for _, h := range hooks {
		h(ctx, task)
	}
}

func remoteError(data json.RawMessage) string {
	var body struct {
		Error   any    `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &body); err == nil {
		switch e := body.Error.(type) {
		case string:
			if e != "" {
				return e
			}
		case map[string]any:
			if m, ok := e["message"].(string); ok && m != "" {
				return m
			}
		}
		if body.Message != "" {
			return body.Message
		}
	}
	return "Agent failed"
}
