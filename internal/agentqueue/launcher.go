package agentqueue

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/stepwise/internal/cloudagent"
	"github.com/rendis/stepwise/internal/logging"
	"github.com/rendis/stepwise/internal/store"
	"github.com/rendis/stepwise/pkg/schema"
)

// CloudClient is the subset of the remote agent client the queue uses.
type CloudClient interface {
	Configured() bool
	Launch(ctx context.Context, req cloudagent.LaunchRequest) (*cloudagent.Agent, error)
	GetStatus(ctx context.Context, agentID string) (*cloudagent.Agent, error)
}

// Kicker requests an immediate, non-blocking processing pass.
type Kicker interface {
	Kick()
}

// liveStatuses are the statuses that occupy a workstream's single slot.
var liveStatuses = []schema.AgentStatus{schema.AgentQueued, schema.AgentProcessing, schema.AgentRunning}

// LaunchRequest describes one delegated task.
type LaunchRequest struct {
	// TaskID is optional; cloud launches default to the remote agent id,
	// local ones to a fresh UUID.
	TaskID       string
	ExecutionID  string
	VersionTag   string
	WorkstreamID string
	Type         schema.AgentType
	Prompt       string
	Tasks        []any
	Repository   string
	Branch       string

	AutoMerge            bool
	MergeStrategy        string
	CurrentTaskIndex     int
	TotalTasks           int
	GoalSequence         int
	LaunchNextOnComplete bool

	// Options are passed to the remote service untouched.
	Options map[string]any
}

// Launcher decides between a remote launch and the local queue.
type Launcher struct {
	store      store.AgentTaskStore
	cloud      CloudClient
	kicker     Kicker
	contextDir string
	logger     *slog.Logger
	now        func() time.Time
}

// LauncherOption configures a Launcher.
type LauncherOption func(*Launcher)

// WithKicker sets who is poked after a task is queued locally.
func WithKicker(k Kicker) LauncherOption { return func(l *Launcher) { l.kicker = k } }

// WithContextDir sets where local context artifacts are written.
func WithContextDir(dir string) LauncherOption { return func(l *Launcher) { l.contextDir = dir } }

// WithLauncherLogger sets the logger.
func WithLauncherLogger(logger *slog.Logger) LauncherOption {
	return func(l *Launcher) { l.logger = logger }
}

// WithLauncherClock overrides time.Now.
func WithLauncherClock(now func() time.Time) LauncherOption {
	return func(l *Launcher) { l.now = now }
}

// NewLauncher creates a Launcher. cloud may be nil.
func NewLauncher(st store.AgentTaskStore, cloud CloudClient, opts ...LauncherOption) *Launcher {
	l := &Launcher{store: st, cloud: cloud, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = logging.OrDefault(l.logger)
	return l
}

// Launch delegates a task. Cloud-capable types with configured credentials
// are sent to the remote service; any remote failure, or missing
// credentials, falls back to a queued local record.
func (l *Launcher) Launch(ctx context.Context, req LaunchRequest) (*schema.AgentTask, error) {
	if req.Type == "" {
		req.Type = schema.AgentCursor
	}
	if req.WorkstreamID != "" {
		if err := l.ensureWorkstreamFree(ctx, req.WorkstreamID); err != nil {
			return nil, err
		}
	}

	if req.Type.RequestsCloud() && l.cloud != nil && l.cloud.Configured() {
		task, err := l.launchCloud(ctx, req)
		if err == nil {
			return task, nil
		}
		if schema.HasCode(err, schema.ErrCodeConflict) {
			return nil, err
		}
		l.logger.WarnContext(ctx, "cloud launch failed, falling back to local queue",
			slog.String("error", err.Error()), slog.Int("status_code", cloudagent.StatusCode(err)))
	}
	return l.launchLocal(ctx, req)
}

func (l *Launcher) ensureWorkstreamFree(ctx context.Context, workstreamID string) error {
	live, err := l.store.ListAgentTasks(ctx, store.AgentTaskFilter{
		WorkstreamID: workstreamID,
		Statuses:     liveStatuses,
		Limit:        1,
	})
	if err != nil {
		return err
	}
	if len(live) > 0 {
		return schema.NewErrorf(schema.ErrCodeConflict,
			"workstream %q already has an active agent task %s", workstreamID, live[0].ID).
			WithDetails(map[string]any{"task_id": live[0].ID, "status": string(live[0].Status)})
	}
	return nil
}

func (l *Launcher) launchCloud(ctx context.Context, req LaunchRequest) (*schema.AgentTask, error) {
	agent, err := l.cloud.Launch(ctx, cloudagent.LaunchRequest{
		Prompt:     req.Prompt,
		Repository: req.Repository,
		Branch:     req.Branch,
		Options:    req.Options,
	})
	if err != nil {
		return nil, err
	}

	task := l.newTask(req)
	if task.ID == "" {
		task.ID = agent.ID
	}
	task.Type = schema.AgentCursorCloud
	task.Status = cloudagent.NormalizeStatus(agent.Status)
	task.CloudAgentID = agent.ID
	task.CloudStatus = agent.Data

	if err := l.store.PutAgentTask(ctx, task); err != nil {
		return nil, err
	}
	l.logger.InfoContext(logging.WithTaskID(ctx, task.ID), "cloud agent launched",
		slog.String("cloud_agent_id", agent.ID), slog.String("status", string(task.Status)))
	return task, nil
}

func (l *Launcher) launchLocal(ctx context.Context, req LaunchRequest) (*schema.AgentTask, error) {
	task := l.newTask(req)
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	// A cloud type that could not reach the service becomes a cursor task.
	if task.Type == schema.AgentCursorCloud {
		task.Type = schema.AgentCursor
	}
	task.Status = schema.AgentQueued

	if err := l.store.PutAgentTask(ctx, task); err != nil {
		return nil, err
	}
	ctx = logging.WithTaskID(ctx, task.ID)

	if task.Type == schema.AgentCursor && l.contextDir != "" {
		if path, err := writeContextArtifact(l.contextDir, task, l.now()); err != nil {
			l.logger.WarnContext(ctx, "could not write context artifact", slog.String("error", err.Error()))
		} else {
			l.logger.DebugContext(ctx, "context artifact written", slog.String("path", path))
		}
	}

	l.logger.InfoContext(ctx, "agent task queued",
		slog.String("type", string(task.Type)), slog.Int("tasks", len(task.Tasks)))
	if l.kicker != nil {
		l.kicker.Kick()
	}
	return task, nil
}

func (l *Launcher) newTask(req LaunchRequest) *schema.AgentTask {
	return &schema.AgentTask{
		ID:                   req.TaskID,
		ExecutionID:          req.ExecutionID,
		VersionTag:           req.VersionTag,
		WorkstreamID:         req.WorkstreamID,
		Type:                 req.Type,
		Prompt:               req.Prompt,
		Tasks:                req.Tasks,
		Repository:           req.Repository,
		Branch:               req.Branch,
		AutoMerge:            req.AutoMerge,
		MergeStrategy:        req.MergeStrategy,
		CurrentTaskIndex:     req.CurrentTaskIndex,
		TotalTasks:           req.TotalTasks,
		GoalSequence:         req.GoalSequence,
		LaunchNextOnComplete: req.LaunchNextOnComplete,
		StartedAt:            l.now().UTC(),
	}
}
