package agentqueue

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/rendis/stepwise/internal/logging"
	"github.com/rendis/stepwise/internal/store"
	"github.com/rendis/stepwise/pkg/schema"
)

const (
	defaultPollInterval = 5 * time.Second
	defaultSyncInterval = 30 * time.Second
	defaultLease        = 10 * time.Minute

	// NoTasksNote is recorded on tasks that were auto-completed empty.
	NoTasksNote = "No tasks to implement"
)

// ProcessorConfig configures a Processor.
type ProcessorConfig struct {
	PollInterval time.Duration
	SyncInterval time.Duration
	Lease        time.Duration
	// LockPath, when set, is a file lock held for the processor's lifetime so
	// only one process drains a given queue.
	LockPath string
	// ContextDir is where cursor tasks get their context artifact.
	ContextDir string
	// Owner identifies this processor in task leases.
	Owner  string
	Logger *slog.Logger
	Now    func() time.Time
}

// Processor drains the local agent queue one task at a time and keeps
// cloud-backed tasks in sync.
type Processor struct {
	store  store.AgentTaskStore
	syncer *Syncer
	cfg    ProcessorConfig
	logger *slog.Logger
	now    func() time.Time

	// currentTask is the in-flight marker; non-empty while a pass runs.
	flightMu    sync.Mutex
	currentTask string

	kick chan struct{}

	mu      sync.Mutex
	cron    *cron.Cron
	lock    *flock.Flock
	cancel  context.CancelFunc
	kickers sync.WaitGroup
}

// NewProcessor creates a Processor. syncer may be nil to disable cloud sync.
func NewProcessor(st store.AgentTaskStore, syncer *Syncer, cfg ProcessorConfig) *Processor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = defaultSyncInterval
	}
	if cfg.Lease <= 0 {
		cfg.Lease = defaultLease
	}
	if cfg.Owner == "" {
		host, _ := os.Hostname()
		cfg.Owner = fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.New().String()[:8])
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Processor{
		store:  st,
		syncer: syncer,
		cfg:    cfg,
		logger: logging.OrDefault(cfg.Logger),
		now:    now,
		kick:   make(chan struct{}, 1),
	}
}

// Start takes the queue lock (if configured) and begins polling. Overlapping
// ticks are skipped rather than queued.
func (p *Processor) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cron != nil {
		return schema.NewError(schema.ErrCodeConflict, "processor already started")
	}

	if p.cfg.LockPath != "" {
		if err := os.MkdirAll(filepath.Dir(p.cfg.LockPath), 0o755); err != nil {
			return fmt.Errorf("create lock dir: %w", err)
		}
		fl := flock.New(p.cfg.LockPath)
		locked, err := fl.TryLock()
		if err != nil {
			return fmt.Errorf("acquire queue lock: %w", err)
		}
		if !locked {
			return schema.NewErrorf(schema.ErrCodeConflict,
				"agent queue is locked by another process (%s)", p.cfg.LockPath)
		}
		p.lock = fl
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{p.logger})))
	c.Schedule(cron.Every(p.cfg.PollInterval), cron.FuncJob(func() { p.tick(runCtx) }))
	if p.syncer != nil {
		c.Schedule(cron.Every(p.cfg.SyncInterval), cron.FuncJob(func() {
			if _, err := p.SyncCloudTasks(runCtx); err != nil {
				p.logger.WarnContext(runCtx, "cloud sync pass failed", slog.String("error", err.Error()))
			}
		}))
	}
	c.Start()
	p.cron = c

	p.kickers.Add(1)
	go p.kickLoop(runCtx)

	p.logger.InfoContext(ctx, "agent processor started",
		slog.Duration("poll_interval", p.cfg.PollInterval),
		slog.String("owner", p.cfg.Owner))

	// Process immediately, then poll.
	p.Kick()
	return nil
}

// Stop halts polling, waits for a running pass and releases the queue lock.
func (p *Processor) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cron == nil {
		return nil
	}
	<-p.cron.Stop().Done()
	p.cancel()
	p.kickers.Wait()
	p.cron = nil
	p.cancel = nil

	if p.lock != nil {
		if err := p.lock.Unlock(); err != nil {
			return fmt.Errorf("release queue lock: %w", err)
		}
		p.lock = nil
	}
	p.logger.Info("agent processor stopped")
	return nil
}

// Kick requests an immediate processing pass without blocking.
func (p *Processor) Kick() {
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

func (p *Processor) kickLoop(ctx context.Context) {
	defer p.kickers.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.kick:
			p.tick(ctx)
		}
	}
}

func (p *Processor) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := p.ProcessNext(ctx); err != nil {
		p.logger.ErrorContext(ctx, "agent queue pass failed", slog.String("error", err.Error()))
	}
}

// InFlight returns the id of the task being processed, if any.
func (p *Processor) InFlight() string {
	p.flightMu.Lock()
	defer p.flightMu.Unlock()
	return p.currentTask
}

func (p *Processor) acquire(marker string) bool {
	p.flightMu.Lock()
	defer p.flightMu.Unlock()
	if p.currentTask != "" {
		return false
	}
	p.currentTask = marker
	return true
}

func (p *Processor) setCurrent(id string) {
	p.flightMu.Lock()
	p.currentTask = id
	p.flightMu.Unlock()
}

// ProcessNext claims the oldest queued local task and handles it. It
// returns false when nothing was processed, either because the queue is
// empty or because another pass is already in flight.
func (p *Processor) ProcessNext(ctx context.Context) (bool, error) {
	if !p.acquire("claiming") {
		p.logger.DebugContext(ctx, "agent queue pass skipped, task in flight")
		return false, nil
	}
	defer p.setCurrent("")

	task, err := p.store.ClaimAgentTask(ctx, p.cfg.Owner, p.cfg.Lease, p.now())
	if err != nil {
		return false, err
	}
	if task == nil {
		return false, nil
	}
	p.setCurrent(task.ID)
	ctx = logging.WithTaskID(ctx, task.ID)
	p.logger.InfoContext(ctx, "processing agent task", slog.String("type", string(task.Type)))

	handleErr := p.handle(ctx, task)
	now := p.now().UTC()
	if handleErr != nil {
		task.Status = schema.AgentFailed
		task.Error = handleErr.Error()
		task.FailedAt = &now
		p.logger.WarnContext(ctx, "agent task failed", slog.String("error", handleErr.Error()))
	}
	task.LeaseOwner = ""
	task.LeaseExpiresAt = nil

	if err := p.store.PutAgentTask(ctx, task); err != nil {
		return true, err
	}
	p.logger.InfoContext(ctx, "agent task processed", slog.String("status", string(task.Status)))
	return true, nil
}

func (p *Processor) handle(ctx context.Context, task *schema.AgentTask) error {
	now := p.now().UTC()

	if len(task.Tasks) == 0 {
		task.Status = schema.AgentCompleted
		task.Note = NoTasksNote
		task.ReadyAt = &now
		task.CompletedAt = &now
		return nil
	}

	switch task.Type {
	case schema.AgentCursor, schema.AgentCursorCloud:
		task.Status = schema.AgentReady
		task.ReadyAt = &now
		if p.cfg.ContextDir != "" {
			if _, err := writeContextArtifact(p.cfg.ContextDir, task, now); err != nil {
				return err
			}
		}
		return nil
	case schema.AgentLocal:
		task.Status = schema.AgentReady
		task.ReadyAt = &now
		return nil
	default:
		return fmt.Errorf("unsupported agent type %q", task.Type)
	}
}

// SyncCloudTasks refreshes every non-terminal cloud-backed task and
// returns how many were checked successfully.
func (p *Processor) SyncCloudTasks(ctx context.Context) (int, error) {
	if p.syncer == nil {
		return 0, nil
	}
	tasks, err := p.store.ListAgentTasks(ctx, store.AgentTaskFilter{CloudOnly: true, Statuses: liveStatuses})
	if err != nil {
		return 0, err
	}
	synced := 0
	for _, t := range tasks {
		if ctx.Err() != nil {
			return synced, ctx.Err()
		}
		if _, err := p.syncer.CheckStatus(ctx, t.ID); err != nil {
			continue
		}
		synced++
	}
	if len(tasks) > 0 {
		p.logger.DebugContext(ctx, "cloud sync pass", slog.Int("tasks", len(tasks)), slog.Int("synced", synced))
	}
	return synced, nil
}

// cronLogger routes cron's internal logging into slog.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append([]any{"error", err}, keysAndValues...)...)
}
