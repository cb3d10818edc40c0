package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/rendis/stepwise/internal/actions"
	"github.com/rendis/stepwise/internal/agentqueue"
	"github.com/rendis/stepwise/internal/cloudagent"
	"github.com/rendis/stepwise/internal/engine"
	"github.com/rendis/stepwise/internal/gitmerge"
	"github.com/rendis/stepwise/internal/logging"
	"github.com/rendis/stepwise/internal/store"
	"github.com/rendis/stepwise/internal/workflows"
	"github.com/rendis/stepwise/internal/workstream"
	"github.com/rendis/stepwise/pkg/mcp"
)

// app is the fully wired process. Every command builds one and closes it.
type app struct {
	cfg       Config
	logger    *slog.Logger
	store     *store.LibSQLStore
	cloud     *cloudagent.Client
	syncer    *agentqueue.Syncer
	processor *agentqueue.Processor
	launcher  *agentqueue.Launcher
	sequencer *workstream.Sequencer
	merger    *gitmerge.Merger
	registry  *actions.Registry
	runner    *engine.Runner
	catalog   *workflows.Catalog
	mcpServer *mcp.Server
}

func newLogger(cfg Config) *slog.Logger {
	inner := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.slogLevel()})
	return slog.New(logging.NewCorrelationHandler(inner))
}

// connectStore opens the database without touching its schema.
func connectStore(cfg Config, logger *slog.Logger) (*store.LibSQLStore, error) {
	mode, err := store.ParseMigrationMode(cfg.MigrationMode)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	st, err := store.NewLibSQLStore("file:"+cfg.DBPath, store.WithMigrationMode(mode), store.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return st, nil
}

// openStore opens the database and applies pending migrations.
func openStore(ctx context.Context, cfg Config, logger *slog.Logger) (*store.LibSQLStore, error) {
	st, err := connectStore(cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return st, nil
}

func newApp(ctx context.Context, cfg Config) (*app, error) {
	logger := newLogger(cfg)
	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, store: st}

	a.cloud = cloudagent.New(cloudagent.Config{BaseURL: cfg.CloudBaseURL, APIKey: cfg.CloudAPIKey})
	a.syncer = agentqueue.NewSyncer(st, a.cloud, logger)
	a.processor = agentqueue.NewProcessor(st, a.syncer, agentqueue.ProcessorConfig{
		PollInterval: cfg.pollInterval(),
		SyncInterval: cfg.syncInterval(),
		LockPath:     cfg.QueueLock,
		ContextDir:   cfg.ContextDir,
		Logger:       logger,
	})
	a.launcher = agentqueue.NewLauncher(st, a.cloud,
		agentqueue.WithKicker(a.processor),
		agentqueue.WithContextDir(cfg.ContextDir),
		agentqueue.WithLauncherLogger(logger),
	)
	a.merger = gitmerge.New(gitmerge.Config{Dir: cfg.RepoDir, Remote: cfg.GitRemote, Logger: logger})
	a.sequencer = workstream.New(st, a.launcher, a.merger, workstream.WithLogger(logger))
	a.syncer.OnComplete(a.sequencer.Hook())

	a.registry = actions.NewRegistry()
	if err := actions.RegisterBuiltins(a.registry, actions.Deps{
		Launcher:      a.launcher,
		StatusChecker: a.syncer,
		Cloud:         a.cloud,
		Workstreams:   a.sequencer,
		Merger:        a.merger,
	}); err != nil {
		st.Close()
		return nil, fmt.Errorf("register actions: %w", err)
	}

	a.runner, err = engine.NewRunner(st, a.registry,
		engine.WithLogger(logger),
		engine.WithMaxSteps(cfg.MaxSteps),
	)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("create runner: %w", err)
	}

	a.catalog = workflows.New(cfg.WorkflowsDir, st, logger)
	if n, err := a.catalog.Sync(ctx); err != nil {
		logger.WarnContext(ctx, "workflow catalog sync failed", slog.String("error", err.Error()))
	} else {
		logger.DebugContext(ctx, "workflow catalog synced", slog.Int("definitions", n))
	}

	a.mcpServer = mcp.NewServer(mcp.ServerDeps{
		Runner:      a.runner,
		Catalog:     a.catalog,
		Decisions:   st,
		Executions:  st,
		Agents:      a.syncer,
		Workstreams: a.sequencer,
		Logger:      logger,
		Version:     version,
	})
	a.syncer.OnComplete(a.mcpServer.Notifier().TaskHook())
	return a, nil
}

func (a *app) Close() error {
	if err := a.processor.Stop(); err != nil {
		a.logger.Warn("processor stop failed", slog.String("error", err.Error()))
	}
	return a.store.Close()
}

// recoverExecutions picks up executions a previous process left running.
func (a *app) recoverExecutions(ctx context.Context) {
	results, err := a.runner.RecoverInterrupted(ctx)
	if err != nil {
		a.logger.WarnContext(ctx, "execution recovery incomplete", slog.String("error", err.Error()))
	}
	if len(results) > 0 {
		a.logger.InfoContext(ctx, "recovered interrupted executions", slog.Int("count", len(results)))
	}
}
