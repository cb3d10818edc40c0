package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rendis/stepwise/internal/diagram"
	"github.com/rendis/stepwise/internal/engine"
	"github.com/rendis/stepwise/internal/store"
	"github.com/rendis/stepwise/pkg/schema"
)

var rootCmd = &cobra.Command{
	Use:           "stepwise",
	Short:         "Step-graph workflow engine with agent task delegation",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var (
	runStepMode bool
	runTriggers []string
	runVersion  string
	resolveNote string
	migrateBack bool
	migrateList bool
	graphExec   string
)

func init() {
	runCmd.Flags().BoolVar(&runStepMode, "step", false, "pause after every step")
	runCmd.Flags().StringArrayVar(&runTriggers, "trigger", nil, "trigger value as key=value (repeatable)")
	runCmd.Flags().StringVar(&runVersion, "version-tag", "", "version tag recorded on the execution")
	resolveCmd.Flags().StringVar(&resolveNote, "notes", "", "notes recorded with the decision")
	graphCmd.Flags().StringVar(&graphExec, "execution", "", "color the graph with this execution's step results")
	migrateCmd.Flags().BoolVar(&migrateBack, "rollback", false, "undo the newest applied migration")
	migrateCmd.Flags().BoolVar(&migrateList, "status", false, "list migrations without applying pending ones")

	rootCmd.AddCommand(serveCmd, runCmd, advanceCmd, statusCmd, resolveCmd, graphCmd, processCmd, migrateCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// withApp builds the process for one command and tears it down afterwards.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, loadConfig())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve MCP tools over stdio and process the agent queue",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			if err := a.processor.Start(ctx); err != nil {
				return err
			}
			a.recoverExecutions(ctx)
			return a.mcpServer.Serve(ctx)
		})
	},
}

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Run the agent queue processor until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			if err := a.processor.Start(ctx); err != nil {
				return err
			}
			a.recoverExecutions(ctx)
			<-ctx.Done()
			return nil
		})
	},
}

var runCmd = &cobra.Command{
	Use:   "run <workflow>",
	Short: "Start a workflow execution",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		trigger, err := parseTriggers(runTriggers)
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			def, err := a.catalog.Get(ctx, args[0])
			if err != nil {
				return err
			}
			mode := schema.ModeAuto
			if runStepMode {
				mode = schema.ModeStep
			}
			res, err := a.runner.Start(ctx, engine.StartRequest{
				Workflow:    def,
				Trigger:     trigger,
				TriggerType: "cli",
				VersionTag:  runVersion,
				Mode:        mode,
			})
			if err != nil {
				return err
			}
			return printJSON(res)
		})
	},
}

var advanceCmd = &cobra.Command{
	Use:   "advance <execution>",
	Short: "Run the next step of a paused step-mode execution",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			res, err := a.runner.Advance(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(res)
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <execution>",
	Short: "Show an execution",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			res, err := a.runner.Status(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(res)
		})
	},
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <decision> <choice>",
	Short: "Resolve a pending decision and resume its execution",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			res, err := a.runner.Resume(ctx, args[0], args[1], resolveNote)
			if err != nil {
				return err
			}
			return printJSON(res)
		})
	},
}

var graphCmd = &cobra.Command{
	Use:   "graph [workflow]",
	Short: "Print a workflow's step graph as a Mermaid flowchart",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 && graphExec == "" {
			return fmt.Errorf("a workflow id or --execution is required")
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			var workflowID string
			if len(args) > 0 {
				workflowID = args[0]
			}
			var runs []*store.StepExecution
			if graphExec != "" {
				exec, err := a.store.GetExecution(ctx, graphExec)
				if err != nil {
					return err
				}
				workflowID = exec.WorkflowID
				if runs, err = a.store.ListStepExecutions(ctx, graphExec); err != nil {
					return err
				}
			}
			def, err := a.catalog.Get(ctx, workflowID)
			if err != nil {
				return err
			}
			model, err := diagram.Build(def, runs)
			if err != nil {
				return err
			}
			fmt.Print(diagram.RenderMermaid(model))
			return nil
		})
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply, roll back or list database migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		cfg := loadConfig()
		logger := newLogger(cfg)
		open := openStore
		if migrateBack || migrateList {
			open = func(_ context.Context, cfg Config, logger *slog.Logger) (*store.LibSQLStore, error) {
				return connectStore(cfg, logger)
			}
		}
		st, err := open(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer st.Close()

		if migrateBack {
			undone, err := st.RollbackLast(ctx)
			if err != nil {
				return err
			}
			if undone == nil {
				fmt.Println("nothing to roll back")
				return nil
			}
			fmt.Printf("rolled back %d %s\n", undone.Version, undone.Name)
		}
		status, err := st.MigrationStatus(ctx)
		if err != nil {
			return err
		}
		for _, m := range status {
			state := "pending"
			if m.Applied {
				state = "applied"
			}
			fmt.Printf("%4d  %-8s %s\n", m.Version, state, m.Name)
		}
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(*cobra.Command, []string) {
		printVersion()
	},
}

// parseTriggers turns key=value pairs into a trigger map. Values stay
// strings; only the first '=' separates key from value.
func parseTriggers(pairs []string) (map[string]any, error) {
	out := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid trigger %q: want key=value", p)
		}
		out[k] = v
	}
	return out, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
