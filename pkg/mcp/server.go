package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/stepwise/internal/engine"
	"github.com/rendis/stepwise/internal/store"
	"github.com/rendis/stepwise/internal/workflows"
	"github.com/rendis/stepwise/internal/workstream"
	"github.com/rendis/stepwise/pkg/schema"
)

// Runner drives workflow executions. Satisfied by *engine.Runner.
type Runner interface {
	Start(ctx context.Context, req engine.StartRequest) (*engine.Result, error)
	Advance(ctx context.Context, executionID string) (*engine.Result, error)
	Resume(ctx context.Context, decisionID, choice, notes string) (*engine.Result, error)
	Status(ctx context.Context, executionID string) (*engine.Result, error)
}

// Catalog resolves workflow definitions. Satisfied by *workflows.Catalog.
type Catalog interface {
	Get(ctx context.Context, id string) (*schema.WorkflowDefinition, error)
	List(ctx context.Context) ([]workflows.Summary, error)
}

// DecisionLister lists pending decisions. Satisfied by the store.
type DecisionLister interface {
	ListDecisions(ctx context.Context, filter store.DecisionFilter) ([]*store.PendingDecision, error)
}

// ExecutionReader reads recorded executions. Satisfied by the store.
type ExecutionReader interface {
	GetExecution(ctx context.Context, id string) (*store.Execution, error)
	ListStepExecutions(ctx context.Context, executionID string) ([]*store.StepExecution, error)
}

// AgentStatusChecker refreshes an agent task. Satisfied by *agentqueue.Syncer.
type AgentStatusChecker interface {
	CheckStatus(ctx context.Context, taskID string) (*schema.AgentTask, error)
}

// WorkstreamLauncher starts the next goal of a workstream. Satisfied by
// *workstream.Sequencer.
type WorkstreamLauncher interface {
	Launch(ctx context.Context, req workstream.LaunchRequest) (*workstream.LaunchResult, error)
}

// ServerDeps holds the dependencies for creating a Server. Nil
// collaborators make their tools report an error.
type ServerDeps struct {
	Runner      Runner
	Catalog     Catalog
	Decisions   DecisionLister
	Executions  ExecutionReader
	Agents      AgentStatusChecker
	Workstreams WorkstreamLauncher
	Logger      *slog.Logger
	Version     string
}

// Server exposes the workflow core as MCP tools.
type Server struct {
	runner      Runner
	catalog     Catalog
	decisions   DecisionLister
	executions  ExecutionReader
	agents      AgentStatusChecker
	workstreams WorkstreamLauncher
	sessions    *SessionRegistry
	notifier    *MCPNotifier
	logger      *slog.Logger
	mcpServer   *server.MCPServer
}

// NewServer creates a Server with every tool registered.
func NewServer(deps ServerDeps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	version := deps.Version
	if version == "" {
		version = "dev"
	}

	s := &Server{
		runner:      deps.Runner,
		catalog:     deps.Catalog,
		decisions:   deps.Decisions,
		executions:  deps.Executions,
		agents:      deps.Agents,
		workstreams: deps.Workstreams,
		sessions:    NewSessionRegistry(),
		logger:      logger,
	}

	mcpSrv := server.NewMCPServer(
		"stepwise",
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Stepwise runs step-graph workflows. Use workflow_run to start one, "+
			"workflow_advance to step a paused run, workflow_status and workflow_diagram to inspect it, decision_list and "+
			"decision_resolve to answer human checkpoints, workstream_launch to start the next goal of a "+
			"workstream and agent_status to follow delegated agent tasks."),
	)
	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	s.notifier = NewMCPNotifier(mcpSrv, s.sessions)
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *Server) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// Notifier returns the notifier that pushes agent task completions to the
// session that launched them.
func (s *Server) Notifier() *MCPNotifier {
	return s.notifier
}

func (s *Server) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: runTool(), Handler: s.handleRun},
		{Tool: advanceTool(), Handler: s.handleAdvance},
		{Tool: statusTool(), Handler: s.handleStatus},
		{Tool: listTool(), Handler: s.handleList},
		{Tool: diagramTool(), Handler: s.handleDiagram},
		{Tool: resolveTool(), Handler: s.handleResolve},
		{Tool: decisionListTool(), Handler: s.handleDecisionList},
		{Tool: agentStatusTool(), Handler: s.handleAgentStatus},
		{Tool: workstreamLaunchTool(), Handler: s.handleWorkstreamLaunch},
	}
}

// --- Tool definitions ---

func runTool() mcp.Tool {
	return mcp.NewTool("workflow_run",
		mcp.WithDescription("Start a workflow execution"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the workflow to run")),
		mcp.WithObject("trigger", mcp.Description("Trigger data available to templates as trigger.*")),
		mcp.WithString("mode",
			mcp.Enum(string(schema.ModeAuto), string(schema.ModeStep)),
			mcp.Description("auto runs until done or a decision is needed; step runs one step per call"),
		),
		mcp.WithString("version_tag", mcp.Description("Opaque version correlator")),
	)
}

func advanceTool() mcp.Tool {
	return mcp.NewTool("workflow_advance",
		mcp.WithDescription("Run the next step of a paused step-mode execution"),
		mcp.WithString("execution_id", mcp.Required(), mcp.Description("ID of the paused execution")),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("workflow_status",
		mcp.WithDescription("Get workflow execution status"),
		mcp.WithString("execution_id", mcp.Required(), mcp.Description("ID of the execution to query")),
	)
}

func listTool() mcp.Tool {
	return mcp.NewTool("workflow_list",
		mcp.WithDescription("List available workflows"),
	)
}

func diagramTool() mcp.Tool {
	return mcp.NewTool("workflow_diagram",
		mcp.WithDescription("Render a workflow's step graph as a Mermaid flowchart, optionally colored by an execution's step results"),
		mcp.WithString("workflow_id", mcp.Description("ID of the workflow to draw")),
		mcp.WithString("execution_id", mcp.Description("Draw the workflow of this execution with its step statuses")),
	)
}

func resolveTool() mcp.Tool {
	return mcp.NewTool("decision_resolve",
		mcp.WithDescription("Resolve a pending decision and resume its execution"),
		mcp.WithString("decision_id", mcp.Required(), mcp.Description("ID of the pending decision")),
		mcp.WithString("choice", mcp.Required(), mcp.Description("The chosen option")),
		mcp.WithString("notes", mcp.Description("Free-form notes recorded with the choice")),
	)
}

func decisionListTool() mcp.Tool {
	return mcp.NewTool("decision_list",
		mcp.WithDescription("List decisions waiting for a human"),
		mcp.WithString("execution_id", mcp.Description("Only decisions of this execution")),
		mcp.WithString("status",
			mcp.Enum(string(schema.DecisionPending), string(schema.DecisionResolved)),
			mcp.Description("Decision status (default: pending)"),
		),
		mcp.WithNumber("limit", mcp.Description("Maximum number of decisions to return")),
	)
}

func agentStatusTool() mcp.Tool {
	return mcp.NewTool("agent_status",
		mcp.WithDescription("Get the status of a delegated agent task, refreshing cloud tasks"),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("ID of the agent task")),
	)
}

func workstreamLaunchTool() mcp.Tool {
	return mcp.NewTool("workstream_launch",
		mcp.WithDescription("Launch the next goal of a workstream as an agent task"),
		mcp.WithString("workstream_id", mcp.Required(), mcp.Description("ID of the workstream")),
		mcp.WithNumber("task_index", mcp.Description("Index into the remaining goals (default: stored index)")),
		mcp.WithString("agent_type",
			mcp.Enum(string(schema.AgentCursorCloud), string(schema.AgentCursor), string(schema.AgentLocal)),
			mcp.Description("Agent to delegate to (default: cursor-cloud)"),
		),
		mcp.WithString("merge_strategy", mcp.Enum("merge", "squash", "ff-only"), mcp.Description("How the result is merged")),
		mcp.WithString("repository", mcp.Description("Repository the agent works on")),
		mcp.WithString("branch", mcp.Description("Base branch (default: main)")),
		mcp.WithString("execution_id", mcp.Description("Execution the task belongs to")),
		mcp.WithString("version_tag", mcp.Description("Opaque version correlator")),
	)
}
