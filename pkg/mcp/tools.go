package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/stepwise/internal/diagram"
	"github.com/rendis/stepwise/internal/engine"
	"github.com/rendis/stepwise/internal/store"
	"github.com/rendis/stepwise/internal/workstream"
	"github.com/rendis/stepwise/pkg/schema"
)

const defaultDecisionLimit = 50

// handleRun resolves a workflow from the catalog and starts it.
func (s *Server) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}
	if s.runner == nil || s.catalog == nil {
		return mcp.NewToolResultError("workflow execution is not configured"), nil
	}

	def, err := s.catalog.Get(ctx, workflowID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("workflow lookup failed: %v", err)), nil
	}

	result, err := s.runner.Start(ctx, engine.StartRequest{
		Workflow:    def,
		Trigger:     mcp.ParseStringMap(req, "trigger", nil),
		TriggerType: "mcp",
		VersionTag:  req.GetString("version_tag", ""),
		Mode:        schema.ExecutionMode(req.GetString("mode", string(schema.ModeAuto))),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("workflow start failed: %v", err)), nil
	}
	s.captureSession(ctx, result.ExecutionID)
	return marshalResult(result)
}

// handleAdvance runs one step of a paused execution.
func (s *Server) handleAdvance(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	executionID, err := req.RequireString("execution_id")
	if err != nil {
		return mcp.NewToolResultError("execution_id is required"), nil
	}
	if s.runner == nil {
		return mcp.NewToolResultError("workflow execution is not configured"), nil
	}
	result, err := s.runner.Advance(ctx, executionID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("advance failed: %v", err)), nil
	}
	return marshalResult(result)
}

// handleStatus returns the current state of an execution.
func (s *Server) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	executionID, err := req.RequireString("execution_id")
	if err != nil {
		return mcp.NewToolResultError("execution_id is required"), nil
	}
	if s.runner == nil {
		return mcp.NewToolResultError("workflow execution is not configured"), nil
	}
	result, err := s.runner.Status(ctx, executionID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("status query failed: %v", err)), nil
	}
	return marshalResult(result)
}

func (s *Server) handleList(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.catalog == nil {
		return mcp.NewToolResultError("workflow catalog is not configured"), nil
	}
	list, err := s.catalog.List(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"workflows": list, "count": len(list)})
}

// handleDiagram draws a workflow graph. With an execution id the graph is
// the execution's workflow, colored by its recorded step runs.
func (s *Server) handleDiagram(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID := req.GetString("workflow_id", "")
	executionID := req.GetString("execution_id", "")
	if workflowID == "" && executionID == "" {
		return mcp.NewToolResultError("workflow_id or execution_id is required"), nil
	}
	if s.catalog == nil {
		return mcp.NewToolResultError("workflow catalog is not configured"), nil
	}

	var runs []*store.StepExecution
	if executionID != "" {
		if s.executions == nil {
			return mcp.NewToolResultError("execution history is not configured"), nil
		}
		exec, err := s.executions.GetExecution(ctx, executionID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("execution lookup failed: %v", err)), nil
		}
		workflowID = exec.WorkflowID
		if runs, err = s.executions.ListStepExecutions(ctx, executionID); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("step history failed: %v", err)), nil
		}
	}

	def, err := s.catalog.Get(ctx, workflowID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("workflow lookup failed: %v", err)), nil
	}
	model, err := diagram.Build(def, runs)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("diagram failed: %v", err)), nil
	}
	return mcp.NewToolResultText(diagram.RenderMermaid(model)), nil
}

// handleResolve resolves a decision; the execution resumes in the same call.
func (s *Server) handleResolve(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	decisionID, err := req.RequireString("decision_id")
	if err != nil {
		return mcp.NewToolResultError("decision_id is required"), nil
	}
	choice, err := req.RequireString("choice")
	if err != nil {
		return mcp.NewToolResultError("choice is required"), nil
	}
	if s.runner == nil {
		return mcp.NewToolResultError("workflow execution is not configured"), nil
	}
	result, err := s.runner.Resume(ctx, decisionID, choice, req.GetString("notes", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("resolve failed: %v", err)), nil
	}
	return marshalResult(result)
}

func (s *Server) handleDecisionList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.decisions == nil {
		return mcp.NewToolResultError("decision store is not configured"), nil
	}
	filter := store.DecisionFilter{
		ExecutionID: req.GetString("execution_id", ""),
		Status:      schema.DecisionStatus(req.GetString("status", string(schema.DecisionPending))),
		Limit:       req.GetInt("limit", defaultDecisionLimit),
	}
	decisions, err := s.decisions.ListDecisions(ctx, filter)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("decision query failed: %v", err)), nil
	}
	if decisions == nil {
		decisions = []*store.PendingDecision{}
	}
	return marshalResult(map[string]any{"decisions": decisions, "count": len(decisions)})
}

func (s *Server) handleAgentStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID, err := req.RequireString("task_id")
	if err != nil {
		return mcp.NewToolResultError("task_id is required"), nil
	}
	if s.agents == nil {
		return mcp.NewToolResultError("agent tasks are not configured"), nil
	}
	task, err := s.agents.CheckStatus(ctx, taskID)
	if task == nil {
		return mcp.NewToolResultError(fmt.Sprintf("status check failed: %v", err)), nil
	}
	out := map[string]any{"task": task}
	if err != nil {
		// The cached record is still useful when the remote check fails.
		out["syncError"] = err.Error()
	}
	return marshalResult(out)
}

func (s *Server) handleWorkstreamLaunch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workstreamID, err := req.RequireString("workstream_id")
	if err != nil {
		return mcp.NewToolResultError("workstream_id is required"), nil
	}
	if s.workstreams == nil {
		return mcp.NewToolResultError("workstreams are not configured"), nil
	}

	lr := workstream.LaunchRequest{
		WorkstreamID:  workstreamID,
		AgentType:     schema.AgentType(req.GetString("agent_type", string(schema.AgentCursorCloud))),
		MergeStrategy: req.GetString("merge_strategy", ""),
		Repository:    req.GetString("repository", ""),
		Branch:        req.GetString("branch", ""),
		ExecutionID:   req.GetString("execution_id", ""),
		VersionTag:    req.GetString("version_tag", ""),
	}
	if idx := req.GetInt("task_index", -1); idx >= 0 {
		lr.TaskIndex = &idx
	}

	s.captureSession(ctx, workstreamID)
	result, err := s.workstreams.Launch(ctx, lr)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("workstream launch failed: %v", err)), nil
	}
	return marshalResult(result)
}

// captureSession remembers which client session to notify about key.
func (s *Server) captureSession(ctx context.Context, key string) {
	if key == "" {
		return
	}
	if session := server.ClientSessionFromContext(ctx); session != nil {
		s.sessions.Register(key, session.SessionID())
	}
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
