package mcp

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/stepwise/pkg/schema"
)

// notificationSender is the part of *server.MCPServer the notifier uses.
type notificationSender interface {
	SendNotificationToSpecificClient(sessionID string, method string, params map[string]any) error
}

// MCPNotifier pushes notifications to the session registered for a key.
type MCPNotifier struct {
	sender   notificationSender
	sessions *SessionRegistry
	logger   *slog.Logger
}

// NewMCPNotifier creates a notifier that pushes through the MCP server.
func NewMCPNotifier(sender notificationSender, sessions *SessionRegistry) *MCPNotifier {
	return &MCPNotifier{sender: sender, sessions: sessions, logger: slog.Default()}
}

// Notify sends payload to the session registered for key.
// Best-effort: returns nil if no session is registered.
func (n *MCPNotifier) Notify(_ context.Context, key string, payload map[string]any) error {
	sessionID, ok := n.sessions.SessionFor(key)
	if !ok {
		return nil
	}
	err := n.sender.SendNotificationToSpecificClient(sessionID, "notifications/message", payload)
	if errors.Is(err, server.ErrSessionNotFound) {
		// Session went away between lookup and send.
		n.sessions.Remove(sessionID)
		return nil
	}
	return err
}

// TaskHook returns a completion hook that tells the launching session an
// agent task finished.
func (n *MCPNotifier) TaskHook() func(ctx context.Context, task *schema.AgentTask) {
	return func(ctx context.Context, task *schema.AgentTask) {
		payload := map[string]any{
			"level":  "info",
			"logger": "stepwise.agent",
			"data": map[string]any{
				"event":        "agent_task_finished",
				"taskId":       task.ID,
				"status":       string(task.Status),
				"workstreamId": task.WorkstreamID,
				"executionId":  task.ExecutionID,
				"error":        task.Error,
			},
		}
		sent := map[string]bool{}
		for _, key := range []string{task.WorkstreamID, task.ExecutionID} {
			if key == "" {
				continue
			}
			sid, ok := n.sessions.SessionFor(key)
			if !ok || sent[sid] {
				continue
			}
			sent[sid] = true
			if err := n.Notify(ctx, key, payload); err != nil {
				n.logger.Warn("agent task notification failed", "task_id", task.ID, "error", err)
			}
		}
	}
}
