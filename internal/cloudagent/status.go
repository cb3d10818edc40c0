package cloudagent

import (
	"strings"

	"github.com/rendis/stepwise/pkg/schema"
)

// NormalizeStatus maps a remote status string onto the local vocabulary.
// Unknown values pass through lowercased.
func NormalizeStatus(remote string) schema.AgentStatus {
	s := strings.ToLower(strings.TrimSpace(remote))
	switch s {
	case "finished", "completed", "complete", "succeeded", "success", "done":
		return schema.AgentCompleted
	case "running", "in_progress", "in-progress", "processing":
		return schema.AgentRunning
	case "creating", "pending", "queued", "":
		return schema.AgentQueued
	case "error", "errored", "failed", "failure", "expired", "cancelled", "canceled":
		return schema.AgentFailed
	default:
		return schema.AgentStatus(s)
	}
}
