package agentqueue

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rendis/stepwise/pkg/schema"
)

var contextInstructions = []string{
	"You are a background agent implementing the listed tasks.",
	"Work incrementally, making small, testable changes.",
	"After each change, verify it works before proceeding.",
	"Update the progress notes after completing each task.",
}

type contextArtifact struct {
	Type         string             `json:"type"`
	TaskID       string             `json:"taskId"`
	Status       schema.AgentStatus `json:"status"`
	Prompt       string             `json:"prompt,omitempty"`
	Tasks        []any              `json:"tasks"`
	Instructions []string           `json:"instructions"`
	UpdatedAt    time.Time          `json:"updatedAt"`
}

// writeContextArtifact writes <dir>/<taskId>.json for a local editor agent
// to pick up. The file is replaced atomically.
func writeContextArtifact(dir string, task *schema.AgentTask, now time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create context dir: %w", err)
	}
	tasks := task.Tasks
	if tasks == nil {
		tasks = []any{}
	}
	data, err := json.MarshalIndent(contextArtifact{
		Type:         "background-agent",
		TaskID:       task.ID,
		Status:       task.Status,
		Prompt:       task.Prompt,
		Tasks:        tasks,
		Instructions: contextInstructions,
		UpdatedAt:    now.UTC(),
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal context artifact: %w", err)
	}

	path := filepath.Join(dir, task.ID+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("write context artifact: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("replace context artifact: %w", err)
	}
	return path, nil
}
