package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/rendis/stepwise/internal/store"
	"github.com/rendis/stepwise/pkg/schema"
)

// Summarize renders a markdown report of a finished execution.
func Summarize(exec *store.Execution, def *schema.WorkflowDefinition, finishedAt time.Time) string {
	var b strings.Builder

	name := exec.WorkflowID
	if def != nil && def.Name != "" {
		name = def.Name
	}
	b.WriteString("# Workflow Execution Summary\n\n")
	fmt.Fprintf(&b, "- **Workflow:** %s (`%s`)\n", name, exec.WorkflowID)
	fmt.Fprintf(&b, "- **Execution:** `%s`\n", exec.ID)
	if exec.VersionTag != "" {
		fmt.Fprintf(&b, "- **Version:** %s\n", exec.VersionTag)
	}
	fmt.Fprintf(&b, "- **Status:** %s\n", exec.Status)
	fmt.Fprintf(&b, "- **Outcome:** %s\n", exec.Outcome)
	if !exec.StartedAt.IsZero() {
		fmt.Fprintf(&b, "- **Duration:** %s\n", finishedAt.Sub(exec.StartedAt).Round(time.Millisecond))
	}
	if exec.Error != "" {
		fmt.Fprintf(&b, "- **Error:** %s\n", exec.Error)
	}

	if exec.State != nil && len(exec.State.StepOrder) > 0 {
		b.WriteString("\n## Steps\n\n")
		b.WriteString("| Step | Status | Duration | Error |\n")
		b.WriteString("|------|--------|----------|-------|\n")
		for _, id := range exec.State.StepOrder {
			r := exec.State.Steps[id]
			if r == nil {
				continue
			}
			fmt.Fprintf(&b, "| %s | %s | %dms | %s |\n", id, r.Status, r.Duration, cell(r.Error))
		}
	}

	if len(exec.FollowUpSuggestions) > 0 {
		b.WriteString("\n## Suggested Next Steps\n\n")
		for _, s := range exec.FollowUpSuggestions {
			fmt.Fprintf(&b, "- **%s** (`%s`): %s\n", s.Name, s.WorkflowID, s.Description)
		}
	}
	return b.String()
}

// cell keeps a value from breaking the markdown table.
func cell(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(s, "|", `\|`)
}
