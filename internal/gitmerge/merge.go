// Package gitmerge integrates a finished agent branch into a local working
// tree by shelling out to git.
package gitmerge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/rendis/stepwise/internal/logging"
	"github.com/rendis/stepwise/pkg/schema"
)

const defaultTimeout = 2 * time.Minute

// Strategies accepted in MergeRequest.Strategy.
const (
	StrategyMerge  = "merge"
	StrategySquash = "squash"
	StrategyFFOnly = "ff-only"
)

// Config configures a Merger.
type Config struct {
	// Dir is the working tree to merge into.
	Dir string
	// Remote, when set, is fetched before merging and pushed to afterwards.
	Remote  string
	Timeout time.Duration
	Logger  *slog.Logger
}

// Merger runs git merges in one working tree.
type Merger struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a Merger.
func New(cfg Config) *Merger {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Merger{cfg: cfg, logger: logging.OrDefault(cfg.Logger)}
}

type gitResult struct {
	stdout   string
	stderr   string
	exitCode int
}

func (m *Merger) git(ctx context.Context, args ...string) (gitResult, error) {
	execCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, "git", args...)
	cmd.Dir = m.cfg.Dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := gitResult{stdout: strings.TrimSpace(stdout.String()), stderr: strings.TrimSpace(stderr.String())}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.exitCode = exitErr.ExitCode()
			return res, nil
		}
		return res, fmt.Errorf("git %s: %w", args[0], err)
	}
	return res, nil
}

// Merge integrates req.Branch into the current branch. A conflicted merge is
// aborted and reported with Conflict set; it is not returned as an error.
func (m *Merger) Merge(ctx context.Context, req schema.MergeRequest) (*schema.MergeResult, error) {
	if req.Branch == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "merge branch is required")
	}
	logger := logging.LogWith(ctx, m.logger).With(slog.String("branch", req.Branch))

	ref := req.Branch
	if m.cfg.Remote != "" {
		res, err := m.git(ctx, "fetch", m.cfg.Remote, req.Branch)
		if err != nil {
			return nil, err
		}
		if res.exitCode != 0 {
			return &schema.MergeResult{Error: "fetch failed: " + res.stderr}, nil
		}
		ref = m.cfg.Remote + "/" + req.Branch
	}

	ancestor, err := m.git(ctx, "merge-base", "--is-ancestor", ref, "HEAD")
	if err != nil {
		return nil, err
	}
	if ancestor.exitCode == 0 {
		logger.InfoContext(ctx, "branch already merged")
		return &schema.MergeResult{AlreadyMerged: true}, nil
	}

	msg := req.Message
	if msg == "" {
		msg = "Merge " + req.Branch
	}

	var args []string
	switch req.Strategy {
	case "", StrategyMerge:
		args = []string{"merge", "--no-ff", "-m", msg, ref}
	case StrategySquash:
		args = []string{"merge", "--squash", ref}
	case StrategyFFOnly:
		args = []string{"merge", "--ff-only", ref}
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown merge strategy %q", req.Strategy)
	}

	res, err := m.git(ctx, args...)
	if err != nil {
		return nil, err
	}
	if res.exitCode != 0 {
		return m.failed(ctx, logger, res)
	}
	if req.Strategy == StrategySquash {
		commit, err := m.git(ctx, "commit", "-m", msg)
		if err != nil {
			return nil, err
		}
		if commit.exitCode != 0 {
			return &schema.MergeResult{Error: "squash commit failed: " + firstNonEmpty(commit.stderr, commit.stdout)}, nil
		}
	}

	result := &schema.MergeResult{Merged: true}
	if req.Push && m.cfg.Remote != "" {
		push, err := m.git(ctx, "push", m.cfg.Remote, "HEAD")
		if err != nil {
			return nil, err
		}
		if push.exitCode != 0 {
			result.Error = "push failed: " + push.stderr
		} else {
			result.Pushed = true
		}
	}
	logger.InfoContext(ctx, "branch merged", slog.String("strategy", req.Strategy), slog.Bool("pushed", result.Pushed))
	return result, nil
}

func (m *Merger) failed(ctx context.Context, logger *slog.Logger, res gitResult) (*schema.MergeResult, error) {
	unmerged, err := m.git(ctx, "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, err
	}
	if unmerged.stdout == "" {
		return &schema.MergeResult{Error: firstNonEmpty(res.stderr, res.stdout, "merge failed")}, nil
	}

	// A squash merge leaves no MERGE_HEAD, so merge --abort cannot undo it.
	if reset, err := m.git(ctx, "reset", "--merge"); err != nil || reset.exitCode != 0 {
		logger.WarnContext(ctx, "merge abort failed", slog.String("stderr", reset.stderr))
	}
	files := strings.Split(unmerged.stdout, "\n")
	logger.WarnContext(ctx, "merge conflict", slog.Any("files", files))
	return &schema.MergeResult{
		Conflict: true,
		Error:    "conflicts in " + strings.Join(files, ", "),
	}, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
