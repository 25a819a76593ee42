// Package worktree inspects and removes the isolated git worktrees that agent
// sessions create under <repo>/.claude/worktrees/.
package worktree

import (
	"context"
	"fmt"
	"os"
	"strings"

	"chatmux/pkg/command"
	"chatmux/pkg/protocol"
)

// Git shells out to git for worktree operations.
type Git struct {
	runner command.Runner
}

// NewGit returns a Git backed by runner.
func NewGit(runner command.Runner) *Git {
	return &Git{runner: runner}
}

// List returns the paths of worktrees of repo that live under the isolation
// convention directory, in the order git reports them.
func (g *Git) List(ctx context.Context, repo string) ([]string, error) {
	out, err := g.runner.Run(ctx, "git", "-C", repo, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, fmt.Errorf("worktree list %s: %w", repo, err)
	}
	var isolated []string
	for _, p := range ParsePorcelain(string(out)) {
		if IsIsolated(p) {
			isolated = append(isolated, p)
		}
	}
	return isolated, nil
}

// Remove runs `git worktree remove <path> --force` from repo.
func (g *Git) Remove(ctx context.Context, repo, path string) error {
	if _, err := g.runner.Run(ctx, "git", "-C", repo, "worktree", "remove", path, "--force"); err != nil {
		return fmt.Errorf("worktree remove %s: %w", path, err)
	}
	return nil
}

// Status returns the trimmed `git status --porcelain` output for path. An
// empty string means the worktree is clean.
func (g *Git) Status(ctx context.Context, path string) (string, error) {
	out, err := g.runner.Run(ctx, "git", "-C", path, "status", "--porcelain")
	if err != nil {
		return "", fmt.Errorf("status %s: %w", path, err)
	}
	return strings.TrimSpace(string(out)), nil
}

// ParsePorcelain extracts the worktree paths from `git worktree list
// --porcelain` output. Records are separated by blank lines and start with a
// "worktree <path>" line.
func ParsePorcelain(out string) []string {
	var paths []string
	for _, record := range strings.Split(strings.ReplaceAll(out, "\r\n", "\n"), "\n\n") {
		for _, line := range strings.Split(record, "\n") {
			if p, ok := strings.CutPrefix(line, "worktree "); ok {
				paths = append(paths, strings.TrimSpace(p))
				break
			}
		}
	}
	return paths
}

// IsIsolated reports whether path follows the agent worktree convention.
func IsIsolated(path string) bool {
	return strings.Contains(path, protocol.WorktreesDir)
}

// Exists reports whether path is present on disk.
func Exists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}
