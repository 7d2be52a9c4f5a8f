// Package gitx shells out to git for repository context and diff scoping.
// Git is consumed as an external process; every function tolerates its
// absence and the absence of a repository.
package gitx

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Context is the git state of a scan target. Zero values mean "not a git
// repository or git unavailable"; fingerprints stay stable under that
// degradation for the same filesystem state.
type Context struct {
	Commit string `json:"commit,omitempty"`
	Tree   string `json:"tree,omitempty"`
	Dirty  bool   `json:"dirty,omitempty"`
}

// run executes git with -C root and returns trimmed stdout
func run(ctx context.Context, root string, args ...string) (string, error) {
	full := append([]string{"-C", root}, args...)
	cmd := exec.CommandContext(ctx, "git", full...)
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}
	return strings.TrimSpace(string(output)), nil
}

// IsRepo reports whether root is inside a git working tree
func IsRepo(ctx context.Context, root string) bool {
	out, err := run(ctx, root, "rev-parse", "--is-inside-work-tree")
	return err == nil && out == "true"
}

// ReadContext collects commit, tree, and dirty state. Missing-safe: any git
// failure yields the corresponding zero value rather than an error.
func ReadContext(ctx context.Context, root string) Context {
	var gc Context

	if commit, err := run(ctx, root, "rev-parse", "HEAD"); err == nil {
		gc.Commit = commit
	}
	if tree, err := run(ctx, root, "rev-parse", "HEAD^{tree}"); err == nil {
		gc.Tree = tree
	}
	if status, err := run(ctx, root, "status", "--porcelain"); err == nil {
		gc.Dirty = status != ""
	}
	return gc
}

// Root returns the top-level directory of the repository containing dir
func Root(ctx context.Context, dir string) (string, error) {
	return run(ctx, dir, "rev-parse", "--show-toplevel")
}

// CurrentBranch returns the name of the checked-out branch
func CurrentBranch(ctx context.Context, root string) (string, error) {
	return run(ctx, root, "rev-parse", "--abbrev-ref", "HEAD")
}
