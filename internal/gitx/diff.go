package gitx

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ChangedFiles resolves the diff scope between two refs: files added,
// copied, modified, or renamed in base..head, plus untracked files in the
// working tree. headRef defaults to HEAD. Results are absolute paths of
// files that still exist under root, sorted and deduplicated.
func ChangedFiles(ctx context.Context, root, baseRef, headRef string) ([]string, error) {
	if baseRef == "" {
		return nil, fmt.Errorf("base ref is required for a diff scope")
	}
	if headRef == "" {
		headRef = "HEAD"
	}

	spec := fmt.Sprintf("%s..%s", baseRef, headRef)
	diffOut, err := run(ctx, root, "diff", "--name-only", "--diff-filter=ACMR", spec)
	if err != nil {
		return nil, fmt.Errorf("resolving diff %s: %w", spec, err)
	}

	untrackedOut, err := run(ctx, root, "ls-files", "--others", "--exclude-standard")
	if err != nil {
		return nil, fmt.Errorf("resolving untracked files: %w", err)
	}

	seen := make(map[string]bool)
	var relative []string
	for _, block := range []string{diffOut, untrackedOut} {
		for _, line := range strings.Split(block, "\n") {
			line = strings.TrimSpace(line)
			if line == "" || seen[line] {
				continue
			}
			seen[line] = true
			relative = append(relative, line)
		}
	}

	return Normalize(root, relative), nil
}

// Normalize converts paths (relative to root or already absolute) into
// absolute paths of regular files that exist under root. Paths pointing
// outside root or at missing files are dropped.
func Normalize(root string, paths []string) []string {
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		rootAbs = root
	}

	out := make([]string, 0, len(paths))
	seen := make(map[string]bool)
	for _, p := range paths {
		abs := p
		if !filepath.IsAbs(abs) {
			abs = filepath.Join(rootAbs, p)
		}
		abs = filepath.Clean(abs)

		if abs != rootAbs && !strings.HasPrefix(abs, rootAbs+string(filepath.Separator)) {
			continue
		}
		info, err := os.Stat(abs)
		if err != nil || info.IsDir() {
			continue
		}
		if seen[abs] {
			continue
		}
		seen[abs] = true
		out = append(out, abs)
	}

	sort.Strings(out)
	return out
}
