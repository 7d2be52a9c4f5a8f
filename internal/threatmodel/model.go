// Package threatmodel builds and stores fingerprint-keyed snapshots of a
// repository's attack surface. Snapshots are append-only versions per repo;
// an unchanged fingerprint always returns the cached version.
package threatmodel

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/hydrasec/hydra/internal/gitx"
)

const (
	// Traversal caps keep snapshot generation bounded on large trees.
	maxSourceFiles = 2000
	maxScopeFiles  = 50
	maxEntryPoints = 24

	schemaVersion = 1
)

// IgnoreDirs are directory names skipped during every repository walk.
// Shared with the scanners so scope and summary agree.
var IgnoreDirs = map[string]bool{
	".git":         true,
	".idea":        true,
	".vscode":      true,
	".hydra":       true,
	"node_modules": true,
	"target":       true,
	"dist":         true,
	"build":        true,
	"coverage":     true,
}

// Summary describes what a repository exposes to an attacker. It is a pure
// function of (root, mode, diff) at generation time.
type Summary struct {
	PrimaryLanguage    string         `json:"primary_language"`
	LanguageBreakdown  map[string]int `json:"language_breakdown"`
	DetectedFrameworks []string       `json:"detected_frameworks"`
	Assets             []string       `json:"assets"`
	TrustBoundaries    []string       `json:"trust_boundaries"`
	EntryPoints        []string       `json:"entry_points"`
	AttackSurface      []string       `json:"attack_surface"`
	ScanScopeFiles     []string       `json:"scan_scope_files"`
}

// Version is one stored threat-model snapshot
type Version struct {
	VersionID       string    `json:"version_id"`
	RepoID          string    `json:"repo_id"`
	Revision        int       `json:"revision"`
	ParentVersionID string    `json:"parent_version_id,omitempty"`
	SchemaVersion   int       `json:"schema_version"`
	Fingerprint     string    `json:"fingerprint"`
	Summary         Summary   `json:"summary"`
	StoragePath     string    `json:"storage_path"`
	CreatedAt       time.Time `json:"created_at"`
}

// Request carries everything a snapshot depends on
type Request struct {
	Root         string
	Mode         string // "full" or "diff"
	BaseRef      string
	HeadRef      string
	ChangedFiles []string // absolute paths, diff mode only
}

// Fingerprint digests the request and git state. Missing git context hashes
// as empty fields, so the fingerprint stays stable for the same filesystem
// state without a repository.
func Fingerprint(req Request, gc gitx.Context) string {
	rels := make([]string, 0, len(req.ChangedFiles))
	for _, f := range req.ChangedFiles {
		if rel, err := filepath.Rel(req.Root, f); err == nil {
			rels = append(rels, rel)
		}
	}
	sort.Strings(rels)
	filesSum := sha256.Sum256([]byte(strings.Join(rels, "\n")))

	var b strings.Builder
	fmt.Fprintf(&b, "mode=%s\n", req.Mode)
	fmt.Fprintf(&b, "commit=%s\n", gc.Commit)
	fmt.Fprintf(&b, "tree=%s\n", gc.Tree)
	fmt.Fprintf(&b, "dirty=%t\n", gc.Dirty)
	fmt.Fprintf(&b, "base=%s\n", req.BaseRef)
	fmt.Fprintf(&b, "head=%s\n", req.HeadRef)
	fmt.Fprintf(&b, "files=%s\n", hex.EncodeToString(filesSum[:]))

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

var languageByExt = map[string]string{
	".rs":   "rust",
	".go":   "go",
	".ts":   "typescript",
	".tsx":  "typescript",
	".js":   "javascript",
	".jsx":  "javascript",
	".py":   "python",
	".sol":  "solidity",
	".c":    "c",
	".h":    "c",
	".cpp":  "cpp",
	".java": "java",
	".rb":   "ruby",
	".php":  "php",
}

var entryFilenames = map[string]bool{
	"lib.rs":    true,
	"main.rs":   true,
	"main.go":   true,
	"index.ts":  true,
	"index.js":  true,
	"app.py":    true,
	"server.ts": true,
}

var rustPubFn = regexp.MustCompile(`^\s*pub fn ([A-Za-z_][A-Za-z0-9_]*)`)

// BuildSummary walks the repository under the traversal caps and derives the
// snapshot summary.
func BuildSummary(req Request) (Summary, error) {
	s := Summary{
		LanguageBreakdown:  make(map[string]int),
		DetectedFrameworks: []string{},
		Assets:             []string{},
		TrustBoundaries:    []string{},
		EntryPoints:        []string{},
		AttackSurface:      []string{},
		ScanScopeFiles:     []string{},
	}

	var sourceFiles []string
	var rustFiles []string
	markers := map[string]bool{}

	err := filepath.WalkDir(req.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped, not fatal
		}
		if d.IsDir() {
			if IgnoreDirs[d.Name()] && path != req.Root {
				return filepath.SkipDir
			}
			return nil
		}

		switch d.Name() {
		case "Cargo.toml":
			markers["cargo"] = true
			if containsText(path, "anchor-lang") {
				markers["anchor"] = true
			}
		case "package.json":
			markers["node"] = true
			if containsText(path, "\"express\"") {
				markers["express"] = true
			}
		case "go.mod":
			markers["go"] = true
		case "requirements.txt", "pyproject.toml":
			markers["python"] = true
		case ".env":
			markers["dotenv"] = true
		}

		ext := strings.ToLower(filepath.Ext(d.Name()))
		if _, ok := languageByExt[ext]; !ok {
			return nil
		}

		s.LanguageBreakdown[ext]++
		if len(sourceFiles) < maxSourceFiles {
			sourceFiles = append(sourceFiles, path)
			if ext == ".rs" {
				rustFiles = append(rustFiles, path)
			}
		}
		if len(sourceFiles) >= maxSourceFiles {
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return s, fmt.Errorf("walking %s: %w", req.Root, err)
	}

	s.PrimaryLanguage = primaryLanguage(s.LanguageBreakdown)
	s.DetectedFrameworks = detectFrameworks(markers)
	s.Assets = deriveAssets(markers)
	s.TrustBoundaries = deriveTrustBoundaries(markers)
	s.EntryPoints = collectEntryPoints(req.Root, sourceFiles, rustFiles)
	s.AttackSurface = deriveAttackSurface(req.Root, rustFiles, s.EntryPoints)
	s.ScanScopeFiles = scopeFiles(req, sourceFiles)

	return s, nil
}

func primaryLanguage(breakdown map[string]int) string {
	best, bestCount := "", 0
	exts := make([]string, 0, len(breakdown))
	for ext := range breakdown {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	for _, ext := range exts {
		if breakdown[ext] > bestCount {
			best, bestCount = languageByExt[ext], breakdown[ext]
		}
	}
	return best
}

func detectFrameworks(markers map[string]bool) []string {
	var out []string
	if markers["anchor"] {
		out = append(out, "anchor")
	}
	if markers["cargo"] {
		out = append(out, "rust-cargo")
	}
	if markers["node"] {
		out = append(out, "node")
	}
	if markers["express"] {
		out = append(out, "express")
	}
	if markers["go"] {
		out = append(out, "go-module")
	}
	if markers["python"] {
		out = append(out, "python")
	}
	sort.Strings(out)
	return out
}

func deriveAssets(markers map[string]bool) []string {
	out := []string{"source integrity"}
	if markers["anchor"] {
		out = append(out, "program state accounts", "token vaults")
	}
	if markers["dotenv"] {
		out = append(out, "environment secrets")
	}
	sort.Strings(out)
	return out
}

func deriveTrustBoundaries(markers map[string]bool) []string {
	var out []string
	if markers["anchor"] {
		out = append(out, "instruction ingress", "cross-program invocation")
	}
	if markers["express"] || markers["node"] {
		out = append(out, "http api")
	}
	out = append(out, "process arguments")
	sort.Strings(out)
	return out
}

func collectEntryPoints(root string, sourceFiles, rustFiles []string) []string {
	var out []string
	for _, f := range sourceFiles {
		if entryFilenames[filepath.Base(f)] {
			if rel, err := filepath.Rel(root, f); err == nil {
				out = append(out, rel)
			}
		}
		if len(out) >= maxEntryPoints {
			return out
		}
	}

	// Public Rust functions round out the list up to the cap
	for _, f := range rustFiles {
		for _, name := range rustPublicFns(f) {
			out = append(out, name)
			if len(out) >= maxEntryPoints {
				return out
			}
		}
	}
	return out
}

func rustPublicFns(path string) []string {
	file, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer file.Close()

	var fns []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if m := rustPubFn.FindStringSubmatch(scanner.Text()); m != nil {
			fns = append(fns, m[1])
		}
	}
	return fns
}

func deriveAttackSurface(root string, rustFiles, entryPoints []string) []string {
	var out []string
	for _, f := range rustFiles {
		rel, err := filepath.Rel(root, f)
		if err != nil {
			continue
		}
		for _, name := range rustPublicFns(f) {
			out = append(out, fmt.Sprintf("%s (%s)", name, rel))
			if len(out) >= maxEntryPoints {
				return out
			}
		}
	}
	if len(out) == 0 {
		// Fall back to the entry-point list for non-Rust repos
		out = append(out, entryPoints...)
	}
	return out
}

func scopeFiles(req Request, sourceFiles []string) []string {
	var rels []string
	if req.Mode == "diff" {
		for _, f := range req.ChangedFiles {
			if rel, err := filepath.Rel(req.Root, f); err == nil {
				rels = append(rels, rel)
			}
		}
	} else {
		for _, f := range sourceFiles {
			if rel, err := filepath.Rel(req.Root, f); err == nil {
				rels = append(rels, rel)
			}
		}
	}
	sort.Strings(rels)
	if len(rels) > maxScopeFiles {
		rels = rels[:maxScopeFiles]
	}
	return rels
}

func containsText(path, needle string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	return strings.Contains(string(data), needle)
}
