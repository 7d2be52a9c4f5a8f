package threatmodel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hydrasec/hydra/internal/findings"
	"github.com/hydrasec/hydra/internal/gitx"
)

// versionsFile is the persisted layout: append-only history plus a
// fingerprint index for O(1) reuse checks.
type versionsFile struct {
	SchemaVersion   int               `json:"schema_version"`
	RepoID          string            `json:"repo_id"`
	LatestVersionID string            `json:"latest_version_id"`
	ByFingerprint   map[string]string `json:"by_fingerprint"`
	Versions        []Version         `json:"versions"`
}

// Store reads and appends snapshot versions under
// <stateDir>/threat-models/<repo_id>/versions.json.
type Store struct {
	stateDir string
	log      *slog.Logger
	now      func() time.Time
}

// repoLocks serializes snapshot writes per repo within this process.
// Cross-process writers are serialized by the atomic rename only
// (last-writer-wins).
var repoLocks sync.Map

func lockRepo(repoID string) *sync.Mutex {
	v, _ := repoLocks.LoadOrStore(repoID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// NewStore returns a store rooted at the target's .hydra directory
func NewStore(stateDir string) *Store {
	return &Store{
		stateDir: stateDir,
		log:      slog.Default().With("component", "threat-model"),
		now:      time.Now,
	}
}

// RepoID identifies a repository by its absolute root path
func RepoID(root string) string {
	abs, err := filepath.Abs(root)
	if err != nil {
		abs = root
	}
	return findings.ShortHash(abs)
}

// LoadOrCreate returns the snapshot for the request's fingerprint, reusing
// the stored version when the fingerprint is already known. The second
// return value reports whether the version came from the store.
func (s *Store) LoadOrCreate(ctx context.Context, req Request) (*Version, bool, error) {
	repoID := RepoID(req.Root)
	mu := lockRepo(repoID)
	mu.Lock()
	defer mu.Unlock()

	gc := gitx.ReadContext(ctx, req.Root)
	fp := Fingerprint(req, gc)

	path := s.versionsPath(repoID)
	vf, err := s.load(path, repoID)
	if err != nil {
		return nil, false, err
	}

	if id, ok := vf.ByFingerprint[fp]; ok {
		for i := range vf.Versions {
			if vf.Versions[i].VersionID == id {
				s.log.Debug("threat model fingerprint hit", "repo", repoID, "version", id)
				v := vf.Versions[i]
				return &v, true, nil
			}
		}
		// Index points at a missing version: fall through and regenerate
		s.log.Warn("fingerprint index dangling, regenerating", "repo", repoID, "version", id)
	}

	summary, err := BuildSummary(req)
	if err != nil {
		return nil, false, fmt.Errorf("building threat model summary: %w", err)
	}

	revision := 1
	parent := ""
	if n := len(vf.Versions); n > 0 {
		revision = vf.Versions[n-1].Revision + 1
		parent = vf.Versions[n-1].VersionID
	}

	v := Version{
		VersionID:       fp[:16],
		RepoID:          repoID,
		Revision:        revision,
		ParentVersionID: parent,
		SchemaVersion:   schemaVersion,
		Fingerprint:     fp,
		Summary:         summary,
		StoragePath:     path,
		CreatedAt:       s.now().UTC(),
	}

	vf.Versions = append(vf.Versions, v)
	vf.ByFingerprint[fp] = v.VersionID
	vf.LatestVersionID = v.VersionID

	if err := s.save(path, vf); err != nil {
		return nil, false, err
	}
	s.log.Info("threat model version created",
		"repo", repoID, "version", v.VersionID, "revision", v.Revision)
	return &v, false, nil
}

// Latest returns the most recent version for a repo, or nil when none exists
func (s *Store) Latest(root string) (*Version, error) {
	repoID := RepoID(root)
	vf, err := s.load(s.versionsPath(repoID), repoID)
	if err != nil {
		return nil, err
	}
	if vf.LatestVersionID == "" {
		return nil, nil
	}
	for i := range vf.Versions {
		if vf.Versions[i].VersionID == vf.LatestVersionID {
			v := vf.Versions[i]
			return &v, nil
		}
	}
	return nil, nil
}

func (s *Store) versionsPath(repoID string) string {
	return filepath.Join(s.stateDir, "threat-models", repoID, "versions.json")
}

func (s *Store) load(path, repoID string) (*versionsFile, error) {
	empty := &versionsFile{
		SchemaVersion: schemaVersion,
		RepoID:        repoID,
		ByFingerprint: make(map[string]string),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return empty, nil
		}
		return nil, fmt.Errorf("reading versions file: %w", err)
	}

	var vf versionsFile
	if err := json.Unmarshal(data, &vf); err != nil {
		s.log.Warn("versions file unreadable, starting fresh", "path", path, "error", err)
		return empty, nil
	}
	if vf.SchemaVersion != schemaVersion {
		s.log.Warn("versions schema mismatch, starting fresh",
			"found", vf.SchemaVersion, "want", schemaVersion)
		return empty, nil
	}
	if vf.ByFingerprint == nil {
		vf.ByFingerprint = make(map[string]string)
	}
	return &vf, nil
}

func (s *Store) save(path string, vf *versionsFile) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating threat-model directory: %w", err)
	}

	data, err := json.MarshalIndent(vf, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling versions file: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "versions-*.json")
	if err != nil {
		return fmt.Errorf("creating temp versions file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing versions file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp versions file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing versions file: %w", err)
	}
	return nil
}
