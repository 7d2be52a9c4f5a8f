// Package cache implements the content-addressed scan cache: per-file scan
// results keyed by scanner id, file path, and file content hash, persisted
// as a single JSON store under .hydra/scan-cache/.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/hydrasec/hydra/internal/findings"
)

const (
	// SchemaVersion guards the persisted layout. A mismatch on load yields
	// an empty store; there is no partial migration.
	SchemaVersion = 2

	// DefaultTTL is how long an entry stays valid.
	DefaultTTL = 24 * time.Hour

	// MaxEntries caps the store; beyond it the oldest entries are evicted.
	MaxEntries = 5000
)

// Entry is one cached scan result
type Entry struct {
	ScannerID   string             `json:"scanner_id"`
	FilePath    string             `json:"file_path"`
	ContentHash string             `json:"content_hash"`
	Findings    []findings.Finding `json:"findings"`
	CachedAt    time.Time          `json:"cached_at"`
	TTLMS       int64              `json:"ttl_ms"`
}

func (e Entry) expired(now time.Time) bool {
	return now.Sub(e.CachedAt) > time.Duration(e.TTLMS)*time.Millisecond
}

// Stats reports cache effectiveness for one scan
type Stats struct {
	Hits      int `json:"hits"`
	Misses    int `json:"misses"`
	Evictions int `json:"evictions"`
	Entries   int `json:"entries"`
}

type persisted struct {
	SchemaVersion int              `json:"schema_version"`
	Entries       map[string]Entry `json:"entries"`
}

// ScanCache holds entries in memory and flushes them to disk once per scan.
// Safe for concurrent use by dispatcher workers.
type ScanCache struct {
	mu      sync.Mutex
	path    string
	entries map[string]Entry
	dirty   bool
	stats   Stats
	log     *slog.Logger
	now     func() time.Time
}

// Key builds the cache key. The path hash keeps distinct files with
// identical content from cross-contaminating each other's findings.
func Key(scannerID, filePath string, content []byte) string {
	sum := sha256.Sum256(content)
	return fmt.Sprintf("%s:%s:%s", scannerID, findings.ShortHash(filePath), hex.EncodeToString(sum[:]))
}

// Open loads the cache from stateDir (the target's .hydra directory).
// Missing or unreadable stores start empty.
func Open(stateDir string) *ScanCache {
	c := &ScanCache{
		path:    filepath.Join(stateDir, "scan-cache", "cache.json"),
		entries: make(map[string]Entry),
		log:     slog.Default().With("component", "scan-cache"),
		now:     time.Now,
	}

	data, err := os.ReadFile(c.path)
	if err != nil {
		return c
	}

	var p persisted
	if err := json.Unmarshal(data, &p); err != nil {
		c.log.Warn("cache store unreadable, starting empty", "path", c.path, "error", err)
		return c
	}
	if p.SchemaVersion != SchemaVersion {
		c.log.Warn("cache schema mismatch, starting empty",
			"found", p.SchemaVersion, "want", SchemaVersion)
		return c
	}
	if p.Entries != nil {
		c.entries = p.Entries
	}
	return c
}

// Lookup returns the cached findings for (scanner, path, content), or a miss
// when absent or expired. Expired entries are removed and counted as
// evictions.
func (c *ScanCache) Lookup(scannerID, filePath string, content []byte) ([]findings.Finding, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := Key(scannerID, filePath, content)
	entry, ok := c.entries[key]
	if !ok {
		c.stats.Misses++
		return nil, false
	}
	if entry.expired(c.now()) {
		delete(c.entries, key)
		c.dirty = true
		c.stats.Evictions++
		return nil, false
	}

	c.stats.Hits++
	return entry.Findings, true
}

// Put stores findings with the default TTL
func (c *ScanCache) Put(scannerID, filePath string, content []byte, fs []findings.Finding) {
	c.PutTTL(scannerID, filePath, content, fs, DefaultTTL)
}

// PutTTL stores findings with an explicit TTL and evicts oldest-first when
// the store grows beyond MaxEntries.
func (c *ScanCache) PutTTL(scannerID, filePath string, content []byte, fs []findings.Finding, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sum := sha256.Sum256(content)
	key := Key(scannerID, filePath, content)
	c.entries[key] = Entry{
		ScannerID:   scannerID,
		FilePath:    filePath,
		ContentHash: hex.EncodeToString(sum[:]),
		Findings:    fs,
		CachedAt:    c.now(),
		TTLMS:       ttl.Milliseconds(),
	}
	c.dirty = true
	c.evictOverflow()
}

// evictOverflow removes the oldest entries until the store fits MaxEntries.
// Caller holds the lock.
func (c *ScanCache) evictOverflow() {
	if len(c.entries) <= MaxEntries {
		return
	}

	type aged struct {
		key string
		at  time.Time
	}
	all := make([]aged, 0, len(c.entries))
	for k, e := range c.entries {
		all = append(all, aged{k, e.CachedAt})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].at.Before(all[j].at) })

	for _, a := range all[:len(c.entries)-MaxEntries] {
		delete(c.entries, a.key)
		c.stats.Evictions++
	}
}

// InvalidateScanner drops every entry owned by one scanner
func (c *ScanCache) InvalidateScanner(scannerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for k, e := range c.entries {
		if e.ScannerID == scannerID {
			delete(c.entries, k)
			c.dirty = true
		}
	}
}

// InvalidateAll empties the store
func (c *ScanCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) > 0 {
		c.dirty = true
	}
	c.entries = make(map[string]Entry)
}

// Flush persists the store if anything changed since load. The write is
// atomic: temp file in the same directory, then rename.
func (c *ScanCache) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.dirty {
		return nil
	}

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}

	data, err := json.MarshalIndent(persisted{SchemaVersion: SchemaVersion, Entries: c.entries}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling cache store: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "cache-*.json")
	if err != nil {
		return fmt.Errorf("creating temp cache file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing cache store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp cache file: %w", err)
	}
	if err := os.Rename(tmpName, c.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing cache store: %w", err)
	}

	c.dirty = false
	return nil
}

// Stats returns a snapshot of the counters
func (c *ScanCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.stats
	s.Entries = len(c.entries)
	return s
}
