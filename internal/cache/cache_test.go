package cache

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hydrasec/hydra/internal/classify"
	"github.com/hydrasec/hydra/internal/findings"
)

func testFindings(scanner, file string) []findings.Finding {
	return []findings.Finding{{
		ScannerID:  scanner,
		VulnClass:  classify.VulnMissingSignerCheck,
		Severity:   classify.SeverityHigh,
		Confidence: 88,
		File:       file,
		Line:       42,
		Title:      "Missing signer check",
	}}
}

func TestCache_RoundTrip(t *testing.T) {
	c := Open(t.TempDir())
	content := []byte("pub fn withdraw() {}")
	fs := testFindings("account-validation", "/repo/lib.rs")

	_, ok := c.Lookup("account-validation", "/repo/lib.rs", content)
	assert.False(t, ok)

	c.Put("account-validation", "/repo/lib.rs", content, fs)
	got, ok := c.Lookup("account-validation", "/repo/lib.rs", content)
	require.True(t, ok)
	assert.Equal(t, fs, got)

	stats := c.Stats()
	assert.Equal(t, 1, stats.Hits)
	assert.Equal(t, 1, stats.Misses)
	assert.Equal(t, 1, stats.Entries)
}

func TestCache_KeyIsolation(t *testing.T) {
	c := Open(t.TempDir())
	content := []byte("identical bytes")
	fs1 := testFindings("s", "/repo/a.rs")
	fs2 := testFindings("s", "/repo/b.rs")

	c.Put("s", "/repo/a.rs", content, fs1)
	c.Put("s", "/repo/b.rs", content, fs2)

	got1, ok := c.Lookup("s", "/repo/a.rs", content)
	require.True(t, ok)
	got2, ok2 := c.Lookup("s", "/repo/b.rs", content)
	require.True(t, ok2)

	assert.Equal(t, "/repo/a.rs", got1[0].File)
	assert.Equal(t, "/repo/b.rs", got2[0].File)
}

func TestCache_ContentChangeMisses(t *testing.T) {
	c := Open(t.TempDir())
	c.Put("s", "/repo/a.rs", []byte("v1"), testFindings("s", "/repo/a.rs"))

	_, ok := c.Lookup("s", "/repo/a.rs", []byte("v2"))
	assert.False(t, ok, "changed content must miss")
}

func TestCache_TTLExpiry(t *testing.T) {
	c := Open(t.TempDir())
	content := []byte("x")
	c.PutTTL("s", "/repo/a.rs", content, testFindings("s", "/repo/a.rs"), time.Minute)

	// Jump the clock past the TTL
	c.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	_, ok := c.Lookup("s", "/repo/a.rs", content)
	assert.False(t, ok)
	assert.Equal(t, 1, c.Stats().Evictions)
	assert.Equal(t, 0, c.Stats().Entries)
}

func TestCache_FlushAndReload(t *testing.T) {
	dir := t.TempDir()
	content := []byte("persisted")

	c := Open(dir)
	c.Put("s", "/repo/a.rs", content, testFindings("s", "/repo/a.rs"))
	require.NoError(t, c.Flush())

	reloaded := Open(dir)
	got, ok := reloaded.Lookup("s", "/repo/a.rs", content)
	require.True(t, ok)
	assert.Equal(t, "/repo/a.rs", got[0].File)
}

func TestCache_FlushOnlyWhenDirty(t *testing.T) {
	dir := t.TempDir()
	c := Open(dir)

	require.NoError(t, c.Flush())
	_, err := os.Stat(filepath.Join(dir, "scan-cache", "cache.json"))
	assert.True(t, os.IsNotExist(err), "clean cache must not write")

	c.Put("s", "/repo/a.rs", []byte("x"), nil)
	require.NoError(t, c.Flush())
	_, err = os.Stat(filepath.Join(dir, "scan-cache", "cache.json"))
	assert.NoError(t, err)
}

func TestCache_SchemaMismatchStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	storeDir := filepath.Join(dir, "scan-cache")
	require.NoError(t, os.MkdirAll(storeDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(storeDir, "cache.json"),
		[]byte(`{"schema_version":1,"entries":{"k":{}}}`), 0644))

	c := Open(dir)
	assert.Equal(t, 0, c.Stats().Entries)
}

func TestCache_InvalidateScanner(t *testing.T) {
	c := Open(t.TempDir())
	c.Put("a", "/repo/1.rs", []byte("1"), nil)
	c.Put("b", "/repo/2.rs", []byte("2"), nil)

	c.InvalidateScanner("a")

	_, ok := c.Lookup("a", "/repo/1.rs", []byte("1"))
	assert.False(t, ok)
	_, ok = c.Lookup("b", "/repo/2.rs", []byte("2"))
	assert.True(t, ok)
}

func TestCache_OverflowEvictsOldest(t *testing.T) {
	c := Open(t.TempDir())

	base := time.Now()
	i := 0
	c.now = func() time.Time {
		i++
		return base.Add(time.Duration(i) * time.Millisecond)
	}

	for n := 0; n < MaxEntries+10; n++ {
		c.PutTTL("s", filepath.Join("/repo", "f"+strconv.Itoa(n)+".rs"),
			[]byte{byte(n), byte(n >> 8), byte(n >> 16)}, nil, time.Hour)
	}

	stats := c.Stats()
	assert.Equal(t, MaxEntries, stats.Entries)
	assert.GreaterOrEqual(t, stats.Evictions, 10)
}
