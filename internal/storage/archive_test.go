package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hydrasec/hydra/internal/classify"
	"github.com/hydrasec/hydra/internal/findings"
	"github.com/hydrasec/hydra/internal/scan"
)

func openTestArchive(t *testing.T) *Archive {
	t.Helper()
	a, err := OpenArchive(filepath.Join(t.TempDir(), "archive", "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func archivedRun(id string, started time.Time) *scan.Result {
	return &scan.Result{
		ID:     id,
		Target: "/repo",
		Mode:   scan.ModeFull,
		Findings: []findings.Finding{{
			ScannerID:  "anchor-account-validation",
			VulnClass:  classify.VulnMissingSignerCheck,
			Severity:   classify.SeverityHigh,
			Confidence: 88,
			File:       "/repo/lib.rs",
			Line:       42,
			Title:      "missing signer check",
		}},
		StartedAt:   started,
		CompletedAt: started.Add(time.Minute),
	}
}

func TestArchive_SaveAndGetRun(t *testing.T) {
	a := openTestArchive(t)
	ctx := context.Background()

	run := archivedRun("run-1", time.Now().UTC().Truncate(time.Second))
	require.NoError(t, a.SaveRun(ctx, run))

	loaded, err := a.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, run.ID, loaded.ID)
	require.Len(t, loaded.Findings, 1)
	assert.Equal(t, 42, loaded.Findings[0].Line)
}

func TestArchive_GetMissingRun(t *testing.T) {
	a := openTestArchive(t)
	_, err := a.GetRun(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestArchive_SaveReplacesExisting(t *testing.T) {
	a := openTestArchive(t)
	ctx := context.Background()

	run := archivedRun("run-1", time.Now().UTC())
	require.NoError(t, a.SaveRun(ctx, run))
	run.Findings = nil
	require.NoError(t, a.SaveRun(ctx, run))

	loaded, err := a.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Empty(t, loaded.Findings)
}

func TestArchive_ListRunsNewestFirst(t *testing.T) {
	a := openTestArchive(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	for i := 0; i < 3; i++ {
		require.NoError(t, a.SaveRun(ctx, archivedRun(fmt.Sprintf("run-%d", i), base.Add(time.Duration(i)*time.Minute))))
	}

	runs, err := a.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-2", runs[0].ID)
	assert.Equal(t, "run-1", runs[1].ID)
	assert.Equal(t, 1, runs[0].FindingCount)
}

func TestArchive_Prune(t *testing.T) {
	a := openTestArchive(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	for i := 0; i < 5; i++ {
		require.NoError(t, a.SaveRun(ctx, archivedRun(fmt.Sprintf("run-%d", i), base.Add(time.Duration(i)*time.Minute))))
	}
	require.NoError(t, a.Prune(ctx, 2))

	runs, err := a.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-4", runs[0].ID)
}
