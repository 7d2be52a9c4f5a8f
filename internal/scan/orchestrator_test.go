package scan

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hydrasec/hydra/internal/adversarial"
	"github.com/hydrasec/hydra/internal/classify"
	"github.com/hydrasec/hydra/internal/config"
	"github.com/hydrasec/hydra/internal/dispatch"
	"github.com/hydrasec/hydra/internal/patch"
)

// vulnerableSource places one marker finding at line 42
func vulnerableSource() string {
	var b strings.Builder
	b.WriteString("use anchor_lang::prelude::*;\n")
	for i := 2; i < 42; i++ {
		fmt.Fprintf(&b, "// line %d\n", i)
	}
	b.WriteString("// HYDRA_VULN:missing_signer_check\n")
	b.WriteString("pub fn withdraw(ctx: Context<Withdraw>) -> Result<()> { Ok(()) }\n")
	return b.String()
}

func writeRepo(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		path := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
	return root
}

func TestRunFullScan_SingleMarkerFinding(t *testing.T) {
	root := writeRepo(t, map[string]string{
		"Cargo.toml":     "[dependencies]\nanchor-lang = \"0.30\"\n",
		"programs/v.rs":  vulnerableSource(),
		"programs/ok.rs": "pub fn deposit() {}\n",
	})

	o := New(config.Default(), nil, nil)
	res, err := o.RunFullScan(context.Background(), root, Options{})
	require.NoError(t, err)

	require.Len(t, res.Findings, 1)
	f := res.Findings[0]
	assert.Equal(t, classify.VulnMissingSignerCheck, f.VulnClass)
	assert.Equal(t, 42, f.Line)
	assert.Equal(t, filepath.Join(root, "programs", "v.rs"), f.File)

	require.Len(t, res.AgentRuns, 4, "four built-in scanners without a reasoner")
	for _, run := range res.AgentRuns {
		assert.Equal(t, dispatch.StatusCompleted, run.Status)
	}

	require.NotNil(t, res.ThreatModel)
	assert.False(t, res.ThreatModelReused)
	assert.Equal(t, ModeFull, res.Mode)
	assert.False(t, res.CompletedAt.Before(res.StartedAt))
	assert.Contains(t, res.StageTimingsMS, "dispatch")
}

func TestRunFullScan_ReusesThreatModelByFingerprint(t *testing.T) {
	root := writeRepo(t, map[string]string{"lib.rs": "pub fn f() {}\n"})
	o := New(config.Default(), nil, nil)

	first, err := o.RunFullScan(context.Background(), root, Options{})
	require.NoError(t, err)
	second, err := o.RunFullScan(context.Background(), root, Options{})
	require.NoError(t, err)

	assert.False(t, first.ThreatModelReused)
	assert.True(t, second.ThreatModelReused)
	assert.Equal(t, first.ThreatModel.VersionID, second.ThreatModel.VersionID)
}

func TestRunFullScan_FlushesScanCache(t *testing.T) {
	root := writeRepo(t, map[string]string{"lib.rs": vulnerableSource()})
	o := New(config.Default(), nil, nil)

	_, err := o.RunFullScan(context.Background(), root, Options{})
	require.NoError(t, err)

	_, statErr := os.Stat(filepath.Join(root, ".hydra", "scan-cache", "cache.json"))
	assert.NoError(t, statErr, "scan cache persists at scan end")
}

func TestRunDiffScan_EmptyScopeSkipsScanStages(t *testing.T) {
	root := writeRepo(t, map[string]string{"lib.rs": vulnerableSource()})
	o := New(config.Default(), nil, nil)

	// Explicit changed paths that no longer exist normalize to an empty scope
	res, err := o.RunDiffScan(context.Background(), root, "main", "HEAD",
		[]string{filepath.Join(root, "deleted.rs")}, Options{})
	require.NoError(t, err)

	assert.Empty(t, res.ChangedFiles)
	assert.Empty(t, res.Findings)
	assert.Empty(t, res.AgentRuns)
	require.NotNil(t, res.ThreatModel, "threat model is still produced")
	assert.NotContains(t, res.StageTimingsMS, "dispatch")
}

func TestRunDiffScan_GitFailureDegradesToEmptyScope(t *testing.T) {
	// Not a git repository: resolving base..head fails, which narrows the
	// scope to nothing instead of failing the run.
	root := writeRepo(t, map[string]string{"lib.rs": vulnerableSource()})
	o := New(config.Default(), nil, nil)

	res, err := o.RunDiffScan(context.Background(), root, "HEAD~1", "HEAD", nil, Options{})
	require.NoError(t, err)

	assert.Empty(t, res.ChangedFiles)
	assert.Empty(t, res.Findings)
	assert.Empty(t, res.AgentRuns)
	require.NotNil(t, res.ThreatModel)
	assert.False(t, res.CompletedAt.IsZero())
}

func TestRunDiffScan_FiltersToChangedFiles(t *testing.T) {
	root := writeRepo(t, map[string]string{
		"a.rs": vulnerableSource(),
		"b.rs": vulnerableSource(),
	})
	o := New(config.Default(), nil, nil)

	res, err := o.RunDiffScan(context.Background(), root, "", "",
		[]string{filepath.Join(root, "a.rs")}, Options{})
	require.NoError(t, err)

	require.Len(t, res.Findings, 1)
	assert.Equal(t, filepath.Join(root, "a.rs"), res.Findings[0].File)
	assert.Equal(t, ModeDiff, res.Mode)
}

func TestRun_RejectsNonDirectoryTarget(t *testing.T) {
	o := New(config.Default(), nil, nil)
	_, err := o.RunFullScan(context.Background(), "/does/not/exist", Options{})
	require.Error(t, err)
}

// stageReasoner answers every pipeline role with a scripted response
type stageReasoner struct{}

func (stageReasoner) Complete(ctx context.Context, system, user string) (string, error) {
	return stageReasoner{}.CompleteJSON(ctx, system, user)
}

func (stageReasoner) CompleteJSON(ctx context.Context, system, user string) (string, error) {
	switch {
	case strings.Contains(system, "security judge"):
		return `{"verdict": "confirmed", "final_severity": "HIGH", "final_confidence": 92, "reasoning": "r"}`, nil
	case strings.Contains(system, "blue-team defender"):
		return `{"recommendation": "confirmed", "reachable": true}`, nil
	case strings.Contains(system, "red-team"):
		return `{"exploitable": true, "confidence": 90}`, nil
	case strings.Contains(system, "patch engineer"):
		return `{"unified_diff": "", "explanation": "no safe minimal fix"}`, nil
	case strings.Contains(system, "patch reviewer"):
		return `{"approved": false}`, nil
	default:
		// LLM scanners get nothing extra
		return `{"findings": []}`, nil
	}
}

func TestRunFullScan_AdversarialAndPatchStages(t *testing.T) {
	root := writeRepo(t, map[string]string{"lib.rs": vulnerableSource()})
	o := New(config.Default(), stageReasoner{}, nil)

	res, err := o.RunFullScan(context.Background(), root, Options{Adversarial: true, Patch: true})
	require.NoError(t, err)

	require.Len(t, res.Findings, 1)
	require.Len(t, res.Adversarial, 1)
	require.NotNil(t, res.Adversarial[0].Judge)
	assert.Equal(t, adversarial.VerdictConfirmed, res.Adversarial[0].Judge.Verdict)

	require.Len(t, res.Patches, 1)
	assert.Equal(t, patch.StatusNoPatch, res.Patches[0].Status)

	assert.Contains(t, res.StageTimingsMS, "adversarial")
	assert.Contains(t, res.StageTimingsMS, "patch")
	assert.Greater(t, len(res.AgentRuns), 4, "LLM scanners join the task set")
}
