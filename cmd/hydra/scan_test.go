package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hydrasec/hydra/internal/scan"
)

func TestScanCommand_DeclaresModeAndReportFlags(t *testing.T) {
	for _, name := range []string{"mode", "base-ref", "head-ref", "files", "json", "sarif", "format", "output", "fail-on"} {
		assert.NotNil(t, scanCmd.Flags().Lookup(name), "scan --%s", name)
	}
	for _, name := range []string{"host", "port", "no-archive"} {
		assert.NotNil(t, daemonCmd.Flags().Lookup(name), "daemon --%s", name)
	}
}

func TestFinishScan_JSONShorthandAndSARIFPath(t *testing.T) {
	dir := t.TempDir()
	sarifPath := filepath.Join(dir, "out.sarif")
	outPath := filepath.Join(dir, "report.json")
	require.NoError(t, scanCmd.Flags().Set("json", "true"))
	require.NoError(t, scanCmd.Flags().Set("sarif", sarifPath))
	require.NoError(t, scanCmd.Flags().Set("output", outPath))
	t.Cleanup(func() {
		scanCmd.Flags().Set("json", "false")
		scanCmd.Flags().Set("sarif", "")
		scanCmd.Flags().Set("output", "")
	})

	var buf bytes.Buffer
	scanCmd.SetOut(&buf)
	res := &scan.Result{ID: "r1", Target: dir, Mode: scan.ModeFull}
	require.NoError(t, finishScan(scanCmd, res))

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"id": "r1"`, "--json renders the JSON report")

	sarif, err := os.ReadFile(sarifPath)
	require.NoError(t, err)
	assert.Contains(t, string(sarif), `"2.1.0"`)
}
