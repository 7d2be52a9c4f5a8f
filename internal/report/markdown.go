package report

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/hydrasec/hydra/internal/classify"
	"github.com/hydrasec/hydra/internal/scan"
)

// MarkdownRenderer writes a human review document
type MarkdownRenderer struct{}

func (MarkdownRenderer) Format() Format { return FormatMarkdown }

func (MarkdownRenderer) Render(res *scan.Result) ([]byte, error) {
	var b strings.Builder

	fmt.Fprintf(&b, "# Security Audit Report\n\n")
	fmt.Fprintf(&b, "- **Scan**: `%s`\n", res.ID)
	fmt.Fprintf(&b, "- **Target**: `%s`\n", res.Target)
	fmt.Fprintf(&b, "- **Mode**: %s\n", res.Mode)
	if res.ThreatModel != nil {
		fmt.Fprintf(&b, "- **Threat model**: `%s` (revision %d)\n",
			res.ThreatModel.VersionID, res.ThreatModel.Revision)
	}
	fmt.Fprintf(&b, "- **Completed**: %s\n\n", res.CompletedAt.Format("2006-01-02 15:04:05 UTC"))

	counts := severityCounts(res)
	fmt.Fprintf(&b, "## Summary\n\n")
	fmt.Fprintf(&b, "| Severity | Count |\n|---|---|\n")
	for _, sev := range []classify.Severity{
		classify.SeverityCritical, classify.SeverityHigh,
		classify.SeverityMedium, classify.SeverityLow,
	} {
		fmt.Fprintf(&b, "| %s | %d |\n", sev, counts[sev])
	}
	b.WriteString("\n")

	if len(res.Findings) == 0 {
		b.WriteString("No findings.\n")
		return []byte(b.String()), nil
	}

	verdicts := verdictByFindingID(res)
	statuses := patchStatusByFindingID(res)

	fmt.Fprintf(&b, "## Findings\n\n")
	for i, f := range res.Findings {
		fmt.Fprintf(&b, "### %d. [%s] %s\n\n", i+1, f.Severity, f.Title)
		fmt.Fprintf(&b, "- **Class**: `%s`\n", f.VulnClass)
		fmt.Fprintf(&b, "- **Location**: `%s:%d`\n", relativeFile(res.Target, f.File), f.Line)
		fmt.Fprintf(&b, "- **Confidence**: %d\n", f.Confidence)
		fmt.Fprintf(&b, "- **Scanners**: %s\n", f.ScannerID)
		if v, ok := verdicts[f.ID]; ok {
			fmt.Fprintf(&b, "- **Verdict**: %s\n", v)
		}
		if s, ok := statuses[f.ID]; ok {
			fmt.Fprintf(&b, "- **Patch**: %s\n", s)
		}
		if f.Description != "" {
			fmt.Fprintf(&b, "\n%s\n", f.Description)
		}
		if f.Evidence != "" {
			fmt.Fprintf(&b, "\n```\n%s\n```\n", f.Evidence)
		}
		b.WriteString("\n")
	}

	if len(res.AgentRuns) > 0 {
		fmt.Fprintf(&b, "## Agents\n\n")
		fmt.Fprintf(&b, "| Agent | Status | Findings | Duration |\n|---|---|---|---|\n")
		for _, run := range res.AgentRuns {
			fmt.Fprintf(&b, "| %s | %s | %d | %dms |\n",
				run.AgentID, run.Status, run.FindingCount, run.DurationMS)
		}
	}

	return []byte(b.String()), nil
}

func severityCounts(res *scan.Result) map[classify.Severity]int {
	counts := map[classify.Severity]int{}
	for _, f := range res.Findings {
		counts[f.Severity]++
	}
	return counts
}

func verdictByFindingID(res *scan.Result) map[string]string {
	out := map[string]string{}
	for _, r := range res.Adversarial {
		if r.Judge != nil {
			out[r.Finding.ID] = string(r.Judge.Verdict)
		}
	}
	return out
}

func patchStatusByFindingID(res *scan.Result) map[string]string {
	out := map[string]string{}
	for _, p := range res.Patches {
		out[p.Finding.ID] = string(p.Status)
	}
	return out
}

func relativeFile(root, file string) string {
	if rel, err := filepath.Rel(root, file); err == nil && !strings.HasPrefix(rel, "..") {
		return rel
	}
	return file
}
