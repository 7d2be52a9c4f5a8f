package patch

import (
	"github.com/hydrasec/hydra/internal/findings"
)

// Status is the terminal state of one finding's patch attempt
type Status string

const (
	// StatusPatchedVerified means the patch applied and the original
	// exploit no longer succeeds against the patched source.
	StatusPatchedVerified Status = "patched_and_verified"

	// StatusPatchedNeedsReview means the patch applied and was approved
	// but could not be re-exploited (no exploit or no sandbox).
	StatusPatchedNeedsReview Status = "patched_needs_review"

	// StatusRejected means the patch was produced but failed application,
	// review, or the exploit retest.
	StatusRejected Status = "patch_rejected"

	// StatusNoPatch means no usable patch was produced.
	StatusNoPatch Status = "no_patch"

	// StatusSkipped means the finding's verdict did not warrant a patch.
	StatusSkipped Status = "skipped"
)

// IssueSeverity grades review issues
type IssueSeverity string

const (
	IssueError   IssueSeverity = "error"
	IssueWarning IssueSeverity = "warning"
)

// Issue is one reviewer objection or annotation
type Issue struct {
	Severity    IssueSeverity `json:"severity"`
	Description string        `json:"description"`
}

// Proposal is the patch agent's candidate fix
type Proposal struct {
	FindingID       string   `json:"finding_id"`
	File            string   `json:"file"`
	UnifiedDiff     string   `json:"unified_diff"`
	Explanation     string   `json:"explanation"`
	RootCause       string   `json:"root_cause"`
	TestCode        string   `json:"test_code,omitempty"`
	BreakingChanges []string `json:"breaking_changes,omitempty"`
}

// Review is the review agent's assessment of an applied proposal
type Review struct {
	Approved              bool     `json:"approved"`
	Issues                []Issue  `json:"issues,omitempty"`
	Suggestions           []string `json:"suggestions,omitempty"`
	ExploitRetestPassed   *bool    `json:"exploit_retest_passed,omitempty"`
	RegressionCheckPassed *bool    `json:"regression_check_passed,omitempty"`
}

// Result is one finding's complete patch record
type Result struct {
	Finding  findings.Finding `json:"finding"`
	Proposal *Proposal        `json:"proposal,omitempty"`
	Review   *Review          `json:"review,omitempty"`
	Applied  bool             `json:"applied"`
	Status   Status           `json:"status"`
}
