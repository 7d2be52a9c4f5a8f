package patch

import (
	"encoding/json"
	"fmt"

	"github.com/hydrasec/hydra/internal/adversarial"
)

const patchSystemPrompt = `You are a security patch engineer for Solana/Anchor programs. Produce the
smallest fix that removes the vulnerability without changing unrelated behavior.
Respond with a JSON object:
{"file": "path", "unified_diff": "a unified diff against the source shown",
 "explanation": "what the fix does", "root_cause": "why the flaw exists",
 "test_code": "optional regression test", "breaking_changes": ["..."]}.
The diff must use exact lines from the source as context; it is applied
mechanically and rejected on any mismatch.`

func patchUserPrompt(debate adversarial.Result, source string) string {
	f := debate.Finding
	judgeJSON, _ := json.MarshalIndent(debate.Judge, "", "  ")
	return fmt.Sprintf(`Finding %s: [%s] %s at %s:%d
%s

Verdict:
%s

Source file (%s):
%s`, f.ID, f.Severity, f.Title, f.File, f.Line, f.Description, judgeJSON, f.File, source)
}

const reviewSystemPrompt = `You are a patch reviewer. Check that the applied patch removes the reported
vulnerability, introduces no new flaws, and preserves intended behavior.
Respond with a JSON object:
{"approved": bool,
 "issues": [{"severity": "error|warning", "description": "..."}],
 "suggestions": ["..."]}.
Reject with an error-severity issue when the fix is incomplete or harmful.`

func reviewUserPrompt(proposal *Proposal, patched string) string {
	return fmt.Sprintf(`Proposed fix for %s:
%s

Root cause: %s

Unified diff:
%s

Patched source:
%s`, proposal.File, proposal.Explanation, proposal.RootCause, proposal.UnifiedDiff, patched)
}
