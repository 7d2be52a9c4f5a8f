package adversarial

import (
	"encoding/json"
	"fmt"

	"github.com/hydrasec/hydra/internal/findings"
)

const redSystemPrompt = `You are a red-team security researcher. Given a vulnerability finding and
its source file, decide whether it is practically exploitable and describe the attack.
Respond with a JSON object:
{"exploitable": bool, "exploit_code": "optional standalone TypeScript proof of concept",
 "attack_steps": ["step", ...], "economic_impact": "one line", "confidence": 0-100,
 "reason": "why or why not"}.
Only include exploit_code when you can write a self-contained program that demonstrates
the flaw; it will be executed in an isolated sandbox.`

func redUserPrompt(f findings.Finding, source string) string {
	return fmt.Sprintf(`Finding %s: [%s] %s at %s:%d
%s

Evidence:
%s

Source file:
%s`, f.ID, f.Severity, f.Title, f.File, f.Line, f.Description, f.Evidence, source)
}

const blueSystemPrompt = `You are a blue-team defender reviewing a red-team exploitability claim.
Assess mitigations honestly; do not dismiss real attacks, do not concede infeasible ones.
Respond with a JSON object:
{"existing_mitigations": ["..."], "reachable": bool, "reachability_reasoning": "...",
 "env_protections": ["..."], "economically_feasible": bool,
 "overall_risk_reduction": 0-100, "recommendation": "confirmed|mitigated|infeasible"}.`

func blueUserPrompt(f findings.Finding, source string, red *RedTeamResult) string {
	redJSON, _ := json.MarshalIndent(red, "", "  ")
	return fmt.Sprintf(`Finding %s: [%s] %s at %s:%d
%s

Red team assessment:
%s

Source file:
%s`, f.ID, f.Severity, f.Title, f.File, f.Line, f.Description, redJSON, source)
}

const judgeSystemPrompt = `You are an impartial security judge. Weigh the red-team and blue-team
assessments and produce a final verdict. Sandbox execution evidence outweighs claims.
Respond with a JSON object:
{"verdict": "confirmed|likely|disputed|false_positive",
 "final_severity": "CRITICAL|HIGH|MEDIUM|LOW", "final_confidence": 0-100,
 "reasoning": "...", "evidence_summary": "..."}.`

func judgeUserPrompt(f findings.Finding, red *RedTeamResult, blue *BlueTeamResult) string {
	redJSON, _ := json.MarshalIndent(red, "", "  ")
	blueJSON, _ := json.MarshalIndent(blue, "", "  ")
	return fmt.Sprintf(`Finding %s: [%s] %s at %s:%d (reported confidence %d)

Red team:
%s

Blue team:
%s`, f.ID, f.Severity, f.Title, f.File, f.Line, f.Confidence, redJSON, blueJSON)
}
