// Package adversarial runs the second-stage filter: for each eligible
// finding a red team argues exploitability (optionally proving it in a
// sandbox), a blue team argues mitigation, and a judge arbitrates with a
// typed verdict.
package adversarial

import (
	"github.com/hydrasec/hydra/internal/classify"
	"github.com/hydrasec/hydra/internal/findings"
)

// Verdict is the judge's arbitration outcome
type Verdict string

const (
	VerdictConfirmed     Verdict = "confirmed"
	VerdictLikely        Verdict = "likely"
	VerdictDisputed      Verdict = "disputed"
	VerdictFalsePositive Verdict = "false_positive"
)

// Valid reports whether v is a known verdict
func (v Verdict) Valid() bool {
	switch v {
	case VerdictConfirmed, VerdictLikely, VerdictDisputed, VerdictFalsePositive:
		return true
	}
	return false
}

// Actionable reports whether a verdict should flow into the patch pipeline
func (v Verdict) Actionable() bool {
	return v == VerdictConfirmed || v == VerdictLikely
}

// Recommendation is the blue team's position
type Recommendation string

const (
	RecommendConfirmed  Recommendation = "confirmed"
	RecommendMitigated  Recommendation = "mitigated"
	RecommendInfeasible Recommendation = "infeasible"
)

// RedTeamResult is the attacker-side assessment
type RedTeamResult struct {
	Exploitable     bool     `json:"exploitable"`
	ExploitCode     string   `json:"exploit_code,omitempty"`
	AttackSteps     []string `json:"attack_steps,omitempty"`
	EconomicImpact  string   `json:"economic_impact,omitempty"`
	Confidence      int      `json:"confidence"`
	Reason          string   `json:"reason,omitempty"`
	SandboxExecuted bool     `json:"sandbox_executed"`
	SandboxExitCode *int     `json:"sandbox_exit_code,omitempty"`
	SandboxStdout   string   `json:"sandbox_stdout,omitempty"`
}

// BlueTeamResult is the defender-side assessment
type BlueTeamResult struct {
	ExistingMitigations   []string       `json:"existing_mitigations"`
	Reachable             bool           `json:"reachable"`
	ReachabilityReasoning string         `json:"reachability_reasoning"`
	EnvProtections        []string       `json:"env_protections"`
	EconomicallyFeasible  bool           `json:"economically_feasible"`
	OverallRiskReduction  int            `json:"overall_risk_reduction"`
	Recommendation        Recommendation `json:"recommendation"`
}

// JudgeResult is the arbitration
type JudgeResult struct {
	Verdict         Verdict           `json:"verdict"`
	FinalSeverity   classify.Severity `json:"final_severity"`
	FinalConfidence int               `json:"final_confidence"`
	Reasoning       string            `json:"reasoning"`
	EvidenceSummary string            `json:"evidence_summary"`
}

// Result is one finding's complete debate record. Role failures leave the
// corresponding side nil; the pipeline never aborts a debate.
type Result struct {
	Finding  findings.Finding `json:"finding"`
	RedTeam  *RedTeamResult   `json:"red_team,omitempty"`
	BlueTeam *BlueTeamResult  `json:"blue_team,omitempty"`
	Judge    *JudgeResult     `json:"judge,omitempty"`
}

// FilterVerdicts keeps confirmed and likely findings, replacing their
// severity and confidence with the judge's values.
func FilterVerdicts(results []Result) []findings.Finding {
	var out []findings.Finding
	for _, r := range results {
		if r.Judge == nil || !r.Judge.Verdict.Actionable() {
			continue
		}
		f := r.Finding
		if r.Judge.FinalSeverity.Valid() {
			f.Severity = r.Judge.FinalSeverity
		}
		if r.Judge.FinalConfidence > 0 {
			f.Confidence = r.Judge.FinalConfidence
		}
		out = append(out, f)
	}
	return out
}
