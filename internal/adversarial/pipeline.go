package adversarial

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/hydrasec/hydra/internal/findings"
	"github.com/hydrasec/hydra/internal/llm"
	"github.com/hydrasec/hydra/internal/sandbox"
)

const (
	// DefaultMinConfidence gates which findings earn a debate.
	DefaultMinConfidence = 50

	// DefaultMaxConcurrent bounds simultaneous debates.
	DefaultMaxConcurrent = 2

	// maxSourceChars caps the source excerpt shown to the roles.
	maxSourceChars = 12_000

	// maxSandboxStdout caps recorded exploit output.
	maxSandboxStdout = 4_000

	exploitGuestPath = "/workspace/exploit.ts"
)

// Pipeline drives red/blue/judge debates over aggregated findings
type Pipeline struct {
	reasoner      llm.Reasoner
	supervisor    *sandbox.Supervisor
	minConfidence int
	maxConcurrent int
	log           *slog.Logger
}

// Option mutates pipeline defaults
type Option func(*Pipeline)

// WithMinConfidence overrides the debate eligibility gate
func WithMinConfidence(min int) Option {
	return func(p *Pipeline) {
		if min > 0 {
			p.minConfidence = min
		}
	}
}

// WithMaxConcurrent overrides the debate concurrency bound
func WithMaxConcurrent(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.maxConcurrent = n
		}
	}
}

// New builds the pipeline. The supervisor may be nil; debates then proceed
// without sandbox evidence.
func New(reasoner llm.Reasoner, supervisor *sandbox.Supervisor, opts ...Option) *Pipeline {
	p := &Pipeline{
		reasoner:      reasoner,
		supervisor:    supervisor,
		minConfidence: DefaultMinConfidence,
		maxConcurrent: DefaultMaxConcurrent,
		log:           slog.Default().With("component", "adversarial"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run debates every eligible finding and returns results in input order.
// Role failures degrade to partial results; Run itself never fails.
func (p *Pipeline) Run(ctx context.Context, fs []findings.Finding) []Result {
	var eligible []findings.Finding
	for _, f := range fs {
		if f.Confidence >= p.minConfidence {
			eligible = append(eligible, f)
		}
	}
	p.log.Info("adversarial pipeline starting", "eligible", len(eligible), "skipped", len(fs)-len(eligible))

	results := make([]Result, len(eligible))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.maxConcurrent)
	for i := range eligible {
		g.Go(func() error {
			results[i] = p.debate(gctx, eligible[i])
			return nil
		})
	}
	g.Wait()
	return results
}

// debate runs the strict red -> blue -> judge sequence for one finding
func (p *Pipeline) debate(ctx context.Context, f findings.Finding) Result {
	res := Result{Finding: f}
	source := readSource(f.File)

	red := p.redTeam(ctx, f, source)
	res.RedTeam = red

	blue := p.blueTeam(ctx, f, source, red)
	res.BlueTeam = blue

	res.Judge = p.judge(ctx, f, red, blue)
	p.log.Debug("debate settled", "finding", f.ID, "verdict", res.Judge.Verdict)
	return res
}

// redTeam produces the attack narrative and, when possible, sandbox evidence
func (p *Pipeline) redTeam(ctx context.Context, f findings.Finding, source string) *RedTeamResult {
	red := &RedTeamResult{}

	response, err := p.reasoner.CompleteJSON(ctx, redSystemPrompt, redUserPrompt(f, source))
	if err != nil {
		red.Reason = fmt.Sprintf("red team reasoner unavailable: %v", err)
		return red
	}
	if err := llm.DecodeJSON(response, red); err != nil {
		// Conservative default: no claimed exploit without parseable output
		return &RedTeamResult{Reason: fmt.Sprintf("red team response unparseable: %v", err)}
	}
	red.Confidence = clamp(red.Confidence)
	red.SandboxExecuted = false
	red.SandboxExitCode = nil

	if red.ExploitCode != "" {
		p.executeExploit(ctx, red)
	}
	return red
}

// executeExploit probes the sandbox and runs the exploit code when the
// runtime and image exist. Sandbox failures leave the evidence unexecuted,
// never forged.
func (p *Pipeline) executeExploit(ctx context.Context, red *RedTeamResult) {
	if p.supervisor == nil || !p.supervisor.RuntimeAvailable(ctx) ||
		!p.supervisor.ImageBuilt(ctx, sandbox.ProfileGeneric) {
		return
	}

	session, err := p.supervisor.Create(ctx, sandbox.ProfileGeneric)
	if err != nil {
		p.log.Warn("exploit sandbox unavailable", "error", err)
		return
	}
	defer session.Close()

	if err := session.WriteFile(ctx, exploitGuestPath, []byte(red.ExploitCode)); err != nil {
		p.log.Warn("exploit write failed", "error", err)
		return
	}

	execRes, err := session.Exec(ctx,
		[]string{"deno", "run", "--allow-read", exploitGuestPath}, sandbox.ExploitTimeout)
	if err != nil {
		p.log.Warn("exploit exec failed", "error", err)
		return
	}

	exit := execRes.ExitCode
	red.SandboxExecuted = true
	red.SandboxExitCode = &exit
	red.SandboxStdout = truncate(execRes.Stdout, maxSandboxStdout)
}

// blueTeam assesses mitigations given the red-team claim
func (p *Pipeline) blueTeam(ctx context.Context, f findings.Finding, source string, red *RedTeamResult) *BlueTeamResult {
	fallback := &BlueTeamResult{
		Reachable:             true,
		ReachabilityReasoning: "blue team unavailable; assuming reachable",
		EconomicallyFeasible:  true,
		Recommendation:        RecommendConfirmed,
	}

	response, err := p.reasoner.CompleteJSON(ctx, blueSystemPrompt, blueUserPrompt(f, source, red))
	if err != nil {
		return fallback
	}

	blue := &BlueTeamResult{}
	if err := llm.DecodeJSON(response, blue); err != nil {
		return fallback
	}
	switch blue.Recommendation {
	case RecommendConfirmed, RecommendMitigated, RecommendInfeasible:
	default:
		blue.Recommendation = RecommendConfirmed
	}
	blue.OverallRiskReduction = clamp(blue.OverallRiskReduction)
	return blue
}

// judge arbitrates. An unparseable or unavailable reasoner falls back to the
// deterministic inference rule.
func (p *Pipeline) judge(ctx context.Context, f findings.Finding, red *RedTeamResult, blue *BlueTeamResult) *JudgeResult {
	response, err := p.reasoner.CompleteJSON(ctx, judgeSystemPrompt, judgeUserPrompt(f, red, blue))
	if err == nil {
		j := &JudgeResult{}
		if decodeErr := llm.DecodeJSON(response, j); decodeErr == nil &&
			j.Verdict.Valid() && j.FinalSeverity.Valid() {
			j.FinalConfidence = clamp(j.FinalConfidence)
			return j
		}
	}
	return InferVerdict(f, red, blue)
}

// InferVerdict is the deterministic judge fallback: sandbox proof beats
// claims, strong red claims beat blue doubt, and the blue team's
// recommendation settles the rest.
func InferVerdict(f findings.Finding, red *RedTeamResult, blue *BlueTeamResult) *JudgeResult {
	j := &JudgeResult{
		FinalSeverity:   f.Severity,
		EvidenceSummary: "verdict inferred without judge reasoner",
	}

	switch {
	case red != nil && red.SandboxExecuted && red.SandboxExitCode != nil && *red.SandboxExitCode == 0:
		j.Verdict = VerdictConfirmed
		j.FinalConfidence = 95
		j.Reasoning = "exploit executed successfully in sandbox"
	case red != nil && red.Exploitable && red.Confidence >= 70:
		j.Verdict = VerdictLikely
		j.FinalConfidence = max(red.Confidence, f.Confidence)
		j.Reasoning = "red team claims exploitability with high confidence"
	case blue != nil && blue.Recommendation == RecommendMitigated:
		j.Verdict = VerdictDisputed
		j.FinalConfidence = min(f.Confidence, 40)
		j.Reasoning = "blue team identifies existing mitigations"
	case blue != nil && blue.Recommendation == RecommendInfeasible:
		j.Verdict = VerdictFalsePositive
		j.FinalConfidence = 10
		j.Reasoning = "blue team assesses the attack as infeasible"
	default:
		j.Verdict = VerdictLikely
		j.FinalConfidence = f.Confidence
		j.Reasoning = "no decisive evidence either way"
	}
	return j
}

func readSource(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return truncate(string(data), maxSourceChars)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "\n[truncated]"
}

func clamp(c int) int {
	if c < 0 {
		return 0
	}
	if c > 100 {
		return 100
	}
	return c
}
