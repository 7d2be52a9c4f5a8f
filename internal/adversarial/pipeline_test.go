package adversarial

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hydrasec/hydra/internal/classify"
	"github.com/hydrasec/hydra/internal/findings"
	"github.com/hydrasec/hydra/internal/sandbox"
)

// roleReasoner scripts one response per role, keyed by the system prompt
type roleReasoner struct {
	mu        sync.Mutex
	red       string
	blue      string
	judge     string
	redErr    error
	blueErr   error
	judgeErr  error
	delay     time.Duration
	inFlight  atomic.Int32
	maxSeen   atomic.Int32
	callOrder []string
}

func (r *roleReasoner) Complete(ctx context.Context, system, user string) (string, error) {
	return r.CompleteJSON(ctx, system, user)
}

func (r *roleReasoner) CompleteJSON(ctx context.Context, system, user string) (string, error) {
	cur := r.inFlight.Add(1)
	defer r.inFlight.Add(-1)
	for {
		seen := r.maxSeen.Load()
		if cur <= seen || r.maxSeen.CompareAndSwap(seen, cur) {
			break
		}
	}
	if r.delay > 0 {
		time.Sleep(r.delay)
	}

	switch {
	case strings.Contains(system, "red-team"):
		r.record("red")
		return r.red, r.redErr
	case strings.Contains(system, "blue-team"):
		r.record("blue")
		return r.blue, r.blueErr
	default:
		r.record("judge")
		return r.judge, r.judgeErr
	}
}

func (r *roleReasoner) record(role string) {
	r.mu.Lock()
	r.callOrder = append(r.callOrder, role)
	r.mu.Unlock()
}

func testFinding(t *testing.T, confidence int) findings.Finding {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lib.rs")
	require.NoError(t, os.WriteFile(path, []byte("pub fn withdraw() {}\n"), 0644))
	return findings.Finding{
		ScannerID:  "anchor-account-validation",
		VulnClass:  classify.VulnMissingSignerCheck,
		Severity:   classify.SeverityHigh,
		Confidence: confidence,
		File:       path,
		Line:       1,
		Title:      "missing signer check",
	}.WithID()
}

func TestRun_ConfidenceGate(t *testing.T) {
	r := &roleReasoner{
		red:   `{"exploitable": false, "confidence": 10}`,
		blue:  `{"recommendation": "infeasible"}`,
		judge: `{"verdict": "false_positive", "final_severity": "LOW", "final_confidence": 5, "reasoning": "r"}`,
	}
	p := New(r, nil)

	results := p.Run(context.Background(), []findings.Finding{
		testFinding(t, 49),
		testFinding(t, 50),
	})
	assert.Len(t, results, 1, "findings below the gate are not debated")
}

func TestDebate_StrictRoleOrder(t *testing.T) {
	r := &roleReasoner{
		red:   `{"exploitable": true, "confidence": 80}`,
		blue:  `{"recommendation": "confirmed", "reachable": true}`,
		judge: `{"verdict": "likely", "final_severity": "HIGH", "final_confidence": 75, "reasoning": "r"}`,
	}
	p := New(r, nil)

	res := p.debate(context.Background(), testFinding(t, 80))
	require.NotNil(t, res.RedTeam)
	require.NotNil(t, res.BlueTeam)
	require.NotNil(t, res.Judge)
	assert.Equal(t, []string{"red", "blue", "judge"}, r.callOrder)
	assert.Equal(t, VerdictLikely, res.Judge.Verdict)
}

func TestRun_BoundedConcurrency(t *testing.T) {
	r := &roleReasoner{
		red:   `{"exploitable": false, "confidence": 10}`,
		blue:  `{"recommendation": "mitigated"}`,
		judge: `{"verdict": "disputed", "final_severity": "LOW", "final_confidence": 20, "reasoning": "r"}`,
		delay: 10 * time.Millisecond,
	}
	p := New(r, nil, WithMaxConcurrent(2))

	fs := make([]findings.Finding, 6)
	for i := range fs {
		fs[i] = testFinding(t, 80)
	}
	p.Run(context.Background(), fs)

	assert.LessOrEqual(t, r.maxSeen.Load(), int32(2))
}

func TestJudge_FallbackRules(t *testing.T) {
	f := testFinding(t, 60)
	zero := 0
	one := 1

	cases := []struct {
		name string
		red  *RedTeamResult
		blue *BlueTeamResult
		want Verdict
	}{
		{"sandbox exit 0 confirms", &RedTeamResult{SandboxExecuted: true, SandboxExitCode: &zero}, nil, VerdictConfirmed},
		{"sandbox nonzero falls through", &RedTeamResult{SandboxExecuted: true, SandboxExitCode: &one, Exploitable: true, Confidence: 85}, nil, VerdictLikely},
		{"confident red is likely", &RedTeamResult{Exploitable: true, Confidence: 70}, nil, VerdictLikely},
		{"weak red defers to mitigated blue", &RedTeamResult{Exploitable: true, Confidence: 50}, &BlueTeamResult{Recommendation: RecommendMitigated}, VerdictDisputed},
		{"infeasible blue is false positive", nil, &BlueTeamResult{Recommendation: RecommendInfeasible}, VerdictFalsePositive},
		{"no evidence defaults likely", nil, nil, VerdictLikely},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			j := InferVerdict(f, tc.red, tc.blue)
			assert.Equal(t, tc.want, j.Verdict)
			assert.Equal(t, f.Severity, j.FinalSeverity)
		})
	}
}

func TestJudge_ReasonerDownUsesInference(t *testing.T) {
	// Scenario: red exploitable at 85, no sandbox, blue recommends
	// confirmed, judge unavailable. The inference rule lands on likely.
	r := &roleReasoner{
		red:      `{"exploitable": true, "confidence": 85}`,
		blue:     `{"recommendation": "confirmed", "reachable": true}`,
		judgeErr: errors.New("reasoner down"),
	}
	p := New(r, nil)

	res := p.debate(context.Background(), testFinding(t, 60))
	require.NotNil(t, res.Judge)
	assert.Equal(t, VerdictLikely, res.Judge.Verdict)
	assert.Equal(t, 85, res.Judge.FinalConfidence)
}

func TestJudge_UnparseableVerdictUsesInference(t *testing.T) {
	r := &roleReasoner{
		red:   `{"exploitable": false, "confidence": 10}`,
		blue:  `{"recommendation": "infeasible"}`,
		judge: `{"verdict": "maybe-sorta", "final_severity": "HIGH"}`,
	}
	p := New(r, nil)

	res := p.debate(context.Background(), testFinding(t, 60))
	assert.Equal(t, VerdictFalsePositive, res.Judge.Verdict)
}

func TestRedTeam_FailureIsPartialResult(t *testing.T) {
	r := &roleReasoner{
		redErr: errors.New("red down"),
		blue:   `{"recommendation": "confirmed"}`,
		judge:  `{"verdict": "disputed", "final_severity": "MEDIUM", "final_confidence": 30, "reasoning": "r"}`,
	}
	p := New(r, nil)

	res := p.debate(context.Background(), testFinding(t, 80))
	require.NotNil(t, res.RedTeam)
	assert.False(t, res.RedTeam.Exploitable)
	assert.Contains(t, res.RedTeam.Reason, "unavailable")
	require.NotNil(t, res.Judge)
}

// scriptedRunner drives the sandbox supervisor for exploit execution
type scriptedRunner struct {
	mu    sync.Mutex
	calls [][]string
}

func (s *scriptedRunner) Run(ctx context.Context, args ...string) (string, string, int, error) {
	return s.RunInput(ctx, nil, args...)
}

func (s *scriptedRunner) RunInput(ctx context.Context, stdin []byte, args ...string) (string, string, int, error) {
	s.mu.Lock()
	s.calls = append(s.calls, args)
	s.mu.Unlock()

	if len(args) > 0 && args[0] == "run" {
		return "container123\n", "", 0, nil
	}
	if len(args) > 2 && args[0] == "exec" && args[len(args)-1] == exploitGuestPath {
		return "drained 1000 tokens", "", 0, nil
	}
	return "", "", 0, nil
}

func TestRedTeam_ExecutesExploitInSandbox(t *testing.T) {
	runner := &scriptedRunner{}
	sup := sandbox.NewSupervisor(sandbox.DefaultConfig(), runner)

	r := &roleReasoner{
		red:   `{"exploitable": true, "confidence": 90, "exploit_code": "console.log('poc')"}`,
		blue:  `{"recommendation": "confirmed"}`,
		judge: `{"verdict": "confirmed", "final_severity": "CRITICAL", "final_confidence": 95, "reasoning": "sandbox proof"}`,
	}
	p := New(r, sup)

	res := p.debate(context.Background(), testFinding(t, 80))
	require.NotNil(t, res.RedTeam)
	assert.True(t, res.RedTeam.SandboxExecuted)
	require.NotNil(t, res.RedTeam.SandboxExitCode)
	assert.Equal(t, 0, *res.RedTeam.SandboxExitCode)
	assert.Contains(t, res.RedTeam.SandboxStdout, "drained")

	// The session must be destroyed on the way out
	var destroyed bool
	for _, call := range runner.calls {
		if len(call) >= 2 && call[0] == "rm" && call[1] == "-f" {
			destroyed = true
		}
	}
	assert.True(t, destroyed, "sandbox session leaked")
}

func TestFilterVerdicts(t *testing.T) {
	f1 := testFinding(t, 80)
	f2 := testFinding(t, 70)
	f3 := testFinding(t, 60)

	results := []Result{
		{Finding: f1, Judge: &JudgeResult{Verdict: VerdictConfirmed, FinalSeverity: classify.SeverityCritical, FinalConfidence: 95}},
		{Finding: f2, Judge: &JudgeResult{Verdict: VerdictFalsePositive, FinalSeverity: classify.SeverityLow, FinalConfidence: 5}},
		{Finding: f3, Judge: nil},
	}

	kept := FilterVerdicts(results)
	require.Len(t, kept, 1)
	assert.Equal(t, f1.ID, kept[0].ID)
	assert.Equal(t, classify.SeverityCritical, kept[0].Severity)
	assert.Equal(t, 95, kept[0].Confidence)
}
