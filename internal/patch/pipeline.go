package patch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/hydrasec/hydra/internal/adversarial"
	hydraerr "github.com/hydrasec/hydra/internal/errors"
	"github.com/hydrasec/hydra/internal/llm"
	"github.com/hydrasec/hydra/internal/sandbox"
)

const (
	// DefaultMaxConcurrent bounds simultaneous patch attempts.
	DefaultMaxConcurrent = 2

	// maxSourceChars caps the source excerpt shown to the agents.
	maxSourceChars = 12_000

	exploitGuestPath = "/workspace/exploit.ts"
)

// Pipeline turns actionable debate verdicts into reviewed, retested patches
type Pipeline struct {
	reasoner      llm.Reasoner
	supervisor    *sandbox.Supervisor
	maxConcurrent int
	skipReview    bool
	log           *slog.Logger
}

// Option mutates pipeline defaults
type Option func(*Pipeline)

// WithMaxConcurrent overrides the patch concurrency bound
func WithMaxConcurrent(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.maxConcurrent = n
		}
	}
}

// WithSkipReview disables the review agent. Applied patches then settle at
// patched_needs_review with an annotation instead of patched_and_verified.
func WithSkipReview(skip bool) Option {
	return func(p *Pipeline) {
		p.skipReview = skip
	}
}

// New builds the pipeline. The supervisor may be nil; patches then skip the
// exploit retest, which counts as unavailable rather than failed.
func New(reasoner llm.Reasoner, supervisor *sandbox.Supervisor, opts ...Option) *Pipeline {
	p := &Pipeline{
		reasoner:      reasoner,
		supervisor:    supervisor,
		maxConcurrent: DefaultMaxConcurrent,
		log:           slog.Default().With("component", "patch"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run attempts a patch for every actionable verdict and returns results in
// input order. Individual failures degrade to no_patch; Run never fails.
func (p *Pipeline) Run(ctx context.Context, debates []adversarial.Result) []Result {
	results := make([]Result, len(debates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.maxConcurrent)
	for i := range debates {
		g.Go(func() error {
			results[i] = p.attempt(gctx, debates[i])
			return nil
		})
	}
	g.Wait()
	return results
}

// attempt runs the propose -> apply -> review -> retest ladder for one finding
func (p *Pipeline) attempt(ctx context.Context, debate adversarial.Result) Result {
	res := Result{Finding: debate.Finding, Status: StatusSkipped}
	if debate.Judge == nil || !debate.Judge.Verdict.Actionable() {
		return res
	}

	f := debate.Finding
	source, err := os.ReadFile(f.File)
	if err != nil {
		p.log.Warn("patch target unreadable", "finding", f.ID, "file", f.File, "error", err)
		res.Status = StatusNoPatch
		return res
	}

	proposal := p.propose(ctx, debate, string(source))
	if proposal == nil || proposal.UnifiedDiff == "" {
		res.Status = StatusNoPatch
		return res
	}
	res.Proposal = proposal

	patched, applyErr := Apply(string(source), proposal.UnifiedDiff)
	res.Applied = applyErr == nil
	if applyErr != nil {
		res.Review = &Review{
			Approved: false,
			Issues: []Issue{{
				Severity:    IssueError,
				Description: fmt.Sprintf("patch did not apply: %v", applyErr),
			}},
		}
		res.Status = StatusRejected
		p.log.Info("patch rejected", "finding", f.ID, "reason", applyErr)
		return res
	}

	var review *Review
	reviewed := false
	if p.skipReview {
		review = &Review{
			Approved: true,
			Issues: []Issue{{
				Severity:    IssueWarning,
				Description: "review skipped by configuration",
			}},
		}
	} else {
		review, reviewed = p.review(ctx, proposal, patched)
	}
	res.Review = review

	retested, exploitNeutralized := p.retest(ctx, debate, f.File, patched, review)
	switch {
	case retested && !exploitNeutralized:
		// Sandbox proof trumps the reviewer: the exploit still works.
		review.Approved = false
		review.Issues = append(review.Issues, Issue{
			Severity:    IssueError,
			Description: "original exploit still succeeds against the patched source",
		})
		res.Status = StatusRejected
	case !review.Approved:
		res.Status = StatusRejected
	case !reviewed:
		res.Status = StatusPatchedNeedsReview
	default:
		// Approved and applied; the retest either passed or was unavailable.
		res.Status = StatusPatchedVerified
	}

	p.log.Info("patch attempt settled", "finding", f.ID, "status", res.Status)
	return res
}

// propose asks the patch agent for a minimal unified diff
func (p *Pipeline) propose(ctx context.Context, debate adversarial.Result, source string) *Proposal {
	f := debate.Finding
	response, err := p.reasoner.CompleteJSON(ctx, patchSystemPrompt, patchUserPrompt(debate, truncate(source, maxSourceChars)))
	if err != nil {
		p.log.Warn("patch agent unavailable", "finding", f.ID, "error", err)
		return nil
	}

	proposal := &Proposal{}
	if err := llm.DecodeJSON(response, proposal); err != nil {
		p.log.Warn("patch proposal unparseable", "finding", f.ID, "error", err)
		return nil
	}
	proposal.FindingID = f.ID
	if proposal.File == "" {
		proposal.File = f.File
	}
	return proposal
}

// review asks the review agent to judge the applied patch. The second return
// reports whether an actual review happened; an unavailable reviewer approves
// with a warning so the patch surfaces as needs-review rather than silently
// dropping.
func (p *Pipeline) review(ctx context.Context, proposal *Proposal, patched string) (*Review, bool) {
	fallback := &Review{
		Approved: true,
		Issues: []Issue{{
			Severity:    IssueWarning,
			Description: "review agent unavailable; patch not independently reviewed",
		}},
	}

	response, err := p.reasoner.CompleteJSON(ctx, reviewSystemPrompt,
		reviewUserPrompt(proposal, truncate(patched, maxSourceChars)))
	if err != nil {
		return fallback, false
	}

	review := &Review{}
	if err := llm.DecodeJSON(response, review); err != nil {
		return fallback, false
	}
	return review, true
}

// retest re-runs the red team's exploit against the patched source in a
// fresh sandbox. Returns (retested, exploitNeutralized). A missing exploit
// or sandbox yields (false, false) and a warning annotation.
func (p *Pipeline) retest(ctx context.Context, debate adversarial.Result, file, patched string, review *Review) (bool, bool) {
	if debate.RedTeam == nil || debate.RedTeam.ExploitCode == "" {
		return false, false
	}
	if p.supervisor == nil || !p.supervisor.RuntimeAvailable(ctx) ||
		!p.supervisor.ImageBuilt(ctx, sandbox.ProfileGeneric) {
		review.Issues = append(review.Issues, Issue{
			Severity:    IssueWarning,
			Description: "sandbox unavailable; exploit retest skipped",
		})
		return false, false
	}

	session, err := p.supervisor.Create(ctx, sandbox.ProfileGeneric)
	if err != nil {
		p.log.Warn("retest sandbox unavailable", "error", hydraerr.SandboxError(err, "creating retest session"))
		return false, false
	}
	defer session.Close()

	guestSource := "/workspace/" + filepath.Base(file)
	if err := session.WriteFile(ctx, guestSource, []byte(patched)); err != nil {
		return false, false
	}
	if err := session.WriteFile(ctx, exploitGuestPath, []byte(debate.RedTeam.ExploitCode)); err != nil {
		return false, false
	}

	execRes, err := session.Exec(ctx,
		[]string{"deno", "run", "--allow-read", exploitGuestPath}, sandbox.RetestTimeout)
	if err != nil {
		p.log.Warn("retest exec failed", "error", hydraerr.SandboxError(err, "running exploit against patched source"))
		return false, false
	}

	passed := execRes.ExitCode != 0
	review.ExploitRetestPassed = &passed
	return true, passed
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "\n[truncated]"
}
