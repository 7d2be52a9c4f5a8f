// Package scan orchestrates the audit pipeline: threat model, scanner
// dispatch, aggregation, and the optional adversarial and patch stages.
package scan

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hydrasec/hydra/internal/adversarial"
	"github.com/hydrasec/hydra/internal/cache"
	"github.com/hydrasec/hydra/internal/config"
	"github.com/hydrasec/hydra/internal/dispatch"
	hydraerr "github.com/hydrasec/hydra/internal/errors"
	"github.com/hydrasec/hydra/internal/findings"
	"github.com/hydrasec/hydra/internal/gitx"
	"github.com/hydrasec/hydra/internal/llm"
	"github.com/hydrasec/hydra/internal/patch"
	"github.com/hydrasec/hydra/internal/sandbox"
	"github.com/hydrasec/hydra/internal/scanners"
	"github.com/hydrasec/hydra/internal/threatmodel"
)

// Scan modes
const (
	ModeFull = "full"
	ModeDiff = "diff"
)

// repoLocks serializes threat-model and scan-cache writes per repository
// within this process. Cross-process writers remain last-writer-wins through
// atomic renames.
var repoLocks sync.Map

func repoLock(root string) *sync.Mutex {
	mu, _ := repoLocks.LoadOrStore(root, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Options selects the optional pipeline stages. Patch implies adversarial:
// patches only flow from debated verdicts.
type Options struct {
	Adversarial bool
	Patch       bool
}

// Result is the complete record of one scan
type Result struct {
	ID                string               `json:"id"`
	Target            string               `json:"target"`
	Mode              string               `json:"mode"`
	BaseRef           string               `json:"base_ref,omitempty"`
	HeadRef           string               `json:"head_ref,omitempty"`
	ChangedFiles      []string             `json:"changed_files,omitempty"`
	ThreatModel       *threatmodel.Version `json:"threat_model,omitempty"`
	ThreatModelReused bool                 `json:"threat_model_reused"`
	AgentRuns         []dispatch.AgentRun  `json:"agent_runs"`
	Findings          []findings.Finding   `json:"findings"`
	Adversarial       []adversarial.Result `json:"adversarial,omitempty"`
	Patches           []patch.Result       `json:"patches,omitempty"`
	StartedAt         time.Time            `json:"started_at"`
	CompletedAt       time.Time            `json:"completed_at"`
	StageTimingsMS    map[string]int64     `json:"stage_timings_ms"`
}

// Orchestrator wires the pipeline stages for one target at a time. A nil
// reasoner disables LLM scanners and the adversarial and patch stages; a nil
// supervisor leaves debates without sandbox evidence.
type Orchestrator struct {
	cfg        *config.Config
	reasoner   llm.Reasoner
	supervisor *sandbox.Supervisor
	log        *slog.Logger
}

// New builds an orchestrator from loaded configuration
func New(cfg *config.Config, reasoner llm.Reasoner, supervisor *sandbox.Supervisor) *Orchestrator {
	if cfg == nil {
		cfg = config.Default()
	}
	return &Orchestrator{
		cfg:        cfg,
		reasoner:   reasoner,
		supervisor: supervisor,
		log:        slog.Default().With("component", "orchestrator"),
	}
}

// RunFullScan audits the whole repository at root
func (o *Orchestrator) RunFullScan(ctx context.Context, root string, opts Options) (*Result, error) {
	return o.run(ctx, threatmodel.Request{Root: root, Mode: ModeFull}, opts)
}

// RunDiffScan audits only the changed surface. The scope comes from
// changedFiles when given, else from git base..head. headRef defaults to
// HEAD inside gitx.
func (o *Orchestrator) RunDiffScan(ctx context.Context, root, baseRef, headRef string, changedFiles []string, opts Options) (*Result, error) {
	req := threatmodel.Request{
		Root:         root,
		Mode:         ModeDiff,
		BaseRef:      baseRef,
		HeadRef:      headRef,
		ChangedFiles: changedFiles,
	}
	return o.run(ctx, req, opts)
}

func (o *Orchestrator) run(ctx context.Context, req threatmodel.Request, opts Options) (*Result, error) {
	info, err := os.Stat(req.Root)
	if err != nil || !info.IsDir() {
		return nil, hydraerr.ScopeErrorf("scan target %q is not a directory", req.Root)
	}
	if abs, err := filepath.Abs(req.Root); err == nil {
		req.Root = abs
	}

	res := &Result{
		ID:             uuid.NewString(),
		Target:         req.Root,
		Mode:           req.Mode,
		BaseRef:        req.BaseRef,
		HeadRef:        req.HeadRef,
		AgentRuns:      []dispatch.AgentRun{},
		Findings:       []findings.Finding{},
		StartedAt:      time.Now().UTC(),
		StageTimingsMS: map[string]int64{},
	}
	o.log.Info("scan starting", "scan", res.ID, "target", req.Root, "mode", req.Mode)

	// Diff scope resolves before the threat model so the fingerprint sees
	// the final changed set.
	if req.Mode == ModeDiff {
		stage := time.Now()
		if len(req.ChangedFiles) > 0 {
			req.ChangedFiles = gitx.Normalize(req.Root, req.ChangedFiles)
		} else {
			changed, err := gitx.ChangedFiles(ctx, req.Root, req.BaseRef, req.HeadRef)
			if err != nil {
				// Scope resolution failures degrade to an empty scope; the
				// run completes with zero findings instead of aborting.
				o.log.Warn("diff scope resolution failed, scanning nothing",
					"scan", res.ID, "error", err)
				changed = nil
			}
			req.ChangedFiles = changed
		}
		res.ChangedFiles = req.ChangedFiles
		res.StageTimingsMS["diff_scope"] = time.Since(stage).Milliseconds()
	}

	stateDir := filepath.Join(req.Root, ".hydra")
	store := threatmodel.NewStore(stateDir)

	mu := repoLock(req.Root)

	stage := time.Now()
	mu.Lock()
	version, reused, err := store.LoadOrCreate(ctx, req)
	mu.Unlock()
	if err != nil {
		return nil, hydraerr.PersistenceErrorf(err, "threat model for %s", req.Root)
	}
	res.ThreatModel = version
	res.ThreatModelReused = reused
	res.StageTimingsMS["threat_model"] = time.Since(stage).Milliseconds()

	// A diff scan with nothing changed is complete after the threat model
	if req.Mode == ModeDiff && len(req.ChangedFiles) == 0 {
		o.log.Info("diff scope empty, nothing to scan", "scan", res.ID)
		res.CompletedAt = time.Now().UTC()
		return res, nil
	}

	sc := cache.Open(stateDir)
	defer func() {
		mu.Lock()
		defer mu.Unlock()
		if err := sc.Flush(); err != nil {
			o.log.Warn("scan cache flush failed", "error", err)
		}
	}()

	stage = time.Now()
	raw, runs := o.dispatchScanners(ctx, req.Root, version.Summary, sc)
	res.AgentRuns = runs
	res.StageTimingsMS["dispatch"] = time.Since(stage).Milliseconds()

	stage = time.Now()
	aggregated := findings.Aggregate(raw)
	if req.Mode == ModeDiff {
		aggregated = filterToFiles(aggregated, req.ChangedFiles)
	}
	res.Findings = aggregated
	res.StageTimingsMS["aggregate"] = time.Since(stage).Milliseconds()
	o.log.Info("scan aggregated", "scan", res.ID, "raw", len(raw), "emitted", len(aggregated))

	if (opts.Adversarial || opts.Patch) && o.reasoner != nil && len(aggregated) > 0 {
		stage = time.Now()
		pipeline := adversarial.New(o.reasoner, o.supervisor,
			adversarial.WithMinConfidence(o.cfg.Adversarial.MinConfidence),
			adversarial.WithMaxConcurrent(o.cfg.Adversarial.MaxConcurrent))
		res.Adversarial = pipeline.Run(ctx, aggregated)
		res.StageTimingsMS["adversarial"] = time.Since(stage).Milliseconds()
	}

	if opts.Patch && o.reasoner != nil && len(res.Adversarial) > 0 {
		stage = time.Now()
		patcher := patch.New(o.reasoner, o.supervisor,
			patch.WithMaxConcurrent(o.cfg.Patch.MaxConcurrent),
			patch.WithSkipReview(o.cfg.Patch.SkipReview))
		res.Patches = patcher.Run(ctx, res.Adversarial)
		res.StageTimingsMS["patch"] = time.Since(stage).Milliseconds()
	}

	res.CompletedAt = time.Now().UTC()
	o.log.Info("scan completed", "scan", res.ID,
		"findings", len(res.Findings), "duration_ms", res.CompletedAt.Sub(res.StartedAt).Milliseconds())
	return res, nil
}

// dispatchScanners composes the task set and runs it under the worker pool
func (o *Orchestrator) dispatchScanners(ctx context.Context, root string, summary threatmodel.Summary, sc *cache.ScanCache) ([]findings.Finding, []dispatch.AgentRun) {
	var tasks []dispatch.Task
	for _, s := range scanners.BuiltIn(sc) {
		tasks = append(tasks, dispatch.Task{
			AgentID: s.ID(),
			Run: func(ctx context.Context) ([]findings.Finding, error) {
				return s.Scan(ctx, root)
			},
		})
	}
	if o.reasoner != nil {
		for _, s := range scanners.NewLLMScanners(o.reasoner, summary) {
			tasks = append(tasks, dispatch.Task{
				AgentID: s.ID(),
				Timeout: dispatch.LLMTaskTimeout,
				Run: func(ctx context.Context) ([]findings.Finding, error) {
					return s.Scan(ctx, root)
				},
			})
		}
	}

	d := dispatch.New(o.cfg.Agents.MaxConcurrent, o.cfg.Agents.Timeout())
	return d.Dispatch(ctx, tasks)
}

// filterToFiles keeps findings located in the changed set
func filterToFiles(fs []findings.Finding, files []string) []findings.Finding {
	allowed := make(map[string]bool, len(files))
	for _, f := range files {
		allowed[f] = true
	}
	out := make([]findings.Finding, 0, len(fs))
	for _, f := range fs {
		if allowed[f.File] {
			out = append(out, f)
		}
	}
	return out
}
