package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hydrasec/hydra/internal/classify"
	"github.com/hydrasec/hydra/internal/llm"
	"github.com/hydrasec/hydra/internal/report"
	"github.com/hydrasec/hydra/internal/sandbox"
	"github.com/hydrasec/hydra/internal/scan"
)

var scanCmd = &cobra.Command{
	Use:   "scan [path]",
	Short: "Run a full security audit of a repository",
	Long: `Scans the whole repository: builds (or reuses) the threat model,
dispatches every scanner, aggregates findings, and renders a report.
With --adversarial each finding is debated by red/blue/judge agents;
with --patch confirmed findings get reviewed candidate fixes.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runScan,
}

var diffCmd = &cobra.Command{
	Use:   "diff [path]",
	Short: "Audit only the changed files between two refs",
	Long: `Scans the diff scope base..head (or an explicit file list). With no
changes the scan completes after the threat model and reports nothing.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDiff,
}

func init() {
	for _, cmd := range []*cobra.Command{scanCmd, diffCmd} {
		cmd.Flags().String("format", "markdown", "report format: json, markdown, sarif")
		cmd.Flags().Bool("json", false, "shorthand for --format json")
		cmd.Flags().String("sarif", "", "additionally write a SARIF report to this path")
		cmd.Flags().StringP("output", "o", "", "write the report to a file instead of stdout")
		cmd.Flags().Bool("adversarial", false, "debate findings with red/blue/judge agents")
		cmd.Flags().Bool("patch", false, "generate and review patches for confirmed findings")
		cmd.Flags().String("fail-on", "", "exit nonzero when findings at or above this severity remain (CRITICAL, HIGH, MEDIUM, LOW)")
	}
	scanCmd.Flags().String("mode", scan.ModeFull, "scan mode: full or diff")
	scanCmd.Flags().String("base-ref", "", "base ref of the diff scope (mode diff)")
	scanCmd.Flags().String("head-ref", "", "head ref of the diff scope (mode diff, default HEAD)")
	scanCmd.Flags().StringSlice("files", nil, "explicit changed files, bypassing git (mode diff)")
	diffCmd.Flags().String("base", "", "base ref of the diff scope")
	diffCmd.Flags().String("head", "", "head ref of the diff scope (default HEAD)")
	diffCmd.Flags().StringSlice("files", nil, "explicit changed files, bypassing git")
}

func runScan(cmd *cobra.Command, args []string) error {
	ctx, stop, opts := scanSetup(cmd)
	defer stop()
	orch, cleanup, err := buildOrchestrator(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	mode, _ := cmd.Flags().GetString("mode")
	var res *scan.Result
	switch mode {
	case scan.ModeFull:
		res, err = orch.RunFullScan(ctx, targetArg(args), opts)
	case scan.ModeDiff:
		base, _ := cmd.Flags().GetString("base-ref")
		head, _ := cmd.Flags().GetString("head-ref")
		files, _ := cmd.Flags().GetStringSlice("files")
		if base == "" && len(files) == 0 {
			return fmt.Errorf("--mode diff requires --base-ref or --files")
		}
		res, err = orch.RunDiffScan(ctx, targetArg(args), base, head, files, opts)
	default:
		return fmt.Errorf("--mode must be %q or %q", scan.ModeFull, scan.ModeDiff)
	}
	if err != nil {
		return err
	}
	return finishScan(cmd, res)
}

func runDiff(cmd *cobra.Command, args []string) error {
	ctx, stop, opts := scanSetup(cmd)
	defer stop()
	base, _ := cmd.Flags().GetString("base")
	head, _ := cmd.Flags().GetString("head")
	files, _ := cmd.Flags().GetStringSlice("files")
	if base == "" && len(files) == 0 {
		return fmt.Errorf("diff requires --base or --files")
	}

	orch, cleanup, err := buildOrchestrator(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	res, err := orch.RunDiffScan(ctx, targetArg(args), base, head, files, opts)
	if err != nil {
		return err
	}
	return finishScan(cmd, res)
}

func scanSetup(cmd *cobra.Command) (context.Context, context.CancelFunc, scan.Options) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	adversarial, _ := cmd.Flags().GetBool("adversarial")
	patchFlag, _ := cmd.Flags().GetBool("patch")
	return ctx, stop, scan.Options{Adversarial: adversarial, Patch: patchFlag}
}

func targetArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return "."
}

// buildOrchestrator wires the reasoner and sandbox from configuration
func buildOrchestrator(ctx context.Context) (*scan.Orchestrator, func(), error) {
	cachePath := ""
	if cfg.LLM.Cache {
		cachePath = cfg.LLM.CachePath
	}
	client, err := llm.New(ctx, llm.Config{
		Provider:    cfg.LLM.Provider,
		OpenAIKey:   cfg.LLM.OpenAIKey,
		OpenAIModel: cfg.LLM.OpenAIModel,
		GeminiKey:   cfg.LLM.GeminiKey,
		GeminiModel: cfg.LLM.GeminiModel,
		RateLimit:   cfg.LLM.RateLimit,
		CachePath:   cachePath,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("initializing reasoner: %w", err)
	}

	var reasoner llm.Reasoner
	if client.Enabled() {
		reasoner = client
	}
	supervisor := sandbox.NewSupervisor(cfg.Sandbox, nil)

	orch := scan.New(cfg, reasoner, supervisor)
	return orch, func() { client.Close() }, nil
}

// finishScan renders the result and applies the --fail-on gate
func finishScan(cmd *cobra.Command, res *scan.Result) error {
	format, _ := cmd.Flags().GetString("format")
	if jsonFlag, _ := cmd.Flags().GetBool("json"); jsonFlag {
		format = "json"
	}

	if sarifPath, _ := cmd.Flags().GetString("sarif"); sarifPath != "" {
		sarifRenderer, err := report.For("sarif")
		if err != nil {
			return err
		}
		out, err := sarifRenderer.Render(res)
		if err != nil {
			return err
		}
		if err := os.WriteFile(sarifPath, out, 0644); err != nil {
			return fmt.Errorf("writing SARIF report: %w", err)
		}
	}

	renderer, err := report.For(format)
	if err != nil {
		return err
	}
	out, err := renderer.Render(res)
	if err != nil {
		return err
	}

	if path, _ := cmd.Flags().GetString("output"); path != "" {
		if err := os.WriteFile(path, out, 0644); err != nil {
			return fmt.Errorf("writing report: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "report written to %s\n", path)
	} else {
		cmd.OutOrStdout().Write(out)
	}

	if failOn, _ := cmd.Flags().GetString("fail-on"); failOn != "" {
		threshold, err := classify.ParseSeverity(failOn)
		if err != nil {
			return err
		}
		for _, f := range res.Findings {
			if f.Severity.Rank() >= threshold.Rank() {
				return fmt.Errorf("findings at or above %s severity present", threshold)
			}
		}
	}
	return nil
}
