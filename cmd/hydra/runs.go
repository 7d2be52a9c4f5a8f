package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hydrasec/hydra/internal/report"
	"github.com/hydrasec/hydra/internal/scan"
	"github.com/hydrasec/hydra/internal/storage"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List archived scan runs",
	Long:  `Lists runs from the local SQLite archive, newest first.`,
	RunE:  runRuns,
}

var reportCmd = &cobra.Command{
	Use:   "report <file.json|run-id>",
	Short: "Render a scan result from a JSON file or the run archive",
	Args:  cobra.ExactArgs(1),
	RunE:  runReport,
}

func init() {
	runsCmd.Flags().Int("limit", 20, "maximum number of runs to list")
	reportCmd.Flags().String("format", "markdown", "report format: json, markdown, sarif")
	reportCmd.Flags().StringP("output", "o", "", "write the report to a file instead of stdout")
}

func archivePath() string {
	if cfg.Daemon.ArchivePath != "" {
		return cfg.Daemon.ArchivePath
	}
	return filepath.Join(".hydra", "runs.db")
}

func runRuns(cmd *cobra.Command, args []string) error {
	archive, err := storage.OpenArchive(archivePath())
	if err != nil {
		return fmt.Errorf("opening run archive: %w", err)
	}
	defer archive.Close()

	limit, _ := cmd.Flags().GetInt("limit")
	runs, err := archive.ListRuns(context.Background(), limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no archived runs")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tMODE\tTARGET\tFINDINGS\tCOMPLETED")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			r.ID, r.Mode, r.Target, r.FindingCount, r.CompletedAt.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}

func runReport(cmd *cobra.Command, args []string) error {
	res, err := loadResult(args[0])
	if err != nil {
		return err
	}

	format, _ := cmd.Flags().GetString("format")
	renderer, err := report.For(format)
	if err != nil {
		return err
	}
	out, err := renderer.Render(res)
	if err != nil {
		return err
	}

	if path, _ := cmd.Flags().GetString("output"); path != "" {
		return os.WriteFile(path, out, 0644)
	}
	cmd.OutOrStdout().Write(out)
	return nil
}

// loadResult reads a scan result from a JSON file on disk, falling back to
// an archive lookup when the argument is not a file.
func loadResult(arg string) (*scan.Result, error) {
	if info, err := os.Stat(arg); err == nil && !info.IsDir() {
		data, err := os.ReadFile(arg)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", arg, err)
		}
		res := &scan.Result{}
		if err := json.Unmarshal(data, res); err != nil {
			return nil, fmt.Errorf("%s is not a scan result: %w", arg, err)
		}
		return res, nil
	}

	archive, err := storage.OpenArchive(archivePath())
	if err != nil {
		return nil, fmt.Errorf("opening run archive: %w", err)
	}
	defer archive.Close()
	return archive.GetRun(context.Background(), arg)
}
