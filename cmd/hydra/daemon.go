package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/hydrasec/hydra/internal/daemon"
	"github.com/hydrasec/hydra/internal/logging"
	"github.com/hydrasec/hydra/internal/scan"
	"github.com/hydrasec/hydra/internal/storage"
	"github.com/hydrasec/hydra/internal/webhook"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the hydra daemon",
	Long: `Serves the HTTP trigger surface on the configured address. The
daemon refuses to start without a bearer token and a path allow-list
unless insecure defaults are explicitly allowed. When a webhook secret
and repository map are configured, /webhook accepts GitHub events.`,
	RunE: runDaemon,
}

func init() {
	daemonCmd.Flags().String("host", "", "listen address (overrides daemon.host)")
	daemonCmd.Flags().Int("port", 0, "listen port (overrides daemon.port)")
	daemonCmd.Flags().Bool("no-archive", false, "disable the SQLite run archive")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	if host, _ := cmd.Flags().GetString("host"); host != "" {
		cfg.Daemon.Host = host
	}
	if port, _ := cmd.Flags().GetInt("port"); port > 0 {
		cfg.Daemon.Port = port
	}
	if cfg.Daemon.LogFile != "" {
		if err := logging.Initialize(logging.DaemonConfig(cfg.Daemon.LogFile)); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orch, cleanup, err := buildOrchestrator(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	var archive *storage.Archive
	if noArchive, _ := cmd.Flags().GetBool("no-archive"); !noArchive {
		archive, err = storage.OpenArchive(archivePath())
		if err != nil {
			// The in-memory registry stays authoritative; archive loss is a warning
			logrus.WithError(err).Warn("run archive unavailable, continuing without persistence")
			archive = nil
		} else {
			defer archive.Close()
		}
	}

	server, err := daemon.New(cfg.Daemon, orch, archive)
	if err != nil {
		return err
	}

	if cfg.Webhook.Secret != "" && len(cfg.Webhook.Repos) > 0 {
		hook := webhook.New(cfg.Webhook, orch, scan.Options{}, nil)
		server.Mount("/webhook/github", hook)
		logrus.WithField("repos", len(cfg.Webhook.Repos)).Info("webhook endpoint enabled")
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	return nil
}
