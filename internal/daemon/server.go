// Package daemon exposes the audit pipeline over a local HTTP surface:
// authenticated scan triggers, run inspection, health, and metrics. It is
// secure by default: without a bearer token and a path allow-list the daemon
// refuses to start.
package daemon

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/hydrasec/hydra/internal/config"
	hydraerr "github.com/hydrasec/hydra/internal/errors"
	"github.com/hydrasec/hydra/internal/scan"
	"github.com/hydrasec/hydra/internal/storage"
)

const maxBodyBytes = 1 << 20 // 1 MiB

// Stable error codes returned to clients
const (
	CodeUnauthorized       = "unauthorized"
	CodeRequestTooLarge    = "request_too_large"
	CodeInvalidJSON        = "invalid_json"
	CodeChangedFilesArray  = "changed_files_must_be_array"
	CodeMissingTargetPath  = "missing_target_path"
	CodeInvalidMode        = "invalid_mode"
	CodeHeadNeedsBase      = "head_ref_requires_base_ref"
	CodeInvalidTargetPath  = "invalid_target_path"
	CodePathNotAllowed     = "path_not_allowed"
	CodeRunNotFound        = "run_not_found"
	CodeMethodNotAllowed   = "method_not_allowed"
)

// runner is the scan capability the daemon drives
type runner interface {
	RunFullScan(ctx context.Context, root string, opts scan.Options) (*scan.Result, error)
	RunDiffScan(ctx context.Context, root, baseRef, headRef string, changedFiles []string, opts scan.Options) (*scan.Result, error)
}

// Server is the daemon HTTP surface
type Server struct {
	cfg          config.DaemonConfig
	orch         runner
	archive      *storage.Archive
	registry     *Registry
	metrics      *metrics
	log          *logrus.Entry
	allowedPaths []string

	httpServer *http.Server
	scans      sync.WaitGroup
	extra      map[string]http.Handler
}

// New validates the security posture and builds the server. archive may be
// nil; run history then lives only in memory.
func New(cfg config.DaemonConfig, orch runner, archive *storage.Archive) (*Server, error) {
	if !cfg.AllowInsecureDefaults {
		if cfg.Token == "" {
			return nil, hydraerr.ConfigError("refusing to start without HYDRA_DAEMON_TOKEN (set daemon.allow_insecure_defaults to override)")
		}
		if len(cfg.AllowedPaths) == 0 {
			return nil, hydraerr.ConfigError("refusing to start without HYDRA_ALLOWED_PATHS (set daemon.allow_insecure_defaults to override)")
		}
	}

	var allowed []string
	for _, p := range cfg.AllowedPaths {
		canon, err := canonicalDir(p)
		if err != nil {
			return nil, fmt.Errorf("allowed path %q: %w", p, err)
		}
		allowed = append(allowed, canon)
	}

	return &Server{
		cfg:          cfg,
		orch:         orch,
		archive:      archive,
		registry:     NewRegistry(cfg.MaxStoredRuns),
		metrics:      newMetrics(),
		log:          logrus.WithField("component", "daemon"),
		allowedPaths: allowed,
	}, nil
}

// Mount attaches an additional handler (the webhook endpoint) before the
// server starts. Mounted handlers authenticate themselves.
func (s *Server) Mount(pattern string, h http.Handler) {
	if s.extra == nil {
		s.extra = make(map[string]http.Handler)
	}
	s.extra[pattern] = h
}

// Handler builds the route table
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/metrics", s.authenticated(s.metrics.handler().ServeHTTP))
	mux.HandleFunc("/trigger", s.authenticated(s.handleTrigger))
	mux.HandleFunc("/runs", s.authenticated(s.handleRuns))
	mux.HandleFunc("/runs/", s.authenticated(s.handleRunByID))
	for pattern, h := range s.extra {
		mux.Handle(pattern, h)
	}
	return mux
}

// ListenAndServe blocks until the listener fails or Shutdown is called
func (s *Server) ListenAndServe() error {
	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprintf("%d", s.cfg.Port))
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.WithField("addr", addr).Info("daemon listening")
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests, then waits for in-flight scans
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}

	done := make(chan struct{})
	go func() {
		s.scans.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("daemon drained")
	case <-ctx.Done():
		s.log.Warn("shutdown deadline hit with scans still running")
		return ctx.Err()
	}
	return err
}

// authenticated wraps a handler with constant-time bearer token checks.
// With no token configured (insecure defaults opt-in) requests pass through.
func (s *Server) authenticated(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Token != "" {
			header := r.Header.Get("Authorization")
			presented, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(presented), []byte(s.cfg.Token)) != 1 {
				s.log.WithError(hydraerr.AuthError("invalid or missing bearer token")).
					WithField("path", r.URL.Path).Debug("request rejected")
				s.writeError(w, http.StatusUnauthorized, CodeUnauthorized, "invalid or missing bearer token")
				return
			}
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// TriggerRequest is the POST /trigger payload. Mode defaults to full;
// trigger is a free-form label for the caller (defaults to "api").
type TriggerRequest struct {
	TargetPath   string          `json:"target_path"`
	Mode         string          `json:"mode,omitempty"`
	Trigger      string          `json:"trigger,omitempty"`
	BaseRef      string          `json:"base_ref,omitempty"`
	HeadRef      string          `json:"head_ref,omitempty"`
	ChangedFiles json.RawMessage `json:"changed_files,omitempty"`
	Adversarial  bool            `json:"adversarial,omitempty"`
	Patch        bool            `json:"patch,omitempty"`
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, CodeMethodNotAllowed, "POST only")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req TriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.metrics.triggersTotal.WithLabelValues("rejected").Inc()
			s.writeError(w, http.StatusRequestEntityTooLarge, CodeRequestTooLarge, "request body exceeds 1 MiB")
			return
		}
		s.metrics.triggersTotal.WithLabelValues("rejected").Inc()
		s.writeError(w, http.StatusBadRequest, CodeInvalidJSON, "request body is not valid JSON")
		return
	}

	var changed []string
	if len(req.ChangedFiles) > 0 {
		if err := json.Unmarshal(req.ChangedFiles, &changed); err != nil {
			s.rejectTrigger(w, http.StatusBadRequest, CodeChangedFilesArray, "changed_files must be an array of strings")
			return
		}
	}

	if req.TargetPath == "" {
		s.rejectTrigger(w, http.StatusBadRequest, CodeMissingTargetPath, "target_path is required")
		return
	}
	if req.Mode == "" {
		req.Mode = scan.ModeFull
	}
	if req.Mode != scan.ModeFull && req.Mode != scan.ModeDiff {
		s.rejectTrigger(w, http.StatusBadRequest, CodeInvalidMode, `mode must be "full" or "diff"`)
		return
	}
	if req.HeadRef != "" && req.BaseRef == "" {
		s.rejectTrigger(w, http.StatusBadRequest, CodeHeadNeedsBase, "head_ref requires base_ref")
		return
	}

	target, err := canonicalDir(req.TargetPath)
	if err != nil {
		s.rejectTrigger(w, http.StatusBadRequest, CodeInvalidTargetPath, "target_path does not resolve to a directory")
		return
	}
	if !s.pathAllowed(target) {
		s.rejectTrigger(w, http.StatusForbidden, CodePathNotAllowed, "target_path is outside the allowed paths")
		return
	}

	trigger := req.Trigger
	if trigger == "" {
		trigger = "api"
	}
	rec := &RunRecord{
		ID:         uuid.NewString(),
		Status:     RunQueued,
		TargetPath: target,
		Mode:       req.Mode,
		Trigger:    trigger,
		CreatedAt:  time.Now().UTC(),
	}
	if req.Mode == scan.ModeDiff && req.BaseRef != "" {
		rec.DiffRefs = &DiffRefs{BaseRef: req.BaseRef, HeadRef: req.HeadRef}
	}
	s.registry.Add(rec)
	s.metrics.triggersTotal.WithLabelValues("accepted").Inc()
	s.log.WithFields(logrus.Fields{"run": rec.ID, "target": target, "mode": req.Mode, "trigger": trigger}).Info("scan triggered")

	s.scans.Add(1)
	go s.execute(rec.ID, target, req, changed)

	// The 202 echoes the accepted inputs alongside the run handle
	resp := map[string]any{
		"run_id":      rec.ID,
		"status":      string(RunQueued),
		"target_path": target,
		"mode":        req.Mode,
	}
	if req.BaseRef != "" {
		resp["base_ref"] = req.BaseRef
	}
	if req.HeadRef != "" {
		resp["head_ref"] = req.HeadRef
	}
	if changed != nil {
		resp["changed_files"] = changed
	}
	writeJSON(w, http.StatusAccepted, resp)
}

// execute runs one scan to completion detached from the request context
func (s *Server) execute(runID, target string, req TriggerRequest, changed []string) {
	defer s.scans.Done()
	s.metrics.scansInFlight.Inc()
	defer s.metrics.scansInFlight.Dec()

	s.registry.SetRunning(runID)
	opts := scan.Options{Adversarial: req.Adversarial, Patch: req.Patch}

	ctx := context.Background()
	var res *scan.Result
	var err error
	if req.Mode == scan.ModeDiff {
		res, err = s.orch.RunDiffScan(ctx, target, req.BaseRef, req.HeadRef, changed, opts)
	} else {
		res, err = s.orch.RunFullScan(ctx, target, opts)
	}

	if err != nil {
		s.registry.SetFailed(runID, err.Error())
		s.metrics.scansTotal.WithLabelValues(req.Mode, "failed").Inc()
		s.log.WithField("run", runID).WithError(err).Warn("scan failed")
		return
	}

	s.registry.SetCompleted(runID, res)
	s.metrics.scansTotal.WithLabelValues(req.Mode, "completed").Inc()
	s.metrics.findingsTotal.Add(float64(len(res.Findings)))

	// Write-behind: the registry answered already, the archive is best effort
	if s.archive != nil {
		if err := s.archive.SaveRun(ctx, res); err != nil {
			s.log.WithField("run", runID).WithError(err).Warn("run archive write failed")
		}
		if s.cfg.MaxStoredRuns > 0 {
			if err := s.archive.Prune(ctx, s.cfg.MaxStoredRuns); err != nil {
				s.log.WithError(err).Warn("run archive prune failed")
			}
		}
	}
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, CodeMethodNotAllowed, "GET only")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": s.registry.List()})
}

func (s *Server) handleRunByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, CodeMethodNotAllowed, "GET only")
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/runs/")
	rec, ok := s.registry.Get(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, CodeRunNotFound, "no run with that id")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// pathAllowed accepts targets equal to an allowed root or strictly inside one
func (s *Server) pathAllowed(target string) bool {
	if len(s.allowedPaths) == 0 {
		return s.cfg.AllowInsecureDefaults
	}
	for _, root := range s.allowedPaths {
		if target == root || strings.HasPrefix(target, root+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// canonicalDir resolves symlinks and requires an existing directory
func canonicalDir(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", resolved)
	}
	return resolved, nil
}

func (s *Server) rejectTrigger(w http.ResponseWriter, status int, code, message string) {
	s.metrics.triggersTotal.WithLabelValues("rejected").Inc()
	s.writeError(w, status, code, message)
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"code": code, "message": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
