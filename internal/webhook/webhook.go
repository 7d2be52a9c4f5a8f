// Package webhook turns GitHub events into diff scans. Payloads are
// HMAC-verified, mapped onto locally configured checkouts, acknowledged with
// 202, and scanned in the background.
package webhook

import (
	"context"
	"net/http"
	"sync"

	"github.com/google/go-github/v57/github"
	"github.com/sirupsen/logrus"

	"github.com/hydrasec/hydra/internal/config"
	"github.com/hydrasec/hydra/internal/scan"
)

// zeroSHA marks branch creation or deletion in push events
const zeroSHA = "0000000000000000000000000000000000000000"

// runner is the scan capability the webhook drives
type runner interface {
	RunDiffScan(ctx context.Context, root, baseRef, headRef string, changedFiles []string, opts scan.Options) (*scan.Result, error)
}

// ResultSink receives completed webhook scans
type ResultSink func(res *scan.Result)

// Handler is the GitHub webhook endpoint
type Handler struct {
	secret []byte
	repos  map[string]string // full_name -> local checkout
	orch   runner
	opts   scan.Options
	sink   ResultSink
	log    *logrus.Entry
	scans  sync.WaitGroup
}

// New builds the handler. The sink may be nil; results are then only logged.
func New(cfg config.WebhookConfig, orch runner, opts scan.Options, sink ResultSink) *Handler {
	return &Handler{
		secret: []byte(cfg.Secret),
		repos:  cfg.Repos,
		orch:   orch,
		opts:   opts,
		sink:   sink,
		log:    logrus.WithField("component", "webhook"),
	}
}

// Wait blocks until all in-flight webhook scans settle
func (h *Handler) Wait() {
	h.scans.Wait()
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}

	payload, err := github.ValidatePayload(r, h.secret)
	if err != nil {
		h.log.WithError(err).Warn("webhook signature rejected")
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	event, err := github.ParseWebHook(github.WebHookType(r), payload)
	if err != nil {
		http.Error(w, "unparseable payload", http.StatusBadRequest)
		return
	}

	switch e := event.(type) {
	case *github.PingEvent:
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("pong"))
	case *github.PullRequestEvent:
		h.handlePullRequest(w, e)
	case *github.PushEvent:
		h.handlePush(w, e)
	default:
		// Unhandled event types are acknowledged, not errors
		w.WriteHeader(http.StatusOK)
	}
}

func (h *Handler) handlePullRequest(w http.ResponseWriter, e *github.PullRequestEvent) {
	action := e.GetAction()
	if action != "opened" && action != "synchronize" {
		w.WriteHeader(http.StatusOK)
		return
	}

	fullName := e.GetRepo().GetFullName()
	base := e.GetPullRequest().GetBase().GetSHA()
	head := e.GetPullRequest().GetHead().GetSHA()
	h.schedule(w, fullName, base, head, "pull_request")
}

func (h *Handler) handlePush(w http.ResponseWriter, e *github.PushEvent) {
	fullName := e.GetRepo().GetFullName()
	defaultRef := "refs/heads/" + e.GetRepo().GetDefaultBranch()
	if e.GetRef() != defaultRef {
		w.WriteHeader(http.StatusOK)
		return
	}
	if e.GetBefore() == zeroSHA || e.GetAfter() == zeroSHA {
		// Branch creation or deletion has no meaningful diff
		w.WriteHeader(http.StatusOK)
		return
	}
	h.schedule(w, fullName, e.GetBefore(), e.GetAfter(), "push")
}

// schedule maps the repository onto a local checkout and starts the scan.
// Only repositories named in the configuration are ever scanned.
func (h *Handler) schedule(w http.ResponseWriter, fullName, baseRef, headRef, source string) {
	root, ok := h.repos[fullName]
	if !ok {
		h.log.WithField("repo", fullName).Info("webhook for unconfigured repository ignored")
		w.WriteHeader(http.StatusAccepted)
		writeStatus(w, "ignored")
		return
	}

	h.log.WithFields(logrus.Fields{
		"repo": fullName, "source": source, "base": baseRef, "head": headRef,
	}).Info("webhook scan scheduled")

	h.scans.Add(1)
	go func() {
		defer h.scans.Done()
		res, err := h.orch.RunDiffScan(context.Background(), root, baseRef, headRef, nil, h.opts)
		if err != nil {
			h.log.WithField("repo", fullName).WithError(err).Warn("webhook scan failed")
			return
		}
		h.log.WithFields(logrus.Fields{
			"repo": fullName, "scan": res.ID, "findings": len(res.Findings),
		}).Info("webhook scan completed")
		if h.sink != nil {
			h.sink(res)
		}
	}()

	w.WriteHeader(http.StatusAccepted)
	writeStatus(w, "scheduled")
}

func writeStatus(w http.ResponseWriter, status string) {
	w.Write([]byte(`{"status":"` + status + `"}`))
}
