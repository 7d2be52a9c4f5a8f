package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hydrasec/hydra/internal/config"
	"github.com/hydrasec/hydra/internal/scan"
)

const testSecret = "hook-secret"

type recordedScan struct {
	root    string
	baseRef string
	headRef string
}

type recordingRunner struct {
	mu    sync.Mutex
	scans []recordedScan
}

func (r *recordingRunner) RunDiffScan(ctx context.Context, root, baseRef, headRef string, changed []string, opts scan.Options) (*scan.Result, error) {
	r.mu.Lock()
	r.scans = append(r.scans, recordedScan{root, baseRef, headRef})
	r.mu.Unlock()
	return &scan.Result{ID: "hook-scan", Target: root, Mode: scan.ModeDiff}, nil
}

func (r *recordingRunner) recorded() []recordedScan {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedScan(nil), r.scans...)
}

func newHandler(t *testing.T, orch runner) *Handler {
	t.Helper()
	return New(config.WebhookConfig{
		Secret: testSecret,
		Repos:  map[string]string{"hydrasec/vault": "/srv/checkouts/vault"},
	}, orch, scan.Options{}, nil)
}

func signedRequest(t *testing.T, event string, payload any) *http.Request {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write(body)

	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GitHub-Event", event)
	req.Header.Set("X-Hub-Signature-256", "sha256="+hex.EncodeToString(mac.Sum(nil)))
	return req
}

func prPayload(action, fullName, baseSHA, headSHA string) map[string]any {
	return map[string]any{
		"action": action,
		"repository": map[string]any{
			"full_name": fullName,
		},
		"pull_request": map[string]any{
			"base": map[string]any{"sha": baseSHA},
			"head": map[string]any{"sha": headSHA},
		},
	}
}

func pushPayload(fullName, ref, before, after string) map[string]any {
	return map[string]any{
		"ref":    ref,
		"before": before,
		"after":  after,
		"repository": map[string]any{
			"full_name":      fullName,
			"default_branch": "main",
		},
	}
}

func TestWebhook_RejectsBadSignature(t *testing.T) {
	h := newHandler(t, &recordingRunner{})

	body, _ := json.Marshal(prPayload("opened", "hydrasec/vault", "a", "b"))
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GitHub-Event", "pull_request")
	req.Header.Set("X-Hub-Signature-256", "sha256=deadbeef")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWebhook_PullRequestOpenedSchedulesDiffScan(t *testing.T) {
	orch := &recordingRunner{}
	h := newHandler(t, orch)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, signedRequest(t, "pull_request",
		prPayload("opened", "hydrasec/vault", "base-sha", "head-sha")))
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), "scheduled")

	h.Wait()
	scans := orch.recorded()
	require.Len(t, scans, 1)
	assert.Equal(t, "/srv/checkouts/vault", scans[0].root)
	assert.Equal(t, "base-sha", scans[0].baseRef)
	assert.Equal(t, "head-sha", scans[0].headRef)
}

func TestWebhook_PullRequestClosedIgnored(t *testing.T) {
	orch := &recordingRunner{}
	h := newHandler(t, orch)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, signedRequest(t, "pull_request",
		prPayload("closed", "hydrasec/vault", "a", "b")))
	assert.Equal(t, http.StatusOK, rec.Code)

	h.Wait()
	assert.Empty(t, orch.recorded())
}

func TestWebhook_PushToDefaultBranchSchedules(t *testing.T) {
	orch := &recordingRunner{}
	h := newHandler(t, orch)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, signedRequest(t, "push",
		pushPayload("hydrasec/vault", "refs/heads/main", "before-sha", "after-sha")))
	require.Equal(t, http.StatusAccepted, rec.Code)

	h.Wait()
	scans := orch.recorded()
	require.Len(t, scans, 1)
	assert.Equal(t, "before-sha", scans[0].baseRef)
	assert.Equal(t, "after-sha", scans[0].headRef)
}

func TestWebhook_PushToFeatureBranchIgnored(t *testing.T) {
	orch := &recordingRunner{}
	h := newHandler(t, orch)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, signedRequest(t, "push",
		pushPayload("hydrasec/vault", "refs/heads/feature", "a", "b")))
	assert.Equal(t, http.StatusOK, rec.Code)

	h.Wait()
	assert.Empty(t, orch.recorded())
}

func TestWebhook_PushWithZeroSHAIgnored(t *testing.T) {
	orch := &recordingRunner{}
	h := newHandler(t, orch)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, signedRequest(t, "push",
		pushPayload("hydrasec/vault", "refs/heads/main", zeroSHA, "after-sha")))
	assert.Equal(t, http.StatusOK, rec.Code)

	h.Wait()
	assert.Empty(t, orch.recorded(), "branch creation has no diff")
}

func TestWebhook_UnconfiguredRepositoryIgnored(t *testing.T) {
	orch := &recordingRunner{}
	h := newHandler(t, orch)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, signedRequest(t, "pull_request",
		prPayload("opened", "someone/else", "a", "b")))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), "ignored")

	h.Wait()
	assert.Empty(t, orch.recorded())
}

func TestWebhook_SinkReceivesResult(t *testing.T) {
	orch := &recordingRunner{}
	var got *scan.Result
	var mu sync.Mutex
	h := New(config.WebhookConfig{
		Secret: testSecret,
		Repos:  map[string]string{"hydrasec/vault": "/srv/checkouts/vault"},
	}, orch, scan.Options{}, func(res *scan.Result) {
		mu.Lock()
		got = res
		mu.Unlock()
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, signedRequest(t, "pull_request",
		prPayload("opened", "hydrasec/vault", "a", "b")))
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got != nil && got.ID == "hook-scan"
	}, time.Second, 10*time.Millisecond)
}
