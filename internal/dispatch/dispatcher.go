// Package dispatch runs heterogeneous agent tasks under a fixed worker pool
// with per-task deadlines and lifecycle records.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	hydraerr "github.com/hydrasec/hydra/internal/errors"
	"github.com/hydrasec/hydra/internal/findings"
)

const (
	// DefaultMaxConcurrent is the worker pool size unless overridden.
	DefaultMaxConcurrent = 3

	// DefaultTaskTimeout applies to deterministic scanner tasks.
	DefaultTaskTimeout = 90 * time.Second

	// LLMTaskTimeout applies to reasoner-backed scanner tasks.
	LLMTaskTimeout = 300 * time.Second
)

// Status is the lifecycle state of one agent task
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusTimedOut  Status = "timed_out"
)

// Terminal reports whether a status is final
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusTimedOut
}

// Task is one executable unit: an agent id, an executor, and an optional
// timeout (zero means the dispatcher default).
type Task struct {
	AgentID string
	Timeout time.Duration
	Run     func(ctx context.Context) ([]findings.Finding, error)
}

// AgentRun records the lifecycle of one task. Transitions are monotonic:
// queued, running, then exactly one terminal state.
type AgentRun struct {
	ID           string     `json:"id"`
	AgentID      string     `json:"agent_id"`
	Status       Status     `json:"status"`
	QueuedAt     time.Time  `json:"queued_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	DurationMS   int64      `json:"duration_ms,omitempty"`
	FindingCount int        `json:"finding_count,omitempty"`
	Error        string     `json:"error,omitempty"`
}

// Dispatcher owns a bounded worker pool for one scan at a time
type Dispatcher struct {
	maxConcurrent  int
	defaultTimeout time.Duration
	log            *slog.Logger
}

// New builds a dispatcher. Non-positive arguments fall back to defaults;
// the config layer rejects them before they reach here.
func New(maxConcurrent int, defaultTimeout time.Duration) *Dispatcher {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	if defaultTimeout <= 0 {
		defaultTimeout = DefaultTaskTimeout
	}
	return &Dispatcher{
		maxConcurrent:  maxConcurrent,
		defaultTimeout: defaultTimeout,
		log:            slog.Default().With("component", "dispatcher"),
	}
}

// Dispatch runs every task and settles: each AgentRun ends in a terminal
// state and no error escapes. Findings accumulate in task completion order.
// Canceling ctx stops further dequeuing; in-flight tasks still settle.
func (d *Dispatcher) Dispatch(ctx context.Context, tasks []Task) ([]findings.Finding, []AgentRun) {
	runs := make([]AgentRun, len(tasks))
	queuedAt := time.Now()
	for i, t := range tasks {
		runs[i] = AgentRun{
			ID:       uuid.NewString(),
			AgentID:  t.AgentID,
			Status:   StatusQueued,
			QueuedAt: queuedAt,
		}
	}

	queue := make(chan int, len(tasks))
	for i := range tasks {
		queue <- i
	}
	close(queue)

	var mu sync.Mutex
	var collected []findings.Finding

	workers := d.maxConcurrent
	if workers > len(tasks) {
		workers = len(tasks)
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					d.drainCanceled(queue, runs, &mu)
					return
				case i, ok := <-queue:
					if !ok {
						return
					}
					if ctx.Err() != nil {
						d.markCanceled(&runs[i], &mu)
						continue
					}
					d.runTask(ctx, tasks[i], &runs[i], &mu, &collected)
				}
			}
		}()
	}
	wg.Wait()

	d.log.Debug("dispatch settled", "tasks", len(tasks), "findings", len(collected))
	return collected, runs
}

// runTask executes one task raced against its deadline. A deadline hit
// records timed_out and discards any findings the task later produces; the
// task itself is cancelled cooperatively through its context.
func (d *Dispatcher) runTask(ctx context.Context, task Task, run *AgentRun, mu *sync.Mutex, collected *[]findings.Finding) {
	timeout := task.Timeout
	if timeout <= 0 {
		timeout = d.defaultTimeout
	}

	started := time.Now()
	mu.Lock()
	run.Status = StatusRunning
	run.StartedAt = &started
	mu.Unlock()

	taskCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		fs  []findings.Finding
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: hydraerr.InternalErrorf("agent panicked: %v", r)}
			}
		}()
		fs, err := task.Run(taskCtx)
		done <- result{fs: fs, err: err}
	}()

	select {
	case res := <-done:
		completed := time.Now()
		mu.Lock()
		run.CompletedAt = &completed
		run.DurationMS = completed.Sub(started).Milliseconds()
		if res.err != nil {
			agentErr := hydraerr.AgentErrorf(res.err, "agent %s failed", task.AgentID)
			run.Status = StatusFailed
			run.Error = agentErr.Error()
			mu.Unlock()
			d.log.Warn("agent failed", "agent", task.AgentID, "error", agentErr)
			return
		}
		run.Status = StatusCompleted
		run.FindingCount = len(res.fs)
		*collected = append(*collected, res.fs...)
		mu.Unlock()

	case <-taskCtx.Done():
		completed := time.Now()
		mu.Lock()
		run.CompletedAt = &completed
		run.DurationMS = completed.Sub(started).Milliseconds()
		if errors.Is(taskCtx.Err(), context.DeadlineExceeded) {
			run.Status = StatusTimedOut
			run.Error = fmt.Sprintf("agent exceeded %s deadline", timeout)
		} else {
			run.Status = StatusFailed
			run.Error = "scan canceled"
		}
		mu.Unlock()
		d.log.Warn("agent did not settle in time", "agent", task.AgentID, "status", run.Status)
	}
}

// drainCanceled empties the remaining queue after cancellation so every
// AgentRun reaches a terminal state.
func (d *Dispatcher) drainCanceled(queue <-chan int, runs []AgentRun, mu *sync.Mutex) {
	for i := range queue {
		d.markCanceled(&runs[i], mu)
	}
}

func (d *Dispatcher) markCanceled(run *AgentRun, mu *sync.Mutex) {
	now := time.Now()
	mu.Lock()
	run.Status = StatusFailed
	run.Error = "scan canceled before start"
	run.CompletedAt = &now
	mu.Unlock()
}
