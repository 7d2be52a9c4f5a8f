package daemon

import (
	"sync"
	"time"

	"github.com/hydrasec/hydra/internal/scan"
)

// RunStatus is the daemon-side lifecycle of a triggered scan
type RunStatus string

const (
	RunQueued    RunStatus = "queued"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// DiffRefs records the requested diff scope of a diff-mode run
type DiffRefs struct {
	BaseRef string `json:"base_ref"`
	HeadRef string `json:"head_ref,omitempty"`
}

// RunRecord tracks one triggered scan. CreatedAt is stamped on enqueue,
// StartedAt and CompletedAt on the queued to running to terminal transitions.
type RunRecord struct {
	ID          string       `json:"id"`
	Status      RunStatus    `json:"status"`
	TargetPath  string       `json:"target_path"`
	Mode        string       `json:"mode"`
	Trigger     string       `json:"trigger"`
	DiffRefs    *DiffRefs    `json:"diff_refs,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	StartedAt   *time.Time   `json:"started_at,omitempty"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
	Error       string       `json:"error,omitempty"`
	Result      *scan.Result `json:"result,omitempty"`
}

// Registry is the bounded in-memory run store. It stays authoritative even
// when the SQLite archive is enabled; the oldest record is evicted once the
// cap is reached.
type Registry struct {
	mu      sync.RWMutex
	max     int
	byID    map[string]*RunRecord
	order   []string
}

// NewRegistry builds a registry holding at most max records
func NewRegistry(max int) *Registry {
	if max <= 0 {
		max = 200
	}
	return &Registry{
		max:  max,
		byID: make(map[string]*RunRecord),
	}
}

// Add registers a new record, evicting the oldest beyond the cap
func (r *Registry) Add(rec *RunRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.byID[rec.ID] = rec
	r.order = append(r.order, rec.ID)
	for len(r.order) > r.max {
		oldest := r.order[0]
		r.order = r.order[1:]
		delete(r.byID, oldest)
	}
}

// Get returns a copy of one record
func (r *Registry) Get(id string) (RunRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.byID[id]
	if !ok {
		return RunRecord{}, false
	}
	return *rec, true
}

// List returns copies of all records, newest first
func (r *Registry) List() []RunRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]RunRecord, 0, len(r.order))
	for i := len(r.order) - 1; i >= 0; i-- {
		out = append(out, *r.byID[r.order[i]])
	}
	return out
}

// SetRunning marks a record running and stamps the start time
func (r *Registry) SetRunning(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.byID[id]; ok {
		now := time.Now().UTC()
		rec.Status = RunRunning
		rec.StartedAt = &now
	}
}

// SetCompleted attaches the result and marks the record completed
func (r *Registry) SetCompleted(id string, res *scan.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.byID[id]; ok {
		now := time.Now().UTC()
		rec.Status = RunCompleted
		rec.Result = res
		rec.CompletedAt = &now
	}
}

// SetFailed records the failure message
func (r *Registry) SetFailed(id string, errMsg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.byID[id]; ok {
		now := time.Now().UTC()
		rec.Status = RunFailed
		rec.Error = errMsg
		rec.CompletedAt = &now
	}
}

// Len returns the number of stored records
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
