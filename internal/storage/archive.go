// Package storage persists completed scan runs to a local SQLite archive.
// The archive is optional and write-behind: the in-memory run registry stays
// authoritative and archive failures are logged, never fatal.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"github.com/hydrasec/hydra/internal/scan"
)

// ErrNotFound is returned when a run id is not in the archive
var ErrNotFound = errors.New("run not found")

// RunSummary is the list-view projection of an archived run
type RunSummary struct {
	ID           string    `db:"id" json:"id"`
	Target       string    `db:"target" json:"target"`
	Mode         string    `db:"mode" json:"mode"`
	FindingCount int       `db:"finding_count" json:"finding_count"`
	StartedAt    time.Time `db:"started_at" json:"started_at"`
	CompletedAt  time.Time `db:"completed_at" json:"completed_at"`
}

// Archive is the SQLite-backed run store
type Archive struct {
	db     *sqlx.DB
	logger *logrus.Entry
}

// OpenArchive opens or creates the archive database at path
func OpenArchive(path string) (*Archive, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create archive directory: %w", err)
	}

	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("connect to sqlite: %w", err)
	}

	db.Exec("PRAGMA journal_mode = WAL")
	db.Exec("PRAGMA busy_timeout = 5000")

	a := &Archive{
		db:     db,
		logger: logrus.WithField("component", "archive"),
	}
	if err := a.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return a, nil
}

func (a *Archive) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		target TEXT NOT NULL,
		mode TEXT NOT NULL,
		finding_count INTEGER NOT NULL,
		started_at DATETIME NOT NULL,
		completed_at DATETIME NOT NULL,
		result TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC);
	`
	_, err := a.db.Exec(schema)
	return err
}

// SaveRun stores one completed scan. Saving the same id again replaces the
// stored row.
func (a *Archive) SaveRun(ctx context.Context, res *scan.Result) error {
	payload, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal run %s: %w", res.ID, err)
	}

	_, err = a.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs (id, target, mode, finding_count, started_at, completed_at, result)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		res.ID, res.Target, res.Mode, len(res.Findings), res.StartedAt, res.CompletedAt, string(payload))
	if err != nil {
		return fmt.Errorf("insert run %s: %w", res.ID, err)
	}
	a.logger.WithField("run", res.ID).Debug("run archived")
	return nil
}

// GetRun loads one archived run by id
func (a *Archive) GetRun(ctx context.Context, id string) (*scan.Result, error) {
	var payload string
	err := a.db.GetContext(ctx, &payload, "SELECT result FROM runs WHERE id = ?", id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load run %s: %w", id, err)
	}

	var res scan.Result
	if err := json.Unmarshal([]byte(payload), &res); err != nil {
		return nil, fmt.Errorf("decode run %s: %w", id, err)
	}
	return &res, nil
}

// ListRuns returns summaries of the most recent runs, newest first
func (a *Archive) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []RunSummary
	err := a.db.SelectContext(ctx, &out, `
		SELECT id, target, mode, finding_count, started_at, completed_at
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return out, nil
}

// Prune deletes all but the newest keep runs
func (a *Archive) Prune(ctx context.Context, keep int) error {
	if keep <= 0 {
		return nil
	}
	_, err := a.db.ExecContext(ctx, `
		DELETE FROM runs WHERE id NOT IN (
			SELECT id FROM runs ORDER BY started_at DESC LIMIT ?
		)`, keep)
	if err != nil {
		return fmt.Errorf("prune runs: %w", err)
	}
	return nil
}

// Close releases the database handle
func (a *Archive) Close() error {
	return a.db.Close()
}
