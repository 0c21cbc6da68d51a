// Package store persists finished pipeline runs in SQLite for later evaluation.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"backforge/internal/logging"
)

// Mode distinguishes the repairing pipeline from its single-attempt baseline.
type Mode string

const (
	ModeAgentic    Mode = "agentic"
	ModeSingleShot Mode = "single_shot"
)

// Record is one finished run.
type Record struct {
	ID            int64
	RunID         string
	Mode          Mode
	Task          string
	Name          string
	Verdict       string
	Attempts      int
	MaxAttempts   int
	Seed          int
	Metrics       map[string]float64
	Tools         []string
	FinalReason   string
	ArtifactPath  string
	ReportPath    string
	SpecCompliant bool
	CreatedAt     time.Time
}

// Passed reports whether the run's verdict was pass.
func (r Record) Passed() bool {
	return r.Verdict == "pass"
}

// Filter narrows List. Empty fields match everything.
type Filter struct {
	Mode Mode
	Task string
}

// RunStore is the SQLite-backed run history.
type RunStore struct {
	db *sql.DB
}

// Open opens (creating if needed) the run history at path.
func Open(path string) (*RunStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &RunStore{db: db}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *RunStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		mode TEXT NOT NULL,
		task TEXT NOT NULL,
		name TEXT NOT NULL,
		verdict TEXT NOT NULL,
		attempts INTEGER NOT NULL,
		max_attempts INTEGER NOT NULL,
		seed INTEGER NOT NULL,
		metrics TEXT NOT NULL,
		tools TEXT NOT NULL,
		final_reason TEXT,
		artifact_path TEXT,
		report_path TEXT,
		spec_compliant INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_runs_mode_task ON runs(mode, task);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create run history schema: %w", err)
	}
	return nil
}

// Save inserts r and returns its row ID. A zero CreatedAt is set to now.
func (s *RunStore) Save(ctx context.Context, r Record) (int64, error) {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	metrics, err := json.Marshal(finite(r.Metrics))
	if err != nil {
		return 0, fmt.Errorf("encode metrics: %w", err)
	}
	tools, err := json.Marshal(r.Tools)
	if err != nil {
		return 0, fmt.Errorf("encode tools: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, mode, task, name, verdict, attempts, max_attempts, seed,
			metrics, tools, final_reason, artifact_path, report_path, spec_compliant, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, string(r.Mode), r.Task, r.Name, r.Verdict, r.Attempts, r.MaxAttempts, r.Seed,
		string(metrics), string(tools), r.FinalReason, r.ArtifactPath, r.ReportPath,
		r.SpecCompliant, r.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	logging.StoreDebug("saved run %d (%s %s %s)", id, r.Mode, r.Task, r.Verdict)
	return id, nil
}

// List returns matching runs oldest first.
func (s *RunStore) List(ctx context.Context, f Filter) ([]Record, error) {
	var (
		where []string
		args  []interface{}
	)
	if f.Mode != "" {
		where = append(where, "mode = ?")
		args = append(args, string(f.Mode))
	}
	if f.Task != "" {
		where = append(where, "task = ?")
		args = append(args, f.Task)
	}
	query := `SELECT id, run_id, mode, task, name, verdict, attempts, max_attempts, seed,
		metrics, tools, final_reason, artifact_path, report_path, spec_compliant, created_at FROM runs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r                     Record
			mode, metrics, tools  string
			reason, artifact, rpt sql.NullString
			created               string
		)
		if err := rows.Scan(&r.ID, &r.RunID, &mode, &r.Task, &r.Name, &r.Verdict, &r.Attempts,
			&r.MaxAttempts, &r.Seed, &metrics, &tools, &reason, &artifact, &rpt,
			&r.SpecCompliant, &created); err != nil {
			return nil, err
		}
		r.Mode = Mode(mode)
		r.FinalReason, r.ArtifactPath, r.ReportPath = reason.String, artifact.String, rpt.String
		if err := json.Unmarshal([]byte(metrics), &r.Metrics); err != nil {
			return nil, fmt.Errorf("decode metrics of run %d: %w", r.ID, err)
		}
		if err := json.Unmarshal([]byte(tools), &r.Tools); err != nil {
			return nil, fmt.Errorf("decode tools of run %d: %w", r.ID, err)
		}
		if r.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, fmt.Errorf("decode created_at of run %d: %w", r.ID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *RunStore) Close() error {
	return s.db.Close()
}

// finite drops values JSON cannot encode (NaN, ±Inf).
func finite(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		out[k] = v
	}
	return out
}
