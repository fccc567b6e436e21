package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ibeckermayer/instaflow/internal/types"
)

// Store keeps the history of sequence runs in SQLite
type Store struct {
	db *sql.DB
}

// New creates a new Store with SQLite backend
func New(dbPath string) (*Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at DATETIME NOT NULL,
		finished_at DATETIME,
		search TEXT NOT NULL,
		post_count INTEGER NOT NULL,
		error TEXT
	);

	CREATE TABLE IF NOT EXISTS steps (
		run_id TEXT NOT NULL REFERENCES runs(id),
		idx INTEGER NOT NULL,
		name TEXT NOT NULL,
		policy TEXT NOT NULL,
		status TEXT NOT NULL,
		duration_ms INTEGER NOT NULL,
		error TEXT,
		PRIMARY KEY (run_id, idx)
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// SaveRun inserts a run report with its step results.
func (s *Store) SaveRun(r *types.RunReport) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO runs (id, started_at, finished_at, search, post_count, error)
		VALUES (?, ?, ?, ?, ?, ?)
	`, r.ID, r.StartedAt, r.FinishedAt, r.Search, r.PostCount, r.Err)
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", r.ID, err)
	}

	for _, st := range r.Steps {
		_, err := tx.Exec(`
			INSERT INTO steps (run_id, idx, name, policy, status, duration_ms, error)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, r.ID, st.Index, st.Name, string(st.Policy), string(st.Status), st.Duration.Milliseconds(), st.Error)
		if err != nil {
			return fmt.Errorf("failed to save step %d of run %s: %w", st.Index, r.ID, err)
		}
	}

	return tx.Commit()
}

// RecentRuns returns the latest runs, newest first, with their steps.
func (s *Store) RecentRuns(limit int) ([]types.RunReport, error) {
	rows, err := s.db.Query(`
		SELECT id, started_at, finished_at, search, post_count, error
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}

	var runs []types.RunReport
	for rows.Next() {
		var r types.RunReport
		var runErr sql.NullString
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.Search, &r.PostCount, &runErr); err != nil {
			rows.Close()
			return nil, err
		}
		r.Err = runErr.String
		runs = append(runs, r)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range runs {
		steps, err := s.runSteps(runs[i].ID)
		if err != nil {
			return nil, err
		}
		runs[i].Steps = steps
	}
	return runs, nil
}

// GetRun returns a single run by id.
func (s *Store) GetRun(id string) (*types.RunReport, error) {
	var r types.RunReport
	var runErr sql.NullString
	err := s.db.QueryRow(`
		SELECT id, started_at, finished_at, search, post_count, error
		FROM runs WHERE id = ?
	`, id).Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.Search, &r.PostCount, &runErr)
	if err != nil {
		return nil, err
	}
	r.Err = runErr.String

	steps, err := s.runSteps(id)
	if err != nil {
		return nil, err
	}
	r.Steps = steps
	return &r, nil
}

func (s *Store) runSteps(runID string) ([]types.StepResult, error) {
	rows, err := s.db.Query(`
		SELECT idx, name, policy, status, duration_ms, error
		FROM steps WHERE run_id = ?
		ORDER BY idx
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []types.StepResult
	for rows.Next() {
		var st types.StepResult
		var policy, status string
		var durationMS int64
		var stepErr sql.NullString
		if err := rows.Scan(&st.Index, &st.Name, &policy, &status, &durationMS, &stepErr); err != nil {
			return nil, err
		}
		st.Policy = types.Policy(policy)
		st.Status = types.Status(status)
		st.Duration = time.Duration(durationMS) * time.Millisecond
		st.Error = stepErr.String
		steps = append(steps, st)
	}
	return steps, rows.Err()
}
