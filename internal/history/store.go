package history

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Run is one finished execution task.
type Run struct {
	ID           int64
	StartedAt    time.Time
	FinishedAt   time.Time
	UniverseID   string
	PlaceID      string
	PlaceVersion *int64
	TaskPath     string
	State        string
}

// Store is a SQLite-backed log of past runs.
type Store struct{ db *sql.DB }

//go:embed migrations/*.sql
var migrationFS embed.FS

// Open opens or creates the database at path, creating parent directories as needed.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// A single connection keeps :memory: databases alive across calls.
	db.SetMaxOpenConns(1)
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema, err := migrationFS.ReadFile("migrations/0001_init.sql")
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(string(schema)); err != nil {
		return fmt.Errorf("apply migration: %w", err)
	}
	return nil
}

// Ping checks that the database is reachable and that the runs table exists.
func (s *Store) Ping(ctx context.Context) error {
	if s.db == nil {
		return errors.New("history store is closed")
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM runs`).Scan(&n); err != nil {
		return fmt.Errorf("check history database: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// RecordRun stores r and returns its id.
func (s *Store) RecordRun(ctx context.Context, r Run) (int64, error) {
	var version sql.NullInt64
	if r.PlaceVersion != nil {
		version = sql.NullInt64{Int64: *r.PlaceVersion, Valid: true}
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (started_at, finished_at, universe_id, place_id, place_version, task_path, state)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.StartedAt.UTC(), r.FinishedAt.UTC(), r.UniverseID, r.PlaceID, version, r.TaskPath, r.State)
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}
	return res.LastInsertId()
}

// ListRuns returns the most recent runs first, at most limit of them (all when limit <= 0).
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, finished_at, universe_id, place_id, place_version, task_path, state
		 FROM runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var version sql.NullInt64
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.UniverseID, &r.PlaceID, &version, &r.TaskPath, &r.State); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if version.Valid {
			v := version.Int64
			r.PlaceVersion = &v
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
