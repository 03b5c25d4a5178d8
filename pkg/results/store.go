// Package results persists runs and their metric scalars to SQLite, so
// training and evaluation histories survive the process and can be served
// over the API.
package results

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/quillml/distill/pkg/metric"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("run not found")

// Run is one training or evaluation invocation. Config holds the rendered
// configuration the run was invoked with, for reproducibility.
type Run struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Config    string    `json:"config,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Scalar is one persisted metric value. A NaN Value round-trips through
// SQL NULL.
type Scalar struct {
	RunID     string    `json:"run_id"`
	Step      int       `json:"step"`
	Name      string    `json:"name"`
	Value     float64   `json:"value"`
	CreatedAt time.Time `json:"created_at"`
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	config TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS scalars (
	run_id TEXT NOT NULL REFERENCES runs(id),
	step INTEGER NOT NULL,
	name TEXT NOT NULL,
	value REAL,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_scalars_run_name_step ON scalars(run_id, name, step);
`

// Store is a SQLite-backed run store.
// The dbPath can be a file path or ":memory:" for an in-memory database.
type Store struct {
	db  *sql.DB
	log *slog.Logger
}

// Open opens (or creates) the store at dbPath.
func Open(dbPath string, log *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	log.Debug("results store opened", "db_path", dbPath)
	return &Store{db: db, log: log}, nil
}

// CreateRun registers a new run under a fresh UUID. config may be empty.
func (s *Store) CreateRun(ctx context.Context, name, config string) (*Run, error) {
	run := &Run{
		ID:        uuid.NewString(),
		Name:      name,
		Config:    config,
		CreatedAt: time.Now().UTC(),
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO runs(id, name, config, created_at) VALUES (?, ?, ?, ?)`,
		run.ID, run.Name, run.Config, run.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("creating run: %w", err)
	}

	s.log.Info("created run", "run_id", run.ID, "name", run.Name)
	return run, nil
}

// Run fetches a run by ID.
func (s *Store) Run(ctx context.Context, id string) (*Run, error) {
	run := &Run{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, config, created_at FROM runs WHERE id = ?`, id,
	).Scan(&run.ID, &run.Name, &run.Config, &run.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("fetching run: %w", err)
	}
	return run, nil
}

// Runs lists all runs, newest first.
func (s *Store) Runs(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, config, created_at FROM runs ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		if err := rows.Scan(&run.ID, &run.Name, &run.Config, &run.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// LogScalars persists one batch of metric values for a run. NaN values
// are stored as NULL since SQLite has no NaN literal.
func (s *Store) LogScalars(ctx context.Context, runID string, step int, scalars map[string]float64) error {
	if len(scalars) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for name, value := range scalars {
		var stored any = value
		if math.IsNaN(value) {
			stored = nil
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO scalars(run_id, step, name, value, created_at) VALUES (?, ?, ?, ?, ?)`,
			runID, step, name, stored, now,
		); err != nil {
			return fmt.Errorf("inserting scalar %q: %w", name, err)
		}
	}
	return tx.Commit()
}

// Scalars returns every value logged for a run, ordered by name and step.
func (s *Store) Scalars(ctx context.Context, runID string) ([]Scalar, error) {
	if _, err := s.Run(ctx, runID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, step, name, value, created_at
		FROM scalars
		WHERE run_id = ?
		ORDER BY name, step
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("listing scalars: %w", err)
	}
	defer rows.Close()

	var scalars []Scalar
	for rows.Next() {
		var sc Scalar
		var value sql.NullFloat64
		if err := rows.Scan(&sc.RunID, &sc.Step, &sc.Name, &value, &sc.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning scalar: %w", err)
		}
		if value.Valid {
			sc.Value = value.Float64
		} else {
			sc.Value = math.NaN()
		}
		scalars = append(scalars, sc)
	}
	return scalars, rows.Err()
}

// Sink binds the store to a run as a metric scalar sink.
func (s *Store) Sink(runID string) metric.Sink {
	return storeSink{store: s, runID: runID}
}

type storeSink struct {
	store *Store
	runID string
}

func (s storeSink) LogScalars(ctx context.Context, step int, scalars map[string]float64) error {
	return s.store.LogScalars(ctx, s.runID, step, scalars)
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }
