// Package sqlitevec provides a SQLite-backed vector index using sqlite-vec.
package sqlitevec

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"github.com/quillml/distill/pkg/vector"
)

// Index implements vector.Index on a vec0 virtual table. Document IDs map
// directly onto vec0 rowids, so no side table is needed.
type Index struct {
	db  *sql.DB
	dim uint
	log *slog.Logger
}

// Config holds configuration for the sqlite-vec index.
type Config struct {
	// DBPath is the path to the SQLite database file.
	// Use ":memory:" for an in-memory database.
	DBPath string

	// Dimensions is the embedding width. Required.
	Dimensions uint
}

// New opens (or creates) a sqlite-vec index.
func New(c Config, log *slog.Logger) (*Index, error) {
	sqlite_vec.Auto()

	if c.DBPath == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if c.Dimensions == 0 {
		return nil, fmt.Errorf("sqlite-vec embedding dimensions cannot be 0, must be configured")
	}

	db, err := sql.Open("sqlite3", c.DBPath)
	if err != nil {
		return nil, fmt.Errorf("%w: opening database: %v", vector.ErrConnection, err)
	}

	var vecVersion string
	if err := db.QueryRow("SELECT vec_version()").Scan(&vecVersion); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: sqlite-vec not available: %v", vector.ErrConnection, err)
	}

	// Cosine distance keeps rankings scale-invariant, which matches how
	// the evaluator normalizes query embeddings.
	createVec := fmt.Sprintf(
		`CREATE VIRTUAL TABLE IF NOT EXISTS embeddings USING vec0(embedding float[%d] distance_metric=cosine)`,
		c.Dimensions,
	)
	if _, err := db.Exec(createVec); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating vec0 table: %w", err)
	}

	log.Info("sqlite-vec index initialized",
		"db_path", c.DBPath,
		"dimensions", c.Dimensions,
		"vec_version", vecVersion,
	)

	return &Index{db: db, dim: c.Dimensions, log: log}, nil
}

// serializeFloat32 converts a float32 slice to the little-endian BLOB
// format sqlite-vec expects.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// Add stores entries. Existing rowids are replaced via DELETE + INSERT
// because vec0 tables do not support UPDATE.
func (d *Index) Add(ctx context.Context, entries []vector.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, entry := range entries {
		if uint(len(entry.Embedding)) != d.dim {
			return fmt.Errorf("%w: entry %d has %d, index has %d",
				vector.ErrDimension, entry.ID, len(entry.Embedding), d.dim)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM embeddings WHERE rowid = ?`, entry.ID,
		); err != nil {
			return fmt.Errorf("clearing entry %d: %w", entry.ID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO embeddings(rowid, embedding) VALUES (?, ?)`,
			entry.ID, serializeFloat32(entry.Embedding),
		); err != nil {
			return fmt.Errorf("inserting entry %d: %w", entry.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	d.log.Debug("added entries to sqlite-vec", "count", len(entries))
	return nil
}

// Query runs a KNN MATCH over the vec0 table.
func (d *Index) Query(ctx context.Context, embedding []float32, topK int) ([]vector.Neighbor, error) {
	if topK <= 0 {
		return nil, nil
	}
	if uint(len(embedding)) != d.dim {
		return nil, fmt.Errorf("%w: query has %d, index has %d",
			vector.ErrDimension, len(embedding), d.dim)
	}

	rows, err := d.db.QueryContext(ctx, `
		SELECT rowid, distance
		FROM embeddings
		WHERE embedding MATCH ?
			AND k = ?
		ORDER BY distance
	`, serializeFloat32(embedding), topK)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}
	defer rows.Close()

	var results []vector.Neighbor
	for rows.Next() {
		var id int64
		var distance float64
		if err := rows.Scan(&id, &distance); err != nil {
			return nil, fmt.Errorf("scanning query result: %w", err)
		}
		// Cosine distance is in [0, 2]; flip it so higher means closer.
		results = append(results, vector.Neighbor{
			ID:    id,
			Score: float32(1 - distance),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating query results: %w", err)
	}

	d.log.Debug("queried sqlite-vec", "results", len(results))
	return results, nil
}

// Close closes the underlying database.
func (d *Index) Close() error { return d.db.Close() }

var _ vector.Index = (*Index)(nil)
