// Package vector provides interfaces and implementations for embedding
// storage and nearest-neighbor search.
package vector

import "context"

// Entry is a stored item with its embedding.
type Entry struct {
	// ID is the document identifier the embedding belongs to.
	ID int64

	// Embedding is the vector representation of the document.
	Embedding []float32
}

// Neighbor is a search result.
type Neighbor struct {
	// ID is the matched document identifier.
	ID int64

	// Score is the similarity score (higher = more similar).
	Score float32
}

// Index handles storage and retrieval of embeddings.
type Index interface {
	// Add stores entries. Re-adding an existing ID replaces its
	// embedding.
	Add(ctx context.Context, entries []Entry) error

	// Query finds the topK entries most similar to the given embedding,
	// ordered by descending score. Fewer than topK stored entries yield
	// fewer results, not an error.
	Query(ctx context.Context, embedding []float32, topK int) ([]Neighbor, error)

	// Close releases any resources held by the index.
	Close() error
}
