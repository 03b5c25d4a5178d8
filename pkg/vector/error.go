package vector

import "errors"

var (
	// ErrNotFound is returned when an entry is not found in the index.
	ErrNotFound = errors.New("entry not found")

	// ErrDimension is returned when an embedding's width disagrees with
	// the index.
	ErrDimension = errors.New("embedding dimension mismatch")

	// ErrEmbedding is returned when embedding generation fails.
	ErrEmbedding = errors.New("embedding failed")

	// ErrConnection is returned when the index backend connection fails.
	ErrConnection = errors.New("vector store connection failed")
)
