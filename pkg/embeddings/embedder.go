// Package embeddings
package embeddings

import (
	"context"

	"github.com/quillml/distill/pkg/dataset"
)

// Embedder provides text embedding capabilities.
type Embedder interface {
	// Embed converts text into a vector embedding.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Close releases any resources held by the embedder.
	Close() error
}

// Producer yields the embedding under evaluation for a document. Unlike
// Embedder it sees the whole document, so implementations can read
// precomputed vectors instead of re-encoding text.
type Producer interface {
	// Produce returns the document's embedding.
	Produce(ctx context.Context, doc *dataset.Document) ([]float32, error)

	// Close releases any resources held by the producer.
	Close() error
}

// FromEmbedder adapts a text embedder into a document producer.
func FromEmbedder(e Embedder) Producer {
	return embedderProducer{e}
}

type embedderProducer struct {
	embedder Embedder
}

func (p embedderProducer) Produce(ctx context.Context, doc *dataset.Document) ([]float32, error) {
	return p.embedder.Embed(ctx, doc.Text)
}

func (p embedderProducer) Close() error { return p.embedder.Close() }
