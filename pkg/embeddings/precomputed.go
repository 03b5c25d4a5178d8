package embeddings

import (
	"context"
	"fmt"

	"github.com/quillml/distill/pkg/dataset"
	"github.com/quillml/distill/pkg/vector"
)

// Precomputed embedding fields.
const (
	FieldContextual = "sbert"
	FieldStatic     = "dbow"
)

// Precomputed reads an embedding field the corpus already carries. It is
// the provider for evaluating teacher embeddings directly, and the
// baseline every distilled model is compared against.
type Precomputed struct {
	field string
}

// NewPrecomputed builds a producer for the named field.
func NewPrecomputed(field string) (*Precomputed, error) {
	switch field {
	case FieldContextual, FieldStatic:
		return &Precomputed{field: field}, nil
	default:
		return nil, fmt.Errorf("unsupported precomputed field: %s", field)
	}
}

// Produce returns the stored vector, failing on documents that lack it.
func (p *Precomputed) Produce(_ context.Context, doc *dataset.Document) ([]float32, error) {
	var vec []float32
	switch p.field {
	case FieldContextual:
		vec = doc.Contextual
	case FieldStatic:
		vec = doc.Static
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("%w: document %d has no %q vector",
			vector.ErrEmbedding, doc.ID, p.field)
	}
	return vec, nil
}

// Close is a no-op.
func (p *Precomputed) Close() error { return nil }

var _ Producer = (*Precomputed)(nil)
