package retrieval

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"

	"github.com/quillml/distill/pkg/dataset"
	"github.com/quillml/distill/pkg/vector"
)

// DefaultTopK bounds how deep each ranking goes.
const DefaultTopK = 1000

// ErrZeroVector is returned when a document embeds to the zero vector,
// which cannot be normalized for inner-product search.
var ErrZeroVector = errors.New("retrieval: zero embedding cannot be normalized")

// EmbedFunc produces the embedding under evaluation for one document.
type EmbedFunc func(ctx context.Context, doc *dataset.Document) ([]float32, error)

// EvaluatorOption configures an Evaluator.
type EvaluatorOption func(*Evaluator)

// WithIndex swaps the search backend. The default is the exact in-memory
// index; approximate backends bias the metrics and belong in smoke tests
// only.
func WithIndex(idx vector.Index) EvaluatorOption {
	return func(e *Evaluator) { e.index = idx }
}

// WithTopK bounds the ranking depth.
func WithTopK(topK int) EvaluatorOption {
	return func(e *Evaluator) { e.topK = topK }
}

// WithThresholds sets the hit-rate thresholds.
func WithThresholds(thresholds ...int) EvaluatorOption {
	return func(e *Evaluator) { e.thresholds = thresholds }
}

// WithLogger routes progress logging.
func WithLogger(log *slog.Logger) EvaluatorOption {
	return func(e *Evaluator) { e.log = log }
}

// Evaluator runs the full retrieval pass: embed every document, index the
// normalized embeddings, query each label-bearing document against the
// index, and aggregate the rankings into IR metrics.
type Evaluator struct {
	index      vector.Index
	topK       int
	thresholds []int
	log        *slog.Logger
}

// NewEvaluator builds an evaluator with exact search, DefaultTopK, and
// hit-rate thresholds of 10 and 100.
func NewEvaluator(opts ...EvaluatorOption) *Evaluator {
	e := &Evaluator{
		index:      vector.NewExact(),
		topK:       DefaultTopK,
		thresholds: []int{10, 100},
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate scores the corpus with embed. Documents without labels join
// the candidate pool but are never queried.
func (e *Evaluator) Evaluate(ctx context.Context, src dataset.Source, embed EmbedFunc) (*Results, error) {
	if err := src.Reset(); err != nil {
		return nil, fmt.Errorf("reset source: %w", err)
	}

	var docs []*dataset.Document
	for {
		doc, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read document: %w", err)
		}

		vec, err := embed(ctx, doc)
		if err != nil {
			return nil, fmt.Errorf("embed document %d: %w", doc.ID, err)
		}
		unit, err := normalize(vec)
		if err != nil {
			return nil, fmt.Errorf("document %d: %w", doc.ID, err)
		}
		if err := e.index.Add(ctx, []vector.Entry{{ID: doc.ID, Embedding: unit}}); err != nil {
			return nil, fmt.Errorf("index document %d: %w", doc.ID, err)
		}
		docs = append(docs, doc)
	}
	e.log.Info("indexed corpus", "documents", len(docs))

	k := e.topK
	if limit := len(docs) - 1; k > limit {
		k = limit
	}

	var queries []RankedQuery
	for _, doc := range docs {
		if len(doc.Labels) == 0 {
			continue
		}

		vec, err := embed(ctx, doc)
		if err != nil {
			return nil, fmt.Errorf("embed query %d: %w", doc.ID, err)
		}
		unit, err := normalize(vec)
		if err != nil {
			return nil, fmt.Errorf("query %d: %w", doc.ID, err)
		}

		// Ask for one extra neighbor: the query document is in the pool
		// and its self-hit does not count as a retrieval.
		hits, err := e.index.Query(ctx, unit, k+1)
		if err != nil {
			return nil, fmt.Errorf("query document %d: %w", doc.ID, err)
		}

		ranked := make([]int64, 0, k)
		dropped := false
		for _, hit := range hits {
			if !dropped && hit.ID == doc.ID {
				dropped = true
				continue
			}
			ranked = append(ranked, hit.ID)
		}
		if len(ranked) > k {
			ranked = ranked[:k]
		}
		queries = append(queries, RankedQuery{Labels: doc.Labels, Ranked: ranked})
	}
	e.log.Info("ranked queries", "queries", len(queries), "top_k", k)

	return EvaluateIR(queries, e.thresholds)
}

func normalize(vec []float32) ([]float32, error) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return nil, ErrZeroVector
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(float64(v) / norm)
	}
	return out, nil
}
