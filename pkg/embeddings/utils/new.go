// Package embeddingutils is the embeddings utility package
package embeddingutils

import (
	"fmt"

	"github.com/quillml/distill/pkg/embeddings"
	"github.com/quillml/distill/pkg/embeddings/ollama"
)

type NewProducerOpts struct {
	ProviderType string
	TargetURL    string
	Model        string
	Field        string
}

func NewProducer(o *NewProducerOpts) (embeddings.Producer, error) {
	switch o.ProviderType {
	case "precomputed":
		return embeddings.NewPrecomputed(o.Field)
	case "ollama":
		embedder, err := ollama.NewEmbedder(ollama.EmbedderConfig{
			BaseURL: o.TargetURL,
			Model:   o.Model,
		})
		if err != nil {
			return nil, err
		}
		return embeddings.FromEmbedder(embedder), nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", o.ProviderType)
	}
}
