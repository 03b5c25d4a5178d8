package testutils

import (
	"context"
	"fmt"
)

// MockEmbedder is a test embedder that returns predictable embeddings
type MockEmbedder struct {
	Embeddings map[string][]float32

	// FailOn causes Embed to return an error when the input text matches
	FailOn string
}

// Embed returns the configured embedding for the text.
func (m *MockEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if m.FailOn != "" && text == m.FailOn {
		return nil, fmt.Errorf("mock embedder configured to fail on %q", text)
	}
	vec, ok := m.Embeddings[text]
	if !ok {
		return nil, fmt.Errorf("mock embedder has no embedding for %q", text)
	}
	return vec, nil
}

// Close is a no-op.
func (m *MockEmbedder) Close() error { return nil }
