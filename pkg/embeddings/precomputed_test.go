package embeddings_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/quillml/distill/pkg/dataset"
	"github.com/quillml/distill/pkg/embeddings"
	"github.com/quillml/distill/pkg/vector"
)

var _ = Describe("Precomputed", func() {
	doc := &dataset.Document{
		ID:         1,
		Contextual: []float32{0.1, 0.2},
		Static:     []float32{0.3},
	}

	It("reads the contextual field", func() {
		p, err := embeddings.NewPrecomputed(embeddings.FieldContextual)
		Expect(err).NotTo(HaveOccurred())
		vec, err := p.Produce(context.Background(), doc)
		Expect(err).NotTo(HaveOccurred())
		Expect(vec).To(Equal([]float32{0.1, 0.2}))
	})

	It("reads the static field", func() {
		p, err := embeddings.NewPrecomputed(embeddings.FieldStatic)
		Expect(err).NotTo(HaveOccurred())
		vec, err := p.Produce(context.Background(), doc)
		Expect(err).NotTo(HaveOccurred())
		Expect(vec).To(Equal([]float32{0.3}))
	})

	It("fails on documents missing the field", func() {
		p, err := embeddings.NewPrecomputed(embeddings.FieldStatic)
		Expect(err).NotTo(HaveOccurred())
		_, err = p.Produce(context.Background(), &dataset.Document{ID: 2})
		Expect(err).To(MatchError(vector.ErrEmbedding))
	})

	It("rejects unknown fields", func() {
		_, err := embeddings.NewPrecomputed("glove")
		Expect(err).To(HaveOccurred())
	})
})
