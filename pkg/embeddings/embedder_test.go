package embeddings_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/quillml/distill/pkg/dataset"
	"github.com/quillml/distill/pkg/embeddings"
	testutils "github.com/quillml/distill/pkg/utils/test"
)

var _ = Describe("FromEmbedder", func() {
	It("embeds the document text", func() {
		embedder := &testutils.MockEmbedder{
			Embeddings: map[string][]float32{
				"hello world": {0.1, 0.2, 0.3},
			},
		}

		producer := embeddings.FromEmbedder(embedder)
		defer producer.Close()

		vec, err := producer.Produce(context.Background(), &dataset.Document{
			ID:   1,
			Text: "hello world",
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(vec).To(Equal([]float32{0.1, 0.2, 0.3}))
	})

	It("surfaces embedder failures", func() {
		embedder := &testutils.MockEmbedder{FailOn: "bad doc"}

		producer := embeddings.FromEmbedder(embedder)
		defer producer.Close()

		_, err := producer.Produce(context.Background(), &dataset.Document{
			ID:   2,
			Text: "bad doc",
		})
		Expect(err).To(HaveOccurred())
	})
})
