package vector_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/quillml/distill/pkg/vector"
)

var _ = Describe("Exact", func() {
	var (
		ctx context.Context
		idx *vector.Exact
	)

	BeforeEach(func() {
		ctx = context.Background()
		idx = vector.NewExact()
	})

	It("ranks by inner product, descending", func() {
		Expect(idx.Add(ctx, []vector.Entry{
			{ID: 1, Embedding: []float32{1, 0}},
			{ID: 2, Embedding: []float32{0, 1}},
			{ID: 3, Embedding: []float32{0.5, 0.5}},
		})).To(Succeed())

		hits, err := idx.Query(ctx, []float32{1, 0}, 3)
		Expect(err).NotTo(HaveOccurred())
		Expect(hits).To(HaveLen(3))
		Expect(hits[0].ID).To(Equal(int64(1)))
		Expect(hits[1].ID).To(Equal(int64(3)))
		Expect(hits[2].ID).To(Equal(int64(2)))
	})

	It("breaks score ties toward the lower ID", func() {
		Expect(idx.Add(ctx, []vector.Entry{
			{ID: 9, Embedding: []float32{1, 0}},
			{ID: 2, Embedding: []float32{1, 0}},
		})).To(Succeed())

		hits, err := idx.Query(ctx, []float32{1, 0}, 2)
		Expect(err).NotTo(HaveOccurred())
		Expect(hits[0].ID).To(Equal(int64(2)))
		Expect(hits[1].ID).To(Equal(int64(9)))
	})

	It("truncates to topK and tolerates oversized requests", func() {
		Expect(idx.Add(ctx, []vector.Entry{
			{ID: 1, Embedding: []float32{1}},
			{ID: 2, Embedding: []float32{2}},
		})).To(Succeed())

		hits, err := idx.Query(ctx, []float32{1}, 1)
		Expect(err).NotTo(HaveOccurred())
		Expect(hits).To(HaveLen(1))
		Expect(hits[0].ID).To(Equal(int64(2)))

		hits, err = idx.Query(ctx, []float32{1}, 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(hits).To(HaveLen(2))
	})

	It("replaces the embedding when an ID is re-added", func() {
		Expect(idx.Add(ctx, []vector.Entry{{ID: 1, Embedding: []float32{1, 0}}})).To(Succeed())
		Expect(idx.Add(ctx, []vector.Entry{{ID: 1, Embedding: []float32{0, 1}}})).To(Succeed())
		Expect(idx.Len()).To(Equal(1))

		hits, err := idx.Query(ctx, []float32{0, 1}, 1)
		Expect(err).NotTo(HaveOccurred())
		Expect(hits[0].Score).To(BeNumerically("~", 1.0, 1e-6))
	})

	It("rejects mismatched dimensions", func() {
		Expect(idx.Add(ctx, []vector.Entry{{ID: 1, Embedding: []float32{1, 0}}})).To(Succeed())
		Expect(idx.Add(ctx, []vector.Entry{{ID: 2, Embedding: []float32{1}}})).To(MatchError(vector.ErrDimension))

		_, err := idx.Query(ctx, []float32{1}, 1)
		Expect(err).To(MatchError(vector.ErrDimension))
	})

	It("returns nothing from an empty index", func() {
		hits, err := idx.Query(ctx, []float32{1}, 5)
		Expect(err).NotTo(HaveOccurred())
		Expect(hits).To(BeEmpty())
	})
})
