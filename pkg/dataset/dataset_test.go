package dataset_test

import (
	"io"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/quillml/distill/pkg/dataset"
)

const corpus = `{"id":1,"text":"alpha beta gamma","labels":[2],"sbert":[0.1,0.2],"dbow":[1,0]}
{"id":2,"text":"delta","sbert":[0.3,0.4],"dbow":[0,1]}

{"id":3,"text":"epsilon zeta","length":99,"sbert":[0.5,0.6],"dbow":[1,1]}
`

func writeCorpus(dir string) string {
	path := filepath.Join(dir, "corpus.jsonl")
	Expect(os.WriteFile(path, []byte(corpus), 0o644)).To(Succeed())
	return path
}

var _ = Describe("LoadJSONL", func() {
	It("parses documents, skips blank lines, and backfills lengths", func() {
		src, err := dataset.LoadJSONL(writeCorpus(GinkgoT().TempDir()), 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(src.Len()).To(Equal(3))

		first, err := src.Next()
		Expect(err).NotTo(HaveOccurred())
		Expect(first.ID).To(Equal(int64(1)))
		Expect(first.Labels).To(Equal([]int64{2}))
		Expect(first.Length).To(Equal(3))

		_, err = src.Next()
		Expect(err).NotTo(HaveOccurred())

		third, err := src.Next()
		Expect(err).NotTo(HaveOccurred())
		// An explicit length wins over the token count.
		Expect(third.Length).To(Equal(99))

		_, err = src.Next()
		Expect(err).To(MatchError(io.EOF))
	})

	It("honors the load limit", func() {
		src, err := dataset.LoadJSONL(writeCorpus(GinkgoT().TempDir()), 2)
		Expect(err).NotTo(HaveOccurred())
		Expect(src.Len()).To(Equal(2))
	})

	It("reports the failing line on malformed input", func() {
		path := filepath.Join(GinkgoT().TempDir(), "bad.jsonl")
		Expect(os.WriteFile(path, []byte("{\"id\":1}\nnot json\n"), 0o644)).To(Succeed())
		_, err := dataset.LoadJSONL(path, 0)
		Expect(err).To(MatchError(ContainSubstring("line 2")))
	})
})

var _ = Describe("Limit", func() {
	It("caps the stream and restarts cleanly", func() {
		src := dataset.Limit(dataset.NewInMemory([]*dataset.Document{
			{ID: 1}, {ID: 2}, {ID: 3},
		}), 2)
		Expect(src.Len()).To(Equal(2))

		for i := 0; i < 2; i++ {
			_, err := src.Next()
			Expect(err).NotTo(HaveOccurred())
		}
		_, err := src.Next()
		Expect(err).To(MatchError(io.EOF))

		Expect(src.Reset()).To(Succeed())
		doc, err := src.Next()
		Expect(err).NotTo(HaveOccurred())
		Expect(doc.ID).To(Equal(int64(1)))
	})
})

var _ = Describe("ReadBatch", func() {
	It("returns a short final batch and then EOF", func() {
		src := dataset.NewInMemory([]*dataset.Document{{ID: 1}, {ID: 2}, {ID: 3}})

		batch, err := dataset.ReadBatch(src, 2)
		Expect(err).NotTo(HaveOccurred())
		Expect(batch).To(HaveLen(2))

		batch, err = dataset.ReadBatch(src, 2)
		Expect(err).NotTo(HaveOccurred())
		Expect(batch).To(HaveLen(1))

		_, err = dataset.ReadBatch(src, 2)
		Expect(err).To(MatchError(io.EOF))
	})
})

var _ = Describe("Batch matrices", func() {
	docs := []*dataset.Document{
		{ID: 1, Length: 3, Contextual: []float32{1, 2}, Static: []float32{5}},
		{ID: 2, Length: 7, Contextual: []float32{3, 4}, Static: []float32{6}},
	}

	It("stacks embeddings row per document", func() {
		m, err := dataset.ContextualMatrix(docs)
		Expect(err).NotTo(HaveOccurred())
		r, c := m.Dims()
		Expect(r).To(Equal(2))
		Expect(c).To(Equal(2))
		Expect(m.At(1, 0)).To(Equal(3.0))

		s, err := dataset.StaticMatrix(docs)
		Expect(err).NotTo(HaveOccurred())
		_, sc := s.Dims()
		Expect(sc).To(Equal(1))
	})

	It("rejects ragged embedding widths", func() {
		ragged := []*dataset.Document{
			{ID: 1, Contextual: []float32{1, 2}},
			{ID: 2, Contextual: []float32{3}},
		}
		_, err := dataset.ContextualMatrix(ragged)
		Expect(err).To(HaveOccurred())
	})

	It("rejects documents without the field", func() {
		_, err := dataset.StaticMatrix([]*dataset.Document{{ID: 1}})
		Expect(err).To(MatchError(dataset.ErrNoField))
	})

	It("collects lengths as floats", func() {
		Expect(dataset.Lengths(docs)).To(Equal([]float64{3, 7}))
	})
})
