// Package dataset reads document corpora with precomputed teacher
// embeddings. The on-disk format is JSON lines, one document per line,
// with the contextual and static teacher vectors stored under the field
// names of the models that produced them.
package dataset

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// ErrNoField is returned when a batch matrix is requested for a field no
// document in the batch carries.
var ErrNoField = errors.New("dataset: documents are missing the requested field")

// Document is one corpus entry. Labels identify the documents considered
// similar to this one, for retrieval evaluation; an empty slice means the
// document has no known neighbors.
type Document struct {
	ID     int64   `json:"id"`
	Text   string  `json:"text,omitempty"`
	Labels []int64 `json:"labels,omitempty"`

	// Length is the token count of the full document. Zero means
	// unknown, and loaders backfill it from Text when possible.
	Length int `json:"length,omitempty"`

	// Contextual and Static are the precomputed teacher embeddings.
	Contextual []float32 `json:"sbert,omitempty"`
	Static     []float32 `json:"dbow,omitempty"`
}

// Source is a restartable stream of documents. Next returns io.EOF when
// the stream is exhausted.
type Source interface {
	Next() (*Document, error)
	Reset() error
	Len() int
}

// InMemory is a Source over a fixed slice of documents.
type InMemory struct {
	docs   []*Document
	cursor int
}

// NewInMemory wraps a document slice. The slice is not copied.
func NewInMemory(docs []*Document) *InMemory {
	return &InMemory{docs: docs}
}

func (s *InMemory) Next() (*Document, error) {
	if s.cursor >= len(s.docs) {
		return nil, io.EOF
	}
	doc := s.docs[s.cursor]
	s.cursor++
	return doc, nil
}

func (s *InMemory) Reset() error {
	s.cursor = 0
	return nil
}

func (s *InMemory) Len() int { return len(s.docs) }

// LoadJSONL reads a corpus file into memory. A non-positive limit keeps
// every document. Documents without an explicit length get a whitespace
// token count derived from their text.
func LoadJSONL(path string, limit int) (*InMemory, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open corpus: %w", err)
	}
	defer f.Close()

	docs, err := decodeJSONL(f, limit)
	if err != nil {
		return nil, fmt.Errorf("read corpus %s: %w", path, err)
	}
	return NewInMemory(docs), nil
}

func decodeJSONL(r io.Reader, limit int) ([]*Document, error) {
	var docs []*Document
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1<<20), 1<<26)
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		doc := &Document{}
		if err := json.Unmarshal([]byte(raw), doc); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if doc.Length == 0 && doc.Text != "" {
			doc.Length = len(strings.Fields(doc.Text))
		}
		docs = append(docs, doc)
		if limit > 0 && len(docs) >= limit {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return docs, nil
}

// Limit caps a source at the first n documents.
func Limit(src Source, n int) Source {
	if n <= 0 {
		return src
	}
	return &limited{src: src, limit: n}
}

type limited struct {
	src   Source
	limit int
	seen  int
}

func (l *limited) Next() (*Document, error) {
	if l.seen >= l.limit {
		return nil, io.EOF
	}
	doc, err := l.src.Next()
	if err != nil {
		return nil, err
	}
	l.seen++
	return doc, nil
}

func (l *limited) Reset() error {
	l.seen = 0
	return l.src.Reset()
}

func (l *limited) Len() int {
	if n := l.src.Len(); n < l.limit {
		return n
	}
	return l.limit
}

// ReadBatch pulls up to size documents from the source. It returns io.EOF
// only when no documents remain at all; a short final batch comes back
// with a nil error.
func ReadBatch(src Source, size int) ([]*Document, error) {
	batch := make([]*Document, 0, size)
	for len(batch) < size {
		doc, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		batch = append(batch, doc)
	}
	if len(batch) == 0 {
		return nil, io.EOF
	}
	return batch, nil
}

// ContextualMatrix stacks the contextual teacher vectors of a batch into
// a row-per-document matrix. Every document must carry a vector of the
// same width.
func ContextualMatrix(docs []*Document) (*mat.Dense, error) {
	return stack(docs, "contextual", func(d *Document) []float32 { return d.Contextual })
}

// StaticMatrix stacks the static teacher vectors of a batch.
func StaticMatrix(docs []*Document) (*mat.Dense, error) {
	return stack(docs, "static", func(d *Document) []float32 { return d.Static })
}

// Lengths collects the token counts of a batch as a float slice, ready
// for masking and metric updates.
func Lengths(docs []*Document) []float64 {
	out := make([]float64, len(docs))
	for i, d := range docs {
		out[i] = float64(d.Length)
	}
	return out
}

func stack(docs []*Document, field string, get func(*Document) []float32) (*mat.Dense, error) {
	if len(docs) == 0 {
		return nil, fmt.Errorf("%w: empty batch", ErrNoField)
	}
	width := len(get(docs[0]))
	if width == 0 {
		return nil, fmt.Errorf("%w: %q on document %d", ErrNoField, field, docs[0].ID)
	}
	out := mat.NewDense(len(docs), width, nil)
	for i, d := range docs {
		vec := get(d)
		if len(vec) != width {
			return nil, fmt.Errorf("dataset: document %d has a %d-wide %q vector, want %d",
				d.ID, len(vec), field, width)
		}
		for j, v := range vec {
			out.Set(i, j, float64(v))
		}
	}
	return out, nil
}
