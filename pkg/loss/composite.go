package loss

import (
	"gonum.org/v1/gonum/mat"

	"github.com/quillml/distill/pkg/cca"
)

// Output key prefixes of the composite terms.
const (
	PrefixContextual = "contextual_"
	PrefixStatic     = "static_"
)

// StaticContextualOption configures a StaticContextual loss.
type StaticContextualOption func(*StaticContextual)

// WithContextual sets the contextual-target term and its weight.
func WithContextual(l Masked, lam float64) StaticContextualOption {
	return func(s *StaticContextual) {
		s.contextual = l
		s.lam = lam
	}
}

// WithStatic sets the static-target term.
func WithStatic(l Masked) StaticContextualOption {
	return func(s *StaticContextual) { s.static = l }
}

// WithMaxLength masks documents longer than maxLength out of the
// contextual term. The contextual teacher truncates its input, so scoring
// the student against it on documents the teacher never fully read only
// adds noise. Zero disables the mask.
func WithMaxLength(maxLength int) StaticContextualOption {
	return func(s *StaticContextual) { s.maxLength = maxLength }
}

// StaticContextual mixes a weighted contextual-teacher term with a
// static-teacher term:
//
//	loss = lam·contextual(pooled, contextualTarget) + static(pooled, staticTarget)
//
// Either term may be absent; with both absent the loss is identically
// zero, which keeps a targets-free training run wired through the same
// code path. Term outputs are re-keyed under the contextual_/static_
// prefixes so per-term diagnostics survive the merge.
type StaticContextual struct {
	contextual Masked
	static     Masked
	lam        float64
	maxLength  int
}

// NewStaticContextual builds the composite.
func NewStaticContextual(opts ...StaticContextualOption) *StaticContextual {
	s := &StaticContextual{lam: 1}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Forward scores one batch. lengths gives each document's token count for
// the contextual mask and may be nil when no mask is configured.
func (s *StaticContextual) Forward(pooled, contextualTarget, staticTarget *mat.Dense, lengths []float64) (cca.Outputs, error) {
	out := cca.Outputs{}
	total := 0.0

	if s.contextual != nil {
		var mask []bool
		if s.maxLength > 0 && lengths != nil {
			mask = make([]bool, len(lengths))
			for i, l := range lengths {
				mask[i] = l <= float64(s.maxLength)
			}
		}
		co, err := s.contextual.ForwardMasked(pooled, contextualTarget, mask)
		if err != nil {
			return nil, err
		}
		for k, v := range co {
			out[PrefixContextual+k] = v
		}
		total += s.lam * co.Loss()
	}

	if s.static != nil {
		so, err := s.static.ForwardMasked(pooled, staticTarget, nil)
		if err != nil {
			return nil, err
		}
		for k, v := range so {
			out[PrefixStatic+k] = v
		}
		total += so.Loss()
	}

	out[cca.KeyLoss] = total
	return out, nil
}
