// Package loss provides the pairwise similarity losses used to pull a
// pooled document embedding toward its teacher targets, plus the composite
// that mixes a contextual term with a static one. Losses operate on
// aligned batches of row vectors and support row masking so documents
// beyond a length threshold can be excluded from a term without leaving
// the batch.
package loss

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/quillml/distill/pkg/cca"
)

// Loss kinds accepted by New.
const (
	KindMSE         = "mse"
	KindCosine      = "cos_dist"
	KindContrastive = "contrastive"
	KindSoftCCA     = "soft_cca"
)

// ErrUnknownKind is returned by New for an unrecognized loss name.
var ErrUnknownKind = errors.New("loss: unknown kind")

// Masked losses score aligned batches under an optional row mask. Masked
// rows contribute nothing and the total normalizes by the surviving row
// count; an all-false mask yields zero. A nil mask keeps every row.
type Masked interface {
	ForwardMasked(view1, view2 *mat.Dense, mask []bool) (cca.Outputs, error)
}

// Option configures New.
type Option func(*config)

type config struct {
	margin  float64
	dim     int
	softLam float64
}

// WithMargin sets the contrastive margin.
func WithMargin(margin float64) Option {
	return func(c *config) { c.margin = margin }
}

// WithDim sets the view width for losses that carry running state.
func WithDim(dim int) Option {
	return func(c *config) { c.dim = dim }
}

// WithSoftCCALam sets the distance weight of the soft-CCA loss.
func WithSoftCCALam(lam float64) Option {
	return func(c *config) { c.softLam = lam }
}

// New builds a masked loss by name.
func New(kind string, opts ...Option) (Masked, error) {
	cfg := config{margin: 1, softLam: 1}
	for _, opt := range opts {
		opt(&cfg)
	}
	switch kind {
	case KindMSE:
		return MSE{}, nil
	case KindCosine:
		return CosineDistance{}, nil
	case KindContrastive:
		return NewContrastive(cfg.margin), nil
	case KindSoftCCA:
		if cfg.dim <= 0 {
			return nil, fmt.Errorf("loss: %s needs a positive dimension", kind)
		}
		return maskedPair{inner: cca.NewSoftCCA(
			cca.NewStochasticDecorrelation(cfg.dim),
			cca.NewStochasticDecorrelation(cfg.dim),
			cfg.softLam,
		)}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

// MSE is the per-row mean squared error.
type MSE struct{}

func (MSE) ForwardMasked(view1, view2 *mat.Dense, mask []bool) (cca.Outputs, error) {
	rows, err := checkAligned(view1, view2, mask)
	if err != nil {
		return nil, err
	}
	_, cols := view1.Dims()

	total, kept := 0.0, 0
	for i := 0; i < rows; i++ {
		if mask != nil && !mask[i] {
			continue
		}
		r1 := view1.RawRowView(i)
		r2 := view2.RawRowView(i)
		rowLoss := 0.0
		for j := 0; j < cols; j++ {
			d := r1[j] - r2[j]
			rowLoss += d * d
		}
		total += rowLoss / float64(cols)
		kept++
	}
	if kept > 0 {
		total /= float64(kept)
	}
	return cca.Outputs{cca.KeyLoss: total}, nil
}

// CosineDistance is 1 minus the per-row cosine similarity. Zero rows
// count as distance 1.
type CosineDistance struct{}

func (CosineDistance) ForwardMasked(view1, view2 *mat.Dense, mask []bool) (cca.Outputs, error) {
	rows, err := checkAligned(view1, view2, mask)
	if err != nil {
		return nil, err
	}

	total, kept := 0.0, 0
	for i := 0; i < rows; i++ {
		if mask != nil && !mask[i] {
			continue
		}
		total += 1 - cosine(view1.RawRowView(i), view2.RawRowView(i))
		kept++
	}
	if kept > 0 {
		total /= float64(kept)
	}
	return cca.Outputs{cca.KeyLoss: total}, nil
}

// Output keys added by the contrastive loss.
const (
	KeyContrastivePositive = "contrastive_positive"
	KeyContrastiveNegative = "contrastive_negative"
)

// Contrastive is a margin loss with in-batch negatives: each row's target
// is its positive, every other row's target is a negative. Alongside the
// loss it reports the mean positive and negative similarities, which make
// collapse visible long before the loss plateaus.
type Contrastive struct {
	margin float64
}

func NewContrastive(margin float64) Contrastive {
	return Contrastive{margin: margin}
}

func (c Contrastive) ForwardMasked(view1, view2 *mat.Dense, mask []bool) (cca.Outputs, error) {
	rows, err := checkAligned(view1, view2, mask)
	if err != nil {
		return nil, err
	}

	kept := make([]int, 0, rows)
	for i := 0; i < rows; i++ {
		if mask == nil || mask[i] {
			kept = append(kept, i)
		}
	}
	if len(kept) == 0 {
		return cca.Outputs{
			cca.KeyLoss:            0,
			KeyContrastivePositive: 0,
			KeyContrastiveNegative: 0,
		}, nil
	}

	total := 0.0
	posSum, negSum := 0.0, 0.0
	negCount := 0
	for _, i := range kept {
		pos := cosine(view1.RawRowView(i), view2.RawRowView(i))
		posSum += pos
		rowLoss := 0.0
		for _, j := range kept {
			if j == i {
				continue
			}
			neg := cosine(view1.RawRowView(i), view2.RawRowView(j))
			negSum += neg
			negCount++
			if v := c.margin - pos + neg; v > 0 {
				rowLoss += v
			}
		}
		if len(kept) > 1 {
			rowLoss /= float64(len(kept) - 1)
		}
		total += rowLoss
	}
	total /= float64(len(kept))

	out := cca.Outputs{
		cca.KeyLoss:            total,
		KeyContrastivePositive: posSum / float64(len(kept)),
		KeyContrastiveNegative: 0,
	}
	if negCount > 0 {
		out[KeyContrastiveNegative] = negSum / float64(negCount)
	}
	return out, nil
}

// Pair adapts a stateful pair loss, such as a running CCA or a
// projection-wrapped soft CCA, to the Masked interface.
func Pair(inner cca.PairLoss) Masked {
	return maskedPair{inner: inner}
}

// maskedPair adapts a stateful pair loss that has no masked form: masked
// rows are dropped from both views before the forward pass.
type maskedPair struct {
	inner cca.PairLoss
}

func (m maskedPair) ForwardMasked(view1, view2 *mat.Dense, mask []bool) (cca.Outputs, error) {
	// Pair losses accept views of different widths; only the rows and
	// the mask must line up.
	rows, err := checkRows(view1, view2, mask)
	if err != nil {
		return nil, err
	}
	if mask == nil {
		return m.inner.Forward(view1, view2)
	}

	kept := make([]int, 0, rows)
	for i := 0; i < rows; i++ {
		if mask[i] {
			kept = append(kept, i)
		}
	}
	if len(kept) == 0 {
		return cca.Outputs{cca.KeyLoss: 0}, nil
	}
	return m.inner.Forward(selectRows(view1, kept), selectRows(view2, kept))
}

func selectRows(x *mat.Dense, idx []int) *mat.Dense {
	_, c := x.Dims()
	out := mat.NewDense(len(idx), c, nil)
	for k, i := range idx {
		out.SetRow(k, x.RawRowView(i))
	}
	return out
}

// checkAligned requires element-wise compatible views: same rows and the
// same width. For the per-element losses (MSE, cosine, contrastive).
func checkAligned(view1, view2 *mat.Dense, mask []bool) (int, error) {
	r1, c1 := view1.Dims()
	r2, c2 := view2.Dims()
	if r1 != r2 || c1 != c2 {
		return 0, fmt.Errorf("%w: %dx%d vs %dx%d", cca.ErrShape, r1, c1, r2, c2)
	}
	return checkMask(r1, mask)
}

// checkRows requires only paired rows; the views may have independent
// widths, as the CCA-family losses allow.
func checkRows(view1, view2 *mat.Dense, mask []bool) (int, error) {
	r1, _ := view1.Dims()
	r2, _ := view2.Dims()
	if r1 != r2 {
		return 0, fmt.Errorf("%w: %d rows vs %d rows", cca.ErrShape, r1, r2)
	}
	return checkMask(r1, mask)
}

func checkMask(rows int, mask []bool) (int, error) {
	if mask != nil && len(mask) != rows {
		return 0, fmt.Errorf("%w: mask has %d entries for %d rows", cca.ErrShape, len(mask), rows)
	}
	return rows, nil
}

func cosine(a, b []float64) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
