// Package cca implements canonical-correlation losses for relating two
// embedding views: exact batch CCA, a running-estimate variant backed by
// exponential-moving-average covariances, and the cheaper soft-CCA
// decorrelation family. Losses are negated correlations, so minimizing the
// loss maximizes the correlation between views.
package cca

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
)

const (
	// KeyLoss is present in every Outputs map.
	KeyLoss = "loss"

	// DefaultRegularization is the ridge constant added to same-view
	// covariances (and to AᵀA in the fixed-output-dimension branch).
	DefaultRegularization = 1e-3

	// DefaultEpsilon is the eigenvalue floor below which eigenpairs are
	// considered numerically unusable.
	DefaultEpsilon = 1e-9
)

var (
	// ErrShape is returned for mismatched view shapes. Shape violations
	// are configuration bugs and fail loudly.
	ErrShape = errors.New("cca: mismatched view shapes")

	// ErrEigenFailed is returned when an eigensolver or SVD does not
	// converge. Metric layers catch this and report NaN; a single
	// degenerate batch must not abort a run.
	ErrEigenFailed = errors.New("cca: eigendecomposition failed to converge")

	// ErrDegenerate is returned when every eigenvalue of a covariance
	// falls below the epsilon floor.
	ErrDegenerate = errors.New("cca: covariance is numerically degenerate")

	// ErrOutputDim is returned when the requested output dimension
	// exceeds the available rank.
	ErrOutputDim = errors.New("cca: output dimension exceeds available rank")
)

// Outputs carries the named scalar terms of one loss evaluation, mirroring
// the per-step diagnostics a metric logger consumes. KeyLoss is always set.
type Outputs map[string]float64

// Loss returns the total-loss entry.
func (o Outputs) Loss() float64 { return o[KeyLoss] }

// PairLoss is a pairwise similarity loss over two aligned batches of
// row vectors with equal row counts and independent column counts.
type PairLoss interface {
	Forward(view1, view2 *mat.Dense) (Outputs, error)
}

// LossOption configures the CCA loss family.
type LossOption func(*lossConfig)

type lossConfig struct {
	outputDim int
	reg       float64
	eps       float64
}

// WithOutputDim requests the sum of the top-d canonical correlations
// instead of all of them. Zero means use every retained dimension.
func WithOutputDim(d int) LossOption {
	return func(c *lossConfig) { c.outputDim = d }
}

// WithRegularization sets the ridge constant.
func WithRegularization(reg float64) LossOption {
	return func(c *lossConfig) { c.reg = reg }
}

// WithEpsilon sets the eigenvalue floor.
func WithEpsilon(eps float64) LossOption {
	return func(c *lossConfig) { c.eps = eps }
}

func newLossConfig(opts []LossOption) lossConfig {
	c := lossConfig{
		reg: DefaultRegularization,
		eps: DefaultEpsilon,
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// Loss is the exact-batch CCA loss. Each Forward computes the covariance
// triple from the batch alone.
type Loss struct {
	cfg lossConfig
}

func NewLoss(opts ...LossOption) *Loss {
	return &Loss{cfg: newLossConfig(opts)}
}

// Forward computes the negated canonical correlation between the two
// batches. Same-view covariances are ridge-regularized before whitening.
func (l *Loss) Forward(view1, view2 *mat.Dense) (Outputs, error) {
	if err := checkPair(view1, view2); err != nil {
		return nil, err
	}

	c1 := centerColumns(view1, nil)
	c2 := centerColumns(view2, nil)

	sigma12 := covariance(c1, c2, 0)
	sigma1 := covariance(c1, c1, l.cfg.reg)
	sigma2 := covariance(c2, c2, l.cfg.reg)

	corr, err := correlation(sigma12, sigma1, sigma2, l.cfg)
	if err != nil {
		return nil, err
	}
	return Outputs{KeyLoss: -corr}, nil
}

// Correlation is a convenience for metric layers: the sum of the top
// `components` canonical correlations between the two batches.
func Correlation(view1, view2 *mat.Dense, components int) (float64, error) {
	out, err := NewLoss(WithOutputDim(components)).Forward(view1, view2)
	if err != nil {
		return math.NaN(), err
	}
	return -out.Loss(), nil
}

func checkPair(view1, view2 *mat.Dense) error {
	r1, _ := view1.Dims()
	r2, _ := view2.Dims()
	if r1 != r2 {
		return fmt.Errorf("%w: %d vs %d rows", ErrShape, r1, r2)
	}
	if r1 < 2 {
		return fmt.Errorf("%w: need at least 2 observations, got %d", ErrShape, r1)
	}
	return nil
}

// centerColumns subtracts a per-column mean from every row. A nil mean
// means the batch column mean.
func centerColumns(x *mat.Dense, mean []float64) *mat.Dense {
	r, c := x.Dims()
	if mean == nil {
		mean = columnMeans(x)
	}
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		row := x.RawRowView(i)
		for j := 0; j < c; j++ {
			out.Set(i, j, row[j]-mean[j])
		}
	}
	return out
}

func columnMeans(x *mat.Dense) []float64 {
	r, c := x.Dims()
	means := make([]float64, c)
	for i := 0; i < r; i++ {
		row := x.RawRowView(i)
		for j := 0; j < c; j++ {
			means[j] += row[j]
		}
	}
	for j := range means {
		means[j] /= float64(r)
	}
	return means
}

// covariance computes (1/(n-1))·xᵀy for centered matrices with
// observations as rows, optionally adding reg·I (square results only).
func covariance(x, y *mat.Dense, reg float64) *mat.Dense {
	n, _ := x.Dims()
	var cov mat.Dense
	cov.Mul(x.T(), y)
	cov.Scale(1/float64(n-1), &cov)
	if reg > 0 {
		r, c := cov.Dims()
		if r == c {
			for i := 0; i < r; i++ {
				cov.Set(i, i, cov.At(i, i)+reg)
			}
		}
	}
	return &cov
}

// correlation runs the shared eigen pipeline over a covariance triple.
//
// The two branches treat small eigenvalues differently on purpose: the
// whitening step discards eigenpairs at or below epsilon, while the
// fixed-output-dimension branch clamps them to epsilon. The asymmetry
// matches the reference behavior and is covered by tests; do not unify it
// silently.
func correlation(sigma12, sigma1, sigma2 *mat.Dense, cfg lossConfig) (float64, error) {
	w1, err := invSqrtSym(sigma1, cfg.eps)
	if err != nil {
		return 0, err
	}
	w2, err := invSqrtSym(sigma2, cfg.eps)
	if err != nil {
		return 0, err
	}

	// A's singular values are the canonical correlations.
	var a mat.Dense
	a.Mul(w1, sigma12)
	a.Mul(&a, w2)

	if cfg.outputDim == 0 {
		var svd mat.SVD
		if !svd.Factorize(&a, mat.SVDNone) {
			return 0, ErrEigenFailed
		}
		total := 0.0
		for _, s := range svd.Values(nil) {
			total += s
		}
		return total, nil
	}

	var ata mat.Dense
	ata.Mul(a.T(), &a)
	n, _ := ata.Dims()
	for i := 0; i < n; i++ {
		ata.Set(i, i, ata.At(i, i)+cfg.reg)
	}

	vals, err := symEigenvalues(&ata)
	if err != nil {
		return 0, err
	}
	if cfg.outputDim > len(vals) {
		return 0, fmt.Errorf("%w: %d > %d", ErrOutputDim, cfg.outputDim, len(vals))
	}

	for i, v := range vals {
		if v <= cfg.eps {
			vals[i] = cfg.eps
		}
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(vals)))

	total := 0.0
	for _, v := range vals[:cfg.outputDim] {
		total += math.Sqrt(v)
	}
	return total, nil
}

// invSqrtSym computes the inverse square root of a symmetric positive
// semi-definite matrix, dropping eigenpairs whose eigenvalue is at or
// below eps for stability.
func invSqrtSym(a *mat.Dense, eps float64) (*mat.Dense, error) {
	n, c := a.Dims()
	if n != c {
		return nil, fmt.Errorf("%w: %dx%d is not square", ErrShape, n, c)
	}

	sym := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			sym.SetSym(i, j, 0.5*(a.At(i, j)+a.At(j, i)))
		}
	}

	var eig mat.EigenSym
	if !eig.Factorize(sym, true) {
		return nil, ErrEigenFailed
	}
	vals := eig.Values(nil)
	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	keep := make([]int, 0, n)
	for i, v := range vals {
		if v > eps {
			keep = append(keep, i)
		}
	}
	if len(keep) == 0 {
		return nil, ErrDegenerate
	}

	// W = V·diag(λ^-1/2)·Vᵀ over the surviving eigenpairs.
	sub := mat.NewDense(n, len(keep), nil)
	for k, idx := range keep {
		for i := 0; i < n; i++ {
			sub.Set(i, k, vecs.At(i, idx)*math.Pow(vals[idx], -0.25))
		}
	}
	var w mat.Dense
	w.Mul(sub, sub.T())
	return &w, nil
}

// symEigenvalues returns the eigenvalues of a symmetric matrix, ascending.
func symEigenvalues(a *mat.Dense) ([]float64, error) {
	n, _ := a.Dims()
	sym := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			sym.SetSym(i, j, 0.5*(a.At(i, j)+a.At(j, i)))
		}
	}
	var eig mat.EigenSym
	if !eig.Factorize(sym, false) {
		return nil, ErrEigenFailed
	}
	return eig.Values(nil), nil
}
