package cca

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

const (
	// DefaultBetaMu is the decay for the running mean estimate.
	DefaultBetaMu = 0.9

	// DefaultBetaSigma is the decay for the running covariance estimate.
	DefaultBetaSigma = 0.95
)

// CovarianceOption configures a RunningCovariance.
type CovarianceOption func(*RunningCovariance)

// WithBetaMu sets the mean decay. Zero reduces corrected estimates to
// plain batch statistics.
func WithBetaMu(beta float64) CovarianceOption {
	return func(r *RunningCovariance) { r.betaMu = beta }
}

// WithBetaSigma sets the covariance decay.
func WithBetaSigma(beta float64) CovarianceOption {
	return func(r *RunningCovariance) { r.betaSigma = beta }
}

// WithRidge adds ridge·I to the corrected same-view covariances returned
// by Update. The cross-covariance is never regularized.
func WithRidge(ridge float64) CovarianceOption {
	return func(r *RunningCovariance) { r.ridge = ridge }
}

// RunningCovariance maintains exponential-moving-average estimates of the
// covariance triple (Σ12, Σ1, Σ2) across batches, with bias correction
// acc/(1-βᵖ) so early estimates are not pulled toward the zero init.
// Not safe for concurrent use.
type RunningCovariance struct {
	dim1, dim2 int

	betaMu    float64
	betaSigma float64
	ridge     float64

	mu1, mu2                []float64
	sigma12, sigma1, sigma2 *mat.Dense

	betaMuPower    float64
	betaSigmaPower float64
}

// NewRunningCovariance builds an estimator for views of the given widths.
// Same-view covariances initialize to identity and the cross-covariance
// to zero, matching the uninformed prior of uncorrelated unit-variance
// features.
func NewRunningCovariance(dim1, dim2 int, opts ...CovarianceOption) *RunningCovariance {
	r := &RunningCovariance{
		dim1:      dim1,
		dim2:      dim2,
		betaMu:    DefaultBetaMu,
		betaSigma: DefaultBetaSigma,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.Reset()
	return r
}

// Reset restores the estimator to its initial state.
func (r *RunningCovariance) Reset() {
	r.mu1 = make([]float64, r.dim1)
	r.mu2 = make([]float64, r.dim2)
	r.sigma12 = mat.NewDense(r.dim1, r.dim2, nil)
	r.sigma1 = identity(r.dim1)
	r.sigma2 = identity(r.dim2)
	r.betaMuPower = 1
	r.betaSigmaPower = 1
}

// Update folds one aligned batch into the running estimates and returns
// the bias-corrected covariance triple. Returned matrices are detached
// copies; mutating them does not affect the estimator.
func (r *RunningCovariance) Update(view1, view2 *mat.Dense) (sigma12, sigma1, sigma2 *mat.Dense, err error) {
	if err := checkPair(view1, view2); err != nil {
		return nil, nil, nil, err
	}
	if _, c := view1.Dims(); c != r.dim1 {
		return nil, nil, nil, fmt.Errorf("%w: view1 has %d columns, want %d", ErrShape, c, r.dim1)
	}
	if _, c := view2.Dims(); c != r.dim2 {
		return nil, nil, nil, fmt.Errorf("%w: view2 has %d columns, want %d", ErrShape, c, r.dim2)
	}

	emaInto(r.mu1, columnMeans(view1), r.betaMu)
	emaInto(r.mu2, columnMeans(view2), r.betaMu)
	r.betaMuPower *= r.betaMu

	// Center by the corrected running mean, not the batch mean, so the
	// covariance update sees deviations from the long-run estimate.
	c1 := centerColumns(view1, r.Mean1())
	c2 := centerColumns(view2, r.Mean2())

	emaMatInto(r.sigma12, covariance(c1, c2, 0), r.betaSigma)
	emaMatInto(r.sigma1, covariance(c1, c1, 0), r.betaSigma)
	emaMatInto(r.sigma2, covariance(c2, c2, 0), r.betaSigma)
	r.betaSigmaPower *= r.betaSigma

	return r.CrossCovariance(), r.Covariance1(), r.Covariance2(), nil
}

// Mean1 returns the bias-corrected running mean of the first view.
func (r *RunningCovariance) Mean1() []float64 { return corrected(r.mu1, r.betaMuPower) }

// Mean2 returns the bias-corrected running mean of the second view.
func (r *RunningCovariance) Mean2() []float64 { return corrected(r.mu2, r.betaMuPower) }

// CrossCovariance returns the bias-corrected Σ12 estimate.
func (r *RunningCovariance) CrossCovariance() *mat.Dense {
	return correctedMat(r.sigma12, r.betaSigmaPower, 0)
}

// Covariance1 returns the bias-corrected, ridge-regularized Σ1 estimate.
func (r *RunningCovariance) Covariance1() *mat.Dense {
	return correctedMat(r.sigma1, r.betaSigmaPower, r.ridge)
}

// Covariance2 returns the bias-corrected, ridge-regularized Σ2 estimate.
func (r *RunningCovariance) Covariance2() *mat.Dense {
	return correctedMat(r.sigma2, r.betaSigmaPower, r.ridge)
}

// StateDict snapshots the raw accumulators and decay powers.
func (r *RunningCovariance) StateDict() map[string]any {
	return map[string]any{
		"mu1":              append([]float64(nil), r.mu1...),
		"mu2":              append([]float64(nil), r.mu2...),
		"sigma12":          denseToRows(r.sigma12),
		"sigma1":           denseToRows(r.sigma1),
		"sigma2":           denseToRows(r.sigma2),
		"beta_mu_power":    r.betaMuPower,
		"beta_sigma_power": r.betaSigmaPower,
	}
}

// LoadStateDict restores a snapshot produced by StateDict.
func (r *RunningCovariance) LoadStateDict(state map[string]any) error {
	mu1, err := stateFloats(state, "mu1")
	if err != nil {
		return err
	}
	mu2, err := stateFloats(state, "mu2")
	if err != nil {
		return err
	}
	if len(mu1) != r.dim1 || len(mu2) != r.dim2 {
		return fmt.Errorf("%w: state means are %dx%d, want %dx%d",
			ErrShape, len(mu1), len(mu2), r.dim1, r.dim2)
	}
	s12, err := stateDense(state, "sigma12", r.dim1, r.dim2)
	if err != nil {
		return err
	}
	s1, err := stateDense(state, "sigma1", r.dim1, r.dim1)
	if err != nil {
		return err
	}
	s2, err := stateDense(state, "sigma2", r.dim2, r.dim2)
	if err != nil {
		return err
	}
	muPow, err := stateFloat(state, "beta_mu_power")
	if err != nil {
		return err
	}
	sigPow, err := stateFloat(state, "beta_sigma_power")
	if err != nil {
		return err
	}

	r.mu1, r.mu2 = mu1, mu2
	r.sigma12, r.sigma1, r.sigma2 = s12, s1, s2
	r.betaMuPower, r.betaSigmaPower = muPow, sigPow
	return nil
}

func identity(n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}

func emaInto(acc, batch []float64, beta float64) {
	for i := range acc {
		acc[i] = acc[i]*beta + (1-beta)*batch[i]
	}
}

func emaMatInto(acc, batch *mat.Dense, beta float64) {
	r, c := acc.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			acc.Set(i, j, acc.At(i, j)*beta+(1-beta)*batch.At(i, j))
		}
	}
}

func corrected(acc []float64, power float64) []float64 {
	out := make([]float64, len(acc))
	denom := 1 - power
	if denom == 0 {
		copy(out, acc)
		return out
	}
	for i, v := range acc {
		out[i] = v / denom
	}
	return out
}

func correctedMat(acc *mat.Dense, power, ridge float64) *mat.Dense {
	r, c := acc.Dims()
	out := mat.NewDense(r, c, nil)
	denom := 1 - power
	if denom == 0 {
		out.Copy(acc)
	} else {
		out.Scale(1/denom, acc)
	}
	if ridge > 0 && r == c {
		for i := 0; i < r; i++ {
			out.Set(i, i, out.At(i, i)+ridge)
		}
	}
	return out
}
