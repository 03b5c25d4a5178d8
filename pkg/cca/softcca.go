package cca

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

const (
	// DefaultSDLAlpha is the decay for the stochastic decorrelation
	// covariance estimate.
	DefaultSDLAlpha = 0.8

	// Named output terms of the soft-CCA loss.
	KeySDL1 = "sdl1"
	KeySDL2 = "sdl2"
	KeyL2   = "l2"

	batchNormEps = 1e-5
)

// SDLOption configures a StochasticDecorrelation loss.
type SDLOption func(*StochasticDecorrelation)

// WithSDLAlpha sets the covariance decay.
func WithSDLAlpha(alpha float64) SDLOption {
	return func(s *StochasticDecorrelation) { s.alpha = alpha }
}

// StochasticDecorrelation penalizes off-diagonal correlation within a
// single view. Each Forward batch-normalizes the view, folds its
// covariance into a plain EMA accumulator, and scores the sum of absolute
// off-diagonal entries of the averaged estimate. The normalization factor
// accumulates alongside the covariance, so the estimate is an average of
// batch covariances rather than a bias-corrected EMA.
// Not safe for concurrent use.
type StochasticDecorrelation struct {
	dim   int
	alpha float64

	sigma      *mat.Dense
	normFactor float64
}

// NewStochasticDecorrelation builds the loss for views of the given width.
func NewStochasticDecorrelation(dim int, opts ...SDLOption) *StochasticDecorrelation {
	s := &StochasticDecorrelation{dim: dim, alpha: DefaultSDLAlpha}
	for _, opt := range opts {
		opt(s)
	}
	s.Reset()
	return s
}

// Reset clears the covariance accumulator.
func (s *StochasticDecorrelation) Reset() {
	s.sigma = mat.NewDense(s.dim, s.dim, nil)
	s.normFactor = 0
}

// Forward scores one batch and returns the batch-normalized view so the
// composite loss can reuse it for the cross-view distance.
func (s *StochasticDecorrelation) Forward(view *mat.Dense) (float64, *mat.Dense, error) {
	r, c := view.Dims()
	if c != s.dim {
		return 0, nil, fmt.Errorf("%w: view has %d columns, want %d", ErrShape, c, s.dim)
	}
	if r < 2 {
		return 0, nil, fmt.Errorf("%w: need at least 2 observations, got %d", ErrShape, r)
	}

	normalized := batchNormalize(view)
	batchSigma := covariance(normalized, normalized, 0)

	s.sigma.Scale(s.alpha, s.sigma)
	s.sigma.Add(s.sigma, batchSigma)
	s.normFactor = s.normFactor*s.alpha + 1

	loss := 0.0
	for i := 0; i < s.dim; i++ {
		for j := 0; j < s.dim; j++ {
			if i == j {
				continue
			}
			loss += math.Abs(s.sigma.At(i, j) / s.normFactor)
		}
	}
	return loss, normalized, nil
}

// StateDict snapshots the accumulator and its normalization factor.
func (s *StochasticDecorrelation) StateDict() map[string]any {
	return map[string]any{
		"sigma":       denseToRows(s.sigma),
		"norm_factor": s.normFactor,
	}
}

// LoadStateDict restores a snapshot produced by StateDict.
func (s *StochasticDecorrelation) LoadStateDict(state map[string]any) error {
	sigma, err := stateDense(state, "sigma", s.dim, s.dim)
	if err != nil {
		return err
	}
	nf, err := stateFloat(state, "norm_factor")
	if err != nil {
		return err
	}
	s.sigma = sigma
	s.normFactor = nf
	return nil
}

// SoftCCA approximates CCA without eigendecompositions: an L2 distance
// between the batch-normalized views plus a decorrelation penalty per
// view. Both views must share a width so the distance term is defined.
type SoftCCA struct {
	sdl1, sdl2 *StochasticDecorrelation
	lam        float64
}

// NewSoftCCA composes two per-view decorrelation losses with the distance
// weight lam.
func NewSoftCCA(sdl1, sdl2 *StochasticDecorrelation, lam float64) *SoftCCA {
	return &SoftCCA{sdl1: sdl1, sdl2: sdl2, lam: lam}
}

// Forward scores one aligned pair of batches. Outputs carry the three
// terms alongside the total.
func (c *SoftCCA) Forward(view1, view2 *mat.Dense) (Outputs, error) {
	if err := checkPair(view1, view2); err != nil {
		return nil, err
	}
	_, c1 := view1.Dims()
	_, c2 := view2.Dims()
	if c1 != c2 {
		return nil, fmt.Errorf("%w: views are %d and %d wide", ErrShape, c1, c2)
	}

	s1, n1, err := c.sdl1.Forward(view1)
	if err != nil {
		return nil, err
	}
	s2, n2, err := c.sdl2.Forward(view2)
	if err != nil {
		return nil, err
	}

	var diff mat.Dense
	diff.Sub(n1, n2)
	l2 := mat.Norm(&diff, 2)

	return Outputs{
		KeyLoss: c.lam*l2 + s1 + s2,
		KeySDL1: s1,
		KeySDL2: s2,
		KeyL2:   l2,
	}, nil
}

// Reset clears both decorrelation accumulators.
func (c *SoftCCA) Reset() {
	c.sdl1.Reset()
	c.sdl2.Reset()
}

// StateDict nests the two per-view snapshots.
func (c *SoftCCA) StateDict() map[string]any {
	return map[string]any{
		"sdl1": c.sdl1.StateDict(),
		"sdl2": c.sdl2.StateDict(),
	}
}

// LoadStateDict restores a snapshot produced by StateDict.
func (c *SoftCCA) LoadStateDict(state map[string]any) error {
	for key, sdl := range map[string]*StochasticDecorrelation{"sdl1": c.sdl1, "sdl2": c.sdl2} {
		raw, ok := state[key]
		if !ok {
			return fmt.Errorf("cca: state is missing %q", key)
		}
		sub, ok := raw.(map[string]any)
		if !ok {
			return fmt.Errorf("cca: state %q is %T, want map", key, raw)
		}
		if err := sdl.LoadStateDict(sub); err != nil {
			return err
		}
	}
	return nil
}

// batchNormalize standardizes every column to zero mean and unit variance
// over the batch, with a variance floor for constant columns.
func batchNormalize(x *mat.Dense) *mat.Dense {
	r, c := x.Dims()
	means := columnMeans(x)

	vars := make([]float64, c)
	for i := 0; i < r; i++ {
		row := x.RawRowView(i)
		for j := 0; j < c; j++ {
			d := row[j] - means[j]
			vars[j] += d * d
		}
	}
	for j := range vars {
		vars[j] /= float64(r)
	}

	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		row := x.RawRowView(i)
		for j := 0; j < c; j++ {
			out.Set(i, j, (row[j]-means[j])/math.Sqrt(vars[j]+batchNormEps))
		}
	}
	return out
}
