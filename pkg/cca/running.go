package cca

import "gonum.org/v1/gonum/mat"

// Diagnostic keys reported next to the loss so the covariance estimates
// can be tracked over a run.
const (
	// KeySigma12Norm is the Frobenius norm of the corrected cross-view
	// covariance estimate.
	KeySigma12Norm = "sigma12_norm"

	// KeySigma2Norm is the Frobenius norm of the corrected second-view
	// covariance estimate.
	KeySigma2Norm = "sigma2_norm"
)

// RunningLoss is the CCA loss over running covariance estimates: each
// Forward folds the batch into the estimator and correlates the corrected
// triple instead of the batch triple. Same-view regularization is owned by
// the estimator's ridge, so unlike the exact loss the correlation step
// adds no ridge of its own beyond the fixed-dimension branch.
type RunningLoss struct {
	cfg lossConfig
	cov *RunningCovariance
}

// NewRunningLoss wraps a covariance estimator. The estimator's view
// dimensions fix the accepted batch shapes.
func NewRunningLoss(cov *RunningCovariance, opts ...LossOption) *RunningLoss {
	return &RunningLoss{cfg: newLossConfig(opts), cov: cov}
}

// Forward updates the running estimates with the batch and returns the
// negated correlation of the corrected covariance triple, plus norm
// diagnostics of the corrected estimates.
func (l *RunningLoss) Forward(view1, view2 *mat.Dense) (Outputs, error) {
	sigma12, sigma1, sigma2, err := l.cov.Update(view1, view2)
	if err != nil {
		return nil, err
	}
	corr, err := correlation(sigma12, sigma1, sigma2, l.cfg)
	if err != nil {
		return nil, err
	}
	return Outputs{
		KeyLoss:        -corr,
		KeySigma12Norm: mat.Norm(sigma12, 2),
		KeySigma2Norm:  mat.Norm(sigma2, 2),
	}, nil
}

// Covariance exposes the estimator for callers that inspect or checkpoint
// the running state.
func (l *RunningLoss) Covariance() *RunningCovariance { return l.cov }

// Reset clears the running estimates.
func (l *RunningLoss) Reset() { l.cov.Reset() }

// StateDict forwards to the estimator.
func (l *RunningLoss) StateDict() map[string]any { return l.cov.StateDict() }

// LoadStateDict forwards to the estimator.
func (l *RunningLoss) LoadStateDict(state map[string]any) error {
	return l.cov.LoadStateDict(state)
}
