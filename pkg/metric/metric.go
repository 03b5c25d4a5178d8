// Package metric provides streaming metrics for training and evaluation
// runs: stateful accumulators that are updated per batch, read periodically,
// and merged across independent workers after their updates complete.
//
// Update calls must be strictly sequential per metric instance. MergeState
// is the only mechanism for combining state produced by independent
// workers; it must never run concurrently with further Update calls on the
// source metrics. Numerical degeneracy (empty windows, failed eigensolves)
// is reported as NaN from Compute, never as an error: one bad batch must
// not kill a long-running job.
package metric

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"
)

var (
	// ErrArity is returned when Update receives the wrong number of views.
	ErrArity = errors.New("wrong number of views")

	// ErrViewMismatch is returned when paired views disagree on row count.
	// This is a contract violation, not transient noise, and is fatal.
	ErrViewMismatch = errors.New("paired views have mismatched rows")

	// ErrIncompatible is returned when MergeState receives a metric of a
	// different concrete type or shape.
	ErrIncompatible = errors.New("incompatible metric for merge")

	// ErrBadState is returned by LoadStateDict for malformed state.
	ErrBadState = errors.New("malformed metric state")
)

// Metric is the capability set shared by every streaming metric.
//
// StateDict/LoadStateDict carry every internal buffer (window contents,
// running sums, decay powers) so a run can resume without discontinuity;
// a state dict always moves all buffers of a metric together.
type Metric interface {
	// Update folds one batch into the metric. Views are row-major
	// matrices with one row per observation; metrics document their
	// expected arity.
	Update(views ...*mat.Dense) error

	// Compute reduces the current state to a scalar. Empty or degenerate
	// state yields NaN.
	Compute() float64

	// Reset clears all accumulated state.
	Reset()

	// MergeState folds the state of other metrics of the same kind into
	// this one. Count-based metrics merge order-independently; windowed
	// and running-EMA metrics document their approximations.
	MergeState(others ...Metric) error

	StateDict() map[string]any
	LoadStateDict(state map[string]any) error
}

// Scalar wraps a single value as a 1x1 matrix for Update calls.
func Scalar(v float64) *mat.Dense {
	return mat.NewDense(1, 1, []float64{v})
}

// Column wraps a slice as an n x 1 matrix for Update calls.
func Column(vals []float64) *mat.Dense {
	out := make([]float64, len(vals))
	copy(out, vals)
	return mat.NewDense(len(vals), 1, out)
}

// nan is shorthand for the quiet NaN all metrics report on empty state.
func nan() float64 { return math.NaN() }
