package metric

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Mean accumulates the mean of every element it sees. MergeState is exact,
// associative and commutative (weighted sums).
type Mean struct {
	sum   float64
	count float64
}

func NewMean() *Mean {
	return &Mean{}
}

func (m *Mean) Update(views ...*mat.Dense) error {
	if len(views) != 1 {
		return fmt.Errorf("%w: Mean takes 1 view, got %d", ErrArity, len(views))
	}
	r, c := views[0].Dims()
	m.sum += mat.Sum(views[0])
	m.count += float64(r * c)
	return nil
}

func (m *Mean) Compute() float64 {
	if m.count == 0 {
		return nan()
	}
	return m.sum / m.count
}

func (m *Mean) Reset() {
	m.sum, m.count = 0, 0
}

func (m *Mean) MergeState(others ...Metric) error {
	for _, o := range others {
		other, ok := o.(*Mean)
		if !ok {
			return fmt.Errorf("%w: cannot merge %T into *Mean", ErrIncompatible, o)
		}
		m.sum += other.sum
		m.count += other.count
	}
	return nil
}

func (m *Mean) StateDict() map[string]any {
	return map[string]any{"sum": m.sum, "count": m.count}
}

func (m *Mean) LoadStateDict(state map[string]any) error {
	sum, err := stateFloat(state, "sum")
	if err != nil {
		return err
	}
	count, err := stateFloat(state, "count")
	if err != nil {
		return err
	}
	m.sum, m.count = sum, count
	return nil
}

// Max tracks the maximum element seen. MergeState is exact.
type Max struct {
	max   float64
	seen  bool
}

func NewMax() *Max {
	return &Max{}
}

func (m *Max) Update(views ...*mat.Dense) error {
	if len(views) != 1 {
		return fmt.Errorf("%w: Max takes 1 view, got %d", ErrArity, len(views))
	}
	v := mat.Max(views[0])
	if !m.seen || v > m.max {
		m.max = v
	}
	m.seen = true
	return nil
}

func (m *Max) Compute() float64 {
	if !m.seen {
		return nan()
	}
	return m.max
}

func (m *Max) Reset() {
	m.max, m.seen = 0, false
}

func (m *Max) MergeState(others ...Metric) error {
	for _, o := range others {
		other, ok := o.(*Max)
		if !ok {
			return fmt.Errorf("%w: cannot merge %T into *Max", ErrIncompatible, o)
		}
		if other.seen && (!m.seen || other.max > m.max) {
			m.max = other.max
			m.seen = true
		}
	}
	return nil
}

func (m *Max) StateDict() map[string]any {
	seen := 0.0
	if m.seen {
		seen = 1.0
	}
	return map[string]any{"max": m.max, "seen": seen}
}

func (m *Max) LoadStateDict(state map[string]any) error {
	max, err := stateFloat(state, "max")
	if err != nil {
		return err
	}
	seen, err := stateFloat(state, "seen")
	if err != nil {
		return err
	}
	m.max, m.seen = max, seen != 0
	return nil
}

// MaskRate tracks the fraction of positive entries across boolean masks
// (entries are 0 or 1, one row per observation). MergeState is exact.
type MaskRate struct {
	positives float64
	totals    float64
}

func NewMaskRate() *MaskRate {
	return &MaskRate{}
}

func (m *MaskRate) Update(views ...*mat.Dense) error {
	if len(views) != 1 {
		return fmt.Errorf("%w: MaskRate takes 1 view, got %d", ErrArity, len(views))
	}
	r, _ := views[0].Dims()
	m.totals += float64(r)
	m.positives += mat.Sum(views[0])
	return nil
}

func (m *MaskRate) Compute() float64 {
	if m.totals == 0 {
		return nan()
	}
	return m.positives / m.totals
}

func (m *MaskRate) Reset() {
	m.positives, m.totals = 0, 0
}

func (m *MaskRate) MergeState(others ...Metric) error {
	for _, o := range others {
		other, ok := o.(*MaskRate)
		if !ok {
			return fmt.Errorf("%w: cannot merge %T into *MaskRate", ErrIncompatible, o)
		}
		m.positives += other.positives
		m.totals += other.totals
	}
	return nil
}

func (m *MaskRate) StateDict() map[string]any {
	return map[string]any{"positives": m.positives, "totals": m.totals}
}

func (m *MaskRate) LoadStateDict(state map[string]any) error {
	pos, err := stateFloat(state, "positives")
	if err != nil {
		return err
	}
	tot, err := stateFloat(state, "totals")
	if err != nil {
		return err
	}
	m.positives, m.totals = pos, tot
	return nil
}

// MeanLoss accumulates the mean of a loss function evaluated per update.
type MeanLoss struct {
	fn   func(outputs, targets *mat.Dense) (float64, error)
	mean *Mean
}

// NewMeanLoss wraps a pairwise loss function; each Update evaluates it on
// (outputs, targets) and folds the scalar into a running mean.
func NewMeanLoss(fn func(outputs, targets *mat.Dense) (float64, error)) *MeanLoss {
	return &MeanLoss{fn: fn, mean: NewMean()}
}

func (m *MeanLoss) Update(views ...*mat.Dense) error {
	if len(views) != 2 {
		return fmt.Errorf("%w: MeanLoss takes 2 views, got %d", ErrArity, len(views))
	}
	r1, _ := views[0].Dims()
	r2, _ := views[1].Dims()
	if r1 != r2 {
		return fmt.Errorf("%w: %d vs %d", ErrViewMismatch, r1, r2)
	}
	v, err := m.fn(views[0], views[1])
	if err != nil {
		return err
	}
	if math.IsNaN(v) {
		// Degenerate batches contribute nothing rather than poisoning
		// the running mean.
		return nil
	}
	return m.mean.Update(Scalar(v))
}

func (m *MeanLoss) Compute() float64 { return m.mean.Compute() }
func (m *MeanLoss) Reset()           { m.mean.Reset() }

func (m *MeanLoss) MergeState(others ...Metric) error {
	inner := make([]Metric, 0, len(others))
	for _, o := range others {
		other, ok := o.(*MeanLoss)
		if !ok {
			return fmt.Errorf("%w: cannot merge %T into *MeanLoss", ErrIncompatible, o)
		}
		inner = append(inner, other.mean)
	}
	return m.mean.MergeState(inner...)
}

func (m *MeanLoss) StateDict() map[string]any {
	return m.mean.StateDict()
}

func (m *MeanLoss) LoadStateDict(state map[string]any) error {
	return m.mean.LoadStateDict(state)
}
