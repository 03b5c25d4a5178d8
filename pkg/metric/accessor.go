package metric

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Batch is the named tensors of one training step. Model outputs and
// input features travel in separate batches with independent namespaces.
type Batch map[string]*mat.Dense

// Get returns a named tensor. Missing keys are contract violations.
func (b Batch) Get(key string) (*mat.Dense, error) {
	v, ok := b[key]
	if !ok || v == nil {
		return nil, fmt.Errorf("%w: batch is missing %q", ErrViewMismatch, key)
	}
	return v, nil
}

// AccessFunc extracts the views a metric consumes from a step's model
// outputs and inputs.
type AccessFunc func(outputs, batch Batch) ([]*mat.Dense, error)

// FromOutputs selects named output tensors, in order.
func FromOutputs(keys ...string) AccessFunc {
	return func(outputs, _ Batch) ([]*mat.Dense, error) {
		return pick(outputs, keys)
	}
}

// FromBatch selects named input tensors, in order.
func FromBatch(keys ...string) AccessFunc {
	return func(_, batch Batch) ([]*mat.Dense, error) {
		return pick(batch, keys)
	}
}

func pick(b Batch, keys []string) ([]*mat.Dense, error) {
	views := make([]*mat.Dense, len(keys))
	for i, key := range keys {
		v, err := b.Get(key)
		if err != nil {
			return nil, err
		}
		views[i] = v
	}
	return views, nil
}

// Accessor adapts a Metric to be fed from named step tensors instead of
// positional views. It satisfies Metric itself, so accessors nest and
// merge like any other metric.
type Accessor struct {
	inner  Metric
	access AccessFunc
}

// WithAccessor wraps a metric with an extraction function.
func WithAccessor(m Metric, access AccessFunc) *Accessor {
	return &Accessor{inner: m, access: access}
}

// UpdateBatch extracts the configured views and feeds the inner metric.
func (a *Accessor) UpdateBatch(outputs, batch Batch) error {
	views, err := a.access(outputs, batch)
	if err != nil {
		return err
	}
	return a.inner.Update(views...)
}

func (a *Accessor) Update(views ...*mat.Dense) error { return a.inner.Update(views...) }
func (a *Accessor) Compute() float64                 { return a.inner.Compute() }
func (a *Accessor) Reset()                           { a.inner.Reset() }
func (a *Accessor) StateDict() map[string]any        { return a.inner.StateDict() }
func (a *Accessor) LoadStateDict(s map[string]any) error {
	return a.inner.LoadStateDict(s)
}

// MergeState unwraps peer accessors so the inner metrics merge directly.
func (a *Accessor) MergeState(others ...Metric) error {
	unwrapped := make([]Metric, len(others))
	for i, o := range others {
		if peer, ok := o.(*Accessor); ok {
			unwrapped[i] = peer.inner
		} else {
			unwrapped[i] = o
		}
	}
	return a.inner.MergeState(unwrapped...)
}
