package metric

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// windowHolder lets windowed metrics merge each other's buffers without
// exposing them. All windowed merges are self-first concatenation followed
// by truncation: merge order decides which rows survive, which is fine for
// approximate telemetry and nothing else.
type windowHolder interface {
	windows() []*Window
}

func mergeWindows(self windowHolder, others []Metric) error {
	wins := self.windows()
	for _, o := range others {
		holder, ok := o.(windowHolder)
		if !ok || len(holder.windows()) != len(wins) {
			return fmt.Errorf("%w: cannot merge %T into windowed metric", ErrIncompatible, o)
		}
		for i, w := range holder.windows() {
			if err := wins[i].Append(w); err != nil {
				return err
			}
		}
	}
	return nil
}

// windowedValues is the shared base for windowed metrics over a stream of
// scalar values: every element of every update lands in the buffer as a
// one-dimensional row.
type windowedValues struct {
	win *Window
}

func newWindowedValues(maxWindowSize int) windowedValues {
	return windowedValues{win: NewWindow(maxWindowSize)}
}

func (m *windowedValues) Update(views ...*mat.Dense) error {
	if len(views) != 1 {
		return fmt.Errorf("%w: windowed value metric takes 1 view, got %d", ErrArity, len(views))
	}
	r, c := views[0].Dims()
	flat := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		flat = append(flat, views[0].RawRowView(i)...)
	}
	return m.win.Push(mat.NewDense(len(flat), 1, flat))
}

func (m *windowedValues) Reset()             { m.win.Reset() }
func (m *windowedValues) windows() []*Window { return []*Window{m.win} }

func (m *windowedValues) StateDict() map[string]any {
	return map[string]any{"values": m.win.state()}
}

func (m *windowedValues) LoadStateDict(state map[string]any) error {
	raw, ok := state["values"]
	if !ok {
		return fmt.Errorf("%w: missing key %q", ErrBadState, "values")
	}
	return m.win.loadState(raw)
}

// WindowedMean is the mean over the most recent values.
type WindowedMean struct {
	windowedValues
}

func NewWindowedMean(maxWindowSize int) *WindowedMean {
	return &WindowedMean{newWindowedValues(maxWindowSize)}
}

func (m *WindowedMean) Compute() float64 {
	w := m.win.Matrix()
	if w == nil {
		return nan()
	}
	r, _ := w.Dims()
	return mat.Sum(w) / float64(r)
}

func (m *WindowedMean) MergeState(others ...Metric) error {
	return mergeWindows(m, others)
}

// WindowedMax is the maximum over the most recent values.
type WindowedMax struct {
	windowedValues
}

func NewWindowedMax(maxWindowSize int) *WindowedMax {
	return &WindowedMax{newWindowedValues(maxWindowSize)}
}

func (m *WindowedMax) Compute() float64 {
	w := m.win.Matrix()
	if w == nil {
		return nan()
	}
	return mat.Max(w)
}

func (m *WindowedMax) MergeState(others ...Metric) error {
	return mergeWindows(m, others)
}

// pairedWindows is the shared base for windowed metrics over two aligned
// streams of vector rows. Both buffers truncate in lockstep because they
// share a capacity and receive equal row counts per update.
type pairedWindows struct {
	win1, win2 *Window
}

func newPairedWindows(maxWindowSize int) pairedWindows {
	return pairedWindows{
		win1: NewWindow(maxWindowSize),
		win2: NewWindow(maxWindowSize),
	}
}

func (m *pairedWindows) Update(views ...*mat.Dense) error {
	if len(views) != 2 {
		return fmt.Errorf("%w: paired windowed metric takes 2 views, got %d", ErrArity, len(views))
	}
	r1, _ := views[0].Dims()
	r2, _ := views[1].Dims()
	if r1 != r2 {
		return fmt.Errorf("%w: %d vs %d", ErrViewMismatch, r1, r2)
	}
	if err := m.win1.Push(views[0]); err != nil {
		return err
	}
	return m.win2.Push(views[1])
}

func (m *pairedWindows) Reset() {
	m.win1.Reset()
	m.win2.Reset()
}

func (m *pairedWindows) windows() []*Window { return []*Window{m.win1, m.win2} }

func (m *pairedWindows) StateDict() map[string]any {
	return map[string]any{
		"views1": m.win1.state(),
		"views2": m.win2.state(),
	}
}

func (m *pairedWindows) LoadStateDict(state map[string]any) error {
	raw1, ok := state["views1"]
	if !ok {
		return fmt.Errorf("%w: missing key %q", ErrBadState, "views1")
	}
	raw2, ok := state["views2"]
	if !ok {
		return fmt.Errorf("%w: missing key %q", ErrBadState, "views2")
	}
	if err := m.win1.loadState(raw1); err != nil {
		return err
	}
	return m.win2.loadState(raw2)
}

// WindowedMSE is the mean squared error between two aligned streams over
// the most recent rows.
type WindowedMSE struct {
	pairedWindows
}

func NewWindowedMSE(maxWindowSize int) *WindowedMSE {
	return &WindowedMSE{newPairedWindows(maxWindowSize)}
}

func (m *WindowedMSE) Compute() float64 {
	a, b := m.win1.Matrix(), m.win2.Matrix()
	if a == nil || b == nil {
		return nan()
	}
	ar, ac := a.Dims()
	br, bc := b.Dims()
	if ar != br || ac != bc {
		return nan()
	}
	var diff mat.Dense
	diff.Sub(a, b)
	var sq mat.Dense
	sq.MulElem(&diff, &diff)
	return mat.Sum(&sq) / float64(ar*ac)
}

func (m *WindowedMSE) MergeState(others ...Metric) error {
	return mergeWindows(m, others)
}

// WindowedCorrelation is the mean per-dimension Pearson correlation between
// two aligned streams over the most recent rows. Needs at least two rows;
// constant dimensions make the result NaN.
type WindowedCorrelation struct {
	pairedWindows
}

func NewWindowedCorrelation(maxWindowSize int) *WindowedCorrelation {
	return &WindowedCorrelation{newPairedWindows(maxWindowSize)}
}

func (m *WindowedCorrelation) Compute() float64 {
	a, b := m.win1.Matrix(), m.win2.Matrix()
	if a == nil || b == nil {
		return nan()
	}
	ar, ac := a.Dims()
	br, bc := b.Dims()
	if ar != br || ac != bc || ar < 2 {
		return nan()
	}

	total := 0.0
	for j := 0; j < ac; j++ {
		col1 := make([]float64, ar)
		col2 := make([]float64, ar)
		mat.Col(col1, j, a)
		mat.Col(col2, j, b)
		total += stat.Correlation(col1, col2, nil)
	}
	return total / float64(ac)
}

func (m *WindowedCorrelation) MergeState(others ...Metric) error {
	return mergeWindows(m, others)
}
