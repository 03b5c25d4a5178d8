package metric

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Window is a capacity-bounded FIFO buffer of vector rows. It is owned
// exclusively by a single metric and never shared. Pushing past capacity
// evicts the oldest rows; the buffer always holds the most recent rows in
// insertion order.
type Window struct {
	rows     [][]float64
	capacity int
	dim      int // fixed by the first push
}

func NewWindow(capacity int) *Window {
	if capacity <= 0 {
		panic("metric: window capacity must be positive")
	}
	return &Window{capacity: capacity}
}

// Push appends every row of m, then truncates to the most recent rows.
func (w *Window) Push(m *mat.Dense) error {
	r, c := m.Dims()
	if w.dim == 0 {
		w.dim = c
	}
	if c != w.dim {
		return fmt.Errorf("%w: row dim %d, window dim %d", ErrIncompatible, c, w.dim)
	}
	for i := 0; i < r; i++ {
		row := make([]float64, c)
		copy(row, m.RawRowView(i))
		w.rows = append(w.rows, row)
	}
	w.truncate()
	return nil
}

// Append concatenates another window's rows after this one's, then
// truncates. Which rows survive depends on argument order; callers that
// need exact statistics must not rely on windowed merges.
func (w *Window) Append(other *Window) error {
	if other.dim != 0 {
		if w.dim == 0 {
			w.dim = other.dim
		} else if other.dim != w.dim {
			return fmt.Errorf("%w: window dims %d vs %d", ErrIncompatible, w.dim, other.dim)
		}
	}
	for _, row := range other.rows {
		cp := make([]float64, len(row))
		copy(cp, row)
		w.rows = append(w.rows, cp)
	}
	w.truncate()
	return nil
}

func (w *Window) truncate() {
	if len(w.rows) > w.capacity {
		w.rows = w.rows[len(w.rows)-w.capacity:]
	}
}

func (w *Window) Len() int { return len(w.rows) }
func (w *Window) Dim() int { return w.dim }

func (w *Window) Reset() {
	w.rows = nil
	w.dim = 0
}

// Matrix materializes the buffer as a Len x Dim matrix, nil when empty.
func (w *Window) Matrix() *mat.Dense {
	if len(w.rows) == 0 {
		return nil
	}
	data := make([]float64, 0, len(w.rows)*w.dim)
	for _, row := range w.rows {
		data = append(data, row...)
	}
	return mat.NewDense(len(w.rows), w.dim, data)
}

func (w *Window) state() [][]float64 {
	out := make([][]float64, len(w.rows))
	for i, row := range w.rows {
		cp := make([]float64, len(row))
		copy(cp, row)
		out[i] = cp
	}
	return out
}

func (w *Window) loadState(raw any) error {
	rows, err := stateRows(raw)
	if err != nil {
		return err
	}
	w.rows = nil
	w.dim = 0
	for _, row := range rows {
		if w.dim == 0 {
			w.dim = len(row)
		}
		if len(row) != w.dim {
			return fmt.Errorf("%w: ragged window rows", ErrBadState)
		}
		w.rows = append(w.rows, row)
	}
	w.truncate()
	return nil
}
