package cca

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// State dicts round-trip through JSON in checkpoints, so numeric slices
// may come back as []any of float64. Decoders below accept both forms.

func stateFloat(state map[string]any, key string) (float64, error) {
	raw, ok := state[key]
	if !ok {
		return 0, fmt.Errorf("cca: state is missing %q", key)
	}
	v, ok := raw.(float64)
	if !ok {
		return 0, fmt.Errorf("cca: state %q is %T, want float64", key, raw)
	}
	return v, nil
}

func stateFloats(state map[string]any, key string) ([]float64, error) {
	raw, ok := state[key]
	if !ok {
		return nil, fmt.Errorf("cca: state is missing %q", key)
	}
	switch v := raw.(type) {
	case []float64:
		return append([]float64(nil), v...), nil
	case []any:
		out := make([]float64, len(v))
		for i, e := range v {
			f, ok := e.(float64)
			if !ok {
				return nil, fmt.Errorf("cca: state %q[%d] is %T, want float64", key, i, e)
			}
			out[i] = f
		}
		return out, nil
	default:
		return nil, fmt.Errorf("cca: state %q is %T, want []float64", key, raw)
	}
}

func stateDense(state map[string]any, key string, rows, cols int) (*mat.Dense, error) {
	raw, ok := state[key]
	if !ok {
		return nil, fmt.Errorf("cca: state is missing %q", key)
	}
	var rowSlices [][]float64
	switch v := raw.(type) {
	case [][]float64:
		rowSlices = v
	case []any:
		rowSlices = make([][]float64, len(v))
		for i, e := range v {
			row, err := anyFloats(e)
			if err != nil {
				return nil, fmt.Errorf("cca: state %q[%d]: %w", key, i, err)
			}
			rowSlices[i] = row
		}
	default:
		return nil, fmt.Errorf("cca: state %q is %T, want [][]float64", key, raw)
	}
	if len(rowSlices) != rows {
		return nil, fmt.Errorf("%w: state %q has %d rows, want %d", ErrShape, key, len(rowSlices), rows)
	}
	out := mat.NewDense(rows, cols, nil)
	for i, row := range rowSlices {
		if len(row) != cols {
			return nil, fmt.Errorf("%w: state %q row %d has %d columns, want %d",
				ErrShape, key, i, len(row), cols)
		}
		out.SetRow(i, row)
	}
	return out, nil
}

func anyFloats(raw any) ([]float64, error) {
	switch v := raw.(type) {
	case []float64:
		return append([]float64(nil), v...), nil
	case []any:
		out := make([]float64, len(v))
		for i, e := range v {
			f, ok := e.(float64)
			if !ok {
				return nil, fmt.Errorf("element %d is %T, want float64", i, e)
			}
			out[i] = f
		}
		return out, nil
	default:
		return nil, fmt.Errorf("value is %T, want []float64", raw)
	}
}

func denseToRows(m *mat.Dense) [][]float64 {
	r, c := m.Dims()
	out := make([][]float64, r)
	for i := 0; i < r; i++ {
		out[i] = make([]float64, c)
		copy(out[i], m.RawRowView(i))
	}
	return out
}
