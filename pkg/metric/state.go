package metric

import "fmt"

// State dict values survive a JSON round trip, so the decoders below accept
// both the native slice types and the []any forms json.Unmarshal produces.

func stateFloat(state map[string]any, key string) (float64, error) {
	raw, ok := state[key]
	if !ok {
		return 0, fmt.Errorf("%w: missing key %q", ErrBadState, key)
	}
	switch v := raw.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("%w: key %q is %T, want number", ErrBadState, key, raw)
	}
}

func stateFloats(raw any) ([]float64, error) {
	switch v := raw.(type) {
	case []float64:
		out := make([]float64, len(v))
		copy(out, v)
		return out, nil
	case []any:
		out := make([]float64, len(v))
		for i, e := range v {
			f, ok := e.(float64)
			if !ok {
				return nil, fmt.Errorf("%w: element %d is %T, want float64", ErrBadState, i, e)
			}
			out[i] = f
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %T is not a float slice", ErrBadState, raw)
	}
}

func stateRows(raw any) ([][]float64, error) {
	switch v := raw.(type) {
	case [][]float64:
		out := make([][]float64, len(v))
		for i, r := range v {
			row := make([]float64, len(r))
			copy(row, r)
			out[i] = row
		}
		return out, nil
	case []any:
		out := make([][]float64, len(v))
		for i, e := range v {
			row, err := stateFloats(e)
			if err != nil {
				return nil, err
			}
			out[i] = row
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %T is not a row matrix", ErrBadState, raw)
	}
}
