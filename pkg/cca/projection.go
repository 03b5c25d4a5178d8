package cca

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Normalization modes for projection layers.
const (
	NormNone  = ""
	NormLayer = "layer"
	NormBatch = "batch"
)

// NetOption configures a projection Net.
type NetOption func(*netConfig)

type netConfig struct {
	norm string
	seed int64
}

// WithNorm selects the per-layer normalization mode.
func WithNorm(norm string) NetOption {
	return func(c *netConfig) { c.norm = norm }
}

// WithSeed fixes the weight init seed.
func WithSeed(seed int64) NetOption {
	return func(c *netConfig) { c.seed = seed }
}

type netLayer struct {
	norm    string
	weights *mat.Dense // in×out
	bias    []float64
}

// Net is a forward-only projection stack. Each layer normalizes its
// input, applies ReLU, then an affine map. The harness evaluates trained
// checkpoints rather than optimizing, so there is no backward pass.
type Net struct {
	inputDim int
	layers   []netLayer
}

// NewNet builds a stack mapping inputDim through the given layer widths.
// An empty layerDims yields the identity projection. Weights use Xavier
// uniform init from the configured seed so runs are reproducible.
func NewNet(inputDim int, layerDims []int, opts ...NetOption) (*Net, error) {
	if inputDim <= 0 {
		return nil, fmt.Errorf("%w: input dimension %d", ErrShape, inputDim)
	}
	cfg := netConfig{seed: 1}
	for _, opt := range opts {
		opt(&cfg)
	}
	switch cfg.norm {
	case NormNone, NormLayer, NormBatch:
	default:
		return nil, fmt.Errorf("cca: unknown normalization %q", cfg.norm)
	}

	rng := rand.New(rand.NewSource(cfg.seed))
	n := &Net{inputDim: inputDim}
	in := inputDim
	for _, out := range layerDims {
		if out <= 0 {
			return nil, fmt.Errorf("%w: layer dimension %d", ErrShape, out)
		}
		n.layers = append(n.layers, netLayer{
			norm:    cfg.norm,
			weights: xavier(rng, in, out),
			bias:    make([]float64, out),
		})
		in = out
	}
	return n, nil
}

// OutputDim reports the width of projected rows.
func (n *Net) OutputDim() int {
	if len(n.layers) == 0 {
		return n.inputDim
	}
	w := n.layers[len(n.layers)-1].weights
	_, out := w.Dims()
	return out
}

// Forward projects a batch of rows. Identity nets return the input as is.
func (n *Net) Forward(x *mat.Dense) (*mat.Dense, error) {
	_, c := x.Dims()
	if c != n.inputDim {
		return nil, fmt.Errorf("%w: input has %d columns, want %d", ErrShape, c, n.inputDim)
	}
	cur := x
	for _, layer := range n.layers {
		switch layer.norm {
		case NormLayer:
			cur = layerNormalize(cur)
		case NormBatch:
			cur = batchNormalize(cur)
		}
		cur = relu(cur)
		var out mat.Dense
		out.Mul(cur, layer.weights)
		r, w := out.Dims()
		for i := 0; i < r; i++ {
			row := out.RawRowView(i)
			for j := 0; j < w; j++ {
				row[j] += layer.bias[j]
			}
		}
		cur = &out
	}
	if cur == x {
		var out mat.Dense
		out.CloneFrom(x)
		return &out, nil
	}
	return cur, nil
}

// StateDict snapshots the layer parameters.
func (n *Net) StateDict() map[string]any {
	layers := make([]map[string]any, len(n.layers))
	for i, layer := range n.layers {
		layers[i] = map[string]any{
			"weights": denseToRows(layer.weights),
			"bias":    append([]float64(nil), layer.bias...),
		}
	}
	return map[string]any{"layers": layers}
}

// LoadStateDict restores parameters produced by StateDict. The layer
// shapes must match the constructed net.
func (n *Net) LoadStateDict(state map[string]any) error {
	raw, ok := state["layers"]
	if !ok {
		return fmt.Errorf("cca: state is missing %q", "layers")
	}
	entries, err := stateMaps(raw)
	if err != nil {
		return fmt.Errorf("cca: state %q: %w", "layers", err)
	}
	if len(entries) != len(n.layers) {
		return fmt.Errorf("%w: state has %d layers, want %d", ErrShape, len(entries), len(n.layers))
	}
	for i, entry := range entries {
		in, out := n.layers[i].weights.Dims()
		w, err := stateDense(entry, "weights", in, out)
		if err != nil {
			return err
		}
		b, err := stateFloats(entry, "bias")
		if err != nil {
			return err
		}
		if len(b) != out {
			return fmt.Errorf("%w: state layer %d bias has %d entries, want %d",
				ErrShape, i, len(b), out)
		}
		n.layers[i].weights = w
		n.layers[i].bias = b
	}
	return nil
}

func stateMaps(raw any) ([]map[string]any, error) {
	switch v := raw.(type) {
	case []map[string]any:
		return v, nil
	case []any:
		out := make([]map[string]any, len(v))
		for i, e := range v {
			m, ok := e.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("element %d is %T, want map", i, e)
			}
			out[i] = m
		}
		return out, nil
	default:
		return nil, fmt.Errorf("value is %T, want []map", raw)
	}
}

// Projection wraps a pairwise loss with per-view projection nets and
// keeps the most recent projected views for callers that log or embed
// them downstream.
type Projection struct {
	net1, net2 *Net
	inner      PairLoss

	proj1, proj2 *mat.Dense
}

// NewProjection composes projection nets with an inner loss evaluated on
// the projected views.
func NewProjection(net1, net2 *Net, inner PairLoss) *Projection {
	return &Projection{net1: net1, net2: net2, inner: inner}
}

// Forward projects both views and forwards them to the inner loss.
func (p *Projection) Forward(view1, view2 *mat.Dense) (Outputs, error) {
	pr1, err := p.net1.Forward(view1)
	if err != nil {
		return nil, err
	}
	pr2, err := p.net2.Forward(view2)
	if err != nil {
		return nil, err
	}
	p.proj1, p.proj2 = pr1, pr2
	return p.inner.Forward(pr1, pr2)
}

// Projected returns the views produced by the most recent Forward, or
// nils before the first call.
func (p *Projection) Projected() (view1, view2 *mat.Dense) {
	return p.proj1, p.proj2
}

func xavier(rng *rand.Rand, in, out int) *mat.Dense {
	limit := math.Sqrt(6 / float64(in+out))
	w := mat.NewDense(in, out, nil)
	for i := 0; i < in; i++ {
		for j := 0; j < out; j++ {
			w.Set(i, j, (rng.Float64()*2-1)*limit)
		}
	}
	return w
}

func relu(x *mat.Dense) *mat.Dense {
	r, c := x.Dims()
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		row := x.RawRowView(i)
		for j := 0; j < c; j++ {
			if row[j] > 0 {
				out.Set(i, j, row[j])
			}
		}
	}
	return out
}

// layerNormalize standardizes every row to zero mean and unit variance
// across its features.
func layerNormalize(x *mat.Dense) *mat.Dense {
	r, c := x.Dims()
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		row := x.RawRowView(i)
		mean := 0.0
		for _, v := range row {
			mean += v
		}
		mean /= float64(c)
		variance := 0.0
		for _, v := range row {
			d := v - mean
			variance += d * d
		}
		variance /= float64(c)
		scale := math.Sqrt(variance + batchNormEps)
		for j, v := range row {
			out.Set(i, j, (v-mean)/scale)
		}
	}
	return out
}
