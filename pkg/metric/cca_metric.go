package metric

import (
	"log/slog"

	"github.com/quillml/distill/pkg/cca"
)

// WindowedCCA is the sum of the top canonical correlations between two
// aligned streams, computed over the most recent rows. An underfilled or
// degenerate window yields NaN rather than an error, so a young run logs
// gaps instead of dying.
type WindowedCCA struct {
	pairedWindows

	components int
	log        *slog.Logger
}

// CCAMetricOption configures a WindowedCCA.
type CCAMetricOption func(*WindowedCCA)

// WithCCALogger routes degeneracy warnings. Defaults to slog's default
// logger.
func WithCCALogger(log *slog.Logger) CCAMetricOption {
	return func(m *WindowedCCA) { m.log = log }
}

// NewWindowedCCA buffers up to maxWindowSize rows per view and reports the
// sum of the top `components` canonical correlations. Zero components
// means all of them.
func NewWindowedCCA(maxWindowSize, components int, opts ...CCAMetricOption) *WindowedCCA {
	m := &WindowedCCA{
		pairedWindows: newPairedWindows(maxWindowSize),
		components:    components,
		log:           slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *WindowedCCA) Compute() float64 {
	a, b := m.win1.Matrix(), m.win2.Matrix()
	if a == nil || b == nil {
		return nan()
	}
	rows, d1 := a.Dims()
	_, d2 := b.Dims()

	// Fewer samples than requested components cannot support the
	// decomposition; report NaN before the eigensolver has a chance to
	// produce garbage.
	if m.components > 0 && (m.components > d1 || m.components > d2 || m.components > rows) {
		return nan()
	}
	if rows < 2 {
		return nan()
	}

	corr, err := cca.Correlation(a, b, m.components)
	if err != nil {
		m.log.Warn("windowed cca compute failed", "err", err, "rows", rows)
		return nan()
	}
	return corr
}

func (m *WindowedCCA) MergeState(others ...Metric) error {
	return mergeWindows(m, others)
}
