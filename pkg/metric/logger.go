package metric

import (
	"context"
	"fmt"
	"log/slog"
)

// Sink receives scalar values at a training step. Implementations decide
// whether NaN values are representable; the logger forwards them as is.
type Sink interface {
	LogScalars(ctx context.Context, step int, scalars map[string]float64) error
}

// TrainingMetric binds a metric to a name, an update rule, and a logging
// cadence.
type TrainingMetric struct {
	// Name keys the emitted scalar.
	Name string

	// Metric accumulates across steps.
	Metric Metric

	// LogFreq is the step interval between emissions. Zero means emit
	// only on Flush.
	LogFreq int

	// Update feeds the metric from one step's tensors. When nil, the
	// output tensor named Name is fed as the single view.
	Update func(m Metric, outputs, batch Batch) error

	// ResetAfterLog clears the metric after every emission, turning a
	// cumulative metric into a per-interval one.
	ResetAfterLog bool
}

func (t *TrainingMetric) update(outputs, batch Batch) error {
	if t.Update != nil {
		return t.Update(t.Metric, outputs, batch)
	}
	view, err := outputs.Get(t.Name)
	if err != nil {
		return err
	}
	return t.Metric.Update(view)
}

// LoggerOption configures a Logger.
type LoggerOption func(*Logger)

// WithSinks appends scalar destinations.
func WithSinks(sinks ...Sink) LoggerOption {
	return func(l *Logger) { l.sinks = append(l.sinks, sinks...) }
}

// WithLog routes the logger's own diagnostics.
func WithLog(log *slog.Logger) LoggerOption {
	return func(l *Logger) { l.log = log }
}

// Logger drives a set of training metrics through a step loop: every Step
// updates all metrics, and metrics whose interval elapsed are computed and
// emitted to the sinks. Not safe for concurrent use.
type Logger struct {
	metrics []*TrainingMetric
	sinks   []Sink
	log     *slog.Logger
	step    int
}

// NewLogger builds a logger over the given metrics.
func NewLogger(metrics []*TrainingMetric, opts ...LoggerOption) *Logger {
	l := &Logger{metrics: metrics, log: slog.Default()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CurrentStep reports the number of completed steps.
func (l *Logger) CurrentStep() int { return l.step }

// Step folds one training step's tensors into every metric and emits the
// metrics whose logging interval elapsed. Update errors abort the step;
// sink errors are logged and swallowed so telemetry loss never stops a
// run.
func (l *Logger) Step(ctx context.Context, outputs, batch Batch) error {
	l.step++

	scalars := map[string]float64{}
	for _, tm := range l.metrics {
		if err := tm.update(outputs, batch); err != nil {
			return fmt.Errorf("metric %q: %w", tm.Name, err)
		}
		if tm.LogFreq > 0 && l.step%tm.LogFreq == 0 {
			scalars[tm.Name] = tm.Metric.Compute()
			if tm.ResetAfterLog {
				tm.Metric.Reset()
			}
		}
	}
	if len(scalars) > 0 {
		l.emit(ctx, scalars)
	}
	return nil
}

// Flush computes and emits every metric at the current step, regardless
// of cadence. Call it at epoch boundaries and at the end of a run.
func (l *Logger) Flush(ctx context.Context) {
	scalars := make(map[string]float64, len(l.metrics))
	for _, tm := range l.metrics {
		scalars[tm.Name] = tm.Metric.Compute()
	}
	l.emit(ctx, scalars)
}

// ResetAll clears every metric, for reuse across evaluation passes.
func (l *Logger) ResetAll() {
	for _, tm := range l.metrics {
		tm.Metric.Reset()
	}
}

func (l *Logger) emit(ctx context.Context, scalars map[string]float64) {
	for _, sink := range l.sinks {
		if err := sink.LogScalars(ctx, l.step, scalars); err != nil {
			l.log.Warn("scalar sink failed", "err", err, "step", l.step)
		}
	}
}

// SlogSink writes scalars as structured log records.
type SlogSink struct {
	Log *slog.Logger
}

func (s SlogSink) LogScalars(ctx context.Context, step int, scalars map[string]float64) error {
	args := make([]any, 0, 2+2*len(scalars))
	args = append(args, "step", step)
	for name, value := range scalars {
		args = append(args, name, value)
	}
	s.Log.InfoContext(ctx, "metrics", args...)
	return nil
}
