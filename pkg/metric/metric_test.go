package metric_test

import (
	"context"
	"errors"
	"math"
	"math/rand"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gonum.org/v1/gonum/mat"

	"github.com/quillml/distill/pkg/logger"
	"github.com/quillml/distill/pkg/metric"
)

func gaussian(seed int64, rows, cols int) *mat.Dense {
	rng := rand.New(rand.NewSource(seed))
	m := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			m.Set(i, j, rng.NormFloat64())
		}
	}
	return m
}

var _ = Describe("Mean", func() {
	It("averages across updates and merges exactly", func() {
		a := metric.NewMean()
		Expect(a.Update(metric.Column([]float64{1, 2, 3}))).To(Succeed())

		b := metric.NewMean()
		Expect(b.Update(metric.Column([]float64{10}))).To(Succeed())

		Expect(a.MergeState(b)).To(Succeed())
		Expect(a.Compute()).To(BeNumerically("~", 4.0, 1e-12))
	})

	It("is NaN before any update", func() {
		Expect(math.IsNaN(metric.NewMean().Compute())).To(BeTrue())
	})

	It("round-trips through its state dict", func() {
		a := metric.NewMean()
		Expect(a.Update(metric.Column([]float64{2, 4}))).To(Succeed())

		b := metric.NewMean()
		Expect(b.LoadStateDict(a.StateDict())).To(Succeed())
		Expect(b.Compute()).To(Equal(a.Compute()))
	})
})

var _ = Describe("Max", func() {
	It("tracks the maximum across updates and merges", func() {
		a := metric.NewMax()
		Expect(a.Update(metric.Column([]float64{-3, 2}))).To(Succeed())

		b := metric.NewMax()
		Expect(b.Update(metric.Scalar(7))).To(Succeed())

		Expect(a.MergeState(b)).To(Succeed())
		Expect(a.Compute()).To(Equal(7.0))
	})

	It("ignores merging an untouched peer", func() {
		a := metric.NewMax()
		Expect(a.Update(metric.Scalar(-5))).To(Succeed())
		Expect(a.MergeState(metric.NewMax())).To(Succeed())
		Expect(a.Compute()).To(Equal(-5.0))
	})
})

var _ = Describe("MaskRate", func() {
	It("reports the fraction of positive entries", func() {
		m := metric.NewMaskRate()
		Expect(m.Update(metric.Column([]float64{1, 0, 1, 0}))).To(Succeed())
		Expect(m.Update(metric.Column([]float64{1, 1}))).To(Succeed())
		Expect(m.Compute()).To(BeNumerically("~", 4.0/6.0, 1e-12))
	})
})

var _ = Describe("MeanLoss", func() {
	It("averages the wrapped loss and skips NaN batches", func() {
		calls := 0
		m := metric.NewMeanLoss(func(outputs, targets *mat.Dense) (float64, error) {
			calls++
			if calls == 2 {
				return math.NaN(), nil
			}
			return 2, nil
		})
		pair := gaussian(1, 4, 2)
		Expect(m.Update(pair, pair)).To(Succeed())
		Expect(m.Update(pair, pair)).To(Succeed())
		Expect(m.Update(pair, pair)).To(Succeed())
		Expect(m.Compute()).To(BeNumerically("~", 2.0, 1e-12))
	})

	It("surfaces loss-function errors", func() {
		m := metric.NewMeanLoss(func(outputs, targets *mat.Dense) (float64, error) {
			return 0, errors.New("boom")
		})
		pair := gaussian(2, 2, 2)
		Expect(m.Update(pair, pair)).NotTo(Succeed())
	})
})

var _ = Describe("Window", func() {
	It("keeps only the most recent rows once full", func() {
		w := metric.NewWindow(3)
		Expect(w.Push(metric.Column([]float64{1, 2}))).To(Succeed())
		Expect(w.Push(metric.Column([]float64{3, 4}))).To(Succeed())

		m := w.Matrix()
		r, _ := m.Dims()
		Expect(r).To(Equal(3))
		Expect(m.At(0, 0)).To(Equal(2.0))
		Expect(m.At(1, 0)).To(Equal(3.0))
		Expect(m.At(2, 0)).To(Equal(4.0))
	})

	It("rejects rows of a different width", func() {
		w := metric.NewWindow(4)
		Expect(w.Push(gaussian(3, 2, 3))).To(Succeed())
		Expect(w.Push(gaussian(4, 2, 2))).NotTo(Succeed())
	})

	It("panics on a non-positive capacity", func() {
		Expect(func() { metric.NewWindow(0) }).To(Panic())
	})
})

var _ = Describe("WindowedMean", func() {
	It("merges by concatenation below capacity", func() {
		a := metric.NewWindowedMean(10)
		Expect(a.Update(metric.Column([]float64{1, 2}))).To(Succeed())

		b := metric.NewWindowedMean(10)
		Expect(b.Update(metric.Column([]float64{3, 4}))).To(Succeed())

		Expect(a.MergeState(b)).To(Succeed())
		Expect(a.Compute()).To(BeNumerically("~", 2.5, 1e-12))
	})

	It("truncates the merged buffer at capacity, keeping self rows first", func() {
		a := metric.NewWindowedMean(3)
		Expect(a.Update(metric.Column([]float64{1, 2}))).To(Succeed())

		b := metric.NewWindowedMean(3)
		Expect(b.Update(metric.Column([]float64{10, 20}))).To(Succeed())

		Expect(a.MergeState(b)).To(Succeed())
		// Concatenation is [1 2 10 20]; the oldest row falls off.
		Expect(a.Compute()).To(BeNumerically("~", (2.0+10+20)/3, 1e-12))
	})

	It("is NaN on an empty window", func() {
		Expect(math.IsNaN(metric.NewWindowedMean(4).Compute())).To(BeTrue())
	})

	It("round-trips its buffer through the state dict", func() {
		a := metric.NewWindowedMean(5)
		Expect(a.Update(metric.Column([]float64{1, 2, 3}))).To(Succeed())

		b := metric.NewWindowedMean(5)
		Expect(b.LoadStateDict(a.StateDict())).To(Succeed())
		Expect(b.Compute()).To(Equal(a.Compute()))
	})

	It("refuses to merge with an unrelated metric", func() {
		a := metric.NewWindowedMean(5)
		Expect(a.MergeState(metric.NewMean())).To(MatchError(metric.ErrIncompatible))
	})
})

var _ = Describe("WindowedMax", func() {
	It("forgets values that left the window", func() {
		m := metric.NewWindowedMax(2)
		Expect(m.Update(metric.Column([]float64{9, 1, 2}))).To(Succeed())
		Expect(m.Compute()).To(Equal(2.0))
	})
})

var _ = Describe("WindowedMSE", func() {
	It("scores aligned streams over the window", func() {
		m := metric.NewWindowedMSE(10)
		a := mat.NewDense(2, 2, []float64{0, 0, 0, 0})
		b := mat.NewDense(2, 2, []float64{1, 1, 3, 3})
		Expect(m.Update(a, b)).To(Succeed())
		Expect(m.Compute()).To(BeNumerically("~", (1.0+1+9+9)/4, 1e-12))
	})

	It("rejects updates with mismatched row counts", func() {
		m := metric.NewWindowedMSE(10)
		Expect(m.Update(gaussian(5, 2, 2), gaussian(6, 3, 2))).To(MatchError(metric.ErrViewMismatch))
	})

	It("rejects updates with a wrong arity", func() {
		m := metric.NewWindowedMSE(10)
		Expect(m.Update(gaussian(7, 2, 2))).To(MatchError(metric.ErrArity))
	})
})

var _ = Describe("WindowedCorrelation", func() {
	It("is near one for identical streams", func() {
		m := metric.NewWindowedCorrelation(64)
		v := gaussian(8, 32, 3)
		Expect(m.Update(v, v)).To(Succeed())
		Expect(m.Compute()).To(BeNumerically("~", 1.0, 1e-9))
	})

	It("is NaN with fewer than two rows", func() {
		m := metric.NewWindowedCorrelation(64)
		Expect(m.Update(gaussian(9, 1, 3), gaussian(10, 1, 3))).To(Succeed())
		Expect(math.IsNaN(m.Compute())).To(BeTrue())
	})
})

var _ = Describe("WindowedCCA", func() {
	It("approaches the component count for linearly related streams", func() {
		m := metric.NewWindowedCCA(256, 3, metric.WithCCALogger(logger.Nop()))
		v := gaussian(11, 128, 3)
		var scaled mat.Dense
		scaled.Scale(-2, v)
		Expect(m.Update(v, &scaled)).To(Succeed())
		Expect(m.Compute()).To(BeNumerically("~", 3.0, 0.1))
	})

	It("is NaN when the window holds fewer samples than components", func() {
		m := metric.NewWindowedCCA(256, 8, metric.WithCCALogger(logger.Nop()))
		Expect(m.Update(gaussian(12, 4, 8), gaussian(13, 4, 8))).To(Succeed())
		Expect(math.IsNaN(m.Compute())).To(BeTrue())
	})

	It("is NaN before any update", func() {
		m := metric.NewWindowedCCA(16, 2)
		Expect(math.IsNaN(m.Compute())).To(BeTrue())
	})

	It("merges window buffers like other windowed metrics", func() {
		a := metric.NewWindowedCCA(256, 2, metric.WithCCALogger(logger.Nop()))
		b := metric.NewWindowedCCA(256, 2, metric.WithCCALogger(logger.Nop()))
		v1 := gaussian(14, 64, 2)
		v2 := gaussian(15, 64, 2)
		Expect(a.Update(v1, v1)).To(Succeed())
		Expect(b.Update(v2, v2)).To(Succeed())
		Expect(a.MergeState(b)).To(Succeed())
		Expect(a.Compute()).To(BeNumerically("~", 2.0, 0.1))
	})
})

var _ = Describe("Accessor", func() {
	It("feeds the inner metric from named tensors", func() {
		acc := metric.WithAccessor(metric.NewMean(), metric.FromOutputs("loss"))
		outputs := metric.Batch{"loss": metric.Scalar(4)}
		Expect(acc.UpdateBatch(outputs, metric.Batch{})).To(Succeed())
		Expect(acc.Compute()).To(Equal(4.0))
	})

	It("fails on a missing tensor", func() {
		acc := metric.WithAccessor(metric.NewMean(), metric.FromBatch("lengths"))
		Expect(acc.UpdateBatch(metric.Batch{}, metric.Batch{})).To(MatchError(metric.ErrViewMismatch))
	})

	It("merges through to the inner metrics", func() {
		a := metric.WithAccessor(metric.NewMean(), metric.FromOutputs("x"))
		b := metric.WithAccessor(metric.NewMean(), metric.FromOutputs("x"))
		Expect(a.Update(metric.Scalar(1))).To(Succeed())
		Expect(b.Update(metric.Scalar(3))).To(Succeed())
		Expect(a.MergeState(b)).To(Succeed())
		Expect(a.Compute()).To(BeNumerically("~", 2.0, 1e-12))
	})
})

type captureSink struct {
	steps   []int
	scalars []map[string]float64
	err     error
}

func (c *captureSink) LogScalars(_ context.Context, step int, scalars map[string]float64) error {
	if c.err != nil {
		return c.err
	}
	c.steps = append(c.steps, step)
	copied := make(map[string]float64, len(scalars))
	for k, v := range scalars {
		copied[k] = v
	}
	c.scalars = append(c.scalars, copied)
	return nil
}

var _ = Describe("Logger", func() {
	step := func(v float64) (metric.Batch, metric.Batch) {
		return metric.Batch{"loss": metric.Scalar(v)}, metric.Batch{}
	}

	It("emits on the configured cadence", func() {
		sink := &captureSink{}
		log := metric.NewLogger([]*metric.TrainingMetric{
			{Name: "loss", Metric: metric.NewMean(), LogFreq: 2},
		}, metric.WithSinks(sink), metric.WithLog(logger.Nop()))

		ctx := context.Background()
		for _, v := range []float64{1, 3, 5, 7} {
			outputs, batch := step(v)
			Expect(log.Step(ctx, outputs, batch)).To(Succeed())
		}

		Expect(sink.steps).To(Equal([]int{2, 4}))
		Expect(sink.scalars[0]["loss"]).To(BeNumerically("~", 2.0, 1e-12))
		Expect(sink.scalars[1]["loss"]).To(BeNumerically("~", 4.0, 1e-12))
	})

	It("resets per-interval metrics after each emission", func() {
		sink := &captureSink{}
		log := metric.NewLogger([]*metric.TrainingMetric{
			{Name: "loss", Metric: metric.NewMean(), LogFreq: 2, ResetAfterLog: true},
		}, metric.WithSinks(sink), metric.WithLog(logger.Nop()))

		ctx := context.Background()
		for _, v := range []float64{1, 3, 5, 7} {
			outputs, batch := step(v)
			Expect(log.Step(ctx, outputs, batch)).To(Succeed())
		}

		Expect(sink.scalars[1]["loss"]).To(BeNumerically("~", 6.0, 1e-12))
	})

	It("uses custom update rules and flushes everything", func() {
		sink := &captureSink{}
		log := metric.NewLogger([]*metric.TrainingMetric{
			{
				Name:   "length",
				Metric: metric.NewMean(),
				Update: func(m metric.Metric, _, batch metric.Batch) error {
					view, err := batch.Get("lengths")
					if err != nil {
						return err
					}
					return m.Update(view)
				},
			},
		}, metric.WithSinks(sink), metric.WithLog(logger.Nop()))

		ctx := context.Background()
		Expect(log.Step(ctx, metric.Batch{}, metric.Batch{
			"lengths": metric.Column([]float64{10, 20}),
		})).To(Succeed())
		Expect(sink.steps).To(BeEmpty())

		log.Flush(ctx)
		Expect(sink.scalars).To(HaveLen(1))
		Expect(sink.scalars[0]["length"]).To(BeNumerically("~", 15.0, 1e-12))
	})

	It("swallows sink failures", func() {
		sink := &captureSink{err: errors.New("kafka down")}
		log := metric.NewLogger([]*metric.TrainingMetric{
			{Name: "loss", Metric: metric.NewMean(), LogFreq: 1},
		}, metric.WithSinks(sink), metric.WithLog(logger.Nop()))

		outputs, batch := step(1)
		Expect(log.Step(context.Background(), outputs, batch)).To(Succeed())
	})

	It("aborts the step on an update error", func() {
		log := metric.NewLogger([]*metric.TrainingMetric{
			{Name: "missing", Metric: metric.NewMean()},
		}, metric.WithLog(logger.Nop()))
		Expect(log.Step(context.Background(), metric.Batch{}, metric.Batch{})).NotTo(Succeed())
	})
})
