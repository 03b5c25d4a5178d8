package cca_test

import (
	"math"
	"math/rand"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gonum.org/v1/gonum/mat"

	"github.com/quillml/distill/pkg/cca"
)

func randomBatch(rng *rand.Rand, rows, cols int) *mat.Dense {
	m := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			m.Set(i, j, rng.NormFloat64())
		}
	}
	return m
}

var _ = Describe("Loss", func() {
	It("scores identical views near the full dimension count", func() {
		rng := rand.New(rand.NewSource(7))
		view := randomBatch(rng, 64, 4)

		out, err := cca.NewLoss(cca.WithOutputDim(4)).Forward(view, view)
		Expect(err).NotTo(HaveOccurred())
		// Each canonical correlation is 1 up to the ridge, so the loss
		// approaches -4.
		Expect(out.Loss()).To(BeNumerically("~", -4.0, 0.1))
	})

	It("scores independent views well below identical ones", func() {
		rng := rand.New(rand.NewSource(11))
		view1 := randomBatch(rng, 256, 3)
		view2 := randomBatch(rng, 256, 3)

		indep, err := cca.NewLoss(cca.WithOutputDim(3)).Forward(view1, view2)
		Expect(err).NotTo(HaveOccurred())
		same, err := cca.NewLoss(cca.WithOutputDim(3)).Forward(view1, view1)
		Expect(err).NotTo(HaveOccurred())
		Expect(indep.Loss()).To(BeNumerically(">", same.Loss()+1))
	})

	It("sums every retained correlation when no output dimension is set", func() {
		rng := rand.New(rand.NewSource(3))
		view := randomBatch(rng, 64, 4)

		out, err := cca.NewLoss().Forward(view, view)
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Loss()).To(BeNumerically("~", -4.0, 0.1))
	})

	It("rejects mismatched row counts", func() {
		rng := rand.New(rand.NewSource(1))
		_, err := cca.NewLoss().Forward(randomBatch(rng, 8, 2), randomBatch(rng, 9, 2))
		Expect(err).To(MatchError(cca.ErrShape))
	})

	It("rejects an output dimension beyond the available rank", func() {
		rng := rand.New(rand.NewSource(5))
		view1 := randomBatch(rng, 32, 2)
		view2 := randomBatch(rng, 32, 3)

		_, err := cca.NewLoss(cca.WithOutputDim(5)).Forward(view1, view2)
		Expect(err).To(MatchError(cca.ErrOutputDim))
	})

	It("clamps rank-deficient spectra instead of failing in the fixed branch", func() {
		rng := rand.New(rand.NewSource(9))
		base := randomBatch(rng, 64, 1)
		// Duplicate the single informative column so the AᵀA spectrum is
		// rank deficient.
		view := mat.NewDense(64, 2, nil)
		for i := 0; i < 64; i++ {
			v := base.At(i, 0)
			view.Set(i, 0, v)
			view.Set(i, 1, v)
		}
		other := randomBatch(rng, 64, 2)

		out, err := cca.NewLoss(cca.WithOutputDim(2)).Forward(view, other)
		Expect(err).NotTo(HaveOccurred())
		Expect(math.IsNaN(out.Loss())).To(BeFalse())
	})
})

var _ = Describe("Correlation", func() {
	It("reports the positive correlation of a linearly related pair", func() {
		rng := rand.New(rand.NewSource(21))
		view1 := randomBatch(rng, 128, 3)
		var view2 mat.Dense
		view2.Scale(2.5, view1)

		corr, err := cca.Correlation(view1, &view2, 3)
		Expect(err).NotTo(HaveOccurred())
		Expect(corr).To(BeNumerically("~", 3.0, 0.1))
	})
})

var _ = Describe("RunningCovariance", func() {
	It("reduces to batch statistics when both decays are zero", func() {
		rng := rand.New(rand.NewSource(13))
		view1 := randomBatch(rng, 64, 3)
		view2 := randomBatch(rng, 64, 2)

		cov := cca.NewRunningCovariance(3, 2,
			cca.WithBetaMu(0), cca.WithBetaSigma(0))
		s12, s1, s2, err := cov.Update(view1, view2)
		Expect(err).NotTo(HaveOccurred())

		exp12, exp1, exp2 := batchTriple(view1, view2)
		expectDenseApprox(s12, exp12, 1e-9)
		expectDenseApprox(s1, exp1, 1e-9)
		expectDenseApprox(s2, exp2, 1e-9)
	})

	It("bias-corrects the first update under nonzero decay", func() {
		rng := rand.New(rand.NewSource(17))
		view1 := randomBatch(rng, 64, 2)
		view2 := randomBatch(rng, 64, 2)

		cov := cca.NewRunningCovariance(2, 2,
			cca.WithBetaMu(0.9), cca.WithBetaSigma(0.9))
		_, _, _, err := cov.Update(view1, view2)
		Expect(err).NotTo(HaveOccurred())

		// After one update the corrected mean equals the batch mean:
		// (0.9·0 + 0.1·m) / (1 - 0.9) = m.
		want := columnMeansOf(view1)
		got := cov.Mean1()
		for j := range want {
			Expect(got[j]).To(BeNumerically("~", want[j], 1e-9))
		}
	})

	It("rejects batches whose widths disagree with the configured dimensions", func() {
		rng := rand.New(rand.NewSource(19))
		cov := cca.NewRunningCovariance(3, 2)
		_, _, _, err := cov.Update(randomBatch(rng, 8, 4), randomBatch(rng, 8, 2))
		Expect(err).To(MatchError(cca.ErrShape))
	})

	It("round-trips its state", func() {
		rng := rand.New(rand.NewSource(23))
		cov := cca.NewRunningCovariance(2, 2)
		_, _, _, err := cov.Update(randomBatch(rng, 32, 2), randomBatch(rng, 32, 2))
		Expect(err).NotTo(HaveOccurred())

		restored := cca.NewRunningCovariance(2, 2)
		Expect(restored.LoadStateDict(cov.StateDict())).To(Succeed())
		expectDenseApprox(restored.CrossCovariance(), cov.CrossCovariance(), 1e-12)
		expectDenseApprox(restored.Covariance1(), cov.Covariance1(), 1e-12)
	})
})

var _ = Describe("RunningLoss", func() {
	It("tracks a persistent linear relationship across batches", func() {
		rng := rand.New(rand.NewSource(29))
		cov := cca.NewRunningCovariance(2, 2)
		loss := cca.NewRunningLoss(cov, cca.WithOutputDim(2))

		var last float64
		for step := 0; step < 20; step++ {
			view := randomBatch(rng, 64, 2)
			var scaled mat.Dense
			scaled.Scale(3, view)
			out, err := loss.Forward(view, &scaled)
			Expect(err).NotTo(HaveOccurred())
			last = out.Loss()
		}
		Expect(last).To(BeNumerically("<", -1.5))
	})

	It("reports covariance norm diagnostics next to the loss", func() {
		rng := rand.New(rand.NewSource(31))
		loss := cca.NewRunningLoss(cca.NewRunningCovariance(2, 3))

		out, err := loss.Forward(randomBatch(rng, 64, 2), randomBatch(rng, 64, 3))
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(HaveKey(cca.KeyLoss))
		Expect(out[cca.KeySigma12Norm]).To(BeNumerically(">", 0))
		Expect(out[cca.KeySigma2Norm]).To(BeNumerically(">", 0))
	})
})

var _ = Describe("SoftCCA", func() {
	It("scores identical views with a zero distance term", func() {
		rng := rand.New(rand.NewSource(31))
		view := randomBatch(rng, 64, 4)

		loss := cca.NewSoftCCA(
			cca.NewStochasticDecorrelation(4),
			cca.NewStochasticDecorrelation(4),
			0.5,
		)
		out, err := loss.Forward(view, view)
		Expect(err).NotTo(HaveOccurred())
		Expect(out[cca.KeyL2]).To(BeNumerically("~", 0, 1e-9))
		Expect(out[cca.KeySDL1]).To(BeNumerically("~", out[cca.KeySDL2], 1e-9))
		Expect(out.Loss()).To(BeNumerically("~", out[cca.KeySDL1]+out[cca.KeySDL2], 1e-9))
	})

	It("penalizes correlated columns more than independent ones", func() {
		rng := rand.New(rand.NewSource(37))
		base := randomBatch(rng, 256, 1)
		correlated := mat.NewDense(256, 2, nil)
		for i := 0; i < 256; i++ {
			v := base.At(i, 0)
			correlated.Set(i, 0, v)
			correlated.Set(i, 1, v+0.01*rng.NormFloat64())
		}
		independent := randomBatch(rng, 256, 2)

		sdlCorr := cca.NewStochasticDecorrelation(2)
		lossCorr, _, err := sdlCorr.Forward(correlated)
		Expect(err).NotTo(HaveOccurred())

		sdlIndep := cca.NewStochasticDecorrelation(2)
		lossIndep, _, err := sdlIndep.Forward(independent)
		Expect(err).NotTo(HaveOccurred())

		Expect(lossCorr).To(BeNumerically(">", lossIndep))
	})

	It("rejects views of different widths", func() {
		rng := rand.New(rand.NewSource(41))
		loss := cca.NewSoftCCA(
			cca.NewStochasticDecorrelation(3),
			cca.NewStochasticDecorrelation(2),
			1,
		)
		_, err := loss.Forward(randomBatch(rng, 8, 3), randomBatch(rng, 8, 2))
		Expect(err).To(MatchError(cca.ErrShape))
	})
})

var _ = Describe("Net", func() {
	It("is the identity when built with no layers", func() {
		rng := rand.New(rand.NewSource(43))
		net, err := cca.NewNet(3, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(net.OutputDim()).To(Equal(3))

		in := randomBatch(rng, 8, 3)
		out, err := net.Forward(in)
		Expect(err).NotTo(HaveOccurred())
		expectDenseApprox(out, in, 0)
	})

	It("projects to the final layer width", func() {
		rng := rand.New(rand.NewSource(47))
		net, err := cca.NewNet(6, []int{4, 2}, cca.WithNorm(cca.NormLayer))
		Expect(err).NotTo(HaveOccurred())
		Expect(net.OutputDim()).To(Equal(2))

		out, err := net.Forward(randomBatch(rng, 16, 6))
		Expect(err).NotTo(HaveOccurred())
		r, c := out.Dims()
		Expect(r).To(Equal(16))
		Expect(c).To(Equal(2))
	})

	It("is deterministic for a fixed seed", func() {
		rng := rand.New(rand.NewSource(53))
		in := randomBatch(rng, 8, 4)

		a, err := cca.NewNet(4, []int{3}, cca.WithSeed(99))
		Expect(err).NotTo(HaveOccurred())
		b, err := cca.NewNet(4, []int{3}, cca.WithSeed(99))
		Expect(err).NotTo(HaveOccurred())

		outA, err := a.Forward(in)
		Expect(err).NotTo(HaveOccurred())
		outB, err := b.Forward(in)
		Expect(err).NotTo(HaveOccurred())
		expectDenseApprox(outA, outB, 0)
	})

	It("round-trips layer parameters through the state dict", func() {
		rng := rand.New(rand.NewSource(59))
		in := randomBatch(rng, 8, 4)

		src, err := cca.NewNet(4, []int{3}, cca.WithSeed(1))
		Expect(err).NotTo(HaveOccurred())
		dst, err := cca.NewNet(4, []int{3}, cca.WithSeed(2))
		Expect(err).NotTo(HaveOccurred())
		Expect(dst.LoadStateDict(src.StateDict())).To(Succeed())

		outSrc, err := src.Forward(in)
		Expect(err).NotTo(HaveOccurred())
		outDst, err := dst.Forward(in)
		Expect(err).NotTo(HaveOccurred())
		expectDenseApprox(outSrc, outDst, 0)
	})
})

var _ = Describe("Projection", func() {
	It("exposes the projected views alongside the inner loss", func() {
		rng := rand.New(rand.NewSource(61))
		net1, err := cca.NewNet(6, []int{3})
		Expect(err).NotTo(HaveOccurred())
		net2, err := cca.NewNet(4, []int{3})
		Expect(err).NotTo(HaveOccurred())

		proj := cca.NewProjection(net1, net2, cca.NewSoftCCA(
			cca.NewStochasticDecorrelation(3),
			cca.NewStochasticDecorrelation(3),
			0.5,
		))
		out, err := proj.Forward(randomBatch(rng, 32, 6), randomBatch(rng, 32, 4))
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(HaveKey(cca.KeyLoss))

		p1, p2 := proj.Projected()
		_, c1 := p1.Dims()
		_, c2 := p2.Dims()
		Expect(c1).To(Equal(3))
		Expect(c2).To(Equal(3))
	})
})

func batchTriple(view1, view2 *mat.Dense) (s12, s1, s2 *mat.Dense) {
	c1 := centered(view1)
	c2 := centered(view2)
	n, _ := view1.Dims()
	scale := 1 / float64(n-1)

	var m12, m1, m2 mat.Dense
	m12.Mul(c1.T(), c2)
	m12.Scale(scale, &m12)
	m1.Mul(c1.T(), c1)
	m1.Scale(scale, &m1)
	m2.Mul(c2.T(), c2)
	m2.Scale(scale, &m2)
	return &m12, &m1, &m2
}

func centered(x *mat.Dense) *mat.Dense {
	r, c := x.Dims()
	means := columnMeansOf(x)
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out.Set(i, j, x.At(i, j)-means[j])
		}
	}
	return out
}

func columnMeansOf(x *mat.Dense) []float64 {
	r, c := x.Dims()
	means := make([]float64, c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			means[j] += x.At(i, j)
		}
	}
	for j := range means {
		means[j] /= float64(r)
	}
	return means
}

func expectDenseApprox(got, want *mat.Dense, tol float64) {
	GinkgoHelper()
	gr, gc := got.Dims()
	wr, wc := want.Dims()
	Expect(gr).To(Equal(wr))
	Expect(gc).To(Equal(wc))
	for i := 0; i < gr; i++ {
		for j := 0; j < gc; j++ {
			if tol == 0 {
				Expect(got.At(i, j)).To(Equal(want.At(i, j)))
			} else {
				Expect(got.At(i, j)).To(BeNumerically("~", want.At(i, j), tol))
			}
		}
	}
}
