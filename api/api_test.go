package api

import (
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/quillml/distill/pkg/logger"
	"github.com/quillml/distill/pkg/results"
)

var _ = Describe("Server", func() {
	var (
		ctx    context.Context
		store  *results.Store
		server *Server
	)

	request := func(path string) (*http.Response, []byte) {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		resp, err := server.app.Test(req, -1)
		Expect(err).NotTo(HaveOccurred())
		body, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		return resp, body
	}

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		store, err = results.Open(":memory:", logger.Nop())
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() { Expect(store.Close()).To(Succeed()) })

		server = NewServer(Config{ListenAddr: ":0"}, store, logger.Nop())
	})

	It("answers the health check", func() {
		resp, body := request("/ping")
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(string(body)).To(ContainSubstring("pong"))
	})

	It("lists runs as an empty array when none exist", func() {
		resp, body := request("/v1/runs")
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(string(body)).To(Equal("[]"))
	})

	It("returns persisted runs", func() {
		run, err := store.CreateRun(ctx, "train", "")
		Expect(err).NotTo(HaveOccurred())

		resp, body := request("/v1/runs")
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		var runs []results.Run
		Expect(json.Unmarshal(body, &runs)).To(Succeed())
		Expect(runs).To(HaveLen(1))
		Expect(runs[0].ID).To(Equal(run.ID))

		resp, body = request("/v1/runs/" + run.ID)
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		var fetched results.Run
		Expect(json.Unmarshal(body, &fetched)).To(Succeed())
		Expect(fetched.Name).To(Equal("train"))
	})

	It("404s on unknown runs", func() {
		resp, _ := request("/v1/runs/nope")
		Expect(resp.StatusCode).To(Equal(http.StatusNotFound))

		resp, _ = request("/v1/runs/nope/metrics")
		Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
	})

	It("serves metric histories with NaN as null", func() {
		run, err := store.CreateRun(ctx, "train", "")
		Expect(err).NotTo(HaveOccurred())
		Expect(store.LogScalars(ctx, run.ID, 1, map[string]float64{"loss": 0.5})).To(Succeed())
		Expect(store.LogScalars(ctx, run.ID, 2, map[string]float64{"loss": math.NaN()})).To(Succeed())

		resp, body := request("/v1/runs/" + run.ID + "/metrics")
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		var metrics MetricsResponse
		Expect(json.Unmarshal(body, &metrics)).To(Succeed())
		Expect(metrics.RunID).To(Equal(run.ID))
		Expect(metrics.Scalars).To(HaveLen(2))
		Expect(metrics.Scalars[0].Value).NotTo(BeNil())
		Expect(*metrics.Scalars[0].Value).To(Equal(0.5))
		Expect(metrics.Scalars[1].Value).To(BeNil())
	})
})
