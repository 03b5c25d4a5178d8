package api

import (
	"errors"
	"math"

	"github.com/gofiber/fiber/v2"

	"github.com/quillml/distill/pkg/results"
)

// ErrorResponse is the JSON body of a failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// MetricsResponse contains the scalar history of a run.
type MetricsResponse struct {
	RunID   string        `json:"run_id"`
	Scalars []ScalarPoint `json:"scalars"`
}

// ScalarPoint is one logged value. Value is null where the metric
// computed NaN.
type ScalarPoint struct {
	Step  int      `json:"step"`
	Name  string   `json:"name"`
	Value *float64 `json:"value"`
}

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *fiber.Ctx) error {
	return c.JSON("pong")
}

// handleListRuns returns all persisted runs, newest first.
func (s *Server) handleListRuns(c *fiber.Ctx) error {
	runs, err := s.store.Runs(c.Context())
	if err != nil {
		s.logger.Error("listing runs failed", "err", err)
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to list runs"})
	}
	if runs == nil {
		runs = []results.Run{}
	}
	return c.JSON(runs)
}

// handleGetRun returns a single run by its ID.
func (s *Server) handleGetRun(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "id parameter required"})
	}

	run, err := s.store.Run(c.Context(), id)
	if errors.Is(err, results.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: "run not found"})
	}
	if err != nil {
		s.logger.Error("fetching run failed", "err", err, "run_id", id)
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to fetch run"})
	}
	return c.JSON(run)
}

// handleRunMetrics returns the scalar history of a run.
func (s *Server) handleRunMetrics(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "id parameter required"})
	}

	scalars, err := s.store.Scalars(c.Context(), id)
	if errors.Is(err, results.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: "run not found"})
	}
	if err != nil {
		s.logger.Error("fetching metrics failed", "err", err, "run_id", id)
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to fetch metrics"})
	}

	resp := MetricsResponse{RunID: id, Scalars: make([]ScalarPoint, 0, len(scalars))}
	for _, sc := range scalars {
		point := ScalarPoint{Step: sc.Step, Name: sc.Name}
		if !math.IsNaN(sc.Value) {
			v := sc.Value
			point.Value = &v
		}
		resp.Scalars = append(resp.Scalars, point)
	}
	return c.JSON(resp)
}
