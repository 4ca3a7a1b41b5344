package rest

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/secretshub/policy-core/pkg/types"
)

// evaluateHandler evaluates a single authorization request
func (s *Server) evaluateHandler(w http.ResponseWriter, r *http.Request) {
	var req types.EvaluationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body", map[string]interface{}{
			"parse_error": err.Error(),
		})
		return
	}

	start := time.Now()
	decision, err := s.evaluator.Evaluate(r.Context(), &req)
	if err != nil {
		s.logger.Error("evaluation failed", zap.Error(err))
		WriteError(w, http.StatusInternalServerError, "evaluation failed", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	WriteJSON(w, http.StatusOK, EvaluateResponse{
		Decision: decision,
		Metadata: ResponseMeta{
			DurationMs: float64(time.Since(start).Microseconds()) / 1000.0,
			Timestamp:  time.Now(),
		},
	})
}

// evaluateBatchHandler evaluates multiple requests in one call
func (s *Server) evaluateBatchHandler(w http.ResponseWriter, r *http.Request) {
	var req BatchEvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body", map[string]interface{}{
			"parse_error": err.Error(),
		})
		return
	}
	if len(req.Requests) == 0 {
		WriteError(w, http.StatusBadRequest, "at least one request is required", nil)
		return
	}

	start := time.Now()
	decisions, err := s.evaluator.EvaluateBatch(r.Context(), req.Requests)
	if err != nil {
		s.logger.Error("batch evaluation failed", zap.Error(err))
		WriteError(w, http.StatusInternalServerError, "batch evaluation failed", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	WriteJSON(w, http.StatusOK, BatchEvaluateResponse{
		Decisions: decisions,
		Metadata: ResponseMeta{
			DurationMs: float64(time.Since(start).Microseconds()) / 1000.0,
			Timestamp:  time.Now(),
		},
	})
}
