package rest

import (
	"encoding/json"
	"net/http"
)

// simulateHandler runs a what-if simulation against a caller-supplied policy
// set. Nothing the simulator does touches the live store or cache.
func (s *Server) simulateHandler(w http.ResponseWriter, r *http.Request) {
	if s.simulator == nil {
		WriteError(w, http.StatusNotImplemented, "simulation is not enabled", nil)
		return
	}

	var req SimulateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body", map[string]interface{}{
			"parse_error": err.Error(),
		})
		return
	}
	if len(req.Cases) == 0 {
		WriteError(w, http.StatusBadRequest, "at least one test case is required", nil)
		return
	}

	result := s.simulator.Run(r.Context(), req.Policies, req.Cases)
	WriteJSON(w, http.StatusOK, result)
}
