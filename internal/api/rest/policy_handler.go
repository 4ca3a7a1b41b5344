package rest

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/secretshub/policy-core/internal/policy"
	"github.com/secretshub/policy-core/pkg/types"
)

// listPoliciesHandler returns all stored policies
func (s *Server) listPoliciesHandler(w http.ResponseWriter, r *http.Request) {
	policies := s.manager.List()
	WriteJSON(w, http.StatusOK, PolicyListResponse{
		Policies: policies,
		Total:    len(policies),
	})
}

// getPolicyHandler returns a single policy by id
func (s *Server) getPolicyHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	p, err := s.manager.Get(id)
	if err != nil {
		if errors.Is(err, policy.ErrPolicyNotFound) {
			WriteError(w, http.StatusNotFound, "policy not found", map[string]interface{}{"id": id})
			return
		}
		WriteError(w, http.StatusInternalServerError, "failed to fetch policy", nil)
		return
	}

	WriteJSON(w, http.StatusOK, p)
}

// createPolicyHandler validates and stores a new policy as version 1
func (s *Server) createPolicyHandler(w http.ResponseWriter, r *http.Request) {
	var req PolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body", map[string]interface{}{
			"parse_error": err.Error(),
		})
		return
	}
	if req.Policy == nil {
		WriteError(w, http.StatusBadRequest, "policy is required", nil)
		return
	}

	summary := req.Summary
	if summary == "" {
		summary = "policy created"
	}

	created, err := s.manager.CreateWithVersioning(r.Context(), req.Policy, summary, actor(r))
	if err != nil {
		s.writePolicyMutationError(w, err)
		return
	}

	WriteJSON(w, http.StatusCreated, created)
}

// updatePolicyHandler replaces an existing policy, appending a new version
func (s *Server) updatePolicyHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req PolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body", map[string]interface{}{
			"parse_error": err.Error(),
		})
		return
	}
	if req.Policy == nil {
		WriteError(w, http.StatusBadRequest, "policy is required", nil)
		return
	}
	req.Policy.ID = id

	summary := req.Summary
	if summary == "" {
		summary = "policy updated"
	}

	updated, err := s.manager.UpdateWithVersioning(r.Context(), req.Policy, summary, actor(r))
	if err != nil {
		s.writePolicyMutationError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, updated)
}

// deletePolicyHandler removes a policy, recording a deletion version
func (s *Server) deletePolicyHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := s.manager.DeleteWithVersioning(r.Context(), id, "policy deleted", actor(r)); err != nil {
		s.writePolicyMutationError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// activatePolicyHandler transitions a policy to active
func (s *Server) activatePolicyHandler(w http.ResponseWriter, r *http.Request) {
	s.setPolicyStatus(w, r, types.StatusActive)
}

// deactivatePolicyHandler transitions a policy to inactive
func (s *Server) deactivatePolicyHandler(w http.ResponseWriter, r *http.Request) {
	s.setPolicyStatus(w, r, types.StatusInactive)
}

func (s *Server) setPolicyStatus(w http.ResponseWriter, r *http.Request, status types.PolicyStatus) {
	id := mux.Vars(r)["id"]

	updated, err := s.manager.SetStatusWithVersioning(r.Context(), id, status, actor(r))
	if err != nil {
		s.writePolicyMutationError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, updated)
}

// writePolicyMutationError maps lifecycle errors to HTTP status codes
func (s *Server) writePolicyMutationError(w http.ResponseWriter, err error) {
	var consistency *policy.ConsistencyError
	switch {
	case errors.Is(err, policy.ErrPolicyNotFound):
		WriteError(w, http.StatusNotFound, "policy not found", nil)
	case errors.As(err, &consistency):
		s.logger.Error("policy store consistency failure", zap.Error(err))
		WriteError(w, http.StatusInternalServerError, "policy mutation left inconsistent state", map[string]interface{}{
			"error": err.Error(),
		})
	default:
		WriteError(w, http.StatusBadRequest, err.Error(), nil)
	}
}
