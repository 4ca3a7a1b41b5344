// Package rest provides the REST API for policy management, evaluation,
// simulation, version history, and the role directory.
package rest

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/secretshub/policy-core/pkg/types"
)

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// EvaluateResponse wraps a decision with evaluation metadata
type EvaluateResponse struct {
	Decision *types.Decision `json:"decision"`
	Metadata ResponseMeta    `json:"metadata"`
}

// BatchEvaluateRequest carries multiple evaluation requests
type BatchEvaluateRequest struct {
	Requests []*types.EvaluationRequest `json:"requests"`
}

// BatchEvaluateResponse carries the decisions for a batch, in request order
type BatchEvaluateResponse struct {
	Decisions []*types.Decision `json:"decisions"`
	Metadata  ResponseMeta      `json:"metadata"`
}

// ResponseMeta contains evaluation details
type ResponseMeta struct {
	DurationMs float64   `json:"duration_ms"`
	Timestamp  time.Time `json:"timestamp"`
}

// SimulateRequest carries a candidate policy set and test cases
type SimulateRequest struct {
	Policies []*types.Policy        `json:"policies"`
	Cases    []types.SimulationCase `json:"cases"`
}

// PolicyRequest represents a policy create/update request
type PolicyRequest struct {
	Policy  *types.Policy `json:"policy"`
	Summary string        `json:"summary,omitempty"`
}

// PolicyListResponse represents a list of policies
type PolicyListResponse struct {
	Policies []*types.Policy `json:"policies"`
	Total    int             `json:"total"`
}

// RestoreRequest carries the reason for a version restore
type RestoreRequest struct {
	Reason string `json:"reason,omitempty"`
}

// VersionListResponse represents a policy's version history
type VersionListResponse struct {
	PolicyID string                 `json:"policy_id"`
	Versions []*types.PolicyVersion `json:"versions"`
	Total    int                    `json:"total"`
}

// RoleListResponse represents the role catalog
type RoleListResponse struct {
	Roles []*types.Role `json:"roles"`
	Total int           `json:"total"`
}

// PermissionListResponse represents the permission catalog
type PermissionListResponse struct {
	Permissions []*types.Permission `json:"permissions"`
	Total       int                 `json:"total"`
}

// HealthResponse represents a health check response
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]interface{} `json:"checks,omitempty"`
}

// StatusResponse represents a service status response
type StatusResponse struct {
	Version      string                 `json:"version"`
	Uptime       string                 `json:"uptime"`
	PolicyCount  int                    `json:"policy_count"`
	CacheEnabled bool                   `json:"cache_enabled"`
	CacheStats   map[string]interface{} `json:"cache_stats,omitempty"`
	Timestamp    time.Time              `json:"timestamp"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// WriteError writes a JSON error response
func WriteError(w http.ResponseWriter, statusCode int, message string, details map[string]interface{}) {
	WriteJSON(w, statusCode, ErrorResponse{
		Error:   message,
		Details: details,
	})
}
