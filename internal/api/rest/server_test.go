package rest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/secretshub/policy-core/internal/engine"
	"github.com/secretshub/policy-core/internal/policy"
	"github.com/secretshub/policy-core/internal/rbac"
	"github.com/secretshub/policy-core/internal/versioning"
	"github.com/secretshub/policy-core/pkg/types"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	store := policy.NewMemoryStore()
	manager, err := policy.NewManager(store, versioning.NewMemoryStore(), policy.NewValidator(nil), nil)
	require.NoError(t, err)

	cfg := engine.DefaultConfig()
	cfg.CacheEnabled = false
	cfg.ParallelWorkers = 2
	evaluator, err := engine.New(cfg, store, nil)
	require.NoError(t, err)
	t.Cleanup(evaluator.Shutdown)

	simulator, err := engine.NewSimulator(nil, nil)
	require.NoError(t, err)

	srv, err := New(DefaultConfig(), evaluator, simulator, manager, rbac.NewDirectory(nil), nil, nil)
	require.NoError(t, err)
	return srv
}

func doJSON(t *testing.T, srv *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor-ID", "alice")

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(out))
}

func denyPolicyRequest() PolicyRequest {
	return PolicyRequest{
		Policy: &types.Policy{
			ID:       "pol-prod-deny",
			Name:     "prod-deny",
			Effect:   types.EffectDeny,
			Priority: 200,
			Status:   types.StatusActive,
			Rules: []*types.Rule{
				{Type: types.RuleTypeRole, Operator: types.OperatorIn, Values: types.StringSet{"developer"}},
			},
			Targets: &types.Targets{PathPrefixes: []string{"kv/data/prod/"}},
		},
		Summary: "initial import",
	}
}

func evalRequest(role, path string) *types.EvaluationRequest {
	return &types.EvaluationRequest{
		User:     &types.UserContext{ID: "user-1", Roles: []string{role}},
		Action:   "read",
		Resource: &types.ResourceContext{Type: "secret", Path: path},
	}
}

func TestHealthAndStatus(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var health HealthResponse
	decode(t, rec, &health)
	assert.Equal(t, "healthy", health.Status)

	rec = doJSON(t, srv, http.MethodGet, "/v1/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var status StatusResponse
	decode(t, rec, &status)
	assert.Equal(t, "1.0.0", status.Version)
	assert.False(t, status.CacheEnabled)
}

func TestEvaluateEndpoint(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/v1/policies", denyPolicyRequest())
	require.Equal(t, http.StatusCreated, rec.Code)

	t.Run("deny decision", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodPost, "/v1/authorization/evaluate", evalRequest("developer", "kv/data/prod/database"))
		require.Equal(t, http.StatusOK, rec.Code)

		var resp EvaluateResponse
		decode(t, rec, &resp)
		assert.Equal(t, types.EffectDeny, resp.Decision.Decision)
		require.Len(t, resp.Decision.AppliedPolicies, 1)
		assert.Equal(t, "pol-prod-deny", resp.Decision.AppliedPolicies[0].ID)
	})

	t.Run("default allow", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodPost, "/v1/authorization/evaluate", evalRequest("viewer", "kv/data/dev/app"))
		require.Equal(t, http.StatusOK, rec.Code)

		var resp EvaluateResponse
		decode(t, rec, &resp)
		assert.Equal(t, types.EffectAllow, resp.Decision.Decision)
		assert.Empty(t, resp.Decision.AppliedPolicies)
	})

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/authorization/evaluate", bytes.NewBufferString("{"))
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("incomplete request", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodPost, "/v1/authorization/evaluate", &types.EvaluationRequest{Action: "read"})
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})

	t.Run("batch preserves order", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodPost, "/v1/authorization/evaluate-batch", BatchEvaluateRequest{
			Requests: []*types.EvaluationRequest{
				evalRequest("developer", "kv/data/prod/database"),
				evalRequest("viewer", "kv/data/dev/app"),
			},
		})
		require.Equal(t, http.StatusOK, rec.Code)

		var resp BatchEvaluateResponse
		decode(t, rec, &resp)
		require.Len(t, resp.Decisions, 2)
		assert.Equal(t, types.EffectDeny, resp.Decisions[0].Decision)
		assert.Equal(t, types.EffectAllow, resp.Decisions[1].Decision)
	})

	t.Run("empty batch rejected", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodPost, "/v1/authorization/evaluate-batch", BatchEvaluateRequest{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestSimulateEndpoint(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/v1/simulations", SimulateRequest{
		Policies: []*types.Policy{denyPolicyRequest().Policy},
		Cases: []types.SimulationCase{
			{ID: "case-1", Request: evalRequest("developer", "kv/data/prod/database"), ExpectedDecision: types.EffectDeny},
			{ID: "case-2", Request: evalRequest("developer", "kv/data/prod/database"), ExpectedDecision: types.EffectAllow},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var result types.SimulationResult
	decode(t, rec, &result)
	assert.Equal(t, 2, result.TotalTests)
	assert.Equal(t, 1, result.PassedTests)
	assert.Equal(t, 1, result.FailedTests)

	t.Run("no cases rejected", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodPost, "/v1/simulations", SimulateRequest{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestPolicyLifecycleEndpoints(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/v1/policies", denyPolicyRequest())
	require.Equal(t, http.StatusCreated, rec.Code)

	var created types.Policy
	decode(t, rec, &created)
	assert.Equal(t, 1, created.Version)

	t.Run("duplicate create rejected", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodPost, "/v1/policies", denyPolicyRequest())
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("invalid policy rejected", func(t *testing.T) {
		bad := denyPolicyRequest()
		bad.Policy.ID = "pol-bad"
		bad.Policy.Effect = "maybe"
		rec := doJSON(t, srv, http.MethodPost, "/v1/policies", bad)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("get", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodGet, "/v1/policies/pol-prod-deny", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		rec = doJSON(t, srv, http.MethodGet, "/v1/policies/pol-ghost", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("update appends a version", func(t *testing.T) {
		update := denyPolicyRequest()
		update.Policy.Priority = 500
		update.Summary = "tighten rule"

		rec := doJSON(t, srv, http.MethodPut, "/v1/policies/pol-prod-deny", update)
		require.Equal(t, http.StatusOK, rec.Code)

		var updated types.Policy
		decode(t, rec, &updated)
		assert.Equal(t, 2, updated.Version)
		assert.Equal(t, 500, updated.Priority)
	})

	t.Run("version history", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodGet, "/v1/policies/pol-prod-deny/versions", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var list VersionListResponse
		decode(t, rec, &list)
		assert.Equal(t, 2, list.Total)
		assert.Equal(t, 2, list.Versions[0].Version, "newest first")
	})

	t.Run("compare versions", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodGet, "/v1/policies/pol-prod-deny/versions/compare?from=1&to=2", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var diff types.VersionDiff
		decode(t, rec, &diff)
		require.NotEmpty(t, diff.Changes)
		assert.Equal(t, types.FieldModified, diff.Changes[0].Type)

		rec = doJSON(t, srv, http.MethodGet, "/v1/policies/pol-prod-deny/versions/compare?from=1&to=9", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("get single version", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodGet, "/v1/policies/pol-prod-deny/versions/1", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		rec = doJSON(t, srv, http.MethodGet, "/v1/policies/pol-prod-deny/versions/9", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)

		rec = doJSON(t, srv, http.MethodGet, "/v1/policies/pol-prod-deny/versions/two", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("restore", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodPost, "/v1/policies/pol-prod-deny/versions/1/restore", RestoreRequest{Reason: "rollback"})
		require.Equal(t, http.StatusOK, rec.Code)

		var restored types.Policy
		decode(t, rec, &restored)
		assert.Equal(t, 3, restored.Version)
		assert.Equal(t, 200, restored.Priority)
	})

	t.Run("audit trail filtered by actor", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodGet, "/v1/policies/pol-prod-deny/versions/audit-trail?created_by=alice", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var trail VersionListResponse
		decode(t, rec, &trail)
		assert.Equal(t, 3, trail.Total)

		rec = doJSON(t, srv, http.MethodGet, "/v1/policies/pol-prod-deny/versions/audit-trail?created_by=bob", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var empty VersionListResponse
		decode(t, rec, &empty)
		assert.Equal(t, 0, empty.Total)
	})

	t.Run("stats", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodGet, "/v1/policies/pol-prod-deny/versions/stats", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var stats types.VersionStats
		decode(t, rec, &stats)
		assert.Equal(t, 3, stats.TotalVersions)
		assert.Equal(t, "alice", stats.TopContributor)
	})

	t.Run("deactivate and delete", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodPost, "/v1/policies/pol-prod-deny/deactivate", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var deactivated types.Policy
		decode(t, rec, &deactivated)
		assert.Equal(t, types.StatusInactive, deactivated.Status)

		rec = doJSON(t, srv, http.MethodDelete, "/v1/policies/pol-prod-deny", nil)
		assert.Equal(t, http.StatusNoContent, rec.Code)

		rec = doJSON(t, srv, http.MethodGet, "/v1/policies/pol-prod-deny", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestRoleEndpoints(t *testing.T) {
	srv := newTestServer(t)

	t.Run("system role delete forbidden", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodDelete, "/v1/roles/role-org-admin", nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("custom role delete succeeds once", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodDelete, "/v1/roles/role-ml-engineer", nil)
		assert.Equal(t, http.StatusNoContent, rec.Code)

		rec = doJSON(t, srv, http.MethodDelete, "/v1/roles/role-ml-engineer", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("create and expand", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodPost, "/v1/roles", &types.Role{
			Name:        "sre",
			Permissions: []string{"perm-secrets-read", "perm-audit-read"},
		})
		require.Equal(t, http.StatusCreated, rec.Code)

		var created types.Role
		decode(t, rec, &created)
		assert.False(t, created.IsSystem)

		rec = doJSON(t, srv, http.MethodGet, fmt.Sprintf("/v1/roles/%s/permissions", created.ID), nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var perms PermissionListResponse
		decode(t, rec, &perms)
		assert.Equal(t, 2, perms.Total)
	})

	t.Run("duplicate role id conflicts", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodPost, "/v1/roles", &types.Role{ID: "role-developer", Name: "developer"})
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("list catalog", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodGet, "/v1/roles", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var roles RoleListResponse
		decode(t, rec, &roles)
		assert.NotZero(t, roles.Total)

		rec = doJSON(t, srv, http.MethodGet, "/v1/permissions", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var perms PermissionListResponse
		decode(t, rec, &perms)
		assert.Equal(t, 13, perms.Total)
	})
}
