package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/secretshub/policy-core/internal/policy"
	"github.com/secretshub/policy-core/pkg/types"
)

func policyAllowAdmins() *types.Policy {
	return &types.Policy{
		ID:       "pol-a",
		Name:     "admin-allow-all",
		Effect:   types.EffectAllow,
		Priority: 100,
		Status:   types.StatusActive,
		Rules: []*types.Rule{
			{Type: types.RuleTypeRole, Operator: types.OperatorEquals, Values: types.StringSet{"org-admin"}},
		},
		Targets: &types.Targets{Resources: []string{"*"}},
	}
}

func policyDenyProdPaths() *types.Policy {
	return &types.Policy{
		ID:       "pol-b",
		Name:     "prod-path-deny",
		Effect:   types.EffectDeny,
		Priority: 200,
		Status:   types.StatusActive,
		Rules: []*types.Rule{
			{Type: types.RuleTypeRole, Operator: types.OperatorIn, Values: types.StringSet{"developer", "data-scientist"}},
		},
		Targets: &types.Targets{PathPrefixes: []string{"kv/data/prod/"}},
	}
}

func newEvaluator(t *testing.T, policies ...*types.Policy) *Evaluator {
	t.Helper()

	store := policy.NewMemoryStore()
	for _, p := range policies {
		require.NoError(t, store.Put(p))
	}

	cfg := DefaultConfig()
	cfg.CacheEnabled = false
	cfg.ParallelWorkers = 2

	e, err := New(cfg, store, nil)
	require.NoError(t, err)
	t.Cleanup(e.Shutdown)
	return e
}

func TestEvaluateDenyPrecedence(t *testing.T) {
	e := newEvaluator(t, policyAllowAdmins(), policyDenyProdPaths())

	// Developer hitting a prod path: deny policy wins.
	decision, err := e.Evaluate(context.Background(), request([]string{"developer"}, "kv/data/prod/database"))
	require.NoError(t, err)

	assert.Equal(t, types.EffectDeny, decision.Decision)
	require.Len(t, decision.AppliedPolicies, 1)
	assert.Equal(t, "pol-b", decision.AppliedPolicies[0].ID)
	assert.Contains(t, decision.Reason, "prod-path-deny")
}

func TestEvaluateAllowWhenDenyRulesDoNotMatch(t *testing.T) {
	e := newEvaluator(t, policyAllowAdmins(), policyDenyProdPaths())

	decision, err := e.Evaluate(context.Background(), request([]string{"org-admin"}, "kv/data/prod/database"))
	require.NoError(t, err)

	assert.Equal(t, types.EffectAllow, decision.Decision)
	require.Len(t, decision.AppliedPolicies, 1)
	assert.Equal(t, "pol-a", decision.AppliedPolicies[0].ID)
}

func TestEvaluateDefaultAllowOnNoMatch(t *testing.T) {
	e := newEvaluator(t)

	decision, err := e.Evaluate(context.Background(), request([]string{"viewer"}, "kv/data/dev/app"))
	require.NoError(t, err)

	assert.Equal(t, types.EffectAllow, decision.Decision)
	assert.Equal(t, ReasonNoMatch, decision.Reason)
	assert.NotNil(t, decision.AppliedPolicies)
	assert.Empty(t, decision.AppliedPolicies)
}

func TestEvaluateDeterminism(t *testing.T) {
	e := newEvaluator(t, policyAllowAdmins(), policyDenyProdPaths())
	req := request([]string{"developer"}, "kv/data/prod/database")

	first, err := e.Evaluate(context.Background(), req)
	require.NoError(t, err)
	second, err := e.Evaluate(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.Decision, second.Decision)
	assert.Equal(t, first.Reason, second.Reason)
	assert.Equal(t, first.AppliedPolicies, second.AppliedPolicies)
}

func TestEvaluateInactivePoliciesIgnored(t *testing.T) {
	deny := policyDenyProdPaths()
	deny.Status = types.StatusInactive

	e := newEvaluator(t, deny)

	decision, err := e.Evaluate(context.Background(), request([]string{"developer"}, "kv/data/prod/database"))
	require.NoError(t, err)

	assert.Equal(t, types.EffectAllow, decision.Decision)
	assert.Equal(t, ReasonNoMatch, decision.Reason)
}

func TestEvaluatePriorityAndIDOrdering(t *testing.T) {
	low := policyDenyProdPaths()
	low.ID = "pol-z"
	low.Name = "low-priority-deny"
	low.Priority = 10

	high := policyDenyProdPaths()
	high.ID = "pol-b"
	high.Priority = 200

	tie := policyDenyProdPaths()
	tie.ID = "pol-a"
	tie.Name = "tie-deny"
	tie.Priority = 200

	e := newEvaluator(t, low, high, tie)

	decision, err := e.Evaluate(context.Background(), request([]string{"developer"}, "kv/data/prod/database"))
	require.NoError(t, err)

	assert.Equal(t, types.EffectDeny, decision.Decision)
	require.Len(t, decision.AppliedPolicies, 3)
	// Highest priority first; equal priorities break ties on lowest id.
	assert.Equal(t, "pol-a", decision.AppliedPolicies[0].ID)
	assert.Equal(t, "pol-b", decision.AppliedPolicies[1].ID)
	assert.Equal(t, "pol-z", decision.AppliedPolicies[2].ID)
	assert.Contains(t, decision.Reason, "tie-deny")
}

func TestEvaluateConditions(t *testing.T) {
	conditional := policyDenyProdPaths()
	conditional.Conditions = []string{`environment.environment == "production"`}

	e := newEvaluator(t, conditional)

	t.Run("condition true applies the policy", func(t *testing.T) {
		req := request([]string{"developer"}, "kv/data/prod/database")
		req.Environment = &types.EnvironmentContext{Environment: "production"}

		decision, err := e.Evaluate(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, types.EffectDeny, decision.Decision)
	})

	t.Run("condition false skips the policy", func(t *testing.T) {
		req := request([]string{"developer"}, "kv/data/prod/database")
		req.Environment = &types.EnvironmentContext{Environment: "staging"}

		decision, err := e.Evaluate(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, types.EffectAllow, decision.Decision)
	})

	t.Run("condition error fails closed for the policy", func(t *testing.T) {
		broken := policyDenyProdPaths()
		broken.ID = "pol-broken"
		broken.Conditions = []string{`user.missing_key.nested == "x"`}

		eb := newEvaluator(t, broken)
		decision, err := eb.Evaluate(context.Background(), request([]string{"developer"}, "kv/data/prod/database"))
		require.NoError(t, err)
		assert.Equal(t, types.EffectAllow, decision.Decision)
	})
}

func TestEvaluateInvalidRequest(t *testing.T) {
	e := newEvaluator(t)

	_, err := e.Evaluate(context.Background(), nil)
	assert.Error(t, err)

	_, err = e.Evaluate(context.Background(), &types.EvaluationRequest{Action: "read"})
	assert.Error(t, err)

	_, err = e.Evaluate(context.Background(), &types.EvaluationRequest{Resource: &types.ResourceContext{Type: "secret"}})
	assert.Error(t, err)
}

func TestEvaluateCaching(t *testing.T) {
	store := policy.NewMemoryStore()
	require.NoError(t, store.Put(policyDenyProdPaths()))

	cfg := DefaultConfig()
	cfg.CacheSize = 16
	cfg.ParallelWorkers = 2

	e, err := New(cfg, store, nil)
	require.NoError(t, err)
	t.Cleanup(e.Shutdown)

	req := request([]string{"developer"}, "kv/data/prod/database")

	_, err = e.Evaluate(context.Background(), req)
	require.NoError(t, err)
	_, err = e.Evaluate(context.Background(), req)
	require.NoError(t, err)

	stats := e.GetCacheStats()
	require.NotNil(t, stats)
	assert.Equal(t, uint64(1), stats.Hits)

	t.Run("invalidation drops cached decisions", func(t *testing.T) {
		e.InvalidateCache()

		require.NoError(t, store.Delete("pol-b"))
		decision, err := e.Evaluate(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, types.EffectAllow, decision.Decision)
	})
}

func TestEvaluateDenyByResourceIDTarget(t *testing.T) {
	deny := &types.Policy{
		ID:       "pol-res-deny",
		Name:     "secret-123-deny",
		Effect:   types.EffectDeny,
		Priority: 150,
		Status:   types.StatusActive,
		Targets:  &types.Targets{Resources: []string{"secret-123"}},
	}

	e := newEvaluator(t, deny)

	req := &types.EvaluationRequest{
		User:     &types.UserContext{ID: "user-1", Roles: []string{"developer"}},
		Action:   "read",
		Resource: &types.ResourceContext{Type: "secret", ID: "secret-123"},
	}

	decision, err := e.Evaluate(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, types.EffectDeny, decision.Decision)
	require.Len(t, decision.AppliedPolicies, 1)
	assert.Equal(t, "pol-res-deny", decision.AppliedPolicies[0].ID)

	t.Run("other resources of the same type stay open", func(t *testing.T) {
		other := &types.EvaluationRequest{
			User:     &types.UserContext{ID: "user-1", Roles: []string{"developer"}},
			Action:   "read",
			Resource: &types.ResourceContext{Type: "secret", ID: "secret-456"},
		}

		decision, err := e.Evaluate(context.Background(), other)
		require.NoError(t, err)
		assert.Equal(t, types.EffectAllow, decision.Decision)
		assert.Equal(t, ReasonNoMatch, decision.Reason)
	})
}

func TestEvaluateCachingDistinguishesAttributes(t *testing.T) {
	deny := &types.Policy{
		ID:       "pol-team-deny",
		Name:     "ml-team-deny",
		Effect:   types.EffectDeny,
		Priority: 100,
		Status:   types.StatusActive,
		Rules: []*types.Rule{
			{Type: types.RuleType("attribute:team"), Operator: types.OperatorIn, Values: types.StringSet{"ml"}},
		},
	}

	store := policy.NewMemoryStore()
	require.NoError(t, store.Put(deny))

	cfg := DefaultConfig()
	cfg.CacheSize = 16
	cfg.ParallelWorkers = 2

	e, err := New(cfg, store, nil)
	require.NoError(t, err)
	t.Cleanup(e.Shutdown)

	plain := request([]string{"developer"}, "kv/data/dev/app")
	decision, err := e.Evaluate(context.Background(), plain)
	require.NoError(t, err)
	assert.Equal(t, types.EffectAllow, decision.Decision)

	// The same request carrying a team attribute must not be served the
	// cached allow.
	tagged := request([]string{"developer"}, "kv/data/dev/app")
	tagged.User.Attributes = map[string]interface{}{"team": "ml"}

	decision, err = e.Evaluate(context.Background(), tagged)
	require.NoError(t, err)
	assert.Equal(t, types.EffectDeny, decision.Decision)
}

func TestEvaluateBatch(t *testing.T) {
	e := newEvaluator(t, policyAllowAdmins(), policyDenyProdPaths())

	requests := []*types.EvaluationRequest{
		request([]string{"developer"}, "kv/data/prod/database"),
		request([]string{"org-admin"}, "kv/data/prod/database"),
		request([]string{"viewer"}, "kv/data/dev/app"),
	}

	decisions, err := e.EvaluateBatch(context.Background(), requests)
	require.NoError(t, err)
	require.Len(t, decisions, 3)

	assert.Equal(t, types.EffectDeny, decisions[0].Decision)
	assert.Equal(t, types.EffectAllow, decisions[1].Decision)
	assert.Equal(t, ReasonNoMatch, decisions[2].Reason)
}
