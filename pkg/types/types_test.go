package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func cacheRequest() *EvaluationRequest {
	return &EvaluationRequest{
		User:     &UserContext{ID: "user-1", Roles: []string{"developer", "auditor"}},
		Action:   "read",
		Resource: &ResourceContext{Type: "secret", Path: "kv/data/dev/app"},
	}
}

func TestCacheKey(t *testing.T) {
	t.Run("stable across role ordering", func(t *testing.T) {
		a := cacheRequest()
		b := cacheRequest()
		b.User.Roles = []string{"auditor", "developer"}

		assert.Equal(t, a.CacheKey(), b.CacheKey())
	})

	t.Run("user attributes split entries", func(t *testing.T) {
		a := cacheRequest()
		b := cacheRequest()
		b.User.Attributes = map[string]interface{}{"team": "ml"}

		assert.NotEqual(t, a.CacheKey(), b.CacheKey())
	})

	t.Run("resource attributes split entries", func(t *testing.T) {
		a := cacheRequest()
		b := cacheRequest()
		b.Resource.Attributes = map[string]interface{}{"classification": "restricted"}

		assert.NotEqual(t, a.CacheKey(), b.CacheKey())
	})

	t.Run("environment attributes split entries", func(t *testing.T) {
		a := cacheRequest()
		a.Environment = &EnvironmentContext{Environment: "production"}
		b := cacheRequest()
		b.Environment = &EnvironmentContext{
			Environment: "production",
			Attributes:  map[string]interface{}{"region": "eu-west-1"},
		}

		assert.NotEqual(t, a.CacheKey(), b.CacheKey())
	})

	t.Run("attribute map ordering does not split entries", func(t *testing.T) {
		a := cacheRequest()
		a.User.Attributes = map[string]interface{}{"team": "ml", "tier": "gold"}
		b := cacheRequest()
		b.User.Attributes = map[string]interface{}{"tier": "gold", "team": "ml"}

		assert.Equal(t, a.CacheKey(), b.CacheKey())
	})

	t.Run("differing actions split entries", func(t *testing.T) {
		a := cacheRequest()
		b := cacheRequest()
		b.Action = "delete"

		assert.NotEqual(t, a.CacheKey(), b.CacheKey())
	})
}
