package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/secretshub/policy-core/pkg/types"
)

const prodDenyYAML = `
name: prod-deny
effect: deny
priority: 200
rules:
  - type: role
    operator: in
    value:
      - developer
      - data-scientist
targets:
  pathPrefixes:
    - kv/data/prod/
`

func writePolicyFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFromFile(t *testing.T) {
	l := NewLoader(NewValidator(nil), nil)
	dir := t.TempDir()

	t.Run("parses yaml and applies defaults", func(t *testing.T) {
		path := writePolicyFile(t, dir, "prod-deny.yaml", prodDenyYAML)

		p, err := l.LoadFromFile(path)
		require.NoError(t, err)

		assert.Equal(t, "prod-deny", p.ID, "id defaults to the file basename")
		assert.Equal(t, types.StatusActive, p.Status, "status defaults to active")
		assert.Equal(t, types.EffectDeny, p.Effect)
		assert.Equal(t, 200, p.Priority)
		require.Len(t, p.Rules, 1)
		assert.Equal(t, types.StringSet{"developer", "data-scientist"}, p.Rules[0].Values)
		assert.Equal(t, []string{"kv/data/prod/"}, p.Targets.PathPrefixes)
	})

	t.Run("json parses through the same path", func(t *testing.T) {
		path := writePolicyFile(t, dir, "admin-allow.json", `{
			"name": "admin-allow",
			"effect": "allow",
			"priority": 100,
			"rules": [{"type": "role", "operator": "equals", "value": ["org-admin"]}],
			"targets": {"resources": ["*"]}
		}`)

		p, err := l.LoadFromFile(path)
		require.NoError(t, err)
		assert.Equal(t, "admin-allow", p.ID)
		assert.Equal(t, types.EffectAllow, p.Effect)
	})

	t.Run("explicit id wins over the basename", func(t *testing.T) {
		path := writePolicyFile(t, dir, "whatever.yaml", "id: pol-explicit\n"+prodDenyYAML)

		p, err := l.LoadFromFile(path)
		require.NoError(t, err)
		assert.Equal(t, "pol-explicit", p.ID)
	})

	t.Run("malformed yaml fails", func(t *testing.T) {
		path := writePolicyFile(t, dir, "broken.yaml", "name: [unclosed")
		_, err := l.LoadFromFile(path)
		assert.Error(t, err)
	})

	t.Run("invalid policy fails validation", func(t *testing.T) {
		path := writePolicyFile(t, dir, "bad-effect.yaml", "name: bad-effect\neffect: maybe\ntargets:\n  resources: [\"*\"]\n")
		_, err := l.LoadFromFile(path)
		assert.ErrorContains(t, err, "validation failed")
	})

	t.Run("missing file fails", func(t *testing.T) {
		_, err := l.LoadFromFile(filepath.Join(dir, "nope.yaml"))
		assert.Error(t, err)
	})
}

func TestLoadFromDirectory(t *testing.T) {
	l := NewLoader(NewValidator(nil), nil)

	t.Run("loads every policy file, skipping bad ones", func(t *testing.T) {
		dir := t.TempDir()
		writePolicyFile(t, dir, "a.yaml", prodDenyYAML)
		writePolicyFile(t, dir, "b.yml", prodDenyYAML)
		writePolicyFile(t, dir, "broken.yaml", "effect: maybe")
		writePolicyFile(t, dir, "notes.txt", "not a policy")
		require.NoError(t, os.Mkdir(filepath.Join(dir, "subdir"), 0o755))

		policies, err := l.LoadFromDirectory(dir)
		require.NoError(t, err)
		require.Len(t, policies, 2)

		ids := []string{policies[0].ID, policies[1].ID}
		assert.ElementsMatch(t, []string{"a", "b"}, ids)
	})

	t.Run("missing directory fails", func(t *testing.T) {
		_, err := l.LoadFromDirectory("/does/not/exist")
		assert.Error(t, err)
	})
}
