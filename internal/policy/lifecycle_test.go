package policy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/secretshub/policy-core/internal/versioning"
	"github.com/secretshub/policy-core/pkg/types"
)

func validPolicy() *types.Policy {
	return &types.Policy{
		ID:       "pol-1",
		Name:     "prod-deny",
		Effect:   types.EffectDeny,
		Priority: 100,
		Status:   types.StatusActive,
		Rules: []*types.Rule{
			{Type: types.RuleTypeRole, Operator: types.OperatorIn, Values: types.StringSet{"developer"}},
		},
		Targets: &types.Targets{PathPrefixes: []string{"kv/data/prod/"}},
	}
}

// failingVersionStore fails Create on demand so rollback paths can be driven.
type failingVersionStore struct {
	versioning.Store
	failCreate bool
}

func (f *failingVersionStore) Create(ctx context.Context, policyID string, content *types.Policy, change versioning.Change) (*types.PolicyVersion, error) {
	if f.failCreate {
		return nil, errors.New("version append failed")
	}
	return f.Store.Create(ctx, policyID, content, change)
}

// flakyStore lets a bounded number of mutations through, then fails. Used to
// make the rollback itself fail.
type flakyStore struct {
	Store
	putsLeft    int
	deletesLeft int
}

func (f *flakyStore) Put(p *types.Policy) error {
	if f.putsLeft <= 0 {
		return errors.New("store unavailable")
	}
	f.putsLeft--
	return f.Store.Put(p)
}

func (f *flakyStore) Delete(id string) error {
	if f.deletesLeft <= 0 {
		return errors.New("store unavailable")
	}
	f.deletesLeft--
	return f.Store.Delete(id)
}

type countingInvalidator struct {
	calls int
}

func (c *countingInvalidator) InvalidateCache() { c.calls++ }

func newManager(t *testing.T) (*Manager, *MemoryStore, *versioning.MemoryStore) {
	t.Helper()

	store := NewMemoryStore()
	versions := versioning.NewMemoryStore()
	m, err := NewManager(store, versions, NewValidator(nil), nil)
	require.NoError(t, err)
	return m, store, versions
}

func TestCreateWithVersioning(t *testing.T) {
	m, store, versions := newManager(t)
	ctx := context.Background()

	created, err := m.CreateWithVersioning(ctx, validPolicy(), "initial import", "alice")
	require.NoError(t, err)

	assert.Equal(t, 1, created.Version)

	live, err := store.Get("pol-1")
	require.NoError(t, err)
	assert.Equal(t, 1, live.Version)

	record, err := versions.Latest(ctx, "pol-1")
	require.NoError(t, err)
	assert.Equal(t, 1, record.Version)
	assert.Equal(t, types.ChangeCreated, record.ChangeType)
	assert.Equal(t, "initial import", record.ChangeSummary)
	assert.Equal(t, "alice", record.CreatedBy)

	t.Run("duplicate id rejected", func(t *testing.T) {
		_, err := m.CreateWithVersioning(ctx, validPolicy(), "again", "alice")
		assert.ErrorContains(t, err, "already exists")
	})

	t.Run("missing id gets generated", func(t *testing.T) {
		p := validPolicy()
		p.ID = ""
		p.Status = ""

		created, err := m.CreateWithVersioning(ctx, p, "", "alice")
		require.NoError(t, err)
		assert.NotEmpty(t, created.ID)
		assert.Equal(t, types.StatusDraft, created.Status)
	})
}

func TestCreateValidationFailureLeavesNoTrace(t *testing.T) {
	m, store, versions := newManager(t)
	ctx := context.Background()

	bad := validPolicy()
	bad.Effect = "maybe"

	_, err := m.CreateWithVersioning(ctx, bad, "", "alice")
	require.Error(t, err)

	// A rejected policy must not reach the store or the version chain.
	_, err = store.Get("pol-1")
	assert.ErrorIs(t, err, ErrPolicyNotFound)

	history, err := versions.History(ctx, "pol-1", versioning.OldestFirst)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestUpdateWithVersioning(t *testing.T) {
	m, store, versions := newManager(t)
	ctx := context.Background()

	original := validPolicy()
	original.CreatedAt = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := m.CreateWithVersioning(ctx, original, "initial", "alice")
	require.NoError(t, err)

	updated := validPolicy()
	updated.Priority = 200
	updated.CreatedAt = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	result, err := m.UpdateWithVersioning(ctx, updated, "tighten rule", "bob")
	require.NoError(t, err)

	assert.Equal(t, 2, result.Version)
	assert.Equal(t, original.CreatedAt, result.CreatedAt, "updates must preserve the creation timestamp")

	live, err := store.Get("pol-1")
	require.NoError(t, err)
	assert.Equal(t, 200, live.Priority)

	record, err := versions.Latest(ctx, "pol-1")
	require.NoError(t, err)
	assert.Equal(t, types.ChangeUpdated, record.ChangeType)
	assert.Equal(t, "tighten rule", record.ChangeSummary)

	t.Run("unknown policy fails", func(t *testing.T) {
		ghost := validPolicy()
		ghost.ID = "pol-ghost"
		_, err := m.UpdateWithVersioning(ctx, ghost, "", "bob")
		assert.ErrorIs(t, err, ErrPolicyNotFound)
	})
}

func TestDeleteWithVersioning(t *testing.T) {
	m, store, versions := newManager(t)
	ctx := context.Background()

	_, err := m.CreateWithVersioning(ctx, validPolicy(), "initial", "alice")
	require.NoError(t, err)

	err = m.DeleteWithVersioning(ctx, "pol-1", "no longer needed", "alice")
	require.NoError(t, err)

	_, err = store.Get("pol-1")
	assert.ErrorIs(t, err, ErrPolicyNotFound)

	// The deletion version carries the final snapshot.
	record, err := versions.Latest(ctx, "pol-1")
	require.NoError(t, err)
	assert.Equal(t, 2, record.Version)
	assert.Equal(t, types.ChangeDeleted, record.ChangeType)
	assert.Equal(t, "prod-deny", record.Content.Name)

	t.Run("unknown policy fails", func(t *testing.T) {
		err := m.DeleteWithVersioning(ctx, "pol-ghost", "", "alice")
		assert.ErrorIs(t, err, ErrPolicyNotFound)
	})
}

func TestSetStatusWithVersioning(t *testing.T) {
	m, _, versions := newManager(t)
	ctx := context.Background()

	_, err := m.CreateWithVersioning(ctx, validPolicy(), "initial", "alice")
	require.NoError(t, err)

	deactivated, err := m.SetStatusWithVersioning(ctx, "pol-1", types.StatusInactive, "alice")
	require.NoError(t, err)
	assert.Equal(t, types.StatusInactive, deactivated.Status)

	record, err := versions.Latest(ctx, "pol-1")
	require.NoError(t, err)
	assert.Equal(t, types.ChangeDeactivated, record.ChangeType)

	activated, err := m.SetStatusWithVersioning(ctx, "pol-1", types.StatusActive, "alice")
	require.NoError(t, err)
	assert.Equal(t, types.StatusActive, activated.Status)

	record, err = versions.Latest(ctx, "pol-1")
	require.NoError(t, err)
	assert.Equal(t, types.ChangeActivated, record.ChangeType)

	t.Run("unchanged status is a no-op", func(t *testing.T) {
		before, err := versions.History(ctx, "pol-1", versioning.OldestFirst)
		require.NoError(t, err)

		_, err = m.SetStatusWithVersioning(ctx, "pol-1", types.StatusActive, "alice")
		require.NoError(t, err)

		after, err := versions.History(ctx, "pol-1", versioning.OldestFirst)
		require.NoError(t, err)
		assert.Len(t, after, len(before))
	})

	t.Run("draft is not a valid target status", func(t *testing.T) {
		_, err := m.SetStatusWithVersioning(ctx, "pol-1", types.StatusDraft, "alice")
		assert.Error(t, err)
	})
}

func TestRestoreVersion(t *testing.T) {
	m, store, versions := newManager(t)
	ctx := context.Background()

	_, err := m.CreateWithVersioning(ctx, validPolicy(), "initial", "alice")
	require.NoError(t, err)

	tightened := validPolicy()
	tightened.Priority = 500
	_, err = m.UpdateWithVersioning(ctx, tightened, "tighten rule", "alice")
	require.NoError(t, err)

	restored, err := m.RestoreVersion(ctx, "pol-1", 1, "rollback", "bob")
	require.NoError(t, err)

	// The restore is version 3 and its content matches version 1.
	assert.Equal(t, 3, restored.Version)
	assert.Equal(t, 100, restored.Priority)

	live, err := store.Get("pol-1")
	require.NoError(t, err)
	assert.Equal(t, 100, live.Priority)
	assert.Equal(t, 3, live.Version)

	v1, err := versions.Get(ctx, "pol-1", 1)
	require.NoError(t, err)
	assert.Equal(t, 100, v1.Content.Priority)
	assert.Equal(t, types.ChangeCreated, v1.ChangeType)

	t.Run("unknown version fails", func(t *testing.T) {
		_, err := m.RestoreVersion(ctx, "pol-1", 99, "", "bob")
		assert.ErrorIs(t, err, versioning.ErrVersionOutOfRange)
	})
}

func TestVersionAppendFailureRollsBack(t *testing.T) {
	ctx := context.Background()

	t.Run("create rolls back the insert", func(t *testing.T) {
		store := NewMemoryStore()
		versions := &failingVersionStore{Store: versioning.NewMemoryStore(), failCreate: true}
		m, err := NewManager(store, versions, NewValidator(nil), nil)
		require.NoError(t, err)

		_, err = m.CreateWithVersioning(ctx, validPolicy(), "", "alice")
		require.ErrorContains(t, err, "rolled back")

		_, err = store.Get("pol-1")
		assert.ErrorIs(t, err, ErrPolicyNotFound)
	})

	t.Run("update restores the previous policy", func(t *testing.T) {
		store := NewMemoryStore()
		versions := &failingVersionStore{Store: versioning.NewMemoryStore()}
		m, err := NewManager(store, versions, NewValidator(nil), nil)
		require.NoError(t, err)

		_, err = m.CreateWithVersioning(ctx, validPolicy(), "", "alice")
		require.NoError(t, err)

		versions.failCreate = true
		updated := validPolicy()
		updated.Priority = 999

		_, err = m.UpdateWithVersioning(ctx, updated, "", "alice")
		require.ErrorContains(t, err, "rolled back")

		live, err := store.Get("pol-1")
		require.NoError(t, err)
		assert.Equal(t, 100, live.Priority)
	})

	t.Run("delete restores the removed policy", func(t *testing.T) {
		store := NewMemoryStore()
		versions := &failingVersionStore{Store: versioning.NewMemoryStore()}
		m, err := NewManager(store, versions, NewValidator(nil), nil)
		require.NoError(t, err)

		_, err = m.CreateWithVersioning(ctx, validPolicy(), "", "alice")
		require.NoError(t, err)

		versions.failCreate = true
		err = m.DeleteWithVersioning(ctx, "pol-1", "", "alice")
		require.ErrorContains(t, err, "rolled back")

		_, err = store.Get("pol-1")
		assert.NoError(t, err)
	})
}

func TestDoubleFailureSurfacesConsistencyError(t *testing.T) {
	ctx := context.Background()

	store := NewMemoryStore()
	versions := &failingVersionStore{Store: versioning.NewMemoryStore()}
	m, err := NewManager(store, versions, NewValidator(nil), nil)
	require.NoError(t, err)

	_, err = m.CreateWithVersioning(ctx, validPolicy(), "", "alice")
	require.NoError(t, err)

	// Wrap the store so the update's initial Put succeeds but the rollback
	// Put fails.
	flaky := &flakyStore{Store: store, putsLeft: 1}
	broken, err := NewManager(flaky, versions, NewValidator(nil), nil)
	require.NoError(t, err)

	versions.failCreate = true
	updated := validPolicy()
	updated.Priority = 999

	_, err = broken.UpdateWithVersioning(ctx, updated, "", "alice")
	require.Error(t, err)

	var consistency *ConsistencyError
	require.ErrorAs(t, err, &consistency)
	assert.Equal(t, "pol-1", consistency.PolicyID)
	assert.Equal(t, "update", consistency.Op)
	assert.Error(t, consistency.Cause)
	assert.Error(t, consistency.RollbackErr)
}

func TestMutationsInvalidateCache(t *testing.T) {
	store := NewMemoryStore()
	versions := versioning.NewMemoryStore()
	inv := &countingInvalidator{}

	m, err := NewManager(store, versions, NewValidator(nil), nil, WithCacheInvalidator(inv))
	require.NoError(t, err)

	ctx := context.Background()
	_, err = m.CreateWithVersioning(ctx, validPolicy(), "", "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, inv.calls)

	updated := validPolicy()
	updated.Priority = 200
	_, err = m.UpdateWithVersioning(ctx, updated, "", "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, inv.calls)

	require.NoError(t, m.DeleteWithVersioning(ctx, "pol-1", "", "alice"))
	assert.Equal(t, 3, inv.calls)
}
