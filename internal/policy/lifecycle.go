package policy

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/secretshub/policy-core/internal/audit"
	"github.com/secretshub/policy-core/internal/metrics"
	"github.com/secretshub/policy-core/internal/versioning"
	"github.com/secretshub/policy-core/pkg/types"
)

// CacheInvalidator drops cached decisions after a policy mutation
type CacheInvalidator interface {
	InvalidateCache()
}

// ConsistencyError reports a mutation whose version record failed AND whose
// rollback also failed, leaving the live store and the version chain out of
// sync. Callers should surface it loudly.
type ConsistencyError struct {
	PolicyID    string
	Op          string
	Cause       error
	RollbackErr error
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("policy %s: %s failed (%v) and rollback failed (%v): store and version history diverged",
		e.PolicyID, e.Op, e.Cause, e.RollbackErr)
}

func (e *ConsistencyError) Unwrap() error { return e.Cause }

// Manager couples policy store mutations with the append-only version chain.
// Every successful create, update, delete, restore, or status change produces
// exactly one version record; a failed version append rolls the live store
// back so the two never diverge silently.
type Manager struct {
	store       Store
	versions    versioning.Store
	validator   *Validator
	invalidator CacheInvalidator
	metrics     *metrics.Metrics
	auditor     audit.Logger
	logger      *zap.Logger
}

// ManagerOption configures optional Manager collaborators
type ManagerOption func(*Manager)

// WithCacheInvalidator wires decision cache invalidation into mutations
func WithCacheInvalidator(inv CacheInvalidator) ManagerOption {
	return func(m *Manager) { m.invalidator = inv }
}

// WithMetrics wires version metrics into mutations
func WithMetrics(met *metrics.Metrics) ManagerOption {
	return func(m *Manager) { m.metrics = met }
}

// WithAuditor wires audit events into mutations
func WithAuditor(auditor audit.Logger) ManagerOption {
	return func(m *Manager) { m.auditor = auditor }
}

// NewManager creates a policy lifecycle manager
func NewManager(store Store, versions versioning.Store, validator *Validator, logger *zap.Logger, opts ...ManagerOption) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("policy store is required")
	}
	if versions == nil {
		return nil, fmt.Errorf("version store is required")
	}
	if validator == nil {
		validator = NewValidator(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &Manager{
		store:     store,
		versions:  versions,
		validator: validator,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// CreateWithVersioning validates and stores a new policy, recording version 1
func (m *Manager) CreateWithVersioning(ctx context.Context, policy *types.Policy, summary, actor string) (*types.Policy, error) {
	if err := m.validator.ValidatePolicy(policy); err != nil {
		return nil, fmt.Errorf("policy validation failed: %w", err)
	}

	stored := policy.Clone()
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if stored.Status == "" {
		stored.Status = types.StatusDraft
	}

	if _, err := m.store.Get(stored.ID); err == nil {
		return nil, fmt.Errorf("policy %s already exists", stored.ID)
	}

	if err := m.store.Put(stored); err != nil {
		return nil, fmt.Errorf("failed to store policy: %w", err)
	}

	record, err := m.versions.Create(ctx, stored.ID, stored, versioning.Change{
		Summary: summary,
		Type:    types.ChangeCreated,
		Actor:   actor,
	})
	if err != nil {
		if rbErr := m.store.Delete(stored.ID); rbErr != nil {
			return nil, &ConsistencyError{PolicyID: stored.ID, Op: "create", Cause: err, RollbackErr: rbErr}
		}
		return nil, fmt.Errorf("failed to record version (create rolled back): %w", err)
	}

	m.finishMutation(ctx, stored, record, actor)
	return m.syncVersion(stored, record)
}

// UpdateWithVersioning validates and replaces an existing policy, appending a
// new version
func (m *Manager) UpdateWithVersioning(ctx context.Context, policy *types.Policy, summary, actor string) (*types.Policy, error) {
	if policy == nil || policy.ID == "" {
		return nil, fmt.Errorf("policy id is required")
	}

	if err := m.validator.ValidatePolicy(policy); err != nil {
		return nil, fmt.Errorf("policy validation failed: %w", err)
	}

	previous, err := m.store.Get(policy.ID)
	if err != nil {
		return nil, err
	}

	stored := policy.Clone()
	stored.CreatedAt = previous.CreatedAt

	if err := m.store.Put(stored); err != nil {
		return nil, fmt.Errorf("failed to store policy: %w", err)
	}

	record, err := m.versions.Create(ctx, stored.ID, stored, versioning.Change{
		Summary: summary,
		Type:    types.ChangeUpdated,
		Actor:   actor,
	})
	if err != nil {
		if rbErr := m.store.Put(previous); rbErr != nil {
			return nil, &ConsistencyError{PolicyID: stored.ID, Op: "update", Cause: err, RollbackErr: rbErr}
		}
		return nil, fmt.Errorf("failed to record version (update rolled back): %w", err)
	}

	m.finishMutation(ctx, stored, record, actor)
	return m.syncVersion(stored, record)
}

// DeleteWithVersioning removes a policy from the live store and records a
// deletion version carrying the final snapshot
func (m *Manager) DeleteWithVersioning(ctx context.Context, policyID, summary, actor string) error {
	previous, err := m.store.Get(policyID)
	if err != nil {
		return err
	}

	if err := m.store.Delete(policyID); err != nil {
		return fmt.Errorf("failed to delete policy: %w", err)
	}

	record, err := m.versions.Create(ctx, policyID, previous, versioning.Change{
		Summary: summary,
		Type:    types.ChangeDeleted,
		Actor:   actor,
	})
	if err != nil {
		if rbErr := m.store.Put(previous); rbErr != nil {
			return &ConsistencyError{PolicyID: policyID, Op: "delete", Cause: err, RollbackErr: rbErr}
		}
		return fmt.Errorf("failed to record version (delete rolled back): %w", err)
	}

	m.finishMutation(ctx, previous, record, actor)
	return nil
}

// RestoreVersion appends a restore version and makes its content live. The
// restored-from record stays untouched.
func (m *Manager) RestoreVersion(ctx context.Context, policyID string, version int, reason, actor string) (*types.Policy, error) {
	record, err := m.versions.Restore(ctx, policyID, version, reason, actor)
	if err != nil {
		return nil, err
	}

	restored := record.Content.Clone()
	if err := m.store.Put(restored); err != nil {
		return nil, fmt.Errorf("restore recorded as version %d but live store update failed: %w", record.Version, err)
	}

	m.finishMutation(ctx, restored, record, actor)
	return restored, nil
}

// SetStatusWithVersioning transitions a policy between active and inactive,
// recording an activation or deactivation version
func (m *Manager) SetStatusWithVersioning(ctx context.Context, policyID string, status types.PolicyStatus, actor string) (*types.Policy, error) {
	if status != types.StatusActive && status != types.StatusInactive {
		return nil, fmt.Errorf("invalid target status: %s", status)
	}

	previous, err := m.store.Get(policyID)
	if err != nil {
		return nil, err
	}
	if previous.Status == status {
		return previous, nil
	}

	stored := previous.Clone()
	stored.Status = status

	if err := m.store.Put(stored); err != nil {
		return nil, fmt.Errorf("failed to store policy: %w", err)
	}

	changeType := types.ChangeActivated
	summary := "policy activated"
	if status == types.StatusInactive {
		changeType = types.ChangeDeactivated
		summary = "policy deactivated"
	}

	record, err := m.versions.Create(ctx, policyID, stored, versioning.Change{
		Summary: summary,
		Type:    changeType,
		Actor:   actor,
	})
	if err != nil {
		if rbErr := m.store.Put(previous); rbErr != nil {
			return nil, &ConsistencyError{PolicyID: policyID, Op: "status change", Cause: err, RollbackErr: rbErr}
		}
		return nil, fmt.Errorf("failed to record version (status change rolled back): %w", err)
	}

	m.finishMutation(ctx, stored, record, actor)
	return m.syncVersion(stored, record)
}

// Get returns a policy by id
func (m *Manager) Get(policyID string) (*types.Policy, error) {
	return m.store.Get(policyID)
}

// List returns all stored policies
func (m *Manager) List() []*types.Policy {
	return m.store.GetAll()
}

// Versions exposes the underlying version store for history queries
func (m *Manager) Versions() versioning.Store {
	return m.versions
}

// syncVersion stamps the live policy with its newest version number
func (m *Manager) syncVersion(stored *types.Policy, record *types.PolicyVersion) (*types.Policy, error) {
	stored.Version = record.Version
	if err := m.store.Put(stored); err != nil {
		return nil, fmt.Errorf("failed to sync policy version: %w", err)
	}
	return stored.Clone(), nil
}

// finishMutation runs the post-mutation hooks shared by all lifecycle paths
func (m *Manager) finishMutation(ctx context.Context, policy *types.Policy, record *types.PolicyVersion, actor string) {
	if m.invalidator != nil {
		m.invalidator.InvalidateCache()
	}
	m.metrics.RecordVersion(record.ChangeType)
	if m.auditor != nil {
		m.auditor.LogPolicyChange(ctx, &audit.PolicyChange{
			Operation: record.ChangeType,
			PolicyID:  record.PolicyID,
			Version:   record.Version,
			Actor:     actor,
			Summary:   record.ChangeSummary,
		})
	}

	m.logger.Info("policy mutated",
		zap.String("policy_id", record.PolicyID),
		zap.String("change_type", string(record.ChangeType)),
		zap.Int("version", record.Version),
		zap.String("actor", actor),
	)
}
