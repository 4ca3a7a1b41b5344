package versioning

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/secretshub/policy-core/pkg/types"
)

// MemoryStore is the in-memory version store. Appends for the same policy id
// are serialized on a per-policy mutex; appends for different policy ids do
// not block each other. The global mutex only guards the histories map.
type MemoryStore struct {
	mu        sync.RWMutex
	histories map[string][]*types.PolicyVersion
	locks     sync.Map // policyID -> *sync.Mutex
}

// NewMemoryStore creates a new in-memory version store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		histories: make(map[string][]*types.PolicyVersion),
	}
}

// lockFor returns the append mutex for a policy id
func (s *MemoryStore) lockFor(policyID string) *sync.Mutex {
	lock, _ := s.locks.LoadOrStore(policyID, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

// Create appends a new immutable snapshot for the policy
func (s *MemoryStore) Create(ctx context.Context, policyID string, content *types.Policy, change Change) (*types.PolicyVersion, error) {
	if policyID == "" {
		return nil, fmt.Errorf("policy id is required")
	}
	if content == nil {
		return nil, fmt.Errorf("version content is required")
	}

	lock := s.lockFor(policyID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	history := s.histories[policyID]
	version := len(history) + 1

	snapshot := content.Clone()
	snapshot.Version = version

	record := &types.PolicyVersion{
		ID:            uuid.NewString(),
		PolicyID:      policyID,
		Version:       version,
		Content:       snapshot,
		ChangeSummary: change.Summary,
		ChangeType:    change.Type,
		CreatedBy:     change.Actor,
		CreatedAt:     now(),
		Metadata:      change.Metadata,
	}

	s.histories[policyID] = append(history, record)
	return copyRecord(record), nil
}

// History returns all versions for a policy in the requested order
func (s *MemoryStore) History(ctx context.Context, policyID string, order Order) ([]*types.PolicyVersion, error) {
	s.mu.RLock()
	history := s.histories[policyID]
	result := make([]*types.PolicyVersion, len(history))
	for i, v := range history {
		result[i] = copyRecord(v)
	}
	s.mu.RUnlock()

	if order == NewestFirst {
		sort.Slice(result, func(i, j int) bool {
			return result[i].Version > result[j].Version
		})
	}
	return result, nil
}

// Get retrieves a single version
func (s *MemoryStore) Get(ctx context.Context, policyID string, version int) (*types.PolicyVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.histories[policyID]
	if version < 1 || version > len(history) {
		return nil, fmt.Errorf("%w: policy %s version %d", ErrVersionNotFound, policyID, version)
	}
	// Versions are gap-free from 1, so the slice index is the version - 1.
	return copyRecord(history[version-1]), nil
}

// Latest returns the newest version for a policy
func (s *MemoryStore) Latest(ctx context.Context, policyID string) (*types.PolicyVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.histories[policyID]
	if len(history) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoVersions, policyID)
	}
	return copyRecord(history[len(history)-1]), nil
}

// Compare produces a field-level diff between two stored snapshots
func (s *MemoryStore) Compare(ctx context.Context, policyID string, v1, v2 int) (*types.VersionDiff, error) {
	from, err := s.Get(ctx, policyID, v1)
	if err != nil {
		return nil, fmt.Errorf("%w: policy %s version %d", ErrVersionOutOfRange, policyID, v1)
	}
	to, err := s.Get(ctx, policyID, v2)
	if err != nil {
		return nil, fmt.Errorf("%w: policy %s version %d", ErrVersionOutOfRange, policyID, v2)
	}

	return buildDiff(policyID, from, to), nil
}

// Restore appends a new version whose content equals the snapshot at the
// given version. The restored-from record is never touched.
func (s *MemoryStore) Restore(ctx context.Context, policyID string, version int, reason, actor string) (*types.PolicyVersion, error) {
	snapshot, err := s.Get(ctx, policyID, version)
	if err != nil {
		return nil, fmt.Errorf("%w: policy %s version %d", ErrVersionOutOfRange, policyID, version)
	}

	summary := fmt.Sprintf("restored from version %d", version)
	if reason != "" {
		summary = fmt.Sprintf("restored from version %d: %s", version, reason)
	}

	return s.Create(ctx, policyID, snapshot.Content, Change{
		Summary: summary,
		Type:    types.ChangeUpdated,
		Actor:   actor,
	})
}

// AuditTrail returns versions passing the filter, newest first
func (s *MemoryStore) AuditTrail(ctx context.Context, policyID string, filter *types.AuditFilter) ([]*types.PolicyVersion, error) {
	history, err := s.History(ctx, policyID, NewestFirst)
	if err != nil {
		return nil, err
	}
	return filterTrail(history, filter), nil
}

// Stats aggregates change activity over a policy's history
func (s *MemoryStore) Stats(ctx context.Context, policyID string) (*types.VersionStats, error) {
	history, err := s.History(ctx, policyID, OldestFirst)
	if err != nil {
		return nil, err
	}
	return computeStats(policyID, history), nil
}

// copyRecord returns a defensive copy so stored records stay immutable
func copyRecord(v *types.PolicyVersion) *types.PolicyVersion {
	cp := *v
	cp.Content = v.Content.Clone()
	cp.Metadata.Approvers = append([]string(nil), v.Metadata.Approvers...)
	return &cp
}
