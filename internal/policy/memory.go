package policy

import (
	"fmt"
	"sync"

	"github.com/secretshub/policy-core/pkg/types"
)

// wildcardBucket indexes policies that name no resource type in their targets
const wildcardBucket = "*"

// MemoryStore implements an in-memory policy store
type MemoryStore struct {
	policies map[string]*types.Policy
	index    *resourceIndex
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory policy store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		policies: make(map[string]*types.Policy),
		index:    newResourceIndex(),
	}
}

// Get retrieves a copy of a policy by id
func (s *MemoryStore) Get(id string) (*types.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	policy, ok := s.policies[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPolicyNotFound, id)
	}
	return policy.Clone(), nil
}

// GetAll retrieves copies of all policies
func (s *MemoryStore) GetAll() []*types.Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()

	policies := make([]*types.Policy, 0, len(s.policies))
	for _, p := range s.policies {
		policies = append(policies, p.Clone())
	}
	return policies
}

// FindCandidates returns active policies indexed under the resource type,
// plus policies whose targets name no resource type at all
func (s *MemoryStore) FindCandidates(resourceType string) ([]*types.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	candidates := s.index.find(resourceType)
	result := make([]*types.Policy, 0, len(candidates))
	for _, p := range candidates {
		if p.Status == types.StatusActive {
			result = append(result, p)
		}
	}
	return result, nil
}

// Put inserts or replaces a policy
func (s *MemoryStore) Put(policy *types.Policy) error {
	if policy.ID == "" {
		return fmt.Errorf("policy id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := policy.Clone()
	if existing, ok := s.policies[policy.ID]; ok {
		s.index.remove(existing)
	}
	s.policies[policy.ID] = stored
	s.index.add(stored)
	return nil
}

// Delete removes a policy by id
func (s *MemoryStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	policy, ok := s.policies[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPolicyNotFound, id)
	}

	delete(s.policies, id)
	s.index.remove(policy)
	return nil
}

// Count returns the number of policies
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.policies)
}

// Clear removes all policies
func (s *MemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.policies = make(map[string]*types.Policy)
	s.index = newResourceIndex()
}

// resourceIndex provides fast policy lookup by targeted resource type.
// Guarded by the MemoryStore mutex.
type resourceIndex struct {
	byResource map[string][]*types.Policy
}

func newResourceIndex() *resourceIndex {
	return &resourceIndex{
		byResource: make(map[string][]*types.Policy),
	}
}

// buckets returns the index keys a policy belongs to. Only TargetTypes is
// safe to index by resource type: Resources values match resource ids and
// names as well as types, so a policy constrained solely by Resources goes
// in the wildcard bucket and is narrowed at match time.
func buckets(policy *types.Policy) []string {
	if policy.Targets == nil {
		return []string{wildcardBucket}
	}

	seen := make(map[string]bool)
	var keys []string
	for _, t := range policy.Targets.TargetTypes {
		if !seen[t] {
			seen[t] = true
			keys = append(keys, t)
		}
	}
	if len(keys) == 0 || seen["*"] {
		return []string{wildcardBucket}
	}
	return keys
}

func (i *resourceIndex) add(policy *types.Policy) {
	for _, key := range buckets(policy) {
		i.byResource[key] = append(i.byResource[key], policy)
	}
}

func (i *resourceIndex) remove(policy *types.Policy) {
	for _, key := range buckets(policy) {
		policies := i.byResource[key]
		for j, p := range policies {
			if p.ID == policy.ID {
				i.byResource[key] = append(policies[:j], policies[j+1:]...)
				break
			}
		}
		if len(i.byResource[key]) == 0 {
			delete(i.byResource, key)
		}
	}
}

// find returns policies under the resource type bucket plus the wildcard bucket
func (i *resourceIndex) find(resourceType string) []*types.Policy {
	typed := i.byResource[resourceType]
	wild := i.byResource[wildcardBucket]

	result := make([]*types.Policy, 0, len(typed)+len(wild))
	result = append(result, typed...)
	result = append(result, wild...)
	return result
}
