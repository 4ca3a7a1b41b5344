// Package policy provides policy storage, validation, and lifecycle management
package policy

import (
	"errors"

	"github.com/secretshub/policy-core/pkg/types"
)

// ErrPolicyNotFound is returned when a policy id is unknown to the store
var ErrPolicyNotFound = errors.New("policy not found")

// Store defines the policy storage interface. The core does not dictate the
// persistence technology behind it.
type Store interface {
	// Get retrieves a policy by id. Returns a copy; the stored policy is
	// never handed out as shared-mutable state.
	Get(id string) (*types.Policy, error)

	// GetAll retrieves copies of all policies
	GetAll() []*types.Policy

	// FindCandidates returns active policies that could apply to a resource
	// type. This is a coarse index lookup; full matching is the evaluator's
	// job. The returned slice is read-only.
	FindCandidates(resourceType string) ([]*types.Policy, error)

	// Put inserts or replaces a policy
	Put(policy *types.Policy) error

	// Delete removes a policy by id
	Delete(id string) error

	// Count returns the number of stored policies
	Count() int

	// Clear removes all policies
	Clear()
}

// EventType represents the type of policy change event
type EventType int

const (
	EventAdded EventType = iota
	EventModified
	EventDeleted
)

// Event represents a policy change event emitted by the lifecycle manager
type Event struct {
	Type   EventType
	Policy *types.Policy
}
