// Package versioning provides the append-only policy version store: per-policy
// ordered chains of immutable snapshots with diff, restore, audit trail, and
// change statistics.
package versioning

import (
	"context"
	"errors"

	"github.com/secretshub/policy-core/pkg/types"
)

var (
	// ErrVersionNotFound is returned when a version number is unknown for a policy
	ErrVersionNotFound = errors.New("policy version not found")

	// ErrNoVersions is returned when a policy has no version history at all
	ErrNoVersions = errors.New("no versions recorded for policy")

	// ErrVersionOutOfRange is returned for restore/compare against a version
	// number outside the stored range
	ErrVersionOutOfRange = errors.New("version number outside stored range")

	// ErrVersionConflict is returned when a concurrent append collides on the
	// same (policy, version) pair and cannot be retried
	ErrVersionConflict = errors.New("concurrent version append conflict")
)

// Order controls the sort direction of history queries
type Order int

const (
	// NewestFirst is the presentation order
	NewestFirst Order = iota
	// OldestFirst is the strict ascending order used by diff/restore logic
	OldestFirst
)

// Change describes the mutation a version record captures
type Change struct {
	Summary  string
	Type     types.ChangeType
	Actor    string
	Metadata types.VersionMetadata
}

// Store is the version store contract. Version numbers per policy are
// gap-free, ascending, start at 1, and are never reused or rewritten.
// Implementations must serialize appends per policy id; appends for
// different policy ids must not block each other.
type Store interface {
	// Create appends a new immutable snapshot and returns the record.
	// The assigned version is count(existing versions) + 1.
	Create(ctx context.Context, policyID string, content *types.Policy, change Change) (*types.PolicyVersion, error)

	// History returns all versions for a policy in the requested order.
	// An unknown policy id yields an empty history, not an error.
	History(ctx context.Context, policyID string, order Order) ([]*types.PolicyVersion, error)

	// Get retrieves a single version, ErrVersionNotFound if absent
	Get(ctx context.Context, policyID string, version int) (*types.PolicyVersion, error)

	// Latest returns the newest version, ErrNoVersions when the history is empty
	Latest(ctx context.Context, policyID string) (*types.PolicyVersion, error)

	// Compare produces a field-level diff between two stored snapshots
	Compare(ctx context.Context, policyID string, v1, v2 int) (*types.VersionDiff, error)

	// Restore appends a new version whose content equals the snapshot at the
	// given version. The stored record at that version is left untouched.
	Restore(ctx context.Context, policyID string, version int, reason, actor string) (*types.PolicyVersion, error)

	// AuditTrail returns versions passing the filter, newest first
	AuditTrail(ctx context.Context, policyID string, filter *types.AuditFilter) ([]*types.PolicyVersion, error)

	// Stats aggregates change activity over a policy's history
	Stats(ctx context.Context, policyID string) (*types.VersionStats, error)
}
