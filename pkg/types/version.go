package types

import (
	"time"
)

// ChangeType classifies what a version record captures
type ChangeType string

const (
	ChangeCreated     ChangeType = "created"
	ChangeUpdated     ChangeType = "updated"
	ChangeDeleted     ChangeType = "deleted"
	ChangeActivated   ChangeType = "activated"
	ChangeDeactivated ChangeType = "deactivated"
)

// VersionMetadata carries review metadata attached to a version record
type VersionMetadata struct {
	Impact         string   `json:"impact,omitempty"`
	ReviewRequired bool     `json:"reviewRequired,omitempty"`
	Approvers      []string `json:"approvers,omitempty"`
	Comments       string   `json:"comments,omitempty"`
}

// PolicyVersion is an immutable snapshot of a policy at a point in time.
// Versions for a given policy form a gap-free ascending sequence starting at 1.
type PolicyVersion struct {
	ID            string          `json:"id"`
	PolicyID      string          `json:"policyId"`
	Version       int             `json:"version"`
	Content       *Policy         `json:"content"`
	ChangeSummary string          `json:"changeSummary,omitempty"`
	ChangeType    ChangeType      `json:"changeType"`
	CreatedBy     string          `json:"createdBy,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	Metadata      VersionMetadata `json:"metadata,omitempty"`
}

// FieldChangeKind classifies a single field-level difference
type FieldChangeKind string

const (
	FieldAdded    FieldChangeKind = "added"
	FieldRemoved  FieldChangeKind = "removed"
	FieldModified FieldChangeKind = "modified"
)

// FieldChange is one field-level difference between two policy snapshots
type FieldChange struct {
	Field    string          `json:"field"`
	OldValue interface{}     `json:"oldValue,omitempty"`
	NewValue interface{}     `json:"newValue,omitempty"`
	Type     FieldChangeKind `json:"type"`
}

// VersionDiff is the result of comparing two versions of the same policy
type VersionDiff struct {
	PolicyID    string        `json:"policyId"`
	FromVersion int           `json:"fromVersion"`
	ToVersion   int           `json:"toVersion"`
	Changes     []FieldChange `json:"changes"`
	Summary     string        `json:"summary"`
}

// AuditFilter narrows an audit trail query by time range and change type
type AuditFilter struct {
	From        time.Time    `json:"from,omitempty"`
	To          time.Time    `json:"to,omitempty"`
	ChangeTypes []ChangeType `json:"changeTypes,omitempty"`
	CreatedBy   string       `json:"createdBy,omitempty"`
	Limit       int          `json:"limit,omitempty"`
}

// Matches reports whether a version record passes the filter
func (f *AuditFilter) Matches(v *PolicyVersion) bool {
	if !f.From.IsZero() && v.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && v.CreatedAt.After(f.To) {
		return false
	}
	if f.CreatedBy != "" && v.CreatedBy != f.CreatedBy {
		return false
	}
	if len(f.ChangeTypes) > 0 {
		found := false
		for _, ct := range f.ChangeTypes {
			if v.ChangeType == ct {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// VersionStats aggregates change activity across a policy's version history
type VersionStats struct {
	PolicyID           string             `json:"policyId"`
	TotalVersions      int                `json:"totalVersions"`
	ByChangeType       map[ChangeType]int `json:"byChangeType"`
	AvgChangesPerMonth float64            `json:"avgChangesPerMonth"`
	LastModified       time.Time          `json:"lastModified,omitempty"`
	TopContributor     string             `json:"topContributor,omitempty"`
}
