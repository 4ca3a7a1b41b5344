// Package db provides database schema constants and helpers
package db

// Table names as constants for type safety
const (
	TablePolicyVersions = "policy_versions"
)

// Column names for compile-time checking
const (
	ColID            = "id"
	ColPolicyID      = "policy_id"
	ColVersion       = "version"
	ColContent       = "content"
	ColChangeSummary = "change_summary"
	ColChangeType    = "change_type"
	ColCreatedBy     = "created_by"
	ColCreatedAt     = "created_at"
	ColMetadata      = "metadata"
)
