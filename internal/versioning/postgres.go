package versioning

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/secretshub/policy-core/pkg/types"
)

// uniqueViolation is the PostgreSQL error code for unique constraint violations
const uniqueViolation = "23505"

// createRetries bounds the retry loop when concurrent appends collide on the
// (policy_id, version) uniqueness constraint
const createRetries = 3

// PostgresStore implements Store on a policy_versions table keyed by
// (policy_id, version) with a uniqueness constraint. Version assignment
// relies on that constraint: a concurrent append for the same policy loses
// the insert race and retries with the next number, so per-policy chains
// stay gap-free without cross-policy locking.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed version store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Create appends a new immutable snapshot for the policy
func (s *PostgresStore) Create(ctx context.Context, policyID string, content *types.Policy, change Change) (*types.PolicyVersion, error) {
	if policyID == "" {
		return nil, fmt.Errorf("policy id is required")
	}
	if content == nil {
		return nil, fmt.Errorf("version content is required")
	}

	var lastErr error
	for attempt := 0; attempt < createRetries; attempt++ {
		record, err := s.tryCreate(ctx, policyID, content, change)
		if err == nil {
			return record, nil
		}
		if !isUniqueViolation(err) {
			return nil, err
		}
		lastErr = err
	}

	return nil, fmt.Errorf("%w: policy %s: %v", ErrVersionConflict, policyID, lastErr)
}

// tryCreate performs one insert attempt with the next version number
func (s *PostgresStore) tryCreate(ctx context.Context, policyID string, content *types.Policy, change Change) (*types.PolicyVersion, error) {
	var next int
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM policy_versions WHERE policy_id = $1`,
		policyID,
	).Scan(&next)
	if err != nil {
		return nil, fmt.Errorf("failed to compute next version: %w", err)
	}

	snapshot := content.Clone()
	snapshot.Version = next

	contentJSON, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	metadataJSON, err := json.Marshal(change.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal version metadata: %w", err)
	}

	record := &types.PolicyVersion{
		ID:            uuid.NewString(),
		PolicyID:      policyID,
		Version:       next,
		Content:       snapshot,
		ChangeSummary: change.Summary,
		ChangeType:    change.Type,
		CreatedBy:     change.Actor,
		CreatedAt:     time.Now().UTC(),
		Metadata:      change.Metadata,
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO policy_versions (
			id, policy_id, version, content, change_summary, change_type,
			created_by, created_at, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		record.ID,
		record.PolicyID,
		record.Version,
		contentJSON,
		record.ChangeSummary,
		string(record.ChangeType),
		record.CreatedBy,
		record.CreatedAt,
		metadataJSON,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert version: %w", err)
	}

	return record, nil
}

// History returns all versions for a policy in the requested order
func (s *PostgresStore) History(ctx context.Context, policyID string, order Order) ([]*types.PolicyVersion, error) {
	direction := "DESC"
	if order == OldestFirst {
		direction = "ASC"
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, policy_id, version, content, change_summary, change_type,
		       created_by, created_at, metadata
		FROM policy_versions
		WHERE policy_id = $1
		ORDER BY version %s
	`, direction), policyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var history []*types.PolicyVersion
	for rows.Next() {
		record, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		history = append(history, record)
	}
	return history, rows.Err()
}

// Get retrieves a single version
func (s *PostgresStore) Get(ctx context.Context, policyID string, version int) (*types.PolicyVersion, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, policy_id, version, content, change_summary, change_type,
		       created_by, created_at, metadata
		FROM policy_versions
		WHERE policy_id = $1 AND version = $2
	`, policyID, version)

	record, err := scanVersion(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: policy %s version %d", ErrVersionNotFound, policyID, version)
	}
	return record, err
}

// Latest returns the newest version for a policy
func (s *PostgresStore) Latest(ctx context.Context, policyID string) (*types.PolicyVersion, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, policy_id, version, content, change_summary, change_type,
		       created_by, created_at, metadata
		FROM policy_versions
		WHERE policy_id = $1
		ORDER BY version DESC
		LIMIT 1
	`, policyID)

	record, err := scanVersion(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrNoVersions, policyID)
	}
	return record, err
}

// Compare produces a field-level diff between two stored snapshots
func (s *PostgresStore) Compare(ctx context.Context, policyID string, v1, v2 int) (*types.VersionDiff, error) {
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

// Restore appends a new version whose content equals the given snapshot
func (s *PostgresStore) Restore(ctx context.Context, policyID string, version int, reason, actor string) (*types.PolicyVersion, error) {
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
func (s *PostgresStore) AuditTrail(ctx context.Context, policyID string, filter *types.AuditFilter) ([]*types.PolicyVersion, error) {
	history, err := s.History(ctx, policyID, NewestFirst)
	if err != nil {
		return nil, err
	}
	return filterTrail(history, filter), nil
}

// Stats aggregates change activity over a policy's history
func (s *PostgresStore) Stats(ctx context.Context, policyID string) (*types.VersionStats, error) {
	history, err := s.History(ctx, policyID, OldestFirst)
	if err != nil {
		return nil, err
	}
	return computeStats(policyID, history), nil
}

// scanner covers both *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanVersion reads one policy_versions row
func scanVersion(row scanner) (*types.PolicyVersion, error) {
	var record types.PolicyVersion
	var contentJSON, metadataJSON []byte
	var changeType string

	err := row.Scan(
		&record.ID,
		&record.PolicyID,
		&record.Version,
		&contentJSON,
		&record.ChangeSummary,
		&changeType,
		&record.CreatedBy,
		&record.CreatedAt,
		&metadataJSON,
	)
	if err != nil {
		return nil, err
	}

	record.ChangeType = types.ChangeType(changeType)

	record.Content = &types.Policy{}
	if err := json.Unmarshal(contentJSON, record.Content); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &record.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal version metadata: %w", err)
		}
	}

	return &record, nil
}

// isUniqueViolation reports whether an error is a (policy_id, version) collision
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation
}
