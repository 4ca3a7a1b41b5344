// Package rbac provides the role and permission directory backing the admin
// console. System roles are seeded at startup and protected from deletion;
// custom roles can be created, updated, and deleted freely.
package rbac

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/secretshub/policy-core/pkg/types"
)

var (
	// ErrRoleNotFound is returned when a role id is unknown
	ErrRoleNotFound = errors.New("role not found")

	// ErrSystemRole is returned when a mutation targets a seeded system role
	ErrSystemRole = errors.New("system roles cannot be modified or deleted")

	// ErrRoleExists is returned when creating a role whose id is taken
	ErrRoleExists = errors.New("role already exists")

	// ErrPermissionNotFound is returned when a permission id is unknown
	ErrPermissionNotFound = errors.New("permission not found")
)

// Directory holds the role and permission catalog
type Directory struct {
	mu          sync.RWMutex
	roles       map[string]*types.Role
	permissions map[string]*types.Permission
	logger      *zap.Logger
}

// NewDirectory creates a directory seeded with the built-in system roles and
// the permission catalog
func NewDirectory(logger *zap.Logger) *Directory {
	if logger == nil {
		logger = zap.NewNop()
	}

	d := &Directory{
		roles:       make(map[string]*types.Role),
		permissions: make(map[string]*types.Permission),
		logger:      logger,
	}
	d.seed()
	return d
}

// GetRole returns a role by id
func (d *Directory) GetRole(id string) (*types.Role, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	role, ok := d.roles[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRoleNotFound, id)
	}
	return copyRole(role), nil
}

// ListRoles returns all roles sorted by id
func (d *Directory) ListRoles() []*types.Role {
	d.mu.RLock()
	defer d.mu.RUnlock()

	roles := make([]*types.Role, 0, len(d.roles))
	for _, role := range d.roles {
		roles = append(roles, copyRole(role))
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i].ID < roles[j].ID })
	return roles
}

// CreateRole adds a custom role. System flags on input are ignored; only the
// seeded catalog may carry them.
func (d *Directory) CreateRole(role *types.Role) (*types.Role, error) {
	if role == nil || role.Name == "" {
		return nil, fmt.Errorf("role name is required")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	stored := copyRole(role)
	stored.IsSystem = false
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}

	if _, exists := d.roles[stored.ID]; exists {
		return nil, fmt.Errorf("%w: %s", ErrRoleExists, stored.ID)
	}
	if err := d.checkPermissionsLocked(stored.Permissions); err != nil {
		return nil, err
	}

	d.roles[stored.ID] = stored
	d.logger.Info("role created", zap.String("role_id", stored.ID), zap.String("name", stored.Name))
	return copyRole(stored), nil
}

// UpdateRole replaces a custom role's mutable fields. System roles reject
// updates outright.
func (d *Directory) UpdateRole(role *types.Role) (*types.Role, error) {
	if role == nil || role.ID == "" {
		return nil, fmt.Errorf("role id is required")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	existing, ok := d.roles[role.ID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRoleNotFound, role.ID)
	}
	if existing.IsSystem {
		return nil, fmt.Errorf("%w: %s", ErrSystemRole, role.ID)
	}
	if err := d.checkPermissionsLocked(role.Permissions); err != nil {
		return nil, err
	}

	stored := copyRole(role)
	stored.IsSystem = false
	d.roles[role.ID] = stored

	d.logger.Info("role updated", zap.String("role_id", role.ID))
	return copyRole(stored), nil
}

// DeleteRole removes a custom role. System roles always fail with
// ErrSystemRole regardless of how often deletion is attempted; a deleted
// custom role fails subsequent deletes with ErrRoleNotFound.
func (d *Directory) DeleteRole(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	role, ok := d.roles[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRoleNotFound, id)
	}
	if role.IsSystem {
		return fmt.Errorf("%w: %s", ErrSystemRole, id)
	}

	delete(d.roles, id)
	d.logger.Info("role deleted", zap.String("role_id", id))
	return nil
}

// GetPermission returns a permission by id
func (d *Directory) GetPermission(id string) (*types.Permission, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	permission, ok := d.permissions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPermissionNotFound, id)
	}
	cp := *permission
	return &cp, nil
}

// ListPermissions returns the full permission catalog sorted by id
func (d *Directory) ListPermissions() []*types.Permission {
	d.mu.RLock()
	defer d.mu.RUnlock()

	permissions := make([]*types.Permission, 0, len(d.permissions))
	for _, p := range d.permissions {
		cp := *p
		permissions = append(permissions, &cp)
	}
	sort.Slice(permissions, func(i, j int) bool { return permissions[i].ID < permissions[j].ID })
	return permissions
}

// ExpandPermissions resolves a role's permission ids into catalog entries.
// Unknown ids are skipped rather than failing the whole expansion.
func (d *Directory) ExpandPermissions(roleID string) ([]*types.Permission, error) {
	role, err := d.GetRole(roleID)
	if err != nil {
		return nil, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	expanded := make([]*types.Permission, 0, len(role.Permissions))
	for _, id := range role.Permissions {
		if p, ok := d.permissions[id]; ok {
			cp := *p
			expanded = append(expanded, &cp)
		}
	}
	return expanded, nil
}

// checkPermissionsLocked verifies every referenced permission exists
func (d *Directory) checkPermissionsLocked(ids []string) error {
	for _, id := range ids {
		if _, ok := d.permissions[id]; !ok {
			return fmt.Errorf("%w: %s", ErrPermissionNotFound, id)
		}
	}
	return nil
}

// copyRole returns a defensive copy
func copyRole(r *types.Role) *types.Role {
	cp := *r
	cp.Permissions = append([]string(nil), r.Permissions...)
	cp.Metadata.Tags = append([]string(nil), r.Metadata.Tags...)
	if r.Metadata.Labels != nil {
		cp.Metadata.Labels = make(map[string]string, len(r.Metadata.Labels))
		for k, v := range r.Metadata.Labels {
			cp.Metadata.Labels[k] = v
		}
	}
	return &cp
}
