package rbac

import "github.com/secretshub/policy-core/pkg/types"

// seed installs the built-in permission catalog and role set. System roles
// carry IsSystem and survive for the life of the process; the remaining
// seeded roles are ordinary custom roles administrators may change.
func (d *Directory) seed() {
	for _, p := range seedPermissions() {
		d.permissions[p.ID] = p
	}
	for _, r := range seedRoles() {
		d.roles[r.ID] = r
	}
}

func seedPermissions() []*types.Permission {
	return []*types.Permission{
		{ID: "perm-secrets-read", Name: "secrets:read", ResourceType: "secrets", Action: "read", Scope: types.ScopeScoped},
		{ID: "perm-secrets-write", Name: "secrets:write", ResourceType: "secrets", Action: "write", Scope: types.ScopeScoped},
		{ID: "perm-secrets-delete", Name: "secrets:delete", ResourceType: "secrets", Action: "delete", Scope: types.ScopeScoped},
		{ID: "perm-secrets-list", Name: "secrets:list", ResourceType: "secrets", Action: "list", Scope: types.ScopeScoped},
		{ID: "perm-policies-read", Name: "policies:read", ResourceType: "policies", Action: "read", Scope: types.ScopeGlobal},
		{ID: "perm-policies-write", Name: "policies:write", ResourceType: "policies", Action: "write", Scope: types.ScopeGlobal},
		{ID: "perm-policies-delete", Name: "policies:delete", ResourceType: "policies", Action: "delete", Scope: types.ScopeGlobal},
		{ID: "perm-policies-simulate", Name: "policies:simulate", ResourceType: "policies", Action: "simulate", Scope: types.ScopeGlobal},
		{ID: "perm-versions-read", Name: "versions:read", ResourceType: "versions", Action: "read", Scope: types.ScopeGlobal},
		{ID: "perm-versions-restore", Name: "versions:restore", ResourceType: "versions", Action: "restore", Scope: types.ScopeGlobal},
		{ID: "perm-roles-read", Name: "roles:read", ResourceType: "roles", Action: "read", Scope: types.ScopeGlobal},
		{ID: "perm-roles-write", Name: "roles:write", ResourceType: "roles", Action: "write", Scope: types.ScopeGlobal},
		{ID: "perm-audit-read", Name: "audit:read", ResourceType: "audit", Action: "read", Scope: types.ScopeGlobal},
	}
}

func seedRoles() []*types.Role {
	all := []string{
		"perm-secrets-read", "perm-secrets-write", "perm-secrets-delete", "perm-secrets-list",
		"perm-policies-read", "perm-policies-write", "perm-policies-delete", "perm-policies-simulate",
		"perm-versions-read", "perm-versions-restore",
		"perm-roles-read", "perm-roles-write",
		"perm-audit-read",
	}

	return []*types.Role{
		{
			ID:          "role-org-admin",
			Name:        "org-admin",
			DisplayName: "Organization Administrator",
			Permissions: all,
			IsSystem:    true,
			Metadata:    types.RoleMetadata{Category: "administration", Priority: 100},
		},
		{
			ID:          "role-security-admin",
			Name:        "security-admin",
			DisplayName: "Security Administrator",
			Permissions: []string{
				"perm-policies-read", "perm-policies-write", "perm-policies-delete", "perm-policies-simulate",
				"perm-versions-read", "perm-versions-restore",
				"perm-roles-read", "perm-roles-write",
				"perm-audit-read",
			},
			IsSystem: true,
			Metadata: types.RoleMetadata{Category: "security", Priority: 90},
		},
		{
			ID:          "role-auditor",
			Name:        "auditor",
			DisplayName: "Auditor",
			Permissions: []string{"perm-policies-read", "perm-versions-read", "perm-roles-read", "perm-audit-read"},
			IsSystem:    true,
			Metadata:    types.RoleMetadata{Category: "compliance", Priority: 50},
		},
		{
			ID:          "role-viewer",
			Name:        "viewer",
			DisplayName: "Viewer",
			Permissions: []string{"perm-secrets-read", "perm-secrets-list", "perm-policies-read", "perm-roles-read"},
			IsSystem:    true,
			IsDefault:   true,
			Metadata:    types.RoleMetadata{Category: "general", Priority: 10},
		},
		{
			ID:          "role-developer",
			Name:        "developer",
			DisplayName: "Developer",
			Permissions: []string{"perm-secrets-read", "perm-secrets-write", "perm-secrets-list"},
			Metadata:    types.RoleMetadata{Category: "engineering", Priority: 30},
		},
		{
			ID:          "role-data-scientist",
			Name:        "data-scientist",
			DisplayName: "Data Scientist",
			Permissions: []string{"perm-secrets-read", "perm-secrets-list"},
			Metadata:    types.RoleMetadata{Category: "engineering", Priority: 30},
		},
		{
			ID:          "role-ml-engineer",
			Name:        "ml-engineer",
			DisplayName: "ML Engineer",
			Permissions: []string{"perm-secrets-read", "perm-secrets-write", "perm-secrets-list"},
			Metadata:    types.RoleMetadata{Category: "engineering", Priority: 30},
		},
	}
}
