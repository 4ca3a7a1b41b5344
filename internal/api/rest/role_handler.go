package rest

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/secretshub/policy-core/internal/rbac"
	"github.com/secretshub/policy-core/pkg/types"
)

// listRolesHandler returns the full role catalog
func (s *Server) listRolesHandler(w http.ResponseWriter, r *http.Request) {
	roles := s.directory.ListRoles()
	WriteJSON(w, http.StatusOK, RoleListResponse{Roles: roles, Total: len(roles)})
}

// getRoleHandler returns a single role by id
func (s *Server) getRoleHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	role, err := s.directory.GetRole(id)
	if err != nil {
		s.writeRoleError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, role)
}

// createRoleHandler adds a custom role
func (s *Server) createRoleHandler(w http.ResponseWriter, r *http.Request) {
	var role types.Role
	if err := json.NewDecoder(r.Body).Decode(&role); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body", map[string]interface{}{
			"parse_error": err.Error(),
		})
		return
	}

	created, err := s.directory.CreateRole(&role)
	if err != nil {
		s.writeRoleError(w, err)
		return
	}

	WriteJSON(w, http.StatusCreated, created)
}

// updateRoleHandler replaces a custom role
func (s *Server) updateRoleHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var role types.Role
	if err := json.NewDecoder(r.Body).Decode(&role); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body", map[string]interface{}{
			"parse_error": err.Error(),
		})
		return
	}
	role.ID = id

	updated, err := s.directory.UpdateRole(&role)
	if err != nil {
		s.writeRoleError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, updated)
}

// deleteRoleHandler removes a custom role. System roles always fail.
func (s *Server) deleteRoleHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := s.directory.DeleteRole(id); err != nil {
		s.writeRoleError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// rolePermissionsHandler expands a role's permission ids into catalog entries
func (s *Server) rolePermissionsHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	permissions, err := s.directory.ExpandPermissions(id)
	if err != nil {
		s.writeRoleError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, PermissionListResponse{Permissions: permissions, Total: len(permissions)})
}

// listPermissionsHandler returns the permission catalog
func (s *Server) listPermissionsHandler(w http.ResponseWriter, r *http.Request) {
	permissions := s.directory.ListPermissions()
	WriteJSON(w, http.StatusOK, PermissionListResponse{Permissions: permissions, Total: len(permissions)})
}

// writeRoleError maps directory errors to HTTP status codes
func (s *Server) writeRoleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, rbac.ErrRoleNotFound), errors.Is(err, rbac.ErrPermissionNotFound):
		WriteError(w, http.StatusNotFound, err.Error(), nil)
	case errors.Is(err, rbac.ErrSystemRole):
		WriteError(w, http.StatusForbidden, err.Error(), nil)
	case errors.Is(err, rbac.ErrRoleExists):
		WriteError(w, http.StatusConflict, err.Error(), nil)
	default:
		WriteError(w, http.StatusBadRequest, err.Error(), nil)
	}
}
