package rest

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/authguard/go-core/internal/store"
	"github.com/authguard/go-core/pkg/types"
)

// storeErrorStatus maps store failures to HTTP status codes
func storeErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrPrincipalNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, store.ErrDuplicate):
		return http.StatusConflict, "already exists"
	case errors.Is(err, store.ErrRoleInUse):
		return http.StatusConflict, "role is still assigned to principals"
	case errors.Is(err, store.ErrUnavailable):
		return http.StatusServiceUnavailable, "store unavailable"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func pathUUID(r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)[name])
	return id, err == nil
}

// createPrincipalHandler registers a principal; generates an id when absent
func (s *Server) createPrincipalHandler(w http.ResponseWriter, r *http.Request) {
	var req PrincipalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id := uuid.New()
	if req.ID != "" {
		parsed, err := uuid.Parse(req.ID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "id must be a UUID")
			return
		}
		id = parsed
	}

	if err := s.admin.CreatePrincipal(r.Context(), id); err != nil {
		code, msg := storeErrorStatus(err)
		writeError(w, code, msg)
		return
	}
	writeJSON(w, http.StatusCreated, IDResponse{ID: id.String()})
}

func (s *Server) createRoleHandler(w http.ResponseWriter, r *http.Request) {
	var req RoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	role, err := types.NewRole(req.Name, req.Description)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.admin.CreateRole(r.Context(), role); err != nil {
		code, msg := storeErrorStatus(err)
		writeError(w, code, msg)
		return
	}
	writeJSON(w, http.StatusCreated, IDResponse{ID: role.ID.String()})
}

func (s *Server) deleteRoleHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "id must be a UUID")
		return
	}

	if err := s.admin.DeleteRole(r.Context(), id); err != nil {
		code, msg := storeErrorStatus(err)
		writeError(w, code, msg)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) createPermissionHandler(w http.ResponseWriter, r *http.Request) {
	var req PermissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	perm, err := types.NewPermission(req.Resource, req.Action)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.admin.CreatePermission(r.Context(), perm); err != nil {
		code, msg := storeErrorStatus(err)
		writeError(w, code, msg)
		return
	}
	writeJSON(w, http.StatusCreated, IDResponse{ID: perm.ID.String()})
}

func (s *Server) attachPermissionHandler(w http.ResponseWriter, r *http.Request) {
	roleID, ok := pathUUID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "id must be a UUID")
		return
	}
	permID, ok := pathUUID(r, "permissionId")
	if !ok {
		writeError(w, http.StatusBadRequest, "permissionId must be a UUID")
		return
	}

	if err := s.admin.AttachPermission(r.Context(), roleID, permID); err != nil {
		code, msg := storeErrorStatus(err)
		writeError(w, code, msg)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) detachPermissionHandler(w http.ResponseWriter, r *http.Request) {
	roleID, ok := pathUUID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "id must be a UUID")
		return
	}
	permID, ok := pathUUID(r, "permissionId")
	if !ok {
		writeError(w, http.StatusBadRequest, "permissionId must be a UUID")
		return
	}

	if err := s.admin.DetachPermission(r.Context(), roleID, permID); err != nil {
		code, msg := storeErrorStatus(err)
		writeError(w, code, msg)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) assignRoleHandler(w http.ResponseWriter, r *http.Request) {
	principalID, ok := pathUUID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "id must be a UUID")
		return
	}
	roleID, ok := pathUUID(r, "roleId")
	if !ok {
		writeError(w, http.StatusBadRequest, "roleId must be a UUID")
		return
	}

	if err := s.admin.AssignRole(r.Context(), principalID, roleID); err != nil {
		code, msg := storeErrorStatus(err)
		writeError(w, code, msg)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) revokeRoleHandler(w http.ResponseWriter, r *http.Request) {
	principalID, ok := pathUUID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "id must be a UUID")
		return
	}
	roleID, ok := pathUUID(r, "roleId")
	if !ok {
		writeError(w, http.StatusBadRequest, "roleId must be a UUID")
		return
	}

	if err := s.admin.RevokeRole(r.Context(), principalID, roleID); err != nil {
		code, msg := storeErrorStatus(err)
		writeError(w, code, msg)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
