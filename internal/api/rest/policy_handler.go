package rest

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/authguard/go-core/pkg/types"
)

func policyFromRequest(id uuid.UUID, req *PolicyRequest) (*types.Policy, error) {
	pol := &types.Policy{
		ID:          id,
		Name:        req.Name,
		Description: req.Description,
		Resource:    req.Resource,
		Action:      req.Action,
		Effect:      types.Effect(req.Effect),
		Condition:   req.Condition,
		Priority:    req.Priority,
		Active:      true,
	}
	if req.Active != nil {
		pol.Active = *req.Active
	}
	return pol, pol.Validate()
}

// upsertPolicyHandler creates a policy with a fresh identifier
func (s *Server) upsertPolicyHandler(w http.ResponseWriter, r *http.Request) {
	var req PolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	pol, err := policyFromRequest(uuid.New(), &req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.admin.UpsertPolicy(r.Context(), pol); err != nil {
		code, msg := storeErrorStatus(err)
		writeError(w, code, msg)
		return
	}
	writeJSON(w, http.StatusCreated, IDResponse{ID: pol.ID.String()})
}

// updatePolicyHandler replaces a policy under an existing identifier
func (s *Server) updatePolicyHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "id must be a UUID")
		return
	}

	var req PolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	pol, err := policyFromRequest(id, &req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.admin.UpsertPolicy(r.Context(), pol); err != nil {
		code, msg := storeErrorStatus(err)
		writeError(w, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, IDResponse{ID: pol.ID.String()})
}

func (s *Server) deletePolicyHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "id must be a UUID")
		return
	}

	if err := s.admin.DeletePolicy(r.Context(), id); err != nil {
		code, msg := storeErrorStatus(err)
		writeError(w, code, msg)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
