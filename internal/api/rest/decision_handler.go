package rest

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/authguard/go-core/internal/engine"
	"github.com/authguard/go-core/pkg/types"
)

func decisionRequest(principalID uuid.UUID, req *DecideRequest) *types.DecisionRequest {
	return &types.DecisionRequest{
		PrincipalID: principalID,
		Resource:    req.Resource,
		Action:      req.Action,
		Context:     req.Context,
	}
}

func decisionResponse(d types.Decision) DecideResponse {
	resp := DecideResponse{
		Allowed: d.Allowed,
		Reason:  string(d.Reason),
	}
	if d.Source != uuid.Nil {
		resp.Source = d.Source.String()
	}
	return resp
}

// decideHandler evaluates a single authorization decision
func (s *Server) decideHandler(w http.ResponseWriter, r *http.Request) {
	var req DecideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	principalID, err := uuid.Parse(req.PrincipalID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "principalId must be a UUID")
		return
	}
	if req.Resource == "" || req.Action == "" {
		writeError(w, http.StatusBadRequest, "resource and action are required")
		return
	}

	d, err := s.engine.Decide(r.Context(), decisionRequest(principalID, &req))
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrInvalidRequest):
			writeError(w, http.StatusBadRequest, err.Error())
			return
		case errors.Is(err, engine.ErrStoreUnavailable):
			// Fail closed but tell the caller a retry may succeed
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusServiceUnavailable, decisionResponse(d))
			return
		}
		// principal_not_found and other definitive failures still carry a
		// usable deny decision
	}

	writeJSON(w, http.StatusOK, decisionResponse(d))
}
