package rest

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/authguard/go-core/internal/metrics"
	"github.com/authguard/go-core/pkg/types"
)

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// DecideRequest represents a REST authorization decision request
type DecideRequest struct {
	PrincipalID string           `json:"principalId"`
	Resource    string           `json:"resource"`
	Action      string           `json:"action"`
	Context     types.Attributes `json:"context,omitempty"`
}

// DecideResponse represents a REST authorization decision response
type DecideResponse struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
	Source  string `json:"source,omitempty"`
}

// HealthResponse represents a health check response
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// StatusResponse represents a service status response
type StatusResponse struct {
	Version   string            `json:"version"`
	Uptime    string            `json:"uptime"`
	Counters  *metrics.Snapshot `json:"counters,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// RoleRequest represents a role create request
type RoleRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// PermissionRequest represents a permission create request
type PermissionRequest struct {
	Resource string `json:"resource"`
	Action   string `json:"action"`
}

// PrincipalRequest represents a principal create request
type PrincipalRequest struct {
	ID string `json:"id,omitempty"`
}

// PolicyRequest represents a policy create/update request
type PolicyRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Resource    string `json:"resource"`
	Action      string `json:"action"`
	Effect      string `json:"effect"`
	Condition   string `json:"condition,omitempty"`
	Priority    int    `json:"priority"`
	Active      *bool  `json:"active,omitempty"`
}

// IDResponse carries the identifier of a created entity
type IDResponse struct {
	ID string `json:"id"`
}

func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, ErrorResponse{Error: message})
}
