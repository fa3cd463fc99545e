// Package types provides shared types for the authorization engine
package types

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Effect represents a policy's declared outcome when its condition matches
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// Valid reports whether the effect is one of the known values
func (e Effect) Valid() bool {
	return e == EffectAllow || e == EffectDeny
}

// Reason identifies which phase of evaluation produced a decision
type Reason string

const (
	ReasonRBACMatch         Reason = "rbac_match"
	ReasonPolicyAllow       Reason = "policy_allow"
	ReasonPolicyDeny        Reason = "policy_deny"
	ReasonNoMatch           Reason = "no_match"
	ReasonPrincipalNotFound Reason = "principal_not_found"
	ReasonStoreUnavailable  Reason = "store_unavailable"
)

// Principal represents the entity a decision is evaluated for
type Principal struct {
	ID    uuid.UUID   `json:"id"`
	Roles []uuid.UUID `json:"roles"`
}

// HasRole checks if the principal holds a specific role
func (p *Principal) HasRole(roleID uuid.UUID) bool {
	for _, r := range p.Roles {
		if r == roleID {
			return true
		}
	}
	return false
}

// Role is a named, mutable owner of permissions
type Role struct {
	ID          uuid.UUID   `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Permissions []uuid.UUID `json:"permissions"`
}

// NewRole creates a role, validating the name
func NewRole(name, description string) (*Role, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("role name is required")
	}
	return &Role{
		ID:          uuid.New(),
		Name:        name,
		Description: description,
	}, nil
}

// AddPermission attaches a permission to the role; duplicates are ignored
func (r *Role) AddPermission(permissionID uuid.UUID) {
	for _, p := range r.Permissions {
		if p == permissionID {
			return
		}
	}
	r.Permissions = append(r.Permissions, permissionID)
}

// RemovePermission detaches a permission from the role
func (r *Role) RemovePermission(permissionID uuid.UUID) {
	for i, p := range r.Permissions {
		if p == permissionID {
			r.Permissions = append(r.Permissions[:i], r.Permissions[i+1:]...)
			return
		}
	}
}

// Permission is an atomic (resource, action) capability. Immutable once created.
type Permission struct {
	ID       uuid.UUID `json:"id"`
	Resource string    `json:"resource"`
	Action   string    `json:"action"`
}

// NewPermission creates a permission, validating both parts
func NewPermission(resource, action string) (*Permission, error) {
	if resource == "" || action == "" {
		return nil, fmt.Errorf("permission requires both resource and action")
	}
	return &Permission{
		ID:       uuid.New(),
		Resource: resource,
		Action:   action,
	}, nil
}

// Key returns the canonical "{resource}:{action}" index string
func (p *Permission) Key() string {
	return PermissionKey(p.Resource, p.Action)
}

// PermissionKey builds the canonical index string for a (resource, action) pair
func PermissionKey(resource, action string) string {
	return resource + ":" + action
}

// Policy is an attribute-based authorization rule
type Policy struct {
	ID          uuid.UUID `json:"id" yaml:"id"`
	Name        string    `json:"name" yaml:"name"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	Resource    string    `json:"resource" yaml:"resource"`
	Action      string    `json:"action" yaml:"action"`
	Effect      Effect    `json:"effect" yaml:"effect"`
	Condition   string    `json:"condition,omitempty" yaml:"condition,omitempty"`
	Priority    int       `json:"priority" yaml:"priority"`
	Active      bool      `json:"active" yaml:"active"`
	CreatedAt   time.Time `json:"createdAt" yaml:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt" yaml:"updatedAt"`
}

// Validate checks the fields a well-formed policy must carry
func (p *Policy) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("policy name is required")
	}
	if p.Resource == "" || p.Action == "" {
		return fmt.Errorf("policy resource and action patterns are required")
	}
	if !p.Effect.Valid() {
		return fmt.Errorf("policy effect must be %q or %q, got %q", EffectAllow, EffectDeny, p.Effect)
	}
	return nil
}

// Matches checks whether the policy's resource and action patterns cover
// the requested resource and action
func (p *Policy) Matches(resource, action string) bool {
	return MatchPattern(p.Resource, resource) && MatchPattern(p.Action, action)
}

// MatchPattern matches a value against a pattern. Patterns are colon-separated
// segments where "*" matches a single segment and a trailing "*" matches any
// remaining segments (e.g. "orders:*" matches "orders:eu" and "orders:eu:42").
func MatchPattern(pattern, value string) bool {
	if pattern == "*" || pattern == value {
		return true
	}

	patSegs := strings.Split(pattern, ":")
	valSegs := strings.Split(value, ":")

	for i, ps := range patSegs {
		// Trailing wildcard swallows the rest
		if ps == "*" && i == len(patSegs)-1 {
			return true
		}
		if i >= len(valSegs) {
			return false
		}
		if ps != "*" && ps != valSegs[i] {
			return false
		}
	}
	return len(patSegs) == len(valSegs)
}

// DecisionRequest is the input to a single authorization check. Never persisted.
type DecisionRequest struct {
	PrincipalID uuid.UUID  `json:"principalId"`
	Resource    string     `json:"resource"`
	Action      string     `json:"action"`
	Context     Attributes `json:"context,omitempty"`
}

// Fingerprint produces a stable cache key covering the principal, resource,
// action and the full attribute context. Context keys are sorted so two
// requests with the same attributes in different order hash identically.
func (r *DecisionRequest) Fingerprint() string {
	var b strings.Builder
	b.WriteString(r.PrincipalID.String())
	b.WriteByte('|')
	b.WriteString(r.Resource)
	b.WriteByte('|')
	b.WriteString(r.Action)

	keys := make([]string, 0, len(r.Context))
	for k := range r.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := r.Context[k]
		b.WriteByte('|')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(v.fingerprint())
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:16])
}

// Decision is the outcome of an authorization check. Never persisted.
type Decision struct {
	Allowed bool      `json:"allowed"`
	Reason  Reason    `json:"reason"`
	Source  uuid.UUID `json:"source,omitempty"`
}

// Deny builds a fail-closed decision with the given reason
func Deny(reason Reason) Decision {
	return Decision{Allowed: false, Reason: reason}
}
