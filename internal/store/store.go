// Package store provides the authoritative role/permission/policy store: the
// read contracts the decision path depends on, and the administrative
// mutations that must invalidate the decision cache before returning.
package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/authguard/go-core/pkg/types"
)

// ErrPrincipalNotFound is returned by LoadRoles when the principal does not
// exist. Distinct from a principal that exists but holds no roles.
var ErrPrincipalNotFound = errors.New("store: principal not found")

// ErrNotFound is returned when a role, permission, or policy does not exist
var ErrNotFound = errors.New("store: not found")

// ErrUnavailable is returned when the backing store cannot be reached.
// The engine maps it to a fail-closed deny.
var ErrUnavailable = errors.New("store: unavailable")

// ErrRoleInUse is returned when deleting a role still held by a principal
var ErrRoleInUse = errors.New("store: role is held by at least one principal")

// ErrDuplicate is returned when a create would violate a uniqueness
// invariant (role name, permission canonical key, policy name)
var ErrDuplicate = errors.New("store: duplicate")

// Store is the read contract consumed by the decision path. Implementations
// return copy-on-read snapshots: callers never hold live references into
// store-owned structures.
type Store interface {
	// LoadRoles resolves a principal's role identifiers.
	// Returns ErrPrincipalNotFound for unknown principals and an empty
	// slice for principals with no roles.
	LoadRoles(ctx context.Context, principalID uuid.UUID) ([]uuid.UUID, error)

	// LoadPermissions unions the permission sets of the given roles.
	LoadPermissions(ctx context.Context, roleIDs []uuid.UUID) ([]types.Permission, error)

	// LoadActivePolicies returns all active policies.
	LoadActivePolicies(ctx context.Context) ([]types.Policy, error)
}

// Admin is the administrative mutation surface. Every mutation triggers the
// cache invalidation contract synchronously, before reporting success.
type Admin interface {
	CreatePrincipal(ctx context.Context, principalID uuid.UUID) error

	CreateRole(ctx context.Context, role *types.Role) error
	DeleteRole(ctx context.Context, roleID uuid.UUID) error

	CreatePermission(ctx context.Context, perm *types.Permission) error
	AttachPermission(ctx context.Context, roleID, permissionID uuid.UUID) error
	DetachPermission(ctx context.Context, roleID, permissionID uuid.UUID) error

	AssignRole(ctx context.Context, principalID, roleID uuid.UUID) error
	RevokeRole(ctx context.Context, principalID, roleID uuid.UUID) error

	UpsertPolicy(ctx context.Context, policy *types.Policy) error
	DeletePolicy(ctx context.Context, policyID uuid.UUID) error
}

// Invalidator receives cache invalidation calls from administrative
// mutations. The engine wires this to the decision cache; tests substitute
// a recorder.
type Invalidator interface {
	// InvalidatePrincipal drops the cached permission set of one principal.
	InvalidatePrincipal(ctx context.Context, principalID uuid.UUID) error

	// InvalidatePermissions drops every cached permission set.
	InvalidatePermissions(ctx context.Context) error

	// InvalidateDecisions drops all memoized decisions.
	InvalidateDecisions(ctx context.Context) error
}

// NopInvalidator ignores all invalidation calls
type NopInvalidator struct{}

func (NopInvalidator) InvalidatePrincipal(context.Context, uuid.UUID) error { return nil }
func (NopInvalidator) InvalidatePermissions(context.Context) error          { return nil }
func (NopInvalidator) InvalidateDecisions(context.Context) error            { return nil }
