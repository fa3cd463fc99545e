package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/authguard/go-core/pkg/types"
)

// Memory is an in-memory authoritative store. It backs tests and
// single-instance deployments; the PostgreSQL store is the durable option.
type Memory struct {
	mu sync.RWMutex

	principals  map[uuid.UUID]map[uuid.UUID]struct{} // principal -> role set
	roles       map[uuid.UUID]*types.Role
	roleNames   map[string]uuid.UUID
	permissions map[uuid.UUID]*types.Permission
	permKeys    map[string]uuid.UUID // canonical "{resource}:{action}" -> id
	policies    map[uuid.UUID]*types.Policy
	policyNames map[string]uuid.UUID

	invalidator Invalidator
}

// NewMemory creates an empty in-memory store. Mutations call the given
// invalidator synchronously; pass NopInvalidator when no cache is attached.
func NewMemory(invalidator Invalidator) *Memory {
	if invalidator == nil {
		invalidator = NopInvalidator{}
	}
	return &Memory{
		invalidator: invalidator,
		principals:  make(map[uuid.UUID]map[uuid.UUID]struct{}),
		roles:       make(map[uuid.UUID]*types.Role),
		roleNames:   make(map[string]uuid.UUID),
		permissions: make(map[uuid.UUID]*types.Permission),
		permKeys:    make(map[string]uuid.UUID),
		policies:    make(map[uuid.UUID]*types.Policy),
		policyNames: make(map[string]uuid.UUID),
	}
}

// SetInvalidator attaches the cache invalidator. Called once at wiring time,
// before the store serves traffic.
func (m *Memory) SetInvalidator(inv Invalidator) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalidator = inv
}

func (m *Memory) invalidatorOrNop() Invalidator {
	if m.invalidator == nil {
		return NopInvalidator{}
	}
	return m.invalidator
}

// LoadRoles resolves a principal's role identifiers
func (m *Memory) LoadRoles(ctx context.Context, principalID uuid.UUID) ([]uuid.UUID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	roleSet, ok := m.principals[principalID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPrincipalNotFound, principalID)
	}

	roles := make([]uuid.UUID, 0, len(roleSet))
	for id := range roleSet {
		roles = append(roles, id)
	}
	return roles, nil
}

// LoadPermissions unions the permission sets of the given roles. Unknown
// role ids are skipped: a stale reference must not fail the decision path.
func (m *Memory) LoadPermissions(ctx context.Context, roleIDs []uuid.UUID) ([]types.Permission, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[uuid.UUID]struct{})
	var perms []types.Permission
	for _, roleID := range roleIDs {
		role, ok := m.roles[roleID]
		if !ok {
			continue
		}
		for _, permID := range role.Permissions {
			if _, dup := seen[permID]; dup {
				continue
			}
			if perm, ok := m.permissions[permID]; ok {
				seen[permID] = struct{}{}
				perms = append(perms, *perm)
			}
		}
	}
	return perms, nil
}

// LoadActivePolicies returns copies of all active policies
func (m *Memory) LoadActivePolicies(ctx context.Context) ([]types.Policy, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	policies := make([]types.Policy, 0, len(m.policies))
	for _, p := range m.policies {
		if p.Active {
			policies = append(policies, *p)
		}
	}
	return policies, nil
}

// CreatePrincipal registers a principal with no roles
func (m *Memory) CreatePrincipal(ctx context.Context, principalID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.principals[principalID]; ok {
		return fmt.Errorf("%w: principal %s", ErrDuplicate, principalID)
	}
	m.principals[principalID] = make(map[uuid.UUID]struct{})
	return nil
}

// CreateRole adds a role. Role names are unique.
func (m *Memory) CreateRole(ctx context.Context, role *types.Role) error {
	if role == nil || role.Name == "" {
		return fmt.Errorf("role with a name is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.roleNames[role.Name]; ok {
		return fmt.Errorf("%w: role name %q", ErrDuplicate, role.Name)
	}
	cp := *role
	cp.Permissions = append([]uuid.UUID(nil), role.Permissions...)
	m.roles[role.ID] = &cp
	m.roleNames[role.Name] = role.ID
	return nil
}

// DeleteRole removes a role. Fails with ErrRoleInUse while any principal
// still holds it; callers revoke assignments first.
func (m *Memory) DeleteRole(ctx context.Context, roleID uuid.UUID) error {
	m.mu.Lock()

	role, ok := m.roles[roleID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: role %s", ErrNotFound, roleID)
	}

	for principalID, roleSet := range m.principals {
		if _, held := roleSet[roleID]; held {
			m.mu.Unlock()
			return fmt.Errorf("%w: role %s held by principal %s", ErrRoleInUse, roleID, principalID)
		}
	}

	delete(m.roles, roleID)
	delete(m.roleNames, role.Name)
	inv := m.invalidatorOrNop()
	m.mu.Unlock()

	return m.invalidateAll(ctx, inv)
}

// CreatePermission adds a permission. The canonical "{resource}:{action}"
// string is unique across the permission set.
func (m *Memory) CreatePermission(ctx context.Context, perm *types.Permission) error {
	if perm == nil || perm.Resource == "" || perm.Action == "" {
		return fmt.Errorf("permission requires resource and action")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := perm.Key()
	if _, ok := m.permKeys[key]; ok {
		return fmt.Errorf("%w: permission %q", ErrDuplicate, key)
	}
	cp := *perm
	m.permissions[perm.ID] = &cp
	m.permKeys[key] = perm.ID
	return nil
}

// AttachPermission adds a permission to a role and invalidates every
// principal holding that role.
func (m *Memory) AttachPermission(ctx context.Context, roleID, permissionID uuid.UUID) error {
	m.mu.Lock()

	role, ok := m.roles[roleID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: role %s", ErrNotFound, roleID)
	}
	if _, ok := m.permissions[permissionID]; !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: permission %s", ErrNotFound, permissionID)
	}

	role.AddPermission(permissionID)
	holders := m.holdersLocked(roleID)
	inv := m.invalidatorOrNop()
	m.mu.Unlock()

	return m.invalidatePrincipals(ctx, inv, holders)
}

// DetachPermission removes a permission from a role and invalidates every
// principal holding that role.
func (m *Memory) DetachPermission(ctx context.Context, roleID, permissionID uuid.UUID) error {
	m.mu.Lock()

	role, ok := m.roles[roleID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: role %s", ErrNotFound, roleID)
	}

	role.RemovePermission(permissionID)
	holders := m.holdersLocked(roleID)
	inv := m.invalidatorOrNop()
	m.mu.Unlock()

	return m.invalidatePrincipals(ctx, inv, holders)
}

// AssignRole grants a role to a principal
func (m *Memory) AssignRole(ctx context.Context, principalID, roleID uuid.UUID) error {
	m.mu.Lock()

	roleSet, ok := m.principals[principalID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrPrincipalNotFound, principalID)
	}
	if _, ok := m.roles[roleID]; !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: role %s", ErrNotFound, roleID)
	}

	roleSet[roleID] = struct{}{}
	inv := m.invalidatorOrNop()
	m.mu.Unlock()

	return m.invalidatePrincipals(ctx, inv, []uuid.UUID{principalID})
}

// RevokeRole removes a role from a principal
func (m *Memory) RevokeRole(ctx context.Context, principalID, roleID uuid.UUID) error {
	m.mu.Lock()

	roleSet, ok := m.principals[principalID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrPrincipalNotFound, principalID)
	}

	delete(roleSet, roleID)
	inv := m.invalidatorOrNop()
	m.mu.Unlock()

	return m.invalidatePrincipals(ctx, inv, []uuid.UUID{principalID})
}

// UpsertPolicy creates or updates a policy. Policy names are unique.
func (m *Memory) UpsertPolicy(ctx context.Context, policy *types.Policy) error {
	if policy == nil || policy.Name == "" {
		return fmt.Errorf("policy with a name is required")
	}
	if !policy.Effect.Valid() {
		return fmt.Errorf("policy %q has invalid effect %q", policy.Name, policy.Effect)
	}

	m.mu.Lock()

	if existingID, ok := m.policyNames[policy.Name]; ok && existingID != policy.ID {
		m.mu.Unlock()
		return fmt.Errorf("%w: policy name %q", ErrDuplicate, policy.Name)
	}

	cp := *policy
	now := time.Now().UTC()
	if existing, ok := m.policies[policy.ID]; ok {
		cp.CreatedAt = existing.CreatedAt
		// Name changes release the old name
		if existing.Name != cp.Name {
			delete(m.policyNames, existing.Name)
		}
	} else if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now

	m.policies[cp.ID] = &cp
	m.policyNames[cp.Name] = cp.ID
	inv := m.invalidatorOrNop()
	m.mu.Unlock()

	return inv.InvalidateDecisions(ctx)
}

// DeletePolicy removes a policy
func (m *Memory) DeletePolicy(ctx context.Context, policyID uuid.UUID) error {
	m.mu.Lock()

	policy, ok := m.policies[policyID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: policy %s", ErrNotFound, policyID)
	}

	delete(m.policies, policyID)
	delete(m.policyNames, policy.Name)
	inv := m.invalidatorOrNop()
	m.mu.Unlock()

	return inv.InvalidateDecisions(ctx)
}

// ReplacePolicies atomically swaps the full policy set. Used by the file
// loader on hot reload.
func (m *Memory) ReplacePolicies(ctx context.Context, policies []types.Policy) error {
	m.mu.Lock()

	m.policies = make(map[uuid.UUID]*types.Policy, len(policies))
	m.policyNames = make(map[string]uuid.UUID, len(policies))
	for i := range policies {
		cp := policies[i]
		m.policies[cp.ID] = &cp
		m.policyNames[cp.Name] = cp.ID
	}
	inv := m.invalidatorOrNop()
	m.mu.Unlock()

	return inv.InvalidateDecisions(ctx)
}

// GetRole returns a copy of a role
func (m *Memory) GetRole(roleID uuid.UUID) (*types.Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	role, ok := m.roles[roleID]
	if !ok {
		return nil, fmt.Errorf("%w: role %s", ErrNotFound, roleID)
	}
	cp := *role
	cp.Permissions = append([]uuid.UUID(nil), role.Permissions...)
	return &cp, nil
}

func (m *Memory) holdersLocked(roleID uuid.UUID) []uuid.UUID {
	var holders []uuid.UUID
	for principalID, roleSet := range m.principals {
		if _, held := roleSet[roleID]; held {
			holders = append(holders, principalID)
		}
	}
	return holders
}

func (m *Memory) invalidatePrincipals(ctx context.Context, inv Invalidator, principals []uuid.UUID) error {
	for _, id := range principals {
		if err := inv.InvalidatePrincipal(ctx, id); err != nil {
			return fmt.Errorf("cache invalidation failed for principal %s: %w", id, err)
		}
	}
	return inv.InvalidateDecisions(ctx)
}

func (m *Memory) invalidateAll(ctx context.Context, inv Invalidator) error {
	if err := inv.InvalidatePermissions(ctx); err != nil {
		return fmt.Errorf("cache invalidation failed: %w", err)
	}
	return inv.InvalidateDecisions(ctx)
}
