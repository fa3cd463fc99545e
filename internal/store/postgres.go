package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/authguard/go-core/pkg/types"
)

// Postgres is the durable authoritative store. Reads run inside
// repeatable-read transactions so a decision always sees a point-in-time
// consistent snapshot of roles, permissions, and policies.
type Postgres struct {
	db          *sql.DB
	invalidator Invalidator
}

// NewPostgres wraps an open database handle. The caller owns the handle's
// lifecycle and runs migrations before serving traffic.
func NewPostgres(db *sql.DB, invalidator Invalidator) *Postgres {
	if invalidator == nil {
		invalidator = NopInvalidator{}
	}
	return &Postgres{db: db, invalidator: invalidator}
}

// pgErr maps driver errors onto the store taxonomy
func pgErr(op string, err error) error {
	var pqe *pq.Error
	if errors.As(err, &pqe) {
		switch pqe.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%w: %s", ErrDuplicate, op)
		case "23503": // foreign_key_violation
			return fmt.Errorf("%w: %s", ErrNotFound, op)
		}
	}
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
}

func (p *Postgres) readTx(ctx context.Context) (*sql.Tx, error) {
	return p.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelRepeatableRead,
		ReadOnly:  true,
	})
}

// LoadRoles resolves a principal's role identifiers
func (p *Postgres) LoadRoles(ctx context.Context, principalID uuid.UUID) ([]uuid.UUID, error) {
	tx, err := p.readTx(ctx)
	if err != nil {
		return nil, pgErr("load roles", err)
	}
	defer tx.Rollback()

	var exists bool
	err = tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM principals WHERE id = $1)`, principalID).Scan(&exists)
	if err != nil {
		return nil, pgErr("load roles", err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrPrincipalNotFound, principalID)
	}

	rows, err := tx.QueryContext(ctx, `SELECT role_id FROM principal_roles WHERE principal_id = $1`, principalID)
	if err != nil {
		return nil, pgErr("load roles", err)
	}
	defer rows.Close()

	roles := make([]uuid.UUID, 0)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, pgErr("load roles", err)
		}
		roles = append(roles, id)
	}
	if err := rows.Err(); err != nil {
		return nil, pgErr("load roles", err)
	}
	return roles, tx.Commit()
}

// LoadPermissions unions the permission sets of the given roles
func (p *Postgres) LoadPermissions(ctx context.Context, roleIDs []uuid.UUID) ([]types.Permission, error) {
	if len(roleIDs) == 0 {
		return []types.Permission{}, nil
	}

	ids := make([]string, len(roleIDs))
	for i, id := range roleIDs {
		ids[i] = id.String()
	}

	tx, err := p.readTx(ctx)
	if err != nil {
		return nil, pgErr("load permissions", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT DISTINCT p.id, p.resource, p.action
		FROM permissions p
		JOIN role_permissions rp ON rp.permission_id = p.id
		WHERE rp.role_id = ANY($1)`,
		pq.Array(ids),
	)
	if err != nil {
		return nil, pgErr("load permissions", err)
	}
	defer rows.Close()

	perms := make([]types.Permission, 0)
	for rows.Next() {
		var perm types.Permission
		if err := rows.Scan(&perm.ID, &perm.Resource, &perm.Action); err != nil {
			return nil, pgErr("load permissions", err)
		}
		perms = append(perms, perm)
	}
	if err := rows.Err(); err != nil {
		return nil, pgErr("load permissions", err)
	}
	return perms, tx.Commit()
}

// LoadActivePolicies returns all active policies
func (p *Postgres) LoadActivePolicies(ctx context.Context) ([]types.Policy, error) {
	tx, err := p.readTx(ctx)
	if err != nil {
		return nil, pgErr("load policies", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, name, COALESCE(description, ''), resource, action,
		       effect, COALESCE(condition, ''), priority, active,
		       created_at, updated_at
		FROM policies
		WHERE active = TRUE`)
	if err != nil {
		return nil, pgErr("load policies", err)
	}
	defer rows.Close()

	policies := make([]types.Policy, 0)
	for rows.Next() {
		var pol types.Policy
		if err := rows.Scan(
			&pol.ID, &pol.Name, &pol.Description, &pol.Resource, &pol.Action,
			&pol.Effect, &pol.Condition, &pol.Priority, &pol.Active,
			&pol.CreatedAt, &pol.UpdatedAt,
		); err != nil {
			return nil, pgErr("load policies", err)
		}
		policies = append(policies, pol)
	}
	if err := rows.Err(); err != nil {
		return nil, pgErr("load policies", err)
	}
	return policies, tx.Commit()
}

// CreatePrincipal registers a principal
func (p *Postgres) CreatePrincipal(ctx context.Context, principalID uuid.UUID) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO principals (id) VALUES ($1)`, principalID)
	if err != nil {
		return pgErr("create principal", err)
	}
	return nil
}

// CreateRole adds a role
func (p *Postgres) CreateRole(ctx context.Context, role *types.Role) error {
	if role == nil || role.Name == "" {
		return fmt.Errorf("role with a name is required")
	}
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO roles (id, name, description) VALUES ($1, $2, $3)`,
		role.ID, role.Name, role.Description,
	)
	if err != nil {
		return pgErr("create role", err)
	}
	return nil
}

// DeleteRole removes a role if no principal still holds it
func (p *Postgres) DeleteRole(ctx context.Context, roleID uuid.UUID) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return pgErr("delete role", err)
	}
	defer tx.Rollback()

	var held bool
	err = tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM principal_roles WHERE role_id = $1)`, roleID).Scan(&held)
	if err != nil {
		return pgErr("delete role", err)
	}
	if held {
		return fmt.Errorf("%w: role %s", ErrRoleInUse, roleID)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM roles WHERE id = $1`, roleID)
	if err != nil {
		return pgErr("delete role", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: role %s", ErrNotFound, roleID)
	}

	if err := tx.Commit(); err != nil {
		return pgErr("delete role", err)
	}

	if err := p.invalidator.InvalidatePermissions(ctx); err != nil {
		return fmt.Errorf("cache invalidation failed: %w", err)
	}
	return p.invalidator.InvalidateDecisions(ctx)
}

// CreatePermission adds a permission
func (p *Postgres) CreatePermission(ctx context.Context, perm *types.Permission) error {
	if perm == nil || perm.Resource == "" || perm.Action == "" {
		return fmt.Errorf("permission requires resource and action")
	}
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO permissions (id, resource, action) VALUES ($1, $2, $3)`,
		perm.ID, perm.Resource, perm.Action,
	)
	if err != nil {
		return pgErr("create permission", err)
	}
	return nil
}

// AttachPermission adds a permission to a role
func (p *Postgres) AttachPermission(ctx context.Context, roleID, permissionID uuid.UUID) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO role_permissions (role_id, permission_id) VALUES ($1, $2)
		 ON CONFLICT DO NOTHING`,
		roleID, permissionID,
	)
	if err != nil {
		return pgErr("attach permission", err)
	}
	return p.invalidateRoleHolders(ctx, roleID)
}

// DetachPermission removes a permission from a role
func (p *Postgres) DetachPermission(ctx context.Context, roleID, permissionID uuid.UUID) error {
	_, err := p.db.ExecContext(ctx,
		`DELETE FROM role_permissions WHERE role_id = $1 AND permission_id = $2`,
		roleID, permissionID,
	)
	if err != nil {
		return pgErr("detach permission", err)
	}
	return p.invalidateRoleHolders(ctx, roleID)
}

// AssignRole grants a role to a principal
func (p *Postgres) AssignRole(ctx context.Context, principalID, roleID uuid.UUID) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO principal_roles (principal_id, role_id) VALUES ($1, $2)
		 ON CONFLICT DO NOTHING`,
		principalID, roleID,
	)
	if err != nil {
		return pgErr("assign role", err)
	}
	if err := p.invalidator.InvalidatePrincipal(ctx, principalID); err != nil {
		return fmt.Errorf("cache invalidation failed: %w", err)
	}
	return p.invalidator.InvalidateDecisions(ctx)
}

// RevokeRole removes a role from a principal
func (p *Postgres) RevokeRole(ctx context.Context, principalID, roleID uuid.UUID) error {
	_, err := p.db.ExecContext(ctx,
		`DELETE FROM principal_roles WHERE principal_id = $1 AND role_id = $2`,
		principalID, roleID,
	)
	if err != nil {
		return pgErr("revoke role", err)
	}
	if err := p.invalidator.InvalidatePrincipal(ctx, principalID); err != nil {
		return fmt.Errorf("cache invalidation failed: %w", err)
	}
	return p.invalidator.InvalidateDecisions(ctx)
}

// UpsertPolicy creates or updates a policy
func (p *Postgres) UpsertPolicy(ctx context.Context, policy *types.Policy) error {
	if policy == nil || policy.Name == "" {
		return fmt.Errorf("policy with a name is required")
	}
	if !policy.Effect.Valid() {
		return fmt.Errorf("policy %q has invalid effect %q", policy.Name, policy.Effect)
	}

	_, err := p.db.ExecContext(ctx, `
		INSERT INTO policies (id, name, description, resource, action, effect, condition, priority, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			resource = EXCLUDED.resource,
			action = EXCLUDED.action,
			effect = EXCLUDED.effect,
			condition = EXCLUDED.condition,
			priority = EXCLUDED.priority,
			active = EXCLUDED.active,
			updated_at = NOW()`,
		policy.ID, policy.Name, policy.Description, policy.Resource, policy.Action,
		policy.Effect, policy.Condition, policy.Priority, policy.Active,
	)
	if err != nil {
		return pgErr("upsert policy", err)
	}
	return p.invalidator.InvalidateDecisions(ctx)
}

// DeletePolicy removes a policy
func (p *Postgres) DeletePolicy(ctx context.Context, policyID uuid.UUID) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM policies WHERE id = $1`, policyID)
	if err != nil {
		return pgErr("delete policy", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: policy %s", ErrNotFound, policyID)
	}
	return p.invalidator.InvalidateDecisions(ctx)
}

// invalidateRoleHolders drops the cached permission sets of every principal
// holding the role. Falls back to whole-namespace invalidation when the
// holder query fails: staleness here is a correctness bug, not a tuning knob.
func (p *Postgres) invalidateRoleHolders(ctx context.Context, roleID uuid.UUID) error {
	rows, err := p.db.QueryContext(ctx, `SELECT principal_id FROM principal_roles WHERE role_id = $1`, roleID)
	if err != nil {
		if err := p.invalidator.InvalidatePermissions(ctx); err != nil {
			return fmt.Errorf("cache invalidation failed: %w", err)
		}
		return p.invalidator.InvalidateDecisions(ctx)
	}
	defer rows.Close()

	for rows.Next() {
		var principalID uuid.UUID
		if err := rows.Scan(&principalID); err != nil {
			return pgErr("invalidate role holders", err)
		}
		if err := p.invalidator.InvalidatePrincipal(ctx, principalID); err != nil {
			return fmt.Errorf("cache invalidation failed for principal %s: %w", principalID, err)
		}
	}
	if err := rows.Err(); err != nil {
		return pgErr("invalidate role holders", err)
	}
	return p.invalidator.InvalidateDecisions(ctx)
}
