package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/authguard/go-core/internal/cache"
	"github.com/authguard/go-core/internal/policy"
	"github.com/authguard/go-core/internal/rbac"
	"github.com/authguard/go-core/internal/store"
	"github.com/authguard/go-core/pkg/types"
)

// fixture wires a memory store, shared LRU cache and engine the way main does
type fixture struct {
	store  *store.Memory
	cache  *cache.LRU
	engine *Engine
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	c := cache.NewLRU(256)
	t.Cleanup(func() { c.Close() })

	mem := store.NewMemory(nil)
	mem.SetInvalidator(NewCacheInvalidator(c, zap.NewNop()))

	idx := rbac.NewIndex(mem, c, rbac.DefaultConfig(), zap.NewNop())
	res := policy.NewResolver(mem)
	eng := New(cfg, idx, res, c, nil, zap.NewNop())

	return &fixture{store: mem, cache: c, engine: eng}
}

func (f *fixture) addPrincipalWithPermission(t *testing.T, resource, action string) uuid.UUID {
	t.Helper()
	ctx := context.Background()

	role, err := types.NewRole("role-"+resource+"-"+action, "")
	require.NoError(t, err)
	require.NoError(t, f.store.CreateRole(ctx, role))

	perm, err := types.NewPermission(resource, action)
	require.NoError(t, err)
	require.NoError(t, f.store.CreatePermission(ctx, perm))
	require.NoError(t, f.store.AttachPermission(ctx, role.ID, perm.ID))

	principal := uuid.New()
	require.NoError(t, f.store.CreatePrincipal(ctx, principal))
	require.NoError(t, f.store.AssignRole(ctx, principal, role.ID))
	return principal
}

func (f *fixture) addPolicy(t *testing.T, name, resource, action string, effect types.Effect, cond string, priority int) uuid.UUID {
	t.Helper()
	pol := &types.Policy{
		ID:        uuid.New(),
		Name:      name,
		Resource:  resource,
		Action:    action,
		Effect:    effect,
		Condition: cond,
		Priority:  priority,
		Active:    true,
	}
	require.NoError(t, f.store.UpsertPolicy(context.Background(), pol))
	return pol.ID
}

func TestDecide_RBACMatch(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	principal := f.addPrincipalWithPermission(t, "orders", "read")

	d, err := f.engine.Decide(context.Background(), &types.DecisionRequest{
		PrincipalID: principal,
		Resource:    "orders",
		Action:      "read",
	})
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, types.ReasonRBACMatch, d.Reason)
	assert.NotEqual(t, uuid.Nil, d.Source)
}

func TestDecide_RBACWinsOverDenyPolicy(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	principal := f.addPrincipalWithPermission(t, "orders", "read")
	f.addPolicy(t, "deny-everything", "orders", "read", types.EffectDeny, "", 1000)

	d, err := f.engine.Decide(context.Background(), &types.DecisionRequest{
		PrincipalID: principal,
		Resource:    "orders",
		Action:      "read",
	})
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, types.ReasonRBACMatch, d.Reason)
}

func TestDecide_PolicyPhasePriorityOrder(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	principal := uuid.New()
	require.NoError(t, f.store.CreatePrincipal(context.Background(), principal))

	denyID := f.addPolicy(t, "deny-after-hours", "orders", "write", types.EffectDeny, "hour >= 18", 100)
	allowID := f.addPolicy(t, "allow-orders", "orders", "write", types.EffectAllow, "", 50)

	// After hours the high-priority deny matches first
	d, err := f.engine.Decide(context.Background(), &types.DecisionRequest{
		PrincipalID: principal,
		Resource:    "orders",
		Action:      "write",
		Context:     types.Attributes{"hour": types.Number(20)},
	})
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, types.ReasonPolicyDeny, d.Reason)
	assert.Equal(t, denyID, d.Source)

	// During the day the deny condition is false; the allow matches
	d, err = f.engine.Decide(context.Background(), &types.DecisionRequest{
		PrincipalID: principal,
		Resource:    "orders",
		Action:      "write",
		Context:     types.Attributes{"hour": types.Number(10)},
	})
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, types.ReasonPolicyAllow, d.Reason)
	assert.Equal(t, allowID, d.Source)
}

func TestDecide_DefaultDeny(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	principal := uuid.New()
	require.NoError(t, f.store.CreatePrincipal(context.Background(), principal))

	d, err := f.engine.Decide(context.Background(), &types.DecisionRequest{
		PrincipalID: principal,
		Resource:    "orders",
		Action:      "delete",
	})
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, types.ReasonNoMatch, d.Reason)
	assert.Equal(t, uuid.Nil, d.Source)
}

func TestDecide_UnknownPrincipalFailsClosed(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	d, err := f.engine.Decide(context.Background(), &types.DecisionRequest{
		PrincipalID: uuid.New(),
		Resource:    "orders",
		Action:      "read",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPrincipalNotFound)
	assert.False(t, Retryable(err))
	assert.False(t, d.Allowed)
	assert.Equal(t, types.ReasonPrincipalNotFound, d.Reason)
}

// failingStore simulates an unreachable authoritative store
type failingStore struct{}

func (failingStore) LoadRoles(context.Context, uuid.UUID) ([]uuid.UUID, error) {
	return nil, store.ErrUnavailable
}
func (failingStore) LoadPermissions(context.Context, []uuid.UUID) ([]types.Permission, error) {
	return nil, store.ErrUnavailable
}
func (failingStore) LoadActivePolicies(context.Context) ([]types.Policy, error) {
	return nil, store.ErrUnavailable
}

func TestDecide_StoreUnavailableFailsClosed(t *testing.T) {
	idx := rbac.NewIndex(failingStore{}, nil, rbac.DefaultConfig(), zap.NewNop())
	res := policy.NewResolver(failingStore{})
	eng := New(DefaultConfig(), idx, res, nil, nil, zap.NewNop())

	d, err := eng.Decide(context.Background(), &types.DecisionRequest{
		PrincipalID: uuid.New(),
		Resource:    "orders",
		Action:      "read",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.True(t, Retryable(err))
	assert.False(t, d.Allowed)
	assert.Equal(t, types.ReasonStoreUnavailable, d.Reason)
}

func TestDecide_MalformedPolicySkipped(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	principal := uuid.New()
	require.NoError(t, f.store.CreatePrincipal(context.Background(), principal))

	f.addPolicy(t, "broken", "orders", "write", types.EffectDeny, "hour >=", 100)
	allowID := f.addPolicy(t, "allow-orders", "orders", "write", types.EffectAllow, "", 50)

	d, err := f.engine.Decide(context.Background(), &types.DecisionRequest{
		PrincipalID: principal,
		Resource:    "orders",
		Action:      "write",
	})
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, allowID, d.Source)
}

func TestDecide_InactivePolicyIgnored(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	principal := uuid.New()
	ctx := context.Background()
	require.NoError(t, f.store.CreatePrincipal(ctx, principal))

	pol := &types.Policy{
		ID:       uuid.New(),
		Name:     "allow-orders",
		Resource: "orders",
		Action:   "write",
		Effect:   types.EffectAllow,
		Priority: 50,
		Active:   false,
	}
	require.NoError(t, f.store.UpsertPolicy(ctx, pol))

	d, err := f.engine.Decide(ctx, &types.DecisionRequest{
		PrincipalID: principal,
		Resource:    "orders",
		Action:      "write",
	})
	require.NoError(t, err)
	assert.Equal(t, types.ReasonNoMatch, d.Reason)
}

func TestDecide_InvalidRequest(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	_, err := f.engine.Decide(context.Background(), &types.DecisionRequest{
		PrincipalID: uuid.New(),
		Resource:    "",
		Action:      "read",
	})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = f.engine.Decide(context.Background(), nil)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestDecide_Deterministic(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	principal := f.addPrincipalWithPermission(t, "orders", "read")
	req := &types.DecisionRequest{
		PrincipalID: principal,
		Resource:    "orders",
		Action:      "read",
		Context:     types.Attributes{"hour": types.Number(12)},
	}

	first, err := f.engine.Decide(context.Background(), req)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		d, err := f.engine.Decide(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, first, d)
	}
}

func TestDecide_CoherentAfterRevoke(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	principal := f.addPrincipalWithPermission(t, "orders", "read")
	ctx := context.Background()
	req := &types.DecisionRequest{
		PrincipalID: principal,
		Resource:    "orders",
		Action:      "read",
	}

	d, err := f.engine.Decide(ctx, req)
	require.NoError(t, err)
	require.True(t, d.Allowed)

	// Revoking the role invalidates the cached permission set synchronously
	roles, err := f.store.LoadRoles(ctx, principal)
	require.NoError(t, err)
	require.Len(t, roles, 1)
	require.NoError(t, f.store.RevokeRole(ctx, principal, roles[0]))

	d, err = f.engine.Decide(ctx, req)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, types.ReasonNoMatch, d.Reason)
}

func TestDecide_MemoizationRoundTrip(t *testing.T) {
	f := newFixture(t, Config{MemoizeDecisions: true})
	principal := f.addPrincipalWithPermission(t, "orders", "read")
	ctx := context.Background()
	req := &types.DecisionRequest{
		PrincipalID: principal,
		Resource:    "orders",
		Action:      "read",
	}

	d, err := f.engine.Decide(ctx, req)
	require.NoError(t, err)
	require.True(t, d.Allowed)

	// The memoized entry exists under the request fingerprint
	_, err = f.cache.Get(ctx, DecisionKeyPrefix+req.Fingerprint())
	require.NoError(t, err)

	d2, err := f.engine.Decide(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, d, d2)
}

func TestDecide_MemoizedDecisionDroppedOnMutation(t *testing.T) {
	f := newFixture(t, Config{MemoizeDecisions: true})
	principal := f.addPrincipalWithPermission(t, "orders", "read")
	ctx := context.Background()
	req := &types.DecisionRequest{
		PrincipalID: principal,
		Resource:    "orders",
		Action:      "read",
	}

	d, err := f.engine.Decide(ctx, req)
	require.NoError(t, err)
	require.True(t, d.Allowed)

	roles, err := f.store.LoadRoles(ctx, principal)
	require.NoError(t, err)
	require.NoError(t, f.store.RevokeRole(ctx, principal, roles[0]))

	_, err = f.cache.Get(ctx, DecisionKeyPrefix+req.Fingerprint())
	assert.True(t, errors.Is(err, cache.ErrNotFound))

	d, err = f.engine.Decide(ctx, req)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
}

func TestDecide_FailureDecisionsNotMemoized(t *testing.T) {
	f := newFixture(t, Config{MemoizeDecisions: true})
	req := &types.DecisionRequest{
		PrincipalID: uuid.New(),
		Resource:    "orders",
		Action:      "read",
	}

	_, err := f.engine.Decide(context.Background(), req)
	require.ErrorIs(t, err, ErrPrincipalNotFound)

	_, err = f.cache.Get(context.Background(), DecisionKeyPrefix+req.Fingerprint())
	assert.True(t, errors.Is(err, cache.ErrNotFound))
}
