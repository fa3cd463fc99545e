package rbac

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/authguard/go-core/internal/cache"
	"github.com/authguard/go-core/internal/store"
	"github.com/authguard/go-core/pkg/types"
)

type countingSource struct {
	inner     Source
	roleLoads int
	permLoads int
}

func (c *countingSource) LoadRoles(ctx context.Context, principalID uuid.UUID) ([]uuid.UUID, error) {
	c.roleLoads++
	return c.inner.LoadRoles(ctx, principalID)
}

func (c *countingSource) LoadPermissions(ctx context.Context, roleIDs []uuid.UUID) ([]types.Permission, error) {
	c.permLoads++
	return c.inner.LoadPermissions(ctx, roleIDs)
}

// brokenCache fails every operation with ErrUnavailable
type brokenCache struct{}

func (brokenCache) Get(ctx context.Context, key string) ([]byte, error) {
	return nil, cache.ErrUnavailable
}
func (brokenCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return cache.ErrUnavailable
}
func (brokenCache) Delete(ctx context.Context, keys ...string) error { return cache.ErrUnavailable }
func (brokenCache) DeleteNamespace(ctx context.Context, prefix string) error {
	return cache.ErrUnavailable
}
func (brokenCache) Stats() cache.Stats { return cache.Stats{} }
func (brokenCache) Close() error       { return nil }

func seedStore(t *testing.T) (*store.Memory, uuid.UUID) {
	t.Helper()
	mem := store.NewMemory(nil)
	ctx := context.Background()

	role, err := types.NewRole("viewer", "")
	require.NoError(t, err)
	require.NoError(t, mem.CreateRole(ctx, role))

	perm, err := types.NewPermission("orders", "read")
	require.NoError(t, err)
	require.NoError(t, mem.CreatePermission(ctx, perm))
	require.NoError(t, mem.AttachPermission(ctx, role.ID, perm.ID))

	principal := uuid.New()
	require.NoError(t, mem.CreatePrincipal(ctx, principal))
	require.NoError(t, mem.AssignRole(ctx, principal, role.ID))

	return mem, principal
}

func TestIndex_CacheMissThenHit(t *testing.T) {
	mem, principal := seedStore(t)
	src := &countingSource{inner: mem}
	c := cache.NewLRU(64)
	defer c.Close()

	idx := NewIndex(src, c, DefaultConfig(), zap.NewNop())
	ctx := context.Background()

	perms, err := idx.GetEffectivePermissions(ctx, principal)
	require.NoError(t, err)
	require.Len(t, perms, 1)
	assert.Equal(t, "orders:read", perms[0].Key())
	assert.Equal(t, 1, src.roleLoads)

	// Second read is served from cache
	perms, err = idx.GetEffectivePermissions(ctx, principal)
	require.NoError(t, err)
	require.Len(t, perms, 1)
	assert.Equal(t, 1, src.roleLoads)
	assert.Equal(t, 1, src.permLoads)
}

func TestIndex_PrincipalNotFound(t *testing.T) {
	mem, _ := seedStore(t)
	c := cache.NewLRU(64)
	defer c.Close()

	idx := NewIndex(mem, c, DefaultConfig(), zap.NewNop())

	_, err := idx.GetEffectivePermissions(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrPrincipalNotFound)
}

func TestIndex_EmptyRolesIsNotAnError(t *testing.T) {
	mem := store.NewMemory(nil)
	principal := uuid.New()
	require.NoError(t, mem.CreatePrincipal(context.Background(), principal))

	idx := NewIndex(mem, nil, DefaultConfig(), zap.NewNop())

	perms, err := idx.GetEffectivePermissions(context.Background(), principal)
	require.NoError(t, err)
	assert.Empty(t, perms)
}

func TestIndex_CacheUnavailableFallsBackToStore(t *testing.T) {
	mem, principal := seedStore(t)
	src := &countingSource{inner: mem}

	idx := NewIndex(src, brokenCache{}, DefaultConfig(), zap.NewNop())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		perms, err := idx.GetEffectivePermissions(ctx, principal)
		require.NoError(t, err)
		require.Len(t, perms, 1)
	}
	// Every read hit the store since the cache never answers
	assert.Equal(t, 2, src.roleLoads)
}

func TestIndex_CanceledContextDoesNotCache(t *testing.T) {
	mem, principal := seedStore(t)
	c := cache.NewLRU(64)
	defer c.Close()

	idx := NewIndex(mem, c, DefaultConfig(), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := idx.GetEffectivePermissions(ctx, principal)
	require.Error(t, err)

	_, err = c.Get(context.Background(), CacheKey(principal))
	assert.ErrorIs(t, err, cache.ErrNotFound)
}

func TestIndex_CorruptCacheEntryIsDiscarded(t *testing.T) {
	mem, principal := seedStore(t)
	c := cache.NewLRU(64)
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, CacheKey(principal), []byte("{not json"), time.Minute))

	idx := NewIndex(mem, c, DefaultConfig(), zap.NewNop())
	perms, err := idx.GetEffectivePermissions(ctx, principal)
	require.NoError(t, err)
	require.Len(t, perms, 1)

	// The bad entry was replaced by a decodable one
	data, err := c.Get(ctx, CacheKey(principal))
	require.NoError(t, err)
	var cached []types.Permission
	require.NoError(t, json.Unmarshal(data, &cached))
	assert.Len(t, cached, 1)
}

func TestIndex_Invalidate(t *testing.T) {
	mem, principal := seedStore(t)
	src := &countingSource{inner: mem}
	c := cache.NewLRU(64)
	defer c.Close()
	ctx := context.Background()

	idx := NewIndex(src, c, DefaultConfig(), zap.NewNop())
	_, err := idx.GetEffectivePermissions(ctx, principal)
	require.NoError(t, err)

	require.NoError(t, idx.Invalidate(ctx, principal))

	_, err = idx.GetEffectivePermissions(ctx, principal)
	require.NoError(t, err)
	assert.Equal(t, 2, src.roleLoads)
}
