package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRU_GetSet(t *testing.T) {
	c := NewLRU(10)
	ctx := context.Background()

	_, err := c.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, c.Set(ctx, "k1", []byte("v1"), time.Minute))

	got, err := c.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), got)
}

func TestLRU_TTLExpiry(t *testing.T) {
	c := NewLRU(10)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k1", []byte("v1"), 10*time.Millisecond))

	time.Sleep(30 * time.Millisecond)

	_, err := c.Get(ctx, "k1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLRU_EvictsOldest(t *testing.T) {
	c := NewLRU(2)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, c.Set(ctx, "b", []byte("2"), time.Minute))

	// Touch "a" so "b" becomes the eviction candidate
	_, err := c.Get(ctx, "a")
	require.NoError(t, err)

	require.NoError(t, c.Set(ctx, "c", []byte("3"), time.Minute))

	_, err = c.Get(ctx, "b")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = c.Get(ctx, "a")
	assert.NoError(t, err)
}

func TestLRU_NonPositiveCapacityClamped(t *testing.T) {
	ctx := context.Background()

	for _, capacity := range []int{0, -1} {
		c := NewLRU(capacity)

		// Inserting must complete and retain the entry; with the raw
		// capacity there would be nothing to evict to make room
		require.NoError(t, c.Set(ctx, "k1", []byte("v1"), time.Minute))

		got, err := c.Get(ctx, "k1")
		require.NoError(t, err)
		assert.Equal(t, []byte("v1"), got)
		assert.Equal(t, DefaultLRUCapacity, c.capacity)
	}
}

func TestLRU_Delete(t *testing.T) {
	c := NewLRU(10)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k1", []byte("v1"), time.Minute))
	require.NoError(t, c.Set(ctx, "k2", []byte("v2"), time.Minute))

	require.NoError(t, c.Delete(ctx, "k1", "nope"))

	_, err := c.Get(ctx, "k1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = c.Get(ctx, "k2")
	assert.NoError(t, err)
}

func TestLRU_DeleteNamespace(t *testing.T) {
	c := NewLRU(10)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "perm:p1", []byte("a"), time.Minute))
	require.NoError(t, c.Set(ctx, "perm:p2", []byte("b"), time.Minute))
	require.NoError(t, c.Set(ctx, "decision:x", []byte("c"), time.Minute))

	require.NoError(t, c.DeleteNamespace(ctx, "perm:"))

	_, err := c.Get(ctx, "perm:p1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = c.Get(ctx, "perm:p2")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = c.Get(ctx, "decision:x")
	assert.NoError(t, err)
}

func TestLRU_CanceledContext(t *testing.T) {
	c := NewLRU(10)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Get(ctx, "k1")
	assert.ErrorIs(t, err, context.Canceled)

	err = c.Set(ctx, "k1", []byte("v1"), time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLRU_ValueIsolation(t *testing.T) {
	c := NewLRU(10)
	ctx := context.Background()

	orig := []byte("value")
	require.NoError(t, c.Set(ctx, "k1", orig, time.Minute))
	orig[0] = 'X' // caller mutation must not leak into the cache

	got, err := c.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), got)

	got[0] = 'Y' // and neither must reader mutation
	again, err := c.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), again)
}

func TestLRU_Stats(t *testing.T) {
	c := NewLRU(10)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k1", []byte("v1"), time.Minute))
	_, _ = c.Get(ctx, "k1")
	_, _ = c.Get(ctx, "missing")

	stats := c.Stats()
	assert.Equal(t, 1, stats.Size)
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.InDelta(t, 0.5, stats.HitRate, 0.001)
}

func TestLRU_Cleanup(t *testing.T) {
	c := NewLRU(10)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "short", []byte("a"), time.Millisecond))
	require.NoError(t, c.Set(ctx, "long", []byte("b"), time.Minute))

	time.Sleep(10 * time.Millisecond)

	removed := c.Cleanup()
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, c.Stats().Size)
}
