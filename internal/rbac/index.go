// Package rbac resolves a principal's effective permission set, cache-first
package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/authguard/go-core/internal/cache"
	"github.com/authguard/go-core/pkg/types"
)

// KeyPrefix is the decision-cache namespace for permission sets
const KeyPrefix = "perm:"

// CacheKey builds the cache key for a principal's permission set
func CacheKey(principalID uuid.UUID) string {
	return KeyPrefix + principalID.String()
}

// Source is the authoritative-store subset the index reads from
type Source interface {
	LoadRoles(ctx context.Context, principalID uuid.UUID) ([]uuid.UUID, error)
	LoadPermissions(ctx context.Context, roleIDs []uuid.UUID) ([]types.Permission, error)
}

// Config configures the permission index
type Config struct {
	// TTL bounds how long a cached permission set may serve decisions
	// without a fresh authoritative read.
	TTL time.Duration
}

// DefaultConfig returns the default index configuration
func DefaultConfig() Config {
	return Config{TTL: 15 * time.Minute}
}

// Index resolves effective permissions for principals. Reads are cache-first
// with write-through; a cache failure degrades to a direct store read and is
// never surfaced to the decision path.
type Index struct {
	source Source
	cache  cache.Cache
	ttl    time.Duration
	logger *zap.Logger
}

// NewIndex creates a permission index. cache may be nil to disable caching.
func NewIndex(source Source, c cache.Cache, cfg Config, logger *zap.Logger) *Index {
	if logger == nil {
		logger = zap.NewNop()
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultConfig().TTL
	}
	return &Index{
		source: source,
		cache:  c,
		ttl:    ttl,
		logger: logger,
	}
}

// GetEffectivePermissions returns the union of the permission sets of all
// roles the principal holds. A principal with no roles yields an empty set;
// an unknown principal yields the store's ErrPrincipalNotFound.
func (i *Index) GetEffectivePermissions(ctx context.Context, principalID uuid.UUID) ([]types.Permission, error) {
	key := CacheKey(principalID)

	if i.cache != nil {
		data, err := i.cache.Get(ctx, key)
		switch {
		case err == nil:
			var perms []types.Permission
			if uerr := json.Unmarshal(data, &perms); uerr == nil {
				return perms, nil
			}
			// Undecodable entry: drop it and fall through to the store
			_ = i.cache.Delete(ctx, key)
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil, err
		case errors.Is(err, cache.ErrNotFound):
			// miss
		default:
			i.logger.Debug("Permission cache unavailable, reading store directly",
				zap.String("principal", principalID.String()),
				zap.Error(err),
			)
		}
	}

	roleIDs, err := i.source.LoadRoles(ctx, principalID)
	if err != nil {
		return nil, err
	}

	perms, err := i.source.LoadPermissions(ctx, roleIDs)
	if err != nil {
		return nil, err
	}
	if perms == nil {
		perms = []types.Permission{}
	}

	// Write through, but never after cancellation: a canceled request must
	// not commit a potentially partial read.
	if i.cache != nil && ctx.Err() == nil {
		if data, merr := json.Marshal(perms); merr == nil {
			if serr := i.cache.Set(ctx, key, data, i.ttl); serr != nil {
				i.logger.Debug("Permission cache write failed",
					zap.String("principal", principalID.String()),
					zap.Error(serr),
				)
			}
		}
	}

	return perms, nil
}

// Invalidate drops the cached permission set for one principal
func (i *Index) Invalidate(ctx context.Context, principalID uuid.UUID) error {
	if i.cache == nil {
		return nil
	}
	return i.cache.Delete(ctx, CacheKey(principalID))
}

// InvalidateAll drops every cached permission set
func (i *Index) InvalidateAll(ctx context.Context) error {
	if i.cache == nil {
		return nil
	}
	return i.cache.DeleteNamespace(ctx, KeyPrefix)
}
