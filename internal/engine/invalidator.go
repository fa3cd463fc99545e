package engine

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/authguard/go-core/internal/cache"
	"github.com/authguard/go-core/internal/rbac"
)

// CacheInvalidator drops cached permission sets and memoized decisions when
// the authoritative store mutates. Wired into the store so invalidation runs
// synchronously with the mutation.
type CacheInvalidator struct {
	cache  cache.Cache
	logger *zap.Logger
}

// NewCacheInvalidator creates an invalidator over the shared decision cache
func NewCacheInvalidator(c cache.Cache, logger *zap.Logger) *CacheInvalidator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheInvalidator{cache: c, logger: logger}
}

// InvalidatePrincipal drops the cached permission set for one principal.
// Memoized decisions go with it since they may embed the stale set.
func (ci *CacheInvalidator) InvalidatePrincipal(ctx context.Context, principalID uuid.UUID) error {
	if ci.cache == nil {
		return nil
	}
	if err := ci.cache.Delete(ctx, rbac.CacheKey(principalID)); err != nil {
		ci.logger.Warn("Permission cache invalidation failed",
			zap.String("principal", principalID.String()),
			zap.Error(err),
		)
		return err
	}
	return ci.InvalidateDecisions(ctx)
}

// InvalidatePermissions drops every cached permission set. Used when the set
// of principals affected by a mutation is not known.
func (ci *CacheInvalidator) InvalidatePermissions(ctx context.Context) error {
	if ci.cache == nil {
		return nil
	}
	if err := ci.cache.DeleteNamespace(ctx, rbac.KeyPrefix); err != nil {
		ci.logger.Warn("Permission namespace invalidation failed", zap.Error(err))
		return err
	}
	return ci.InvalidateDecisions(ctx)
}

// InvalidateDecisions drops all memoized decisions
func (ci *CacheInvalidator) InvalidateDecisions(ctx context.Context) error {
	if ci.cache == nil {
		return nil
	}
	if err := ci.cache.DeleteNamespace(ctx, DecisionKeyPrefix); err != nil {
		ci.logger.Warn("Decision namespace invalidation failed", zap.Error(err))
		return err
	}
	return nil
}
