// Package engine implements the authorization decision pipeline
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/authguard/go-core/internal/cache"
	"github.com/authguard/go-core/internal/condition"
	"github.com/authguard/go-core/internal/metrics"
	"github.com/authguard/go-core/internal/policy"
	"github.com/authguard/go-core/internal/rbac"
	"github.com/authguard/go-core/internal/store"
	"github.com/authguard/go-core/pkg/types"
)

// DecisionKeyPrefix is the cache namespace for memoized full decisions
const DecisionKeyPrefix = "decision:"

var (
	// ErrInvalidRequest marks a request missing a principal, resource or action
	ErrInvalidRequest = errors.New("invalid decision request")
	// ErrPrincipalNotFound marks a decision denied because the principal does
	// not exist in the authoritative store. Not retryable.
	ErrPrincipalNotFound = errors.New("principal not found")
	// ErrStoreUnavailable marks a decision denied because the authoritative
	// store could not be read. Retryable.
	ErrStoreUnavailable = errors.New("authoritative store unavailable")
)

// Retryable reports whether retrying the same request may yield a
// non-fail-closed outcome.
func Retryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}

// Config configures the decision engine
type Config struct {
	// MemoizeDecisions enables caching of full decisions keyed by the
	// request fingerprint. Invalidation on any mutation is coarse, so the
	// TTL should stay short.
	MemoizeDecisions bool
	// MemoizeTTL is the time-to-live for memoized decisions
	MemoizeTTL time.Duration
}

// DefaultConfig returns a default engine configuration
func DefaultConfig() Config {
	return Config{
		MemoizeDecisions: false,
		MemoizeTTL:       time.Minute,
	}
}

// Engine combines RBAC permission matching with priority-ordered policy
// evaluation into a single deterministic allow/deny decision. Any error path
// yields a deny; nothing can fail open.
type Engine struct {
	index     *rbac.Index
	resolver  *policy.Resolver
	evaluator *condition.Evaluator
	cache     cache.Cache
	metrics   *metrics.PrometheusMetrics
	logger    *zap.Logger
	config    Config
}

// New creates a decision engine. cache may be nil (disables decision
// memoization); m may be nil (disables instrumentation).
func New(cfg Config, index *rbac.Index, resolver *policy.Resolver, c cache.Cache, m *metrics.PrometheusMetrics, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MemoizeTTL <= 0 {
		cfg.MemoizeTTL = DefaultConfig().MemoizeTTL
	}
	return &Engine{
		index:     index,
		resolver:  resolver,
		evaluator: condition.NewEvaluator(),
		cache:     c,
		metrics:   m,
		logger:    logger,
		config:    cfg,
	}
}

// Decide evaluates a single authorization request. It always returns a usable
// Decision; a non-nil error reports why resolution degraded (unknown
// principal, unreachable store) and the paired Decision is the fail-closed
// deny for that condition. Use Retryable to distinguish transient failures.
func (e *Engine) Decide(ctx context.Context, req *types.DecisionRequest) (types.Decision, error) {
	start := time.Now()
	if e.metrics != nil {
		e.metrics.IncActiveRequests()
		defer e.metrics.DecActiveRequests()
	}

	if req == nil || req.PrincipalID == uuid.Nil || req.Resource == "" || req.Action == "" {
		return types.Deny(types.ReasonNoMatch), ErrInvalidRequest
	}

	if d, ok := e.memoized(ctx, req); ok {
		e.observe(d, start)
		return d, nil
	}

	d, err := e.decide(ctx, req)
	if err == nil {
		e.memoize(ctx, req, d)
	}
	e.observe(d, start)
	return d, err
}

func (e *Engine) decide(ctx context.Context, req *types.DecisionRequest) (types.Decision, error) {
	perms, err := e.index.GetEffectivePermissions(ctx, req.PrincipalID)
	if err != nil {
		return e.failClosed(req, err)
	}

	key := types.PermissionKey(req.Resource, req.Action)
	for _, p := range perms {
		if p.Key() == key {
			return types.Decision{Allowed: true, Reason: types.ReasonRBACMatch, Source: p.ID}, nil
		}
	}

	policies, err := e.resolver.ResolveApplicable(ctx, req.Resource, req.Action)
	if err != nil {
		return e.failClosed(req, err)
	}

	for _, pol := range policies {
		matched, err := e.evaluator.Evaluate(pol.Condition, req.Context)
		if err != nil {
			// A single bad policy must never block the pipeline
			e.logger.Warn("Skipping policy with malformed condition",
				zap.String("policy", pol.Name),
				zap.String("id", pol.ID.String()),
				zap.Error(err),
			)
			if e.metrics != nil {
				e.metrics.RecordPolicySkipped()
			}
			continue
		}
		if !matched {
			continue
		}
		if pol.Effect == types.EffectDeny {
			return types.Decision{Allowed: false, Reason: types.ReasonPolicyDeny, Source: pol.ID}, nil
		}
		return types.Decision{Allowed: true, Reason: types.ReasonPolicyAllow, Source: pol.ID}, nil
	}

	return types.Deny(types.ReasonNoMatch), nil
}

// failClosed maps a store failure to its deny decision and typed error
func (e *Engine) failClosed(req *types.DecisionRequest, err error) (types.Decision, error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return types.Deny(types.ReasonStoreUnavailable), fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if errors.Is(err, store.ErrPrincipalNotFound) {
		if e.metrics != nil {
			e.metrics.RecordError("principal_not_found")
		}
		return types.Deny(types.ReasonPrincipalNotFound),
			fmt.Errorf("%w: %s", ErrPrincipalNotFound, req.PrincipalID)
	}
	if e.metrics != nil {
		e.metrics.RecordError("store_unavailable")
	}
	e.logger.Error("Authoritative store read failed, denying",
		zap.String("principal", req.PrincipalID.String()),
		zap.String("resource", req.Resource),
		zap.String("action", req.Action),
		zap.Error(err),
	)
	return types.Deny(types.ReasonStoreUnavailable), fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

func (e *Engine) memoized(ctx context.Context, req *types.DecisionRequest) (types.Decision, bool) {
	if !e.config.MemoizeDecisions || e.cache == nil {
		return types.Decision{}, false
	}
	data, err := e.cache.Get(ctx, DecisionKeyPrefix+req.Fingerprint())
	if err != nil {
		if e.metrics != nil && errors.Is(err, cache.ErrNotFound) {
			e.metrics.RecordCacheMiss("decision")
		}
		return types.Decision{}, false
	}
	var d types.Decision
	if json.Unmarshal(data, &d) != nil {
		return types.Decision{}, false
	}
	if e.metrics != nil {
		e.metrics.RecordCacheHit("decision")
	}
	return d, true
}

func (e *Engine) memoize(ctx context.Context, req *types.DecisionRequest, d types.Decision) {
	if !e.config.MemoizeDecisions || e.cache == nil || ctx.Err() != nil {
		return
	}
	data, err := json.Marshal(d)
	if err != nil {
		return
	}
	if err := e.cache.Set(ctx, DecisionKeyPrefix+req.Fingerprint(), data, e.config.MemoizeTTL); err != nil {
		e.logger.Debug("Decision memoization write failed", zap.Error(err))
	}
}

func (e *Engine) observe(d types.Decision, start time.Time) {
	if e.metrics == nil {
		return
	}
	e.metrics.RecordDecision(d.Allowed, string(d.Reason), time.Since(start))
}
