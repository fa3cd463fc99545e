// Package policy provides policy resolution, loading, and hot reload
package policy

import (
	"context"
	"sort"

	"github.com/authguard/go-core/pkg/types"
)

// Source supplies the active policy set. The authoritative store implements
// this; tests substitute fixtures.
type Source interface {
	LoadActivePolicies(ctx context.Context) ([]types.Policy, error)
}

// Resolver selects and orders the candidate policies for a
// (resource, action) pair.
type Resolver struct {
	source Source
}

// NewResolver creates a resolver over a policy source
func NewResolver(source Source) *Resolver {
	return &Resolver{source: source}
}

// ResolveApplicable returns the active policies whose resource and action
// patterns match the request, ordered by descending priority with ties
// broken by ascending creation time, then name, so evaluation order is a
// total order. An empty result is not an error.
func (r *Resolver) ResolveApplicable(ctx context.Context, resource, action string) ([]types.Policy, error) {
	policies, err := r.source.LoadActivePolicies(ctx)
	if err != nil {
		return nil, err
	}

	applicable := make([]types.Policy, 0, len(policies))
	for _, p := range policies {
		if !p.Active {
			continue
		}
		if p.Matches(resource, action) {
			applicable = append(applicable, p)
		}
	}

	sort.SliceStable(applicable, func(i, j int) bool {
		a, b := applicable[i], applicable[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.Name < b.Name
	})

	return applicable, nil
}
