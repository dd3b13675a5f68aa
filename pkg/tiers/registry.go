package tiers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// Store is the read-only lookup the registry caches over
type Store interface {
	// GetTierLimit returns the limit row for a tier, or (nil, nil) when
	// no row exists for it.
	GetTierLimit(ctx context.Context, tier Tier) (*Limit, error)
	// ListTierLimits returns all configured limit rows.
	ListTierLimits(ctx context.Context) ([]*Limit, error)
}

// Registry is a read-through cache over the tier_limits configuration
// table. Cached entries expire after the configured TTL, which bounds how
// long a tier-limit edit takes to propagate. When the store is unavailable
// the registry serves the last value it successfully read for the tier, so
// a transient outage does not reject otherwise-valid requests.
type Registry struct {
	store Store
	cache *expirable.LRU[Tier, *Limit]
	group singleflight.Group

	// last successful read per tier, served when the store is down
	mu    sync.RWMutex
	stale map[Tier]*Limit
}

const registryCacheSize = 64

// NewRegistry creates a registry caching store reads for ttl
func NewRegistry(store Store, ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Registry{
		store: store,
		cache: expirable.NewLRU[Tier, *Limit](registryCacheSize, nil, ttl),
		stale: make(map[Tier]*Limit),
	}
}

// LimitFor resolves the limit for a tier.
//
// Misses are deduplicated so concurrent requests for the same tier issue a
// single store read. A tier with no configured row yields *ConfigError; a
// store failure with no previously cached value yields the wrapped store
// error. Readers never block on a refresh already holding a cached value.
func (r *Registry) LimitFor(ctx context.Context, tier Tier) (*Limit, error) {
	if !tier.Valid() {
		return nil, &ConfigError{Tier: tier}
	}

	if limit, ok := r.cache.Get(tier); ok {
		return limit, nil
	}

	v, err, _ := r.group.Do(string(tier), func() (interface{}, error) {
		limit, err := r.store.GetTierLimit(ctx, tier)
		if err != nil {
			if last := r.lastKnown(tier); last != nil {
				return last, nil
			}
			return nil, fmt.Errorf("tier limit lookup failed: %w", err)
		}
		if limit == nil {
			return nil, &ConfigError{Tier: tier}
		}
		r.cache.Add(tier, limit)
		r.remember(tier, limit)
		return limit, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Limit), nil
}

// Refresh loads all limit rows into the cache. Used at startup so the
// first requests do not each pay a store round trip, and by the readiness
// probe to verify the configuration table is reachable and non-empty.
func (r *Registry) Refresh(ctx context.Context) error {
	limits, err := r.store.ListTierLimits(ctx)
	if err != nil {
		return fmt.Errorf("tier limit refresh failed: %w", err)
	}
	for _, limit := range limits {
		r.cache.Add(limit.Tier, limit)
		r.remember(limit.Tier, limit)
	}
	return nil
}

// Loaded reports whether at least one limit row has been read successfully
func (r *Registry) Loaded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.stale) > 0
}

// StartRefresh refreshes the full table on an interval until ctx is done.
// Failures are tolerated; the cache keeps serving the previous snapshot.
func (r *Registry) StartRefresh(ctx context.Context, interval time.Duration, onError func(error)) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := r.Refresh(ctx); err != nil && onError != nil {
					onError(err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (r *Registry) remember(tier Tier, limit *Limit) {
	r.mu.Lock()
	r.stale[tier] = limit
	r.mu.Unlock()
}

func (r *Registry) lastKnown(tier Tier) *Limit {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stale[tier]
}
