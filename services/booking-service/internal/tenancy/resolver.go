package tenancy

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type cacheEntry struct {
	handle  Handle
	expires time.Time
}

// Resolver maps tenant identifiers to handles, caching successful lookups
// for ttl. Misses are never cached so a freshly provisioned tenant is
// visible on the next request.
type Resolver struct {
	registry Registry
	ttl      time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

func NewResolver(registry Registry, ttl time.Duration, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		registry: registry,
		ttl:      ttl,
		logger:   logger,
		now:      time.Now,
		cache:    map[string]cacheEntry{},
	}
}

// Resolve returns the handle for identifier, or model.ErrTenantNotFound when
// the tenant is unknown, inactive or tombstoned.
func (r *Resolver) Resolve(ctx context.Context, identifier string) (Handle, error) {
	slug, err := NormalizeSlug(identifier)
	if err != nil {
		return Handle{}, err
	}

	if h, ok := r.cached(slug); ok {
		return h, nil
	}

	rec, err := r.registry.LookupTenant(ctx, slug)
	if err != nil {
		return Handle{}, err
	}
	h, err := handleFromRecord(rec)
	if err != nil {
		r.logger.Debug("tenant rejected", "tenant", slug, "err", err)
		return Handle{}, err
	}

	if r.ttl > 0 {
		r.mu.Lock()
		r.cache[slug] = cacheEntry{handle: h, expires: r.now().Add(r.ttl)}
		r.mu.Unlock()
	}
	return h, nil
}

// Invalidate drops a cached handle, e.g. right after a tombstone.
func (r *Resolver) Invalidate(identifier string) {
	slug, err := NormalizeSlug(identifier)
	if err != nil {
		return
	}
	r.mu.Lock()
	delete(r.cache, slug)
	r.mu.Unlock()
}

func (r *Resolver) cached(slug string) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.cache[slug]
	if !ok || !r.now().Before(e.expires) {
		return Handle{}, false
	}
	return e.handle, true
}
