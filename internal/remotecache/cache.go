// Package remotecache keeps per-key, staleness-tracked copies of upstream
// data (profile, businesses, roles). It is enrichment over the session
// store's identity, never a source of truth on its own; business data merged
// here is written back to the store so both copies reconcile.
package remotecache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hamoodtechit/hamoodsoft/internal/session"
)

// Cache entry keys. Each key carries its own staleness policy; invalidating
// one never touches the others.
const (
	KeyProfile    = "profile"
	KeyBusinesses = "businesses"
	KeyRoles      = "roles"
)

// Fetcher abstracts the upstream calls the cache may issue.
type Fetcher interface {
	Profile(ctx context.Context) (*session.User, error)
	Businesses(ctx context.Context) ([]session.Business, error)
	Roles(ctx context.Context) ([]session.Role, error)
}

// Sink is the slice of the session store the cache reconciles merged
// business data into.
type Sink interface {
	Businesses() []session.Business
	SetBusinesses(ctx context.Context, businesses []session.Business)
}

// Config sets per-key time-to-live values. Zero values default to 5 minutes.
type Config struct {
	ProfileTTL    time.Duration
	BusinessesTTL time.Duration
	RolesTTL      time.Duration
}

type entry struct {
	value     any
	fetchedAt time.Time
}

// Cache is the keyed server cache. Concurrent fetches for the same key are
// collapsed through singleflight; a failed fetch leaves the previous entry
// untouched.
type Cache struct {
	fetcher Fetcher
	sink    Sink
	logger  *slog.Logger
	ttls    map[string]time.Duration

	mu      sync.Mutex
	entries map[string]entry
	group   singleflight.Group
	now     func() time.Time
}

// New constructs a Cache. sink may be nil when store write-back is not
// wanted (tests).
func New(fetcher Fetcher, sink Sink, logger *slog.Logger, cfg Config) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	const defaultTTL = 5 * time.Minute
	ttl := func(d time.Duration) time.Duration {
		if d <= 0 {
			return defaultTTL
		}
		return d
	}
	return &Cache{
		fetcher: fetcher,
		sink:    sink,
		logger:  logger,
		ttls: map[string]time.Duration{
			KeyProfile:    ttl(cfg.ProfileTTL),
			KeyBusinesses: ttl(cfg.BusinessesTTL),
			KeyRoles:      ttl(cfg.RolesTTL),
		},
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// Profile returns the cached user profile, fetching when stale.
func (c *Cache) Profile(ctx context.Context) (*session.User, error) {
	v, err := c.get(ctx, KeyProfile, false, func(ctx context.Context) (any, error) {
		return c.fetcher.Profile(ctx)
	})
	user, _ := v.(*session.User)
	return session.CloneUser(user), err
}

// Businesses returns the cached business list, fetching and merging when
// stale. A fresh fetch is merged against the previously known set with the
// non-empty-modules-wins rule before it replaces anything.
func (c *Cache) Businesses(ctx context.Context) ([]session.Business, error) {
	return c.businesses(ctx, false)
}

// ForceBusinesses re-fetches the business list regardless of freshness.
func (c *Cache) ForceBusinesses(ctx context.Context) ([]session.Business, error) {
	return c.businesses(ctx, true)
}

func (c *Cache) businesses(ctx context.Context, force bool) ([]session.Business, error) {
	v, err := c.get(ctx, KeyBusinesses, force, func(ctx context.Context) (any, error) {
		fresh, err := c.fetcher.Businesses(ctx)
		if err != nil {
			return nil, err
		}
		merged := MergeBusinesses(c.knownBusinesses(), fresh)
		if c.sink != nil {
			c.sink.SetBusinesses(ctx, merged)
		}
		return merged, nil
	})
	list, _ := v.([]session.Business)
	return session.CloneBusinesses(list), err
}

// Roles returns the cached role catalog, fetching when stale.
func (c *Cache) Roles(ctx context.Context) ([]session.Role, error) {
	v, err := c.get(ctx, KeyRoles, false, func(ctx context.Context) (any, error) {
		return c.fetcher.Roles(ctx)
	})
	roles, _ := v.([]session.Role)
	return roles, err
}

// ForceRoles re-fetches the role catalog regardless of freshness.
func (c *Cache) ForceRoles(ctx context.Context) ([]session.Role, error) {
	v, err := c.get(ctx, KeyRoles, true, func(ctx context.Context) (any, error) {
		return c.fetcher.Roles(ctx)
	})
	roles, _ := v.([]session.Role)
	return roles, err
}

// PeekRoles returns the cached role catalog without fetching. The second
// result reports whether the catalog has loaded at all; permission checks
// deny everything until it has.
func (c *Cache) PeekRoles() ([]session.Role, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[KeyRoles]
	if !ok {
		return nil, false
	}
	roles, _ := e.value.([]session.Role)
	return roles, true
}

// PeekProfile returns the cached profile without fetching.
func (c *Cache) PeekProfile() (*session.User, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[KeyProfile]
	if !ok {
		return nil, false
	}
	user, _ := e.value.(*session.User)
	return session.CloneUser(user), user != nil
}

// PeekBusinesses returns the cached business list without fetching.
func (c *Cache) PeekBusinesses() ([]session.Business, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[KeyBusinesses]
	if !ok {
		return nil, false
	}
	list, _ := e.value.([]session.Business)
	return session.CloneBusinesses(list), true
}

// SeedBusinesses primes the businesses key from the session store's
// persisted copy so tenant names and modules are available right after a
// restart, before any network round-trip. An already populated entry is
// left alone.
func (c *Cache) SeedBusinesses(list []session.Business) {
	if len(list) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[KeyBusinesses]; ok {
		return
	}
	c.entries[KeyBusinesses] = entry{value: session.CloneBusinesses(list), fetchedAt: c.now()}
}

// StoreProfile caches a profile obtained out of band (login response).
func (c *Cache) StoreProfile(user *session.User) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[KeyProfile] = entry{value: session.CloneUser(user), fetchedAt: c.now()}
}

// AdoptBusiness merges a single business into the cached set and writes the
// result back to the session store.
func (c *Cache) AdoptBusiness(ctx context.Context, b session.Business) []session.Business {
	merged := UpsertBusiness(c.knownBusinesses(), b)
	c.mu.Lock()
	c.entries[KeyBusinesses] = entry{value: merged, fetchedAt: c.now()}
	c.mu.Unlock()
	if c.sink != nil {
		c.sink.SetBusinesses(ctx, merged)
	}
	return session.CloneBusinesses(merged)
}

// Invalidate drops one key. Other keys are unaffected.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Reset drops every key. Used on logout.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry)
}

// knownBusinesses prefers the cached entry and falls back to the session
// store's copy, so a merge never loses module data held by either side.
func (c *Cache) knownBusinesses() []session.Business {
	c.mu.Lock()
	e, ok := c.entries[KeyBusinesses]
	c.mu.Unlock()
	if ok {
		if list, _ := e.value.([]session.Business); len(list) > 0 {
			return list
		}
	}
	if c.sink != nil {
		return c.sink.Businesses()
	}
	return nil
}

// get returns the fresh cached value or fetches a new one, collapsing
// concurrent fetches per key. On fetch failure the previous value is
// returned alongside the error: stale-but-present beats empty.
func (c *Cache) get(ctx context.Context, key string, force bool, fetch func(context.Context) (any, error)) (any, error) {
	c.mu.Lock()
	prev, ok := c.entries[key]
	if ok && !force && c.now().Sub(prev.fetchedAt) < c.ttls[key] {
		c.mu.Unlock()
		return prev.value, nil
	}
	c.mu.Unlock()

	resultCh := c.group.DoChan(key, func() (any, error) {
		return fetch(ctx)
	})
	select {
	case <-ctx.Done():
		return prev.value, ctx.Err()
	case res := <-resultCh:
		if res.Err != nil {
			return prev.value, res.Err
		}
		c.mu.Lock()
		c.entries[key] = entry{value: res.Val, fetchedAt: c.now()}
		c.mu.Unlock()
		return res.Val, nil
	}
}
