// Package tenant orchestrates switching the active business: it issues the
// update, decides which value is authoritative when the server's echo and
// the client's intent disagree, and reconciles the session store and server
// cache afterward.
package tenant

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/hamoodtechit/hamoodsoft/internal/audit"
	"github.com/hamoodtechit/hamoodsoft/internal/platform/httpx"
	"github.com/hamoodtechit/hamoodsoft/internal/remotecache"
	"github.com/hamoodtechit/hamoodsoft/internal/session"
	"github.com/hamoodtechit/hamoodsoft/internal/upstream"
)

// ErrPrecondition indicates no resolved user ID was available for the
// switch. The caller should refresh the profile and retry. It wraps the
// transport sentinel so handlers respond through httpx.RespondError.
var ErrPrecondition = fmt.Errorf("tenant: user not resolved, refresh and retry: %w", httpx.ErrPrecondition)

// Updater is the slice of the upstream client the coordinator needs.
type Updater interface {
	UpdateUser(ctx context.Context, id string, patch upstream.UserPatch) (*session.User, error)
	BusinessByID(ctx context.Context, id string) (*session.Business, error)
}

// Coordinator performs tenant switches. Re-invoking Switch while one is in
// flight is allowed; there is no queueing or cancellation. A monotonic
// generation counter keeps a stale in-flight response from overwriting the
// state a newer switch already committed.
type Coordinator struct {
	store  *session.Store
	cache  *remotecache.Cache
	client Updater
	audit  *audit.Logger
	logger *slog.Logger

	gen      atomic.Uint64
	commitMu sync.Mutex
	onSwitch func()
	pending  sync.WaitGroup
}

// NewCoordinator constructs a Coordinator. auditLog may be nil.
func NewCoordinator(store *session.Store, cache *remotecache.Cache, client Updater, auditLog *audit.Logger, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{store: store, cache: cache, client: client, audit: auditLog, logger: logger}
}

// OnSwitch registers a hook invoked after each committed switch. The wiring
// layer uses it to feed the tenant switch counter.
func (c *Coordinator) OnSwitch(fn func()) {
	c.onSwitch = fn
}

// Switch changes the active business to businessID and returns the merged
// user as committed to the store.
//
// The ID the coordinator sent is authoritative for CurrentBusinessID no
// matter what the server echoes back: the upstream may lag or omit the
// field, and trusting our own request avoids flickering back to the old
// tenant. Enrichment of the business set happens in the background and can
// neither block nor fail the switch.
func (c *Coordinator) Switch(ctx context.Context, businessID string) (*session.User, error) {
	current := c.resolveUser()
	if current == nil || current.ID == "" {
		return nil, ErrPrecondition
	}
	previousID := current.CurrentBusinessID

	gen := c.gen.Add(1)

	echoed, err := c.client.UpdateUser(ctx, current.ID, upstream.UserPatch{CurrentBusinessID: &businessID})
	if err != nil {
		return nil, fmt.Errorf("tenant: switch to %s: %w", businessID, err)
	}

	merged := mergeUser(current, echoed)
	merged.CurrentBusinessID = businessID

	if !c.commit(ctx, gen, merged) {
		// A newer switch started while this one was on the wire; its
		// write wins and this result is discarded.
		c.logger.Info("tenant: switch superseded", slog.String("business_id", businessID))
		return merged, nil
	}
	if c.onSwitch != nil {
		c.onSwitch()
	}

	if err := c.audit.Record(ctx, audit.Entry{
		ActorID:  merged.ID,
		Action:   "business.switched",
		Entity:   "business",
		EntityID: businessID,
		Meta:     map[string]any{"from": previousID},
	}); err != nil {
		c.logger.Warn("tenant: audit record", slog.Any("error", err))
	}

	c.pending.Add(1)
	go func() {
		defer c.pending.Done()
		c.enrich(context.WithoutCancel(ctx), businessID)
	}()

	return merged, nil
}

// commit writes the switch result unless a newer switch has started. The
// generation re-check and the writes share one mutex: a response that
// passed a bare check could otherwise be preempted and land after a newer
// switch already committed.
func (c *Coordinator) commit(ctx context.Context, gen uint64, user *session.User) bool {
	c.commitMu.Lock()
	defer c.commitMu.Unlock()
	if c.gen.Load() != gen {
		return false
	}
	c.store.SetUser(ctx, user)
	c.cache.StoreProfile(user)
	return true
}

// AdoptFirstBusiness makes a freshly created business the active one when
// the user has none yet. The store is updated immediately; the upstream
// PATCH runs best-effort and its echo is merged back without being allowed
// to clear the business pointer we just set.
func (c *Coordinator) AdoptFirstBusiness(ctx context.Context, created session.Business) {
	current := c.resolveUser()
	if current == nil || current.ID == "" || current.CurrentBusinessID != "" {
		return
	}
	adopted := session.CloneUser(current)
	adopted.CurrentBusinessID = created.ID
	c.store.SetUser(ctx, adopted)
	c.cache.StoreProfile(adopted)
	c.cache.AdoptBusiness(ctx, created)

	if echoed, err := c.client.UpdateUser(ctx, adopted.ID, upstream.UserPatch{CurrentBusinessID: &created.ID}); err != nil {
		c.logger.Warn("tenant: persist first business", slog.Any("error", err))
	} else {
		merged := mergeUser(adopted, echoed)
		merged.CurrentBusinessID = created.ID
		c.store.SetUser(ctx, merged)
		c.cache.StoreProfile(merged)
	}
}

// Wait blocks until background enrichment has settled. Used by tests and by
// graceful shutdown.
func (c *Coordinator) Wait() {
	c.pending.Wait()
}

// enrich refreshes the switched-to business's details and merges them into
// the known set. On failure it falls back to re-fetching the whole list;
// if that fails too the stale set is kept and only a warning is logged,
// since the switch itself already succeeded.
func (c *Coordinator) enrich(ctx context.Context, businessID string) {
	biz, err := c.client.BusinessByID(ctx, businessID)
	if err == nil && biz != nil {
		c.cache.AdoptBusiness(ctx, *biz)
		return
	}
	c.logger.Warn("tenant: fetch business after switch", slog.String("business_id", businessID), slog.Any("error", err))

	if _, err := c.cache.ForceBusinesses(ctx); err != nil {
		c.logger.Warn("tenant: refetch businesses after switch", slog.Any("error", err))
	}
}

// resolveUser prefers the server cache's profile and falls back to the
// session store.
func (c *Coordinator) resolveUser() *session.User {
	if user, ok := c.cache.PeekProfile(); ok && user != nil && user.ID != "" {
		return user
	}
	return c.store.CurrentUser()
}

// mergeUser overlays the non-empty fields of fresh onto existing; the server
// response is a field-level merge, never a replacement.
func mergeUser(existing, fresh *session.User) *session.User {
	merged := session.CloneUser(existing)
	if merged == nil {
		merged = &session.User{}
	}
	if fresh == nil {
		return merged
	}
	if fresh.ID != "" {
		merged.ID = fresh.ID
	}
	if fresh.Email != "" {
		merged.Email = fresh.Email
	}
	if fresh.Name != "" {
		merged.Name = fresh.Name
	}
	if fresh.Avatar != "" {
		merged.Avatar = fresh.Avatar
	}
	if fresh.RoleID != "" {
		merged.RoleID = fresh.RoleID
	}
	if fresh.CurrentBusinessID != "" {
		merged.CurrentBusinessID = fresh.CurrentBusinessID
	}
	return merged
}
