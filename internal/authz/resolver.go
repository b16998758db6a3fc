// Package authz derives the active role and flattened permission set for the
// current user/business pair and answers boolean gating questions over it.
// Every predicate fails closed: unresolved or still-loading data denies.
package authz

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hamoodtechit/hamoodsoft/internal/audit"
	"github.com/hamoodtechit/hamoodsoft/internal/session"
)

// OwnerRoleName is the conventional role assigned to a business owner whose
// user record carries no explicit role ID.
const OwnerRoleName = "Owner"

// Resolver answers permission and module-access questions for the current
// session. Implementations must never block on the network: predicates are
// called on every gating decision.
type Resolver interface {
	HasPermission(ctx context.Context, permission string) bool
	HasAnyPermission(ctx context.Context, permissions []string) bool
	HasAllPermissions(ctx context.Context, permissions []string) bool
	HasModuleAccess(ctx context.Context, module string) bool
	Role(ctx context.Context) (*session.Role, bool)
	Permissions(ctx context.Context) []string
}

// RoleSource is the slice of the server cache the resolver reads. The bool
// reports whether the catalog has loaded yet.
type RoleSource interface {
	PeekRoles() ([]session.Role, bool)
}

// Recorder is the audit sink denials are reported to.
type Recorder interface {
	Record(ctx context.Context, e audit.Entry) error
}

// SessionResolver is the canonical Resolver. It recomputes on every call
// from the session store and the cached role catalog; staleness is bounded
// by the staleness of those inputs, there is no cache of its own.
type SessionResolver struct {
	store   *session.Store
	roles   RoleSource
	audit   Recorder
	logger  *slog.Logger
	pending sync.WaitGroup
}

// NewSessionResolver constructs a SessionResolver. auditLog may be nil.
func NewSessionResolver(store *session.Store, roles RoleSource, auditLog Recorder, logger *slog.Logger) *SessionResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionResolver{store: store, roles: roles, audit: auditLog, logger: logger}
}

// Role resolves the active role: by the user's RoleID first, then the Owner
// fallback when the user owns the active business. The bool is false while
// the catalog has not loaded or nothing resolves.
func (r *SessionResolver) Role(ctx context.Context) (*session.Role, bool) {
	snap := r.store.Snapshot()
	if snap.User == nil {
		return nil, false
	}
	catalog, loaded := r.roles.PeekRoles()
	if !loaded {
		return nil, false
	}

	if snap.User.RoleID != "" {
		for i := range catalog {
			if catalog[i].ID == snap.User.RoleID {
				return cloneRole(&catalog[i]), true
			}
		}
	}

	// Ownership fallback: the active business's designated owner maps to
	// the conventional Owner role.
	if biz, ok := activeBusiness(snap); ok && biz.OwnerID != "" && biz.OwnerID == snap.User.ID {
		for i := range catalog {
			if catalog[i].Name == OwnerRoleName {
				return cloneRole(&catalog[i]), true
			}
		}
	}
	return nil, false
}

// Permissions returns the flattened permission set of the resolved role, or
// an empty set when nothing resolves.
func (r *SessionResolver) Permissions(ctx context.Context) []string {
	role, ok := r.Role(ctx)
	if !ok || role == nil {
		return nil
	}
	return role.Permissions
}

// HasPermission reports membership of permission in the resolved set.
// Denials are logged for audit with the user, permission, and resource.
func (r *SessionResolver) HasPermission(ctx context.Context, permission string) bool {
	perms := r.Permissions(ctx)
	for _, p := range perms {
		if p == permission {
			return true
		}
	}
	r.logDenial(ctx, permission, "")
	return false
}

// HasAnyPermission reports whether at least one of permissions is granted.
// An empty input has nothing to satisfy affirmatively and returns false.
func (r *SessionResolver) HasAnyPermission(ctx context.Context, permissions []string) bool {
	if len(permissions) == 0 {
		return false
	}
	granted := toSet(r.Permissions(ctx))
	for _, p := range permissions {
		if _, ok := granted[p]; ok {
			return true
		}
	}
	r.logDenial(ctx, strings.Join(permissions, ","), "")
	return false
}

// HasAllPermissions reports whether every permission is granted. An empty
// input returns false.
func (r *SessionResolver) HasAllPermissions(ctx context.Context, permissions []string) bool {
	if len(permissions) == 0 {
		return false
	}
	granted := toSet(r.Permissions(ctx))
	for _, p := range permissions {
		if _, ok := granted[p]; !ok {
			r.logDenial(ctx, p, "")
			return false
		}
	}
	return true
}

// HasModuleAccess gates a feature area. The active business's module list is
// checked first and short-circuits; otherwise any granted permission whose
// resource prefix matches the module opens it. Module gating layers on top
// of user permissions, it does not replace them.
func (r *SessionResolver) HasModuleAccess(ctx context.Context, module string) bool {
	snap := r.store.Snapshot()
	if biz, ok := activeBusiness(snap); ok {
		for _, m := range biz.Modules {
			if m == module {
				return true
			}
		}
	}
	prefix := module + ":"
	for _, p := range r.Permissions(ctx) {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	r.logDenial(ctx, "", module)
	return false
}

// Wait blocks until in-flight denial records have been written. Used by
// tests and graceful shutdown.
func (r *SessionResolver) Wait() {
	r.pending.Wait()
}

// logDenial records the denial off the request path: predicates gate every
// request and must not wait on Postgres.
func (r *SessionResolver) logDenial(ctx context.Context, permission, resource string) {
	snap := r.store.Snapshot()
	userID := ""
	if snap.User != nil {
		userID = snap.User.ID
	}
	r.logger.Warn("authz: denied",
		slog.String("user_id", userID),
		slog.String("permission", permission),
		slog.String("resource", resource),
	)
	if r.audit == nil {
		return
	}
	entry := audit.Entry{
		ActorID:  userID,
		Action:   "permission.denied",
		Entity:   "permission",
		EntityID: permission,
		Meta:     map[string]any{"resource": resource},
	}
	bg := context.WithoutCancel(ctx)
	r.pending.Add(1)
	go func() {
		defer r.pending.Done()
		recordCtx, cancel := context.WithTimeout(bg, 5*time.Second)
		defer cancel()
		if err := r.audit.Record(recordCtx, entry); err != nil {
			r.logger.Warn("authz: audit record", slog.Any("error", err))
		}
	}()
}

func activeBusiness(snap session.Snapshot) (session.Business, bool) {
	if snap.User == nil || snap.User.CurrentBusinessID == "" {
		return session.Business{}, false
	}
	for _, b := range snap.Businesses {
		if b.ID == snap.User.CurrentBusinessID {
			return b, true
		}
	}
	return session.Business{}, false
}

func toSet(perms []string) map[string]struct{} {
	set := make(map[string]struct{}, len(perms))
	for _, p := range perms {
		set[p] = struct{}{}
	}
	return set
}

func cloneRole(r *session.Role) *session.Role {
	c := *r
	c.Permissions = append([]string(nil), r.Permissions...)
	return &c
}

var _ Resolver = (*SessionResolver)(nil)
