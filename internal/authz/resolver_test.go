package authz_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hamoodtechit/hamoodsoft/internal/audit"
	"github.com/hamoodtechit/hamoodsoft/internal/authz"
	"github.com/hamoodtechit/hamoodsoft/internal/session"
	_ "github.com/hamoodtechit/hamoodsoft/testing"
)

type stubRoles struct {
	catalog []session.Role
	loaded  bool
}

func (s *stubRoles) PeekRoles() ([]session.Role, bool) {
	return s.catalog, s.loaded
}

func seedStore(t *testing.T, user *session.User, businesses []session.Business) *session.Store {
	t.Helper()
	ctx := context.Background()
	store := session.NewStore(nil, nil)
	if err := store.Hydrate(ctx); err != nil {
		t.Fatalf("hydrate: %v", err)
	}
	store.SetUser(ctx, user)
	store.SetToken(ctx, "tok")
	store.SetBusinesses(ctx, businesses)
	return store
}

func TestDenyWhileCatalogUnloaded(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t, &session.User{ID: "u1", RoleID: "r1"}, nil)
	resolver := authz.NewSessionResolver(store, &stubRoles{loaded: false}, nil, nil)

	if resolver.HasPermission(ctx, "pos:sale:create") {
		t.Fatal("unloaded catalog must deny")
	}
	if _, ok := resolver.Role(ctx); ok {
		t.Fatal("role must not resolve before the catalog loads")
	}
}

func TestRoleResolvedByID(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t, &session.User{ID: "u1", RoleID: "r1"}, nil)
	roles := &stubRoles{loaded: true, catalog: []session.Role{
		{ID: "r1", Name: "Cashier", Permissions: []string{"pos:sale:create", "pos:sale:read"}},
	}}
	resolver := authz.NewSessionResolver(store, roles, nil, nil)

	role, ok := resolver.Role(ctx)
	if !ok || role.Name != "Cashier" {
		t.Fatalf("expected Cashier role, got %+v ok=%v", role, ok)
	}
	if !resolver.HasPermission(ctx, "pos:sale:create") {
		t.Fatal("granted permission denied")
	}
	if resolver.HasPermission(ctx, "hrm:employee:delete") {
		t.Fatal("ungranted permission allowed")
	}
}

func TestOwnerFallbackWhenNoRoleID(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t,
		&session.User{ID: "u1", CurrentBusinessID: "b1"},
		[]session.Business{{ID: "b1", OwnerID: "u1"}},
	)
	roles := &stubRoles{loaded: true, catalog: []session.Role{
		{ID: "r9", Name: "Owner", Permissions: []string{"pos:sale:create"}},
	}}
	resolver := authz.NewSessionResolver(store, roles, nil, nil)

	role, ok := resolver.Role(ctx)
	if !ok || role.Name != "Owner" {
		t.Fatalf("expected Owner fallback, got %+v ok=%v", role, ok)
	}
}

func TestNoOwnerFallbackForNonOwner(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t,
		&session.User{ID: "u2", CurrentBusinessID: "b1"},
		[]session.Business{{ID: "b1", OwnerID: "u1"}},
	)
	roles := &stubRoles{loaded: true, catalog: []session.Role{
		{ID: "r9", Name: "Owner", Permissions: []string{"pos:sale:create"}},
	}}
	resolver := authz.NewSessionResolver(store, roles, nil, nil)

	if _, ok := resolver.Role(ctx); ok {
		t.Fatal("non-owner without role ID must not resolve a role")
	}
	if resolver.HasPermission(ctx, "pos:sale:create") {
		t.Fatal("unresolved role must deny")
	}
}

func TestQuantifiersOverPermissionSets(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t, &session.User{ID: "u1", RoleID: "r1"}, nil)
	roles := &stubRoles{loaded: true, catalog: []session.Role{
		{ID: "r1", Name: "Cashier", Permissions: []string{"pos:sale:create", "pos:sale:read"}},
	}}
	resolver := authz.NewSessionResolver(store, roles, nil, nil)

	if !resolver.HasAnyPermission(ctx, []string{"hrm:x", "pos:sale:read"}) {
		t.Fatal("any-of with one granted member should allow")
	}
	if resolver.HasAnyPermission(ctx, []string{"hrm:x", "hrm:y"}) {
		t.Fatal("any-of with no granted member must deny")
	}
	if !resolver.HasAllPermissions(ctx, []string{"pos:sale:create", "pos:sale:read"}) {
		t.Fatal("all-of fully granted should allow")
	}
	if resolver.HasAllPermissions(ctx, []string{"pos:sale:create", "hrm:x"}) {
		t.Fatal("all-of with a missing member must deny")
	}

	// Empty quantifier input affirms nothing.
	if resolver.HasAnyPermission(ctx, nil) {
		t.Fatal("empty any-of must deny")
	}
	if resolver.HasAllPermissions(ctx, nil) {
		t.Fatal("empty all-of must deny")
	}
}

func TestModuleAccessBusinessListFirstThenPermissionPrefix(t *testing.T) {
	ctx := context.Background()
	roles := &stubRoles{loaded: true, catalog: []session.Role{
		{ID: "r1", Name: "Cashier", Permissions: []string{"pos:sale:create"}},
	}}

	// Module present in the active business's list: allowed regardless of
	// permissions.
	store := seedStore(t,
		&session.User{ID: "u1", RoleID: "r1", CurrentBusinessID: "b1"},
		[]session.Business{{ID: "b1", Modules: []string{"inventory"}}},
	)
	resolver := authz.NewSessionResolver(store, roles, nil, nil)
	if !resolver.HasModuleAccess(ctx, "inventory") {
		t.Fatal("module in business list should allow")
	}

	// Module absent from the list but a prefixed permission exists.
	if !resolver.HasModuleAccess(ctx, "pos") {
		t.Fatal("permission prefix should open the module")
	}

	// Neither source grants it.
	if resolver.HasModuleAccess(ctx, "hrm") {
		t.Fatal("module without list entry or permission must deny")
	}
}

func TestPermissionsEmptyWhenNoUser(t *testing.T) {
	ctx := context.Background()
	store := session.NewStore(nil, nil)
	if err := store.Hydrate(ctx); err != nil {
		t.Fatalf("hydrate: %v", err)
	}
	resolver := authz.NewSessionResolver(store, &stubRoles{loaded: true}, nil, nil)

	if perms := resolver.Permissions(ctx); len(perms) != 0 {
		t.Fatalf("expected empty permission set, got %v", perms)
	}
}

type blockingRecorder struct {
	release chan struct{}
	mu      sync.Mutex
	entries []audit.Entry
}

func (b *blockingRecorder) Record(ctx context.Context, e audit.Entry) error {
	<-b.release
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = append(b.entries, e)
	return nil
}

func TestDenialAuditDoesNotBlockGating(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t, &session.User{ID: "u1", RoleID: "r1"}, nil)
	roles := &stubRoles{loaded: true, catalog: []session.Role{{ID: "r1", Name: "Cashier"}}}
	recorder := &blockingRecorder{release: make(chan struct{})}
	resolver := authz.NewSessionResolver(store, roles, recorder, nil)

	// The recorder is stuck; the predicate must still answer.
	done := make(chan bool, 1)
	go func() {
		done <- resolver.HasPermission(ctx, "pos:sale:create")
	}()
	select {
	case granted := <-done:
		if granted {
			t.Fatal("empty role must deny")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("predicate blocked on the audit sink")
	}

	close(recorder.release)
	resolver.Wait()

	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	if len(recorder.entries) != 1 || recorder.entries[0].Action != "permission.denied" {
		t.Fatalf("expected one denial record, got %+v", recorder.entries)
	}
	if recorder.entries[0].ActorID != "u1" {
		t.Fatalf("denial must carry the actor, got %q", recorder.entries[0].ActorID)
	}
}
