package tenant_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/hamoodtechit/hamoodsoft/internal/remotecache"
	"github.com/hamoodtechit/hamoodsoft/internal/session"
	"github.com/hamoodtechit/hamoodsoft/internal/tenant"
	"github.com/hamoodtechit/hamoodsoft/internal/upstream"
	_ "github.com/hamoodtechit/hamoodsoft/testing"
)

type stubUpdater struct {
	mu          sync.Mutex
	echo        *session.User
	updateErr   error
	business    *session.Business
	businessErr error
	updates     []upstream.UserPatch
}

func (s *stubUpdater) UpdateUser(ctx context.Context, id string, patch upstream.UserPatch) (*session.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, patch)
	if s.updateErr != nil {
		return nil, s.updateErr
	}
	return s.echo, nil
}

func (s *stubUpdater) BusinessByID(ctx context.Context, id string) (*session.Business, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.businessErr != nil {
		return nil, s.businessErr
	}
	return s.business, nil
}

type fetcherFromUpdater struct {
	businesses []session.Business
	err        error
}

func (f *fetcherFromUpdater) Profile(ctx context.Context) (*session.User, error) {
	return nil, errors.New("not implemented")
}

func (f *fetcherFromUpdater) Businesses(ctx context.Context) ([]session.Business, error) {
	return f.businesses, f.err
}

func (f *fetcherFromUpdater) Roles(ctx context.Context) ([]session.Role, error) {
	return nil, nil
}

func newCoordinator(t *testing.T, updater *stubUpdater, fetcher remotecache.Fetcher) (*tenant.Coordinator, *session.Store, *remotecache.Cache) {
	t.Helper()
	store := session.NewStore(nil, nil)
	if err := store.Hydrate(context.Background()); err != nil {
		t.Fatalf("hydrate: %v", err)
	}
	if fetcher == nil {
		fetcher = &fetcherFromUpdater{}
	}
	cache := remotecache.New(fetcher, store, nil, remotecache.Config{})
	coordinator := tenant.NewCoordinator(store, cache, updater, nil, nil)
	return coordinator, store, cache
}

func TestSwitchRequiresResolvedUser(t *testing.T) {
	coordinator, _, _ := newCoordinator(t, &stubUpdater{}, nil)

	_, err := coordinator.Switch(context.Background(), "b1")
	if !errors.Is(err, tenant.ErrPrecondition) {
		t.Fatalf("expected precondition error, got %v", err)
	}
}

func TestSwitchClientIntentWinsOverEcho(t *testing.T) {
	ctx := context.Background()
	// The server echoes a stale business pointer.
	updater := &stubUpdater{echo: &session.User{ID: "u1", Name: "From Server", CurrentBusinessID: "b-old"}}
	coordinator, store, _ := newCoordinator(t, updater, nil)
	store.SetUser(ctx, &session.User{ID: "u1", Email: "u@test.local", CurrentBusinessID: "b-old"})
	store.SetToken(ctx, "tok")

	merged, err := coordinator.Switch(ctx, "b-new")
	if err != nil {
		t.Fatalf("switch: %v", err)
	}
	coordinator.Wait()

	if merged.CurrentBusinessID != "b-new" {
		t.Fatalf("requested business must win, got %q", merged.CurrentBusinessID)
	}
	if merged.Name != "From Server" {
		t.Fatal("non-conflicting echoed fields should merge in")
	}
	if merged.Email != "u@test.local" {
		t.Fatal("fields absent from the echo must survive the merge")
	}
	if got := store.CurrentUser(); got == nil || got.CurrentBusinessID != "b-new" {
		t.Fatalf("store should hold the merged user, got %+v", got)
	}
}

func TestSwitchHandlesEchoWithoutBusinessID(t *testing.T) {
	ctx := context.Background()
	updater := &stubUpdater{echo: &session.User{ID: "u1"}}
	coordinator, store, _ := newCoordinator(t, updater, nil)
	store.SetUser(ctx, &session.User{ID: "u1"})
	store.SetToken(ctx, "tok")

	merged, err := coordinator.Switch(ctx, "b1")
	if err != nil {
		t.Fatalf("switch: %v", err)
	}
	coordinator.Wait()

	if merged.CurrentBusinessID != "b1" {
		t.Fatalf("omitted field in echo must not clear the pointer, got %q", merged.CurrentBusinessID)
	}
}

func TestSwitchSurfacesUpdateError(t *testing.T) {
	ctx := context.Background()
	updater := &stubUpdater{updateErr: errors.New("upstream down")}
	coordinator, store, _ := newCoordinator(t, updater, nil)
	store.SetUser(ctx, &session.User{ID: "u1", CurrentBusinessID: "b-old"})
	store.SetToken(ctx, "tok")

	if _, err := coordinator.Switch(ctx, "b-new"); err == nil {
		t.Fatal("expected switch error")
	}
	if got := store.CurrentUser(); got.CurrentBusinessID != "b-old" {
		t.Fatal("failed switch must not move the business pointer")
	}
}

func TestSwitchEnrichmentFallsBackToFullRefetch(t *testing.T) {
	ctx := context.Background()
	updater := &stubUpdater{
		echo:        &session.User{ID: "u1"},
		businessErr: errors.New("not found"),
	}
	fetcher := &fetcherFromUpdater{businesses: []session.Business{{ID: "b1", Name: "Shop", Modules: []string{"pos"}}}}
	coordinator, store, cache := newCoordinator(t, updater, fetcher)
	store.SetUser(ctx, &session.User{ID: "u1"})
	store.SetToken(ctx, "tok")

	if _, err := coordinator.Switch(ctx, "b1"); err != nil {
		t.Fatalf("switch: %v", err)
	}
	coordinator.Wait()

	list, ok := cache.PeekBusinesses()
	if !ok || len(list) != 1 || list[0].Name != "Shop" {
		t.Fatalf("expected fallback refetch to populate businesses, got %+v", list)
	}
}

func TestSwitchEnrichmentFailureKeepsSwitch(t *testing.T) {
	ctx := context.Background()
	updater := &stubUpdater{
		echo:        &session.User{ID: "u1"},
		businessErr: errors.New("down"),
	}
	fetcher := &fetcherFromUpdater{err: errors.New("down")}
	coordinator, store, _ := newCoordinator(t, updater, fetcher)
	store.SetUser(ctx, &session.User{ID: "u1"})
	store.SetToken(ctx, "tok")

	merged, err := coordinator.Switch(ctx, "b1")
	if err != nil {
		t.Fatalf("switch must not fail on enrichment errors: %v", err)
	}
	coordinator.Wait()

	if merged.CurrentBusinessID != "b1" {
		t.Fatal("switch should have committed despite enrichment failure")
	}
}

// blockingUpdater parks every UpdateUser call until the test releases it,
// so response ordering can be forced.
type blockingUpdater struct {
	calls chan chan struct{}
	echo  *session.User
}

func (b *blockingUpdater) UpdateUser(ctx context.Context, id string, patch upstream.UserPatch) (*session.User, error) {
	release := make(chan struct{})
	b.calls <- release
	<-release
	return b.echo, nil
}

func (b *blockingUpdater) BusinessByID(ctx context.Context, id string) (*session.Business, error) {
	return nil, errors.New("not found")
}

func TestStaleSwitchResponseDoesNotOverwriteNewerOne(t *testing.T) {
	ctx := context.Background()
	updater := &blockingUpdater{calls: make(chan chan struct{}, 2), echo: &session.User{ID: "u1"}}

	store := session.NewStore(nil, nil)
	if err := store.Hydrate(ctx); err != nil {
		t.Fatalf("hydrate: %v", err)
	}
	store.SetUser(ctx, &session.User{ID: "u1"})
	store.SetToken(ctx, "tok")
	cache := remotecache.New(&fetcherFromUpdater{err: errors.New("down")}, store, nil, remotecache.Config{})
	coordinator := tenant.NewCoordinator(store, cache, updater, nil, nil)

	firstDone := make(chan struct{})
	go func() {
		defer close(firstDone)
		_, _ = coordinator.Switch(ctx, "b-stale")
	}()
	releaseFirst := <-updater.calls

	secondDone := make(chan struct{})
	go func() {
		defer close(secondDone)
		_, _ = coordinator.Switch(ctx, "b-new")
	}()
	releaseSecond := <-updater.calls

	// The newer switch's response lands first.
	close(releaseSecond)
	<-secondDone

	// The older response arrives late; its write must be discarded.
	close(releaseFirst)
	<-firstDone
	coordinator.Wait()

	if got := store.CurrentUser(); got.CurrentBusinessID != "b-new" {
		t.Fatalf("stale response must not win, store has %q", got.CurrentBusinessID)
	}
}

func TestAdoptFirstBusinessSetsPointerOnlyWhenUnset(t *testing.T) {
	ctx := context.Background()
	updater := &stubUpdater{echo: &session.User{ID: "u1"}}
	coordinator, store, cache := newCoordinator(t, updater, nil)
	store.SetUser(ctx, &session.User{ID: "u1"})
	store.SetToken(ctx, "tok")

	coordinator.AdoptFirstBusiness(ctx, session.Business{ID: "b1", Name: "First", Modules: []string{"pos"}})

	if got := store.CurrentUser(); got.CurrentBusinessID != "b1" {
		t.Fatalf("expected first business adopted, got %q", got.CurrentBusinessID)
	}
	list, _ := cache.PeekBusinesses()
	if len(list) != 1 || list[0].ID != "b1" {
		t.Fatalf("created business should join the known set, got %+v", list)
	}

	// A user with a current business keeps it.
	coordinator.AdoptFirstBusiness(ctx, session.Business{ID: "b2"})
	if got := store.CurrentUser(); got.CurrentBusinessID != "b1" {
		t.Fatal("adopt must not replace an existing business pointer")
	}
}

func TestSwitchHookFiresOnlyOnCommit(t *testing.T) {
	ctx := context.Background()
	updater := &stubUpdater{echo: &session.User{ID: "u1"}}
	coordinator, store, _ := newCoordinator(t, updater, nil)
	var switches int
	coordinator.OnSwitch(func() { switches++ })

	// No resolved user: nothing committed, nothing counted.
	if _, err := coordinator.Switch(ctx, "b1"); err == nil {
		t.Fatal("expected precondition error")
	}
	if switches != 0 {
		t.Fatalf("hook must not fire on a failed switch, got %d", switches)
	}

	store.SetUser(ctx, &session.User{ID: "u1"})
	store.SetToken(ctx, "tok")
	if _, err := coordinator.Switch(ctx, "b1"); err != nil {
		t.Fatalf("switch: %v", err)
	}
	coordinator.Wait()
	if switches != 1 {
		t.Fatalf("expected one counted switch, got %d", switches)
	}

	updater.updateErr = errors.New("upstream down")
	if _, err := coordinator.Switch(ctx, "b2"); err == nil {
		t.Fatal("expected upstream error")
	}
	if switches != 1 {
		t.Fatalf("hook must not fire when the update fails, got %d", switches)
	}
}
