// Package session holds the authenticated identity and the known business
// set, persisted across restarts, and is the root of truth the rest of the
// gateway reconciles against.
package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hamoodtechit/hamoodsoft/internal/events"
)

// State is the hydration state of the store. Consumers must branch on it:
// until the store is Ready the restored session is unknown and must not be
// interpreted as logged out.
type State int

const (
	// StateLoading means the persisted snapshot has not been restored yet.
	StateLoading State = iota
	// StateReady means the store reflects the restored (or empty) session.
	StateReady
)

// Snapshot is an immutable copy of the session state handed to readers and
// subscribers.
type Snapshot struct {
	State           State
	User            *User
	Token           string
	RefreshToken    string
	Businesses      []Business
	IsAuthenticated bool
}

// Store is the session state container. All mutation goes through the
// exported setters; every setter recomputes IsAuthenticated from the current
// user/token pair, replaces state wholesale under one lock, persists the
// snapshot, and then notifies subscribers.
type Store struct {
	mu        sync.Mutex
	logger    *slog.Logger
	snapshots *SnapshotStore

	state        State
	user         *User
	token        string
	refreshToken string
	businesses   []Business
	authed       bool

	nextSub     int
	subscribers map[int]func(Snapshot)

	refreshOnce sync.Once
}

// NewStore constructs a Store in the Loading state. The snapshot store may be
// nil; Hydrate then completes immediately with an empty session.
func NewStore(logger *slog.Logger, snapshots *SnapshotStore) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		logger:      logger,
		snapshots:   snapshots,
		state:       StateLoading,
		subscribers: make(map[int]func(Snapshot)),
	}
}

// Hydrate restores the persisted snapshot and flips the store to Ready.
// IsAuthenticated is recomputed from the restored user and token rather than
// trusted verbatim: the persisted flag may be stale relative to a partial
// write. A corrupt or missing snapshot leaves the store logged out.
func (s *Store) Hydrate(ctx context.Context) error {
	var payload *snapshotPayload
	if s.snapshots != nil {
		restored, err := s.snapshots.load(ctx)
		if err != nil {
			s.logger.Warn("session: restore snapshot", slog.Any("error", err))
		} else {
			payload = restored
		}
	}

	s.mu.Lock()
	if payload != nil {
		s.user = payload.User
		s.token = payload.Token
		s.refreshToken = payload.RefreshToken
		s.businesses = payload.Businesses
	}
	s.recomputeLocked()
	s.state = StateReady
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(snap)
	return nil
}

// State reports the hydration state.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Ready reports whether hydration has completed.
func (s *Store) Ready() bool {
	return s.State() == StateReady
}

// Snapshot returns a copy of the full session state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// IsAuthenticated reports the derived authentication flag.
func (s *Store) IsAuthenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authed
}

// CurrentUser returns a copy of the current user, or nil.
func (s *Store) CurrentUser() *User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return CloneUser(s.user)
}

// Token returns the current access token.
func (s *Store) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// RefreshToken returns the current refresh token.
func (s *Store) RefreshToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshToken
}

// Businesses returns a copy of the known business set.
func (s *Store) Businesses() []Business {
	s.mu.Lock()
	defer s.mu.Unlock()
	return CloneBusinesses(s.businesses)
}

// CurrentBusiness returns the business the user's CurrentBusinessID points
// at, if it is present in the known set.
func (s *Store) CurrentBusiness() (Business, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil || s.user.CurrentBusinessID == "" {
		return Business{}, false
	}
	for _, b := range s.businesses {
		if b.ID == s.user.CurrentBusinessID {
			out := b
			out.Modules = append([]string(nil), b.Modules...)
			return out, true
		}
	}
	return Business{}, false
}

// SetUser replaces the user and recomputes IsAuthenticated.
func (s *Store) SetUser(ctx context.Context, user *User) {
	s.mutate(ctx, func() {
		s.user = CloneUser(user)
	})
}

// SetToken replaces the access token and recomputes IsAuthenticated. Setting
// a token while no user is known does not authenticate the session.
func (s *Store) SetToken(ctx context.Context, token string) {
	s.mutate(ctx, func() {
		s.token = token
	})
}

// SetRefreshToken replaces the refresh token.
func (s *Store) SetRefreshToken(ctx context.Context, token string) {
	s.mutate(ctx, func() {
		s.refreshToken = token
	})
}

// SetBusinesses replaces the known business set.
func (s *Store) SetBusinesses(ctx context.Context, businesses []Business) {
	s.mutate(ctx, func() {
		s.businesses = CloneBusinesses(businesses)
	})
}

// Logout clears every field and purges the persisted snapshot together with
// the session-scoped ephemeral keys, so a later restore starts logged out.
func (s *Store) Logout(ctx context.Context) {
	s.mu.Lock()
	s.user = nil
	s.token = ""
	s.refreshToken = ""
	s.businesses = nil
	s.recomputeLocked()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if s.snapshots != nil {
		if err := s.snapshots.clear(ctx); err != nil {
			s.logger.Warn("session: clear snapshot", slog.Any("error", err))
		}
	}
	s.notify(snap)
}

// Subscribe registers an observer invoked after every committed mutation.
// The returned function removes the subscription.
func (s *Store) Subscribe(fn func(Snapshot)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subscribers[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subscribers, id)
	}
}

// AttachRefreshListener subscribes the store to token refresh events. At most
// one listener is registered per store instance; repeated attaches are
// ignored so duplicate state writes cannot occur.
func (s *Store) AttachRefreshListener(broker *events.Broker) {
	s.refreshOnce.Do(func() {
		broker.Subscribe(func(ev events.TokenRefreshed) {
			s.mutate(context.Background(), func() {
				s.token = ev.Token
				if ev.RefreshToken != "" {
					s.refreshToken = ev.RefreshToken
				}
			})
		})
	})
}

// mutate applies fn under the lock, recomputes the derived flag, persists the
// snapshot, and notifies subscribers with the committed state.
func (s *Store) mutate(ctx context.Context, fn func()) {
	s.mu.Lock()
	fn()
	s.recomputeLocked()
	payload := snapshotPayload{
		User:            s.user,
		Token:           s.token,
		RefreshToken:    s.refreshToken,
		IsAuthenticated: s.authed,
		Businesses:      s.businesses,
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if s.snapshots != nil {
		if err := s.snapshots.save(ctx, payload); err != nil {
			s.logger.Warn("session: persist snapshot", slog.Any("error", err))
		}
	}
	s.notify(snap)
}

// recomputeLocked derives IsAuthenticated. The flag is never settable on its
// own: it is true iff a user with an ID and a token are both present.
func (s *Store) recomputeLocked() {
	s.authed = s.user != nil && s.user.ID != "" && s.token != ""
}

func (s *Store) snapshotLocked() Snapshot {
	return Snapshot{
		State:           s.state,
		User:            CloneUser(s.user),
		Token:           s.token,
		RefreshToken:    s.refreshToken,
		Businesses:      CloneBusinesses(s.businesses),
		IsAuthenticated: s.authed,
	}
}

func (s *Store) notify(snap Snapshot) {
	s.mu.Lock()
	subs := make([]func(Snapshot), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		subs = append(subs, fn)
	}
	s.mu.Unlock()
	for _, fn := range subs {
		fn(snap)
	}
}
