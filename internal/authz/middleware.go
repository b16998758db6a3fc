package authz

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/hamoodtechit/hamoodsoft/internal/platform/httpx"
)

// Authenticator is the slice of the session store the middleware consults
// before any permission question is asked.
type Authenticator interface {
	Ready() bool
	IsAuthenticated() bool
}

// Middleware gates facade routes on the resolver's answers.
type Middleware struct {
	Resolver Resolver
	Session  Authenticator
	Logger   *slog.Logger
}

// RequireAuth rejects requests while the store is still hydrating or the
// session is unauthenticated. 503 during hydration keeps a restored session
// from being bounced to login before the snapshot loads.
func (m Middleware) RequireAuth() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m.Session != nil && !m.Session.Ready() {
				w.Header().Set("Retry-After", "1")
				httpx.Problem(w, http.StatusServiceUnavailable, "Service Unavailable", "session is hydrating")
				return
			}
			if m.Session != nil && !m.Session.IsAuthenticated() {
				httpx.RespondError(w, httpx.ErrUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAny ensures at least one of the permissions is granted.
func (m Middleware) RequireAny(perms ...string) func(http.Handler) http.Handler {
	normalized := normalizePermissions(perms)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(normalized) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			if m.Resolver.HasAnyPermission(r.Context(), normalized) {
				next.ServeHTTP(w, r)
				return
			}
			httpx.RespondError(w, httpx.ErrForbidden)
		})
	}
}

// RequireAll ensures every permission is granted.
func (m Middleware) RequireAll(perms ...string) func(http.Handler) http.Handler {
	normalized := normalizePermissions(perms)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(normalized) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			if m.Resolver.HasAllPermissions(r.Context(), normalized) {
				next.ServeHTTP(w, r)
				return
			}
			httpx.RespondError(w, httpx.ErrForbidden)
		})
	}
}

// RequireModule ensures the active business grants access to the module.
func (m Middleware) RequireModule(module string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if module == "" || m.Resolver.HasModuleAccess(r.Context(), module) {
				next.ServeHTTP(w, r)
				return
			}
			httpx.RespondError(w, httpx.ErrForbidden)
		})
	}
}

func normalizePermissions(perms []string) []string {
	seen := make(map[string]struct{}, len(perms))
	normalized := make([]string, 0, len(perms))
	for _, p := range perms {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		normalized = append(normalized, p)
	}
	return normalized
}
