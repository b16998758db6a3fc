package authz_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/hamoodtechit/hamoodsoft/internal/authz"
	"github.com/hamoodtechit/hamoodsoft/internal/session"
	_ "github.com/hamoodtechit/hamoodsoft/testing"
)

type stubSession struct {
	ready  bool
	authed bool
}

func (s *stubSession) Ready() bool           { return s.ready }
func (s *stubSession) IsAuthenticated() bool { return s.authed }

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequireAuthDuringHydration(t *testing.T) {
	mw := authz.Middleware{Session: &stubSession{ready: false}}

	res := httptest.NewRecorder()
	mw.RequireAuth()(okHandler()).ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/", nil))

	if res.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 while hydrating, got %d", res.Code)
	}
	if res.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}
}

func TestRequireAuthUnauthenticated(t *testing.T) {
	mw := authz.Middleware{Session: &stubSession{ready: true, authed: false}}

	res := httptest.NewRecorder()
	mw.RequireAuth()(okHandler()).ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/", nil))

	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.Code)
	}
}

func TestRequireAnyAndAll(t *testing.T) {
	resolver := &authz.StaticResolver{Granted: []string{"pos:sale:read"}}
	mw := authz.Middleware{Resolver: resolver, Session: &stubSession{ready: true, authed: true}}

	res := httptest.NewRecorder()
	mw.RequireAny("pos:sale:read", "pos:sale:create")(okHandler()).ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("any-of should allow, got %d", res.Code)
	}

	res = httptest.NewRecorder()
	mw.RequireAll("pos:sale:read", "pos:sale:create")(okHandler()).ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/", nil))
	if res.Code != http.StatusForbidden {
		t.Fatalf("all-of should deny, got %d", res.Code)
	}
}

func TestRequireModule(t *testing.T) {
	resolver := &authz.StaticResolver{Modules: []string{"inventory"}}
	mw := authz.Middleware{Resolver: resolver, Session: &stubSession{ready: true, authed: true}}

	res := httptest.NewRecorder()
	mw.RequireModule("inventory")(okHandler()).ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("module should be open, got %d", res.Code)
	}

	res = httptest.NewRecorder()
	mw.RequireModule("hrm")(okHandler()).ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/", nil))
	if res.Code != http.StatusForbidden {
		t.Fatalf("module should be closed, got %d", res.Code)
	}
}

func TestPermissionsEndpoints(t *testing.T) {
	resolver := &authz.StaticResolver{
		Granted:    []string{"pos:sale:read"},
		Modules:    []string{"inventory"},
		ActiveRole: &session.Role{ID: "r1", Name: "Cashier", Permissions: []string{"pos:sale:read"}},
	}
	handler := authz.NewPermissionsHandler(nil, resolver)
	router := chi.NewRouter()
	router.Route("/permissions", handler.MountRoutes)

	res := httptest.NewRecorder()
	router.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/permissions/", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", res.Code)
	}
	var listBody struct {
		Role        *string  `json:"role"`
		Permissions []string `json:"permissions"`
	}
	if err := json.Unmarshal(res.Body.Bytes(), &listBody); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if listBody.Role == nil || *listBody.Role != "Cashier" || len(listBody.Permissions) != 1 {
		t.Fatalf("unexpected list body: %+v", listBody)
	}

	cases := []struct {
		query   string
		allowed bool
	}{
		{"permission=pos:sale:read", true},
		{"permission=hrm:x", false},
		{"any=hrm:x,pos:sale:read", true},
		{"all=hrm:x,pos:sale:read", false},
		{"module=inventory", true},
		{"module=hrm", false},
	}
	for _, tc := range cases {
		res := httptest.NewRecorder()
		router.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/permissions/check?"+tc.query, nil))
		if res.Code != http.StatusOK {
			t.Fatalf("check %s: expected 200, got %d", tc.query, res.Code)
		}
		var body struct {
			Allowed bool `json:"allowed"`
		}
		if err := json.Unmarshal(res.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode %s: %v", tc.query, err)
		}
		if body.Allowed != tc.allowed {
			t.Fatalf("check %s: expected allowed=%v", tc.query, tc.allowed)
		}
	}

	res = httptest.NewRecorder()
	router.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/permissions/check", nil))
	if res.Code != http.StatusBadRequest {
		t.Fatalf("missing query should 400, got %d", res.Code)
	}
}
