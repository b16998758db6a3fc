package authz

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hamoodtechit/hamoodsoft/internal/platform/httpx"
)

// PermissionsHandler exposes the resolver's answers over the facade so UI
// consumers can gate affordances with one round-trip to the gateway.
type PermissionsHandler struct {
	logger   *slog.Logger
	resolver Resolver
}

// NewPermissionsHandler builds a PermissionsHandler.
func NewPermissionsHandler(logger *slog.Logger, resolver Resolver) *PermissionsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PermissionsHandler{logger: logger, resolver: resolver}
}

// MountRoutes registers permission routes.
func (h *PermissionsHandler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Get("/check", h.check)
}

type permissionsResponse struct {
	Role        *string  `json:"role"`
	Permissions []string `json:"permissions"`
}

func (h *PermissionsHandler) list(w http.ResponseWriter, r *http.Request) {
	resp := permissionsResponse{Permissions: []string{}}
	if role, ok := h.resolver.Role(r.Context()); ok {
		resp.Role = &role.Name
	}
	if perms := h.resolver.Permissions(r.Context()); perms != nil {
		resp.Permissions = perms
	}
	httpx.JSON(w, http.StatusOK, resp)
}

type checkResponse struct {
	Allowed bool `json:"allowed"`
}

// check answers one gating question per request:
//
//	?permission=sales:read          single membership
//	?any=sales:read,sales:create    at-least-one quantifier
//	?all=sales:read,sales:create    every quantifier
//	?module=sales                   tenant module gate
func (h *PermissionsHandler) check(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ctx := r.Context()
	switch {
	case q.Get("permission") != "":
		httpx.JSON(w, http.StatusOK, checkResponse{Allowed: h.resolver.HasPermission(ctx, q.Get("permission"))})
	case q.Get("any") != "":
		httpx.JSON(w, http.StatusOK, checkResponse{Allowed: h.resolver.HasAnyPermission(ctx, splitList(q.Get("any")))})
	case q.Get("all") != "":
		httpx.JSON(w, http.StatusOK, checkResponse{Allowed: h.resolver.HasAllPermissions(ctx, splitList(q.Get("all")))})
	case q.Get("module") != "":
		httpx.JSON(w, http.StatusOK, checkResponse{Allowed: h.resolver.HasModuleAccess(ctx, q.Get("module"))})
	default:
		httpx.RespondError(w, fmt.Errorf("%w: one of permission, any, all, module is required", httpx.ErrValidation))
	}
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
