package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hamoodtechit/hamoodsoft/internal/authz"
	"github.com/hamoodtechit/hamoodsoft/internal/observability"
	"github.com/hamoodtechit/hamoodsoft/internal/sessionapi"
	"github.com/hamoodtechit/hamoodsoft/internal/tenant"
	"github.com/hamoodtechit/hamoodsoft/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	SessionHandler     *sessionapi.Handler
	TenantHandler      *tenant.Handler
	PermissionsHandler *authz.PermissionsHandler
	JobsHandler        *jobs.Handler
	Authz              authz.Middleware
	Metrics            *observability.Metrics
}

// NewRouter constructs the chi.Router with gateway defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/auth", params.SessionHandler.MountRoutes)

	r.Group(func(r chi.Router) {
		r.Use(params.Authz.RequireAuth())
		r.Route("/tenants", params.TenantHandler.MountSwitchRoutes)
		r.Route("/businesses", params.TenantHandler.MountBusinessRoutes)
		r.Route("/permissions", params.PermissionsHandler.MountRoutes)
	})

	if params.JobsHandler != nil {
		r.Route("/jobs", params.JobsHandler.MountRoutes)
	}

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
