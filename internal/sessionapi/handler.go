package sessionapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/hamoodtechit/hamoodsoft/internal/onboarding"
	"github.com/hamoodtechit/hamoodsoft/internal/platform/httpx"
	"github.com/hamoodtechit/hamoodsoft/internal/remotecache"
	"github.com/hamoodtechit/hamoodsoft/internal/session"
	"github.com/hamoodtechit/hamoodsoft/internal/upstream"
)

// Authenticator is the slice of the upstream client the auth facade needs.
type Authenticator interface {
	Login(ctx context.Context, req upstream.LoginRequest) (*upstream.AuthResponse, error)
	Register(ctx context.Context, req upstream.RegisterRequest) (*upstream.AuthResponse, error)
	Logout(ctx context.Context) error
}

// Handler wires the auth endpoints of the facade: login, register, logout,
// and the session snapshot consumers poll instead of reaching into the
// store.
type Handler struct {
	logger    *slog.Logger
	store     *session.Store
	cache     *remotecache.Cache
	client    Authenticator
	validator *validator.Validate
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, store *session.Store, cache *remotecache.Cache, client Authenticator) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:    logger,
		store:     store,
		cache:     cache,
		client:    client,
		validator: validator.New(),
	}
}

// MountRoutes registers auth routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/login", h.handleLogin)
	r.Post("/register", h.handleRegister)
	r.Post("/logout", h.handleLogout)
	r.Get("/session", h.handleSession)
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

type registerRequest struct {
	Name     string `json:"name" validate:"required,max=200"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

type authResponse struct {
	User            *session.User      `json:"user"`
	Businesses      []session.Business `json:"businesses"`
	IsAuthenticated bool               `json:"isAuthenticated"`
	NextStep        string             `json:"nextStep,omitempty"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid JSON body", httpx.ErrValidation))
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrValidation, err))
		return
	}

	resp, err := h.client.Login(r.Context(), upstream.LoginRequest{Email: req.Email, Password: req.Password})
	if err != nil {
		h.respondUpstream(w, "login", err)
		return
	}

	h.applyAuthResponse(r.Context(), resp)
	httpx.JSON(w, http.StatusOK, authResponse{
		User:            resp.User,
		Businesses:      h.store.Businesses(),
		IsAuthenticated: h.store.IsAuthenticated(),
		NextStep:        onboarding.NextStep(r.URL.Query().Get("locale"), resp.User),
	})
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid JSON body", httpx.ErrValidation))
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrValidation, err))
		return
	}

	resp, err := h.client.Register(r.Context(), upstream.RegisterRequest{Name: req.Name, Email: req.Email, Password: req.Password})
	if err != nil {
		h.respondUpstream(w, "register", err)
		return
	}

	h.applyAuthResponse(r.Context(), resp)
	httpx.JSON(w, http.StatusCreated, authResponse{
		User:            resp.User,
		Businesses:      h.store.Businesses(),
		IsAuthenticated: h.store.IsAuthenticated(),
		NextStep:        onboarding.NextStep(r.URL.Query().Get("locale"), resp.User),
	})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.client.Logout(r.Context()); err != nil {
		// Local state is cleared regardless; the upstream session will
		// expire on its own.
		h.logger.Warn("auth: upstream logout", slog.Any("error", err))
	}
	h.store.Logout(r.Context())
	h.cache.Reset()
	w.WriteHeader(http.StatusNoContent)
}

type sessionResponse struct {
	State           string             `json:"state"`
	IsAuthenticated bool               `json:"isAuthenticated"`
	User            *session.User      `json:"user"`
	Businesses      []session.Business `json:"businesses"`
	NextStep        string             `json:"nextStep,omitempty"`
}

// handleSession reports the hydration state alongside the snapshot so
// consumers can tell "not restored yet" apart from "logged out".
func (h *Handler) handleSession(w http.ResponseWriter, r *http.Request) {
	snap := h.store.Snapshot()
	state := "loading"
	next := ""
	if snap.State == session.StateReady {
		state = "ready"
		if snap.IsAuthenticated {
			next = onboarding.NextStep(r.URL.Query().Get("locale"), snap.User)
		}
	}
	httpx.JSON(w, http.StatusOK, sessionResponse{
		State:           state,
		IsAuthenticated: snap.IsAuthenticated,
		User:            snap.User,
		Businesses:      snap.Businesses,
		NextStep:        next,
	})
}

// applyAuthResponse performs the full session replace after login or
// registration and primes the server cache so tenant names, modules, and the
// role catalog are available without waiting on the next fetch.
func (h *Handler) applyAuthResponse(ctx context.Context, resp *upstream.AuthResponse) {
	h.store.SetToken(ctx, resp.Token)
	if resp.RefreshToken != "" {
		h.store.SetRefreshToken(ctx, resp.RefreshToken)
	}
	h.store.SetUser(ctx, resp.User)
	h.store.SetBusinesses(ctx, resp.Businesses)

	h.cache.StoreProfile(resp.User)
	h.cache.SeedBusinesses(resp.Businesses)

	// Role catalog loads in the background; permission checks deny until
	// it lands.
	warmCtx := context.WithoutCancel(ctx)
	go func() {
		if _, err := h.cache.Roles(warmCtx); err != nil {
			h.logger.Warn("auth: warm role catalog", slog.Any("error", err))
		}
	}()
}

func (h *Handler) respondUpstream(w http.ResponseWriter, op string, err error) {
	var apiErr *upstream.APIError
	if errors.As(err, &apiErr) {
		status := apiErr.Status
		if status == 0 || status >= http.StatusInternalServerError {
			status = http.StatusBadGateway
		}
		msg := apiErr.Message
		if msg == "" {
			msg = op + " failed"
		}
		if sentinel := httpx.ErrorForStatus(status); sentinel != nil {
			httpx.RespondError(w, fmt.Errorf("%w: %s", sentinel, msg))
			return
		}
		httpx.Problem(w, status, http.StatusText(status), msg)
		return
	}
	h.logger.Error("auth: "+op, slog.Any("error", err))
	httpx.Problem(w, http.StatusBadGateway, "Upstream Error", op+" failed")
}
