package tenant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/hamoodtechit/hamoodsoft/internal/platform/httpx"
	"github.com/hamoodtechit/hamoodsoft/internal/remotecache"
	"github.com/hamoodtechit/hamoodsoft/internal/session"
	"github.com/hamoodtechit/hamoodsoft/internal/upstream"
)

// Creator is the slice of the upstream client the business endpoints need.
type Creator interface {
	CreateBusiness(ctx context.Context, req upstream.CreateBusinessRequest) (*session.Business, error)
}

// Handler exposes tenant switching and business listing over the facade.
type Handler struct {
	logger      *slog.Logger
	coordinator *Coordinator
	cache       *remotecache.Cache
	client      Creator
	store       *session.Store
	validator   *validator.Validate
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, coordinator *Coordinator, cache *remotecache.Cache, client Creator, store *session.Store) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:      logger,
		coordinator: coordinator,
		cache:       cache,
		client:      client,
		store:       store,
		validator:   validator.New(),
	}
}

// MountSwitchRoutes registers the tenant switch endpoint.
func (h *Handler) MountSwitchRoutes(r chi.Router) {
	r.Post("/switch", h.handleSwitch)
}

// MountBusinessRoutes registers the business listing and creation endpoints.
func (h *Handler) MountBusinessRoutes(r chi.Router) {
	r.Get("/", h.handleList)
	r.Post("/", h.handleCreate)
}

type switchRequest struct {
	BusinessID string `json:"businessId" validate:"required"`
}

type switchResponse struct {
	User     *session.User    `json:"user"`
	Business *session.Business `json:"business,omitempty"`
}

func (h *Handler) handleSwitch(w http.ResponseWriter, r *http.Request) {
	var req switchRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid JSON body", httpx.ErrValidation))
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrValidation, err))
		return
	}

	user, err := h.coordinator.Switch(r.Context(), req.BusinessID)
	if err != nil {
		if errors.Is(err, httpx.ErrPrecondition) {
			httpx.RespondError(w, err)
			return
		}
		h.respondUpstream(w, "switch business", err)
		return
	}

	resp := switchResponse{User: user}
	if b, ok := h.store.CurrentBusiness(); ok {
		resp.Business = &b
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	list, err := h.cache.Businesses(r.Context())
	if err != nil {
		// Stale data beats an error page while the upstream flaps.
		if len(list) > 0 {
			h.logger.Warn("tenant: serving stale business list", slog.Any("error", err))
			httpx.JSON(w, http.StatusOK, map[string]any{"businesses": list, "stale": true})
			return
		}
		h.respondUpstream(w, "list businesses", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"businesses": list})
}

type createBusinessRequest struct {
	Name    string   `json:"name" validate:"required,max=200"`
	Modules []string `json:"modules" validate:"omitempty,dive,required"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createBusinessRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid JSON body", httpx.ErrValidation))
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrValidation, err))
		return
	}

	created, err := h.client.CreateBusiness(r.Context(), upstream.CreateBusinessRequest{Name: req.Name, Modules: req.Modules})
	if err != nil {
		h.respondUpstream(w, "create business", err)
		return
	}

	h.coordinator.AdoptFirstBusiness(r.Context(), *created)
	httpx.JSON(w, http.StatusCreated, map[string]any{"business": created})
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
	h.logger.Error("tenant: "+op, slog.Any("error", err))
	httpx.Problem(w, http.StatusBadGateway, "Upstream Error", op+" failed")
}
