package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/hamoodtechit/hamoodsoft/internal/jobs"
	"github.com/hamoodtechit/hamoodsoft/internal/remotecache"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeBusinessesRefresh re-fetches the business list from the
	// upstream API and reconciles it into the session.
	TaskTypeBusinessesRefresh = "session:businesses_refresh"
	// TaskTypeRolesRefresh re-fetches the role catalog used by the
	// permission resolver.
	TaskTypeRolesRefresh = "session:roles_refresh"
)

// RefreshPayload carries an optional reason for log correlation.
type RefreshPayload struct {
	Reason string `json:"reason,omitempty"`
}

// NewBusinessesRefreshTask constructs an Asynq task.
func NewBusinessesRefreshTask(payload RefreshPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeBusinessesRefresh, data), nil
}

// NewRolesRefreshTask constructs an Asynq task.
func NewRolesRefreshTask(payload RefreshPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeRolesRefresh, data), nil
}

// RefreshHandlers bundles the cache-backed task handlers.
type RefreshHandlers struct {
	cache   *remotecache.Cache
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
}

// NewRefreshHandlers constructs handlers for the session refresh tasks.
func NewRefreshHandlers(cache *remotecache.Cache, logger *slog.Logger, metrics *jobmetrics.Metrics) *RefreshHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &RefreshHandlers{cache: cache, logger: logger, metrics: metrics}
}

// HandleBusinessesRefresh processes TaskTypeBusinessesRefresh tasks.
func (h *RefreshHandlers) HandleBusinessesRefresh(ctx context.Context, t *asynq.Task) error {
	var payload RefreshPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	tracker := h.metrics.Track("businesses_refresh")
	list, err := h.cache.ForceBusinesses(ctx)
	if err != nil {
		h.logger.Warn("jobs: businesses refresh",
			slog.String("reason", payload.Reason),
			slog.Any("error", err))
		return tracker.End(err)
	}
	h.logger.Info("jobs: businesses refreshed",
		slog.String("reason", payload.Reason),
		slog.Int("count", len(list)))
	return tracker.End(nil)
}

// HandleRolesRefresh processes TaskTypeRolesRefresh tasks.
func (h *RefreshHandlers) HandleRolesRefresh(ctx context.Context, t *asynq.Task) error {
	var payload RefreshPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	tracker := h.metrics.Track("roles_refresh")
	roles, err := h.cache.ForceRoles(ctx)
	if err != nil {
		h.logger.Warn("jobs: roles refresh",
			slog.String("reason", payload.Reason),
			slog.Any("error", err))
		return tracker.End(err)
	}
	h.logger.Info("jobs: roles refreshed",
		slog.String("reason", payload.Reason),
		slog.Int("count", len(roles)))
	return tracker.End(nil)
}
