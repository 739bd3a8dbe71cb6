package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"recoveryops/internal/common/api"
	"recoveryops/internal/notify"
	"recoveryops/internal/reconcile"
	"recoveryops/internal/webhook"
)

// Engine is the part of the reconciliation engine operators reach
type Engine interface {
	Lookup(ctx context.Context, eventID string) (*reconcile.ProcessedEvent, error)
	Replay(ctx context.Context, eventID string) (reconcile.Outcome, error)
}

// Handler serves processed-event inspection and replay
type Handler struct {
	engine        Engine
	notifier      notify.Notifier
	notifyTimeout time.Duration
	logger        *slog.Logger
}

// NewHandler creates a new events handler
func NewHandler(engine Engine, notifier notify.Notifier, notifyTimeout time.Duration, logger *slog.Logger) *Handler {
	return &Handler{
		engine:        engine,
		notifier:      notifier,
		notifyTimeout: notifyTimeout,
		logger:        logger,
	}
}

// Routes returns the event routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/{id}", h.GetEvent)
	r.Post("/{id}/replay", h.ReplayEvent)

	return r
}

// EventResponse is a processed-event marker with its stored payload
type EventResponse struct {
	*reconcile.ProcessedEvent
	Replayable bool            `json:"replayable"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// GetEvent handles GET /{id}
func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	marker, err := h.engine.Lookup(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, reconcile.ErrEventNotFound) {
			api.NotFound(w, "event not found")
			return
		}
		h.logger.Error("failed to load event", "error", err)
		api.InternalError(w, "failed to load event")
		return
	}

	resp := EventResponse{ProcessedEvent: marker, Replayable: marker.Outcome.Replayable()}
	if json.Valid(marker.Payload) {
		resp.Payload = marker.Payload
	}
	api.WriteData(w, http.StatusOK, resp)
}

// ReplayEvent handles POST /{id}/replay
func (h *Handler) ReplayEvent(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "id")

	out, err := h.engine.Replay(r.Context(), eventID)
	if err != nil {
		switch {
		case errors.Is(err, reconcile.ErrEventNotFound):
			api.NotFound(w, "event not found")
		case errors.Is(err, reconcile.ErrNotReplayable):
			api.Conflict(w, err.Error())
		case errors.Is(err, webhook.ErrMalformedEvent):
			api.BadRequest(w, "stored payload cannot be decoded")
		default:
			h.logger.Error("replay failed", "error", err, "event_id", eventID)
			api.InternalError(w, "replay failed")
		}
		return
	}

	notify.Fire(r.Context(), h.notifier, h.logger, h.notifyTimeout, out.Notifications)
	api.WriteData(w, http.StatusOK, out)
}
