package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"recoveryops/internal/common/api"
	"recoveryops/internal/common/metrics"
	"recoveryops/internal/common/middleware"
	"recoveryops/internal/notify"
	"recoveryops/internal/reconcile"
	"recoveryops/internal/webhook"
)

// MaxBodyBytes caps the webhook body read
const MaxBodyBytes = 1 << 20

// Processor applies a verified event
type Processor interface {
	Process(ctx context.Context, evt webhook.Event) (reconcile.Outcome, error)
}

// Handler receives processor webhooks
type Handler struct {
	auth          *webhook.Authenticator
	processor     Processor
	notifier      notify.Notifier
	notifyTimeout time.Duration
	logger        *slog.Logger
}

// NewHandler creates a webhook handler
func NewHandler(auth *webhook.Authenticator, processor Processor, notifier notify.Notifier, notifyTimeout time.Duration, logger *slog.Logger) *Handler {
	return &Handler{
		auth:          auth,
		processor:     processor,
		notifier:      notifier,
		notifyTimeout: notifyTimeout,
		logger:        logger,
	}
}

// Response acknowledges a webhook
type Response struct {
	Received bool             `json:"received"`
	EventID  string           `json:"event_id"`
	Outcome  reconcile.Status `json:"outcome"`
}

// ServeHTTP handles POST /webhooks/stripe. Nothing touches the datastore until
// the signature over the unmodified body has verified.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	kind := "unverified"
	status := http.StatusOK
	defer func() {
		metrics.WebhookRequestsTotal.WithLabelValues(kind, strconv.Itoa(status)).Inc()
		metrics.WebhookDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	}()

	if !h.auth.Configured() {
		status = http.StatusServiceUnavailable
		h.logger.Error("webhook received but no signing secret is configured")
		api.ServiceUnavailable(w, "webhook signing secret not configured")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		status = http.StatusBadRequest
		h.logger.Warn("failed to read webhook body", "error", err)
		api.BadRequest(w, "unreadable body")
		return
	}

	evt, err := h.auth.Verify(body, r.Header.Get(webhook.SignatureHeader))
	if err != nil {
		status = http.StatusBadRequest
		h.logger.Warn("webhook rejected",
			"error", err,
			"correlation_id", middleware.GetCorrelationID(r.Context()),
			"remote_addr", r.RemoteAddr,
		)
		if errors.Is(err, webhook.ErrMissingSignature) {
			api.WriteError(w, status, api.ErrCodeMissingSignature, "missing signature header")
		} else {
			api.WriteError(w, status, api.ErrCodeInvalidSignature, "invalid signature")
		}
		return
	}
	kind = reconcile.KindLabel(evt.Kind)

	out, err := h.processor.Process(r.Context(), evt)
	if err != nil {
		status = http.StatusInternalServerError
		api.WriteError(w, status, api.ErrCodeProcessingFailed, "event could not be processed, retry later")
		return
	}

	api.WriteJSON(w, status, Response{Received: true, EventID: evt.ID, Outcome: out.Status})
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}

	notify.Fire(r.Context(), h.notifier, h.logger, h.notifyTimeout, out.Notifications)
}
