// This file implements the billing webhook endpoint.
//
// Route:
//   - POST /billing/webhook
//
// The route is PUBLIC (no auth middleware) because the provider calls it
// directly. Authentication is the webhook signature; nothing touches the
// database before verification succeeds.
package handler

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/titlescout/titlescout/internal/billing"
	"github.com/titlescout/titlescout/internal/domain"
	"github.com/titlescout/titlescout/internal/metrics"
	"github.com/titlescout/titlescout/internal/service"
)

// maxWebhookBody caps the webhook request body at 64KB.
const maxWebhookBody = 65536

// WebhookHandler handles incoming billing events from Stripe.
type WebhookHandler struct {
	billing   billing.Service
	processor service.BillingEventProcessor
	logger    *slog.Logger
}

// NewWebhookHandler creates a new WebhookHandler.
// billingService may be nil when Stripe is not configured.
func NewWebhookHandler(billingService billing.Service, processor service.BillingEventProcessor, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		billing:   billingService,
		processor: processor,
		logger:    logger,
	}
}

// RegisterRoutes registers webhook routes on the provided mux.
func (h *WebhookHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /billing/webhook", h.HandleWebhook)
}

// HandleWebhook verifies and processes one provider delivery.
//
// Status codes are the contract with the provider's retry loop:
// 400 for a bad signature (not our event), 200 for processed, duplicate,
// and unrecognized-type deliveries (stop redelivering), 500 when processing
// failed and a retry can succeed.
func (h *WebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	if h.billing == nil {
		h.logger.Warn("billing webhook received but billing is not configured")
		w.WriteHeader(http.StatusOK)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.logger.Error("failed to read webhook body", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	signature := r.Header.Get("Stripe-Signature")
	event, err := h.billing.VerifyWebhookSignature(body, signature)
	if err != nil {
		metrics.WebhookSignatureFailures.Inc()
		h.logger.Warn("webhook signature verification failed", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	outcome, err := h.processor.HandleBillingEvent(r.Context(), domain.BillingEvent{
		EventID: event.ID,
		Type:    domain.BillingEventType(event.Type),
		Payload: event.Data.Raw,
	})
	if err != nil {
		// Nothing was committed; the provider will redeliver.
		h.logger.Error("billing event processing failed",
			"error", err, "event_id", event.ID, "type", event.Type)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	h.logger.Info("billing event handled",
		"event_id", event.ID, "type", event.Type, "outcome", outcome)
	w.WriteHeader(http.StatusOK)
}
