package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v79"
)

// maxWebhookBody caps webhook payloads. Stripe events are small; anything
// larger is garbage.
const maxWebhookBody = 64 * 1024

// BillingEventProcessor verifies and applies billing provider events.
type BillingEventProcessor interface {
	VerifyEvent(payload []byte, signature string) (stripe.Event, error)
	ProcessEvent(ctx context.Context, event stripe.Event) error
}

// WebhookHandler handles the billing provider webhook. It is registered as a
// raw chi route, not a huma operation: signature verification needs the exact
// request bytes.
type WebhookHandler struct {
	billing BillingEventProcessor
	logger  *slog.Logger
}

// NewWebhookHandler creates a new webhook handler.
func NewWebhookHandler(billing BillingEventProcessor, logger *slog.Logger) *WebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookHandler{billing: billing, logger: logger}
}

// HandleStripe processes a billing provider webhook delivery.
func (h *WebhookHandler) HandleStripe(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.logger.Warn("reading webhook payload failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}

	signature := r.Header.Get("Stripe-Signature")
	if signature == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing signature"})
		return
	}

	event, err := h.billing.VerifyEvent(payload, signature)
	if err != nil {
		h.logger.Warn("webhook signature verification failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid signature"})
		return
	}

	// Provider test deliveries are acknowledged without processing.
	if strings.HasPrefix(event.ID, "evt_test_") {
		writeJSON(w, http.StatusOK, map[string]bool{"verified": true})
		return
	}

	if err := h.billing.ProcessEvent(r.Context(), event); err != nil {
		h.logger.Error("processing billing event failed",
			slog.String("event_id", event.ID),
			slog.String("event_type", string(event.Type)),
			slog.String("error", err.Error()),
		)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "event processing failed"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
