package api

import (
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/transfa/donation-service/internal/apperror"
)

func (h *Handler) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	signature := r.Header.Get("Stripe-Signature")
	if signature == "" {
		http.Error(w, "Missing Stripe-Signature", http.StatusBadRequest)
		return
	}

	// The signature covers the exact bytes received, so the body is never re-encoded.
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes))
	if err != nil {
		h.logger.Warn("cannot read webhook body", zap.Error(err))
		http.Error(w, "Cannot read request body", http.StatusBadRequest)
		return
	}

	outcome, err := h.webhooks.Process(r.Context(), payload, signature)
	if err != nil {
		switch {
		case errors.Is(err, apperror.ErrNotConfigured):
			http.Error(w, "Server configuration error", http.StatusInternalServerError)
		case errors.Is(err, apperror.ErrInvalidSignature):
			http.Error(w, apperror.PublicMessage(err), http.StatusBadRequest)
		default:
			writeAppError(w, err)
		}
		return
	}

	h.logger.Debug("webhook handled", zap.String("outcome", string(outcome)))
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}
