/**
 * @description
 * HTTP handlers for the donation-service: checkout initiation, the Stripe webhook
 * receiver, the support feed (snapshot and stream) and the admin reconciliation trigger.
 *
 * @dependencies
 * - internal/app: Checkout, webhook and reconciliation logic.
 * - internal/feed: Support feed views and watchers.
 * - go.uber.org/zap: Structured logging.
 */
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/transfa/donation-service/internal/app"
	"github.com/transfa/donation-service/internal/apperror"
	"github.com/transfa/donation-service/internal/domain"
	"github.com/transfa/donation-service/internal/feed"
	"github.com/transfa/donation-service/internal/store"
)

const (
	maxCheckoutBodyBytes = 1 << 20
	// Stripe recommends capping webhook bodies at 64 KiB.
	maxWebhookBodyBytes = 65536
)

// CheckoutCreator creates hosted checkout sessions.
type CheckoutCreator interface {
	CreateSession(ctx context.Context, req domain.CheckoutRequest, origin string) (domain.CheckoutResponse, error)
}

// WebhookProcessor handles verified Stripe deliveries.
type WebhookProcessor interface {
	Process(ctx context.Context, payload []byte, signature string) (app.Outcome, error)
}

// TotalsReconciler recomputes category totals on demand.
type TotalsReconciler interface {
	Reconcile(ctx context.Context) ([]domain.CategoryTotal, error)
}

// HealthChecker reports whether a backing dependency is reachable.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Dependencies groups everything the handlers need.
type Dependencies struct {
	Checkout      CheckoutCreator
	Webhooks      WebhookProcessor
	Support       store.SupportReader
	Changes       feed.Notifier
	Reconciler    TotalsReconciler
	Health        HealthChecker
	Logger        *zap.Logger
	KeepAlive     time.Duration
	HealthTimeout time.Duration
}

// Handler serves the donation-service HTTP API.
type Handler struct {
	checkout   CheckoutCreator
	webhooks   WebhookProcessor
	support    store.SupportReader
	changes    feed.Notifier
	reconciler TotalsReconciler
	health     HealthChecker
	logger     *zap.Logger

	keepAlive     time.Duration
	healthTimeout time.Duration
}

// NewHandler creates the HTTP handlers.
func NewHandler(deps Dependencies) *Handler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	keepAlive := deps.KeepAlive
	if keepAlive <= 0 {
		keepAlive = 25 * time.Second
	}
	healthTimeout := deps.HealthTimeout
	if healthTimeout <= 0 {
		healthTimeout = 2 * time.Second
	}
	return &Handler{
		checkout:      deps.Checkout,
		webhooks:      deps.Webhooks,
		support:       deps.Support,
		changes:       deps.Changes,
		reconciler:    deps.Reconciler,
		health:        deps.Health,
		logger:        logger.With(zap.String("component", "api")),
		keepAlive:     keepAlive,
		healthTimeout: healthTimeout,
	}
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), h.healthTimeout)
		defer cancel()
		if err := h.health.Ping(ctx); err != nil {
			h.logger.Warn("health check failed", zap.Error(err))
			http.Error(w, "unhealthy", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("healthy"))
}

func (h *Handler) handleReconcile(w http.ResponseWriter, r *http.Request) {
	if h.reconciler == nil {
		writeError(w, http.StatusInternalServerError, "Server configuration error")
		return
	}
	corrected, err := h.reconciler.Reconcile(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to reconcile category totals")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"corrected": corrected})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeAppError maps an error from the taxonomy onto a JSON error response.
func writeAppError(w http.ResponseWriter, err error) {
	status := apperror.HTTPStatus(err)
	body := map[string]interface{}{"error": apperror.PublicMessage(err)}

	var requestErr *apperror.RequestError
	if errors.As(err, &requestErr) && len(requestErr.Fields) > 0 {
		body["fields"] = requestErr.Fields
	}
	writeJSON(w, status, body)
}
