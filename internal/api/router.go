/**
 * @description
 * This file sets up the HTTP router for the donation-service.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS handling for the browser-facing checkout route.
 */
package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/transfa/donation-service/internal/app"
)

// RouterConfig carries the router-level settings.
type RouterConfig struct {
	AdminJWTSecret string
	// CheckoutLimiter throttles checkout creation; nil disables it.
	CheckoutLimiter app.RateLimiter
	Logger          *zap.Logger
}

// NewRouter registers every donation-service route.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(PeerAddr)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.handleHealth)

	// Long-lived stream; kept outside the request timeout.
	r.Get("/words-of-support/stream", h.handleSupportStream)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		r.Group(func(r chi.Router) {
			r.Use(cors.Handler(cors.Options{
				AllowedOrigins: []string{"*"},
				AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"Content-Type", "Authorization", "X-Client-Info", "Apikey"},
				MaxAge:         300,
			}))
			r.Use(RateLimitMiddleware(cfg.CheckoutLimiter, cfg.Logger))
			r.Options("/process-donation", h.handleCheckoutOptions)
			r.Post("/process-donation", h.handleProcessDonation)
		})

		r.HandleFunc("/stripe-webhook", h.handleStripeWebhook)
		r.Get("/words-of-support", h.handleSupportSnapshot)

		r.Route("/admin", func(r chi.Router) {
			r.Use(AdminAuthMiddleware(cfg.AdminJWTSecret))
			r.Post("/reconcile", h.handleReconcile)
		})
	})

	return r
}
