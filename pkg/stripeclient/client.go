/**
 * @description
 * This package builds the Stripe API clients used by the donation-service.
 * The backend is configured once with an explicit HTTP timeout and retry budget
 * instead of relying on stripe-go's process-wide defaults.
 *
 * @dependencies
 * - github.com/stripe/stripe-go/v82: Official Stripe SDK.
 * - go.uber.org/zap: Adapts the SDK's leveled logger to the service logger.
 */
package stripeclient

import (
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"
	"go.uber.org/zap"
)

// Config holds the client settings read from the environment.
type Config struct {
	SecretKey         string
	Timeout           time.Duration
	MaxNetworkRetries int64
	// BaseURL overrides the API endpoint; empty means api.stripe.com.
	BaseURL string
	Logger  *zap.Logger
}

// NewBackend returns an API backend honouring the configured timeout and retry count.
func NewBackend(cfg Config) stripe.Backend {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	backendConfig := &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: timeout},
		MaxNetworkRetries: stripe.Int64(cfg.MaxNetworkRetries),
		LeveledLogger:     logger.With(zap.String("component", "stripe")).Sugar(),
	}
	if cfg.BaseURL != "" {
		backendConfig.URL = stripe.String(cfg.BaseURL)
	}
	return stripe.GetBackendWithConfig(stripe.APIBackend, backendConfig)
}

// NewSessionClient returns a Checkout Sessions client bound to its own backend and key.
func NewSessionClient(cfg Config) *session.Client {
	return &session.Client{B: NewBackend(cfg), Key: cfg.SecretKey}
}
