/**
 * @description
 * Custom middleware for the donation-service router: admin JWT authentication and
 * per-client rate limiting of checkout creation.
 *
 * @dependencies
 * - github.com/golang-jwt/jwt/v5: For admin token validation.
 */
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/transfa/donation-service/internal/app"
)

const adminRole = "admin"

// AdminAuthMiddleware accepts HS256 bearer tokens signed with secret whose role claim is admin.
func AdminAuthMiddleware(secret string) func(http.Handler) http.Handler {
	key := []byte(strings.TrimSpace(secret))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(key) == 0 {
				writeError(w, http.StatusInternalServerError, "Server configuration error")
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeError(w, http.StatusUnauthorized, "Authorization header required")
				return
			}
			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader {
				writeError(w, http.StatusUnauthorized, "Invalid Authorization header format")
				return
			}

			claims := jwt.MapClaims{}
			token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
				}
				return key, nil
			}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
			if err != nil || !token.Valid {
				writeError(w, http.StatusUnauthorized, "Invalid token")
				return
			}

			if role, _ := claims["role"].(string); role != adminRole {
				writeError(w, http.StatusForbidden, "Forbidden")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

type peerAddrKey struct{}

// PeerAddr records the socket peer address before forwarded headers can rewrite
// RemoteAddr. It must run ahead of middleware.RealIP.
func PeerAddr(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), peerAddrKey{}, r.RemoteAddr)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RateLimitMiddleware answers 429 once a client exceeds the limiter's window. Clients are
// keyed by socket peer, so X-Forwarded-For cannot mint fresh identities. Limiter errors
// let the request through.
func RateLimitMiddleware(limiter app.RateLimiter, logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "rate_limit"))
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			subject := clientIP(r)
			decision, err := limiter.Allow(r.Context(), subject)
			if err != nil {
				logger.Warn("rate limiter unavailable; allowing request", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}
			if !decision.Allowed {
				logger.Info("rate limit exceeded", zap.String("client_ip", subject), zap.Int("count", decision.Count))
				w.Header().Set("Retry-After", strconv.Itoa(decision.RetryAfterSeconds()))
				writeError(w, http.StatusTooManyRequests, "Too many requests. Please try again shortly.")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP returns the host of the socket peer, falling back to RemoteAddr when PeerAddr
// did not run.
func clientIP(r *http.Request) string {
	addr, ok := r.Context().Value(peerAddrKey{}).(string)
	if !ok {
		addr = r.RemoteAddr
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return strings.TrimSpace(addr)
	}
	return host
}
