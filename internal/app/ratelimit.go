package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// The counter is created with the window's expiry on first use; INCR keeps that expiry.
var windowCounterScript = redis.NewScript(`
redis.call("SET", KEYS[1], 0, "PX", ARGV[1], "NX")
local count = redis.call("INCR", KEYS[1])
local remaining = redis.call("PTTL", KEYS[1])
return {count, remaining}
`)

const checkoutRateScope = "checkout"

// RateWindow is a fixed-window policy: at most Limit requests per Period for each subject.
type RateWindow struct {
	Scope  string
	Limit  int
	Period time.Duration
}

// CheckoutRateWindow is the per-client policy for checkout creation.
func CheckoutRateWindow(perMinute int) RateWindow {
	return RateWindow{Scope: checkoutRateScope, Limit: perMinute, Period: time.Minute}
}

func (w RateWindow) enabled() bool {
	return w.Limit > 0 && w.Period > 0 && strings.TrimSpace(w.Scope) != ""
}

// RateDecision is the verdict for one request.
type RateDecision struct {
	Allowed    bool
	Count      int
	RetryAfter time.Duration
}

// RetryAfterSeconds renders RetryAfter for the Retry-After header.
func (d RateDecision) RetryAfterSeconds() int {
	seconds := int((d.RetryAfter + time.Second - 1) / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	return seconds
}

// RateLimiter decides whether a subject may proceed under its configured window.
type RateLimiter interface {
	Allow(ctx context.Context, subject string) (RateDecision, error)
}

// RedisRateLimiter counts requests in Redis so every instance shares one window.
type RedisRateLimiter struct {
	client    redis.UniversalClient
	keyPrefix string
	window    RateWindow
}

// NewRedisRateLimiter creates a limiter enforcing window, with keys under prefix.
func NewRedisRateLimiter(client redis.UniversalClient, prefix string, window RateWindow) *RedisRateLimiter {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = "donation:rate_limit"
	}
	window.Scope = strings.TrimSpace(window.Scope)
	if window.Period > 0 && window.Period < time.Second {
		window.Period = time.Second
	}
	return &RedisRateLimiter{
		client:    client,
		keyPrefix: prefix + ":" + window.Scope + ":",
		window:    window,
	}
}

// Allow counts one request for subject. A limiter without a client or with a disabled
// window allows everything.
func (r *RedisRateLimiter) Allow(ctx context.Context, subject string) (RateDecision, error) {
	subject = strings.TrimSpace(subject)
	if r == nil || r.client == nil || !r.window.enabled() || subject == "" {
		return RateDecision{Allowed: true}, nil
	}

	periodMs := r.window.Period.Milliseconds()
	reply, err := windowCounterScript.Run(ctx, r.client, []string{r.keyPrefix + subject}, periodMs).Int64Slice()
	if err != nil {
		return RateDecision{}, fmt.Errorf("rate limit %s: %w", r.window.Scope, err)
	}
	if len(reply) != 2 {
		return RateDecision{}, fmt.Errorf("rate limit %s: unexpected reply %v", r.window.Scope, reply)
	}
	return r.window.decide(reply[0], reply[1]), nil
}

// decide turns the counter and its remaining lifetime into a verdict. A key without an
// expiry is treated as a fresh full window.
func (w RateWindow) decide(count, remainingMs int64) RateDecision {
	remaining := time.Duration(remainingMs) * time.Millisecond
	if remainingMs < 0 {
		remaining = w.Period
	}
	return RateDecision{
		Allowed:    count <= int64(w.Limit),
		Count:      int(count),
		RetryAfter: remaining,
	}
}
