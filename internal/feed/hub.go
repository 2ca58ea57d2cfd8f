/**
 * @description
 * The hub owns the single live subscription to donation changes and fans change
 * signals out to every mounted watcher. The subscription is opened when the first
 * watcher arrives and closed when the last one leaves.
 */
package feed

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultRetryDelay = 2 * time.Second

// Source delivers change notifications until ctx is cancelled or the connection fails.
type Source interface {
	Subscribe(ctx context.Context, onChange func()) error
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, onChange func()) error

func (f SourceFunc) Subscribe(ctx context.Context, onChange func()) error {
	return f(ctx, onChange)
}

// Notifier hands out change subscriptions.
type Notifier interface {
	Subscribe() (changes <-chan struct{}, unsubscribe func())
}

// Hub multiplexes one Source across many subscribers.
type Hub struct {
	source     Source
	logger     *zap.Logger
	retryDelay time.Duration

	mu          sync.Mutex
	subscribers map[chan struct{}]struct{}
	cancel      context.CancelFunc
	generation  int
}

// NewHub creates a hub over source.
func NewHub(source Source, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		source:      source,
		logger:      logger.With(zap.String("component", "feed_hub")),
		retryDelay:  defaultRetryDelay,
		subscribers: make(map[chan struct{}]struct{}),
	}
}

// Subscribe registers a subscriber. The returned channel receives a value after every
// change; bursts coalesce into one pending signal. unsubscribe is idempotent.
func (h *Hub) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	if h.cancel == nil && h.source != nil {
		ctx, cancel := context.WithCancel(context.Background())
		h.cancel = cancel
		h.generation++
		go h.run(ctx, h.generation)
	}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() { h.unsubscribe(ch) })
	}
}

func (h *Hub) unsubscribe(ch chan struct{}) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.subscribers, ch)
	if len(h.subscribers) == 0 && h.cancel != nil {
		h.cancel()
		h.cancel = nil
		h.logger.Debug("last subscriber left; closing live subscription")
	}
}

// Subscribers reports the number of active subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// Live reports whether the hub currently holds a live subscription.
func (h *Hub) Live() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cancel != nil
}

// Close drops every subscriber and closes the live subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subscribers {
		delete(h.subscribers, ch)
	}
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

func (h *Hub) run(ctx context.Context, generation int) {
	h.logger.Info("opening live subscription", zap.Int("generation", generation))
	for {
		err := h.source.Subscribe(ctx, h.broadcast)
		if ctx.Err() != nil {
			h.logger.Info("live subscription closed", zap.Int("generation", generation))
			return
		}
		h.logger.Warn("live subscription dropped; retrying", zap.Duration("retry_in", h.retryDelay), zap.Error(err))

		select {
		case <-ctx.Done():
			return
		case <-time.After(h.retryDelay):
		}
		// Changes may have been missed while disconnected.
		h.broadcast()
	}
}

func (h *Hub) broadcast() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subscribers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
