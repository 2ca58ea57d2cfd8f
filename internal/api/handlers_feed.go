package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/transfa/donation-service/internal/feed"
)

const feedEventName = "words-of-support"

func (h *Handler) handleSupportSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, feed.Snapshot(r.Context(), h.support, h.logger))
}

// handleSupportStream mounts a feed watcher for the lifetime of the connection and
// streams every re-read as a Server-Sent Event.
func (h *Handler) handleSupportStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	ctx := r.Context()
	if err := writeEvent(w, feedEventName, feed.LoadingView()); err != nil {
		return
	}
	flusher.Flush()

	watcher := feed.Mount(ctx, h.support, h.changes, h.logger)
	keepAlive := time.NewTicker(h.keepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case view, ok := <-watcher.Updates():
			if !ok {
				return
			}
			if err := writeEvent(w, feedEventName, view); err != nil {
				h.logger.Debug("support stream write failed", zap.Error(err))
				return
			}
			flusher.Flush()
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, event string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
	return err
}
