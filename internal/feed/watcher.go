package feed

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/transfa/donation-service/internal/store"
)

// Watcher is one mounted feed reader. It performs an initial read, then re-reads the
// whole list on every change signal until its context is cancelled.
type Watcher struct {
	reader store.SupportReader
	logger *zap.Logger

	mu      sync.RWMutex
	view    View
	fetched bool
	updates chan View
	done    chan struct{}
}

// Mount subscribes to notifier and starts the watcher. Cancelling ctx unmounts it.
func Mount(ctx context.Context, reader store.SupportReader, notifier Notifier, logger *zap.Logger) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &Watcher{
		reader:  reader,
		logger:  logger.With(zap.String("component", "feed_watcher")),
		view:    LoadingView(),
		updates: make(chan View, 1),
		done:    make(chan struct{}),
	}

	// Subscribe before the first read so a change during it is not lost.
	changes, unsubscribe := notifier.Subscribe()
	go w.loop(ctx, changes, unsubscribe)
	return w
}

// View returns the current state.
func (w *Watcher) View() View {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.view
}

// Updates delivers the latest view after each read. Only the newest pending view is kept.
// The channel is closed on unmount.
func (w *Watcher) Updates() <-chan View {
	return w.updates
}

// Done is closed once the watcher has unsubscribed.
func (w *Watcher) Done() <-chan struct{} {
	return w.done
}

func (w *Watcher) loop(ctx context.Context, changes <-chan struct{}, unsubscribe func()) {
	defer close(w.done)
	defer close(w.updates)
	defer unsubscribe()

	w.refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-changes:
			w.refresh(ctx)
		}
	}
}

func (w *Watcher) refresh(ctx context.Context) {
	entries, err := w.reader.ListSupportEntries(ctx)
	if ctx.Err() != nil {
		return
	}

	w.mu.Lock()
	if err != nil {
		w.logger.Error("error fetching words of support", zap.Error(err))
		if !w.fetched {
			w.view = BuildView(nil)
		}
	} else {
		w.view = BuildView(entries)
	}
	w.fetched = true
	view := w.view
	w.mu.Unlock()

	w.publish(view)
}

func (w *Watcher) publish(view View) {
	select {
	case <-w.updates:
	default:
	}
	w.updates <- view
}
