package feed

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/transfa/donation-service/internal/domain"
	"github.com/transfa/donation-service/internal/store"
)

// EmptyStateText is shown when no donation carries a message.
const EmptyStateText = "No messages yet. Leave a note when you donate to show your support."

// Entry is one rendered message of support.
type Entry struct {
	ID          uuid.UUID `json:"id"`
	DisplayName string    `json:"display_name"`
	Message     string    `json:"message"`
	CreatedAt   time.Time `json:"created_at"`
}

// View is the state of a mounted feed.
type View struct {
	Loading      bool    `json:"loading"`
	Entries      []Entry `json:"entries"`
	EmptyMessage string  `json:"empty_message,omitempty"`
}

// LoadingView is the placeholder shown until the first read completes.
func LoadingView() View {
	return View{Loading: true, Entries: []Entry{}}
}

// BuildView renders support entries, newest first as given, dropping blank messages.
func BuildView(entries []domain.SupportEntry) View {
	view := View{Entries: make([]Entry, 0, len(entries))}
	for _, e := range entries {
		if strings.TrimSpace(e.WordsOfSupport) == "" {
			continue
		}
		view.Entries = append(view.Entries, Entry{
			ID:          e.ID,
			DisplayName: e.DisplayName(),
			Message:     e.WordsOfSupport,
			CreatedAt:   e.CreatedAt,
		})
	}
	if len(view.Entries) == 0 {
		view.EmptyMessage = EmptyStateText
	}
	return view
}

// Snapshot performs a single read. A failed read renders the empty state.
func Snapshot(ctx context.Context, reader store.SupportReader, logger *zap.Logger) View {
	entries, err := reader.ListSupportEntries(ctx)
	if err != nil {
		if logger != nil {
			logger.Error("error fetching words of support", zap.String("component", "feed"), zap.Error(err))
		}
		return BuildView(nil)
	}
	return BuildView(entries)
}
