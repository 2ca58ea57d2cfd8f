package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NotificationListener holds a dedicated connection LISTENing on one channel.
type NotificationListener struct {
	db      *pgxpool.Pool
	channel string
}

// NewNotificationListener creates a listener for the given NOTIFY channel.
func NewNotificationListener(db *pgxpool.Pool, channel string) *NotificationListener {
	return &NotificationListener{db: db, channel: channel}
}

// Subscribe takes a connection out of the pool, issues LISTEN and calls onChange for every
// notification until ctx is cancelled or the connection fails. The connection is closed
// rather than returned to the pool, since it still carries the LISTEN registration.
func (l *NotificationListener) Subscribe(ctx context.Context, onChange func()) error {
	pooled, err := l.db.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listen connection: %w", err)
	}
	conn := pooled.Hijack()
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, listenStatement(l.channel)); err != nil {
		return fmt.Errorf("listen on %s: %w", l.channel, err)
	}

	for {
		if _, err := conn.WaitForNotification(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("wait for notification on %s: %w", l.channel, err)
		}
		onChange()
	}
}

func listenStatement(channel string) string {
	return "LISTEN " + pgx.Identifier{channel}.Sanitize()
}
