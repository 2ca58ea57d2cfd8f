package store

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DonationsChangedChannel is the NOTIFY channel raised by the donations_notify trigger.
const DonationsChangedChannel = "donations_changed"

//go:embed schema.sql
var schemaSQL string

// Migrate applies the idempotent donations schema, including the change-notification trigger.
func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	if _, err := db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
