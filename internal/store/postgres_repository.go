/**
 * @description
 * This file provides the PostgreSQL implementation of the store interfaces.
 * Numeric columns travel as text in both directions so amounts keep their exact
 * decimal representation regardless of the pool's query execution mode.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - github.com/shopspring/decimal: For exact monetary arithmetic.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/transfa/donation-service/internal/domain"
)

var (
	ErrCategoryNotFound = errors.New("category not found")
)

// PostgresRepository is a concrete implementation of Repository for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Ping verifies that the pool can reach the database.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

// InsertDonation writes a donation row. Redelivered webhooks for the same Stripe session
// hit the unique index and report inserted=false without touching the table.
func (r *PostgresRepository) InsertDonation(ctx context.Context, donation *domain.Donation) (bool, error) {
	if donation == nil {
		return false, errors.New("donation is required")
	}
	if donation.ID == uuid.Nil {
		donation.ID = uuid.New()
	}

	query := `
		INSERT INTO donations (id, category_id, donor_name, is_anonymous, amount, words_of_support, stripe_session_id)
		VALUES ($1, $2, $3, $4, $5::numeric, $6, $7)
		ON CONFLICT (stripe_session_id) DO NOTHING
		RETURNING created_at
	`
	err := r.db.QueryRow(
		ctx,
		query,
		donation.ID,
		donation.CategoryID,
		donation.DonorName,
		donation.IsAnonymous,
		donation.Amount.StringFixed(2),
		donation.WordsOfSupport,
		donation.StripeSessionID,
	).Scan(&donation.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// IncrementCategoryAmount adds amount to the category total in a single statement.
func (r *PostgresRepository) IncrementCategoryAmount(ctx context.Context, categoryID string, amount decimal.Decimal) (domain.CategoryTotal, error) {
	query := `
		UPDATE categories
		SET current_amount = COALESCE(current_amount, 0) + $2::numeric,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING id, current_amount::text, updated_at
	`
	total, err := scanCategoryTotal(r.db.QueryRow(ctx, query, categoryID, amount.StringFixed(2)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.CategoryTotal{}, ErrCategoryNotFound
		}
		return domain.CategoryTotal{}, err
	}
	return total, nil
}

// ListSupportEntries returns every donation with a non-blank message, newest first.
func (r *PostgresRepository) ListSupportEntries(ctx context.Context) ([]domain.SupportEntry, error) {
	query := `
		SELECT id, donor_name, is_anonymous, words_of_support, created_at
		FROM donations
		WHERE words_of_support IS NOT NULL
		  AND btrim(words_of_support) <> ''
		ORDER BY created_at DESC
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.SupportEntry, 0)
	for rows.Next() {
		var entry domain.SupportEntry
		if err := rows.Scan(&entry.ID, &entry.DonorName, &entry.IsAnonymous, &entry.WordsOfSupport, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// RecomputeCategoryTotals resets every category total to the sum of its donations.
func (r *PostgresRepository) RecomputeCategoryTotals(ctx context.Context) ([]domain.CategoryTotal, error) {
	query := `
		UPDATE categories c
		SET current_amount = sums.total,
		    updated_at = NOW()
		FROM (
			SELECT cat.id, COALESCE(SUM(d.amount), 0) AS total
			FROM categories cat
			LEFT JOIN donations d ON d.category_id = cat.id
			GROUP BY cat.id
		) AS sums
		WHERE c.id = sums.id
		  AND c.current_amount IS DISTINCT FROM sums.total
		RETURNING c.id, c.current_amount::text, c.updated_at
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	corrected := make([]domain.CategoryTotal, 0)
	for rows.Next() {
		total, err := scanCategoryTotal(rows)
		if err != nil {
			return nil, err
		}
		corrected = append(corrected, total)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return corrected, nil
}

func scanCategoryTotal(row pgx.Row) (domain.CategoryTotal, error) {
	var (
		total  domain.CategoryTotal
		amount string
	)
	if err := row.Scan(&total.CategoryID, &amount, &total.UpdatedAt); err != nil {
		return domain.CategoryTotal{}, err
	}
	parsed, err := parseAmount(amount)
	if err != nil {
		return domain.CategoryTotal{}, err
	}
	total.CurrentAmount = parsed
	return total, nil
}

func parseAmount(raw string) (decimal.Decimal, error) {
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse numeric %q: %w", raw, err)
	}
	return value, nil
}
