/**
 * @description
 * This file defines the data access contracts required by the donation-service.
 * The application layer depends on these narrow interfaces rather than on pgx directly,
 * which keeps the webhook processor, the support feed, and the reconciliation job
 * testable with in-memory stubs.
 *
 * @dependencies
 * - github.com/shopspring/decimal: For monetary amounts.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/transfa/donation-service/internal/domain"
)

// DonationWriter records completed donations and keeps category totals current.
type DonationWriter interface {
	// InsertDonation stores a donation. inserted is false when a donation for the same
	// Stripe session already exists, in which case nothing is written.
	InsertDonation(ctx context.Context, donation *domain.Donation) (inserted bool, err error)
	// IncrementCategoryAmount atomically adds amount to the category's current total.
	IncrementCategoryAmount(ctx context.Context, categoryID string, amount decimal.Decimal) (domain.CategoryTotal, error)
}

// SupportReader reads donations that carry a message of support.
type SupportReader interface {
	ListSupportEntries(ctx context.Context) ([]domain.SupportEntry, error)
}

// TotalsReconciler recomputes category totals from the donations ledger.
type TotalsReconciler interface {
	// RecomputeCategoryTotals returns only the categories whose stored total was corrected.
	RecomputeCategoryTotals(ctx context.Context) ([]domain.CategoryTotal, error)
}

// Repository is the full set of methods backed by PostgreSQL.
type Repository interface {
	DonationWriter
	SupportReader
	TotalsReconciler
	Ping(ctx context.Context) error
}
