package app

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/transfa/donation-service/internal/domain"
	"github.com/transfa/donation-service/internal/store"
)

const reconcileTimeout = 2 * time.Minute

// Reconciler brings category totals back in line with the donations ledger. It repairs
// the under-count left when a process dies between the donation insert and the total update.
type Reconciler struct {
	repo   store.TotalsReconciler
	logger *zap.Logger
}

// NewReconciler creates a Reconciler.
func NewReconciler(repo store.TotalsReconciler, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{repo: repo, logger: logger.With(zap.String("component", "reconcile"))}
}

// Reconcile recomputes every category total and returns the ones that changed.
func (r *Reconciler) Reconcile(ctx context.Context) ([]domain.CategoryTotal, error) {
	corrected, err := r.repo.RecomputeCategoryTotals(ctx)
	if err != nil {
		r.logger.Error("recompute category totals failed", zap.Error(err))
		return nil, err
	}
	for _, total := range corrected {
		r.logger.Warn("category total corrected",
			zap.String("category_id", total.CategoryID),
			zap.String("current_amount", total.CurrentAmount.StringFixed(2)),
		)
	}
	r.logger.Info("reconciliation finished", zap.Int("corrected", len(corrected)))
	return corrected, nil
}

// Run is the cron entry point.
func (r *Reconciler) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), reconcileTimeout)
	defer cancel()
	_, _ = r.Reconcile(ctx)
}
