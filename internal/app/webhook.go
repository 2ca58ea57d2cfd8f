/**
 * @description
 * Webhook processing for Stripe checkout completions. The processor verifies the
 * signature over the raw payload, extracts the donation intent from the session
 * metadata, records the donation and bumps the category total.
 *
 * @notes
 * - Only the donation insert can fail the delivery. A failed total update is logged
 *   and left for the reconciliation job.
 * - Verified events that cannot be turned into a donation are acknowledged, since a
 *   retry would carry the same payload.
 */
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
	"go.uber.org/zap"

	"github.com/transfa/donation-service/internal/apperror"
	"github.com/transfa/donation-service/internal/domain"
	"github.com/transfa/donation-service/internal/store"
)

// Outcome describes what the processor did with a verified event.
type Outcome string

const (
	OutcomeRecorded  Outcome = "recorded"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeDuplicate Outcome = "duplicate"
)

// EventPublisher publishes domain events. rabbitmq.Publisher satisfies it.
type EventPublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
}

// WebhookProcessor turns verified checkout completions into donation records.
type WebhookProcessor struct {
	secret    string
	repo      store.DonationWriter
	publisher EventPublisher
	exchange  string
	logger    *zap.Logger
	now       func() time.Time
}

// NewWebhookProcessor wires the webhook receiver. publisher may be nil.
func NewWebhookProcessor(secret string, repo store.DonationWriter, publisher EventPublisher, exchange string, logger *zap.Logger) *WebhookProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookProcessor{
		secret:    strings.TrimSpace(secret),
		repo:      repo,
		publisher: publisher,
		exchange:  exchange,
		logger:    logger.With(zap.String("component", "stripe_webhook")),
		now:       time.Now,
	}
}

// Process verifies and handles one webhook delivery.
func (p *WebhookProcessor) Process(ctx context.Context, payload []byte, signature string) (Outcome, error) {
	if p.secret == "" || p.repo == nil {
		p.logger.Error("webhook secret or repository missing")
		return "", fmt.Errorf("stripe webhook: %w", apperror.ErrNotConfigured)
	}

	event, err := VerifyEvent(payload, signature, p.secret)
	if err != nil {
		p.logger.Warn("signature verification failed", zap.String("outcome", "reject"), zap.Error(err))
		return "", err
	}

	if event.Type != stripe.EventTypeCheckoutSessionCompleted {
		p.logger.Debug("ignoring event", zap.String("event_id", event.ID), zap.String("event_type", string(event.Type)))
		return OutcomeIgnored, nil
	}

	var session stripe.CheckoutSession
	if event.Data == nil || len(event.Data.Raw) == 0 {
		p.logger.Error("checkout event without session object", zap.String("event_id", event.ID), zap.String("outcome", "skip"))
		return OutcomeSkipped, nil
	}
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		p.logger.Error("decode checkout session failed", zap.String("event_id", event.ID), zap.String("outcome", "skip"), zap.Error(err))
		return OutcomeSkipped, nil
	}

	donation, ok := DonationFromSession(&session)
	if !ok {
		p.logger.Error("missing category_id or invalid amount in session",
			zap.String("session_id", session.ID),
			zap.Int64("amount_total", session.AmountTotal),
			zap.String("outcome", "skip"),
		)
		return OutcomeSkipped, nil
	}

	inserted, err := p.repo.InsertDonation(ctx, donation)
	if err != nil {
		p.logger.Error("failed to insert donation", zap.String("session_id", session.ID), zap.Error(err))
		return "", &apperror.PersistenceError{Op: "insert donation", Err: err}
	}
	if !inserted {
		p.logger.Info("duplicate delivery for session", zap.String("session_id", session.ID), zap.String("outcome", "duplicate"))
		return OutcomeDuplicate, nil
	}

	total, err := p.repo.IncrementCategoryAmount(ctx, donation.CategoryID, donation.Amount)
	if err != nil {
		p.logger.Error("failed to update category current_amount",
			zap.String("category_id", donation.CategoryID),
			zap.String("amount", donation.Amount.StringFixed(2)),
			zap.Error(err),
		)
	} else {
		p.logger.Info("category total updated",
			zap.String("category_id", total.CategoryID),
			zap.String("current_amount", total.CurrentAmount.StringFixed(2)),
		)
	}

	p.publishRecorded(ctx, donation)

	p.logger.Info("donation recorded",
		zap.String("donation_id", donation.ID.String()),
		zap.String("session_id", session.ID),
		zap.String("category_id", donation.CategoryID),
		zap.String("amount", donation.Amount.StringFixed(2)),
		zap.String("outcome", string(OutcomeRecorded)),
	)
	return OutcomeRecorded, nil
}

func (p *WebhookProcessor) publishRecorded(ctx context.Context, donation *domain.Donation) {
	if p.publisher == nil || p.exchange == "" {
		return
	}
	event := domain.DonationRecordedEvent{
		DonationID:        donation.ID,
		CategoryID:        donation.CategoryID,
		Amount:            donation.Amount,
		IsAnonymous:       donation.IsAnonymous,
		HasSupportMessage: donation.WordsOfSupport != nil,
		OccurredAt:        p.now().UTC(),
	}
	if donation.StripeSessionID != nil {
		event.StripeSessionID = *donation.StripeSessionID
	}
	if err := p.publisher.Publish(ctx, p.exchange, domain.RoutingKeyDonationRecorded, event); err != nil {
		p.logger.Warn("failed to publish donation event",
			zap.String("exchange", p.exchange),
			zap.String("routing_key", domain.RoutingKeyDonationRecorded),
			zap.Error(err),
		)
	}
}

// VerifyEvent checks the Stripe-Signature header against the raw payload and decodes the event.
func VerifyEvent(payload []byte, signature, secret string) (stripe.Event, error) {
	if strings.TrimSpace(signature) == "" {
		return stripe.Event{}, fmt.Errorf("%w: missing Stripe-Signature", apperror.ErrInvalidSignature)
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, secret, webhook.ConstructEventOptions{
		Tolerance:                webhook.DefaultTolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return stripe.Event{}, fmt.Errorf("%w: %w", apperror.ErrInvalidSignature, err)
	}
	return event, nil
}

// DonationFromSession extracts the donation carried in a completed session's metadata.
// ok is false when the category is missing or the amount is not positive.
func DonationFromSession(session *stripe.CheckoutSession) (*domain.Donation, bool) {
	if session == nil {
		return nil, false
	}
	metadata := session.Metadata
	categoryID := strings.TrimSpace(metadata[domain.MetadataCategoryID])
	amount := domain.MajorUnits(session.AmountTotal)
	if categoryID == "" || !amount.IsPositive() {
		return nil, false
	}

	donorName, present := metadata[domain.MetadataDonorName]
	if !present {
		donorName = domain.AnonymousDisplayName
	}

	donation := &domain.Donation{
		ID:             uuid.New(),
		CategoryID:     categoryID,
		DonorName:      donorName,
		IsAnonymous:    metadata[domain.MetadataIsAnonymous] == "true",
		Amount:         amount,
		WordsOfSupport: domain.NormalizeSupportMessage(metadata[domain.MetadataWordsOfSupport]),
	}
	if session.ID != "" {
		sessionID := session.ID
		donation.StripeSessionID = &sessionID
	}
	return donation, true
}
