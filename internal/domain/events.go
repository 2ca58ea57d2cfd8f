package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Routing keys published on the donation events exchange.
const (
	RoutingKeyDonationRecorded = "donation.recorded"
)

// DonationRecordedEvent is published after a donation row has been inserted.
type DonationRecordedEvent struct {
	DonationID        uuid.UUID       `json:"donation_id"`
	CategoryID        string          `json:"category_id"`
	Amount            decimal.Decimal `json:"amount"`
	IsAnonymous       bool            `json:"is_anonymous"`
	HasSupportMessage bool            `json:"has_support_message"`
	StripeSessionID   string          `json:"stripe_session_id,omitempty"`
	OccurredAt        time.Time       `json:"occurred_at"`
}
