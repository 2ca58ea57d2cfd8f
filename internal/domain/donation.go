/**
 * @description
 * This file defines the core domain models for the donation-service: the donation
 * intent sent by the browser, the donation record written by the webhook receiver,
 * and the support-feed entries read back for display.
 *
 * @notes
 * - Amounts are carried as shopspring decimals in major currency units. Conversion
 *   to and from the processor's minor units happens only at the Stripe boundary.
 * - The checkout session metadata bag is the only channel carrying donation intent
 *   from initiation to the webhook, so its keys are defined here once.
 */
package domain

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	// MaxSupportMessageLength caps words of support, counted in characters.
	MaxSupportMessageLength = 150
	// AnonymousDisplayName replaces the donor name for anonymous donations.
	AnonymousDisplayName = "Anonymous"
	// MaxMinorUnits is the largest unit amount Stripe accepts on a line item.
	MaxMinorUnits = 99999999
)

// MaxDonationAmount is MaxMinorUnits in major units.
var MaxDonationAmount = decimal.New(MaxMinorUnits, -2)

// Checkout session metadata keys.
const (
	MetadataCategoryID     = "category_id"
	MetadataDonorName      = "donor_name"
	MetadataIsAnonymous    = "is_anonymous"
	MetadataWordsOfSupport = "words_of_support"
)

// CheckoutRequest is the donation intent posted by the browser.
type CheckoutRequest struct {
	CategoryID     string          `json:"category_id" validate:"required"`
	DonorName      string          `json:"donor_name" validate:"required"`
	Amount         decimal.Decimal `json:"amount" validate:"gt=0,lte=999999.99"`
	IsAnonymous    bool            `json:"is_anonymous"`
	WordsOfSupport *string         `json:"words_of_support,omitempty"`
	SuccessURL     string          `json:"success_url,omitempty" validate:"omitempty,url"`
	CancelURL      string          `json:"cancel_url,omitempty" validate:"omitempty,url"`
}

// Normalize trims the free-text identity fields in place.
func (r *CheckoutRequest) Normalize() {
	r.CategoryID = strings.TrimSpace(r.CategoryID)
	r.DonorName = strings.TrimSpace(r.DonorName)
	r.SuccessURL = strings.TrimSpace(r.SuccessURL)
	r.CancelURL = strings.TrimSpace(r.CancelURL)
}

// CheckoutResponse mirrors the payload the front end expects after a session is created.
type CheckoutResponse struct {
	Success      bool    `json:"success"`
	SessionID    string  `json:"sessionId"`
	CheckoutURL  string  `json:"checkoutUrl"`
	ClientSecret *string `json:"clientSecret"`
}

// Donation is a row of the donations table.
type Donation struct {
	ID              uuid.UUID       `json:"id"`
	CategoryID      string          `json:"category_id"`
	DonorName       string          `json:"donor_name"`
	IsAnonymous     bool            `json:"is_anonymous"`
	Amount          decimal.Decimal `json:"amount"`
	WordsOfSupport  *string         `json:"words_of_support,omitempty"`
	StripeSessionID *string         `json:"stripe_session_id,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// CategoryTotal is the running total of a category after a mutation.
type CategoryTotal struct {
	CategoryID    string          `json:"category_id"`
	CurrentAmount decimal.Decimal `json:"current_amount"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// SupportEntry is a donation that carries a message of support.
type SupportEntry struct {
	ID             uuid.UUID `json:"id"`
	DonorName      string    `json:"donor_name"`
	IsAnonymous    bool      `json:"is_anonymous"`
	WordsOfSupport string    `json:"words_of_support"`
	CreatedAt      time.Time `json:"created_at"`
}

// DisplayName returns the attribution shown next to the message.
func (e SupportEntry) DisplayName() string {
	if e.IsAnonymous {
		return AnonymousDisplayName
	}
	return e.DonorName
}

// NormalizeSupportMessage trims the message and caps it at MaxSupportMessageLength
// characters. Empty and whitespace-only messages are reported as absent.
func NormalizeSupportMessage(raw string) *string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}
	if utf8.RuneCountInString(trimmed) > MaxSupportMessageLength {
		runes := []rune(trimmed)
		trimmed = string(runes[:MaxSupportMessageLength])
	}
	return &trimmed
}

// MinorUnits converts a major-unit amount to integer cents, rounding half away from zero.
// Callers must bound amount by MaxDonationAmount first; larger values overflow int64.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

// MajorUnits converts integer cents back to a major-unit amount.
func MajorUnits(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}
