/**
 * @description
 * Checkout initiation: validates a donation intent and turns it into a Stripe hosted
 * checkout session whose metadata carries everything the webhook needs later.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/stripe/stripe-go/v82"
	"go.uber.org/zap"

	"github.com/transfa/donation-service/internal/apperror"
	"github.com/transfa/donation-service/internal/domain"
)

const (
	invalidDonationMessage    = "Invalid donation data"
	missingCheckoutURLMessage = "Stripe did not return a checkout URL"
	// StripeConnectionHint replaces connectivity and authentication failures from Stripe.
	StripeConnectionHint = "Stripe connection failed. Check that STRIPE_SECRET_KEY is correct (sk_test_... or sk_live_...) in the donation-service secrets, then try again."

	anonymousProductName = "Anonymous Donation"
	productDescription   = "Support for category donation"
)

var stripeConnectionPattern = regexp.MustCompile(`(?i)connection to Stripe|StripeConnectionError|retried`)

// SessionCreator creates Stripe checkout sessions. *session.Client satisfies it.
type SessionCreator interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// CheckoutService creates hosted checkout sessions for donation intents.
type CheckoutService struct {
	sessions SessionCreator
	validate *validator.Validate
	currency string
	logger   *zap.Logger
}

// NewCheckoutService wires the checkout initiator. A nil sessions client makes every
// request fail with a configuration error.
func NewCheckoutService(sessions SessionCreator, currency string, logger *zap.Logger) *CheckoutService {
	if logger == nil {
		logger = zap.NewNop()
	}
	currency = strings.ToLower(strings.TrimSpace(currency))
	if currency == "" {
		currency = "eur"
	}
	return &CheckoutService{
		sessions: sessions,
		validate: NewValidator(),
		currency: currency,
		logger:   logger.With(zap.String("component", "checkout")),
	}
}

// CreateSession validates req and creates a checkout session. origin is the caller's
// Origin header and is used to derive default redirect URLs.
func (s *CheckoutService) CreateSession(ctx context.Context, req domain.CheckoutRequest, origin string) (domain.CheckoutResponse, error) {
	req.Normalize()
	if err := s.validate.Struct(req); err != nil {
		s.logger.Info("rejected donation intent", zap.String("outcome", "reject"), zap.Error(err))
		return domain.CheckoutResponse{}, apperror.InvalidRequest(invalidDonationMessage, err)
	}
	if req.Amount.GreaterThan(domain.MaxDonationAmount) {
		s.logger.Info("rejected donation intent", zap.String("outcome", "reject"), zap.String("reason", "amount_above_maximum"))
		return domain.CheckoutResponse{}, apperror.InvalidRequest(invalidDonationMessage, nil)
	}
	minor := domain.MinorUnits(req.Amount)
	if minor <= 0 {
		s.logger.Info("rejected donation intent", zap.String("outcome", "reject"), zap.String("reason", "amount_below_minor_unit"))
		return domain.CheckoutResponse{}, apperror.InvalidRequest(invalidDonationMessage, nil)
	}
	if s.sessions == nil {
		return domain.CheckoutResponse{}, fmt.Errorf("stripe client: %w", apperror.ErrNotConfigured)
	}

	params := BuildSessionParams(req, origin, s.currency)
	params.Context = ctx

	sess, err := s.sessions.New(params)
	if err != nil {
		s.logger.Error("create checkout session failed", zap.String("category_id", req.CategoryID), zap.Error(err))
		return domain.CheckoutResponse{}, normalizeUpstreamError(err)
	}
	if sess == nil || sess.URL == "" {
		s.logger.Error("checkout session has no url", zap.String("category_id", req.CategoryID))
		return domain.CheckoutResponse{}, &apperror.UpstreamError{Message: missingCheckoutURLMessage}
	}

	s.logger.Info("checkout session created",
		zap.String("session_id", sess.ID),
		zap.String("category_id", req.CategoryID),
		zap.Int64("unit_amount", minor),
	)

	resp := domain.CheckoutResponse{Success: true, SessionID: sess.ID, CheckoutURL: sess.URL}
	if sess.ClientSecret != "" {
		secret := sess.ClientSecret
		resp.ClientSecret = &secret
	}
	return resp, nil
}

// BuildSessionParams maps a validated donation intent onto Stripe session parameters.
func BuildSessionParams(req domain.CheckoutRequest, origin, currency string) *stripe.CheckoutSessionParams {
	base := strings.TrimSuffix(strings.TrimSpace(origin), "/")
	successURL := req.SuccessURL
	if successURL == "" {
		successURL = base + "/success?session_id={CHECKOUT_SESSION_ID}"
	}
	cancelURL := req.CancelURL
	if cancelURL == "" {
		cancelURL = base + "/"
	}

	productName := anonymousProductName
	if req.DonorName != "" {
		productName = "Donation from " + req.DonorName
	}

	return &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String(currency),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name:        stripe.String(productName),
						Description: stripe.String(productDescription),
					},
					UnitAmount: stripe.Int64(domain.MinorUnits(req.Amount)),
				},
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(successURL),
		CancelURL:  stripe.String(cancelURL),
		Metadata:   SessionMetadata(req),
	}
}

// SessionMetadata builds the metadata bag that carries the donation intent to the webhook.
func SessionMetadata(req domain.CheckoutRequest) map[string]string {
	donorName := req.DonorName
	if req.IsAnonymous {
		donorName = domain.AnonymousDisplayName
	}
	metadata := map[string]string{
		domain.MetadataCategoryID:  req.CategoryID,
		domain.MetadataDonorName:   donorName,
		domain.MetadataIsAnonymous: strconv.FormatBool(req.IsAnonymous),
	}
	if req.WordsOfSupport != nil {
		if message := domain.NormalizeSupportMessage(*req.WordsOfSupport); message != nil {
			metadata[domain.MetadataWordsOfSupport] = *message
		}
	}
	return metadata
}

func normalizeUpstreamError(err error) error {
	if isStripeConnectivityError(err) {
		return &apperror.UpstreamError{Message: StripeConnectionHint, Err: err}
	}

	message := err.Error()
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) && stripeErr.Msg != "" {
		message = stripeErr.Msg
	}
	return &apperror.UpstreamError{Message: message, Err: err}
}

func isStripeConnectivityError(err error) bool {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.HTTPStatusCode == http.StatusUnauthorized {
			return true
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return stripeConnectionPattern.MatchString(err.Error())
}
