package app

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"
	"go.uber.org/zap"

	"github.com/transfa/donation-service/internal/apperror"
	"github.com/transfa/donation-service/internal/domain"
)

type stubSessionCreator struct {
	session *stripe.CheckoutSession
	err     error
	calls   int
	params  *stripe.CheckoutSessionParams
}

func (s *stubSessionCreator) New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	s.calls++
	s.params = params
	return s.session, s.err
}

func validCheckoutRequest() domain.CheckoutRequest {
	return domain.CheckoutRequest{
		CategoryID: "cat-1",
		DonorName:  "Alice",
		Amount:     decimal.RequireFromString("25"),
	}
}

func TestCreateSession_BuildsLineItemAndMetadata(t *testing.T) {
	creator := &stubSessionCreator{session: &stripe.CheckoutSession{
		ID:           "cs_test_1",
		URL:          "https://checkout.stripe.com/c/pay/cs_test_1",
		ClientSecret: "secret_1",
	}}
	svc := NewCheckoutService(creator, "eur", zap.NewNop())

	req := validCheckoutRequest()
	message := "  " + strings.Repeat("x", 160) + "  "
	req.WordsOfSupport = &message

	resp, err := svc.CreateSession(context.Background(), req, "https://donate.example.org/")
	require.NoError(t, err)

	assert.True(t, resp.Success)
	assert.Equal(t, "cs_test_1", resp.SessionID)
	assert.Equal(t, "https://checkout.stripe.com/c/pay/cs_test_1", resp.CheckoutURL)
	require.NotNil(t, resp.ClientSecret)
	assert.Equal(t, "secret_1", *resp.ClientSecret)

	require.Equal(t, 1, creator.calls)
	params := creator.params
	assert.Equal(t, "payment", *params.Mode)
	assert.Equal(t, []*string{stripe.String("card")}, params.PaymentMethodTypes)
	assert.Equal(t, "https://donate.example.org/success?session_id={CHECKOUT_SESSION_ID}", *params.SuccessURL)
	assert.Equal(t, "https://donate.example.org/", *params.CancelURL)
	assert.NotNil(t, params.Context)

	require.Len(t, params.LineItems, 1)
	item := params.LineItems[0]
	assert.Equal(t, int64(1), *item.Quantity)
	assert.Equal(t, "eur", *item.PriceData.Currency)
	assert.Equal(t, int64(2500), *item.PriceData.UnitAmount)
	assert.Equal(t, "Donation from Alice", *item.PriceData.ProductData.Name)
	assert.Equal(t, "Support for category donation", *item.PriceData.ProductData.Description)

	assert.Equal(t, "cat-1", params.Metadata[domain.MetadataCategoryID])
	assert.Equal(t, "Alice", params.Metadata[domain.MetadataDonorName])
	assert.Equal(t, "false", params.Metadata[domain.MetadataIsAnonymous])
	assert.Equal(t, strings.Repeat("x", 150), params.Metadata[domain.MetadataWordsOfSupport])
}

func TestCreateSession_AnonymousDonationAndCallerURLs(t *testing.T) {
	creator := &stubSessionCreator{session: &stripe.CheckoutSession{ID: "cs_test_2", URL: "https://checkout.stripe.com/x"}}
	svc := NewCheckoutService(creator, "", zap.NewNop())

	req := validCheckoutRequest()
	req.IsAnonymous = true
	req.Amount = decimal.RequireFromString("10.555")
	req.SuccessURL = "https://app.example.org/thanks"
	req.CancelURL = "https://app.example.org/donate"
	blank := "   "
	req.WordsOfSupport = &blank

	resp, err := svc.CreateSession(context.Background(), req, "")
	require.NoError(t, err)
	assert.Nil(t, resp.ClientSecret)

	params := creator.params
	assert.Equal(t, "https://app.example.org/thanks", *params.SuccessURL)
	assert.Equal(t, "https://app.example.org/donate", *params.CancelURL)
	assert.Equal(t, int64(1056), *params.LineItems[0].PriceData.UnitAmount)
	assert.Equal(t, "Donation from Alice", *params.LineItems[0].PriceData.ProductData.Name)
	assert.Equal(t, domain.AnonymousDisplayName, params.Metadata[domain.MetadataDonorName])
	assert.Equal(t, "true", params.Metadata[domain.MetadataIsAnonymous])
	_, hasMessage := params.Metadata[domain.MetadataWordsOfSupport]
	assert.False(t, hasMessage)
}

func TestCreateSession_RejectsInvalidIntent(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*domain.CheckoutRequest)
		wantField string
	}{
		{name: "missing category", mutate: func(r *domain.CheckoutRequest) { r.CategoryID = "  " }, wantField: "category_id"},
		{name: "missing donor name", mutate: func(r *domain.CheckoutRequest) { r.DonorName = "" }, wantField: "donor_name"},
		{name: "zero amount", mutate: func(r *domain.CheckoutRequest) { r.Amount = decimal.Zero }, wantField: "amount"},
		{name: "negative amount", mutate: func(r *domain.CheckoutRequest) { r.Amount = decimal.RequireFromString("-5") }, wantField: "amount"},
		{name: "amount above maximum", mutate: func(r *domain.CheckoutRequest) { r.Amount = decimal.RequireFromString("1000000") }, wantField: "amount"},
		{name: "amount overflowing cents", mutate: func(r *domain.CheckoutRequest) { r.Amount = decimal.RequireFromString("184467440737095516.17") }, wantField: "amount"},
		{name: "relative success url", mutate: func(r *domain.CheckoutRequest) { r.SuccessURL = "/thanks" }, wantField: "success_url"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			creator := &stubSessionCreator{}
			svc := NewCheckoutService(creator, "eur", zap.NewNop())

			req := validCheckoutRequest()
			tc.mutate(&req)

			_, err := svc.CreateSession(context.Background(), req, "https://donate.example.org")
			require.Error(t, err)
			assert.ErrorIs(t, err, apperror.ErrInvalidRequest)
			assert.Equal(t, "Invalid donation data", apperror.PublicMessage(err))
			assert.Equal(t, 0, creator.calls)

			var requestErr *apperror.RequestError
			require.True(t, errors.As(err, &requestErr))
			require.NotEmpty(t, requestErr.Fields)
			assert.Contains(t, requestErr.Fields[0], tc.wantField)
		})
	}
}

func TestCreateSession_AcceptsMaximumAmount(t *testing.T) {
	creator := &stubSessionCreator{session: &stripe.CheckoutSession{ID: "cs_max", URL: "https://checkout.stripe.com/c/pay/cs_max"}}
	svc := NewCheckoutService(creator, "eur", zap.NewNop())

	req := validCheckoutRequest()
	req.Amount = decimal.RequireFromString("999999.99")

	_, err := svc.CreateSession(context.Background(), req, "https://donate.example.org")
	require.NoError(t, err)
	require.NotNil(t, creator.params)
	assert.Equal(t, int64(domain.MaxMinorUnits), *creator.params.LineItems[0].PriceData.UnitAmount)
}

func TestCreateSession_RejectsAmountBelowOneCent(t *testing.T) {
	creator := &stubSessionCreator{}
	svc := NewCheckoutService(creator, "eur", zap.NewNop())

	req := validCheckoutRequest()
	req.Amount = decimal.RequireFromString("0.004")

	_, err := svc.CreateSession(context.Background(), req, "")
	assert.ErrorIs(t, err, apperror.ErrInvalidRequest)
	assert.Equal(t, 0, creator.calls)
}

func TestCreateSession_MissingCheckoutURL(t *testing.T) {
	creator := &stubSessionCreator{session: &stripe.CheckoutSession{ID: "cs_test_3"}}
	svc := NewCheckoutService(creator, "eur", zap.NewNop())

	_, err := svc.CreateSession(context.Background(), validCheckoutRequest(), "")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperror.ErrUpstream)
	assert.Equal(t, "Stripe did not return a checkout URL", apperror.PublicMessage(err))
}

func TestCreateSession_WithoutClientIsConfigurationError(t *testing.T) {
	svc := NewCheckoutService(nil, "eur", zap.NewNop())

	_, err := svc.CreateSession(context.Background(), validCheckoutRequest(), "")
	assert.ErrorIs(t, err, apperror.ErrNotConfigured)
}

func TestCreateSession_NormalizesUpstreamErrors(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantMsg string
	}{
		{
			name:    "authentication failure",
			err:     &stripe.Error{HTTPStatusCode: 401, Msg: "Invalid API Key provided"},
			wantMsg: StripeConnectionHint,
		},
		{
			name:    "network failure",
			err:     &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")},
			wantMsg: StripeConnectionHint,
		},
		{
			name:    "retry exhaustion message",
			err:     errors.New("Request was retried 2 times"),
			wantMsg: StripeConnectionHint,
		},
		{
			name:    "connection message",
			err:     errors.New("An error occurred with our connection to Stripe"),
			wantMsg: StripeConnectionHint,
		},
		{
			name:    "other stripe error passes through",
			err:     &stripe.Error{HTTPStatusCode: 400, Msg: "Amount must be at least €0.50 eur"},
			wantMsg: "Amount must be at least €0.50 eur",
		},
		{
			name:    "plain error passes through",
			err:     errors.New("boom"),
			wantMsg: "boom",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			creator := &stubSessionCreator{err: tc.err}
			svc := NewCheckoutService(creator, "eur", zap.NewNop())

			_, err := svc.CreateSession(context.Background(), validCheckoutRequest(), "")
			require.Error(t, err)
			assert.ErrorIs(t, err, apperror.ErrUpstream)
			assert.ErrorIs(t, err, tc.err)
			assert.Equal(t, tc.wantMsg, apperror.PublicMessage(err))
		})
	}
}

func TestBuildSessionParams_AnonymousProductNameWhenDonorNameEmpty(t *testing.T) {
	req := validCheckoutRequest()
	req.DonorName = ""

	params := BuildSessionParams(req, "https://donate.example.org", "eur")
	assert.Equal(t, "Anonymous Donation", *params.LineItems[0].PriceData.ProductData.Name)
	assert.Equal(t, "https://donate.example.org/", *params.CancelURL)
}
