package api

import (
	"bufio"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"
	"go.uber.org/zap"

	"github.com/transfa/donation-service/internal/app"
	"github.com/transfa/donation-service/internal/domain"
	"github.com/transfa/donation-service/internal/feed"
	"github.com/transfa/donation-service/internal/store"
)

const testSecret = "whsec_api_test"

type stubRepo struct {
	store.Repository

	mu         sync.Mutex
	inserted   []domain.Donation
	increments map[string]decimal.Decimal
	insertErr  error
	entries    []domain.SupportEntry
	readErr    error
	pingErr    error
}

func newStubRepo() *stubRepo {
	return &stubRepo{increments: map[string]decimal.Decimal{}}
}

func (s *stubRepo) InsertDonation(ctx context.Context, donation *domain.Donation) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return false, s.insertErr
	}
	s.inserted = append(s.inserted, *donation)
	return true, nil
}

func (s *stubRepo) IncrementCategoryAmount(ctx context.Context, categoryID string, amount decimal.Decimal) (domain.CategoryTotal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.increments[categoryID] = s.increments[categoryID].Add(amount)
	return domain.CategoryTotal{CategoryID: categoryID, CurrentAmount: s.increments[categoryID]}, nil
}

func (s *stubRepo) ListSupportEntries(ctx context.Context) ([]domain.SupportEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return nil, s.readErr
	}
	return append([]domain.SupportEntry(nil), s.entries...), nil
}

func (s *stubRepo) Ping(ctx context.Context) error {
	return s.pingErr
}

func (s *stubRepo) setEntries(entries []domain.SupportEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = entries
}

func (s *stubRepo) writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inserted) + len(s.increments)
}

type stubSessions struct {
	session *stripe.CheckoutSession
	err     error
}

func (s *stubSessions) New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	return s.session, s.err
}

type stubReconciler struct {
	corrected []domain.CategoryTotal
	err       error
}

func (s *stubReconciler) Reconcile(ctx context.Context) ([]domain.CategoryTotal, error) {
	return s.corrected, s.err
}

type testServer struct {
	router  http.Handler
	repo    *stubRepo
	hub     *feed.Hub
}

type testOptions struct {
	sessions     app.SessionCreator
	secret       string
	limiter      app.RateLimiter
	adminSecret  string
	reconciler   TotalsReconciler
	repo         *stubRepo
	notifySource feed.Source
}

func newTestServer(t *testing.T, opts testOptions) *testServer {
	t.Helper()
	repo := opts.repo
	if repo == nil {
		repo = newStubRepo()
	}
	secret := opts.secret
	if secret == "" {
		secret = testSecret
	}
	if opts.sessions == nil {
		opts.sessions = &stubSessions{session: &stripe.CheckoutSession{ID: "cs_test_1", URL: "https://checkout.stripe.com/c/pay/cs_test_1"}}
	}
	logger := zap.NewNop()
	hub := feed.NewHub(opts.notifySource, logger)
	t.Cleanup(hub.Close)

	h := NewHandler(Dependencies{
		Checkout:   app.NewCheckoutService(opts.sessions, "eur", logger),
		Webhooks:   app.NewWebhookProcessor(secret, repo, nil, "", logger),
		Support:    repo,
		Changes:    hub,
		Reconciler: opts.reconciler,
		Health:     repo,
		Logger:     logger,
		KeepAlive:  time.Hour,
	})
	router := NewRouter(h, RouterConfig{
		AdminJWTSecret:  opts.adminSecret,
		CheckoutLimiter: opts.limiter,
		Logger:          logger,
	})
	return &testServer{router: router, repo: repo, hub: hub}
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), "body: %s", rec.Body.String())
	return body
}

func stripeEvent(t *testing.T, eventType string, amountTotal int64, metadata map[string]string) []byte {
	t.Helper()
	payload, err := json.Marshal(map[string]interface{}{
		"id":          "evt_api_1",
		"object":      "event",
		"type":        eventType,
		"api_version": "2020-08-27",
		"data": map[string]interface{}{
			"object": map[string]interface{}{
				"id":           "cs_api_1",
				"object":       "checkout.session",
				"amount_total": amountTotal,
				"metadata":     metadata,
			},
		},
	})
	require.NoError(t, err)
	return payload
}

func sign(payload []byte, secret string) string {
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func webhookRequest(payload []byte, signature string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/stripe-webhook", strings.NewReader(string(payload)))
	if signature != "" {
		req.Header.Set("Stripe-Signature", signature)
	}
	return req
}

func TestProcessDonation_Options(t *testing.T) {
	srv := newTestServer(t, testOptions{})

	rec := srv.do(httptest.NewRequest(http.MethodOptions, "/process-donation", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "X-Client-Info")
}

func TestProcessDonation_CreatesSession(t *testing.T) {
	srv := newTestServer(t, testOptions{})

	body := `{"category_id":"cat-1","donor_name":"Alice","amount":25,"is_anonymous":false,"words_of_support":"Go go go"}`
	req := httptest.NewRequest(http.MethodPost, "/process-donation", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", "https://donate.example.org")

	rec := srv.do(req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decodeBody(t, rec)
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, "cs_test_1", resp["sessionId"])
	assert.Equal(t, "https://checkout.stripe.com/c/pay/cs_test_1", resp["checkoutUrl"])
	assert.Nil(t, resp["clientSecret"])
}

func TestProcessDonation_RejectsInvalidIntent(t *testing.T) {
	srv := newTestServer(t, testOptions{})

	for _, body := range []string{
		`{"category_id":"cat-1","donor_name":"Alice","amount":0,"is_anonymous":false}`,
		`{"donor_name":"Alice","amount":10,"is_anonymous":false}`,
		`{"category_id":"cat-1","donor_name":"Alice","amount":184467440737095516.17,"is_anonymous":false}`,
		`not json`,
	} {
		rec := srv.do(httptest.NewRequest(http.MethodPost, "/process-donation", strings.NewReader(body)))
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Equal(t, "Invalid donation data", decodeBody(t, rec)["error"], body)
	}
}

func TestProcessDonation_ReportsFieldErrors(t *testing.T) {
	srv := newTestServer(t, testOptions{})

	body := `{"category_id":"cat-1","donor_name":"Alice","amount":-3,"is_anonymous":false}`
	rec := srv.do(httptest.NewRequest(http.MethodPost, "/process-donation", strings.NewReader(body)))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	resp := decodeBody(t, rec)
	fields, ok := resp["fields"].([]interface{})
	require.True(t, ok)
	require.Len(t, fields, 1)
	assert.Equal(t, map[string]interface{}{"amount": "must be greater than zero"}, fields[0])
}

func TestProcessDonation_NormalizesUpstreamFailure(t *testing.T) {
	srv := newTestServer(t, testOptions{sessions: &stubSessions{err: &stripe.Error{HTTPStatusCode: 401, Msg: "Invalid API Key"}}})

	body := `{"category_id":"cat-1","donor_name":"Alice","amount":25,"is_anonymous":false}`
	rec := srv.do(httptest.NewRequest(http.MethodPost, "/process-donation", strings.NewReader(body)))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, app.StripeConnectionHint, decodeBody(t, rec)["error"])
}

func TestStripeWebhook_MethodNotAllowed(t *testing.T) {
	srv := newTestServer(t, testOptions{})

	rec := srv.do(httptest.NewRequest(http.MethodGet, "/stripe-webhook", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "Method not allowed", strings.TrimSpace(rec.Body.String()))
}

func TestStripeWebhook_MissingSignature(t *testing.T) {
	srv := newTestServer(t, testOptions{})

	rec := srv.do(webhookRequest([]byte(`{}`), ""))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Missing Stripe-Signature", strings.TrimSpace(rec.Body.String()))
}

func TestStripeWebhook_TamperedBodyIsRejectedWithoutWrites(t *testing.T) {
	srv := newTestServer(t, testOptions{})

	payload := stripeEvent(t, "checkout.session.completed", 2500, map[string]string{"category_id": "cat-1", "donor_name": "Alice", "is_anonymous": "false"})
	signature := sign(payload, testSecret)
	tampered := []byte(strings.Replace(string(payload), "Alice", "Mallory", 1))

	rec := srv.do(webhookRequest(tampered, signature))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, srv.repo.writes())
}

func TestStripeWebhook_RecordsDonation(t *testing.T) {
	srv := newTestServer(t, testOptions{})

	payload := stripeEvent(t, "checkout.session.completed", 2500, map[string]string{"category_id": "cat-1", "donor_name": "Alice", "is_anonymous": "false"})
	rec := srv.do(webhookRequest(payload, sign(payload, testSecret)))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, map[string]interface{}{"received": true}, decodeBody(t, rec))

	require.Len(t, srv.repo.inserted, 1)
	assert.True(t, srv.repo.inserted[0].Amount.Equal(decimal.RequireFromString("25.00")))
	assert.Equal(t, "Alice", srv.repo.inserted[0].DonorName)
	assert.True(t, srv.repo.increments["cat-1"].Equal(decimal.RequireFromString("25.00")))
}

func TestStripeWebhook_AcknowledgesWithoutWrites(t *testing.T) {
	tests := []struct {
		name    string
		payload func(t *testing.T) []byte
	}{
		{name: "other event type", payload: func(t *testing.T) []byte {
			return stripeEvent(t, "charge.refunded", 2500, map[string]string{"category_id": "cat-1"})
		}},
		{name: "zero amount", payload: func(t *testing.T) []byte {
			return stripeEvent(t, "checkout.session.completed", 0, map[string]string{"category_id": "cat-1"})
		}},
		{name: "missing category", payload: func(t *testing.T) []byte {
			return stripeEvent(t, "checkout.session.completed", 2500, map[string]string{"donor_name": "Alice"})
		}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := newTestServer(t, testOptions{})
			payload := tc.payload(t)

			rec := srv.do(webhookRequest(payload, sign(payload, testSecret)))
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, map[string]interface{}{"received": true}, decodeBody(t, rec))
			assert.Zero(t, srv.repo.writes())
		})
	}
}

func TestStripeWebhook_InsertFailureReturns500(t *testing.T) {
	repo := newStubRepo()
	repo.insertErr = errors.New("insert or update on table \"donations\" violates foreign key constraint")
	srv := newTestServer(t, testOptions{repo: repo})

	payload := stripeEvent(t, "checkout.session.completed", 2500, map[string]string{"category_id": "cat-x"})
	rec := srv.do(webhookRequest(payload, sign(payload, testSecret)))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "failed to insert donation", decodeBody(t, rec)["error"])
}

func TestStripeWebhook_MissingSecret(t *testing.T) {
	srv := newTestServer(t, testOptions{secret: " "})

	payload := stripeEvent(t, "checkout.session.completed", 2500, map[string]string{"category_id": "cat-1"})
	rec := srv.do(webhookRequest(payload, sign(payload, testSecret)))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Server configuration error", strings.TrimSpace(rec.Body.String()))
}

func TestWordsOfSupportSnapshot(t *testing.T) {
	repo := newStubRepo()
	srv := newTestServer(t, testOptions{repo: repo})

	rec := srv.do(httptest.NewRequest(http.MethodGet, "/words-of-support", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, feed.EmptyStateText, body["empty_message"])
	assert.Equal(t, false, body["loading"])

	repo.setEntries([]domain.SupportEntry{
		{ID: uuid.New(), DonorName: "Alice", IsAnonymous: true, WordsOfSupport: "Rooting for you", CreatedAt: time.Now()},
	})
	rec = srv.do(httptest.NewRequest(http.MethodGet, "/words-of-support", nil))
	body = decodeBody(t, rec)
	entries, ok := body["entries"].([]interface{})
	require.True(t, ok)
	require.Len(t, entries, 1)
	assert.Equal(t, "Anonymous", entries[0].(map[string]interface{})["display_name"])
	assert.Nil(t, body["empty_message"])
}

type manualSource struct {
	mu       sync.Mutex
	onChange func()
	ready    chan struct{}
	once     sync.Once
}

func (s *manualSource) Subscribe(ctx context.Context, onChange func()) error {
	s.mu.Lock()
	s.onChange = onChange
	s.mu.Unlock()
	s.once.Do(func() { close(s.ready) })
	<-ctx.Done()
	return ctx.Err()
}

func (s *manualSource) fire() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange()
}

type sseEvent struct {
	name string
	view feed.View
}

func readSSE(t *testing.T, events <-chan sseEvent) sseEvent {
	t.Helper()
	select {
	case ev, ok := <-events:
		require.True(t, ok, "stream closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return sseEvent{}
	}
}

func TestWordsOfSupportStream(t *testing.T) {
	repo := newStubRepo()
	source := &manualSource{ready: make(chan struct{})}
	srv := newTestServer(t, testOptions{repo: repo, notifySource: source})

	server := httptest.NewServer(srv.router)
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/words-of-support/stream", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := make(chan sseEvent)
	go func() {
		defer close(events)
		scanner := bufio.NewScanner(resp.Body)
		var current sseEvent
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case strings.HasPrefix(line, "event: "):
				current.name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				_ = json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &current.view)
			case line == "" && current.name != "":
				events <- current
				current = sseEvent{}
			}
		}
	}()

	loading := readSSE(t, events)
	assert.Equal(t, "words-of-support", loading.name)
	assert.True(t, loading.view.Loading)

	initial := readSSE(t, events)
	assert.False(t, initial.view.Loading)
	assert.Equal(t, feed.EmptyStateText, initial.view.EmptyMessage)

	select {
	case <-source.ready:
	case <-time.After(2 * time.Second):
		t.Fatal("live subscription was not opened")
	}

	repo.setEntries([]domain.SupportEntry{{ID: uuid.New(), DonorName: "Bob", WordsOfSupport: "Proud of this team", CreatedAt: time.Now()}})
	source.fire()

	updated := readSSE(t, events)
	require.Len(t, updated.view.Entries, 1)
	assert.Equal(t, "Bob", updated.view.Entries[0].DisplayName)

	cancel()
	require.Eventually(t, func() bool { return srv.hub.Subscribers() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHealth(t *testing.T) {
	repo := newStubRepo()
	srv := newTestServer(t, testOptions{repo: repo})

	rec := srv.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	repo.pingErr = errors.New("connection refused")
	rec = srv.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
