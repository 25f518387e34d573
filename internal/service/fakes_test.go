package service

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"payments-webhook/config"
	"payments-webhook/internal/models"
	"payments-webhook/internal/redisclient"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

// fakeRepo mirrors the store's write semantics in memory
type fakeRepo struct {
	mu       sync.Mutex
	payments map[string]*models.Payment
	bookings map[string]string
	intents  map[string]*models.PaymentIntent
	writes   []models.ReconciliationWrite
	reads    int

	applyErr  error
	readErr   error
	applyHook func()
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		payments: make(map[string]*models.Payment),
		bookings: make(map[string]string),
		intents:  make(map[string]*models.PaymentIntent),
	}
}

func (f *fakeRepo) addBooking(id, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bookings[id] = status
}

func (f *fakeRepo) addIntent(id, bookingID, providerPaymentID string, createdAt time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.intents[id] = &models.PaymentIntent{
		ID:                id,
		BookingID:         bookingID,
		ProviderPaymentID: sql.NullString{String: providerPaymentID, Valid: providerPaymentID != ""},
		Status:            models.PaymentStatusPending,
		CreatedAt:         createdAt,
	}
}

func (f *fakeRepo) GetIntentByProviderPaymentID(_ context.Context, providerPaymentID string) (*models.PaymentIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	if f.readErr != nil {
		return nil, f.readErr
	}
	for _, intent := range f.intents {
		if intent.ProviderPaymentID.Valid && intent.ProviderPaymentID.String == providerPaymentID {
			cp := *intent
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeRepo) GetLatestIntentForBooking(_ context.Context, bookingID string) (*models.PaymentIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	if f.readErr != nil {
		return nil, f.readErr
	}
	var latest *models.PaymentIntent
	for _, intent := range f.intents {
		if intent.BookingID != bookingID {
			continue
		}
		if latest == nil || intent.CreatedAt.After(latest.CreatedAt) {
			latest = intent
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (f *fakeRepo) ApplyReconciliation(_ context.Context, w *models.ReconciliationWrite) error {
	if f.applyHook != nil {
		f.applyHook()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.applyErr != nil {
		return f.applyErr
	}
	f.writes = append(f.writes, *w)

	payment, ok := f.payments[w.BookingID]
	if !ok {
		payment = &models.Payment{BookingID: w.BookingID}
		f.payments[w.BookingID] = payment
	}
	payment.Provider = w.Provider
	payment.Status = w.PaymentStatus
	if w.ProviderPaymentID != "" {
		payment.ProviderPaymentID = sql.NullString{String: w.ProviderPaymentID, Valid: true}
	}

	if w.BookingStatus != "" {
		f.bookings[w.BookingID] = w.BookingStatus
	}

	for _, intent := range f.intents {
		if w.IntentID != "" && intent.ID != w.IntentID {
			continue
		}
		if w.IntentID == "" && intent.BookingID != w.BookingID {
			continue
		}
		intent.Status = w.PaymentStatus
		if w.IntentID != "" && !intent.ProviderPaymentID.Valid && w.ProviderPaymentID != "" {
			intent.ProviderPaymentID = sql.NullString{String: w.ProviderPaymentID, Valid: true}
		}
	}
	return nil
}

func (f *fakeRepo) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

func (f *fakeRepo) intent(id string) models.PaymentIntent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.intents[id]
}

// fakeGateway serves canned payment details
type fakeGateway struct {
	mu      sync.Mutex
	details map[string]*models.PaymentDetail
	err     error
	calls   int
}

func (g *fakeGateway) FetchPaymentDetail(_ context.Context, paymentID string) (*models.PaymentDetail, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	detail, ok := g.details[paymentID]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	cp := *detail
	return &cp, nil
}

type fakePublisher struct {
	mu          sync.Mutex
	reconciled  []*models.PaymentReconciledEvent
	deadLetters []*models.WebhookDeadLetterEvent
}

func (p *fakePublisher) PublishPaymentReconciled(_ context.Context, event *models.PaymentReconciledEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reconciled = append(p.reconciled, event)
	return nil
}

func (p *fakePublisher) PublishWebhookDeadLetter(_ context.Context, event *models.WebhookDeadLetterEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deadLetters = append(p.deadLetters, event)
	return nil
}

type fakeReporter struct {
	mu      sync.Mutex
	reports []models.ErrorReport
}

func (r *fakeReporter) Report(_ context.Context, report models.ErrorReport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report)
}

func (r *fakeReporter) stages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	stages := make([]string, 0, len(r.reports))
	for _, report := range r.reports {
		stages = append(stages, report.Stage)
	}
	return stages
}

const testSecret = "TEST_WEBHOOK_SECRET"

var testLedgerConfig = config.LedgerConfig{ProcessingTTLSeconds: 60, ProcessedTTLSeconds: 30 * 24 * 60 * 60}

type harness struct {
	reconciler *Reconciler
	repo       *fakeRepo
	gateway    *fakeGateway
	publisher  *fakePublisher
	reporter   *fakeReporter
	redis      *miniredis.Miniredis
}

func newHarness(t *testing.T, mode string) *harness {
	t.Helper()
	return newHarnessWithGateway(t, config.GatewayConfig{WebhookSecret: testSecret, SignatureMode: mode})
}

func newHarnessWithGateway(t *testing.T, gatewayCfg config.GatewayConfig) *harness {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client, err := redisclient.NewClient(mr.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	h := &harness{
		repo:      newFakeRepo(),
		gateway:   &fakeGateway{details: make(map[string]*models.PaymentDetail)},
		publisher: &fakePublisher{},
		reporter:  &fakeReporter{},
		redis:     mr,
	}

	verifier := NewSignatureVerifier(gatewayCfg)
	ledger := NewIdempotencyLedger(client, testLedgerConfig)
	h.reconciler = NewReconciler(verifier, ledger, h.gateway, h.repo, h.publisher, h.reporter)
	return h
}

func (h *harness) ledgerValue(t *testing.T, key string) string {
	t.Helper()
	if !h.redis.Exists(key) {
		return ""
	}
	val, err := h.redis.Get(key)
	require.NoError(t, err)
	return val
}
