package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"payments-webhook/internal/models"
	"payments-webhook/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Outcome is how a webhook delivery ended when it did not fail
type Outcome string

const (
	OutcomeProcessed        Outcome = "processed"
	OutcomeAlreadyProcessed Outcome = "already_processed"
	OutcomeInProgress       Outcome = "in_progress"
	OutcomeIgnored          Outcome = "ignored"
)

// Failure stages reported to the error sink
const (
	StageLedgerClaim   = "ledger_claim"
	StageLedgerCommit  = "ledger_commit"
	StageGatewayFetch  = "gateway_fetch"
	StageResolveIntent = "resolve_intent"
	StageApplyWrites   = "apply_writes"
	StageUnknownEvent  = "unknown_event"
)

// Result describes a delivery that needs no retry from the sender
type Result struct {
	Outcome       Outcome `json:"-"`
	Message       string  `json:"message"`
	Provider      string  `json:"provider"`
	PaymentID     string  `json:"payment_id,omitempty"`
	BookingID     string  `json:"booking_id,omitempty"`
	PaymentStatus string  `json:"payment_status,omitempty"`
	BookingStatus string  `json:"booking_status,omitempty"`
}

// PaymentDetailFetcher is implemented by GatewayClient
type PaymentDetailFetcher interface {
	FetchPaymentDetail(ctx context.Context, paymentID string) (*models.PaymentDetail, error)
}

// EventPublisher is implemented by broker.EventPublisher
type EventPublisher interface {
	PublishPaymentReconciled(ctx context.Context, event *models.PaymentReconciledEvent) error
	PublishWebhookDeadLetter(ctx context.Context, event *models.WebhookDeadLetterEvent) error
}

// ErrorReporter is a fire-and-forget telemetry sink
type ErrorReporter interface {
	Report(ctx context.Context, report models.ErrorReport)
}

// Reconciler applies payment webhooks to payments, bookings and payment
// intents exactly once per dedup key.
type Reconciler struct {
	verifier  *SignatureVerifier
	ledger    *IdempotencyLedger
	gateway   PaymentDetailFetcher
	resolver  *EntityResolver
	repo      PaymentRepository
	publisher EventPublisher
	reporter  ErrorReporter
	logger    *zap.Logger
}

// NewReconciler creates a new reconciler. publisher may be nil.
func NewReconciler(
	verifier *SignatureVerifier,
	ledger *IdempotencyLedger,
	gateway PaymentDetailFetcher,
	repo PaymentRepository,
	publisher EventPublisher,
	reporter ErrorReporter,
) *Reconciler {
	return &Reconciler{
		verifier:  verifier,
		ledger:    ledger,
		gateway:   gateway,
		resolver:  NewEntityResolver(repo),
		repo:      repo,
		publisher: publisher,
		reporter:  reporter,
		logger:    util.GetLogger(),
	}
}

// Process handles one inbound delivery. Gateway events are signature
// checked first; a returned error other than a signature error means the
// sender should retry, and the event has been dead-lettered.
func (r *Reconciler) Process(ctx context.Context, ev models.WebhookEvent) (*Result, error) {
	ctx, span := util.StartSpan(ctx, "Reconciler.Process")
	defer span.End()

	provider := ev.ProviderName()
	util.WebhooksReceivedTotal.WithLabelValues(provider).Inc()
	start := time.Now()
	defer func() {
		util.ReconciliationLatency.WithLabelValues(provider).Observe(time.Since(start).Seconds())
	}()

	if gw, ok := ev.(models.GatewayEvent); ok {
		if err := r.verifier.Verify(gw.PaymentID, gw.Signature, gw.RequestID); err != nil {
			util.WebhookOutcomesTotal.WithLabelValues(provider, "rejected").Inc()
			r.logger.Warn("Webhook signature rejected",
				zap.String("payment_id", gw.PaymentID),
				zap.String("request_id", gw.RequestID),
				zap.Error(err))
			return nil, err
		}
	}

	res, err := r.reconcile(ctx, ev)
	if err != nil {
		util.WebhookOutcomesTotal.WithLabelValues(provider, "failed").Inc()
		r.deadLetter(ctx, ev, err, 1)
		return nil, err
	}

	util.WebhookOutcomesTotal.WithLabelValues(provider, string(res.Outcome)).Inc()
	return res, nil
}

// Replay reprocesses an event that already passed signature verification
func (r *Reconciler) Replay(ctx context.Context, ev models.WebhookEvent) (*Result, error) {
	ctx, span := util.StartSpan(ctx, "Reconciler.Replay")
	defer span.End()

	res, err := r.reconcile(ctx, ev)
	if err != nil {
		util.WebhookOutcomesTotal.WithLabelValues(ev.ProviderName(), "failed").Inc()
		return nil, err
	}
	util.WebhookOutcomesTotal.WithLabelValues(ev.ProviderName(), string(res.Outcome)).Inc()
	return res, nil
}

func (r *Reconciler) reconcile(ctx context.Context, ev models.WebhookEvent) (*Result, error) {
	switch e := ev.(type) {
	case models.MockEvent:
		return r.reconcileMock(ctx, e)
	case models.GatewayEvent:
		return r.reconcileGateway(ctx, e)
	}

	err := fmt.Errorf("unsupported webhook event %T", ev)
	r.reporter.Report(ctx, models.ErrorReport{Stage: StageUnknownEvent, Err: err})
	return nil, err
}

func (r *Reconciler) reconcileMock(ctx context.Context, e models.MockEvent) (*Result, error) {
	res := &Result{Provider: models.ProviderMock, BookingID: e.BookingID}

	normalized, ok := NormalizeStatus(e.Status)
	if !ok {
		res.Outcome = OutcomeIgnored
		res.Message = "Payment status not supported"
		return res, nil
	}

	key := DedupKey(models.ProviderMock, e.BookingID, e.Status)
	return r.withClaim(ctx, key, res, func(ctx context.Context) error {
		write := &models.ReconciliationWrite{
			BookingID:     e.BookingID,
			Provider:      models.ProviderMock,
			PaymentStatus: normalized.PaymentStatus,
		}
		if writesBookingStatus(normalized.BookingStatus) {
			write.BookingStatus = normalized.BookingStatus
		}

		if err := r.repo.ApplyReconciliation(ctx, write); err != nil {
			r.reporter.Report(ctx, models.ErrorReport{
				Stage:     StageApplyWrites,
				Provider:  models.ProviderMock,
				BookingID: e.BookingID,
				DedupKey:  key,
				Err:       err,
			})
			return err
		}

		res.Outcome = OutcomeProcessed
		res.Message = "Mock payment processed"
		res.PaymentStatus = normalized.PaymentStatus
		res.BookingStatus = normalized.BookingStatus
		return nil
	})
}

func (r *Reconciler) reconcileGateway(ctx context.Context, e models.GatewayEvent) (*Result, error) {
	res := &Result{Provider: models.ProviderMercadoPago, PaymentID: e.PaymentID}

	if e.Type != "" && e.Type != models.GatewayTypePayment {
		res.Outcome = OutcomeIgnored
		res.Message = "Event type not supported"
		return res, nil
	}

	detail, err := r.gateway.FetchPaymentDetail(ctx, e.PaymentID)
	if errors.Is(err, ErrPaymentNotFound) {
		r.logger.Warn("Payment not found at gateway, acknowledging",
			zap.String("payment_id", e.PaymentID))
		res.Outcome = OutcomeIgnored
		res.Message = "Payment not found"
		return res, nil
	}
	if err != nil {
		r.reporter.Report(ctx, models.ErrorReport{
			Stage:     StageGatewayFetch,
			Provider:  models.ProviderMercadoPago,
			PaymentID: e.PaymentID,
			Err:       err,
		})
		return nil, err
	}

	normalized, ok := NormalizeStatus(detail.Status)
	if !ok {
		r.logger.Warn("Unsupported gateway payment status",
			zap.String("payment_id", e.PaymentID),
			zap.String("status", detail.Status))
		res.Outcome = OutcomeIgnored
		res.Message = "Payment status not supported"
		return res, nil
	}

	key := DedupKey(models.ProviderMercadoPago, e.PaymentID, detail.Status)
	return r.withClaim(ctx, key, res, func(ctx context.Context) error {
		bookingID := r.resolver.ResolveBookingID(detail)
		if bookingID == "" {
			r.logger.Warn("Payment has no booking reference, acknowledging",
				zap.String("payment_id", e.PaymentID))
			res.Outcome = OutcomeIgnored
			res.Message = "Booking reference not found"
			return nil
		}
		res.BookingID = bookingID

		intent, err := r.resolver.ResolveIntent(ctx, e.PaymentID, bookingID)
		if err != nil {
			r.reporter.Report(ctx, models.ErrorReport{
				Stage:     StageResolveIntent,
				Provider:  models.ProviderMercadoPago,
				PaymentID: e.PaymentID,
				BookingID: bookingID,
				DedupKey:  key,
				Err:       err,
			})
			return err
		}
		if intent == nil {
			r.logger.Warn("Payment intent not found, acknowledging",
				zap.String("payment_id", e.PaymentID),
				zap.String("booking_id", bookingID))
			res.Outcome = OutcomeIgnored
			res.Message = "Payment intent not found"
			return nil
		}

		if intent.BookingID != bookingID {
			r.logger.Warn("Payment booking reference disagrees with linked intent, using intent",
				zap.String("payment_id", e.PaymentID),
				zap.String("booking_id", bookingID),
				zap.String("intent_booking_id", intent.BookingID))
			bookingID = intent.BookingID
			res.BookingID = bookingID
		}

		write := &models.ReconciliationWrite{
			BookingID:         bookingID,
			Provider:          models.ProviderMercadoPago,
			PaymentStatus:     normalized.PaymentStatus,
			ProviderPaymentID: e.PaymentID,
			IntentID:          intent.ID,
		}
		if writesBookingStatus(normalized.BookingStatus) {
			write.BookingStatus = normalized.BookingStatus
		}

		if err := r.repo.ApplyReconciliation(ctx, write); err != nil {
			r.reporter.Report(ctx, models.ErrorReport{
				Stage:     StageApplyWrites,
				Provider:  models.ProviderMercadoPago,
				PaymentID: e.PaymentID,
				BookingID: bookingID,
				DedupKey:  key,
				Err:       err,
			})
			return err
		}

		res.Outcome = OutcomeProcessed
		res.Message = "Gateway payment processed"
		res.PaymentStatus = normalized.PaymentStatus
		res.BookingStatus = normalized.BookingStatus
		return nil
	})
}

// withClaim runs apply while holding key. The key is committed when apply
// succeeds (including acknowledged no-ops) and released when it fails or
// panics.
func (r *Reconciler) withClaim(ctx context.Context, key string, res *Result, apply func(context.Context) error) (*Result, error) {
	state, err := r.ledger.Claim(ctx, key)
	if err != nil {
		r.reporter.Report(ctx, models.ErrorReport{
			Stage:     StageLedgerClaim,
			Provider:  res.Provider,
			PaymentID: res.PaymentID,
			BookingID: res.BookingID,
			DedupKey:  key,
			Err:       err,
		})
		return nil, err
	}

	switch state {
	case models.ClaimProcessed:
		r.logger.Info("Webhook already processed", zap.String("dedup_key", key))
		res.Outcome = OutcomeAlreadyProcessed
		res.Message = "Already processed"
		return res, nil
	case models.ClaimProcessing:
		r.logger.Info("Webhook processing in progress", zap.String("dedup_key", key))
		res.Outcome = OutcomeInProgress
		res.Message = "Processing in progress"
		return res, nil
	}

	// Release must succeed even if the sender hung up mid-request.
	releaseCtx := context.WithoutCancel(ctx)
	defer func() {
		if p := recover(); p != nil {
			r.ledger.Release(releaseCtx, key)
			panic(p)
		}
	}()

	if err := apply(ctx); err != nil {
		r.ledger.Release(releaseCtx, key)
		return nil, err
	}

	if err := r.ledger.Commit(ctx, key); err != nil {
		// The writes are idempotent, so a retry that re-applies them converges.
		r.ledger.Release(releaseCtx, key)
		r.reporter.Report(ctx, models.ErrorReport{
			Stage:     StageLedgerCommit,
			Provider:  res.Provider,
			PaymentID: res.PaymentID,
			BookingID: res.BookingID,
			DedupKey:  key,
			Err:       err,
		})
		return nil, err
	}

	r.logger.Info("Webhook reconciled",
		zap.String("dedup_key", key),
		zap.String("outcome", string(res.Outcome)),
		zap.String("payment_id", res.PaymentID),
		zap.String("booking_id", res.BookingID))

	if res.Outcome == OutcomeProcessed {
		r.publishReconciled(ctx, res)
	}
	return res, nil
}

func (r *Reconciler) publishReconciled(ctx context.Context, res *Result) {
	if r.publisher == nil {
		return
	}

	event := &models.PaymentReconciledEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypePaymentReconciled,
			Timestamp: time.Now(),
		},
		Provider:      res.Provider,
		BookingID:     res.BookingID,
		PaymentID:     res.PaymentID,
		PaymentStatus: res.PaymentStatus,
		BookingStatus: res.BookingStatus,
	}

	if err := r.publisher.PublishPaymentReconciled(ctx, event); err != nil {
		r.logger.Error("Failed to publish PaymentReconciled event",
			zap.String("booking_id", res.BookingID),
			zap.Error(err))
	}
}

// deadLetter hands a failed event to the DLQ for a later replay
func (r *Reconciler) deadLetter(ctx context.Context, ev models.WebhookEvent, cause error, attempt int) {
	if r.publisher == nil {
		return
	}

	mock, gateway := models.NewDeadLetterPayload(ev)
	if mock == nil && gateway == nil {
		return
	}
	event := &models.WebhookDeadLetterEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeWebhookDeadLetter,
			Timestamp: time.Now(),
		},
		Provider: ev.ProviderName(),
		Mock:     mock,
		Gateway:  gateway,
		Error:    cause.Error(),
		Attempt:  attempt,
	}

	if err := r.publisher.PublishWebhookDeadLetter(ctx, event); err != nil {
		r.logger.Error("Failed to publish WebhookDeadLetter event",
			zap.String("provider", ev.ProviderName()),
			zap.Error(err))
	}
}
