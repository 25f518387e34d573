package service

import (
	"context"
	"fmt"
	"strings"

	"payments-webhook/internal/models"
	"payments-webhook/internal/util"

	"go.uber.org/zap"
)

// PaymentRepository is the slice of the data store the reconciler needs.
// Lookups return nil, nil when nothing matches.
type PaymentRepository interface {
	GetIntentByProviderPaymentID(ctx context.Context, providerPaymentID string) (*models.PaymentIntent, error)
	GetLatestIntentForBooking(ctx context.Context, bookingID string) (*models.PaymentIntent, error)
	ApplyReconciliation(ctx context.Context, w *models.ReconciliationWrite) error
}

// EntityResolver maps a gateway payment to local booking and intent records
type EntityResolver struct {
	repo   PaymentRepository
	logger *zap.Logger
}

// NewEntityResolver creates a new entity resolver
func NewEntityResolver(repo PaymentRepository) *EntityResolver {
	return &EntityResolver{
		repo:   repo,
		logger: util.GetLogger(),
	}
}

// ResolveBookingID returns the booking referenced by the payment: the
// external reference first, then metadata. "" means unresolvable.
func (r *EntityResolver) ResolveBookingID(detail *models.PaymentDetail) string {
	if detail == nil {
		return ""
	}
	if ref := strings.TrimSpace(detail.ExternalReference); ref != "" {
		return ref
	}
	return strings.TrimSpace(detail.Metadata.BookingID)
}

// ResolveIntent finds the intent linked to paymentID, falling back to the
// latest intent of the booking. nil means no intent matched either way.
func (r *EntityResolver) ResolveIntent(ctx context.Context, paymentID, bookingID string) (*models.PaymentIntent, error) {
	ctx, span := util.StartSpan(ctx, "EntityResolver.ResolveIntent")
	defer span.End()

	if paymentID != "" {
		intent, err := r.repo.GetIntentByProviderPaymentID(ctx, paymentID)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve intent by payment id: %w", err)
		}
		if intent != nil {
			return intent, nil
		}
	}

	if bookingID == "" {
		return nil, nil
	}

	intent, err := r.repo.GetLatestIntentForBooking(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve intent by booking: %w", err)
	}
	if intent != nil {
		r.logger.Debug("Intent resolved by booking fallback",
			zap.String("payment_id", paymentID),
			zap.String("booking_id", bookingID),
			zap.String("intent_id", intent.ID))
	}
	return intent, nil
}
