package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"payments-webhook/internal/models"
)

// GetIntentByProviderPaymentID returns the intent already linked to a
// provider payment, or nil when none is.
func (s *Store) GetIntentByProviderPaymentID(ctx context.Context, providerPaymentID string) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	err := s.db.GetContext(ctx, &intent, `
		SELECT id, booking_id, provider_payment_id, status, created_at, updated_at
		FROM payment_intents
		WHERE provider_payment_id = $1
		ORDER BY created_at DESC
		LIMIT 1`, providerPaymentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get intent by provider payment id: %w", err)
	}
	return &intent, nil
}

// GetLatestIntentForBooking returns the most recently created intent of a
// booking, or nil when the booking has none.
func (s *Store) GetLatestIntentForBooking(ctx context.Context, bookingID string) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	err := s.db.GetContext(ctx, &intent, `
		SELECT id, booking_id, provider_payment_id, status, created_at, updated_at
		FROM payment_intents
		WHERE booking_id = $1
		ORDER BY created_at DESC
		LIMIT 1`, bookingID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest intent for booking: %w", err)
	}
	return &intent, nil
}

// ApplyReconciliation writes the payment, booking and intent updates of one
// webhook event in a single transaction, in that order.
func (s *Store) ApplyReconciliation(ctx context.Context, w *models.ReconciliationWrite) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	providerPaymentID := sql.NullString{String: w.ProviderPaymentID, Valid: w.ProviderPaymentID != ""}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO payments (booking_id, provider, status, provider_payment_id, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (booking_id) DO UPDATE SET
			provider = EXCLUDED.provider,
			status = EXCLUDED.status,
			provider_payment_id = COALESCE(EXCLUDED.provider_payment_id, payments.provider_payment_id),
			updated_at = NOW()`,
		w.BookingID, w.Provider, w.PaymentStatus, providerPaymentID)
	if err != nil {
		return fmt.Errorf("failed to upsert payment: %w", err)
	}

	if w.BookingStatus != "" {
		_, err = tx.ExecContext(ctx,
			"UPDATE bookings SET status = $1 WHERE id = $2",
			w.BookingStatus, w.BookingID)
		if err != nil {
			return fmt.Errorf("failed to update booking status: %w", err)
		}
	}

	if w.IntentID != "" {
		_, err = tx.ExecContext(ctx, `
			UPDATE payment_intents
			SET status = $1, provider_payment_id = COALESCE(provider_payment_id, $2), updated_at = NOW()
			WHERE id = $3`,
			w.PaymentStatus, providerPaymentID, w.IntentID)
	} else {
		_, err = tx.ExecContext(ctx,
			"UPDATE payment_intents SET status = $1, updated_at = NOW() WHERE booking_id = $2",
			w.PaymentStatus, w.BookingID)
	}
	if err != nil {
		return fmt.Errorf("failed to update payment intent: %w", err)
	}

	return tx.Commit()
}
