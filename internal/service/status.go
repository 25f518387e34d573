package service

import "payments-webhook/internal/models"

// statusTable maps gateway payment statuses to local states. Statuses not
// listed are unsupported and must be added here explicitly.
var statusTable = map[string]models.NormalizedStatus{
	"approved":     {PaymentStatus: models.PaymentStatusCompleted, BookingStatus: models.BookingStatusConfirmed},
	"rejected":     {PaymentStatus: models.PaymentStatusFailed, BookingStatus: models.BookingStatusCancelled},
	"cancelled":    {PaymentStatus: models.PaymentStatusFailed, BookingStatus: models.BookingStatusCancelled},
	"pending":      {PaymentStatus: models.PaymentStatusPending, BookingStatus: models.BookingStatusPending},
	"in_process":   {PaymentStatus: models.PaymentStatusPending, BookingStatus: models.BookingStatusPending},
	"refunded":     {PaymentStatus: models.PaymentStatusRefunded, BookingStatus: models.BookingStatusCancelled},
	"charged_back": {PaymentStatus: models.PaymentStatusRefunded, BookingStatus: models.BookingStatusCancelled},
}

// NormalizeStatus returns the local payment and booking states for a
// provider status, and false when the status is unsupported.
func NormalizeStatus(providerStatus string) (*models.NormalizedStatus, bool) {
	normalized, ok := statusTable[providerStatus]
	if !ok {
		return nil, false
	}
	return &normalized, true
}

// writesBookingStatus reports whether a normalized booking state is ever
// written. Pending is not, so a late "still pending" cannot regress a booking.
func writesBookingStatus(bookingStatus string) bool {
	return bookingStatus == models.BookingStatusConfirmed || bookingStatus == models.BookingStatusCancelled
}
