package models

import (
	"database/sql"
	"time"
)

// Payment is the single payment row kept per booking
type Payment struct {
	ID                int64          `db:"id" json:"id"`
	BookingID         string         `db:"booking_id" json:"booking_id"`
	Provider          string         `db:"provider" json:"provider"`
	Status            string         `db:"status" json:"status"`
	ProviderPaymentID sql.NullString `db:"provider_payment_id" json:"provider_payment_id,omitempty"`
	UpdatedAt         time.Time      `db:"updated_at" json:"updated_at"`
}

// Booking carries only the fields this service reads or writes
type Booking struct {
	ID     string `db:"id" json:"id"`
	Status string `db:"status" json:"status"`
}

// PaymentIntent is an attempt to pay that predates the provider's webhook
type PaymentIntent struct {
	ID                string         `db:"id" json:"id"`
	BookingID         string         `db:"booking_id" json:"booking_id"`
	ProviderPaymentID sql.NullString `db:"provider_payment_id" json:"provider_payment_id,omitempty"`
	Status            string         `db:"status" json:"status"`
	CreatedAt         time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at" json:"updated_at"`
}

// Providers
const (
	ProviderMock        = "mock"
	ProviderMercadoPago = "mercadopago"
)

// Payment statuses
const (
	PaymentStatusPending   = "pending"
	PaymentStatusCompleted = "completed"
	PaymentStatusFailed    = "failed"
	PaymentStatusRefunded  = "refunded"
)

// Booking statuses. Only confirmed and cancelled are ever written here.
const (
	BookingStatusPending   = "pending"
	BookingStatusConfirmed = "confirmed"
	BookingStatusCancelled = "cancelled"
)

// NormalizedStatus is a provider status translated into local states
type NormalizedStatus struct {
	PaymentStatus string `json:"payment_status"`
	BookingStatus string `json:"booking_status"`
}

// ReconciliationWrite describes the writes applied for one webhook event.
// An empty BookingStatus leaves the booking untouched. An empty IntentID
// updates every intent of the booking.
type ReconciliationWrite struct {
	BookingID         string
	Provider          string
	PaymentStatus     string
	BookingStatus     string
	ProviderPaymentID string
	IntentID          string
}

// PaymentDetail is the authoritative payment as reported by the gateway
type PaymentDetail struct {
	ID                int64           `json:"id"`
	Status            string          `json:"status"`
	StatusDetail      string          `json:"status_detail"`
	ExternalReference string          `json:"external_reference"`
	TransactionAmount float64         `json:"transaction_amount"`
	CurrencyID        string          `json:"currency_id"`
	Metadata          PaymentMetadata `json:"metadata"`
}

type PaymentMetadata struct {
	BookingID string `json:"booking_id"`
}

// ClaimState is the idempotency ledger state observed by a claim
type ClaimState string

const (
	ClaimFree       ClaimState = "free"
	ClaimProcessing ClaimState = "processing"
	ClaimProcessed  ClaimState = "processed"
)

// ErrorReport is what the orchestrator hands to the telemetry sink
type ErrorReport struct {
	Stage     string
	Provider  string
	PaymentID string
	BookingID string
	DedupKey  string
	Err       error
}
