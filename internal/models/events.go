package models

import "time"

// Event types
const (
	EventTypePaymentReconciled = "PAYMENT_RECONCILED"
	EventTypeWebhookDeadLetter = "WEBHOOK_DEAD_LETTER"
)

// Gateway notification types
const (
	GatewayTypePayment = "payment"
)

// WebhookEvent is one inbound payment notification, decoded at the HTTP
// boundary into either a MockEvent or a GatewayEvent.
type WebhookEvent interface {
	ProviderName() string
	isWebhookEvent()
}

// MockEvent comes from the test provider and is trusted as-is
type MockEvent struct {
	BookingID string `json:"booking_id" binding:"required"`
	Status    string `json:"status" binding:"required,oneof=approved rejected"`
}

func (MockEvent) ProviderName() string { return ProviderMock }
func (MockEvent) isWebhookEvent()      {}

// GatewayEvent only tells us that a payment changed; its detail is always
// fetched from the gateway.
type GatewayEvent struct {
	PaymentID string `json:"payment_id"`
	Type      string `json:"type"`
	Action    string `json:"action,omitempty"`
	Signature string `json:"signature,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func (GatewayEvent) ProviderName() string { return ProviderMercadoPago }
func (GatewayEvent) isWebhookEvent()      {}

// BaseEvent contains common fields for all published events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// PaymentReconciledEvent published after a webhook has been applied
type PaymentReconciledEvent struct {
	BaseEvent
	Provider      string `json:"provider"`
	BookingID     string `json:"booking_id"`
	PaymentID     string `json:"payment_id,omitempty"`
	PaymentStatus string `json:"payment_status"`
	BookingStatus string `json:"booking_status"`
}

// WebhookDeadLetterEvent carries a verified webhook that failed with a
// transient error so it can be replayed later.
type WebhookDeadLetterEvent struct {
	BaseEvent
	Provider string        `json:"provider"`
	Mock     *MockEvent    `json:"mock,omitempty"`
	Gateway  *GatewayEvent `json:"gateway,omitempty"`
	Error    string        `json:"error"`
	Attempt  int           `json:"attempt"`
	// NextRetryAt is zero for the first attempt
	NextRetryAt time.Time `json:"next_retry_at,omitempty"`
}

// NewDeadLetterPayload wraps ev into the dead-letter envelope fields
func NewDeadLetterPayload(ev WebhookEvent) (mock *MockEvent, gateway *GatewayEvent) {
	switch e := ev.(type) {
	case MockEvent:
		return &e, nil
	case GatewayEvent:
		return nil, &e
	}
	return nil, nil
}

// WebhookEvent returns the wrapped event, or nil if the envelope is empty
func (e *WebhookDeadLetterEvent) WebhookEvent() WebhookEvent {
	switch {
	case e.Mock != nil:
		return *e.Mock
	case e.Gateway != nil:
		return *e.Gateway
	}
	return nil
}
