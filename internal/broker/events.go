package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"payments-webhook/internal/models"
	"payments-webhook/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventPublisher handles publishing reconciliation events. Dead letters go to
// their own topic so the replay worker never sees domain events.
type EventPublisher struct {
	events     *Producer
	deadLetter *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(events, deadLetter *Producer) *EventPublisher {
	return &EventPublisher{events: events, deadLetter: deadLetter}
}

// PublishPaymentReconciled publishes PaymentReconciled event
func (ep *EventPublisher) PublishPaymentReconciled(ctx context.Context, event *models.PaymentReconciledEvent) error {
	return ep.events.PublishEvent(ctx, "booking-"+event.BookingID, event)
}

// PublishWebhookDeadLetter publishes WebhookDeadLetter event
func (ep *EventPublisher) PublishWebhookDeadLetter(ctx context.Context, event *models.WebhookDeadLetterEvent) error {
	return ep.deadLetter.PublishEvent(ctx, deadLetterKey(event), event)
}

// deadLetterKey keeps redeliveries of one payment on one partition
func deadLetterKey(event *models.WebhookDeadLetterEvent) string {
	switch {
	case event.Gateway != nil:
		return fmt.Sprintf("%s-%s", event.Provider, event.Gateway.PaymentID)
	case event.Mock != nil:
		return fmt.Sprintf("%s-%s", event.Provider, event.Mock.BookingID)
	}
	return event.Provider
}

// EventHandler handles incoming events
type EventHandler struct {
	onWebhookDeadLetter func(context.Context, *models.WebhookDeadLetterEvent) error
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{}
}

// OnWebhookDeadLetter registers a handler for WebhookDeadLetter events
func (eh *EventHandler) OnWebhookDeadLetter(handler func(context.Context, *models.WebhookDeadLetterEvent) error) {
	eh.onWebhookDeadLetter = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	logger := util.GetLogger()
	logger.Debug("Handling event",
		zap.String("event_type", baseEvent.EventType),
		zap.String("event_id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypeWebhookDeadLetter:
		if eh.onWebhookDeadLetter != nil {
			var event models.WebhookDeadLetterEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal WebhookDeadLetter event: %w", err)
			}
			return eh.onWebhookDeadLetter(ctx, &event)
		}

	default:
		logger.Warn("Unhandled event type", zap.String("event_type", baseEvent.EventType))
	}

	return nil
}
