package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"storefront/internal/models"

	"github.com/segmentio/kafka-go"
)

// EventPublisher publishes notification and order events. Delivery is
// fire-and-forget from the caller's perspective; publish errors are the
// caller's to log, never to fail a request on.
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishSMSCode publishes an SMSCodeRequested event
func (ep *EventPublisher) PublishSMSCode(ctx context.Context, event *models.SMSCodeEvent) error {
	return ep.producer.PublishEvent(ctx, fmt.Sprintf("sms-%s", event.Mobile), event)
}

// PublishEmailVerify publishes an EmailVerifyRequested event
func (ep *EventPublisher) PublishEmailVerify(ctx context.Context, event *models.EmailVerifyEvent) error {
	return ep.producer.PublishEvent(ctx, fmt.Sprintf("email-%d", event.UserID), event)
}

// PublishOrderPlaced publishes an OrderPlaced event
func (ep *EventPublisher) PublishOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error {
	return ep.producer.PublishEvent(ctx, fmt.Sprintf("order-%s", event.OrderID), event)
}

// EventHandler routes consumed events to registered handlers
type EventHandler struct {
	onSMSCode     func(context.Context, *models.SMSCodeEvent) error
	onEmailVerify func(context.Context, *models.EmailVerifyEvent) error
	onOrderPlaced func(context.Context, *models.OrderPlacedEvent) error
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{}
}

// OnSMSCode registers a handler for SMSCodeRequested events
func (eh *EventHandler) OnSMSCode(handler func(context.Context, *models.SMSCodeEvent) error) {
	eh.onSMSCode = handler
}

// OnEmailVerify registers a handler for EmailVerifyRequested events
func (eh *EventHandler) OnEmailVerify(handler func(context.Context, *models.EmailVerifyEvent) error) {
	eh.onEmailVerify = handler
}

// OnOrderPlaced registers a handler for OrderPlaced events
func (eh *EventHandler) OnOrderPlaced(handler func(context.Context, *models.OrderPlacedEvent) error) {
	eh.onOrderPlaced = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	switch baseEvent.EventType {
	case models.EventTypeSMSCodeRequested:
		if eh.onSMSCode != nil {
			var event models.SMSCodeEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal SMSCode event: %w", err)
			}
			return eh.onSMSCode(ctx, &event)
		}

	case models.EventTypeEmailVerifyRequested:
		if eh.onEmailVerify != nil {
			var event models.EmailVerifyEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal EmailVerify event: %w", err)
			}
			return eh.onEmailVerify(ctx, &event)
		}

	case models.EventTypeOrderPlaced:
		if eh.onOrderPlaced != nil {
			var event models.OrderPlacedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal OrderPlaced event: %w", err)
			}
			return eh.onOrderPlaced(ctx, &event)
		}

	default:
		log.Printf("Unhandled event type: %s", baseEvent.EventType)
	}

	return nil
}
