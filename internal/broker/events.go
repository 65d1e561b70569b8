package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"rental-service/internal/models"
	"rental-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventPublisher handles publishing rental domain events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

func orderKey(orderID int64) string {
	return fmt.Sprintf("rental-order-%d", orderID)
}

// PublishOrderConfirmed publishes RentalOrderConfirmed event
func (ep *EventPublisher) PublishOrderConfirmed(ctx context.Context, event *models.RentalOrderConfirmedEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// PublishStatusChanged publishes RentalStatusChanged event
func (ep *EventPublisher) PublishStatusChanged(ctx context.Context, event *models.RentalStatusChangedEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// PublishDefectRegistered publishes DefectRegistered event
func (ep *EventPublisher) PublishDefectRegistered(ctx context.Context, event *models.DefectRegisteredEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// PublishOrderLate publishes RentalOrderLate event
func (ep *EventPublisher) PublishOrderLate(ctx context.Context, event *models.RentalOrderLateEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// EventHandler routes warehouse stock move events
type EventHandler struct {
	onPickupDone func(context.Context, *models.StockMoveEvent) error
	onReturnDone func(context.Context, *models.StockMoveEvent) error
	logger       *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.ComponentLogger("event-handler")}
}

// OnPickupDone registers a handler for RentalPickupDone events
func (eh *EventHandler) OnPickupDone(handler func(context.Context, *models.StockMoveEvent) error) {
	eh.onPickupDone = handler
}

// OnReturnDone registers a handler for RentalReturnDone events
func (eh *EventHandler) OnReturnDone(handler func(context.Context, *models.StockMoveEvent) error) {
	eh.onReturnDone = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	eh.logger.Debug("Handling event",
		zap.String("type", baseEvent.EventType),
		zap.String("event_id", baseEvent.EventID))

	var handler func(context.Context, *models.StockMoveEvent) error
	switch baseEvent.EventType {
	case models.EventTypePickupDone:
		handler = eh.onPickupDone
	case models.EventTypeReturnDone:
		handler = eh.onReturnDone
	default:
		eh.logger.Warn("Unhandled event type", zap.String("type", baseEvent.EventType))
		return nil
	}

	if handler == nil {
		return nil
	}

	var event models.StockMoveEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return fmt.Errorf("failed to unmarshal %s event: %w", baseEvent.EventType, err)
	}
	return handler(ctx, &event)
}
