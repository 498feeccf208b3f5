package broker

import (
	"context"
	"fmt"

	"fulfillment-service/internal/models"
)

// EventPublisher handles publishing domain events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishFulfillmentCompleted publishes FulfillmentCompleted event
func (ep *EventPublisher) PublishFulfillmentCompleted(ctx context.Context, event *models.FulfillmentCompletedEvent) error {
	key := fmt.Sprintf("order-%s", event.OrderID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishFulfillmentFailed publishes FulfillmentFailed event
func (ep *EventPublisher) PublishFulfillmentFailed(ctx context.Context, event *models.FulfillmentFailedEvent) error {
	key := fmt.Sprintf("order-%s", event.OrderID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishKeysImported publishes KeysImported event
func (ep *EventPublisher) PublishKeysImported(ctx context.Context, event *models.KeysImportedEvent) error {
	key := fmt.Sprintf("product-%d", event.ProductID)
	return ep.producer.PublishEvent(ctx, key, event)
}
