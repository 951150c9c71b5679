package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"stall-service/internal/models"
	"stall-service/internal/util"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Publisher sends one keyed event
type Publisher interface {
	PublishEvent(ctx context.Context, key string, event interface{}) error
}

// EventPublisher handles publishing domain events
type EventPublisher struct {
	producer Publisher
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer Publisher) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishReservationConfirmed publishes ReservationConfirmed event
func (ep *EventPublisher) PublishReservationConfirmed(ctx context.Context, event *models.ReservationConfirmedEvent) error {
	key := fmt.Sprintf("reservation-%d", event.ReservationID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishStallCancelled publishes StallCancelled event
func (ep *EventPublisher) PublishStallCancelled(ctx context.Context, event *models.StallCancelledEvent) error {
	key := fmt.Sprintf("stall-%d", event.StallID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishStallToggled publishes StallToggled event
func (ep *EventPublisher) PublishStallToggled(ctx context.Context, event *models.StallToggledEvent) error {
	key := fmt.Sprintf("stall-%d", event.StallID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// EventHandler handles incoming events
type EventHandler struct {
	onReservationConfirmed func(context.Context, *models.ReservationConfirmedEvent) error
	onStallCancelled       func(context.Context, *models.StallCancelledEvent) error
	logger                 *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnReservationConfirmed registers a handler for ReservationConfirmed events
func (eh *EventHandler) OnReservationConfirmed(handler func(context.Context, *models.ReservationConfirmedEvent) error) {
	eh.onReservationConfirmed = handler
}

// OnStallCancelled registers a handler for StallCancelled events
func (eh *EventHandler) OnStallCancelled(handler func(context.Context, *models.StallCancelledEvent) error) {
	eh.onStallCancelled = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return errors.Wrap(err, "failed to unmarshal base event")
	}

	eh.logger.Debug("Handling event",
		zap.String("type", baseEvent.EventType),
		zap.String("id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypeReservationConfirmed:
		if eh.onReservationConfirmed != nil {
			var event models.ReservationConfirmedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return errors.Wrap(err, "failed to unmarshal ReservationConfirmed event")
			}
			return eh.onReservationConfirmed(ctx, &event)
		}

	case models.EventTypeStallCancelled:
		if eh.onStallCancelled != nil {
			var event models.StallCancelledEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return errors.Wrap(err, "failed to unmarshal StallCancelled event")
			}
			return eh.onStallCancelled(ctx, &event)
		}

	default:
		eh.logger.Debug("Unhandled event type", zap.String("type", baseEvent.EventType))
	}

	return nil
}
