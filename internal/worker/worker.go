package worker

import (
	"context"

	"stall-service/internal/broker"
	"stall-service/internal/models"
	"stall-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// MessageSource is a stream of committed-after-handling messages
type MessageSource interface {
	StartConsuming(ctx context.Context, handler broker.MessageHandler) error
	Close() error
}

// ReservationNotifier reacts to committed bookings
type ReservationNotifier interface {
	HandleReservationConfirmed(ctx context.Context, event *models.ReservationConfirmedEvent) error
}

// NotificationWorker turns reservation events into vendor notifications
type NotificationWorker struct {
	consumer     MessageSource
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// NewNotificationWorker creates a new notification worker
func NewNotificationWorker(consumer MessageSource, notifier ReservationNotifier) *NotificationWorker {
	logger := util.GetLogger()
	eventHandler := broker.NewEventHandler()

	eventHandler.OnReservationConfirmed(notifier.HandleReservationConfirmed)
	eventHandler.OnStallCancelled(func(ctx context.Context, event *models.StallCancelledEvent) error {
		logger.Info("Stall released",
			zap.Int64("vendor_id", event.VendorID),
			zap.Int64("stall_id", event.StallID),
			zap.String("reservation_code", event.CancelledToken),
			zap.Bool("forked", event.Forked))
		return nil
	})

	return &NotificationWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
		logger:       logger,
	}
}

// Start consumes until ctx is done
func (w *NotificationWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting notification worker")
	return w.consumer.StartConsuming(ctx, w.Handle)
}

// Handle processes one message
func (w *NotificationWorker) Handle(ctx context.Context, msg kafka.Message) error {
	return w.eventHandler.HandleMessage(ctx, msg)
}

// Stop stops the worker
func (w *NotificationWorker) Stop() error {
	w.logger.Info("Stopping notification worker")
	return w.consumer.Close()
}
