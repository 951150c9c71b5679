package service

import (
	"context"
	"time"

	"stall-service/internal/models"
)

// QRRenderer turns a reservation token into a PNG image
type QRRenderer interface {
	Render(token string) ([]byte, error)
}

// EventPublisher hands domain events to the broker. Publishing happens after
// commit and its failures never affect the committed outcome.
type EventPublisher interface {
	PublishReservationConfirmed(ctx context.Context, event *models.ReservationConfirmedEvent) error
	PublishStallCancelled(ctx context.Context, event *models.StallCancelledEvent) error
	PublishStallToggled(ctx context.Context, event *models.StallToggledEvent) error
}

// IdempotencyStore remembers booking results per client supplied key
type IdempotencyStore interface {
	Claim(ctx context.Context, key, marker string, ttl time.Duration) (bool, string, error)
	Complete(ctx context.Context, key, marker, result string, ttl time.Duration) error
	Release(ctx context.Context, key, marker string) error
}

// publishTimeout bounds each post-commit publish
const publishTimeout = 10 * time.Second
