package service

import (
	"context"
	"sync"
	"time"

	"stall-service/internal/models"
	"stall-service/internal/store"
	"stall-service/internal/util"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ToggleResult is the outcome of an admin toggle
type ToggleResult struct {
	Stall   models.Stall `json:"stall"`
	Message string       `json:"message"`
}

// StallService serves the stall catalogue and the admin toggle
type StallService struct {
	repo    store.Repository
	events  EventPublisher
	logger  *zap.Logger
	pending sync.WaitGroup
}

// NewStallService creates a new stall service; events may be nil
func NewStallService(repo store.Repository, events EventPublisher) *StallService {
	return &StallService{
		repo:   repo,
		events: events,
		logger: util.GetLogger(),
	}
}

// ListStalls lists every stall, optionally of one floor
func (s *StallService) ListStalls(ctx context.Context, floorID *int64) ([]models.Stall, error) {
	return s.repo.ListStalls(ctx, floorID)
}

// ListFloors lists every floor
func (s *StallService) ListFloors(ctx context.Context) ([]models.Floor, error) {
	return s.repo.ListFloors(ctx)
}

// Availability returns every stall with the active reservation, vendor and
// payment holding it
func (s *StallService) Availability(ctx context.Context) ([]models.StallAvailability, error) {
	ctx, span := util.StartSpan(ctx, "StallService.Availability")
	defer span.End()

	stalls, err := s.repo.ListStalls(ctx, nil)
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	vendors := make(map[int64]*models.Vendor)
	payments := make(map[int64]*models.Payment)
	views := make([]models.StallAvailability, 0, len(stalls))
	for _, stall := range stalls {
		view := models.StallAvailability{Stall: stall, StatusLabel: stall.StatusLabel()}

		if stall.Reserved {
			reservation, err := s.repo.FindActiveReservationByStall(ctx, stall.ID)
			if err != nil {
				util.RecordError(span, err)
				return nil, err
			}
			if reservation != nil {
				id := reservation.ID
				created := reservation.CreatedAt
				view.ReservationID = &id
				view.ReservationToken = reservation.Token
				view.ReservationStatus = reservation.Status
				view.ReservationDate = &created

				vendor, ok := vendors[reservation.VendorID]
				if !ok {
					vendor, err = s.repo.GetVendor(ctx, reservation.VendorID)
					if err != nil {
						util.RecordError(span, err)
						return nil, err
					}
					vendors[reservation.VendorID] = vendor
				}
				view.Vendor = vendor

				payment, ok := payments[reservation.ID]
				if !ok {
					payment, err = s.repo.GetPaymentByReservation(ctx, reservation.ID)
					if err != nil {
						util.RecordError(span, err)
						return nil, err
					}
					payments[reservation.ID] = payment
				}
				view.Payment = payment
			}
		}
		views = append(views, view)
	}
	return views, nil
}

// ToggleDisabled flips the disabled flag of an unreserved stall
func (s *StallService) ToggleDisabled(ctx context.Context, stallID int64) (*ToggleResult, error) {
	ctx, span := util.StartSpan(ctx, "StallService.ToggleDisabled", attribute.Int64("stall.id", stallID))
	defer span.End()

	var updated models.Stall
	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		stalls, err := tx.LockStalls(ctx, []int64{stallID})
		if err != nil {
			return err
		}
		stall := stalls[0]
		if stall.Reserved {
			return models.NewBusinessError(models.ErrConflict,
				"Cannot disable a reserved stall. Please wait until the reservation ends.").
				WithCode("STALL_IS_RESERVED")
		}
		stall.Disabled = !stall.Disabled
		if err := tx.SetStallDisabled(ctx, stall.ID, stall.Disabled); err != nil {
			return err
		}
		updated = stall
		return nil
	})
	if err != nil {
		err = lockErrorAsUnavailable(err, "This stall is being updated by another request, please retry")
		util.RecordError(span, err)
		util.StallTogglesTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	outcome := "enabled"
	message := "Stall enabled successfully"
	if updated.Disabled {
		outcome = "disabled"
		message = "Stall disabled successfully"
	}
	util.StallTogglesTotal.WithLabelValues(outcome).Inc()
	s.logger.Info("Stall toggled",
		zap.Int64("stall_id", updated.ID),
		zap.String("stall_code", updated.Code),
		zap.Bool("disabled", updated.Disabled))

	s.publish(&models.StallToggledEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeStallToggled,
			Timestamp: time.Now(),
		},
		StallID:  updated.ID,
		Disabled: updated.Disabled,
	})

	return &ToggleResult{Stall: updated, Message: message}, nil
}

func (s *StallService) publish(event *models.StallToggledEvent) {
	if s.events == nil {
		return
	}

	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()

		if err := s.events.PublishStallToggled(ctx, event); err != nil {
			util.SideChannelFailuresTotal.WithLabelValues("event").Inc()
			s.logger.Error("Failed to publish StallToggled event",
				zap.Int64("stall_id", event.StallID),
				zap.Error(err))
		}
	}()
}

// Wait blocks until every post-commit publish has finished
func (s *StallService) Wait() {
	s.pending.Wait()
}
