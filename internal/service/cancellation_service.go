package service

import (
	"context"
	"sync"
	"time"

	"stall-service/internal/models"
	"stall-service/internal/store"
	"stall-service/internal/util"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Cancellation branches
const (
	BranchTerminated = "terminated"
	BranchForked     = "forked"
)

// MessageCancelled is returned for every successful cancellation
const MessageCancelled = "Reservation cancelled successfully"

// CancelResult describes what a cancellation did
type CancelResult struct {
	StallID int64  `json:"stallId"`
	Branch  string `json:"branch"`
	// ReservationCode is the token of the record that now owns the cancelled stall
	ReservationCode string `json:"reservationCode"`
	// ParentReservationCode is set when the stall was forked off a larger booking
	ParentReservationCode string `json:"parentReservationCode,omitempty"`
	Message               string `json:"message"`
}

// CancellationService releases single stalls out of a vendor's bookings
type CancellationService struct {
	repo    store.Repository
	events  EventPublisher
	logger  *zap.Logger
	pending sync.WaitGroup
}

// NewCancellationService creates a new cancellation service; events may be nil
func NewCancellationService(repo store.Repository, events EventPublisher) *CancellationService {
	return &CancellationService{
		repo:   repo,
		events: events,
		logger: util.GetLogger(),
	}
}

// Cancel releases one stall held by the vendor. A booking holding only that
// stall is cancelled outright; otherwise the stall moves to a new cancelled
// record and the rest of the booking stays active.
func (s *CancellationService) Cancel(ctx context.Context, vendorID, stallID int64) (*CancelResult, error) {
	ctx, span := util.StartSpan(ctx, "CancellationService.Cancel",
		attribute.Int64("vendor.id", vendorID),
		attribute.Int64("stall.id", stallID))
	defer span.End()

	if vendorID <= 0 {
		return nil, models.NewBusinessError(models.ErrValidation, "Vendor identity is required")
	}
	if stallID <= 0 {
		return nil, models.NewBusinessError(models.ErrValidation, "Invalid stall id: %d", stallID)
	}

	var result *CancelResult
	var event *models.StallCancelledEvent
	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		// stall first, then its reservation
		if _, err := tx.LockStalls(ctx, []int64{stallID}); err != nil {
			return err
		}
		link, err := tx.FindActiveLink(ctx, vendorID, stallID)
		if err != nil {
			return err
		}
		parent, err := tx.LockReservation(ctx, link.ReservationID)
		if err != nil {
			return err
		}
		result, event, err = s.releaseStall(ctx, tx, parent, link)
		return err
	})
	if err != nil {
		err = lockErrorAsUnavailable(err, "This stall is being updated by another request, please retry")
		util.RecordError(span, err)
		s.logger.Info("Cancellation rejected",
			zap.Int64("vendor_id", vendorID),
			zap.Int64("stall_id", stallID),
			zap.Error(err))
		return nil, err
	}

	util.StallsCancelledTotal.WithLabelValues(result.Branch).Inc()
	s.logger.Info("Stall cancelled",
		zap.Int64("vendor_id", vendorID),
		zap.Int64("stall_id", stallID),
		zap.String("branch", result.Branch),
		zap.String("reservation_code", result.ReservationCode))

	s.publish(event)
	return result, nil
}

// releaseStall frees the stall and moves its link to a cancelled record
func (s *CancellationService) releaseStall(
	ctx context.Context,
	tx store.Tx,
	parent *models.Reservation,
	link *models.StallLink,
) (*CancelResult, *models.StallCancelledEvent, error) {
	if err := tx.SetStallReserved(ctx, link.StallID, false); err != nil {
		return nil, nil, err
	}

	remaining, err := tx.CountActiveLinks(ctx, parent.ID, link.ID)
	if err != nil {
		return nil, nil, err
	}

	event := &models.StallCancelledEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeStallCancelled,
			Timestamp: time.Now(),
		},
		VendorID:            parent.VendorID,
		StallID:             link.StallID,
		ParentReservationID: parent.ID,
	}

	if remaining == 0 {
		if err := tx.UpdateReservationStatus(ctx, parent.ID, models.ReservationStatusCancelled); err != nil {
			return nil, nil, err
		}
		event.CancelledReservation = parent.ID
		event.CancelledToken = parent.Token
		return &CancelResult{
			StallID:         link.StallID,
			Branch:          BranchTerminated,
			ReservationCode: parent.Token,
			Message:         MessageCancelled,
		}, event, nil
	}

	fork := &models.Reservation{
		VendorID:  parent.VendorID,
		Token:     CancelledToken(parent.Token, link.StallID),
		Status:    models.ReservationStatusCancelled,
		CreatedAt: parent.CreatedAt,
	}
	if err := tx.CreateReservation(ctx, fork); err != nil {
		if errors.Is(err, models.ErrDuplicateToken) {
			return nil, nil, errors.Wrapf(err, "stall %d was already forked off %s", link.StallID, parent.Token)
		}
		return nil, nil, err
	}
	if err := tx.RepointLink(ctx, link.ID, fork.ID); err != nil {
		return nil, nil, err
	}

	event.CancelledReservation = fork.ID
	event.CancelledToken = fork.Token
	event.Forked = true
	return &CancelResult{
		StallID:               link.StallID,
		Branch:                BranchForked,
		ReservationCode:       fork.Token,
		ParentReservationCode: parent.Token,
		Message:               MessageCancelled,
	}, event, nil
}

func (s *CancellationService) publish(event *models.StallCancelledEvent) {
	if s.events == nil || event == nil {
		return
	}

	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()

		if err := s.events.PublishStallCancelled(ctx, event); err != nil {
			util.SideChannelFailuresTotal.WithLabelValues("event").Inc()
			s.logger.Error("Failed to publish StallCancelled event",
				zap.Int64("stall_id", event.StallID),
				zap.Error(err))
		}
	}()
}

// Wait blocks until every post-commit publish has finished
func (s *CancellationService) Wait() {
	s.pending.Wait()
}
