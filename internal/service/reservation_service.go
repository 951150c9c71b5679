package service

import (
	"context"
	"strings"

	"stall-service/internal/models"
	"stall-service/internal/store"
	"stall-service/internal/util"

	"go.uber.org/zap"
)

// VerifyResult is what a gate employee sees after scanning a QR code
type VerifyResult struct {
	AccessGranted bool                      `json:"accessGranted"`
	Message       string                    `json:"message"`
	Detail        *models.ReservationDetail `json:"detail,omitempty"`
}

// ReservationService answers read-only questions about reservations
type ReservationService struct {
	repo   store.Repository
	guard  *CapacityGuard
	logger *zap.Logger
}

func NewReservationService(repo store.Repository, guard *CapacityGuard) *ReservationService {
	return &ReservationService{
		repo:   repo,
		guard:  guard,
		logger: util.GetLogger(),
	}
}

// VendorBookings lists every stall the vendor ever booked, cancelled ones included
func (s *ReservationService) VendorBookings(ctx context.Context, vendorID int64) ([]models.VendorBooking, error) {
	if _, err := s.repo.GetVendor(ctx, vendorID); err != nil {
		return nil, err
	}
	bookings, err := s.repo.ListVendorBookings(ctx, vendorID)
	if err != nil {
		return nil, err
	}
	if bookings == nil {
		bookings = []models.VendorBooking{}
	}
	return bookings, nil
}

// ActiveStallCount returns how many stalls the vendor holds and the cap
func (s *ReservationService) ActiveStallCount(ctx context.Context, vendorID int64) (count, limit int, err error) {
	count, err = s.repo.CountActiveStalls(ctx, vendorID)
	return count, s.guard.Max(), err
}

func (s *ReservationService) ListReservations(ctx context.Context) ([]models.ReservationSummary, error) {
	reservations, err := s.repo.ListReservations(ctx)
	if err != nil {
		return nil, err
	}
	if reservations == nil {
		reservations = []models.ReservationSummary{}
	}
	return reservations, nil
}

// Verify resolves a scanned token. Access is granted only while the
// reservation still holds its stalls.
func (s *ReservationService) Verify(ctx context.Context, token string) (*VerifyResult, error) {
	ctx, span := util.StartSpan(ctx, "ReservationService.Verify")
	defer span.End()

	token = strings.TrimSpace(strings.Trim(token, `"`))
	if token == "" {
		return nil, models.NewBusinessError(models.ErrValidation, "Reservation code is required")
	}

	reservation, err := s.repo.GetReservationByToken(ctx, token)
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	vendor, err := s.repo.GetVendor(ctx, reservation.VendorID)
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}
	stalls, err := s.repo.ListReservationStalls(ctx, reservation.ID)
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}
	payment, err := s.repo.GetPaymentByReservation(ctx, reservation.ID)
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	result := &VerifyResult{
		Detail: &models.ReservationDetail{
			Reservation: *reservation,
			Vendor:      *vendor,
			Stalls:      stalls,
			Payment:     payment,
		},
	}
	if reservation.IsActive() {
		result.AccessGranted = true
		result.Message = "Access granted"
	} else {
		result.Message = "Reservation is " + strings.ToLower(reservation.Status)
	}

	s.logger.Info("Reservation verified",
		zap.String("reservation_code", token),
		zap.Bool("access_granted", result.AccessGranted))
	return result, nil
}
