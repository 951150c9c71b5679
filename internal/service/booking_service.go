package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
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

// Booking response messages
const (
	MessageBookingSuccessful = "Booking Successful!"
	MessageBookingNoQRCode   = "Booking Successful! (QR code unavailable)"
)

// maxTokenAttempts bounds how often a booking is retried after a token collision
const maxTokenAttempts = 3

// BookingConfig tunes the booking coordinator
type BookingConfig struct {
	PayOnArrivalMethods []string
	IdempotencyTTL      time.Duration
}

// BookingService allocates stalls to vendors
type BookingService struct {
	repo         store.Repository
	guard        *CapacityGuard
	qr           QRRenderer
	events       EventPublisher
	idempotency  IdempotencyStore
	payOnArrival map[string]bool
	idemTTL      time.Duration
	logger       *zap.Logger
	pending      sync.WaitGroup
}

// NewBookingService creates a new booking service. qr, events and
// idempotency are optional.
func NewBookingService(
	repo store.Repository,
	guard *CapacityGuard,
	qr QRRenderer,
	events EventPublisher,
	idempotency IdempotencyStore,
	cfg BookingConfig,
) *BookingService {
	payOnArrival := make(map[string]bool)
	for _, m := range cfg.PayOnArrivalMethods {
		payOnArrival[strings.ToUpper(strings.TrimSpace(m))] = true
	}
	if len(payOnArrival) == 0 {
		payOnArrival[models.PaymentMethodCashOnDate] = true
	}
	ttl := cfg.IdempotencyTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	return &BookingService{
		repo:         repo,
		guard:        guard,
		qr:           qr,
		events:       events,
		idempotency:  idempotency,
		payOnArrival: payOnArrival,
		idemTTL:      ttl,
		logger:       util.GetLogger(),
	}
}

// BookRequest represents a request to book stalls
type BookRequest struct {
	VendorID       int64    `json:"-"`
	StallIDs       []int64  `json:"stallIds"`
	PaymentMethod  string   `json:"paymentMethod"`
	TotalAmount    *float64 `json:"totalAmount,omitempty"`
	IdempotencyKey string   `json:"-"`
}

// BookResponse represents the response after booking stalls
type BookResponse struct {
	ReservationID   int64  `json:"reservationId"`
	ReservationCode string `json:"reservationCode"`
	QRCodeImage     string `json:"qrCodeImage,omitempty"`
	Amount          int64  `json:"amount"`
	PaymentStatus   string `json:"paymentStatus"`
	Message         string `json:"message"`
}

// allocation is what one committed booking unit of work produced
type allocation struct {
	vendor      *models.Vendor
	reservation *models.Reservation
	stalls      []models.Stall
	payment     *models.Payment
}

// Book reserves the requested stalls for the vendor as one all-or-nothing unit of work
func (s *BookingService) Book(ctx context.Context, req *BookRequest) (*BookResponse, error) {
	ctx, span := util.StartSpan(ctx, "BookingService.Book",
		attribute.Int64("vendor.id", req.VendorID),
		attribute.Int("stalls.requested", len(req.StallIDs)))
	defer span.End()

	resp, err := s.book(ctx, req)
	util.RecordError(span, err)
	return resp, err
}

func (s *BookingService) book(ctx context.Context, req *BookRequest) (*BookResponse, error) {
	if err := s.validate(req); err != nil {
		util.BookingsFailedTotal.WithLabelValues("validation").Inc()
		return nil, err
	}

	if req.IdempotencyKey == "" || s.idempotency == nil {
		return s.allocateAndFinish(ctx, req)
	}

	key := fmt.Sprintf("booking:%d:%s", req.VendorID, req.IdempotencyKey)
	marker := uuid.NewString()

	claimed, cached, err := s.idempotency.Claim(ctx, key, marker, s.idemTTL)
	if err != nil {
		s.logger.Warn("Idempotency store unavailable, booking without it",
			zap.String("idempotency_key", req.IdempotencyKey),
			zap.Error(err))
		return s.allocateAndFinish(ctx, req)
	}

	if !claimed {
		if cached == "" {
			util.BookingsFailedTotal.WithLabelValues("duplicate_in_flight").Inc()
			return nil, models.NewBusinessError(models.ErrConflict,
				"A booking with this Idempotency-Key is still in progress")
		}
		var resp BookResponse
		if err := json.Unmarshal([]byte(cached), &resp); err != nil {
			return nil, errors.Wrap(err, "failed to decode cached booking result")
		}
		s.logger.Info("Duplicate booking request detected",
			zap.String("idempotency_key", req.IdempotencyKey),
			zap.String("reservation_code", resp.ReservationCode))
		return &resp, nil
	}

	resp, err := s.allocateAndFinish(ctx, req)
	if err != nil {
		if relErr := s.idempotency.Release(ctx, key, marker); relErr != nil {
			s.logger.Warn("Failed to release idempotency key", zap.Error(relErr))
		}
		return nil, err
	}

	encoded, err := json.Marshal(resp)
	if err == nil {
		err = s.idempotency.Complete(ctx, key, marker, string(encoded), s.idemTTL)
	}
	if err != nil {
		s.logger.Warn("Failed to store idempotent booking result",
			zap.String("reservation_code", resp.ReservationCode),
			zap.Error(err))
	}
	return resp, nil
}

func (s *BookingService) allocateAndFinish(ctx context.Context, req *BookRequest) (*BookResponse, error) {
	// fast fail before any lock is taken; re-checked under the vendor lock
	if err := s.guard.Check(ctx, s.repo, req.VendorID, len(req.StallIDs)); err != nil {
		s.recordFailure(req, err)
		return nil, err
	}

	start := time.Now()
	var result *allocation
	var err error
	for attempt := 1; attempt <= maxTokenAttempts; attempt++ {
		err = s.repo.WithTx(ctx, func(tx store.Tx) error {
			var err error
			result, err = s.allocate(ctx, tx, req)
			return err
		})
		if !errors.Is(err, models.ErrDuplicateToken) {
			break
		}
		s.logger.Warn("Reservation token collision, retrying", zap.Int("attempt", attempt))
	}
	util.BookingLatency.Observe(time.Since(start).Seconds())

	if err != nil {
		err = lockErrorAsUnavailable(err, "One of the selected stalls is being booked by another request, please retry")
		s.recordFailure(req, err)
		return nil, err
	}

	util.BookingsCreatedTotal.Inc()
	util.StallsBookedTotal.Add(float64(len(result.stalls)))
	s.logger.Info("Reservation created",
		zap.Int64("reservation_id", result.reservation.ID),
		zap.String("reservation_code", result.reservation.Token),
		zap.Int64("vendor_id", req.VendorID),
		zap.Int64s("stall_ids", stallIDs(result.stalls)))

	if totalDiffers(req.TotalAmount, result.payment.Amount) {
		s.logger.Warn("Client total differs from computed amount",
			zap.Float64("client_total", *req.TotalAmount),
			zap.Int64("computed_total", result.payment.Amount),
			zap.String("reservation_code", result.reservation.Token))
	}

	return s.finish(result), nil
}

// allocate is the body of the booking unit of work
func (s *BookingService) allocate(ctx context.Context, tx store.Tx, req *BookRequest) (*allocation, error) {
	vendor, err := tx.LockVendor(ctx, req.VendorID)
	if err != nil {
		return nil, err
	}

	if err := s.guard.Check(ctx, tx, req.VendorID, len(req.StallIDs)); err != nil {
		return nil, err
	}

	stalls, err := tx.LockStalls(ctx, req.StallIDs)
	if err != nil {
		return nil, err
	}

	for _, stall := range stalls {
		if stall.Disabled {
			return nil, models.StallUnavailable(stall.ID, "Stall %s is disabled", stall.Code)
		}
		if stall.Reserved {
			return nil, models.StallUnavailable(stall.ID, "Stall %s is already reserved!", stall.Code)
		}
	}

	now := time.Now().UTC()
	reservation := &models.Reservation{
		VendorID:  vendor.ID,
		Token:     NewReservationToken(),
		Status:    models.ReservationStatusConfirmed,
		CreatedAt: now,
	}
	if err := tx.CreateReservation(ctx, reservation); err != nil {
		return nil, err
	}

	var total int64
	for i := range stalls {
		link := &models.StallLink{ReservationID: reservation.ID, StallID: stalls[i].ID}
		if err := tx.CreateStallLink(ctx, link); err != nil {
			return nil, err
		}
		if err := tx.SetStallReserved(ctx, stalls[i].ID, true); err != nil {
			return nil, err
		}
		stalls[i].Reserved = true
		total += stalls[i].Price
	}

	method := strings.ToUpper(strings.TrimSpace(req.PaymentMethod))
	payment := &models.Payment{
		ReservationID: reservation.ID,
		Amount:        total,
		Method:        method,
		Status:        s.paymentStatus(method),
		PaidAt:        now,
	}
	if err := tx.CreatePayment(ctx, payment); err != nil {
		return nil, err
	}

	return &allocation{vendor: vendor, reservation: reservation, stalls: stalls, payment: payment}, nil
}

// finish runs the post-commit side channels. Nothing here can fail the booking.
func (s *BookingService) finish(result *allocation) *BookResponse {
	resp := &BookResponse{
		ReservationID:   result.reservation.ID,
		ReservationCode: result.reservation.Token,
		Amount:          result.payment.Amount,
		PaymentStatus:   result.payment.Status,
		Message:         MessageBookingSuccessful,
	}

	if s.qr != nil {
		png, err := s.qr.Render(result.reservation.Token)
		if err != nil {
			util.SideChannelFailuresTotal.WithLabelValues("qr").Inc()
			s.logger.Error("QR rendering failed",
				zap.String("reservation_code", result.reservation.Token),
				zap.Error(err))
			resp.Message = MessageBookingNoQRCode
		} else {
			resp.QRCodeImage = base64.StdEncoding.EncodeToString(png)
		}
	}

	s.publishConfirmed(result)
	return resp
}

// totalDiffers reports whether a client supplied total disagrees with the
// computed one. Totals are informational; the computed sum is what gets stored.
func totalDiffers(client *float64, computed int64) bool {
	return client != nil && *client != float64(computed)
}

func (s *BookingService) publishConfirmed(result *allocation) {
	if s.events == nil {
		return
	}

	stalls := make([]models.StallData, 0, len(result.stalls))
	for _, st := range result.stalls {
		stalls = append(stalls, models.StallData{
			StallID:   st.ID,
			StallCode: st.Code,
			FloorName: st.FloorName,
			Price:     st.Price,
		})
	}

	event := &models.ReservationConfirmedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeReservationConfirmed,
			Timestamp: time.Now(),
		},
		ReservationID:    result.reservation.ID,
		ReservationToken: result.reservation.Token,
		VendorID:         result.vendor.ID,
		VendorName:       result.vendor.Name,
		VendorEmail:      result.vendor.Email,
		Stalls:           stalls,
		Amount:           result.payment.Amount,
		PaymentMethod:    result.payment.Method,
		PaymentStatus:    result.payment.Status,
	}

	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()

		if err := s.events.PublishReservationConfirmed(ctx, event); err != nil {
			util.SideChannelFailuresTotal.WithLabelValues("notification").Inc()
			s.logger.Error("Failed to publish ReservationConfirmed event",
				zap.String("reservation_code", event.ReservationToken),
				zap.Error(err))
		}
	}()
}

// Wait blocks until every post-commit publish has finished
func (s *BookingService) Wait() {
	s.pending.Wait()
}

func (s *BookingService) validate(req *BookRequest) error {
	if req.VendorID <= 0 {
		return models.NewBusinessError(models.ErrValidation, "Vendor identity is required")
	}
	if len(req.StallIDs) == 0 {
		return models.NewBusinessError(models.ErrValidation, "You must select at least one stall")
	}
	if len(req.StallIDs) > s.guard.Max() {
		return models.NewBusinessError(models.ErrValidation,
			"You cannot reserve more than %d stalls at once", s.guard.Max())
	}

	seen := make(map[int64]bool, len(req.StallIDs))
	for _, id := range req.StallIDs {
		if id <= 0 {
			return models.NewBusinessError(models.ErrValidation, "Invalid stall id: %d", id)
		}
		if seen[id] {
			return models.NewBusinessError(models.ErrValidation, "Stall %d is selected more than once", id)
		}
		seen[id] = true
	}

	if strings.TrimSpace(req.PaymentMethod) == "" {
		return models.NewBusinessError(models.ErrValidation, "Payment method is required")
	}
	if req.TotalAmount != nil && *req.TotalAmount < 0 {
		return models.NewBusinessError(models.ErrValidation, "Total amount cannot be negative")
	}
	return nil
}

// paymentStatus is PENDING for pay-on-arrival methods and PAID otherwise
func (s *BookingService) paymentStatus(method string) string {
	if s.payOnArrival[method] {
		return models.PaymentStatusPending
	}
	return models.PaymentStatusPaid
}

func (s *BookingService) recordFailure(req *BookRequest, err error) {
	reason := failureReason(err)
	util.BookingsFailedTotal.WithLabelValues(reason).Inc()

	var be *models.BusinessError
	if errors.As(err, &be) {
		s.logger.Info("Booking rejected",
			zap.Int64("vendor_id", req.VendorID),
			zap.Int64s("stall_ids", req.StallIDs),
			zap.String("reason", reason),
			zap.String("message", be.Message))
		return
	}
	s.logger.Error("Booking failed",
		zap.Int64("vendor_id", req.VendorID),
		zap.Int64s("stall_ids", req.StallIDs),
		zap.Error(err))
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, models.ErrValidation):
		return "validation"
	case errors.Is(err, models.ErrCapacityExceeded):
		return "capacity_exceeded"
	case errors.Is(err, models.ErrStallUnavailable):
		return "stall_unavailable"
	case errors.Is(err, models.ErrNotFound):
		return "not_found"
	case errors.Is(err, models.ErrConflict):
		return "conflict"
	default:
		return "internal"
	}
}

// lockErrorAsUnavailable turns a bounded lock wait that ran out into StallUnavailable
func lockErrorAsUnavailable(err error, message string) error {
	if errors.Is(err, models.ErrLockNotAcquired) {
		return models.NewBusinessError(models.ErrStallUnavailable, "%s", message)
	}
	return err
}

func stallIDs(stalls []models.Stall) []int64 {
	ids := make([]int64, len(stalls))
	for i, st := range stalls {
		ids[i] = st.ID
	}
	return ids
}
