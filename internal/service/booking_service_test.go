package service

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"stall-service/internal/models"
	"stall-service/internal/store"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestBook_CreatesReservationLinksAndPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp, err := f.booking.Book(ctx, &BookRequest{
		VendorID:      f.vendor.ID,
		StallIDs:      []int64{f.stallID(2), f.stallID(0)},
		PaymentMethod: "card",
	})
	require.NoError(t, err)

	assert.Equal(t, MessageBookingSuccessful, resp.Message)
	assert.Regexp(t, `^RES-[0-9A-F]{12}$`, resp.ReservationCode)
	assert.Equal(t, int64(4000), resp.Amount)
	assert.Equal(t, models.PaymentStatusPaid, resp.PaymentStatus)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("png")), resp.QRCodeImage)

	r := f.reservation(t, resp.ReservationCode)
	assert.Equal(t, models.ReservationStatusConfirmed, r.Status)
	assert.Equal(t, f.vendor.ID, r.VendorID)

	stalls, err := f.repo.ListReservationStalls(ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, stalls, 2)
	for _, st := range stalls {
		assert.True(t, st.Reserved)
	}
	assert.False(t, f.stall(t, f.stallID(1)).Reserved)

	payment, err := f.repo.GetPaymentByReservation(ctx, r.ID)
	require.NoError(t, err)
	require.NotNil(t, payment)
	assert.Equal(t, int64(4000), payment.Amount)
	assert.Equal(t, "CARD", payment.Method)
	assert.Equal(t, models.PaymentStatusPaid, payment.Status)
}

func TestBook_PayOnArrivalIsPending(t *testing.T) {
	f := newFixture(t)

	resp, err := f.booking.Book(context.Background(), &BookRequest{
		VendorID:      f.vendor.ID,
		StallIDs:      []int64{f.stallID(0)},
		PaymentMethod: models.PaymentMethodCashOnDate,
	})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPending, resp.PaymentStatus)
}

func TestBook_ClientTotalIsInformational(t *testing.T) {
	f := newFixture(t)
	total := 1500.5

	resp, err := f.booking.Book(context.Background(), &BookRequest{
		VendorID:      f.vendor.ID,
		StallIDs:      []int64{f.stallID(0)},
		PaymentMethod: "CARD",
		TotalAmount:   &total,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1000), resp.Amount)

	exact, fractional := 1000.0, 999.5
	assert.False(t, totalDiffers(nil, 1000))
	assert.False(t, totalDiffers(&exact, 1000))
	assert.True(t, totalDiffers(&fractional, 1000))
}

func TestBook_Validation(t *testing.T) {
	f := newFixture(t)
	negative := float64(-1)

	tests := []struct {
		name    string
		req     *BookRequest
		message string
	}{
		{"no vendor", &BookRequest{StallIDs: []int64{1}, PaymentMethod: "CARD"}, "Vendor identity is required"},
		{"no stalls", &BookRequest{VendorID: f.vendor.ID, PaymentMethod: "CARD"}, "You must select at least one stall"},
		{"too many stalls", &BookRequest{VendorID: f.vendor.ID, StallIDs: []int64{1, 2, 3, 4}, PaymentMethod: "CARD"},
			"You cannot reserve more than 3 stalls at once"},
		{"duplicate stall", &BookRequest{VendorID: f.vendor.ID, StallIDs: []int64{f.stallID(0), f.stallID(0)}, PaymentMethod: "CARD"},
			"selected more than once"},
		{"invalid id", &BookRequest{VendorID: f.vendor.ID, StallIDs: []int64{0}, PaymentMethod: "CARD"}, "Invalid stall id"},
		{"no payment method", &BookRequest{VendorID: f.vendor.ID, StallIDs: []int64{f.stallID(0)}}, "Payment method is required"},
		{"negative total", &BookRequest{VendorID: f.vendor.ID, StallIDs: []int64{f.stallID(0)}, PaymentMethod: "CARD", TotalAmount: &negative},
			"cannot be negative"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.booking.Book(context.Background(), tt.req)
			require.Error(t, err)
			assert.True(t, errors.Is(err, models.ErrValidation))
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

func TestBook_CapacityExceeded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.book(t, f.vendor.ID, f.stallID(0), f.stallID(1), f.stallID(2))

	_, err := f.booking.Book(ctx, &BookRequest{
		VendorID:      f.vendor.ID,
		StallIDs:      []int64{f.stallID(3)},
		PaymentMethod: "CARD",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrCapacityExceeded))
	assert.Contains(t, err.Error(), "You currently hold 3")

	assert.False(t, f.stall(t, f.stallID(3)).Reserved)
	count, _, err := f.queries.ActiveStallCount(ctx, f.vendor.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestBook_AllOrNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.book(t, f.vendor2.ID, f.stallID(1))

	_, err := f.booking.Book(ctx, &BookRequest{
		VendorID:      f.vendor.ID,
		StallIDs:      []int64{f.stallID(0), f.stallID(1), f.stallID(2)},
		PaymentMethod: "CARD",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrStallUnavailable))
	assert.Equal(t, "Stall A2 is already reserved!", err.Error())

	var be *models.BusinessError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, f.stallID(1), be.StallID)

	assert.False(t, f.stall(t, f.stallID(0)).Reserved)
	assert.False(t, f.stall(t, f.stallID(2)).Reserved)

	reservations, err := f.repo.ListReservations(ctx)
	require.NoError(t, err)
	assert.Len(t, reservations, 1)
}

func TestBook_DisabledStall(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.stallsv.ToggleDisabled(ctx, f.stallID(0))
	require.NoError(t, err)

	_, err = f.booking.Book(ctx, &BookRequest{
		VendorID:      f.vendor.ID,
		StallIDs:      []int64{f.stallID(0)},
		PaymentMethod: "CARD",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrStallUnavailable))
	assert.Equal(t, "Stall A1 is disabled", err.Error())
}

func TestBook_UnknownStallAndVendor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.booking.Book(ctx, &BookRequest{VendorID: f.vendor.ID, StallIDs: []int64{9999}, PaymentMethod: "CARD"})
	assert.True(t, errors.Is(err, models.ErrNotFound))

	_, err = f.booking.Book(ctx, &BookRequest{VendorID: 9999, StallIDs: []int64{f.stallID(0)}, PaymentMethod: "CARD"})
	assert.True(t, errors.Is(err, models.ErrNotFound))
	assert.False(t, f.stall(t, f.stallID(0)).Reserved)
}

func TestBook_ConcurrentSameStall(t *testing.T) {
	f := newFixture(t)
	target := f.stallID(4)

	var wins, unavailable int32
	var g errgroup.Group
	for _, vendorID := range []int64{f.vendor.ID, f.vendor2.ID} {
		vendorID := vendorID
		g.Go(func() error {
			_, err := f.booking.Book(context.Background(), &BookRequest{
				VendorID:      vendorID,
				StallIDs:      []int64{target},
				PaymentMethod: "CARD",
			})
			switch {
			case err == nil:
				atomic.AddInt32(&wins, 1)
			case errors.Is(err, models.ErrStallUnavailable):
				atomic.AddInt32(&unavailable, 1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int32(1), wins)
	assert.Equal(t, int32(1), unavailable)
	assert.True(t, f.stall(t, target).Reserved)

	holder, err := f.repo.FindActiveReservationByStall(context.Background(), target)
	require.NoError(t, err)
	require.NotNil(t, holder)
}

func TestBook_ConcurrentDisjointRespectsCap(t *testing.T) {
	f := newFixture(t)

	var wins, rejected int32
	var g errgroup.Group
	for i := range f.stalls {
		stallID := f.stallID(i)
		g.Go(func() error {
			_, err := f.booking.Book(context.Background(), &BookRequest{
				VendorID:      f.vendor.ID,
				StallIDs:      []int64{stallID},
				PaymentMethod: "CARD",
			})
			switch {
			case err == nil:
				atomic.AddInt32(&wins, 1)
			case errors.Is(err, models.ErrCapacityExceeded):
				atomic.AddInt32(&rejected, 1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int32(3), wins)
	assert.Equal(t, int32(2), rejected)

	count, err := f.repo.CountActiveStalls(context.Background(), f.vendor.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestBook_LockWaitTimeoutIsUnavailable(t *testing.T) {
	f := newFixtureWithTimeout(t, 50*time.Millisecond)
	target := f.stallID(0)

	locked := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = f.repo.WithTx(context.Background(), func(tx store.Tx) error {
			if _, err := tx.LockStalls(context.Background(), []int64{target}); err != nil {
				return err
			}
			close(locked)
			<-done
			return nil
		})
	}()
	<-locked
	defer close(done)

	_, err := f.booking.Book(context.Background(), &BookRequest{
		VendorID:      f.vendor.ID,
		StallIDs:      []int64{target},
		PaymentMethod: "CARD",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrStallUnavailable))
}

func TestBook_QRFailureKeepsBooking(t *testing.T) {
	f := newFixture(t)
	svc := NewBookingService(f.repo, NewCapacityGuard(3), staticQR{err: errors.New("encoder down")}, nil, nil, BookingConfig{})

	resp, err := svc.Book(context.Background(), &BookRequest{
		VendorID:      f.vendor.ID,
		StallIDs:      []int64{f.stallID(0)},
		PaymentMethod: "CARD",
	})
	require.NoError(t, err)
	assert.Equal(t, MessageBookingNoQRCode, resp.Message)
	assert.Empty(t, resp.QRCodeImage)
	assert.True(t, f.stall(t, f.stallID(0)).Reserved)
}

func TestBook_PublishFailureKeepsBooking(t *testing.T) {
	f := newFixture(t)
	f.events.err = errors.New("broker down")

	resp := f.book(t, f.vendor.ID, f.stallID(0))
	f.booking.Wait()

	assert.Equal(t, MessageBookingSuccessful, resp.Message)
	assert.True(t, f.reservation(t, resp.ReservationCode).IsActive())
}

func TestBook_PublishesConfirmedEvent(t *testing.T) {
	f := newFixture(t)

	resp := f.book(t, f.vendor.ID, f.stallID(0), f.stallID(1))
	f.booking.Wait()

	require.Len(t, f.events.confirmed, 1)
	event := f.events.confirmed[0]
	assert.Equal(t, models.EventTypeReservationConfirmed, event.EventType)
	assert.Equal(t, resp.ReservationCode, event.ReservationToken)
	assert.Equal(t, "sarasavi@test.com", event.VendorEmail)
	assert.Len(t, event.Stalls, 2)
	assert.Equal(t, int64(3000), event.Amount)
}

func TestBook_IdempotencyKeyReturnsFirstResult(t *testing.T) {
	f := newFixture(t)
	idem := newMemoryIdempotency()
	svc := NewBookingService(f.repo, NewCapacityGuard(3), staticQR{png: []byte("png")}, nil, idem, BookingConfig{})
	ctx := context.Background()

	req := &BookRequest{
		VendorID:       f.vendor.ID,
		StallIDs:       []int64{f.stallID(0)},
		PaymentMethod:  "CARD",
		IdempotencyKey: "retry-1",
	}
	first, err := svc.Book(ctx, req)
	require.NoError(t, err)

	second, err := svc.Book(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.ReservationCode, second.ReservationCode)

	reservations, err := f.repo.ListReservations(ctx)
	require.NoError(t, err)
	assert.Len(t, reservations, 1)
}

func TestBook_IdempotencyKeyInFlight(t *testing.T) {
	f := newFixture(t)
	idem := newMemoryIdempotency()
	idem.entries[fmt.Sprintf("booking:%d:busy", f.vendor.ID)] = "pending:someone-else"
	svc := NewBookingService(f.repo, NewCapacityGuard(3), nil, nil, idem, BookingConfig{})

	_, err := svc.Book(context.Background(), &BookRequest{
		VendorID:       f.vendor.ID,
		StallIDs:       []int64{f.stallID(0)},
		PaymentMethod:  "CARD",
		IdempotencyKey: "busy",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrConflict))
	assert.False(t, f.stall(t, f.stallID(0)).Reserved)
}

func TestBook_IdempotencyKeyReleasedOnFailure(t *testing.T) {
	f := newFixture(t)
	idem := newMemoryIdempotency()
	svc := NewBookingService(f.repo, NewCapacityGuard(3), nil, nil, idem, BookingConfig{})

	_, err := svc.Book(context.Background(), &BookRequest{
		VendorID:       f.vendor.ID,
		StallIDs:       []int64{9999},
		PaymentMethod:  "CARD",
		IdempotencyKey: "k",
	})
	require.Error(t, err)
	assert.Empty(t, idem.entries)
}

func TestReservationTokens(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		token := NewReservationToken()
		assert.True(t, strings.HasPrefix(token, "RES-"))
		assert.Len(t, token, 16)
		assert.False(t, seen[token], "duplicate token %s", token)
		seen[token] = true
	}

	assert.Equal(t, "RES-ABC123DEF456-C-42", CancelledToken("RES-ABC123DEF456", 42))
}
