package service

import (
	"context"
	"sort"
	"testing"

	"stall-service/internal/models"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestCancel_ForksOffMultiStallBooking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, b := f.stallID(0), f.stallID(1)

	booked := f.book(t, f.vendor.ID, a, b)

	result, err := f.cancel.Cancel(ctx, f.vendor.ID, a)
	require.NoError(t, err)
	assert.Equal(t, BranchForked, result.Branch)
	assert.Equal(t, MessageCancelled, result.Message)
	assert.Equal(t, booked.ReservationCode, result.ParentReservationCode)
	assert.Equal(t, CancelledToken(booked.ReservationCode, a), result.ReservationCode)

	parent := f.reservation(t, booked.ReservationCode)
	assert.Equal(t, models.ReservationStatusConfirmed, parent.Status)
	parentStalls, err := f.repo.ListReservationStalls(ctx, parent.ID)
	require.NoError(t, err)
	require.Len(t, parentStalls, 1)
	assert.Equal(t, b, parentStalls[0].ID)
	assert.True(t, parentStalls[0].Reserved)

	fork := f.reservation(t, result.ReservationCode)
	assert.Equal(t, models.ReservationStatusCancelled, fork.Status)
	assert.Equal(t, parent.VendorID, fork.VendorID)
	assert.True(t, parent.CreatedAt.Equal(fork.CreatedAt))
	forkStalls, err := f.repo.ListReservationStalls(ctx, fork.ID)
	require.NoError(t, err)
	require.Len(t, forkStalls, 1)
	assert.Equal(t, a, forkStalls[0].ID)

	assert.False(t, f.stall(t, a).Reserved)

	count, err := f.repo.CountActiveStalls(ctx, f.vendor.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestCancel_TerminatesLastStall(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.stallID(0)

	booked := f.book(t, f.vendor.ID, a)

	result, err := f.cancel.Cancel(ctx, f.vendor.ID, a)
	require.NoError(t, err)
	assert.Equal(t, BranchTerminated, result.Branch)
	assert.Equal(t, booked.ReservationCode, result.ReservationCode)
	assert.Empty(t, result.ParentReservationCode)

	r := f.reservation(t, booked.ReservationCode)
	assert.Equal(t, models.ReservationStatusCancelled, r.Status)
	stalls, err := f.repo.ListReservationStalls(ctx, r.ID)
	require.NoError(t, err)
	assert.Len(t, stalls, 1)
	assert.False(t, f.stall(t, a).Reserved)

	reservations, err := f.repo.ListReservations(ctx)
	require.NoError(t, err)
	assert.Len(t, reservations, 1)
}

func TestCancel_FreesCapacityAndStall(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.book(t, f.vendor.ID, f.stallID(0), f.stallID(1), f.stallID(2))
	_, err := f.cancel.Cancel(ctx, f.vendor.ID, f.stallID(1))
	require.NoError(t, err)

	f.book(t, f.vendor.ID, f.stallID(3))
	f.book(t, f.vendor2.ID, f.stallID(1))

	count, err := f.repo.CountActiveStalls(ctx, f.vendor.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestCancel_NotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.stallID(0)

	_, err := f.cancel.Cancel(ctx, f.vendor.ID, a)
	assert.True(t, errors.Is(err, models.ErrNotFound))

	f.book(t, f.vendor.ID, a)

	// another vendor cannot cancel it
	_, err = f.cancel.Cancel(ctx, f.vendor2.ID, a)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrNotFound))
	assert.Equal(t, "Reservation not found for this stall", err.Error())
	assert.True(t, f.stall(t, a).Reserved)

	_, err = f.cancel.Cancel(ctx, f.vendor.ID, a)
	require.NoError(t, err)
	_, err = f.cancel.Cancel(ctx, f.vendor.ID, a)
	assert.True(t, errors.Is(err, models.ErrNotFound))

	_, err = f.cancel.Cancel(ctx, f.vendor.ID, 9999)
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestCancel_Validation(t *testing.T) {
	f := newFixture(t)

	_, err := f.cancel.Cancel(context.Background(), 0, f.stallID(0))
	assert.True(t, errors.Is(err, models.ErrValidation))

	_, err = f.cancel.Cancel(context.Background(), f.vendor.ID, 0)
	assert.True(t, errors.Is(err, models.ErrValidation))
}

func TestCancel_ConcurrentPartialCancellations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, b := f.stallID(0), f.stallID(1)

	booked := f.book(t, f.vendor.ID, a, b)

	branches := make([]string, 2)
	var g errgroup.Group
	for i, stallID := range []int64{a, b} {
		i, stallID := i, stallID
		g.Go(func() error {
			result, err := f.cancel.Cancel(ctx, f.vendor.ID, stallID)
			if err != nil {
				return err
			}
			branches[i] = result.Branch
			return nil
		})
	}
	require.NoError(t, g.Wait())

	sort.Strings(branches)
	assert.Equal(t, []string{BranchForked, BranchTerminated}, branches)

	parent := f.reservation(t, booked.ReservationCode)
	assert.Equal(t, models.ReservationStatusCancelled, parent.Status)
	assert.False(t, f.stall(t, a).Reserved)
	assert.False(t, f.stall(t, b).Reserved)

	count, err := f.repo.CountActiveStalls(ctx, f.vendor.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	reservations, err := f.repo.ListReservations(ctx)
	require.NoError(t, err)
	assert.Len(t, reservations, 2)
}

func TestCancel_PublishesEvent(t *testing.T) {
	f := newFixture(t)

	booked := f.book(t, f.vendor.ID, f.stallID(0), f.stallID(1))
	result, err := f.cancel.Cancel(context.Background(), f.vendor.ID, f.stallID(0))
	require.NoError(t, err)
	f.cancel.Wait()

	require.Len(t, f.events.cancelled, 1)
	event := f.events.cancelled[0]
	assert.Equal(t, models.EventTypeStallCancelled, event.EventType)
	assert.True(t, event.Forked)
	assert.Equal(t, f.stallID(0), event.StallID)
	assert.Equal(t, result.ReservationCode, event.CancelledToken)
	assert.Equal(t, f.reservation(t, booked.ReservationCode).ID, event.ParentReservationID)
}

func TestVendorBookings_IncludeCancelledForks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.book(t, f.vendor.ID, f.stallID(0), f.stallID(1))
	_, err := f.cancel.Cancel(ctx, f.vendor.ID, f.stallID(0))
	require.NoError(t, err)

	bookings, err := f.queries.VendorBookings(ctx, f.vendor.ID)
	require.NoError(t, err)
	require.Len(t, bookings, 2)

	statuses := map[int64]string{}
	for _, b := range bookings {
		statuses[b.StallID] = b.ReservationStatus
	}
	assert.Equal(t, models.ReservationStatusCancelled, statuses[f.stallID(0)])
	assert.Equal(t, models.ReservationStatusConfirmed, statuses[f.stallID(1)])

	empty, err := f.queries.VendorBookings(ctx, f.vendor2.ID)
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = f.queries.VendorBookings(ctx, 9999)
	assert.True(t, errors.Is(err, models.ErrNotFound))
}
