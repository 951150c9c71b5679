package service

import (
	"context"
	"testing"

	"stall-service/internal/models"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToggleDisabled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.stallID(0)

	result, err := f.stallsv.ToggleDisabled(ctx, a)
	require.NoError(t, err)
	assert.True(t, result.Stall.Disabled)
	assert.Equal(t, "Stall disabled successfully", result.Message)
	assert.Equal(t, models.StallStatusDisabled, f.stall(t, a).StatusLabel())

	result, err = f.stallsv.ToggleDisabled(ctx, a)
	require.NoError(t, err)
	assert.False(t, result.Stall.Disabled)
	assert.Equal(t, "Stall enabled successfully", result.Message)
	assert.Equal(t, models.StallStatusAvailable, f.stall(t, a).StatusLabel())

	f.stallsv.Wait()
	assert.Len(t, f.events.toggled, 2)
}

func TestToggleDisabled_ReservedStallConflicts(t *testing.T) {
	f := newFixture(t)
	a := f.stallID(0)
	f.book(t, f.vendor.ID, a)

	_, err := f.stallsv.ToggleDisabled(context.Background(), a)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrConflict))

	var be *models.BusinessError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, "STALL_IS_RESERVED", be.Code)

	st := f.stall(t, a)
	assert.False(t, st.Disabled)
	assert.True(t, st.Reserved)
}

func TestToggleDisabled_UnknownStall(t *testing.T) {
	f := newFixture(t)

	_, err := f.stallsv.ToggleDisabled(context.Background(), 9999)
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestAvailability(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	booked := f.book(t, f.vendor.ID, f.stallID(0))
	_, err := f.stallsv.ToggleDisabled(ctx, f.stallID(1))
	require.NoError(t, err)

	views, err := f.stallsv.Availability(ctx)
	require.NoError(t, err)
	require.Len(t, views, len(f.stalls))

	reserved := views[0]
	assert.Equal(t, models.StallStatusReserved, reserved.StatusLabel)
	assert.Equal(t, booked.ReservationCode, reserved.ReservationToken)
	require.NotNil(t, reserved.Vendor)
	assert.Equal(t, f.vendor.Email, reserved.Vendor.Email)
	require.NotNil(t, reserved.ReservationID)
	require.NotNil(t, reserved.Payment)
	assert.Equal(t, models.PaymentStatusPaid, reserved.Payment.Status)
	assert.Equal(t, "CARD", reserved.Payment.Method)
	assert.Equal(t, f.stalls[0].Price, reserved.Payment.Amount)

	assert.Equal(t, models.StallStatusDisabled, views[1].StatusLabel)
	assert.Nil(t, views[1].Vendor)
	assert.Nil(t, views[1].Payment)
	assert.Equal(t, models.StallStatusAvailable, views[2].StatusLabel)
}

func TestListStallsByFloor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	hallB := f.repo.AddFloor("Hall B")
	f.repo.AddStall(models.Stall{Code: "B1", FloorID: hallB.ID, Size: "LARGE", Price: 9000})

	all, err := f.stallsv.ListStalls(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 6)

	onB, err := f.stallsv.ListStalls(ctx, &hallB.ID)
	require.NoError(t, err)
	require.Len(t, onB, 1)
	assert.Equal(t, "B1", onB[0].Code)
	assert.Equal(t, "Hall B", onB[0].FloorName)

	floors, err := f.stallsv.ListFloors(ctx)
	require.NoError(t, err)
	assert.Len(t, floors, 2)
}

func TestVerify(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	booked := f.book(t, f.vendor.ID, f.stallID(0), f.stallID(1))

	result, err := f.queries.Verify(ctx, `"`+booked.ReservationCode+`"`)
	require.NoError(t, err)
	assert.True(t, result.AccessGranted)
	require.NotNil(t, result.Detail)
	assert.Equal(t, f.vendor.Name, result.Detail.Vendor.Name)
	assert.Len(t, result.Detail.Stalls, 2)
	require.NotNil(t, result.Detail.Payment)
	assert.Equal(t, int64(3000), result.Detail.Payment.Amount)

	cancelled, err := f.cancel.Cancel(ctx, f.vendor.ID, f.stallID(0))
	require.NoError(t, err)

	result, err = f.queries.Verify(ctx, cancelled.ReservationCode)
	require.NoError(t, err)
	assert.False(t, result.AccessGranted)
	assert.Equal(t, "Reservation is cancelled", result.Message)

	_, err = f.queries.Verify(ctx, "RES-UNKNOWN")
	assert.True(t, errors.Is(err, models.ErrNotFound))

	_, err = f.queries.Verify(ctx, "  ")
	assert.True(t, errors.Is(err, models.ErrValidation))
}

func TestCapacityGuard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	guard := NewCapacityGuard(0)
	assert.Equal(t, DefaultMaxStallsPerVendor, guard.Max())

	require.NoError(t, guard.Check(ctx, f.repo, f.vendor.ID, 3))
	f.book(t, f.vendor.ID, f.stallID(0), f.stallID(1))

	require.NoError(t, guard.Check(ctx, f.repo, f.vendor.ID, 1))
	err := guard.Check(ctx, f.repo, f.vendor.ID, 2)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrCapacityExceeded))
	assert.Equal(t,
		"Limit Exceeded: You can only reserve up to 3 stalls per business. You currently hold 2.",
		err.Error())
}
