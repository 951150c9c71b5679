package store

import (
	"context"

	"stall-service/internal/models"
)

// ActiveStallCounter counts the stalls reachable through a vendor's active
// reservations. Both Repository and Tx implement it so the capacity guard
// runs the same query before and inside the unit of work.
type ActiveStallCounter interface {
	CountActiveStalls(ctx context.Context, vendorID int64) (int, error)
}

// Tx is one atomic unit of work. Row locks taken through it are held until
// the surrounding WithTx returns.
type Tx interface {
	ActiveStallCounter

	// LockVendor serializes units of work of one vendor
	LockVendor(ctx context.Context, vendorID int64) (*models.Vendor, error)
	// LockStalls locks the stalls in ascending id order and returns them in that order
	LockStalls(ctx context.Context, stallIDs []int64) ([]models.Stall, error)
	LockReservation(ctx context.Context, reservationID int64) (*models.Reservation, error)

	SetStallReserved(ctx context.Context, stallID int64, reserved bool) error
	SetStallDisabled(ctx context.Context, stallID int64, disabled bool) error

	CreateReservation(ctx context.Context, reservation *models.Reservation) error
	CreateStallLink(ctx context.Context, link *models.StallLink) error
	CreatePayment(ctx context.Context, payment *models.Payment) error

	FindActiveLink(ctx context.Context, vendorID, stallID int64) (*models.StallLink, error)
	CountActiveLinks(ctx context.Context, reservationID, excludeLinkID int64) (int, error)
	UpdateReservationStatus(ctx context.Context, reservationID int64, status string) error
	RepointLink(ctx context.Context, linkID, reservationID int64) error
}

// Repository is the durable store consumed by the services
type Repository interface {
	ActiveStallCounter

	WithTx(ctx context.Context, fn func(tx Tx) error) error
	Ping(ctx context.Context) error
	Close() error

	GetVendor(ctx context.Context, vendorID int64) (*models.Vendor, error)
	GetStall(ctx context.Context, stallID int64) (*models.Stall, error)
	ListStalls(ctx context.Context, floorID *int64) ([]models.Stall, error)
	ListFloors(ctx context.Context) ([]models.Floor, error)
	FindActiveReservationByStall(ctx context.Context, stallID int64) (*models.Reservation, error)

	ListVendorBookings(ctx context.Context, vendorID int64) ([]models.VendorBooking, error)
	ListReservations(ctx context.Context) ([]models.ReservationSummary, error)
	GetReservationByToken(ctx context.Context, token string) (*models.Reservation, error)
	ListReservationStalls(ctx context.Context, reservationID int64) ([]models.Stall, error)
	GetPaymentByReservation(ctx context.Context, reservationID int64) (*models.Payment, error)
}

var (
	_ Repository = (*Store)(nil)
	_ Repository = (*MemoryStore)(nil)
	_ Tx         = (*pgTx)(nil)
	_ Tx         = (*memTx)(nil)
)
