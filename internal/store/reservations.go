package store

import (
	"context"
	"database/sql"
	"sort"

	"stall-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

// ListVendorBookings retrieves every stall link of a vendor, cancelled forks included
func (s *Store) ListVendorBookings(ctx context.Context, vendorID int64) ([]models.VendorBooking, error) {
	var bookings []models.VendorBooking
	err := s.db.SelectContext(ctx, &bookings, `
		SELECT st.id AS stall_id, st.stall_code, t.size, t.price, f.floor_name,
		       r.id AS reservation_id, r.token, r.status, r.created_at
		FROM reservation_stalls rs
		JOIN reservations r ON r.id = rs.reservation_id
		JOIN stalls st ON st.id = rs.stall_id
		JOIN floors f ON f.id = st.floor_id
		JOIN stall_types t ON t.id = st.stall_type_id
		WHERE r.vendor_id = $1
		ORDER BY r.created_at DESC, rs.id`, vendorID)
	return bookings, errors.Wrap(err, "failed to list vendor bookings")
}

// ListReservations retrieves all reservations with their vendor
func (s *Store) ListReservations(ctx context.Context) ([]models.ReservationSummary, error) {
	var reservations []models.ReservationSummary
	err := s.db.SelectContext(ctx, &reservations, `
		SELECT r.*, v.name AS vendor_name, v.email AS vendor_email
		FROM reservations r
		JOIN vendors v ON v.id = r.vendor_id
		ORDER BY r.created_at DESC, r.id DESC`)
	return reservations, errors.Wrap(err, "failed to list reservations")
}

// GetReservationByToken retrieves a reservation by its token
func (s *Store) GetReservationByToken(ctx context.Context, token string) (*models.Reservation, error) {
	var reservation models.Reservation
	err := s.db.GetContext(ctx, &reservation, "SELECT * FROM reservations WHERE token = $1", token)
	if err == sql.ErrNoRows {
		return nil, models.NotFound("Reservation not found")
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get reservation")
	}
	return &reservation, nil
}

// ListReservationStalls retrieves the stalls linked to a reservation
func (s *Store) ListReservationStalls(ctx context.Context, reservationID int64) ([]models.Stall, error) {
	var stalls []models.Stall
	err := s.db.SelectContext(ctx, &stalls, stallColumns+`
		JOIN reservation_stalls rs ON rs.stall_id = s.id
		WHERE rs.reservation_id = $1
		ORDER BY s.id`, reservationID)
	return stalls, errors.Wrap(err, "failed to list reservation stalls")
}

// GetPaymentByReservation retrieves the payment of a reservation, or nil
func (s *Store) GetPaymentByReservation(ctx context.Context, reservationID int64) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.GetContext(ctx, &payment, "SELECT * FROM payments WHERE reservation_id = $1", reservationID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get payment")
	}
	return &payment, nil
}

// pgTx implements Tx over a PostgreSQL transaction
type pgTx struct {
	tx *sqlx.Tx
}

func (t *pgTx) CountActiveStalls(ctx context.Context, vendorID int64) (int, error) {
	return countActiveStalls(ctx, t.tx, vendorID)
}

func (t *pgTx) LockVendor(ctx context.Context, vendorID int64) (*models.Vendor, error) {
	var vendor models.Vendor
	err := t.tx.GetContext(ctx, &vendor, "SELECT * FROM vendors WHERE id = $1 FOR UPDATE", vendorID)
	if err == sql.ErrNoRows {
		return nil, models.NotFound("Vendor not found")
	}
	if err != nil {
		return nil, errors.Wrap(translate(err), "failed to lock vendor")
	}
	return &vendor, nil
}

// LockStalls takes the row locks one by one so the acquisition order is the
// ascending id order regardless of the planner.
func (t *pgTx) LockStalls(ctx context.Context, stallIDs []int64) ([]models.Stall, error) {
	ids := make([]int64, len(stallIDs))
	copy(ids, stallIDs)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	stalls := make([]models.Stall, 0, len(ids))
	for _, id := range ids {
		var stall models.Stall
		err := t.tx.GetContext(ctx, &stall, stallColumns+" WHERE s.id = $1 FOR UPDATE OF s", id)
		if err == sql.ErrNoRows {
			return nil, models.NotFound("Stall not found with id: %d", id)
		}
		if err != nil {
			return nil, errors.Wrapf(translate(err), "failed to lock stall %d", id)
		}
		stalls = append(stalls, stall)
	}
	return stalls, nil
}

func (t *pgTx) LockReservation(ctx context.Context, reservationID int64) (*models.Reservation, error) {
	var reservation models.Reservation
	err := t.tx.GetContext(ctx, &reservation,
		"SELECT * FROM reservations WHERE id = $1 FOR UPDATE", reservationID)
	if err == sql.ErrNoRows {
		return nil, models.NotFound("Reservation not found")
	}
	if err != nil {
		return nil, errors.Wrap(translate(err), "failed to lock reservation")
	}
	return &reservation, nil
}

func (t *pgTx) SetStallReserved(ctx context.Context, stallID int64, reserved bool) error {
	_, err := t.tx.ExecContext(ctx, "UPDATE stalls SET reserved = $1 WHERE id = $2", reserved, stallID)
	return errors.Wrap(translate(err), "failed to update stall reserved flag")
}

func (t *pgTx) SetStallDisabled(ctx context.Context, stallID int64, disabled bool) error {
	_, err := t.tx.ExecContext(ctx, "UPDATE stalls SET disabled = $1 WHERE id = $2", disabled, stallID)
	return errors.Wrap(translate(err), "failed to update stall disabled flag")
}

func (t *pgTx) CreateReservation(ctx context.Context, reservation *models.Reservation) error {
	query := `
		INSERT INTO reservations (vendor_id, token, status, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id`

	err := t.tx.GetContext(ctx, &reservation.ID, query,
		reservation.VendorID, reservation.Token, reservation.Status, reservation.CreatedAt)
	return errors.Wrap(translate(err), "failed to create reservation")
}

func (t *pgTx) CreateStallLink(ctx context.Context, link *models.StallLink) error {
	query := `
		INSERT INTO reservation_stalls (reservation_id, stall_id)
		VALUES ($1, $2)
		RETURNING id`

	err := t.tx.GetContext(ctx, &link.ID, query, link.ReservationID, link.StallID)
	return errors.Wrap(translate(err), "failed to create stall link")
}

func (t *pgTx) CreatePayment(ctx context.Context, payment *models.Payment) error {
	query := `
		INSERT INTO payments (reservation_id, amount, method, status, payment_date)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	err := t.tx.GetContext(ctx, &payment.ID, query,
		payment.ReservationID, payment.Amount, payment.Method, payment.Status, payment.PaidAt)
	return errors.Wrap(translate(err), "failed to create payment")
}

func (t *pgTx) FindActiveLink(ctx context.Context, vendorID, stallID int64) (*models.StallLink, error) {
	var link models.StallLink
	err := t.tx.GetContext(ctx, &link, `
		SELECT rs.id, rs.reservation_id, rs.stall_id
		FROM reservation_stalls rs
		JOIN reservations r ON r.id = rs.reservation_id
		WHERE r.vendor_id = $1 AND rs.stall_id = $2 AND r.status <> 'CANCELLED'`,
		vendorID, stallID)
	if err == sql.ErrNoRows {
		return nil, models.NotFound("Reservation not found for this stall")
	}
	if err != nil {
		return nil, errors.Wrap(translate(err), "failed to find active link")
	}
	return &link, nil
}

func (t *pgTx) CountActiveLinks(ctx context.Context, reservationID, excludeLinkID int64) (int, error) {
	var count int
	err := t.tx.GetContext(ctx, &count, `
		SELECT COUNT(*)
		FROM reservation_stalls rs
		JOIN reservations r ON r.id = rs.reservation_id
		WHERE rs.reservation_id = $1 AND rs.id <> $2 AND r.status <> 'CANCELLED'`,
		reservationID, excludeLinkID)
	return count, errors.Wrap(translate(err), "failed to count active links")
}

func (t *pgTx) UpdateReservationStatus(ctx context.Context, reservationID int64, status string) error {
	_, err := t.tx.ExecContext(ctx, "UPDATE reservations SET status = $1 WHERE id = $2", status, reservationID)
	return errors.Wrap(translate(err), "failed to update reservation status")
}

func (t *pgTx) RepointLink(ctx context.Context, linkID, reservationID int64) error {
	_, err := t.tx.ExecContext(ctx,
		"UPDATE reservation_stalls SET reservation_id = $1 WHERE id = $2", reservationID, linkID)
	return errors.Wrap(translate(err), "failed to re-point stall link")
}
