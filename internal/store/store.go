package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"stall-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
)

// SQLSTATE codes translated into domain errors
const (
	pqLockNotAvailable = "55P03"
	pqUniqueViolation  = "23505"
)

// Store is the PostgreSQL repository
type Store struct {
	db          *sqlx.DB
	lockTimeout time.Duration
}

// NewStore creates a new database store. lockTimeout bounds every row lock
// wait inside WithTx; zero leaves the server default.
func NewStore(databaseURL string, lockTimeout time.Duration) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to database")
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, errors.Wrap(err, "failed to ping database")
	}

	return &Store{db: db, lockTimeout: lockTimeout}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// Ping checks the database connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// WithTx runs fn inside one transaction. Any error from fn rolls back every
// write fn made and releases its row locks.
func (s *Store) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if s.lockTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "failed to set lock timeout")
		}
	}

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}

	return errors.Wrap(translate(tx.Commit()), "failed to commit transaction")
}

// translate maps driver errors onto domain sentinels
func translate(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pqLockNotAvailable:
			return errors.Wrap(models.ErrLockNotAcquired, pqErr.Message)
		case pqUniqueViolation:
			if pqErr.Constraint == "reservations_token_key" {
				return errors.Wrap(models.ErrDuplicateToken, pqErr.Message)
			}
		}
	}
	return err
}

const stallColumns = `
	SELECT s.id, s.stall_code, s.floor_id, f.floor_name, t.size, t.price, s.reserved, s.disabled
	FROM stalls s
	JOIN floors f ON f.id = s.floor_id
	JOIN stall_types t ON t.id = s.stall_type_id`

const activeStallCountQuery = `
	SELECT COUNT(*)
	FROM reservation_stalls rs
	JOIN reservations r ON r.id = rs.reservation_id
	WHERE r.vendor_id = $1 AND r.status IN ('PENDING', 'CONFIRMED')`

func countActiveStalls(ctx context.Context, q sqlx.QueryerContext, vendorID int64) (int, error) {
	var count int
	if err := sqlx.GetContext(ctx, q, &count, activeStallCountQuery, vendorID); err != nil {
		return 0, errors.Wrapf(translate(err), "failed to count active stalls of vendor %d", vendorID)
	}
	return count, nil
}

// CountActiveStalls counts stalls held by the vendor's active reservations
func (s *Store) CountActiveStalls(ctx context.Context, vendorID int64) (int, error) {
	return countActiveStalls(ctx, s.db, vendorID)
}

// GetVendor retrieves a vendor by ID
func (s *Store) GetVendor(ctx context.Context, vendorID int64) (*models.Vendor, error) {
	var vendor models.Vendor
	err := s.db.GetContext(ctx, &vendor, "SELECT * FROM vendors WHERE id = $1", vendorID)
	if err == sql.ErrNoRows {
		return nil, models.NotFound("Vendor not found")
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get vendor")
	}
	return &vendor, nil
}

// GetStall retrieves a stall by ID
func (s *Store) GetStall(ctx context.Context, stallID int64) (*models.Stall, error) {
	var stall models.Stall
	err := s.db.GetContext(ctx, &stall, stallColumns+" WHERE s.id = $1", stallID)
	if err == sql.ErrNoRows {
		return nil, models.NotFound("Stall not found with id: %d", stallID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get stall")
	}
	return &stall, nil
}

// ListStalls retrieves all stalls, optionally of one floor
func (s *Store) ListStalls(ctx context.Context, floorID *int64) ([]models.Stall, error) {
	var stalls []models.Stall
	var err error
	if floorID != nil {
		err = s.db.SelectContext(ctx, &stalls, stallColumns+" WHERE s.floor_id = $1 ORDER BY s.id", *floorID)
	} else {
		err = s.db.SelectContext(ctx, &stalls, stallColumns+" ORDER BY s.id")
	}
	return stalls, errors.Wrap(err, "failed to list stalls")
}

// ListFloors retrieves all floors
func (s *Store) ListFloors(ctx context.Context) ([]models.Floor, error) {
	var floors []models.Floor
	err := s.db.SelectContext(ctx, &floors, "SELECT id, floor_name FROM floors ORDER BY id")
	return floors, errors.Wrap(err, "failed to list floors")
}

// FindActiveReservationByStall returns the active reservation holding the stall, or nil
func (s *Store) FindActiveReservationByStall(ctx context.Context, stallID int64) (*models.Reservation, error) {
	var reservation models.Reservation
	err := s.db.GetContext(ctx, &reservation, `
		SELECT r.*
		FROM reservations r
		JOIN reservation_stalls rs ON rs.reservation_id = r.id
		WHERE rs.stall_id = $1 AND r.status IN ('PENDING', 'CONFIRMED')`, stallID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find active reservation")
	}
	return &reservation, nil
}
