package models

import "time"

// Floor is a hall of the exhibition that stalls belong to
type Floor struct {
	ID   int64  `db:"id" json:"id"`
	Name string `db:"floor_name" json:"floor_name"`
}

// Stall is a bookable physical unit. Reserved mirrors "an active link exists"
// and is only written inside the unit of work that creates or moves the link.
type Stall struct {
	ID        int64  `db:"id" json:"id"`
	Code      string `db:"stall_code" json:"stall_code"`
	FloorID   int64  `db:"floor_id" json:"floor_id"`
	FloorName string `db:"floor_name" json:"floor_name"`
	Size      string `db:"size" json:"size"`
	Price     int64  `db:"price" json:"price"`
	Reserved  bool   `db:"reserved" json:"reserved"`
	Disabled  bool   `db:"disabled" json:"disabled"`
}

// StatusLabel returns the display status of the stall
func (s *Stall) StatusLabel() string {
	switch {
	case s.Disabled:
		return StallStatusDisabled
	case s.Reserved:
		return StallStatusReserved
	default:
		return StallStatusAvailable
	}
}

// Vendor is the business holding reservations
type Vendor struct {
	ID            int64     `db:"id" json:"id"`
	Name          string    `db:"name" json:"name"`
	Email         string    `db:"email" json:"email"`
	ContactNumber string    `db:"contact_number" json:"contact_number,omitempty"`
	BusinessName  string    `db:"business_name" json:"business_name,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// Reservation is the audit unit of a booking, identified by its token
type Reservation struct {
	ID        int64     `db:"id" json:"id"`
	VendorID  int64     `db:"vendor_id" json:"vendor_id"`
	Token     string    `db:"token" json:"token"`
	Status    string    `db:"status" json:"status"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// IsActive reports whether the reservation still holds its stalls
func (r *Reservation) IsActive() bool {
	return IsActiveStatus(r.Status)
}

// StallLink binds one reservation to one stall by identity
type StallLink struct {
	ID            int64 `db:"id" json:"id"`
	ReservationID int64 `db:"reservation_id" json:"reservation_id"`
	StallID       int64 `db:"stall_id" json:"stall_id"`
}

// Payment is the recorded payment of a reservation
type Payment struct {
	ID            int64     `db:"id" json:"id"`
	ReservationID int64     `db:"reservation_id" json:"reservation_id"`
	Amount        int64     `db:"amount" json:"amount"`
	Method        string    `db:"method" json:"method"`
	Status        string    `db:"status" json:"status"`
	PaidAt        time.Time `db:"payment_date" json:"payment_date"`
}

// Reservation statuses
const (
	ReservationStatusPending   = "PENDING"
	ReservationStatusConfirmed = "CONFIRMED"
	ReservationStatusCancelled = "CANCELLED"
)

// IsActiveStatus reports whether status holds stalls
func IsActiveStatus(status string) bool {
	return status == ReservationStatusPending || status == ReservationStatusConfirmed
}

// Payment statuses
const (
	PaymentStatusPending = "PENDING"
	PaymentStatusPaid    = "PAID"
)

// Stall status labels
const (
	StallStatusAvailable = "AVAILABLE"
	StallStatusReserved  = "RESERVED"
	StallStatusDisabled  = "DISABLED"
)

// PaymentMethodCashOnDate is paid at the fair
const PaymentMethodCashOnDate = "CASH_ON_DATE"

// CancelledTokenSuffix separates a parent token from the cancelled stall id
const CancelledTokenSuffix = "-C-"
