package models

import "time"

// Event types
const (
	EventTypeReservationConfirmed = "RESERVATION_CONFIRMED"
	EventTypeStallCancelled       = "STALL_CANCELLED"
	EventTypeStallToggled         = "STALL_TOGGLED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

func (e BaseEvent) Type() string {
	return e.EventType
}

// ReservationConfirmedEvent published after a booking commits. It doubles as
// the notification payload, so it carries the vendor contact.
type ReservationConfirmedEvent struct {
	BaseEvent
	ReservationID    int64       `json:"reservation_id"`
	ReservationToken string      `json:"reservation_code"`
	VendorID         int64       `json:"vendor_id"`
	VendorName       string      `json:"vendor_name"`
	VendorEmail      string      `json:"vendor_email"`
	Stalls           []StallData `json:"stalls"`
	Amount           int64       `json:"amount"`
	PaymentMethod    string      `json:"payment_method"`
	PaymentStatus    string      `json:"payment_status"`
}

// StallCancelledEvent published after a stall is released
type StallCancelledEvent struct {
	BaseEvent
	VendorID             int64  `json:"vendor_id"`
	StallID              int64  `json:"stall_id"`
	ParentReservationID  int64  `json:"parent_reservation_id"`
	CancelledReservation int64  `json:"cancelled_reservation_id"`
	CancelledToken       string `json:"cancelled_reservation_code"`
	Forked               bool   `json:"forked"`
}

// StallToggledEvent published after an admin enables or disables a stall
type StallToggledEvent struct {
	BaseEvent
	StallID  int64 `json:"stall_id"`
	Disabled bool  `json:"disabled"`
}

// StallData represents a stall in events
type StallData struct {
	StallID   int64  `json:"stall_id"`
	StallCode string `json:"stall_code"`
	FloorName string `json:"floor_name"`
	Price     int64  `json:"price"`
}
