package models

import "time"

// StallAvailability is the admin and gate view of a stall with its active
// holder and that holder's payment
type StallAvailability struct {
	Stall
	StatusLabel       string     `json:"status_label"`
	ReservationID     *int64     `json:"reservation_id,omitempty"`
	ReservationToken  string     `json:"reservation_code,omitempty"`
	ReservationStatus string     `json:"reservation_status,omitempty"`
	ReservationDate   *time.Time `json:"reservation_date,omitempty"`
	Vendor            *Vendor    `json:"vendor,omitempty"`
	Payment           *Payment   `json:"payment,omitempty"`
}

// VendorBooking is one stall link of a vendor, current or historical
type VendorBooking struct {
	StallID           int64     `db:"stall_id" json:"stall_id"`
	StallCode         string    `db:"stall_code" json:"stall_code"`
	Size              string    `db:"size" json:"size"`
	Price             int64     `db:"price" json:"price"`
	FloorName         string    `db:"floor_name" json:"floor_name"`
	ReservationID     int64     `db:"reservation_id" json:"reservation_id"`
	ReservationToken  string    `db:"token" json:"reservation_code"`
	ReservationStatus string    `db:"status" json:"status"`
	ReservedAt        time.Time `db:"created_at" json:"reserved_at"`
}

// ReservationSummary is a reservation with its vendor contact
type ReservationSummary struct {
	Reservation
	VendorName  string `db:"vendor_name" json:"vendor_name"`
	VendorEmail string `db:"vendor_email" json:"vendor_email"`
}

// ReservationDetail is everything known about a reservation token
type ReservationDetail struct {
	Reservation Reservation `json:"reservation"`
	Vendor      Vendor      `json:"vendor"`
	Stalls      []Stall     `json:"stalls"`
	Payment     *Payment    `json:"payment,omitempty"`
}
