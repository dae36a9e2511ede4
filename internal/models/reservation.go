package models

import "time"

// ReservationStatus mirrors the "status" column accepted in uploaded rows.
type ReservationStatus string

const (
	ReservationPending   ReservationStatus = "PENDING"
	ReservationCanceled  ReservationStatus = "CANCELED"
	ReservationCompleted ReservationStatus = "COMPLETED"
)

// Reservation is the domain record upserted from validated spreadsheet rows.
// reservationId is unique across the collection; within one file the first
// occurrence wins and later duplicates are reported as row errors instead of
// racing each other for the upsert.
type Reservation struct {
	ReservationID string            `bson:"reservationId" json:"reservationId"`
	GuestName     string            `bson:"guestName" json:"guestName"`
	Status        ReservationStatus `bson:"status" json:"status"`
	CheckInDate   string            `bson:"checkInDate" json:"checkInDate"`   // YYYY-MM-DD
	CheckOutDate  string            `bson:"checkOutDate" json:"checkOutDate"` // YYYY-MM-DD
	CreatedAt     time.Time         `bson:"createdAt" json:"createdAt"`
	UpdatedAt     time.Time         `bson:"updatedAt" json:"updatedAt"`
}
