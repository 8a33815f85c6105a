package model

import "time"

type BookingEventType string

const (
	EventBookingConfirmed     BookingEventType = "booking.confirmed"
	EventBookingWaitlisted    BookingEventType = "booking.waitlisted"
	EventBookingPromoted      BookingEventType = "booking.promoted"
	EventBookingSelfConfirmed BookingEventType = "booking.self_confirmed"
	EventBookingCanceled      BookingEventType = "booking.canceled"
)

// BookingEvent is emitted after a unit of work that changed a booking has
// committed.
type BookingEvent struct {
	Type           BookingEventType `json:"type"`
	BookingID      BookingID        `json:"booking_id"`
	UserID         string           `json:"user_id"`
	ConferenceName string           `json:"conference_name"`
	Status         BookingStatus    `json:"status"`
	PreviousStatus BookingStatus    `json:"previous_status,omitempty"`
	OccurredAt     time.Time        `json:"occurred_at"`
}
