package model

import (
	"time"

	"github.com/google/uuid"
)

// BookingID names a ledger row and, while the booking is waitlisted, its
// waitlist entry as well.
type BookingID string

// NewBookingID generates a fresh random identifier.
func NewBookingID() BookingID {
	return BookingID(uuid.NewString())
}

func (id BookingID) String() string { return string(id) }

type BookingStatus string

const (
	BookingStatusConfirmed  BookingStatus = "confirmed"
	BookingStatusWaitlisted BookingStatus = "waitlisted"
	BookingStatusCanceled   BookingStatus = "canceled"
)

// Valid reports whether s is one of the known statuses.
func (s BookingStatus) Valid() bool {
	switch s {
	case BookingStatusConfirmed, BookingStatusWaitlisted, BookingStatusCanceled:
		return true
	}
	return false
}

// Active reports whether a booking in this status still holds a seat or a
// place in the queue.
func (s BookingStatus) Active() bool {
	return s == BookingStatusConfirmed || s == BookingStatusWaitlisted
}

// allowedFrom lists, for each target status, the statuses it may be reached
// from. New bookings enter as confirmed or waitlisted through Create.
var allowedFrom = map[BookingStatus][]BookingStatus{
	BookingStatusConfirmed: {BookingStatusWaitlisted},
	BookingStatusCanceled:  {BookingStatusConfirmed, BookingStatusWaitlisted},
}

// CanTransitionTo reports whether s -> next is a legal lifecycle step.
func (s BookingStatus) CanTransitionTo(next BookingStatus) bool {
	for _, from := range allowedFrom[next] {
		if from == s {
			return true
		}
	}
	return false
}

// AllowedFrom returns the statuses a booking may hold immediately before
// moving to next.
func AllowedFrom(next BookingStatus) []BookingStatus {
	return append([]BookingStatus(nil), allowedFrom[next]...)
}

type Booking struct {
	ID             BookingID     `json:"booking_id"`
	UserID         string        `json:"user_id"`
	ConferenceName string        `json:"conference_name"`
	Status         BookingStatus `json:"status"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// WaitlistEntry is a FIFO placeholder for a waitlisted booking. ID equals
// the booking's ID.
type WaitlistEntry struct {
	ID             BookingID `json:"waitlist_id"`
	UserID         string    `json:"user_id"`
	ConferenceName string    `json:"conference_name"`
	EnqueuedAt     time.Time `json:"enqueued_at"`
	Seq            int64     `json:"-"` // insertion order, breaks EnqueuedAt ties
}

// Before reports whether e is ahead of other in the queue.
func (e *WaitlistEntry) Before(other *WaitlistEntry) bool {
	if !e.EnqueuedAt.Equal(other.EnqueuedAt) {
		return e.EnqueuedAt.Before(other.EnqueuedAt)
	}
	return e.Seq < other.Seq
}
