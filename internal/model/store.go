package model

import (
	"context"
	"time"
)

// UnitOfWork runs fn as one atomic transaction. If fn returns an error
// nothing it did is visible to anyone. Implementations report contention
// aborts as ErrStorageConflict.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx exposes the stores bound to a single unit of work.
type Tx interface {
	Conferences() ConferenceRegistry
	Users() UserDirectory
	Bookings() BookingLedger
	Waitlist() WaitlistQueue
}

type ConferenceRegistry interface {
	Create(ctx context.Context, c *Conference) error
	Get(ctx context.Context, name string) (*Conference, error)
	// GetForUpdate reads the conference and holds its lock until the
	// unit of work ends. Every mutation of the conference's slots,
	// waitlist or bookings happens under this lock.
	GetForUpdate(ctx context.Context, name string) (*Conference, error)
	// DecrementSlot fails with ErrNoCapacity when no slot remains.
	DecrementSlot(ctx context.Context, name string) error
	// IncrementSlot fails with ErrCapacityExceeded when remaining would
	// exceed total.
	IncrementSlot(ctx context.Context, name string) error
	Search(ctx context.Context, f ConferenceFilter) ([]*Conference, error)
	ListUpcoming(ctx context.Context, after time.Time) ([]*Conference, error)
	// ListDrainable returns names of conferences that have a free slot and
	// a non-empty waitlist.
	ListDrainable(ctx context.Context) ([]string, error)
}

type UserDirectory interface {
	Create(ctx context.Context, u *User) error
	Get(ctx context.Context, userID string) (*User, error)
	// GetForUpdate serializes concurrent bookings of the same user.
	GetForUpdate(ctx context.Context, userID string) (*User, error)
}

type BookingLedger interface {
	Create(ctx context.Context, b *Booking) error
	// SetStatus fails with ErrInvalidTransition if the current status
	// cannot move to status.
	SetStatus(ctx context.Context, id BookingID, status BookingStatus, at time.Time) error
	Get(ctx context.Context, id BookingID) (*Booking, error)
	ListByUser(ctx context.Context, userID string) ([]*Booking, error)
	// FindActive returns the non-canceled booking for the pair, or nil.
	FindActive(ctx context.Context, userID, conferenceName string) (*Booking, error)
	CountByStatus(ctx context.Context, conferenceName string, status BookingStatus) (int, error)
}

type WaitlistQueue interface {
	Enqueue(ctx context.Context, e *WaitlistEntry) error
	// PeekOldest returns nil when the conference has no waitlist.
	PeekOldest(ctx context.Context, conferenceName string) (*WaitlistEntry, error)
	Get(ctx context.Context, id BookingID) (*WaitlistEntry, error)
	Remove(ctx context.Context, id BookingID) error
	ListByConference(ctx context.Context, conferenceName string) ([]*WaitlistEntry, error)
}
