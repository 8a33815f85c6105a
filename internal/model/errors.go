package model

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by the stores, the services and the transports.
var (
	ErrNotFound                  = errors.New("not found")
	ErrAlreadyExists             = errors.New("already exists")
	ErrInvalidInput              = errors.New("invalid input")
	ErrDuplicateBooking          = errors.New("user has already booked this conference")
	ErrOverlapConflict           = errors.New("user has overlapping conference booked")
	ErrCannotConfirm             = errors.New("booking cannot be confirmed")
	ErrConfirmationWindowExpired = errors.New("confirmation window expired")
	ErrNoCapacity                = errors.New("no remaining slots")
	ErrCapacityExceeded          = errors.New("remaining slots would exceed total slots")
	ErrInvalidTransition         = errors.New("invalid booking status transition")
	ErrStorageConflict           = errors.New("storage conflict, retry the request")
)

// DuplicateBookingError is returned when the user already holds a
// non-canceled booking for the conference.
type DuplicateBookingError struct {
	BookingID BookingID
}

func (e *DuplicateBookingError) Error() string {
	return fmt.Sprintf("%s: booking %s", ErrDuplicateBooking.Error(), e.BookingID)
}

func (e *DuplicateBookingError) Is(target error) bool {
	return target == ErrDuplicateBooking
}

// ExistingBookingID extracts the conflicting booking id from err, if any.
func ExistingBookingID(err error) (BookingID, bool) {
	var dup *DuplicateBookingError
	if errors.As(err, &dup) {
		return dup.BookingID, true
	}
	return "", false
}

// NotFoundf wraps ErrNotFound with the kind and key of the missing record.
func NotFoundf(kind, key string) error {
	return fmt.Errorf("%s %q: %w", kind, key, ErrNotFound)
}
