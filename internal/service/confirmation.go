package service

import "time"

// DefaultConfirmationWindow is how long a waitlisted user may self-confirm.
const DefaultConfirmationWindow = time.Hour

// ConfirmationWindow computes the self-confirm deadline of a waitlist entry.
// It never expires anything on its own.
type ConfirmationWindow struct {
	Length time.Duration
}

func NewConfirmationWindow(length time.Duration) ConfirmationWindow {
	if length <= 0 {
		length = DefaultConfirmationWindow
	}
	return ConfirmationWindow{Length: length}
}

func (w ConfirmationWindow) CanConfirmUntil(enqueuedAt time.Time) time.Time {
	return enqueuedAt.Add(w.Length)
}

// IsOpen reports now < CanConfirmUntil(enqueuedAt).
func (w ConfirmationWindow) IsOpen(enqueuedAt, now time.Time) bool {
	return now.Before(w.CanConfirmUntil(enqueuedAt))
}
