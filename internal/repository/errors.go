package repository

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Freeeeeet/conference_booking/internal/model"
)

// Postgres SQLSTATE codes the repositories react to.
const (
	codeUniqueViolation      = "23505"
	codeForeignKeyViolation  = "23503"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
)

// activeBookingIndex is the partial unique index on (user_id, conference_name)
// for non-canceled bookings.
const activeBookingIndex = "bookings_active_user_conference_idx"

func pgCode(err error) (string, string) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code, pgErr.ConstraintName
	}
	return "", ""
}

// classify turns contention aborts into model.ErrStorageConflict so callers
// can tell retryable failures apart.
func classify(err error) error {
	if err == nil {
		return nil
	}
	switch code, _ := pgCode(err); code {
	case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable:
		return fmt.Errorf("%w: %w", model.ErrStorageConflict, err)
	}
	return err
}

// constraintError maps integrity violations raised by an insert.
func constraintError(op string, err error) error {
	code, constraint := pgCode(err)
	switch {
	case code == codeUniqueViolation && constraint == activeBookingIndex:
		return fmt.Errorf("%s: %w", op, model.ErrDuplicateBooking)
	case code == codeUniqueViolation:
		return fmt.Errorf("%s: %w", op, model.ErrAlreadyExists)
	case code == codeForeignKeyViolation:
		return fmt.Errorf("%s: %w", op, model.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, classify(err))
}
