package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Freeeeeet/conference_booking/internal/model"
	"github.com/Freeeeeet/conference_booking/internal/repository/base"
)

const bookingColumns = `booking_id, user_id, conference_name, status, created_at, updated_at`

type BookingRepository struct {
	*base.Repository
}

func NewBookingRepository(db base.DBTX) *BookingRepository {
	return &BookingRepository{Repository: base.NewRepository(db)}
}

func scanBooking(row pgx.Row) (*model.Booking, error) {
	var (
		b          model.Booking
		id, status string
	)
	if err := row.Scan(&id, &b.UserID, &b.ConferenceName, &status, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	b.ID = model.BookingID(id)
	b.Status = model.BookingStatus(status)
	b.CreatedAt = b.CreatedAt.UTC()
	b.UpdatedAt = b.UpdatedAt.UTC()
	return &b, nil
}

// Create создаёт новое бронирование
func (r *BookingRepository) Create(ctx context.Context, b *model.Booking) error {
	query := `
		INSERT INTO bookings (booking_id, user_id, conference_name, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.ExecAffected(ctx, query,
		b.ID.String(),
		b.UserID,
		b.ConferenceName,
		string(b.Status),
		b.CreatedAt,
		b.UpdatedAt,
	)
	if err != nil {
		return constraintError("create booking", err)
	}
	return nil
}

// SetStatus меняет статус, если переход из текущего статуса разрешён
func (r *BookingRepository) SetStatus(ctx context.Context, id model.BookingID, status model.BookingStatus, at time.Time) error {
	from := model.AllowedFrom(status)
	allowed := make([]string, 0, len(from))
	for _, s := range from {
		allowed = append(allowed, string(s))
	}

	affected, err := r.ExecAffected(ctx, `
		UPDATE bookings SET status = $2, updated_at = $3
		WHERE booking_id = $1 AND status = ANY($4)
	`, id.String(), string(status), at, allowed)
	if err != nil {
		return fmt.Errorf("set booking status: %w", classify(err))
	}
	if affected > 0 {
		return nil
	}

	current, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("booking %s %s -> %s: %w", id, current.Status, status, model.ErrInvalidTransition)
}

// Get получает бронирование по ID
func (r *BookingRepository) Get(ctx context.Context, id model.BookingID) (*model.Booking, error) {
	b, err := scanBooking(r.QueryRow(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE booking_id = $1`, id.String()))
	if err != nil {
		if base.IsNotFound(err) {
			return nil, model.NotFoundf("booking", id.String())
		}
		return nil, fmt.Errorf("get booking: %w", classify(err))
	}
	return b, nil
}

// ListByUser получает все бронирования пользователя
func (r *BookingRepository) ListByUser(ctx context.Context, userID string) ([]*model.Booking, error) {
	rows, err := r.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE user_id = $1
		ORDER BY created_at, booking_id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list bookings by user: %w", classify(err))
	}
	defer rows.Close()

	var bookings []*model.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list bookings by user: %w", err)
	}
	return bookings, nil
}

func (r *BookingRepository) FindActive(ctx context.Context, userID, conferenceName string) (*model.Booking, error) {
	b, err := scanBooking(r.QueryRow(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE user_id = $1 AND conference_name = $2 AND status <> $3
		LIMIT 1
	`, userID, conferenceName, string(model.BookingStatusCanceled)))
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("find active booking: %w", classify(err))
	}
	return b, nil
}

func (r *BookingRepository) CountByStatus(ctx context.Context, conferenceName string, status model.BookingStatus) (int, error) {
	var n int
	err := r.QueryRow(ctx,
		`SELECT COUNT(*) FROM bookings WHERE conference_name = $1 AND status = $2`,
		conferenceName, string(status),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count bookings: %w", classify(err))
	}
	return n, nil
}
