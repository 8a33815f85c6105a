package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Freeeeeet/conference_booking/internal/model"
	"github.com/Freeeeeet/conference_booking/internal/repository/base"
)

const waitlistColumns = `waitlist_id, user_id, conference_name, enqueued_at, seq`

type WaitlistRepository struct {
	*base.Repository
}

func NewWaitlistRepository(db base.DBTX) *WaitlistRepository {
	return &WaitlistRepository{Repository: base.NewRepository(db)}
}

func scanWaitlistEntry(row pgx.Row) (*model.WaitlistEntry, error) {
	var (
		e  model.WaitlistEntry
		id string
	)
	if err := row.Scan(&id, &e.UserID, &e.ConferenceName, &e.EnqueuedAt, &e.Seq); err != nil {
		return nil, err
	}
	e.ID = model.BookingID(id)
	e.EnqueuedAt = e.EnqueuedAt.UTC()
	return &e, nil
}

// Enqueue ставит запись в конец очереди, seq выдаёт база
func (r *WaitlistRepository) Enqueue(ctx context.Context, e *model.WaitlistEntry) error {
	err := r.QueryRow(ctx, `
		INSERT INTO waitlists (waitlist_id, user_id, conference_name, enqueued_at)
		VALUES ($1, $2, $3, $4)
		RETURNING seq
	`, e.ID.String(), e.UserID, e.ConferenceName, e.EnqueuedAt).Scan(&e.Seq)
	if err != nil {
		return constraintError("enqueue waitlist entry", err)
	}
	return nil
}

func (r *WaitlistRepository) PeekOldest(ctx context.Context, conferenceName string) (*model.WaitlistEntry, error) {
	e, err := scanWaitlistEntry(r.QueryRow(ctx, `
		SELECT `+waitlistColumns+`
		FROM waitlists
		WHERE conference_name = $1
		ORDER BY enqueued_at, seq
		LIMIT 1
	`, conferenceName))
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("peek waitlist: %w", classify(err))
	}
	return e, nil
}

func (r *WaitlistRepository) Get(ctx context.Context, id model.BookingID) (*model.WaitlistEntry, error) {
	e, err := scanWaitlistEntry(r.QueryRow(ctx,
		`SELECT `+waitlistColumns+` FROM waitlists WHERE waitlist_id = $1`, id.String()))
	if err != nil {
		if base.IsNotFound(err) {
			return nil, model.NotFoundf("waitlist entry", id.String())
		}
		return nil, fmt.Errorf("get waitlist entry: %w", classify(err))
	}
	return e, nil
}

func (r *WaitlistRepository) Remove(ctx context.Context, id model.BookingID) error {
	affected, err := r.ExecAffected(ctx, `DELETE FROM waitlists WHERE waitlist_id = $1`, id.String())
	if err != nil {
		return fmt.Errorf("remove waitlist entry: %w", classify(err))
	}
	if affected == 0 {
		return model.NotFoundf("waitlist entry", id.String())
	}
	return nil
}

func (r *WaitlistRepository) ListByConference(ctx context.Context, conferenceName string) ([]*model.WaitlistEntry, error) {
	rows, err := r.Query(ctx, `
		SELECT `+waitlistColumns+`
		FROM waitlists
		WHERE conference_name = $1
		ORDER BY enqueued_at, seq
	`, conferenceName)
	if err != nil {
		return nil, fmt.Errorf("list waitlist: %w", classify(err))
	}
	defer rows.Close()

	var entries []*model.WaitlistEntry
	for rows.Next() {
		e, err := scanWaitlistEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan waitlist entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list waitlist: %w", err)
	}
	return entries, nil
}
