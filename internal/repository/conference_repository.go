package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Freeeeeet/conference_booking/internal/model"
	"github.com/Freeeeeet/conference_booking/internal/repository/base"
)

const conferenceColumns = `name, location, topics, start_time, end_time, total_slots, remaining_slots, created_at`

type ConferenceRepository struct {
	*base.Repository
}

func NewConferenceRepository(db base.DBTX) *ConferenceRepository {
	return &ConferenceRepository{Repository: base.NewRepository(db)}
}

func scanConference(row pgx.Row) (*model.Conference, error) {
	var c model.Conference
	err := row.Scan(
		&c.Name,
		&c.Location,
		&c.Topics,
		&c.StartTime,
		&c.EndTime,
		&c.TotalSlots,
		&c.RemainingSlots,
		&c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.StartTime = c.StartTime.UTC()
	c.EndTime = c.EndTime.UTC()
	c.CreatedAt = c.CreatedAt.UTC()
	return &c, nil
}

func (r *ConferenceRepository) collect(ctx context.Context, op, query string, args ...any) ([]*model.Conference, error) {
	rows, err := r.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var conferences []*model.Conference
	for rows.Next() {
		c, err := scanConference(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conference: %w", err)
		}
		conferences = append(conferences, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return conferences, nil
}

// Create сохраняет новую конференцию
func (r *ConferenceRepository) Create(ctx context.Context, c *model.Conference) error {
	query := `
		INSERT INTO conferences (name, location, topics, start_time, end_time, total_slots, remaining_slots)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`
	topics := c.Topics
	if topics == nil {
		topics = []string{}
	}
	err := r.QueryRow(ctx, query,
		c.Name,
		c.Location,
		topics,
		c.StartTime,
		c.EndTime,
		c.TotalSlots,
		c.RemainingSlots,
	).Scan(&c.CreatedAt)
	if err != nil {
		return constraintError("create conference", err)
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return nil
}

func (r *ConferenceRepository) Get(ctx context.Context, name string) (*model.Conference, error) {
	return r.get(ctx, name, "")
}

// GetForUpdate блокирует строку конференции до конца транзакции
func (r *ConferenceRepository) GetForUpdate(ctx context.Context, name string) (*model.Conference, error) {
	return r.get(ctx, name, " FOR UPDATE")
}

func (r *ConferenceRepository) get(ctx context.Context, name, lock string) (*model.Conference, error) {
	query := `SELECT ` + conferenceColumns + ` FROM conferences WHERE name = $1` + lock
	c, err := scanConference(r.QueryRow(ctx, query, name))
	if err != nil {
		if base.IsNotFound(err) {
			return nil, model.NotFoundf("conference", name)
		}
		return nil, fmt.Errorf("get conference: %w", classify(err))
	}
	return c, nil
}

func (r *ConferenceRepository) DecrementSlot(ctx context.Context, name string) error {
	affected, err := r.ExecAffected(ctx, `
		UPDATE conferences SET remaining_slots = remaining_slots - 1
		WHERE name = $1 AND remaining_slots > 0
	`, name)
	if err != nil {
		return fmt.Errorf("decrement slot: %w", classify(err))
	}
	if affected == 0 {
		return r.slotMiss(ctx, name, model.ErrNoCapacity)
	}
	return nil
}

func (r *ConferenceRepository) IncrementSlot(ctx context.Context, name string) error {
	affected, err := r.ExecAffected(ctx, `
		UPDATE conferences SET remaining_slots = remaining_slots + 1
		WHERE name = $1 AND remaining_slots < total_slots
	`, name)
	if err != nil {
		return fmt.Errorf("increment slot: %w", classify(err))
	}
	if affected == 0 {
		return r.slotMiss(ctx, name, model.ErrCapacityExceeded)
	}
	return nil
}

// slotMiss tells a missing conference apart from a violated slot bound.
func (r *ConferenceRepository) slotMiss(ctx context.Context, name string, bound error) error {
	exists, err := r.Exists(ctx, `SELECT EXISTS(SELECT 1 FROM conferences WHERE name = $1)`, name)
	if err != nil {
		return fmt.Errorf("check conference: %w", classify(err))
	}
	if !exists {
		return model.NotFoundf("conference", name)
	}
	return fmt.Errorf("conference %q: %w", name, bound)
}

// Search строит WHERE из заданных полей фильтра
func (r *ConferenceRepository) Search(ctx context.Context, f model.ConferenceFilter) ([]*model.Conference, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}

	if f.Location != "" {
		add("location = $%d", f.Location)
	}
	if len(f.Topics) > 0 {
		add("topics && $%d", f.Topics)
	}
	if f.NameLike != "" {
		add(`name ILIKE $%d ESCAPE '\'`, "%"+escapeLike(f.NameLike)+"%")
	}
	if f.StartFrom != nil {
		add("start_time >= $%d", *f.StartFrom)
	}
	if f.EndUntil != nil {
		add("end_time <= $%d", *f.EndUntil)
	}
	if f.MinDuration > 0 {
		add("EXTRACT(EPOCH FROM end_time - start_time) >= $%d", f.MinDuration.Seconds())
	}
	if f.MaxDuration > 0 {
		add("EXTRACT(EPOCH FROM end_time - start_time) <= $%d", f.MaxDuration.Seconds())
	}

	query := `SELECT ` + conferenceColumns + ` FROM conferences`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY start_time, name`

	return r.collect(ctx, "search conferences", query, args...)
}

func (r *ConferenceRepository) ListUpcoming(ctx context.Context, after time.Time) ([]*model.Conference, error) {
	query := `SELECT ` + conferenceColumns + ` FROM conferences WHERE start_time > $1 ORDER BY start_time, name`
	return r.collect(ctx, "list upcoming conferences", query, after)
}

func (r *ConferenceRepository) ListDrainable(ctx context.Context) ([]string, error) {
	rows, err := r.Query(ctx, `
		SELECT c.name
		FROM conferences c
		WHERE c.remaining_slots > 0
		  AND EXISTS (SELECT 1 FROM waitlists w WHERE w.conference_name = c.name)
		ORDER BY c.name
	`)
	if err != nil {
		return nil, fmt.Errorf("list drainable conferences: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list drainable conferences: %w", err)
	}
	return names, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
