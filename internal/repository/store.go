package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Freeeeeet/conference_booking/internal/model"
	"github.com/Freeeeeet/conference_booking/internal/repository/base"
)

// Store runs units of work as Postgres transactions.
//
// Transactions use READ COMMITTED. Serialization per conference comes from
// the row lock taken by ConferenceRepository.GetForUpdate, which every
// mutating operation acquires before it reads anything it later writes.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Do(ctx context.Context, fn func(ctx context.Context, tx model.Tx) error) error {
	// Начинаем транзакцию
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", classify(err))
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, NewTxScope(tx)); err != nil {
		return classify(err)
	}

	// Коммитим транзакцию
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", classify(err))
	}
	return nil
}

// TxScope binds the four repositories to one connection or transaction.
type TxScope struct {
	conferences *ConferenceRepository
	users       *UserRepository
	bookings    *BookingRepository
	waitlist    *WaitlistRepository
}

func NewTxScope(db base.DBTX) *TxScope {
	return &TxScope{
		conferences: NewConferenceRepository(db),
		users:       NewUserRepository(db),
		bookings:    NewBookingRepository(db),
		waitlist:    NewWaitlistRepository(db),
	}
}

func (t *TxScope) Conferences() model.ConferenceRegistry { return t.conferences }
func (t *TxScope) Users() model.UserDirectory            { return t.users }
func (t *TxScope) Bookings() model.BookingLedger         { return t.bookings }
func (t *TxScope) Waitlist() model.WaitlistQueue         { return t.waitlist }
