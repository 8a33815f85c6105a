package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Freeeeeet/conference_booking/internal/clock"
	"github.com/Freeeeeet/conference_booking/internal/model"
)

// EventPublisher receives booking events after their unit of work commits.
type EventPublisher interface {
	Publish(ctx context.Context, event model.BookingEvent) error
}

// BookingResult is the outcome of an accepted booking request.
type BookingResult struct {
	BookingID model.BookingID     `json:"booking_id"`
	Status    model.BookingStatus `json:"status"`
}

// StatusView describes a booking for status queries.
type StatusView struct {
	BookingID      model.BookingID     `json:"booking_id"`
	UserID         string              `json:"user_id"`
	ConferenceName string              `json:"conference_name"`
	Status         model.BookingStatus `json:"status"`
	// CanConfirmUntil is set only for waitlisted bookings.
	CanConfirmUntil *time.Time `json:"-"`
	Expired         bool       `json:"-"`
}

// ConfirmDeadline renders the self-confirm deadline: a timestamp, "Expired",
// or an empty string when the booking is not waitlisted.
func (v *StatusView) ConfirmDeadline() string {
	switch {
	case v.CanConfirmUntil == nil:
		return ""
	case v.Expired:
		return "Expired"
	default:
		return model.FormatTimestamp(*v.CanConfirmUntil)
	}
}

// AllocationService hands out conference slots, keeps the waitlist and
// promotes from it. Every operation is one unit of work that first locks the
// conference it touches.
type AllocationService struct {
	uow       model.UnitOfWork
	clock     clock.Clock
	window    ConfirmationWindow
	publisher EventPublisher
	logger    *zap.Logger
}

func NewAllocationService(
	uow model.UnitOfWork,
	clk clock.Clock,
	window ConfirmationWindow,
	publisher EventPublisher,
	logger *zap.Logger,
) *AllocationService {
	return &AllocationService{
		uow:       uow,
		clock:     clk,
		window:    window,
		publisher: publisher,
		logger:    logger,
	}
}

// RequestBooking бронирует место или ставит пользователя в лист ожидания
func (s *AllocationService) RequestBooking(ctx context.Context, userID, conferenceName string) (*BookingResult, error) {
	var (
		result *BookingResult
		events []model.BookingEvent
	)

	err := s.uow.Do(ctx, func(ctx context.Context, tx model.Tx) error {
		events = nil
		now := s.clock.Now()

		// Блокировка конференции, затем пользователя. Порядок одинаков во всех операциях.
		conf, err := tx.Conferences().GetForUpdate(ctx, conferenceName)
		if err != nil {
			return err
		}
		if _, err := tx.Users().GetForUpdate(ctx, userID); err != nil {
			return err
		}

		existing, err := tx.Bookings().FindActive(ctx, userID, conferenceName)
		if err != nil {
			return fmt.Errorf("find active booking: %w", err)
		}
		if existing != nil {
			return &model.DuplicateBookingError{BookingID: existing.ID}
		}

		if err := s.checkOverlap(ctx, tx, userID, conf); err != nil {
			return err
		}

		promoted, err := s.drain(ctx, tx, conf, now)
		if err != nil {
			return err
		}
		events = append(events, promoted...)

		booking := &model.Booking{
			ID:             model.NewBookingID(),
			UserID:         userID,
			ConferenceName: conferenceName,
			CreatedAt:      now,
			UpdatedAt:      now,
		}

		if conf.HasFreeSlot() {
			if err := tx.Conferences().DecrementSlot(ctx, conferenceName); err != nil {
				return err
			}
			conf.RemainingSlots--
			booking.Status = model.BookingStatusConfirmed
			if err := tx.Bookings().Create(ctx, booking); err != nil {
				return err
			}
			events = append(events, bookingEvent(model.EventBookingConfirmed, booking, "", now))
		} else {
			booking.Status = model.BookingStatusWaitlisted
			if err := tx.Bookings().Create(ctx, booking); err != nil {
				return err
			}
			entry := &model.WaitlistEntry{
				ID:             booking.ID,
				UserID:         userID,
				ConferenceName: conferenceName,
				EnqueuedAt:     now,
			}
			if err := tx.Waitlist().Enqueue(ctx, entry); err != nil {
				return err
			}
			events = append(events, bookingEvent(model.EventBookingWaitlisted, booking, "", now))
		}

		result = &BookingResult{BookingID: booking.ID, Status: booking.Status}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("request booking: %w", err)
	}

	s.logger.Info("Booking requested",
		zap.String("booking_id", result.BookingID.String()),
		zap.String("user_id", userID),
		zap.String("conference", conferenceName),
		zap.String("status", string(result.Status)),
		zap.Int("promoted", len(events)-1),
	)
	s.publish(ctx, events)

	return result, nil
}

// CancelBooking отменяет бронирование. Повторная отмена ничего не меняет.
// Освободившееся место не раздаётся сразу: его заберёт следующий drain.
func (s *AllocationService) CancelBooking(ctx context.Context, id model.BookingID) error {
	var (
		previous model.BookingStatus
		canceled *model.Booking
	)

	err := s.uow.Do(ctx, func(ctx context.Context, tx model.Tx) error {
		canceled = nil
		now := s.clock.Now()

		b, err := tx.Bookings().Get(ctx, id)
		if err != nil {
			return err
		}
		if _, err := tx.Conferences().GetForUpdate(ctx, b.ConferenceName); err != nil {
			return err
		}
		// Перечитываем под блокировкой: статус мог смениться
		b, err = tx.Bookings().Get(ctx, id)
		if err != nil {
			return err
		}

		previous = b.Status
		switch b.Status {
		case model.BookingStatusCanceled:
			return nil
		case model.BookingStatusConfirmed:
			if err := tx.Conferences().IncrementSlot(ctx, b.ConferenceName); err != nil {
				return err
			}
		case model.BookingStatusWaitlisted:
			if err := tx.Waitlist().Remove(ctx, id); err != nil {
				return err
			}
		}

		if err := tx.Bookings().SetStatus(ctx, id, model.BookingStatusCanceled, now); err != nil {
			return err
		}
		b.Status = model.BookingStatusCanceled
		b.UpdatedAt = now
		canceled = b
		return nil
	})
	if err != nil {
		return fmt.Errorf("cancel booking: %w", err)
	}

	if canceled == nil {
		s.logger.Debug("Booking already canceled", zap.String("booking_id", id.String()))
		return nil
	}

	s.logger.Info("Booking canceled",
		zap.String("booking_id", id.String()),
		zap.String("user_id", canceled.UserID),
		zap.String("conference", canceled.ConferenceName),
		zap.String("previous_status", string(previous)),
	)
	s.publish(ctx, []model.BookingEvent{
		bookingEvent(model.EventBookingCanceled, canceled, previous, canceled.UpdatedAt),
	})

	return nil
}

// SelfConfirm подтверждает место из листа ожидания по запросу пользователя.
// Очередь не проверяется: подтвердить можно в обход более ранних записей.
func (s *AllocationService) SelfConfirm(ctx context.Context, id model.BookingID) error {
	var confirmed *model.Booking

	err := s.uow.Do(ctx, func(ctx context.Context, tx model.Tx) error {
		confirmed = nil

		entry, err := tx.Waitlist().Get(ctx, id)
		if err != nil {
			return err
		}
		conf, err := tx.Conferences().GetForUpdate(ctx, entry.ConferenceName)
		if err != nil {
			return err
		}
		entry, err = tx.Waitlist().Get(ctx, id)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		if !s.window.IsOpen(entry.EnqueuedAt, now) {
			return fmt.Errorf("%w: %w", model.ErrCannotConfirm, model.ErrConfirmationWindowExpired)
		}
		if !conf.HasFreeSlot() {
			return fmt.Errorf("%w: %w", model.ErrCannotConfirm, model.ErrNoCapacity)
		}

		if err := s.promote(ctx, tx, entry, now); err != nil {
			return err
		}

		confirmed, err = tx.Bookings().Get(ctx, id)
		return err
	})
	if err != nil {
		return fmt.Errorf("self confirm: %w", err)
	}

	s.logger.Info("Booking self-confirmed",
		zap.String("booking_id", id.String()),
		zap.String("user_id", confirmed.UserID),
		zap.String("conference", confirmed.ConferenceName),
	)
	s.publish(ctx, []model.BookingEvent{
		bookingEvent(model.EventBookingSelfConfirmed, confirmed, model.BookingStatusWaitlisted, confirmed.UpdatedAt),
	})

	return nil
}

// GetStatus возвращает статус бронирования и срок самоподтверждения
func (s *AllocationService) GetStatus(ctx context.Context, id model.BookingID) (*StatusView, error) {
	var view *StatusView

	err := s.uow.Do(ctx, func(ctx context.Context, tx model.Tx) error {
		b, err := tx.Bookings().Get(ctx, id)
		if err != nil {
			return err
		}
		view = &StatusView{
			BookingID:      b.ID,
			UserID:         b.UserID,
			ConferenceName: b.ConferenceName,
			Status:         b.Status,
		}
		if b.Status != model.BookingStatusWaitlisted {
			return nil
		}

		entry, err := tx.Waitlist().Get(ctx, id)
		if err != nil {
			return err
		}
		until := s.window.CanConfirmUntil(entry.EnqueuedAt)
		view.CanConfirmUntil = &until
		view.Expired = !s.window.IsOpen(entry.EnqueuedAt, s.clock.Now())
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get booking status: %w", err)
	}

	return view, nil
}

// Drain promotes waitlisted bookings of the conference while slots remain
// and returns how many were promoted.
func (s *AllocationService) Drain(ctx context.Context, conferenceName string) (int, error) {
	var events []model.BookingEvent

	err := s.uow.Do(ctx, func(ctx context.Context, tx model.Tx) error {
		conf, err := tx.Conferences().GetForUpdate(ctx, conferenceName)
		if err != nil {
			return err
		}
		events, err = s.drain(ctx, tx, conf, s.clock.Now())
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("drain waitlist: %w", err)
	}

	if len(events) > 0 {
		s.logger.Info("Waitlist drained",
			zap.String("conference", conferenceName),
			zap.Int("promoted", len(events)),
		)
		s.publish(ctx, events)
	}

	return len(events), nil
}

// DrainAll drains every conference that has a free slot and a waitlist.
// A failure on one conference does not stop the others.
func (s *AllocationService) DrainAll(ctx context.Context) (int, error) {
	var names []string
	err := s.uow.Do(ctx, func(ctx context.Context, tx model.Tx) error {
		var err error
		names, err = tx.Conferences().ListDrainable(ctx)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("list drainable conferences: %w", err)
	}

	total := 0
	for _, name := range names {
		n, err := s.Drain(ctx, name)
		if err != nil {
			s.logger.Warn("Failed to drain conference", zap.String("conference", name), zap.Error(err))
			continue
		}
		total += n
	}
	return total, nil
}

// drain must run with conf locked. It keeps conf.RemainingSlots in step
// with the registry.
func (s *AllocationService) drain(ctx context.Context, tx model.Tx, conf *model.Conference, now time.Time) ([]model.BookingEvent, error) {
	var events []model.BookingEvent

	for conf.HasFreeSlot() {
		entry, err := tx.Waitlist().PeekOldest(ctx, conf.Name)
		if err != nil {
			return nil, fmt.Errorf("peek waitlist: %w", err)
		}
		if entry == nil {
			break
		}

		if err := s.promote(ctx, tx, entry, now); err != nil {
			return nil, err
		}
		conf.RemainingSlots--

		events = append(events, model.BookingEvent{
			Type:           model.EventBookingPromoted,
			BookingID:      entry.ID,
			UserID:         entry.UserID,
			ConferenceName: entry.ConferenceName,
			Status:         model.BookingStatusConfirmed,
			PreviousStatus: model.BookingStatusWaitlisted,
			OccurredAt:     now,
		})
	}

	return events, nil
}

// promote takes a slot for the entry, drops it from the queue and confirms
// its booking.
func (s *AllocationService) promote(ctx context.Context, tx model.Tx, entry *model.WaitlistEntry, now time.Time) error {
	if err := tx.Conferences().DecrementSlot(ctx, entry.ConferenceName); err != nil {
		return err
	}
	if err := tx.Waitlist().Remove(ctx, entry.ID); err != nil {
		return err
	}
	return tx.Bookings().SetStatus(ctx, entry.ID, model.BookingStatusConfirmed, now)
}

// checkOverlap rejects the request if any active booking of the user is for
// a conference whose window intersects target's. Waitlisted holds count.
func (s *AllocationService) checkOverlap(ctx context.Context, tx model.Tx, userID string, target *model.Conference) error {
	bookings, err := tx.Bookings().ListByUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("list user bookings: %w", err)
	}

	seen := make(map[string]*model.Conference)
	for _, b := range bookings {
		if !b.Status.Active() || b.ConferenceName == target.Name {
			continue
		}
		other, ok := seen[b.ConferenceName]
		if !ok {
			other, err = tx.Conferences().Get(ctx, b.ConferenceName)
			if err != nil {
				return fmt.Errorf("get booked conference: %w", err)
			}
			seen[b.ConferenceName] = other
		}
		if target.Overlaps(other) {
			return fmt.Errorf("%w: %q", model.ErrOverlapConflict, other.Name)
		}
	}
	return nil
}

func (s *AllocationService) publish(ctx context.Context, events []model.BookingEvent) {
	if s.publisher == nil {
		return
	}
	for _, e := range events {
		if err := s.publisher.Publish(ctx, e); err != nil {
			s.logger.Warn("Failed to publish booking event",
				zap.String("type", string(e.Type)),
				zap.String("booking_id", e.BookingID.String()),
				zap.Error(err),
			)
		}
	}
}

func bookingEvent(t model.BookingEventType, b *model.Booking, previous model.BookingStatus, at time.Time) model.BookingEvent {
	return model.BookingEvent{
		Type:           t,
		BookingID:      b.ID,
		UserID:         b.UserID,
		ConferenceName: b.ConferenceName,
		Status:         b.Status,
		PreviousStatus: previous,
		OccurredAt:     at,
	}
}
