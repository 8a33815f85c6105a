package service

import (
	"context"
	"errors"

	"github.com/Freeeeeet/conference_booking/internal/model"
)

// Publishers fans each event out to every publisher in order.
type Publishers []EventPublisher

func (p Publishers) Publish(ctx context.Context, event model.BookingEvent) error {
	var errs []error
	for _, pub := range p {
		if err := pub.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// CacheInvalidator drops cached catalog reads whenever an event changes the
// number of free slots of a conference.
type CacheInvalidator struct {
	Cache Cache
}

func (c CacheInvalidator) Publish(ctx context.Context, event model.BookingEvent) error {
	if !changesSlots(event) {
		return nil
	}
	return c.Cache.Invalidate(ctx)
}

func changesSlots(event model.BookingEvent) bool {
	switch event.Type {
	case model.EventBookingConfirmed, model.EventBookingPromoted, model.EventBookingSelfConfirmed:
		return true
	case model.EventBookingCanceled:
		return event.PreviousStatus == model.BookingStatusConfirmed
	}
	return false
}
