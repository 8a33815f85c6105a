package handlers

import (
	"context"

	"go.uber.org/zap"

	"github.com/Freeeeeet/conference_booking/internal/model"
	"github.com/Freeeeeet/conference_booking/internal/service"
)

// Allocator is the booking side of the engine used by the bot.
type Allocator interface {
	RequestBooking(ctx context.Context, userID, conferenceName string) (*service.BookingResult, error)
	CancelBooking(ctx context.Context, id model.BookingID) error
	SelfConfirm(ctx context.Context, id model.BookingID) error
	GetStatus(ctx context.Context, id model.BookingID) (*service.StatusView, error)
}

// Catalog is the read side of the catalog used by the bot.
type Catalog interface {
	SearchConferences(ctx context.Context, q service.SearchQuery) ([]*model.Conference, error)
	SuggestConferences(ctx context.Context, userID string) ([]*model.Conference, error)
}

// Handlers содержит все зависимости для обработки команд
type Handlers struct {
	allocator Allocator
	catalog   Catalog
	logger    *zap.Logger
}

// NewHandlers создаёт новый обработчик команд
func NewHandlers(allocator Allocator, catalog Catalog, logger *zap.Logger) *Handlers {
	return &Handlers{
		allocator: allocator,
		catalog:   catalog,
		logger:    logger,
	}
}
