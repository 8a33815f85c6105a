package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/Freeeeeet/conference_booking/internal/model"
	"github.com/Freeeeeet/conference_booking/internal/service"
)

// PromotionQueue receives booking.canceled events for push promotion.
const PromotionQueue = "booking.promotions"

const (
	prefetchCount  = 50
	maxDialBackoff = 30 * time.Second
)

// Drainer promotes waitlisted bookings of a conference.
type Drainer interface {
	Drain(ctx context.Context, conferenceName string) (int, error)
}

// PromotionConsumer drains a conference as soon as one of its confirmed
// bookings is canceled, instead of waiting for the next booking request.
type PromotionConsumer struct {
	url     string
	drainer Drainer
	logger  *zap.Logger
}

func NewPromotionConsumer(url string, drainer Drainer, logger *zap.Logger) *PromotionConsumer {
	return &PromotionConsumer{url: url, drainer: drainer, logger: logger}
}

// Run consumes until ctx is canceled, reconnecting with backoff when the
// broker goes away.
func (c *PromotionConsumer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		conn, err := amqp.Dial(c.url)
		if err != nil {
			c.logger.Warn("Promotion consumer failed to dial broker",
				zap.Duration("retry_in", backoff), zap.Error(err))
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < maxDialBackoff {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = c.consume(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			c.logger.Info("Promotion consumer stopped")
			return ctx.Err()
		}
		c.logger.Warn("Promotion consumer loop ended, reconnecting", zap.Error(err))
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func (c *PromotionConsumer) consume(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(prefetchCount, 0, false); err != nil {
		c.logger.Warn("Set QoS failed", zap.Error(err))
	}
	if err := declareExchange(ch); err != nil {
		return err
	}
	if _, err := ch.QueueDeclare(PromotionQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	routingKey := string(model.EventBookingCanceled)
	if err := ch.QueueBind(PromotionQueue, routingKey, ExchangeName, false, nil); err != nil {
		return fmt.Errorf("queue bind: %w", err)
	}

	deliveries, err := ch.Consume(PromotionQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	c.logger.Info("Promotion consumer started", zap.String("queue", PromotionQueue))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := c.handle(ctx, d.Body); err != nil {
				c.logger.Error("Promotion message failed", zap.Error(err))
				// не возвращаем в очередь, чтобы не зациклиться
				_ = d.Nack(false, false)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

func (c *PromotionConsumer) handle(ctx context.Context, body []byte) error {
	var event model.BookingEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return fmt.Errorf("unmarshal event: %w", err)
	}
	// Only a canceled confirmed booking frees a slot.
	if event.Type != model.EventBookingCanceled || event.PreviousStatus != model.BookingStatusConfirmed {
		return nil
	}
	if event.ConferenceName == "" {
		return fmt.Errorf("event for booking %s has no conference", event.BookingID)
	}

	var promoted int
	err := service.RetryOnConflict(ctx, func(ctx context.Context) error {
		var err error
		promoted, err = c.drainer.Drain(ctx, event.ConferenceName)
		return err
	})
	if err != nil {
		return fmt.Errorf("drain %q: %w", event.ConferenceName, err)
	}

	c.logger.Info("Pushed promotion after cancellation",
		zap.String("conference", event.ConferenceName),
		zap.String("canceled_booking_id", event.BookingID.String()),
		zap.Int("promoted", promoted),
	)
	return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
