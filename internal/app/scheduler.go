package app

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Drainer продвигает очереди ожидания по всем конференциям
type Drainer interface {
	DrainAll(ctx context.Context) (int, error)
}

// Scheduler управляет фоновыми задачами
type Scheduler struct {
	drainer  Drainer
	interval time.Duration
	logger   *zap.Logger
	stopChan chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewScheduler создаёт новый планировщик
func NewScheduler(drainer Drainer, interval time.Duration, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		drainer:  drainer,
		interval: interval,
		logger:   logger,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start запускает фоновые задачи
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("Starting background scheduler", zap.Duration("sweep_interval", s.interval))

	go s.runSweepTask(ctx)
}

// Stop останавливает фоновые задачи и ждёт завершения текущего прохода
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.logger.Info("Stopping background scheduler")
		close(s.stopChan)
	})
	<-s.done
}

// runSweepTask периодически продвигает листы ожидания
func (s *Scheduler) runSweepTask(ctx context.Context) {
	defer close(s.done)

	// Первый проход сразу при старте
	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep(ctx)
		case <-s.stopChan:
			s.logger.Info("Waitlist sweep task stopped")
			return
		case <-ctx.Done():
			s.logger.Info("Waitlist sweep task cancelled")
			return
		}
	}
}

func (s *Scheduler) sweep(ctx context.Context) {
	promoted, err := s.drainer.DrainAll(ctx)
	if err != nil {
		s.logger.Error("Waitlist sweep failed", zap.Int("promoted", promoted), zap.Error(err))
		return
	}
	if promoted > 0 {
		s.logger.Info("Waitlist sweep promoted bookings", zap.Int("promoted", promoted))
	}
}
