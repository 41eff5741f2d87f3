package service

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"example.com/fulfillment/pkg/events"
	"example.com/fulfillment/pkg/logger"
	"example.com/fulfillment/pkg/metrics"
	"example.com/fulfillment/services/payment/internal/domain"
)

// TimeoutConfig — настройки сканирования зависших платежей.
type TimeoutConfig struct {
	// Service — метка сервиса в метриках.
	Service string

	// Timeout — сколько платёж может оставаться PENDING.
	Timeout time.Duration

	// Interval — период сканирования.
	Interval time.Duration

	// BatchSize — сколько платежей отменять за один проход.
	BatchSize int

	// Leadership — если задано, сканирует только лидер среди реплик.
	Leadership Leadership
}

// Leadership — блокировка единственного сканирующего экземпляра.
type Leadership interface {
	Acquire(ctx context.Context) (bool, error)
}

// CancelStuckPayments отменяет PENDING платежи старше cfg.Timeout с причиной TIMEOUT.
// Возвращает количество отменённых платежей.
func (s *Service) CancelStuckPayments(ctx context.Context, cfg TimeoutConfig) (int, error) {
	log := logger.FromContext(ctx)

	stuck, err := s.payments.ListPendingBefore(ctx, s.now().Add(-cfg.Timeout), cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	cancelled := 0
	for _, p := range stuck {
		err := s.tx.Transaction(ctx, func(tx *gorm.DB) error {
			_, err := s.mutate(ctx, tx, p.OrderID, func(p *domain.Payment, now time.Time) ([]events.Event, error) {
				return s.cancel(p, events.PaymentCancelTimeout, now)
			})
			return err
		})
		if errors.Is(err, domain.ErrInvalidTransition) {
			// подтверждён или отменён между выборкой и блокировкой
			continue
		}
		if err != nil {
			log.Warn().Err(err).Str("payment_id", p.ID).Msg("Не удалось отменить зависший платёж")
			continue
		}

		cancelled++
		metrics.SagaTimeouts.WithLabelValues(cfg.Service).Inc()
		log.Warn().
			Str("payment_id", p.ID).
			Str("order_id", p.OrderID).
			Time("created_at", p.CreatedAt).
			Msg("Платёж отменён по таймауту")
	}

	return cancelled, nil
}

// TimeoutScanner возвращает фоновую задачу периодического сканирования.
func (s *Service) TimeoutScanner(cfg TimeoutConfig) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		log := logger.FromContext(ctx)
		log.Info().
			Dur("timeout", cfg.Timeout).
			Dur("interval", cfg.Interval).
			Int("batch_size", cfg.BatchSize).
			Msg("Запуск сканирования зависших платежей")

		ticker := time.NewTicker(cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				log.Info().Msg("Остановка сканирования зависших платежей")
				return nil
			case <-ticker.C:
				if !s.isLeader(ctx, cfg.Leadership) {
					continue
				}
				if _, err := s.CancelStuckPayments(ctx, cfg); err != nil && ctx.Err() == nil {
					log.Error().Err(err).Msg("Ошибка сканирования зависших платежей")
				}
			}
		}
	}
}

func (s *Service) isLeader(ctx context.Context, l Leadership) bool {
	if l == nil {
		return true
	}
	ok, err := l.Acquire(ctx)
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Msg("Ошибка захвата лидерства сканирования")
		return false
	}
	return ok
}
