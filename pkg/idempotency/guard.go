package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"example.com/fulfillment/pkg/db"
	"example.com/fulfillment/pkg/logger"
	"example.com/fulfillment/pkg/metrics"
)

// Effect — доменный эффект события. Выполняется в транзакции tx вместе с записью ledger.
type Effect func(ctx context.Context, tx *gorm.DB) error

// Delivery — входящее событие, прошедшее декодирование.
type Delivery struct {
	EventType string
	EventKey  string
	Payload   []byte
}

// Guard применяет эффект не более одного раза на (EventType, EventKey).
type Guard struct {
	tx      db.Transactor
	repo    Repository
	service string
	now     func() time.Time
}

// NewGuard создаёт Guard.
func NewGuard(tx db.Transactor, repo Repository, service string) *Guard {
	return &Guard{tx: tx, repo: repo, service: service, now: time.Now}
}

// Process применяет эффект идемпотентно и возвращает исход.
//
// Новый ключ: запись SUCCESS и эффект коммитятся вместе.
// SUCCESS или DUPLICATE: запись переводится в DUPLICATE, эффект не выполняется.
// FAILED: эффект выполняется повторно, запись переводится в SUCCESS.
// Ошибка эффекта откатывает транзакцию, затем FAILED пишется отдельной транзакцией,
// а исходная ошибка возвращается вызывающему.
func (g *Guard) Process(ctx context.Context, d Delivery, effect Effect) (Status, error) {
	if d.EventType == "" || d.EventKey == "" {
		return "", errors.New("пустой тип или ключ события")
	}

	log := logger.FromContext(ctx).With().
		Str("event_type", d.EventType).
		Str("event_key", d.EventKey).
		Logger()

	var outcome Status
	err := g.tx.Transaction(ctx, func(tx *gorm.DB) error {
		repo := g.repo.WithTx(tx)
		now := g.now()

		claimed, err := repo.Claim(ctx, NewEntry(d.EventType, d.EventKey, d.Payload, now))
		if err != nil {
			return err
		}
		if claimed {
			if err := effect(ctx, tx); err != nil {
				return err
			}
			outcome = StatusSuccess
			return nil
		}

		existing, err := repo.GetForUpdate(ctx, d.EventType, d.EventKey)
		if err != nil {
			return err
		}

		switch existing.Status {
		case StatusSuccess, StatusDuplicate:
			if err := existing.MarkDuplicate(now); err != nil {
				return err
			}
			outcome = StatusDuplicate
		case StatusFailed:
			if err := effect(ctx, tx); err != nil {
				return err
			}
			if err := existing.MarkSuccess(now); err != nil {
				return err
			}
			outcome = StatusSuccess
		default:
			return fmt.Errorf("неизвестный статус ledger %q", existing.Status)
		}
		return repo.Update(ctx, existing)
	})

	if err != nil {
		g.recordFailure(ctx, d, err)
		metrics.ConsumedEvents.WithLabelValues(g.service, d.EventType, string(StatusFailed)).Inc()
		log.Error().Err(err).Str("outcome", string(StatusFailed)).Msg("Событие не обработано")
		return StatusFailed, err
	}

	metrics.ConsumedEvents.WithLabelValues(g.service, d.EventType, string(outcome)).Inc()
	if outcome == StatusDuplicate {
		log.Info().Str("outcome", string(outcome)).Msg("Повторная доставка, эффект не применяется")
	} else {
		log.Info().Str("outcome", string(outcome)).Msg("Событие обработано")
	}
	return outcome, nil
}

// recordFailure пишет FAILED отдельной транзакцией после отката эффекта.
func (g *Guard) recordFailure(ctx context.Context, d Delivery, cause error) {
	// запись о сбое не должна теряться из-за отмены контекста обработки
	ctx = context.WithoutCancel(ctx)

	err := g.tx.Transaction(ctx, func(tx *gorm.DB) error {
		return g.repo.WithTx(tx).RecordFailure(ctx, NewFailedEntry(d.EventType, d.EventKey, d.Payload, cause, g.now()))
	})
	if err != nil {
		logger.Ctx(ctx).Error().
			Err(err).
			Str("event_type", d.EventType).
			Str("event_key", d.EventKey).
			Msg("Ошибка записи FAILED в ledger")
	}
}
