// Package service содержит бизнес-логику Inventory Service.
//
// Каждое списание журналируется под своим ключом корректировки. Компенсирующее
// пополнение возвращает ровно журнальное количество. Пополнение, пришедшее раньше
// своего списания, оставляет надгробие, и позднее списание ничего не делает.
package service

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"example.com/fulfillment/pkg/db"
	"example.com/fulfillment/pkg/events"
	"example.com/fulfillment/pkg/logger"
	"example.com/fulfillment/pkg/outbox"
	"example.com/fulfillment/services/inventory/internal/domain"
	"example.com/fulfillment/services/inventory/internal/repository"
)

// Константы для выборки журнала.
const (
	defaultMovementsLimit = 50
	maxMovementsLimit     = 500
)

// StockCache — кэш остатков для чтения. nil отключает кэш.
type StockCache interface {
	Get(ctx context.Context, sku int64) (*domain.Stock, error)
	Set(ctx context.Context, stock *domain.Stock) error
	Invalidate(ctx context.Context, skus ...int64) error
}

// Service — остатки и журнал движений.
type Service struct {
	tx        db.Transactor
	stock     repository.StockRepository
	movements repository.MovementRepository
	outbox    outbox.Repository
	cache     StockCache
	now       func() time.Time
}

// NewService создаёт сервис склада.
func NewService(
	tx db.Transactor,
	stock repository.StockRepository,
	movements repository.MovementRepository,
	outboxRepo outbox.Repository,
	cache StockCache,
) *Service {
	return &Service{
		tx:        tx,
		stock:     stock,
		movements: movements,
		outbox:    outboxRepo,
		cache:     cache,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// =============================================================================
// Чтение и ручная корректировка
// =============================================================================

// GetStock возвращает остаток SKU, по возможности из кэша.
func (s *Service) GetStock(ctx context.Context, sku int64) (*domain.Stock, error) {
	log := logger.FromContext(ctx)

	if s.cache != nil {
		cached, err := s.cache.Get(ctx, sku)
		if err != nil {
			// кэш недоступен, читаем из БД
			log.Warn().Err(err).Int64("sku", sku).Msg("Ошибка чтения кэша остатков")
		} else if cached != nil {
			return cached, nil
		}
	}

	st, err := s.stock.Get(ctx, sku)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, st); err != nil {
			log.Warn().Err(err).Int64("sku", sku).Msg("Ошибка записи кэша остатков")
		}
	}
	return st, nil
}

// SetStock устанавливает доступный остаток SKU (приёмка, инвентаризация).
func (s *Service) SetStock(ctx context.Context, sku int64, available int) (*domain.Stock, error) {
	st, err := domain.NewStock(sku, available, s.now())
	if err != nil {
		return nil, err
	}

	err = s.tx.Transaction(ctx, func(tx *gorm.DB) error {
		return s.stock.WithTx(tx).Save(ctx, st)
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, sku)

	logger.Ctx(ctx).Info().
		Int64("sku", sku).
		Int("available", available).
		Msg("Остаток установлен вручную")
	return st, nil
}

// ListMovements возвращает последние движения SKU.
func (s *Service) ListMovements(ctx context.Context, sku int64, limit int) ([]*domain.StockMovement, error) {
	if limit <= 0 {
		limit = defaultMovementsLimit
	}
	if limit > maxMovementsLimit {
		limit = maxMovementsLimit
	}
	return s.movements.ListBySKU(ctx, sku, limit)
}

// invalidate сбрасывает кэш. Ошибка только логируется: запись живёт не дольше TTL.
func (s *Service) invalidate(ctx context.Context, skus ...int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, skus...); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Ints64("skus", skus).Msg("Ошибка сброса кэша остатков")
	}
}

// emit пишет события в outbox в транзакции tx.
func (s *Service) emit(ctx context.Context, tx *gorm.DB, evts ...events.Event) error {
	records, err := outbox.NewRecords(ctx, evts...)
	if err != nil {
		return err
	}
	return s.outbox.WithTx(tx).Append(ctx, records...)
}

func adjustmentOf(a events.StockAdjustment) domain.Adjustment {
	return domain.Adjustment{
		Key:           a.AdjustmentKey,
		SKU:           a.SKU,
		Quantity:      a.Quantity,
		Reason:        a.Reason,
		ReferenceType: a.ReferenceType,
		ReferenceID:   a.ReferenceID,
	}
}

// lockStock читает остаток с блокировкой. Неизвестный SKU — пустой остаток,
// который ещё не сохранён.
func lockStock(ctx context.Context, stocks repository.StockRepository, sku int64, now time.Time) (*domain.Stock, error) {
	st, err := stocks.GetForUpdate(ctx, sku)
	if errors.Is(err, domain.ErrStockNotFound) {
		return &domain.Stock{SKU: sku, UpdatedAt: now}, nil
	}
	return st, err
}
