package service

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"example.com/fulfillment/pkg/events"
	"example.com/fulfillment/pkg/logger"
	"example.com/fulfillment/services/inventory/internal/domain"
)

// =============================================================================
// Реакции на команды склада.
// Вызываются внутри транзакции ledger идемпотентности (tx).
// =============================================================================

// OnInventoryDecrease списывает остаток. При нехватке пишет REJECTED движение
// и публикует inventory.shortage. Надгробие под тем же ключом делает списание пустым.
func (s *Service) OnInventoryDecrease(ctx context.Context, tx *gorm.DB, evt *events.InventoryDecrease) error {
	log := logger.FromContext(ctx).With().
		Str("adjustment_key", evt.AdjustmentKey).
		Int64("sku", evt.SKU).
		Logger()

	a := adjustmentOf(evt.StockAdjustment)
	movements := s.movements.WithTx(tx)

	existing, err := movements.GetForUpdate(ctx, a.Key)
	switch {
	case err == nil:
		if existing.IsTombstone() {
			log.Info().Msg("Списание уже отменено компенсацией, пропускаем")
		} else {
			log.Info().Str("status", string(existing.Status)).Msg("Списание уже в журнале")
		}
		return nil
	case !errors.Is(err, domain.ErrMovementNotFound):
		return err
	}

	stocks := s.stock.WithTx(tx)
	now := s.now()

	st, err := lockStock(ctx, stocks, a.SKU, now)
	if err != nil {
		return err
	}

	m := domain.NewMovement(domain.MovementDecrease, a, now)
	available := st.Available

	if err := st.Decrease(a.Quantity, now); err != nil {
		if !errors.Is(err, domain.ErrInsufficientStock) {
			return err
		}

		m.Status = domain.MovementRejected
		if err := movements.Create(ctx, m); err != nil {
			return err
		}

		log.Warn().
			Int("requested", a.Quantity).
			Int("available", available).
			Str("reference_id", a.ReferenceID).
			Msg("Недостаточно остатка, списание отклонено")

		return s.emit(ctx, tx, &events.InventoryShortage{
			Meta:          events.NewMeta(now),
			AdjustmentKey: a.Key,
			SKU:           a.SKU,
			Requested:     a.Quantity,
			Available:     available,
			ReferenceType: a.ReferenceType,
			ReferenceID:   a.ReferenceID,
		})
	}

	if err := stocks.Save(ctx, st); err != nil {
		return err
	}
	if err := movements.Create(ctx, m); err != nil {
		return err
	}
	s.invalidate(ctx, a.SKU)

	log.Info().
		Int("qty", a.Quantity).
		Int("available", st.Available).
		Msg("Остаток списан")
	return nil
}

// OnInventoryIncrease возвращает остаток. Пополнение с Compensates отменяет
// списание и возвращает ровно журнальное количество. Обычное пополнение
// (возврат товара, исходный товар обмена) журналируется под своим ключом.
func (s *Service) OnInventoryIncrease(ctx context.Context, tx *gorm.DB, evt *events.InventoryIncrease) error {
	a := adjustmentOf(evt.StockAdjustment)
	if evt.Compensates != "" {
		return s.compensate(ctx, tx, evt.Compensates, a)
	}
	return s.restock(ctx, tx, a)
}

func (s *Service) compensate(ctx context.Context, tx *gorm.DB, decreaseKey string, a domain.Adjustment) error {
	log := logger.FromContext(ctx).With().
		Str("adjustment_key", a.Key).
		Str("compensates", decreaseKey).
		Int64("sku", a.SKU).
		Logger()

	movements := s.movements.WithTx(tx)
	now := s.now()

	target, err := movements.GetForUpdate(ctx, decreaseKey)
	if errors.Is(err, domain.ErrMovementNotFound) {
		// списание ещё не дошло: оставляем надгробие
		if err := movements.Create(ctx, domain.NewTombstone(decreaseKey, a, now)); err != nil {
			return err
		}
		log.Info().Msg("Компенсация раньше списания, записано надгробие")
		return nil
	}
	if err != nil {
		return err
	}

	from := target.Status
	restore, err := target.Compensate(a.Key, now)
	if errors.Is(err, domain.ErrInvalidTransition) {
		log.Info().Str("status", string(from)).Msg("Списание уже компенсировано")
		return nil
	}
	if err != nil {
		return err
	}
	if err := movements.Update(ctx, target, from); err != nil {
		return err
	}

	if restore > 0 {
		stocks := s.stock.WithTx(tx)
		st, err := lockStock(ctx, stocks, target.SKU, now)
		if err != nil {
			return err
		}
		if err := st.Increase(restore, now); err != nil {
			return err
		}
		if err := stocks.Save(ctx, st); err != nil {
			return err
		}
		s.invalidate(ctx, target.SKU)
	}

	log.Info().
		Str("was", string(from)).
		Int("restored", restore).
		Msg("Списание компенсировано")
	return nil
}

func (s *Service) restock(ctx context.Context, tx *gorm.DB, a domain.Adjustment) error {
	log := logger.FromContext(ctx).With().
		Str("adjustment_key", a.Key).
		Int64("sku", a.SKU).
		Logger()

	movements := s.movements.WithTx(tx)
	if _, err := movements.GetForUpdate(ctx, a.Key); err == nil {
		log.Info().Msg("Пополнение уже в журнале")
		return nil
	} else if !errors.Is(err, domain.ErrMovementNotFound) {
		return err
	}

	stocks := s.stock.WithTx(tx)
	now := s.now()

	st, err := lockStock(ctx, stocks, a.SKU, now)
	if err != nil {
		return err
	}
	if err := st.Increase(a.Quantity, now); err != nil {
		return err
	}
	if err := stocks.Save(ctx, st); err != nil {
		return err
	}
	if err := movements.Create(ctx, domain.NewMovement(domain.MovementIncrease, a, now)); err != nil {
		return err
	}
	s.invalidate(ctx, a.SKU)

	log.Info().
		Int("qty", a.Quantity).
		Int("available", st.Available).
		Str("reason", a.Reason).
		Msg("Остаток пополнен")
	return nil
}
