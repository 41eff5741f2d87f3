package service

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"example.com/fulfillment/pkg/events"
	"example.com/fulfillment/pkg/logger"
	"example.com/fulfillment/services/shipping/internal/domain"
)

// =============================================================================
// Реакции на события Order Service.
// Вызываются внутри транзакции ledger идемпотентности (tx).
// =============================================================================

// OnOrderPaid создаёт отгрузку в статусе READY. Отгрузка по заказу одна:
// повтор или поздняя оплата уже отменённого заказа ничего не меняют.
func (s *Service) OnOrderPaid(ctx context.Context, tx *gorm.DB, evt *events.OrderPaid) error {
	log := logger.FromContext(ctx)

	sh := domain.NewShipment(evt.OrderID, s.now())
	if err := s.shipments.WithTx(tx).Create(ctx, sh); err != nil {
		if errors.Is(err, domain.ErrDuplicateShipment) {
			log.Info().
				Str("order_id", evt.OrderID).
				Msg("Отгрузка по заказу уже существует")
			return nil
		}
		return err
	}

	log.Info().
		Str("order_id", evt.OrderID).
		Str("shipment_id", sh.ID).
		Msg("Создана отгрузка")
	return nil
}

// OnOrderCancelled отменяет отгрузку в статусе READY. Если отгрузки ещё нет,
// сохраняется отменённая отгрузка, чтобы поздний order.paid её не создал.
// Отправленную посылку отменить нельзя: событие только логируется.
func (s *Service) OnOrderCancelled(ctx context.Context, tx *gorm.DB, evt *events.OrderCancelled) error {
	log := logger.FromContext(ctx)
	shipments := s.shipments.WithTx(tx)
	now := s.now()

	sh, err := shipments.GetForUpdateByOrder(ctx, evt.OrderID)
	if errors.Is(err, domain.ErrShipmentNotFound) {
		if err := shipments.Create(ctx, domain.NewCanceledShipment(evt.OrderID, now)); err != nil {
			return err
		}
		log.Info().
			Str("order_id", evt.OrderID).
			Msg("Заказ отменён до оплаты, отгрузка закрыта заранее")
		return nil
	}
	if err != nil {
		return err
	}

	if sh.Status == domain.ShipmentStatusCanceled {
		log.Info().
			Str("order_id", evt.OrderID).
			Msg("Отгрузка уже отменена")
		return nil
	}
	if !sh.CanTransitionTo(domain.ShipmentStatusCanceled) {
		log.Warn().
			Str("order_id", evt.OrderID).
			Str("shipment_id", sh.ID).
			Str("status", string(sh.Status)).
			Msg("Отгрузку в этом статусе отменить нельзя")
		return nil
	}

	from := sh.Status
	if err := sh.Cancel(now); err != nil {
		return err
	}
	if err := shipments.Update(ctx, sh, from); err != nil {
		return err
	}

	log.Info().
		Str("order_id", evt.OrderID).
		Str("shipment_id", sh.ID).
		Msg("Отгрузка отменена")
	return nil
}
