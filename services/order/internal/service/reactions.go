package service

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"example.com/fulfillment/pkg/events"
	"example.com/fulfillment/pkg/logger"
	"example.com/fulfillment/services/order/internal/domain"
)

// =============================================================================
// Реакции на события других сервисов.
// Вызываются внутри транзакции ledger идемпотентности (tx).
// =============================================================================

// OnPaymentConfirmed: CREATED → PAID, публикуется order.paid.
func (s *Service) OnPaymentConfirmed(ctx context.Context, tx *gorm.DB, evt *events.PaymentConfirmed) error {
	_, err := s.mutate(ctx, tx, evt.OrderID, func(o *domain.Order, now time.Time) ([]events.Event, error) {
		if err := o.MarkPaid(evt.PaymentID, now); err != nil {
			return nil, err
		}
		return []events.Event{&events.OrderPaid{
			Meta:      events.NewMeta(now),
			OrderID:   o.ID,
			PaymentID: evt.PaymentID,
			Amount:    evt.Amount,
		}}, nil
	})
	return skipStale(ctx, evt, err)
}

// OnPaymentCancelled: CREATED → CANCELED (FAILED при отказе шлюза), остаток возвращается.
// order.cancelled не публикуется: платёж уже отменён, а отгрузки у неоплаченного заказа нет.
func (s *Service) OnPaymentCancelled(ctx context.Context, tx *gorm.DB, evt *events.PaymentCancelled) error {
	_, err := s.mutate(ctx, tx, evt.OrderID, func(o *domain.Order, now time.Time) ([]events.Event, error) {
		if evt.Reason == events.PaymentCancelFailure {
			if err := o.Fail(events.PaymentCancelFailure, now); err != nil {
				return nil, err
			}
		} else if o.Status != domain.OrderStatusCreated {
			// оплаченный заказ не отменяется запоздалой отменой платежа
			return nil, &domain.TransitionError{From: string(o.Status), To: string(domain.OrderStatusCanceled)}
		} else if _, err := o.Cancel(events.CancelByPayment, now); err != nil {
			return nil, err
		}

		var out []events.Event
		for _, inc := range s.compensator.OrderCancelled(o.ID, lineItems(o.Items)) {
			out = append(out, inc)
		}
		return out, nil
	})
	return skipStale(ctx, evt, err)
}

// OnInventoryShortage: списание отклонено складом.
// Неоплаченный заказ → FAILED, оплаченный → CANCELED с возвратом средств.
// В обоих случаях публикуется order.cancelled и пополнение по всем позициям:
// пополнение отклонённого SKU находит REJECTED движение и только закрывает его.
func (s *Service) OnInventoryShortage(ctx context.Context, tx *gorm.DB, evt *events.InventoryShortage) error {
	if evt.ReferenceType != events.AggregateOrder {
		logger.Ctx(ctx).Warn().
			Str("reference_type", evt.ReferenceType).
			Str("reference_id", evt.ReferenceID).
			Int64("sku", evt.SKU).
			Msg("Нехватка товара вне заказа, требуется ручной разбор")
		return nil
	}

	_, err := s.mutate(ctx, tx, evt.ReferenceID, func(o *domain.Order, now time.Time) ([]events.Event, error) {
		if o.Status == domain.OrderStatusCreated {
			if err := o.Fail(events.CancelByShortage, now); err != nil {
				return nil, err
			}
			return s.cancelled(o, events.CancelByShortage, false, now), nil
		}
		return s.cancel(o, events.CancelByShortage, now)
	})
	return skipStale(ctx, evt, err)
}

// OnShipmentStarted: PAID → SHIPPING.
func (s *Service) OnShipmentStarted(ctx context.Context, tx *gorm.DB, evt *events.ShipmentStarted) error {
	_, err := s.mutate(ctx, tx, evt.OrderID, func(o *domain.Order, now time.Time) ([]events.Event, error) {
		return nil, o.StartShipping(now)
	})
	return skipStale(ctx, evt, err)
}

// OnShipmentDelivered: SHIPPING → DELIVERED.
func (s *Service) OnShipmentDelivered(ctx context.Context, tx *gorm.DB, evt *events.ShipmentDelivered) error {
	_, err := s.mutate(ctx, tx, evt.OrderID, func(o *domain.Order, now time.Time) ([]events.Event, error) {
		return nil, o.Deliver(now)
	})
	return skipStale(ctx, evt, err)
}

// skipStale подавляет недопустимый переход: событие опоздало относительно статуса заказа
// (например, подтверждение оплаты уже отменённого заказа). Повтор его не исправит.
func skipStale(ctx context.Context, evt events.Event, err error) error {
	if !errors.Is(err, domain.ErrInvalidTransition) {
		return err
	}
	logger.Ctx(ctx).Warn().
		Err(err).
		Str("event_type", evt.EventType()).
		Str("event_key", evt.NaturalKey()).
		Msg("Событие не применимо к текущему статусу заказа, пропускаем")
	return nil
}
