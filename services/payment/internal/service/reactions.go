package service

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"example.com/fulfillment/pkg/events"
	"example.com/fulfillment/pkg/logger"
	"example.com/fulfillment/pkg/retry"
	"example.com/fulfillment/services/payment/internal/domain"
)

// Ключи возвратов в пределах платежа.
const (
	refundKeyOrderCancelled = "order-cancelled"
	refundKeyReturnPrefix   = "return:"
)

// =============================================================================
// Реакции на события Order Service.
// Вызываются внутри транзакции ledger идемпотентности (tx).
// =============================================================================

// OnOrderCreated создаёт PENDING платёж на сумму заказа.
func (s *Service) OnOrderCreated(ctx context.Context, tx *gorm.DB, evt *events.OrderCreated) error {
	p, err := domain.NewPayment(evt.OrderID, evt.UserID, evt.TotalAmount, evt.Currency, s.now())
	if err != nil {
		// заказ прошёл валидацию Order Service, повтор не исправит payload
		return retry.Permanent(err)
	}

	if err := s.payments.WithTx(tx).Create(ctx, p); err != nil {
		if errors.Is(err, domain.ErrDuplicatePayment) {
			logger.Ctx(ctx).Info().
				Str("order_id", evt.OrderID).
				Msg("Платёж по заказу уже создан")
			return nil
		}
		return err
	}

	logger.Ctx(ctx).Info().
		Str("order_id", evt.OrderID).
		Str("payment_id", p.ID).
		Int64("amount", p.Amount).
		Msg("Создан платёж в ожидании оплаты")
	return nil
}

// OnOrderCancelled: PENDING → CANCELED без событий, CONFIRMED → возврат остатка.
// Подтверждённый платёж возвращается независимо от RefundRequired: заказ мог
// отмениться раньше, чем до него дошло payment.confirmed.
// Если платежа ещё нет (order.created не обработан), ошибка уводит событие на повтор.
func (s *Service) OnOrderCancelled(ctx context.Context, tx *gorm.DB, evt *events.OrderCancelled) error {
	log := logger.FromContext(ctx)

	payments := s.payments.WithTx(tx)

	p, err := payments.GetForUpdateByOrder(ctx, evt.OrderID)
	if err != nil {
		return err
	}

	switch p.Status {
	case domain.PaymentStatusPending:
		if err := p.Cancel(evt.Reason, s.now()); err != nil {
			return err
		}
		if err := payments.Update(ctx, p, domain.PaymentStatusPending); err != nil {
			return err
		}
		log.Info().
			Str("order_id", evt.OrderID).
			Str("reason", evt.Reason).
			Msg("Неоплаченный платёж отменён вместе с заказом")
		return nil

	case domain.PaymentStatusConfirmed:
		return s.refund(ctx, tx, evt.OrderID, refundKeyOrderCancelled, (*domain.Payment).Refundable)

	default:
		log.Info().
			Str("order_id", evt.OrderID).
			Str("status", string(p.Status)).
			Msg("Платёж уже закрыт, отмена заказа ничего не меняет")
		return nil
	}
}

// OnReturnCompleted возвращает сумму завершённого возврата товара.
func (s *Service) OnReturnCompleted(ctx context.Context, tx *gorm.DB, evt *events.ReturnCompleted) error {
	err := s.refund(ctx, tx, evt.OrderID, refundKeyReturnPrefix+evt.ReturnID, func(*domain.Payment) int64 {
		return evt.RefundAmount
	})
	if errors.Is(err, domain.ErrRefundExceedsPayment) ||
		errors.Is(err, domain.ErrInvalidAmount) ||
		errors.Is(err, domain.ErrInvalidTransition) {
		// сумма или статус не сходятся с платежом: нужен ручной разбор через DLT
		return retry.Permanent(err)
	}
	return err
}
