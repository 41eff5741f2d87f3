// Package service содержит бизнес-логику Payment Service.
//
// Платёж создаётся по order.created и ждёт подтверждения от платёжного шлюза
// (команды ConfirmPayment и FailPayment). Отмена заказа и завершённый возврат
// превращаются в возврат средств. Каждое изменение платежа и его исходящие
// события пишутся в outbox одной транзакцией.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"example.com/fulfillment/pkg/db"
	"example.com/fulfillment/pkg/events"
	"example.com/fulfillment/pkg/logger"
	"example.com/fulfillment/pkg/outbox"
	"example.com/fulfillment/services/payment/internal/domain"
	"example.com/fulfillment/services/payment/internal/repository"
)

// Service — команды шлюза и реакции на события заказа.
type Service struct {
	tx       db.Transactor
	payments repository.PaymentRepository
	outbox   outbox.Repository
	now      func() time.Time
}

// NewService создаёт сервис платежей.
func NewService(tx db.Transactor, payments repository.PaymentRepository, outboxRepo outbox.Repository) *Service {
	return &Service{
		tx:       tx,
		payments: payments,
		outbox:   outboxRepo,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// =============================================================================
// Чтение
// =============================================================================

// GetPayment возвращает платёж по ID.
func (s *Service) GetPayment(ctx context.Context, paymentID string) (*domain.Payment, error) {
	return s.payments.GetByID(ctx, paymentID)
}

// GetPaymentByOrder возвращает платёж заказа.
func (s *Service) GetPaymentByOrder(ctx context.Context, orderID string) (*domain.Payment, error) {
	return s.payments.GetByOrderID(ctx, orderID)
}

// ListRefunds возвращает возвраты по платежу.
func (s *Service) ListRefunds(ctx context.Context, paymentID string) ([]*domain.Refund, error) {
	if _, err := s.payments.GetByID(ctx, paymentID); err != nil {
		return nil, err
	}
	return s.payments.ListRefunds(ctx, paymentID)
}

// =============================================================================
// Команды платёжного шлюза
// =============================================================================

// ConfirmPayment подтверждает списание paidAmount по заказу.
// При несовпадении суммы платёж отменяется с причиной MISMATCH, публикуется
// payment.cancelled, а вызывающему возвращается ErrAmountMismatch вместе с платежом.
func (s *Service) ConfirmPayment(ctx context.Context, orderID string, paidAmount int64) (*domain.Payment, error) {
	log := logger.FromContext(ctx)

	var (
		payment  *domain.Payment
		mismatch bool
	)
	err := s.tx.Transaction(ctx, func(tx *gorm.DB) error {
		var err error
		payment, err = s.mutate(ctx, tx, orderID, func(p *domain.Payment, now time.Time) ([]events.Event, error) {
			err := p.Confirm(paidAmount, now)
			if errors.Is(err, domain.ErrAmountMismatch) {
				mismatch = true
				return s.cancel(p, events.PaymentCancelMismatch, now)
			}
			if err != nil {
				return nil, err
			}
			return []events.Event{&events.PaymentConfirmed{
				Meta:      events.NewMeta(now),
				PaymentID: p.ID,
				OrderID:   p.OrderID,
				Amount:    p.Amount,
			}}, nil
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	if mismatch {
		log.Warn().
			Str("order_id", orderID).
			Str("payment_id", payment.ID).
			Int64("expected", payment.Amount).
			Int64("paid", paidAmount).
			Msg("Сумма оплаты не совпала, платёж отменён")
		return payment, domain.ErrAmountMismatch
	}

	log.Info().
		Str("order_id", orderID).
		Str("payment_id", payment.ID).
		Int64("amount", payment.Amount).
		Msg("Платёж подтверждён")
	return payment, nil
}

// FailPayment фиксирует отказ шлюза: платёж отменяется с причиной FAILURE.
func (s *Service) FailPayment(ctx context.Context, orderID string) (*domain.Payment, error) {
	var payment *domain.Payment
	err := s.tx.Transaction(ctx, func(tx *gorm.DB) error {
		var err error
		payment, err = s.mutate(ctx, tx, orderID, func(p *domain.Payment, now time.Time) ([]events.Event, error) {
			return s.cancel(p, events.PaymentCancelFailure, now)
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	logger.Ctx(ctx).Info().
		Str("order_id", orderID).
		Str("payment_id", payment.ID).
		Msg("Отказ платёжного шлюза, платёж отменён")
	return payment, nil
}

// cancel отменяет платёж и строит payment.cancelled.
func (s *Service) cancel(p *domain.Payment, reason string, now time.Time) ([]events.Event, error) {
	if err := p.Cancel(reason, now); err != nil {
		return nil, err
	}
	return []events.Event{&events.PaymentCancelled{
		Meta:      events.NewMeta(now),
		PaymentID: p.ID,
		OrderID:   p.OrderID,
		Reason:    reason,
	}}, nil
}

// mutate блокирует платёж заказа, применяет переход и пишет события в outbox.
func (s *Service) mutate(
	ctx context.Context,
	tx *gorm.DB,
	orderID string,
	apply func(p *domain.Payment, now time.Time) ([]events.Event, error),
) (*domain.Payment, error) {
	payments := s.payments.WithTx(tx)

	p, err := payments.GetForUpdateByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	from := p.Status
	out, err := apply(p, s.now())
	if err != nil {
		return nil, err
	}
	if err := payments.Update(ctx, p, from); err != nil {
		return nil, err
	}
	if err := s.emit(ctx, tx, out...); err != nil {
		return nil, err
	}
	return p, nil
}

// refund списывает возврат с платежа под ключом key и строит payment.refunded.
// Повтор ключа ничего не меняет.
func (s *Service) refund(ctx context.Context, tx *gorm.DB, orderID, key string, amount func(p *domain.Payment) int64) error {
	payments := s.payments.WithTx(tx)

	p, err := payments.GetForUpdateByOrder(ctx, orderID)
	if err != nil {
		return err
	}

	from := p.Status
	now := s.now()
	r, err := p.Refund(key, amount(p), now)
	if err != nil {
		return err
	}

	if err := payments.AddRefund(ctx, r); err != nil {
		if errors.Is(err, domain.ErrDuplicateRefund) {
			logger.Ctx(ctx).Info().
				Str("payment_id", p.ID).
				Str("refund_key", key).
				Msg("Возврат уже выполнен")
			return nil
		}
		return fmt.Errorf("ошибка записи возврата: %w", err)
	}
	if err := payments.Update(ctx, p, from); err != nil {
		return err
	}

	return s.emit(ctx, tx, &events.PaymentRefunded{
		Meta:      events.NewMeta(now),
		PaymentID: p.ID,
		OrderID:   p.OrderID,
		RefundKey: key,
		Amount:    r.Amount,
	})
}

// emit пишет события в outbox в транзакции tx.
func (s *Service) emit(ctx context.Context, tx *gorm.DB, evts ...events.Event) error {
	if len(evts) == 0 {
		return nil
	}
	records, err := outbox.NewRecords(ctx, evts...)
	if err != nil {
		return err
	}
	return s.outbox.WithTx(tx).Append(ctx, records...)
}
