package service

import (
	"context"
	"time"

	"gorm.io/gorm"

	"example.com/fulfillment/pkg/events"
	"example.com/fulfillment/pkg/logger"
	"example.com/fulfillment/services/order/internal/domain"
)

// =============================================================================
// Обмен
// =============================================================================

// RequestExchange создаёт запрос обмена позиции доставленного заказа.
func (s *Service) RequestExchange(ctx context.Context, orderID string, originalOptionID, newOptionID int64, quantity int) (*domain.Exchange, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	ex, err := domain.NewExchange(order, originalOptionID, newOptionID, quantity, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.exchanges.Create(ctx, ex); err != nil {
		return nil, err
	}

	logger.Ctx(ctx).Info().
		Str("exchange_id", ex.ID).
		Str("order_id", orderID).
		Int64("original_option_id", originalOptionID).
		Int64("new_option_id", newOptionID).
		Msg("Запрошен обмен")
	return ex, nil
}

// GetExchange возвращает обмен по ID.
func (s *Service) GetExchange(ctx context.Context, id string) (*domain.Exchange, error) {
	return s.exchanges.GetByID(ctx, id)
}

// ApproveExchange одобряет обмен и списывает новый SKU со склада.
func (s *Service) ApproveExchange(ctx context.Context, id string) (*domain.Exchange, error) {
	return s.mutateExchange(ctx, id, func(ex *domain.Exchange, now time.Time) ([]events.Event, error) {
		if err := ex.Approve(now); err != nil {
			return nil, err
		}
		evt := &events.ExchangeApproved{ExchangeTransition: exchangeTransition(ex, now)}
		out := []events.Event{evt}
		if dec := s.compensator.ExchangeApproved(evt); dec != nil {
			out = append(out, dec)
		}
		return out, nil
	})
}

// RejectExchange отклоняет обмен. Остаток не меняется.
func (s *Service) RejectExchange(ctx context.Context, id, reason string) (*domain.Exchange, error) {
	return s.mutateExchange(ctx, id, func(ex *domain.Exchange, now time.Time) ([]events.Event, error) {
		return nil, ex.Reject(reason, now)
	})
}

// CompleteExchangeReturn фиксирует возврат исходного товара на склад.
func (s *Service) CompleteExchangeReturn(ctx context.Context, id string) (*domain.Exchange, error) {
	return s.mutateExchange(ctx, id, func(ex *domain.Exchange, now time.Time) ([]events.Event, error) {
		if err := ex.CompleteReturn(now); err != nil {
			return nil, err
		}
		evt := &events.ExchangeReturnCompleted{ExchangeTransition: exchangeTransition(ex, now)}
		out := []events.Event{evt}
		if inc := s.compensator.ExchangeReturnCompleted(evt); inc != nil {
			out = append(out, inc)
		}
		return out, nil
	})
}

func (s *Service) mutateExchange(
	ctx context.Context,
	id string,
	apply func(ex *domain.Exchange, now time.Time) ([]events.Event, error),
) (*domain.Exchange, error) {
	var ex *domain.Exchange
	err := s.tx.Transaction(ctx, func(tx *gorm.DB) error {
		repo := s.exchanges.WithTx(tx)

		var err error
		ex, err = repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}

		from := ex.Status
		out, err := apply(ex, s.now())
		if err != nil {
			return err
		}
		if err := repo.Update(ctx, ex, from); err != nil {
			return err
		}
		return s.emit(ctx, tx, out...)
	})
	if err != nil {
		return nil, err
	}

	logger.Ctx(ctx).Info().
		Str("exchange_id", id).
		Str("status", string(ex.Status)).
		Msg("Статус обмена изменён")
	return ex, nil
}

func exchangeTransition(ex *domain.Exchange, now time.Time) events.ExchangeTransition {
	return events.ExchangeTransition{
		Meta:             events.NewMeta(now),
		ExchangeID:       ex.ID,
		OrderID:          ex.OrderID,
		OriginalOptionID: ex.OriginalOptionID,
		NewOptionID:      ex.NewOptionID,
		Quantity:         ex.Quantity,
	}
}

// =============================================================================
// Возврат
// =============================================================================

// RequestReturn создаёт запрос возврата позиций доставленного заказа.
func (s *Service) RequestReturn(ctx context.Context, orderID string, items []domain.ReturnItem) (*domain.Return, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	ret, err := domain.NewReturn(order, items, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.returns.Create(ctx, ret); err != nil {
		return nil, err
	}

	logger.Ctx(ctx).Info().
		Str("return_id", ret.ID).
		Str("order_id", orderID).
		Int64("refund_amount", ret.RefundAmount.Amount).
		Msg("Запрошен возврат")
	return ret, nil
}

// GetReturn возвращает возврат по ID.
func (s *Service) GetReturn(ctx context.Context, id string) (*domain.Return, error) {
	return s.returns.GetByID(ctx, id)
}

// ApproveReturn одобряет возврат.
func (s *Service) ApproveReturn(ctx context.Context, id string) (*domain.Return, error) {
	return s.mutateReturn(ctx, id, func(r *domain.Return, now time.Time) ([]events.Event, error) {
		return nil, r.Approve(now)
	})
}

// RejectReturn отклоняет возврат.
func (s *Service) RejectReturn(ctx context.Context, id, reason string) (*domain.Return, error) {
	return s.mutateReturn(ctx, id, func(r *domain.Return, now time.Time) ([]events.Event, error) {
		return nil, r.Reject(reason, now)
	})
}

// CompleteReturn принимает товар на склад: пишет return.completed для возврата средств
// и пополнение остатка по каждой позиции.
func (s *Service) CompleteReturn(ctx context.Context, id string) (*domain.Return, error) {
	return s.mutateReturn(ctx, id, func(r *domain.Return, now time.Time) ([]events.Event, error) {
		if err := r.Complete(now); err != nil {
			return nil, err
		}

		items := make([]events.LineItem, 0, len(r.Items))
		for _, it := range r.Items {
			items = append(items, events.LineItem{SKU: it.SKU, Quantity: it.Quantity})
		}
		evt := &events.ReturnCompleted{
			Meta:         events.NewMeta(now),
			ReturnID:     r.ID,
			OrderID:      r.OrderID,
			Items:        items,
			RefundAmount: r.RefundAmount.Amount,
		}

		out := []events.Event{evt}
		for _, inc := range s.compensator.ReturnCompleted(evt) {
			out = append(out, inc)
		}
		return out, nil
	})
}

func (s *Service) mutateReturn(
	ctx context.Context,
	id string,
	apply func(r *domain.Return, now time.Time) ([]events.Event, error),
) (*domain.Return, error) {
	var ret *domain.Return
	err := s.tx.Transaction(ctx, func(tx *gorm.DB) error {
		repo := s.returns.WithTx(tx)

		var err error
		ret, err = repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}

		from := ret.Status
		out, err := apply(ret, s.now())
		if err != nil {
			return err
		}
		if err := repo.Update(ctx, ret, from); err != nil {
			return err
		}
		return s.emit(ctx, tx, out...)
	})
	if err != nil {
		return nil, err
	}

	logger.Ctx(ctx).Info().
		Str("return_id", id).
		Str("status", string(ret.Status)).
		Msg("Статус возврата изменён")
	return ret, nil
}
