// Package service содержит бизнес-логику Order Service.
//
// Каждая команда и каждая реакция на событие меняет агрегат и пишет исходящие события
// (включая команды компенсации остатка) в outbox одной локальной транзакцией.
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
	"example.com/fulfillment/pkg/saga"
	"example.com/fulfillment/services/order/internal/domain"
	"example.com/fulfillment/services/order/internal/repository"
)

// Константы для валидации пагинации.
const (
	defaultPage     = 1
	defaultPageSize = 20
	maxPageSize     = 100
	minPageSize     = 1
)

// Service — команды и реакции саги заказа.
type Service struct {
	tx          db.Transactor
	orders      repository.OrderRepository
	exchanges   repository.ExchangeRepository
	returns     repository.ReturnRepository
	outbox      outbox.Repository
	compensator *saga.Compensator
	now         func() time.Time
}

// NewService создаёт сервис заказов.
func NewService(
	tx db.Transactor,
	orders repository.OrderRepository,
	exchanges repository.ExchangeRepository,
	returns repository.ReturnRepository,
	outboxRepo outbox.Repository,
) *Service {
	return &Service{
		tx:          tx,
		orders:      orders,
		exchanges:   exchanges,
		returns:     returns,
		outbox:      outboxRepo,
		compensator: saga.NewCompensator(),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// =============================================================================
// Заказы
// =============================================================================

// CreateOrder создаёт заказ с идемпотентностью.
// Если заказ с таким idempotencyKey уже существует, возвращает существующий заказ.
// Вместе с заказом в outbox пишутся order.created и списания остатка по каждой позиции.
func (s *Service) CreateOrder(ctx context.Context, userID, idempotencyKey string, items []domain.OrderItem) (*domain.Order, error) {
	log := logger.FromContext(ctx)

	if idempotencyKey != "" {
		existing, err := s.orders.GetByIdempotencyKey(ctx, idempotencyKey)
		if err == nil {
			log.Info().
				Str("order_id", existing.ID).
				Str("idempotency_key", idempotencyKey).
				Msg("Возвращён существующий заказ по ключу идемпотентности")
			return existing, nil
		}
		if !errors.Is(err, domain.ErrOrderNotFound) {
			return nil, fmt.Errorf("ошибка проверки идемпотентности: %w", err)
		}
	}

	order, err := domain.NewOrder(userID, idempotencyKey, items, s.now())
	if err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("Ошибка валидации заказа")
		return nil, err
	}

	created := &events.OrderCreated{
		Meta:        events.NewMeta(order.CreatedAt),
		OrderID:     order.ID,
		UserID:      order.UserID,
		Items:       lineItems(order.Items),
		TotalAmount: order.TotalAmount.Amount,
		Currency:    order.TotalAmount.Currency,
	}
	out := []events.Event{created}
	for _, d := range s.compensator.OrderPlaced(created) {
		out = append(out, d)
	}

	err = s.tx.Transaction(ctx, func(tx *gorm.DB) error {
		if err := s.orders.WithTx(tx).Create(ctx, order); err != nil {
			return err
		}
		return s.emit(ctx, tx, out...)
	})
	if errors.Is(err, domain.ErrDuplicateOrder) {
		// параллельный запрос с тем же ключом успел раньше
		return s.orders.GetByIdempotencyKey(ctx, idempotencyKey)
	}
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Ошибка создания заказа")
		return nil, fmt.Errorf("ошибка создания заказа: %w", err)
	}

	log.Info().
		Str("order_id", order.ID).
		Str("user_id", userID).
		Int64("total_amount", order.TotalAmount.Amount).
		Int("items", len(order.Items)).
		Msg("Заказ создан")

	return order, nil
}

// GetOrder возвращает заказ по ID.
func (s *Service) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	return s.orders.GetByID(ctx, orderID)
}

// ListOrders возвращает заказы пользователя с пагинацией.
func (s *Service) ListOrders(ctx context.Context, userID string, status *domain.OrderStatus, page, pageSize int) ([]*domain.Order, int64, error) {
	if page < defaultPage {
		page = defaultPage
	}
	if pageSize < minPageSize {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return s.orders.ListByUserID(ctx, userID, status, (page-1)*pageSize, pageSize)
}

// CancelOrder отменяет заказ по запросу пользователя или администратора.
// Списанный остаток возвращается, для оплаченного заказа запрашивается возврат средств.
func (s *Service) CancelOrder(ctx context.Context, orderID, reason string) (*domain.Order, error) {
	var order *domain.Order
	err := s.tx.Transaction(ctx, func(tx *gorm.DB) error {
		var err error
		order, err = s.mutate(ctx, tx, orderID, func(o *domain.Order, now time.Time) ([]events.Event, error) {
			return s.cancel(o, reason, now)
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	logger.Ctx(ctx).Info().
		Str("order_id", orderID).
		Str("reason", reason).
		Msg("Заказ отменён")
	return order, nil
}

// cancel отменяет заказ и строит order.cancelled с компенсацией остатка.
func (s *Service) cancel(o *domain.Order, reason string, now time.Time) ([]events.Event, error) {
	refund, err := o.Cancel(reason, now)
	if err != nil {
		return nil, err
	}
	return s.cancelled(o, reason, refund, now), nil
}

func (s *Service) cancelled(o *domain.Order, reason string, refund bool, now time.Time) []events.Event {
	items := lineItems(o.Items)
	out := []events.Event{&events.OrderCancelled{
		Meta:           events.NewMeta(now),
		OrderID:        o.ID,
		Reason:         reason,
		Items:          items,
		RefundRequired: refund,
	}}
	for _, inc := range s.compensator.OrderCancelled(o.ID, items) {
		out = append(out, inc)
	}
	return out
}

// mutate блокирует заказ, применяет переход и пишет события в outbox.
func (s *Service) mutate(
	ctx context.Context,
	tx *gorm.DB,
	orderID string,
	apply func(o *domain.Order, now time.Time) ([]events.Event, error),
) (*domain.Order, error) {
	orders := s.orders.WithTx(tx)

	o, err := orders.GetForUpdate(ctx, orderID)
	if err != nil {
		return nil, err
	}

	from := o.Status
	out, err := apply(o, s.now())
	if err != nil {
		return nil, err
	}
	if err := orders.Update(ctx, o, from); err != nil {
		return nil, err
	}
	if err := s.emit(ctx, tx, out...); err != nil {
		return nil, err
	}
	return o, nil
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

// lineItems переводит позиции заказа в позиции событий.
func lineItems(items []domain.OrderItem) []events.LineItem {
	out := make([]events.LineItem, 0, len(items))
	for _, it := range items {
		out = append(out, events.LineItem{SKU: it.SKU, Quantity: it.Quantity, UnitPrice: it.UnitPrice.Amount})
	}
	return out
}
