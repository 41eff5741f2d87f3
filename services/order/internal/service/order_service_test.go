// Package service содержит unit тесты для Order Service.
package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/fulfillment/pkg/events"
	"example.com/fulfillment/pkg/outbox"
	"example.com/fulfillment/pkg/saga"
	"example.com/fulfillment/pkg/testutil"
	"example.com/fulfillment/pkg/testutil/fakes"
	"example.com/fulfillment/services/order/internal/domain"
	ordertest "example.com/fulfillment/services/order/internal/testutil"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	svc       *Service
	tx        *testutil.Transactor
	orders    *ordertest.Orders
	exchanges *ordertest.Exchanges
	returns   *ordertest.Returns
	outbox    *fakes.Outbox
}

func newFixture() *fixture {
	f := &fixture{
		orders:    ordertest.NewOrders(),
		exchanges: ordertest.NewExchanges(),
		returns:   ordertest.NewReturns(),
		outbox:    fakes.NewOutbox(),
	}
	f.tx = testutil.NewTransactor(f.orders, f.exchanges, f.returns, f.outbox)
	f.svc = NewService(f.tx, f.orders, f.exchanges, f.returns, f.outbox)
	f.svc.now = func() time.Time { return fixedNow }
	return f
}

func items() []domain.OrderItem {
	return []domain.OrderItem{
		{SKU: 10, ProductName: "Футболка", Quantity: 2, UnitPrice: domain.Money{Currency: "RUB", Amount: 1000}},
		{SKU: 20, ProductName: "Кепка", Quantity: 1, UnitPrice: domain.Money{Currency: "RUB", Amount: 500}},
	}
}

// place кладёт в хранилище заказ в нужном статусе, минуя outbox.
func (f *fixture) place(t *testing.T, status domain.OrderStatus) *domain.Order {
	t.Helper()
	o, err := domain.NewOrder("user-1", "", items(), fixedNow)
	require.NoError(t, err)
	o.Status = status
	if status != domain.OrderStatusCreated {
		paymentID := "pay-1"
		o.PaymentID = &paymentID
	}
	f.orders.Put(o.ID, o)
	return o
}

func (f *fixture) status(t *testing.T, id string) domain.OrderStatus {
	t.Helper()
	o, err := f.orders.GetByID(context.Background(), id)
	require.NoError(t, err)
	return o.Status
}

// decode разбирает payload записи outbox в событие типа T.
func decode[T events.Event](t *testing.T, rec outbox.Record) T {
	t.Helper()
	evt, err := events.Default().Decode(rec.EventType, rec.Payload)
	require.NoError(t, err)
	typed, ok := evt.(T)
	require.True(t, ok, "неожиданный тип события %T", evt)
	return typed
}

// =====================================
// CreateOrder
// =====================================

func TestCreateOrder_WritesOrderAndEventsAtomically(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	order, err := f.svc.CreateOrder(ctx, "user-1", "idem-1", items())
	require.NoError(t, err)

	assert.Equal(t, domain.OrderStatusCreated, order.Status)
	assert.Equal(t, int64(2500), order.TotalAmount.Amount)
	assert.Equal(t, 1, f.tx.Commits)

	created := f.outbox.ByType(events.TypeOrderCreated)
	require.Len(t, created, 1)
	assert.Equal(t, outbox.MessageKey(events.AggregateOrder, order.ID), created[0].MessageKey)
	assert.Equal(t, events.TypeOrderCreated, created[0].Topic)
	evt := decode[*events.OrderCreated](t, created[0])
	assert.Equal(t, order.ID, evt.OrderID)
	assert.Equal(t, int64(2500), evt.TotalAmount)
	assert.Len(t, evt.Items, 2)

	decreases := f.outbox.ByType(events.TypeInventoryDecrease)
	require.Len(t, decreases, 2)
	keys := map[string]int{}
	for _, rec := range decreases {
		d := decode[*events.InventoryDecrease](t, rec)
		keys[d.AdjustmentKey] = d.Quantity
		assert.Equal(t, events.AggregateOrder, d.ReferenceType)
		assert.Equal(t, order.ID, d.ReferenceID)
	}
	assert.Equal(t, map[string]int{
		saga.OrderDecreaseKey(order.ID, 10): 2,
		saga.OrderDecreaseKey(order.ID, 20): 1,
	}, keys)
}

func TestCreateOrder_CommitFailureLeavesNothing(t *testing.T) {
	f := newFixture()
	f.tx.FailCommit = testutil.ErrCrash

	_, err := f.svc.CreateOrder(context.Background(), "user-1", "idem-1", items())

	require.ErrorIs(t, err, testutil.ErrCrash)
	assert.Zero(t, f.orders.Len())
	assert.Empty(t, f.outbox.Records())
	assert.Equal(t, 1, f.tx.Rollbacks)
}

func TestCreateOrder_IdempotencyKeyReturnsExisting(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	first, err := f.svc.CreateOrder(ctx, "user-1", "idem-1", items())
	require.NoError(t, err)
	recorded := len(f.outbox.Records())

	second, err := f.svc.CreateOrder(ctx, "user-1", "idem-1", items())
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, f.orders.Len())
	assert.Len(t, f.outbox.Records(), recorded)
	assert.Equal(t, 1, f.tx.Commits)
}

func TestCreateOrder_ValidationError(t *testing.T) {
	f := newFixture()

	_, err := f.svc.CreateOrder(context.Background(), "user-1", "", nil)

	require.ErrorIs(t, err, domain.ErrEmptyOrderItems)
	assert.Zero(t, f.tx.Commits+f.tx.Rollbacks)
	assert.Empty(t, f.outbox.Records())
}

func TestListOrders_Pagination(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		f.place(t, domain.OrderStatusCreated)
	}

	page, total, err := f.svc.ListOrders(ctx, "user-1", nil, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, page, 2)

	page, _, err = f.svc.ListOrders(ctx, "user-1", nil, 2, 2)
	require.NoError(t, err)
	assert.Len(t, page, 1)

	paid := domain.OrderStatusPaid
	page, total, err = f.svc.ListOrders(ctx, "user-1", &paid, 1, 0)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, page)
}

// =====================================
// CancelOrder
// =====================================

func TestCancelOrder(t *testing.T) {
	tests := []struct {
		name   string
		status domain.OrderStatus
		refund bool
	}{
		{name: "неоплаченный заказ", status: domain.OrderStatusCreated, refund: false},
		{name: "оплаченный заказ требует возврата средств", status: domain.OrderStatusPaid, refund: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			o := f.place(t, tt.status)

			got, err := f.svc.CancelOrder(context.Background(), o.ID, events.CancelByUser)
			require.NoError(t, err)
			assert.Equal(t, domain.OrderStatusCanceled, got.Status)
			assert.Equal(t, domain.OrderStatusCanceled, f.status(t, o.ID))

			cancelled := f.outbox.ByType(events.TypeOrderCancelled)
			require.Len(t, cancelled, 1)
			evt := decode[*events.OrderCancelled](t, cancelled[0])
			assert.Equal(t, events.CancelByUser, evt.Reason)
			assert.Equal(t, tt.refund, evt.RefundRequired)

			increases := f.outbox.ByType(events.TypeInventoryIncrease)
			require.Len(t, increases, 2)
			for _, rec := range increases {
				inc := decode[*events.InventoryIncrease](t, rec)
				assert.Equal(t, saga.OrderDecreaseKey(o.ID, inc.SKU), inc.Compensates)
				assert.Equal(t, saga.OrderRestockKey(o.ID, inc.SKU), inc.AdjustmentKey)
			}
		})
	}
}

func TestCancelOrder_ShippedOrderRejected(t *testing.T) {
	f := newFixture()
	o := f.place(t, domain.OrderStatusShipping)

	_, err := f.svc.CancelOrder(context.Background(), o.ID, events.CancelByAdmin)

	require.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Equal(t, domain.OrderStatusShipping, f.status(t, o.ID))
	assert.Empty(t, f.outbox.Records())
	assert.Equal(t, 1, f.tx.Rollbacks)
}

func TestCancelOrder_NotFound(t *testing.T) {
	f := newFixture()

	_, err := f.svc.CancelOrder(context.Background(), "missing", events.CancelByUser)

	require.ErrorIs(t, err, domain.ErrOrderNotFound)
}

// =====================================
// Реакции на события
// =====================================

func TestOnPaymentConfirmed(t *testing.T) {
	f := newFixture()
	o := f.place(t, domain.OrderStatusCreated)

	err := f.svc.OnPaymentConfirmed(context.Background(), nil, &events.PaymentConfirmed{
		Meta: events.NewMeta(fixedNow), PaymentID: "pay-9", OrderID: o.ID, Amount: 2500,
	})
	require.NoError(t, err)

	got, err := f.orders.GetByID(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPaid, got.Status)
	require.NotNil(t, got.PaymentID)
	assert.Equal(t, "pay-9", *got.PaymentID)

	paid := f.outbox.ByType(events.TypeOrderPaid)
	require.Len(t, paid, 1)
	evt := decode[*events.OrderPaid](t, paid[0])
	assert.Equal(t, "pay-9", evt.PaymentID)
	assert.Equal(t, int64(2500), evt.Amount)
}

func TestOnPaymentConfirmed_StaleEventSkipped(t *testing.T) {
	f := newFixture()
	o := f.place(t, domain.OrderStatusCanceled)

	err := f.svc.OnPaymentConfirmed(context.Background(), nil, &events.PaymentConfirmed{
		Meta: events.NewMeta(fixedNow), PaymentID: "pay-9", OrderID: o.ID, Amount: 2500,
	})

	require.NoError(t, err, "устаревшее событие не должно уходить в повтор")
	assert.Equal(t, domain.OrderStatusCanceled, f.status(t, o.ID))
	assert.Empty(t, f.outbox.Records())
}

func TestOnPaymentConfirmed_UnknownOrder(t *testing.T) {
	f := newFixture()

	err := f.svc.OnPaymentConfirmed(context.Background(), nil, &events.PaymentConfirmed{
		Meta: events.NewMeta(fixedNow), PaymentID: "pay-9", OrderID: "missing", Amount: 1,
	})

	require.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestOnPaymentCancelled(t *testing.T) {
	tests := []struct {
		name     string
		reason   string
		expected domain.OrderStatus
	}{
		{name: "несовпадение суммы отменяет заказ", reason: events.PaymentCancelMismatch, expected: domain.OrderStatusCanceled},
		{name: "таймаут оплаты отменяет заказ", reason: events.PaymentCancelTimeout, expected: domain.OrderStatusCanceled},
		{name: "отказ шлюза переводит в FAILED", reason: events.PaymentCancelFailure, expected: domain.OrderStatusFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			o := f.place(t, domain.OrderStatusCreated)

			err := f.svc.OnPaymentCancelled(context.Background(), nil, &events.PaymentCancelled{
				Meta: events.NewMeta(fixedNow), PaymentID: "pay-1", OrderID: o.ID, Reason: tt.reason,
			})
			require.NoError(t, err)

			assert.Equal(t, tt.expected, f.status(t, o.ID))
			assert.Empty(t, f.outbox.ByType(events.TypeOrderCancelled))
			assert.Len(t, f.outbox.ByType(events.TypeInventoryIncrease), 2)
		})
	}
}

func TestOnPaymentCancelled_PaidOrderUntouched(t *testing.T) {
	f := newFixture()
	o := f.place(t, domain.OrderStatusPaid)

	err := f.svc.OnPaymentCancelled(context.Background(), nil, &events.PaymentCancelled{
		Meta: events.NewMeta(fixedNow), PaymentID: "pay-1", OrderID: o.ID, Reason: events.PaymentCancelTimeout,
	})

	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPaid, f.status(t, o.ID))
	assert.Empty(t, f.outbox.Records())
}

func TestOnInventoryShortage(t *testing.T) {
	tests := []struct {
		name     string
		status   domain.OrderStatus
		expected domain.OrderStatus
		refund   bool
	}{
		{name: "неоплаченный заказ переходит в FAILED", status: domain.OrderStatusCreated, expected: domain.OrderStatusFailed, refund: false},
		{name: "оплаченный заказ отменяется с возвратом", status: domain.OrderStatusPaid, expected: domain.OrderStatusCanceled, refund: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			o := f.place(t, tt.status)

			err := f.svc.OnInventoryShortage(context.Background(), nil, &events.InventoryShortage{
				Meta:          events.NewMeta(fixedNow),
				AdjustmentKey: saga.OrderDecreaseKey(o.ID, 10),
				SKU:           10,
				Requested:     2,
				Available:     1,
				ReferenceType: events.AggregateOrder,
				ReferenceID:   o.ID,
			})
			require.NoError(t, err)

			assert.Equal(t, tt.expected, f.status(t, o.ID))
			cancelled := f.outbox.ByType(events.TypeOrderCancelled)
			require.Len(t, cancelled, 1)
			evt := decode[*events.OrderCancelled](t, cancelled[0])
			assert.Equal(t, events.CancelByShortage, evt.Reason)
			assert.Equal(t, tt.refund, evt.RefundRequired)
			assert.Len(t, f.outbox.ByType(events.TypeInventoryIncrease), 2)
		})
	}
}

func TestOnInventoryShortage_NonOrderReferenceIgnored(t *testing.T) {
	f := newFixture()

	err := f.svc.OnInventoryShortage(context.Background(), nil, &events.InventoryShortage{
		Meta:          events.NewMeta(fixedNow),
		AdjustmentKey: saga.ExchangeDecreaseKey("ex-1"),
		SKU:           11,
		Requested:     1,
		ReferenceType: events.AggregateExchange,
		ReferenceID:   "ex-1",
	})

	require.NoError(t, err)
	assert.Empty(t, f.outbox.Records())
}

func TestOnShipmentEvents(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	o := f.place(t, domain.OrderStatusPaid)

	require.NoError(t, f.svc.OnShipmentStarted(ctx, nil, &events.ShipmentStarted{
		Meta: events.NewMeta(fixedNow), ShipmentID: "sh-1", OrderID: o.ID, TrackingNumber: "TRK-1",
	}))
	assert.Equal(t, domain.OrderStatusShipping, f.status(t, o.ID))

	require.NoError(t, f.svc.OnShipmentDelivered(ctx, nil, &events.ShipmentDelivered{
		Meta: events.NewMeta(fixedNow), ShipmentID: "sh-1", OrderID: o.ID,
	}))
	assert.Equal(t, domain.OrderStatusDelivered, f.status(t, o.ID))

	// повторная доставка устарела и пропускается
	require.NoError(t, f.svc.OnShipmentStarted(ctx, nil, &events.ShipmentStarted{
		Meta: events.NewMeta(fixedNow), ShipmentID: "sh-1", OrderID: o.ID, TrackingNumber: "TRK-1",
	}))
	assert.Equal(t, domain.OrderStatusDelivered, f.status(t, o.ID))
	assert.Empty(t, f.outbox.Records())
}

// =====================================
// Обмен и возврат
// =====================================

func TestExchangeFlow(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	o := f.place(t, domain.OrderStatusDelivered)

	ex, err := f.svc.RequestExchange(ctx, o.ID, 10, 11, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.ExchangeStatusRequested, ex.Status)

	ex, err = f.svc.ApproveExchange(ctx, ex.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ExchangeStatusApproved, ex.Status)
	require.Len(t, f.outbox.ByType(events.TypeExchangeApproved), 1)
	decreases := f.outbox.ByType(events.TypeInventoryDecrease)
	require.Len(t, decreases, 1)
	dec := decode[*events.InventoryDecrease](t, decreases[0])
	assert.Equal(t, saga.ExchangeDecreaseKey(ex.ID), dec.AdjustmentKey)
	assert.Equal(t, int64(11), dec.SKU)

	ex, err = f.svc.CompleteExchangeReturn(ctx, ex.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ExchangeStatusExchanged, ex.Status)
	require.Len(t, f.outbox.ByType(events.TypeExchangeReturnCompleted), 1)
	increases := f.outbox.ByType(events.TypeInventoryIncrease)
	require.Len(t, increases, 1)
	inc := decode[*events.InventoryIncrease](t, increases[0])
	assert.Equal(t, saga.ExchangeRestockKey(ex.ID), inc.AdjustmentKey)
	assert.Equal(t, int64(10), inc.SKU)
}

func TestExchange_SameOptionDoesNotTouchStock(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	o := f.place(t, domain.OrderStatusDelivered)

	ex, err := f.svc.RequestExchange(ctx, o.ID, 10, 10, 1)
	require.NoError(t, err)
	_, err = f.svc.ApproveExchange(ctx, ex.ID)
	require.NoError(t, err)
	_, err = f.svc.CompleteExchangeReturn(ctx, ex.ID)
	require.NoError(t, err)

	assert.Len(t, f.outbox.ByType(events.TypeExchangeApproved), 1)
	assert.Len(t, f.outbox.ByType(events.TypeExchangeReturnCompleted), 1)
	assert.Empty(t, f.outbox.ByType(events.TypeInventoryDecrease))
	assert.Empty(t, f.outbox.ByType(events.TypeInventoryIncrease))
}

func TestExchange_RejectedCannotBeApproved(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	o := f.place(t, domain.OrderStatusDelivered)

	ex, err := f.svc.RequestExchange(ctx, o.ID, 10, 11, 1)
	require.NoError(t, err)
	_, err = f.svc.RejectExchange(ctx, ex.ID, "нет в наличии")
	require.NoError(t, err)

	_, err = f.svc.ApproveExchange(ctx, ex.ID)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Empty(t, f.outbox.Records())
}

func TestRequestExchange_OrderNotDelivered(t *testing.T) {
	f := newFixture()
	o := f.place(t, domain.OrderStatusPaid)

	_, err := f.svc.RequestExchange(context.Background(), o.ID, 10, 11, 1)

	require.ErrorIs(t, err, domain.ErrOrderNotDelivered)
}

func TestReturnFlow(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	o := f.place(t, domain.OrderStatusDelivered)

	ret, err := f.svc.RequestReturn(ctx, o.ID, []domain.ReturnItem{{SKU: 10, Quantity: 1}, {SKU: 20, Quantity: 1}})
	require.NoError(t, err)
	assert.Equal(t, int64(1500), ret.RefundAmount.Amount)

	_, err = f.svc.ApproveReturn(ctx, ret.ID)
	require.NoError(t, err)
	ret, err = f.svc.CompleteReturn(ctx, ret.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReturnStatusReturned, ret.Status)

	completed := f.outbox.ByType(events.TypeReturnCompleted)
	require.Len(t, completed, 1)
	evt := decode[*events.ReturnCompleted](t, completed[0])
	assert.Equal(t, o.ID, evt.OrderID)
	assert.Equal(t, int64(1500), evt.RefundAmount)

	increases := f.outbox.ByType(events.TypeInventoryIncrease)
	require.Len(t, increases, 2)
	for _, rec := range increases {
		inc := decode[*events.InventoryIncrease](t, rec)
		assert.Equal(t, saga.ReturnRestockKey(ret.ID, inc.SKU), inc.AdjustmentKey)
	}
}

func TestCompleteReturn_RequiresApproval(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	o := f.place(t, domain.OrderStatusDelivered)

	ret, err := f.svc.RequestReturn(ctx, o.ID, []domain.ReturnItem{{SKU: 10, Quantity: 1}})
	require.NoError(t, err)

	_, err = f.svc.CompleteReturn(ctx, ret.ID)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Empty(t, f.outbox.Records())
}
