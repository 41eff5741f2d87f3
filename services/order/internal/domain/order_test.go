// Package domain содержит unit тесты для доменных сущностей Order Service.
package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func item(sku int64, qty int, price int64) OrderItem {
	return OrderItem{SKU: sku, ProductName: "Товар", Quantity: qty, UnitPrice: Money{Amount: price, Currency: "RUB"}}
}

// orderIn возвращает валидный заказ в нужном статусе.
func orderIn(t *testing.T, status OrderStatus) *Order {
	t.Helper()
	o, err := NewOrder("user-1", "idem-1", []OrderItem{item(10, 2, 1000), item(20, 1, 500)}, now)
	require.NoError(t, err)
	o.Status = status
	return o
}

// =====================================
// Тесты NewOrder и Validate
// =====================================

func TestNewOrder(t *testing.T) {
	o, err := NewOrder("user-1", "idem-1", []OrderItem{item(10, 2, 1000), item(20, 1, 500)}, now)
	require.NoError(t, err)

	assert.NotEmpty(t, o.ID)
	assert.Equal(t, OrderStatusCreated, o.Status)
	assert.Equal(t, Money{Currency: "RUB", Amount: 2500}, o.TotalAmount)
	assert.Equal(t, now, o.CreatedAt)
	assert.Equal(t, now, o.UpdatedAt)
	for _, it := range o.Items {
		assert.NotEmpty(t, it.ID)
		assert.Equal(t, o.ID, it.OrderID)
	}
}

func TestOrder_Validate(t *testing.T) {
	tests := []struct {
		name        string
		userID      string
		items       []OrderItem
		expectedErr error
	}{
		{name: "валидные данные", userID: "user-1", items: []OrderItem{item(10, 2, 1000)}},
		{name: "пустой UserID", userID: "", items: []OrderItem{item(10, 2, 1000)}, expectedErr: ErrInvalidUserID},
		{name: "UserID только пробелы", userID: "   ", items: []OrderItem{item(10, 2, 1000)}, expectedErr: ErrInvalidUserID},
		{name: "пустой список позиций", userID: "user-1", items: []OrderItem{}, expectedErr: ErrEmptyOrderItems},
		{name: "nil список позиций", userID: "user-1", expectedErr: ErrEmptyOrderItems},
		{name: "некорректный SKU", userID: "user-1", items: []OrderItem{item(0, 1, 100)}, expectedErr: ErrInvalidSKU},
		{name: "нулевое количество", userID: "user-1", items: []OrderItem{item(1, 0, 100)}, expectedErr: ErrInvalidQuantity},
		{name: "нулевая цена", userID: "user-1", items: []OrderItem{item(1, 1, 0)}, expectedErr: ErrInvalidPrice},
		{
			name:   "пустое название",
			userID: "user-1",
			items: []OrderItem{
				{SKU: 1, Quantity: 1, UnitPrice: Money{Amount: 100, Currency: "RUB"}},
			},
			expectedErr: ErrInvalidProductName,
		},
		{
			name:   "разные валюты",
			userID: "user-1",
			items: []OrderItem{
				item(1, 1, 100),
				{SKU: 2, ProductName: "Товар", Quantity: 1, UnitPrice: Money{Amount: 100, Currency: "USD"}},
			},
			expectedErr: ErrMixedCurrency,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewOrder(tt.userID, "idem", tt.items, now)
			if tt.expectedErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.expectedErr)
			}
		})
	}
}

func TestOrder_QuantityOf(t *testing.T) {
	o, err := NewOrder("user-1", "idem", []OrderItem{item(10, 2, 100), item(10, 3, 100), item(20, 1, 100)}, now)
	require.NoError(t, err)

	assert.Equal(t, 5, o.QuantityOf(10))
	assert.Equal(t, 1, o.QuantityOf(20))
	assert.Equal(t, 0, o.QuantityOf(30))
}

func TestMoney_Multiply(t *testing.T) {
	assert.Equal(t, Money{Currency: "RUB", Amount: 3000}, Money{Currency: "RUB", Amount: 1000}.Multiply(3))
	assert.Equal(t, Money{Currency: "RUB", Amount: 0}, Money{Currency: "RUB", Amount: 1000}.Multiply(0))
}

// =====================================
// Тесты переходов статуса
// =====================================

func TestOrder_Transitions(t *testing.T) {
	later := now.Add(time.Minute)

	tests := []struct {
		name  string
		from  OrderStatus
		apply func(o *Order) error
		want  OrderStatus
		ok    bool
	}{
		{"оплата созданного", OrderStatusCreated, func(o *Order) error { return o.MarkPaid("pay-1", later) }, OrderStatusPaid, true},
		{"повторная оплата", OrderStatusPaid, func(o *Order) error { return o.MarkPaid("pay-1", later) }, OrderStatusPaid, false},
		{"отгрузка оплаченного", OrderStatusPaid, func(o *Order) error { return o.StartShipping(later) }, OrderStatusShipping, true},
		{"отгрузка неоплаченного", OrderStatusCreated, func(o *Order) error { return o.StartShipping(later) }, OrderStatusCreated, false},
		{"доставка", OrderStatusShipping, func(o *Order) error { return o.Deliver(later) }, OrderStatusDelivered, true},
		{"доставка без отгрузки", OrderStatusPaid, func(o *Order) error { return o.Deliver(later) }, OrderStatusPaid, false},
		{"сбой созданного", OrderStatusCreated, func(o *Order) error { return o.Fail("FAILURE", later) }, OrderStatusFailed, true},
		{"сбой оплаченного", OrderStatusPaid, func(o *Order) error { return o.Fail("FAILURE", later) }, OrderStatusPaid, false},
		{"отмена отменённого", OrderStatusCanceled, func(o *Order) error { _, err := o.Cancel("USER", later); return err }, OrderStatusCanceled, false},
		{"отмена в доставке", OrderStatusShipping, func(o *Order) error { _, err := o.Cancel("USER", later); return err }, OrderStatusShipping, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := orderIn(t, tt.from)

			err := tt.apply(o)

			assert.Equal(t, tt.want, o.Status)
			if tt.ok {
				require.NoError(t, err)
				assert.Equal(t, later, o.UpdatedAt)
			} else {
				assert.ErrorIs(t, err, ErrInvalidTransition)
				assert.Equal(t, now, o.UpdatedAt, "неудачный переход не меняет UpdatedAt")
			}
		})
	}
}

func TestOrder_Cancel(t *testing.T) {
	t.Run("неоплаченный заказ без возврата средств", func(t *testing.T) {
		o := orderIn(t, OrderStatusCreated)

		refund, err := o.Cancel("USER", now)

		require.NoError(t, err)
		assert.False(t, refund)
		assert.Equal(t, OrderStatusCanceled, o.Status)
		require.NotNil(t, o.Reason)
		assert.Equal(t, "USER", *o.Reason)
	})

	t.Run("оплаченный заказ требует возврата средств", func(t *testing.T) {
		o := orderIn(t, OrderStatusPaid)

		refund, err := o.Cancel("ADMIN", now)

		require.NoError(t, err)
		assert.True(t, refund)
	})
}

func TestTransitionError(t *testing.T) {
	o := orderIn(t, OrderStatusDelivered)

	err := o.StartShipping(now)

	var te *TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "DELIVERED", te.From)
	assert.Equal(t, "SHIPPING", te.To)
}

// =====================================
// Обмен и возврат
// =====================================

func TestNewExchange(t *testing.T) {
	tests := []struct {
		name    string
		status  OrderStatus
		orig    int64
		newSKU  int64
		qty     int
		wantErr error
	}{
		{name: "обмен на другой SKU", status: OrderStatusDelivered, orig: 10, newSKU: 11, qty: 2},
		{name: "обмен на тот же SKU", status: OrderStatusDelivered, orig: 10, newSKU: 10, qty: 1},
		{name: "заказ не доставлен", status: OrderStatusPaid, orig: 10, newSKU: 11, qty: 1, wantErr: ErrOrderNotDelivered},
		{name: "SKU нет в заказе", status: OrderStatusDelivered, orig: 99, newSKU: 11, qty: 1, wantErr: ErrItemNotInOrder},
		{name: "больше заказанного", status: OrderStatusDelivered, orig: 10, newSKU: 11, qty: 3, wantErr: ErrQuantityExceedsOrder},
		{name: "нулевое количество", status: OrderStatusDelivered, orig: 10, newSKU: 11, qty: 0, wantErr: ErrInvalidQuantity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex, err := NewExchange(orderIn(t, tt.status), tt.orig, tt.newSKU, tt.qty, now)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, ExchangeStatusRequested, ex.Status)
			assert.Equal(t, tt.orig == tt.newSKU, ex.SameOption())
		})
	}
}

func TestExchange_Transitions(t *testing.T) {
	ex, err := NewExchange(orderIn(t, OrderStatusDelivered), 10, 11, 1, now)
	require.NoError(t, err)

	assert.ErrorIs(t, ex.CompleteReturn(now), ErrInvalidTransition, "нельзя завершить неодобренный обмен")
	require.NoError(t, ex.Approve(now))
	assert.ErrorIs(t, ex.Reject("поздно", now), ErrInvalidTransition)
	require.NoError(t, ex.CompleteReturn(now))
	assert.Equal(t, ExchangeStatusExchanged, ex.Status)
}

func TestNewReturn(t *testing.T) {
	o := orderIn(t, OrderStatusDelivered)

	ret, err := NewReturn(o, []ReturnItem{{SKU: 10, Quantity: 1}, {SKU: 20, Quantity: 1}}, now)
	require.NoError(t, err)
	assert.Equal(t, Money{Currency: "RUB", Amount: 1500}, ret.RefundAmount)
	assert.Equal(t, ReturnStatusRequested, ret.Status)

	_, err = NewReturn(o, []ReturnItem{{SKU: 10, Quantity: 2}, {SKU: 10, Quantity: 1}}, now)
	assert.ErrorIs(t, err, ErrQuantityExceedsOrder, "повторяющийся SKU суммируется")

	_, err = NewReturn(o, []ReturnItem{{SKU: 30, Quantity: 1}}, now)
	assert.ErrorIs(t, err, ErrItemNotInOrder)

	_, err = NewReturn(orderIn(t, OrderStatusShipping), []ReturnItem{{SKU: 10, Quantity: 1}}, now)
	assert.ErrorIs(t, err, ErrOrderNotDelivered)
}

func TestReturn_Transitions(t *testing.T) {
	ret, err := NewReturn(orderIn(t, OrderStatusDelivered), []ReturnItem{{SKU: 10, Quantity: 1}}, now)
	require.NoError(t, err)

	assert.ErrorIs(t, ret.Complete(now), ErrInvalidTransition)
	require.NoError(t, ret.Reject("брак не подтверждён", now))
	assert.ErrorIs(t, ret.Approve(now), ErrInvalidTransition)
	assert.Equal(t, ReturnStatusRejected, ret.Status)
}
