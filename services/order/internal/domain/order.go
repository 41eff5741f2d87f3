// Package domain содержит бизнес-сущности и доменные ошибки Order Service.
package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// OrderStatus — статус заказа в системе.
type OrderStatus string

const (
	// OrderStatusCreated — заказ создан, ожидает оплаты и списания остатка.
	OrderStatusCreated OrderStatus = "CREATED"

	// OrderStatusPaid — оплата подтверждена, заказ ждёт отгрузки.
	OrderStatusPaid OrderStatus = "PAID"

	// OrderStatusShipping — посылка передана в доставку.
	OrderStatusShipping OrderStatus = "SHIPPING"

	// OrderStatusDelivered — посылка вручена.
	OrderStatusDelivered OrderStatus = "DELIVERED"

	// OrderStatusFailed — заказ не выполнен: отказ платёжного шлюза или нехватка товара.
	OrderStatusFailed OrderStatus = "FAILED"

	// OrderStatusCanceled — заказ отменён пользователем, администратором или системой.
	OrderStatusCanceled OrderStatus = "CANCELED"
)

// Money — денежная сумма с валютой.
// Хранит сумму в минимальных единицах (копейки, центы) для избежания проблем с плавающей точкой.
type Money struct {
	Currency string // ISO 4217 код валюты (USD, RUB, EUR)
	Amount   int64  // Сумма в минимальных единицах (копейки/центы)
}

// Multiply умножает сумму на количество.
func (m Money) Multiply(quantity int) Money {
	return Money{
		Currency: m.Currency,
		Amount:   m.Amount * int64(quantity),
	}
}

// Order — заказ в системе.
// Это доменная сущность без зависимостей от инфраструктуры (GORM, Kafka).
type Order struct {
	ID             string      // Уникальный идентификатор заказа (UUID)
	UserID         string      // ID пользователя, создавшего заказ
	Items          []OrderItem // Позиции заказа
	TotalAmount    Money       // Общая сумма заказа
	Status         OrderStatus // Текущий статус заказа
	PaymentID      *string     // ID платежа (nil пока оплата не подтверждена)
	Reason         *string     // Причина FAILED или CANCELED
	IdempotencyKey string      // Ключ идемпотентности для предотвращения дубликатов
	CreatedAt      time.Time   // Дата создания заказа
	UpdatedAt      time.Time   // Дата последнего обновления
}

// NewOrder создаёт заказ в статусе CREATED: присваивает идентификаторы, считает сумму
// и проверяет поля.
func NewOrder(userID, idempotencyKey string, items []OrderItem, now time.Time) (*Order, error) {
	o := &Order{
		ID:             uuid.NewString(),
		UserID:         userID,
		Items:          make([]OrderItem, len(items)),
		Status:         OrderStatusCreated,
		IdempotencyKey: idempotencyKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	copy(o.Items, items)
	for i := range o.Items {
		o.Items[i].ID = uuid.NewString()
		o.Items[i].OrderID = o.ID
	}

	if err := o.Validate(); err != nil {
		return nil, err
	}
	o.CalculateTotal()
	return o, nil
}

// Validate проверяет корректность полей заказа.
func (o *Order) Validate() error {
	if err := o.validateUserID(); err != nil {
		return err
	}

	if err := o.validateItems(); err != nil {
		return err
	}

	return nil
}

// validateUserID проверяет, что UserID не пустой.
func (o *Order) validateUserID() error {
	if strings.TrimSpace(o.UserID) == "" {
		return ErrInvalidUserID
	}
	return nil
}

// validateItems проверяет, что заказ содержит хотя бы одну позицию
// и все позиции в одной валюте.
func (o *Order) validateItems() error {
	if len(o.Items) == 0 {
		return ErrEmptyOrderItems
	}

	currency := o.Items[0].UnitPrice.Currency
	for i := range o.Items {
		if err := o.Items[i].Validate(); err != nil {
			return err
		}
		if o.Items[i].UnitPrice.Currency != currency {
			return ErrMixedCurrency
		}
	}

	return nil
}

// CalculateTotal пересчитывает общую сумму заказа из позиций.
// Валюта берётся из первой позиции.
func (o *Order) CalculateTotal() {
	if len(o.Items) == 0 {
		o.TotalAmount = Money{Amount: 0}
		return
	}

	currency := o.Items[0].UnitPrice.Currency
	var totalAmount int64

	for i := range o.Items {
		totalAmount += o.Items[i].Total().Amount
	}

	o.TotalAmount = Money{
		Currency: currency,
		Amount:   totalAmount,
	}
}

// Item возвращает позицию заказа по SKU.
func (o *Order) Item(sku int64) (OrderItem, bool) {
	for _, it := range o.Items {
		if it.SKU == sku {
			return it, true
		}
	}
	return OrderItem{}, false
}

// QuantityOf — суммарное количество SKU во всех позициях заказа.
func (o *Order) QuantityOf(sku int64) int {
	total := 0
	for _, it := range o.Items {
		if it.SKU == sku {
			total += it.Quantity
		}
	}
	return total
}

// IsTerminal — заказ больше не меняет статус.
func (o *Order) IsTerminal() bool {
	switch o.Status {
	case OrderStatusDelivered, OrderStatusFailed, OrderStatusCanceled:
		return true
	}
	return false
}

// MarkPaid переводит CREATED → PAID после подтверждения платежа.
func (o *Order) MarkPaid(paymentID string, now time.Time) error {
	if o.Status != OrderStatusCreated {
		return transitionError(o.Status, OrderStatusPaid)
	}
	o.Status = OrderStatusPaid
	o.PaymentID = &paymentID
	o.UpdatedAt = now
	return nil
}

// StartShipping переводит PAID → SHIPPING.
func (o *Order) StartShipping(now time.Time) error {
	if o.Status != OrderStatusPaid {
		return transitionError(o.Status, OrderStatusShipping)
	}
	o.Status = OrderStatusShipping
	o.UpdatedAt = now
	return nil
}

// Deliver переводит SHIPPING → DELIVERED.
func (o *Order) Deliver(now time.Time) error {
	if o.Status != OrderStatusShipping {
		return transitionError(o.Status, OrderStatusDelivered)
	}
	o.Status = OrderStatusDelivered
	o.UpdatedAt = now
	return nil
}

// CanCancel — отменить можно неоплаченный или оплаченный, но не отгруженный заказ.
func (o *Order) CanCancel() bool {
	return o.Status == OrderStatusCreated || o.Status == OrderStatusPaid
}

// Cancel переводит CREATED/PAID → CANCELED.
// Возвращает true, если заказ был оплачен и нужен возврат средств.
func (o *Order) Cancel(reason string, now time.Time) (refundRequired bool, err error) {
	if !o.CanCancel() {
		return false, transitionError(o.Status, OrderStatusCanceled)
	}
	refundRequired = o.Status == OrderStatusPaid
	o.Status = OrderStatusCanceled
	o.Reason = &reason
	o.UpdatedAt = now
	return refundRequired, nil
}

// Fail переводит CREATED → FAILED с указанием причины.
func (o *Order) Fail(reason string, now time.Time) error {
	if o.Status != OrderStatusCreated {
		return transitionError(o.Status, OrderStatusFailed)
	}
	o.Status = OrderStatusFailed
	o.Reason = &reason
	o.UpdatedAt = now
	return nil
}

// OrderItem — позиция заказа.
type OrderItem struct {
	ID          string // Уникальный идентификатор позиции (UUID)
	OrderID     string // ID заказа, к которому относится позиция
	SKU         int64  // Идентификатор товарной опции на складе
	ProductName string // Название товара (денормализовано для истории)
	Quantity    int    // Количество единиц товара
	UnitPrice   Money  // Цена за единицу товара
}

// Total возвращает стоимость позиции.
func (oi *OrderItem) Total() Money {
	return oi.UnitPrice.Multiply(oi.Quantity)
}

// Validate проверяет корректность полей позиции заказа.
func (oi *OrderItem) Validate() error {
	if oi.SKU <= 0 {
		return ErrInvalidSKU
	}

	if strings.TrimSpace(oi.ProductName) == "" {
		return ErrInvalidProductName
	}

	if oi.Quantity <= 0 {
		return ErrInvalidQuantity
	}

	if oi.UnitPrice.Amount <= 0 {
		return ErrInvalidPrice
	}

	return nil
}
