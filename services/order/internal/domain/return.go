package domain

import (
	"time"

	"github.com/google/uuid"
)

// ReturnStatus — статус возврата.
type ReturnStatus string

const (
	ReturnStatusRequested ReturnStatus = "RETURN_REQUESTED"
	ReturnStatusApproved  ReturnStatus = "RETURN_APPROVED"
	ReturnStatusRejected  ReturnStatus = "RETURN_REJECTED"
	ReturnStatusReturned  ReturnStatus = "RETURNED"
)

// ReturnItem — возвращаемое количество SKU.
type ReturnItem struct {
	SKU      int64
	Quantity int
}

// Return — возврат товаров доставленного заказа с возвратом средств.
type Return struct {
	ID           string
	OrderID      string
	Items        []ReturnItem
	RefundAmount Money // по ценам заказа
	Status       ReturnStatus
	Reason       *string // причина отклонения
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewReturn создаёт запрос возврата. Сумма возврата считается по ценам заказа.
func NewReturn(order *Order, items []ReturnItem, now time.Time) (*Return, error) {
	if order.Status != OrderStatusDelivered {
		return nil, ErrOrderNotDelivered
	}
	if len(items) == 0 {
		return nil, ErrEmptyOrderItems
	}

	requested := make(map[int64]int, len(items))
	refund := Money{Currency: order.TotalAmount.Currency}
	for _, it := range items {
		if it.Quantity <= 0 {
			return nil, ErrInvalidQuantity
		}
		line, ok := order.Item(it.SKU)
		if !ok {
			return nil, ErrItemNotInOrder
		}
		requested[it.SKU] += it.Quantity
		if requested[it.SKU] > order.QuantityOf(it.SKU) {
			return nil, ErrQuantityExceedsOrder
		}
		refund.Amount += line.UnitPrice.Multiply(it.Quantity).Amount
	}

	return &Return{
		ID:           uuid.NewString(),
		OrderID:      order.ID,
		Items:        append([]ReturnItem(nil), items...),
		RefundAmount: refund,
		Status:       ReturnStatusRequested,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// Approve переводит RETURN_REQUESTED → RETURN_APPROVED.
func (r *Return) Approve(now time.Time) error {
	if r.Status != ReturnStatusRequested {
		return transitionError(r.Status, ReturnStatusApproved)
	}
	r.Status = ReturnStatusApproved
	r.UpdatedAt = now
	return nil
}

// Reject переводит RETURN_REQUESTED → RETURN_REJECTED.
func (r *Return) Reject(reason string, now time.Time) error {
	if r.Status != ReturnStatusRequested {
		return transitionError(r.Status, ReturnStatusRejected)
	}
	r.Status = ReturnStatusRejected
	r.Reason = &reason
	r.UpdatedAt = now
	return nil
}

// Complete переводит RETURN_APPROVED → RETURNED: товар принят на склад.
func (r *Return) Complete(now time.Time) error {
	if r.Status != ReturnStatusApproved {
		return transitionError(r.Status, ReturnStatusReturned)
	}
	r.Status = ReturnStatusReturned
	r.UpdatedAt = now
	return nil
}
