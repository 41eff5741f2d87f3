package domain

import (
	"time"

	"github.com/google/uuid"
)

// ExchangeStatus — статус обмена.
type ExchangeStatus string

const (
	ExchangeStatusRequested ExchangeStatus = "EXCHANGE_REQUESTED"
	ExchangeStatusApproved  ExchangeStatus = "EXCHANGE_APPROVED"
	ExchangeStatusRejected  ExchangeStatus = "EXCHANGE_REJECTED"
	ExchangeStatusExchanged ExchangeStatus = "EXCHANGED"
)

// Exchange — обмен товарной опции доставленного заказа на другую.
// После одобрения новый SKU списывается со склада, после возврата исходного товара
// исходный SKU возвращается на склад. Обмен на тот же SKU остаток не меняет.
type Exchange struct {
	ID               string
	OrderID          string
	OriginalOptionID int64
	NewOptionID      int64
	Quantity         int
	Status           ExchangeStatus
	Reason           *string // причина отклонения
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// NewExchange создаёт запрос обмена позиции заказа.
func NewExchange(order *Order, originalOptionID, newOptionID int64, quantity int, now time.Time) (*Exchange, error) {
	if order.Status != OrderStatusDelivered {
		return nil, ErrOrderNotDelivered
	}
	if newOptionID <= 0 {
		return nil, ErrInvalidSKU
	}
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}

	ordered := order.QuantityOf(originalOptionID)
	if ordered == 0 {
		return nil, ErrItemNotInOrder
	}
	if quantity > ordered {
		return nil, ErrQuantityExceedsOrder
	}

	return &Exchange{
		ID:               uuid.NewString(),
		OrderID:          order.ID,
		OriginalOptionID: originalOptionID,
		NewOptionID:      newOptionID,
		Quantity:         quantity,
		Status:           ExchangeStatusRequested,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

// SameOption — обмен на тот же SKU.
func (e *Exchange) SameOption() bool {
	return e.OriginalOptionID == e.NewOptionID
}

// Approve переводит EXCHANGE_REQUESTED → EXCHANGE_APPROVED.
func (e *Exchange) Approve(now time.Time) error {
	if e.Status != ExchangeStatusRequested {
		return transitionError(e.Status, ExchangeStatusApproved)
	}
	e.Status = ExchangeStatusApproved
	e.UpdatedAt = now
	return nil
}

// Reject переводит EXCHANGE_REQUESTED → EXCHANGE_REJECTED.
func (e *Exchange) Reject(reason string, now time.Time) error {
	if e.Status != ExchangeStatusRequested {
		return transitionError(e.Status, ExchangeStatusRejected)
	}
	e.Status = ExchangeStatusRejected
	e.Reason = &reason
	e.UpdatedAt = now
	return nil
}

// CompleteReturn переводит EXCHANGE_APPROVED → EXCHANGED: исходный товар вернулся на склад.
func (e *Exchange) CompleteReturn(now time.Time) error {
	if e.Status != ExchangeStatusApproved {
		return transitionError(e.Status, ExchangeStatusExchanged)
	}
	e.Status = ExchangeStatusExchanged
	e.UpdatedAt = now
	return nil
}
