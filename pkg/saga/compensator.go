// Package saga содержит правила компенсации остатков для саги заказа.
// Компенсатор только строит команды изменения остатка. Их запись в outbox вместе с изменением
// агрегата выполняет вызывающий сервис в своей транзакции.
package saga

import (
	"fmt"
	"sort"
	"time"

	"example.com/fulfillment/pkg/events"
)

// Причины изменения остатка.
const (
	ReasonOrderPlaced     = "ORDER_PLACED"
	ReasonOrderCancelled  = "ORDER_CANCELLED"
	ReasonExchangeIssued  = "EXCHANGE_ISSUED"
	ReasonExchangeRestock = "EXCHANGE_RESTOCK"
	ReasonReturnRestock   = "RETURN_RESTOCK"
)

// OrderDecreaseKey — ключ списания SKU под заказ.
func OrderDecreaseKey(orderID string, sku int64) string {
	return fmt.Sprintf("order:%s:%d", orderID, sku)
}

// OrderRestockKey — ключ компенсирующего пополнения при отмене заказа.
// Одинаков для всех путей отмены, поэтому применяется не больше одного раза.
func OrderRestockKey(orderID string, sku int64) string {
	return OrderDecreaseKey(orderID, sku) + ":restock"
}

// ExchangeDecreaseKey — ключ списания нового SKU при обмене.
func ExchangeDecreaseKey(exchangeID string) string {
	return fmt.Sprintf("exchange:%s:new", exchangeID)
}

// ExchangeRestockKey — ключ возврата исходного SKU на склад при обмене.
func ExchangeRestockKey(exchangeID string) string {
	return fmt.Sprintf("exchange-return:%s:orig", exchangeID)
}

// ReturnRestockKey — ключ возврата SKU на склад при возврате заказа.
func ReturnRestockKey(returnID string, sku int64) string {
	return fmt.Sprintf("return:%s:%d", returnID, sku)
}

// Compensator строит команды изменения остатка по событиям саги.
type Compensator struct {
	now func() time.Time
}

// NewCompensator создаёт Compensator.
func NewCompensator() *Compensator {
	return &Compensator{now: time.Now}
}

// OrderPlaced — списание по каждой позиции созданного заказа.
func (c *Compensator) OrderPlaced(evt *events.OrderCreated) []*events.InventoryDecrease {
	items := merge(evt.Items)
	out := make([]*events.InventoryDecrease, 0, len(items))
	for _, it := range items {
		out = append(out, &events.InventoryDecrease{StockAdjustment: c.adjustment(
			OrderDecreaseKey(evt.OrderID, it.SKU), it, ReasonOrderPlaced, events.AggregateOrder, evt.OrderID,
		)})
	}
	return out
}

// OrderCancelled — пополнение по каждой списанной позиции отменённого заказа.
// Используется и для отмены заказа, и для отмены платежа: ключи совпадают.
func (c *Compensator) OrderCancelled(orderID string, items []events.LineItem) []*events.InventoryIncrease {
	merged := merge(items)
	out := make([]*events.InventoryIncrease, 0, len(merged))
	for _, it := range merged {
		out = append(out, &events.InventoryIncrease{
			StockAdjustment: c.adjustment(
				OrderRestockKey(orderID, it.SKU), it, ReasonOrderCancelled, events.AggregateOrder, orderID,
			),
			Compensates: OrderDecreaseKey(orderID, it.SKU),
		})
	}
	return out
}

// ExchangeApproved — списание нового SKU. Обмен на тот же SKU остаток не меняет.
func (c *Compensator) ExchangeApproved(evt *events.ExchangeApproved) *events.InventoryDecrease {
	if evt.SameOption() {
		return nil
	}
	return &events.InventoryDecrease{StockAdjustment: c.adjustment(
		ExchangeDecreaseKey(evt.ExchangeID),
		events.LineItem{SKU: evt.NewOptionID, Quantity: evt.Quantity},
		ReasonExchangeIssued, events.AggregateExchange, evt.ExchangeID,
	)}
}

// ExchangeReturnCompleted — возврат исходного SKU на склад. Обмен на тот же SKU остаток не меняет.
func (c *Compensator) ExchangeReturnCompleted(evt *events.ExchangeReturnCompleted) *events.InventoryIncrease {
	if evt.SameOption() {
		return nil
	}
	return &events.InventoryIncrease{StockAdjustment: c.adjustment(
		ExchangeRestockKey(evt.ExchangeID),
		events.LineItem{SKU: evt.OriginalOptionID, Quantity: evt.Quantity},
		ReasonExchangeRestock, events.AggregateExchange, evt.ExchangeID,
	)}
}

// ReturnCompleted — возврат на склад всех позиций возврата.
func (c *Compensator) ReturnCompleted(evt *events.ReturnCompleted) []*events.InventoryIncrease {
	items := merge(evt.Items)
	out := make([]*events.InventoryIncrease, 0, len(items))
	for _, it := range items {
		out = append(out, &events.InventoryIncrease{StockAdjustment: c.adjustment(
			ReturnRestockKey(evt.ReturnID, it.SKU), it, ReasonReturnRestock, events.AggregateReturn, evt.ReturnID,
		)})
	}
	return out
}

func (c *Compensator) adjustment(key string, it events.LineItem, reason, refType, refID string) events.StockAdjustment {
	return events.StockAdjustment{
		Meta:          events.NewMeta(c.now()),
		AdjustmentKey: key,
		SKU:           it.SKU,
		Quantity:      it.Quantity,
		Reason:        reason,
		ReferenceType: refType,
		ReferenceID:   refID,
	}
}

// merge складывает количества одного SKU. Ключ корректировки уникален на пару (агрегат, SKU).
func merge(items []events.LineItem) []events.LineItem {
	qty := make(map[int64]int, len(items))
	for _, it := range items {
		if it.Quantity > 0 {
			qty[it.SKU] += it.Quantity
		}
	}

	out := make([]events.LineItem, 0, len(qty))
	for sku, q := range qty {
		out = append(out, events.LineItem{SKU: sku, Quantity: q})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SKU < out[j].SKU })
	return out
}
