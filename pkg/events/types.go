package events

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Теги типов событий. Каждый тип публикуется в одноимённый топик.
const (
	TypeOrderCreated            = "order.created"
	TypeOrderCancelled          = "order.cancelled"
	TypeOrderPaid               = "order.paid"
	TypePaymentConfirmed        = "payment.confirmed"
	TypePaymentCancelled        = "payment.cancelled"
	TypePaymentRefunded         = "payment.refunded"
	TypeInventoryDecrease       = "inventory.decrease"
	TypeInventoryIncrease       = "inventory.increase"
	TypeInventoryShortage       = "inventory.shortage"
	TypeShipmentStarted         = "shipment.started"
	TypeShipmentDelivered       = "shipment.delivered"
	TypeExchangeApproved        = "exchange.approved"
	TypeExchangeReturnCompleted = "exchange.return-completed"
	TypeReturnCompleted         = "return.completed"
)

// Типы агрегатов — первая часть ключа сообщения.
const (
	AggregateOrder    = "order"
	AggregatePayment  = "payment"
	AggregateSKU      = "sku"
	AggregateShipment = "shipment"
	AggregateExchange = "exchange"
	AggregateReturn   = "return"
)

// CurrentVersion — версия схем, которую пишут сервисы.
const CurrentVersion = 1

// Причины отмены заказа и платежа.
const (
	CancelByUser          = "USER"
	CancelByAdmin         = "ADMIN"
	CancelBySystemTimeout = "SYSTEM_TIMEOUT"
	CancelByPayment       = "PAYMENT_CANCELLED"
	CancelByShortage      = "INVENTORY_SHORTAGE"

	PaymentCancelMismatch = "MISMATCH"
	PaymentCancelTimeout  = "TIMEOUT"
	PaymentCancelFailure  = "FAILURE"
)

var errMissingField = errors.New("не заполнено обязательное поле")

// Meta — общие поля всех схем.
type Meta struct {
	SchemaVersion int       `json:"schemaVersion"`
	OccurredAt    time.Time `json:"occurredAt"`
}

// NewMeta заполняет Meta текущей версией схемы.
func NewMeta(at time.Time) Meta {
	return Meta{SchemaVersion: CurrentVersion, OccurredAt: at.UTC()}
}

// Version возвращает версию схемы payload.
func (m Meta) Version() int { return m.SchemaVersion }

// LineItem — позиция заказа в событиях.
type LineItem struct {
	SKU       int64 `json:"sku"`
	Quantity  int   `json:"qty"`
	UnitPrice int64 `json:"unitPrice,omitempty"`
}

func required(fields map[string]bool) error {
	for name, ok := range fields {
		if !ok {
			return fmt.Errorf("%w: %s", errMissingField, name)
		}
	}
	return nil
}

func validItems(items []LineItem) error {
	if len(items) == 0 {
		return fmt.Errorf("%w: items", errMissingField)
	}
	for _, it := range items {
		if it.SKU <= 0 || it.Quantity <= 0 {
			return fmt.Errorf("некорректная позиция sku=%d qty=%d", it.SKU, it.Quantity)
		}
	}
	return nil
}

// =============================================================================
// Order
// =============================================================================

// OrderCreated — заказ создан.
type OrderCreated struct {
	Meta
	OrderID     string     `json:"orderId"`
	UserID      string     `json:"userId"`
	Items       []LineItem `json:"items"`
	TotalAmount int64      `json:"totalAmount"`
	Currency    string     `json:"currency"`
}

func (e *OrderCreated) EventType() string     { return TypeOrderCreated }
func (e *OrderCreated) AggregateType() string { return AggregateOrder }
func (e *OrderCreated) AggregateID() string   { return e.OrderID }
func (e *OrderCreated) NaturalKey() string    { return e.OrderID }

// Validate проверяет обязательные поля.
func (e *OrderCreated) Validate() error {
	if err := required(map[string]bool{"orderId": e.OrderID != ""}); err != nil {
		return err
	}
	return validItems(e.Items)
}

// OrderCancelled — заказ отменён (пользователем, администратором, по таймауту оплаты,
// из-за отмены платежа или нехватки товара).
type OrderCancelled struct {
	Meta
	OrderID        string     `json:"orderId"`
	Reason         string     `json:"reason"`
	Items          []LineItem `json:"items"`
	RefundRequired bool       `json:"refundRequired"`
}

func (e *OrderCancelled) EventType() string     { return TypeOrderCancelled }
func (e *OrderCancelled) AggregateType() string { return AggregateOrder }
func (e *OrderCancelled) AggregateID() string   { return e.OrderID }
func (e *OrderCancelled) NaturalKey() string    { return e.OrderID }

// Validate проверяет обязательные поля.
func (e *OrderCancelled) Validate() error {
	return required(map[string]bool{"orderId": e.OrderID != "", "reason": e.Reason != ""})
}

// OrderPaid — заказ оплачен и готов к отгрузке.
type OrderPaid struct {
	Meta
	OrderID   string `json:"orderId"`
	PaymentID string `json:"paymentId"`
	Amount    int64  `json:"amount"`
}

func (e *OrderPaid) EventType() string     { return TypeOrderPaid }
func (e *OrderPaid) AggregateType() string { return AggregateOrder }
func (e *OrderPaid) AggregateID() string   { return e.OrderID }
func (e *OrderPaid) NaturalKey() string    { return e.OrderID }

// Validate проверяет обязательные поля.
func (e *OrderPaid) Validate() error {
	return required(map[string]bool{"orderId": e.OrderID != ""})
}

// =============================================================================
// Payment
// =============================================================================

// PaymentConfirmed — платёж подтверждён платёжным шлюзом.
type PaymentConfirmed struct {
	Meta
	PaymentID string `json:"paymentId"`
	OrderID   string `json:"orderId"`
	Amount    int64  `json:"amount"`
}

func (e *PaymentConfirmed) EventType() string     { return TypePaymentConfirmed }
func (e *PaymentConfirmed) AggregateType() string { return AggregatePayment }
func (e *PaymentConfirmed) AggregateID() string   { return e.PaymentID }
func (e *PaymentConfirmed) NaturalKey() string    { return e.PaymentID }

// Validate проверяет обязательные поля.
func (e *PaymentConfirmed) Validate() error {
	return required(map[string]bool{"paymentId": e.PaymentID != "", "orderId": e.OrderID != ""})
}

// PaymentCancelled — платёж отменён: расхождение суммы, таймаут или отказ шлюза.
type PaymentCancelled struct {
	Meta
	PaymentID string `json:"paymentId"`
	OrderID   string `json:"orderId"`
	Reason    string `json:"reason"`
}

func (e *PaymentCancelled) EventType() string     { return TypePaymentCancelled }
func (e *PaymentCancelled) AggregateType() string { return AggregatePayment }
func (e *PaymentCancelled) AggregateID() string   { return e.PaymentID }
func (e *PaymentCancelled) NaturalKey() string    { return e.PaymentID }

// Validate проверяет обязательные поля.
func (e *PaymentCancelled) Validate() error {
	return required(map[string]bool{
		"paymentId": e.PaymentID != "",
		"orderId":   e.OrderID != "",
		"reason":    e.Reason != "",
	})
}

// PaymentRefunded — выполнен возврат средств.
type PaymentRefunded struct {
	Meta
	PaymentID string `json:"paymentId"`
	OrderID   string `json:"orderId"`
	RefundKey string `json:"refundKey"`
	Amount    int64  `json:"amount"`
}

func (e *PaymentRefunded) EventType() string     { return TypePaymentRefunded }
func (e *PaymentRefunded) AggregateType() string { return AggregatePayment }
func (e *PaymentRefunded) AggregateID() string   { return e.PaymentID }
func (e *PaymentRefunded) NaturalKey() string    { return e.PaymentID + ":" + e.RefundKey }

// Validate проверяет обязательные поля.
func (e *PaymentRefunded) Validate() error {
	return required(map[string]bool{"paymentId": e.PaymentID != "", "refundKey": e.RefundKey != ""})
}

// =============================================================================
// Inventory
// =============================================================================

// StockAdjustment — общие поля команд изменения остатка.
// Reference* — агрегат, от имени которого выполняется изменение (заказ, обмен, возврат).
type StockAdjustment struct {
	Meta
	AdjustmentKey string `json:"adjustmentKey"`
	SKU           int64  `json:"sku"`
	Quantity      int    `json:"qty"`
	Reason        string `json:"reason"`
	ReferenceType string `json:"referenceType"`
	ReferenceID   string `json:"referenceId"`
}

func (a *StockAdjustment) validate() error {
	if err := required(map[string]bool{
		"adjustmentKey": a.AdjustmentKey != "",
		"referenceType": a.ReferenceType != "",
		"referenceId":   a.ReferenceID != "",
	}); err != nil {
		return err
	}
	if a.SKU <= 0 || a.Quantity <= 0 {
		return fmt.Errorf("некорректная корректировка sku=%d qty=%d", a.SKU, a.Quantity)
	}
	return nil
}

// InventoryDecrease — списать остаток SKU.
type InventoryDecrease struct {
	StockAdjustment
}

func (e *InventoryDecrease) EventType() string     { return TypeInventoryDecrease }
func (e *InventoryDecrease) AggregateType() string { return e.ReferenceType }
func (e *InventoryDecrease) AggregateID() string   { return e.ReferenceID }
func (e *InventoryDecrease) NaturalKey() string    { return e.AdjustmentKey }

// Validate проверяет обязательные поля.
func (e *InventoryDecrease) Validate() error { return e.validate() }

// InventoryIncrease — вернуть остаток SKU.
// Compensates — ключ списания, которое отменяется; пусто для обычного пополнения
// (возврат товара покупателем, возврат исходного товара при обмене).
type InventoryIncrease struct {
	StockAdjustment
	Compensates string `json:"compensates,omitempty"`
}

func (e *InventoryIncrease) EventType() string     { return TypeInventoryIncrease }
func (e *InventoryIncrease) AggregateType() string { return e.ReferenceType }
func (e *InventoryIncrease) AggregateID() string   { return e.ReferenceID }
func (e *InventoryIncrease) NaturalKey() string    { return e.AdjustmentKey }

// Validate проверяет обязательные поля.
func (e *InventoryIncrease) Validate() error { return e.validate() }

// InventoryShortage — списание отклонено: остатка не хватает.
type InventoryShortage struct {
	Meta
	AdjustmentKey string `json:"adjustmentKey"`
	SKU           int64  `json:"sku"`
	Requested     int    `json:"requested"`
	Available     int    `json:"available"`
	ReferenceType string `json:"referenceType"`
	ReferenceID   string `json:"referenceId"`
}

func (e *InventoryShortage) EventType() string     { return TypeInventoryShortage }
func (e *InventoryShortage) AggregateType() string { return AggregateSKU }
func (e *InventoryShortage) AggregateID() string   { return strconv.FormatInt(e.SKU, 10) }
func (e *InventoryShortage) NaturalKey() string    { return e.AdjustmentKey }

// Validate проверяет обязательные поля.
func (e *InventoryShortage) Validate() error {
	return required(map[string]bool{"adjustmentKey": e.AdjustmentKey != "", "referenceId": e.ReferenceID != ""})
}

// =============================================================================
// Shipping
// =============================================================================

// ShipmentStarted — посылка передана в доставку.
type ShipmentStarted struct {
	Meta
	ShipmentID     string `json:"shipmentId"`
	OrderID        string `json:"orderId"`
	TrackingNumber string `json:"trackingNumber"`
}

func (e *ShipmentStarted) EventType() string     { return TypeShipmentStarted }
func (e *ShipmentStarted) AggregateType() string { return AggregateShipment }
func (e *ShipmentStarted) AggregateID() string   { return e.ShipmentID }
func (e *ShipmentStarted) NaturalKey() string    { return e.ShipmentID }

// Validate проверяет обязательные поля.
func (e *ShipmentStarted) Validate() error {
	return required(map[string]bool{"shipmentId": e.ShipmentID != "", "orderId": e.OrderID != ""})
}

// ShipmentDelivered — посылка вручена.
type ShipmentDelivered struct {
	Meta
	ShipmentID string `json:"shipmentId"`
	OrderID    string `json:"orderId"`
}

func (e *ShipmentDelivered) EventType() string     { return TypeShipmentDelivered }
func (e *ShipmentDelivered) AggregateType() string { return AggregateShipment }
func (e *ShipmentDelivered) AggregateID() string   { return e.ShipmentID }
func (e *ShipmentDelivered) NaturalKey() string    { return e.ShipmentID }

// Validate проверяет обязательные поля.
func (e *ShipmentDelivered) Validate() error {
	return required(map[string]bool{"shipmentId": e.ShipmentID != "", "orderId": e.OrderID != ""})
}

// =============================================================================
// Exchange / Return
// =============================================================================

// ExchangeTransition — общие поля событий обмена.
type ExchangeTransition struct {
	Meta
	ExchangeID       string `json:"exchangeId"`
	OrderID          string `json:"orderId"`
	OriginalOptionID int64  `json:"originalOptionId"`
	NewOptionID      int64  `json:"newOptionId"`
	Quantity         int    `json:"qty"`
}

// SameOption — обмен на тот же SKU, остаток не меняется.
func (e *ExchangeTransition) SameOption() bool {
	return e.OriginalOptionID == e.NewOptionID
}

func (e *ExchangeTransition) validate() error {
	if err := required(map[string]bool{"exchangeId": e.ExchangeID != "", "orderId": e.OrderID != ""}); err != nil {
		return err
	}
	if e.OriginalOptionID <= 0 || e.NewOptionID <= 0 || e.Quantity <= 0 {
		return fmt.Errorf("некорректный обмен %d -> %d x%d", e.OriginalOptionID, e.NewOptionID, e.Quantity)
	}
	return nil
}

// ExchangeApproved — обмен одобрен.
type ExchangeApproved struct {
	ExchangeTransition
}

func (e *ExchangeApproved) EventType() string     { return TypeExchangeApproved }
func (e *ExchangeApproved) AggregateType() string { return AggregateExchange }
func (e *ExchangeApproved) AggregateID() string   { return e.ExchangeID }
func (e *ExchangeApproved) NaturalKey() string    { return e.ExchangeID }

// Validate проверяет обязательные поля.
func (e *ExchangeApproved) Validate() error { return e.validate() }

// ExchangeReturnCompleted — исходный товар физически вернулся на склад.
type ExchangeReturnCompleted struct {
	ExchangeTransition
}

func (e *ExchangeReturnCompleted) EventType() string     { return TypeExchangeReturnCompleted }
func (e *ExchangeReturnCompleted) AggregateType() string { return AggregateExchange }
func (e *ExchangeReturnCompleted) AggregateID() string   { return e.ExchangeID }
func (e *ExchangeReturnCompleted) NaturalKey() string    { return e.ExchangeID }

// Validate проверяет обязательные поля.
func (e *ExchangeReturnCompleted) Validate() error { return e.validate() }

// ReturnCompleted — возврат принят, товар на складе, нужен возврат средств.
type ReturnCompleted struct {
	Meta
	ReturnID     string     `json:"returnId"`
	OrderID      string     `json:"orderId"`
	Items        []LineItem `json:"items"`
	RefundAmount int64      `json:"refundAmount"`
}

func (e *ReturnCompleted) EventType() string     { return TypeReturnCompleted }
func (e *ReturnCompleted) AggregateType() string { return AggregateReturn }
func (e *ReturnCompleted) AggregateID() string   { return e.ReturnID }
func (e *ReturnCompleted) NaturalKey() string    { return e.ReturnID }

// Validate проверяет обязательные поля.
func (e *ReturnCompleted) Validate() error {
	if err := required(map[string]bool{"returnId": e.ReturnID != "", "orderId": e.OrderID != ""}); err != nil {
		return err
	}
	return validItems(e.Items)
}

// Default возвращает реестр со всеми схемами платформы.
func Default() *Registry {
	r := NewRegistry()
	for _, reg := range []struct {
		eventType string
		decode    DecodeFunc
	}{
		{TypeOrderCreated, JSONDecoder[OrderCreated]()},
		{TypeOrderCancelled, JSONDecoder[OrderCancelled]()},
		{TypeOrderPaid, JSONDecoder[OrderPaid]()},
		{TypePaymentConfirmed, JSONDecoder[PaymentConfirmed]()},
		{TypePaymentCancelled, JSONDecoder[PaymentCancelled]()},
		{TypePaymentRefunded, JSONDecoder[PaymentRefunded]()},
		{TypeInventoryDecrease, JSONDecoder[InventoryDecrease]()},
		{TypeInventoryIncrease, JSONDecoder[InventoryIncrease]()},
		{TypeInventoryShortage, JSONDecoder[InventoryShortage]()},
		{TypeShipmentStarted, JSONDecoder[ShipmentStarted]()},
		{TypeShipmentDelivered, JSONDecoder[ShipmentDelivered]()},
		{TypeExchangeApproved, JSONDecoder[ExchangeApproved]()},
		{TypeExchangeReturnCompleted, JSONDecoder[ExchangeReturnCompleted]()},
		{TypeReturnCompleted, JSONDecoder[ReturnCompleted]()},
	} {
		// типы уникальны, ошибка невозможна
		_ = r.Register(reg.eventType, CurrentVersion, reg.decode)
	}
	return r
}

// AllTypes — все теги типов, они же имена топиков.
func AllTypes() []string {
	return Default().Types()
}
