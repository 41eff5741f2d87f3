package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// PaymentStatus — статус платежа в системе.
type PaymentStatus string

const (
	// PaymentStatusPending — платёж создан по заказу, ждёт подтверждения шлюза.
	PaymentStatusPending PaymentStatus = "PENDING"

	// PaymentStatusConfirmed — деньги списаны.
	PaymentStatusConfirmed PaymentStatus = "CONFIRMED"

	// PaymentStatusCanceled — платёж отменён до списания (несовпадение суммы, таймаут, отказ шлюза, отмена заказа).
	PaymentStatusCanceled PaymentStatus = "CANCELED"

	// PaymentStatusRefunded — списанная сумма возвращена полностью.
	PaymentStatusRefunded PaymentStatus = "REFUNDED"
)

// IsTerminal возвращает true, если платёж в финальном состоянии.
// CONFIRMED не терминальный — из него возможен переход в REFUNDED.
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusCanceled || s == PaymentStatusRefunded
}

// =============================================================================
// Допустимые переходы состояний (State Machine)
// =============================================================================

// allowedTransitions определяет валидные переходы состояний платежа.
var allowedTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending:   {PaymentStatusConfirmed, PaymentStatusCanceled},
	PaymentStatusConfirmed: {PaymentStatusRefunded},
	// PaymentStatusCanceled и PaymentStatusRefunded — терминальные состояния
}

// =============================================================================
// Payment — доменная сущность
// =============================================================================

// Payment — платёж по заказу. Один заказ — один платёж.
type Payment struct {
	ID             string        // UUID платежа
	OrderID        string        // ID связанного заказа
	UserID         string        // ID пользователя
	Amount         int64         // Сумма в минимальных единицах (копейки/центы)
	Currency       string        // ISO 4217 код валюты
	Status         PaymentStatus // Текущий статус
	CancelReason   *string       // MISMATCH, TIMEOUT, FAILURE или причина отмены заказа
	RefundedAmount int64         // Сколько уже возвращено
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NewPayment создаёт PENDING платёж по заказу.
func NewPayment(orderID, userID string, amount int64, currency string, now time.Time) (*Payment, error) {
	p := &Payment{
		ID:        uuid.New().String(),
		OrderID:   orderID,
		UserID:    userID,
		Amount:    amount,
		Currency:  currency,
		Status:    PaymentStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate проверяет корректность полей платежа.
func (p *Payment) Validate() error {
	if strings.TrimSpace(p.OrderID) == "" {
		return ErrInvalidOrderID
	}
	if p.Amount <= 0 {
		return ErrInvalidAmount
	}
	if len(p.Currency) != 3 {
		return ErrInvalidCurrency
	}
	return nil
}

// CanTransitionTo проверяет, допустим ли переход в указанное состояние.
func (p *Payment) CanTransitionTo(newStatus PaymentStatus) bool {
	allowed, ok := allowedTransitions[p.Status]
	if !ok {
		return false // Терминальное состояние
	}
	for _, status := range allowed {
		if status == newStatus {
			return true
		}
	}
	return false
}

// TransitionTo выполняет переход в новое состояние.
func (p *Payment) TransitionTo(newStatus PaymentStatus, now time.Time) error {
	if !p.CanTransitionTo(newStatus) {
		return transitionError(p.Status, newStatus)
	}
	p.Status = newStatus
	p.UpdatedAt = now
	return nil
}

// Confirm подтверждает списание. Сумма должна совпасть с суммой платежа,
// иначе статус не меняется и возвращается ErrAmountMismatch.
func (p *Payment) Confirm(paidAmount int64, now time.Time) error {
	if !p.CanTransitionTo(PaymentStatusConfirmed) {
		return transitionError(p.Status, PaymentStatusConfirmed)
	}
	if paidAmount != p.Amount {
		return ErrAmountMismatch
	}
	return p.TransitionTo(PaymentStatusConfirmed, now)
}

// Cancel отменяет платёж до списания.
func (p *Payment) Cancel(reason string, now time.Time) error {
	if err := p.TransitionTo(PaymentStatusCanceled, now); err != nil {
		return err
	}
	p.CancelReason = &reason
	return nil
}

// Refundable — сколько ещё можно вернуть.
func (p *Payment) Refundable() int64 {
	if p.Status != PaymentStatusConfirmed {
		return 0
	}
	return p.Amount - p.RefundedAmount
}

// Refund возвращает часть или весь остаток списанной суммы.
// Когда возвращено всё, платёж переходит в REFUNDED.
func (p *Payment) Refund(key string, amount int64, now time.Time) (*Refund, error) {
	if p.Status != PaymentStatusConfirmed {
		return nil, transitionError(p.Status, PaymentStatusRefunded)
	}
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if amount > p.Refundable() {
		return nil, ErrRefundExceedsPayment
	}

	p.RefundedAmount += amount
	p.UpdatedAt = now
	if p.RefundedAmount == p.Amount {
		p.Status = PaymentStatusRefunded
	}

	return &Refund{
		ID:        uuid.New().String(),
		PaymentID: p.ID,
		RefundKey: key,
		Amount:    amount,
		CreatedAt: now,
	}, nil
}

// Refund — одна операция возврата. RefundKey уникален в пределах платежа.
type Refund struct {
	ID        string
	PaymentID string
	RefundKey string
	Amount    int64
	CreatedAt time.Time
}
