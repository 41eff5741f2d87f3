// Package domain содержит бизнес-сущности Payment Service.
package domain

import (
	"errors"
	"fmt"
)

// Доменные ошибки Payment Service.
var (
	// ErrPaymentNotFound — платёж не найден.
	ErrPaymentNotFound = errors.New("платёж не найден")

	// ErrInvalidTransition — недопустимый переход состояния.
	ErrInvalidTransition = errors.New("недопустимый переход состояния платежа")

	// ErrInvalidAmount — некорректная сумма платежа.
	ErrInvalidAmount = errors.New("сумма платежа должна быть больше нуля")

	// ErrInvalidOrderID — платёж без заказа.
	ErrInvalidOrderID = errors.New("order_id обязателен")

	// ErrInvalidCurrency — код валюты не ISO 4217.
	ErrInvalidCurrency = errors.New("код валюты должен состоять из трёх букв")

	// ErrDuplicatePayment — платёж по этому заказу уже существует.
	ErrDuplicatePayment = errors.New("платёж по заказу уже существует")

	// ErrAmountMismatch — оплаченная сумма не совпадает с суммой заказа.
	ErrAmountMismatch = errors.New("оплаченная сумма не совпадает с суммой платежа")

	// ErrRefundExceedsPayment — возврат больше невозвращённого остатка.
	ErrRefundExceedsPayment = errors.New("сумма возврата превышает остаток платежа")

	// ErrDuplicateRefund — возврат с таким ключом уже выполнен.
	ErrDuplicateRefund = errors.New("возврат с таким ключом уже выполнен")

	// ErrConcurrentUpdate — статус платежа изменён параллельно.
	ErrConcurrentUpdate = errors.New("платёж изменён параллельно")
)

func transitionError(from, to PaymentStatus) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
