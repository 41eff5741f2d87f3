package domain

import (
	"errors"
	"fmt"
)

// Доменные ошибки Order Service.
var (
	// ErrOrderNotFound возвращается, когда заказ не найден в базе данных.
	ErrOrderNotFound = errors.New("заказ не найден")

	// ErrExchangeNotFound возвращается, когда обмен не найден.
	ErrExchangeNotFound = errors.New("обмен не найден")

	// ErrReturnNotFound возвращается, когда возврат не найден.
	ErrReturnNotFound = errors.New("возврат не найден")

	// ErrEmptyOrderItems возвращается при попытке создать заказ без позиций.
	ErrEmptyOrderItems = errors.New("заказ должен содержать хотя бы одну позицию")

	// ErrInvalidUserID возвращается при пустом идентификаторе пользователя.
	ErrInvalidUserID = errors.New("некорректный идентификатор пользователя")

	// ErrInvalidSKU возвращается при некорректном идентификаторе товарной опции.
	ErrInvalidSKU = errors.New("некорректный SKU")

	// ErrInvalidProductName возвращается при пустом названии товара.
	ErrInvalidProductName = errors.New("название товара не может быть пустым")

	// ErrInvalidQuantity возвращается, когда количество товара меньше или равно нулю.
	ErrInvalidQuantity = errors.New("количество должно быть больше нуля")

	// ErrInvalidPrice возвращается, когда цена товара меньше или равна нулю.
	ErrInvalidPrice = errors.New("цена должна быть больше нуля")

	// ErrMixedCurrency возвращается, когда позиции заказа в разных валютах.
	ErrMixedCurrency = errors.New("позиции заказа должны быть в одной валюте")

	// ErrItemNotInOrder возвращается, когда SKU обмена или возврата нет в заказе.
	ErrItemNotInOrder = errors.New("товара нет в заказе")

	// ErrQuantityExceedsOrder возвращается, когда количество больше заказанного.
	ErrQuantityExceedsOrder = errors.New("количество больше, чем в заказе")

	// ErrOrderNotDelivered возвращается при обмене или возврате недоставленного заказа.
	ErrOrderNotDelivered = errors.New("обмен и возврат доступны только для доставленного заказа")

	// ErrDuplicateOrder возвращается при попытке создать заказ с уже существующим idempotency_key.
	ErrDuplicateOrder = errors.New("заказ с таким idempotency_key уже существует")

	// ErrConcurrentUpdate возвращается, когда статус изменился между чтением и записью.
	ErrConcurrentUpdate = errors.New("сущность изменена параллельно")

	// ErrInvalidTransition возвращается при недопустимой смене статуса.
	ErrInvalidTransition = errors.New("недопустимый переход статуса")
)

// TransitionError — недопустимый переход конкретного статуса.
// errors.Is(err, ErrInvalidTransition) == true.
type TransitionError struct {
	From string
	To   string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s -> %s", ErrInvalidTransition.Error(), e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

func transitionError[S ~string](from, to S) error {
	return &TransitionError{From: string(from), To: string(to)}
}
