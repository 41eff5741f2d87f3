// Package domain содержит бизнес-сущности Inventory Service: остаток SKU
// и журнал движений остатка.
package domain

import (
	"errors"
	"fmt"
)

// Доменные ошибки Inventory Service.
var (
	// ErrStockNotFound — SKU нет на складе.
	ErrStockNotFound = errors.New("остаток SKU не найден")

	// ErrMovementNotFound — движения с таким ключом нет в журнале.
	ErrMovementNotFound = errors.New("движение остатка не найдено")

	// ErrDuplicateMovement — движение с таким ключом уже записано.
	ErrDuplicateMovement = errors.New("движение с таким ключом уже записано")

	// ErrInsufficientStock — остатка не хватает для списания.
	ErrInsufficientStock = errors.New("недостаточно остатка")

	// ErrInvalidQuantity — количество должно быть положительным.
	ErrInvalidQuantity = errors.New("количество должно быть больше нуля")

	// ErrInvalidSKU — некорректный SKU.
	ErrInvalidSKU = errors.New("некорректный SKU")

	// ErrInvalidTransition — недопустимый переход статуса движения.
	ErrInvalidTransition = errors.New("недопустимый переход статуса движения")

	// ErrConcurrentUpdate — запись изменена параллельно.
	ErrConcurrentUpdate = errors.New("запись изменена параллельно")
)

func transitionError(from, to MovementStatus) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
