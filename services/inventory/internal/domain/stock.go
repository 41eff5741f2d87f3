package domain

import "time"

// Stock — доступный остаток одного SKU.
type Stock struct {
	SKU       int64
	Available int
	UpdatedAt time.Time
}

// NewStock создаёт остаток SKU.
func NewStock(sku int64, available int, now time.Time) (*Stock, error) {
	if sku <= 0 {
		return nil, ErrInvalidSKU
	}
	if available < 0 {
		return nil, ErrInvalidQuantity
	}
	return &Stock{SKU: sku, Available: available, UpdatedAt: now}, nil
}

// Decrease списывает qty. Если остатка не хватает, ничего не меняет.
func (s *Stock) Decrease(qty int, now time.Time) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	if s.Available < qty {
		return ErrInsufficientStock
	}
	s.Available -= qty
	s.UpdatedAt = now
	return nil
}

// Increase возвращает qty на склад.
func (s *Stock) Increase(qty int, now time.Time) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	s.Available += qty
	s.UpdatedAt = now
	return nil
}
