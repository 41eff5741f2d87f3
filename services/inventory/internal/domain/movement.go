package domain

import "time"

// MovementType — направление движения остатка.
type MovementType string

const (
	MovementDecrease MovementType = "DECREASE"
	MovementIncrease MovementType = "INCREASE"
)

// MovementStatus — статус записи журнала.
type MovementStatus string

const (
	// MovementApplied — остаток изменён.
	MovementApplied MovementStatus = "APPLIED"

	// MovementRejected — списание отклонено из-за нехватки, остаток не менялся.
	MovementRejected MovementStatus = "REJECTED"

	// MovementCompensated — списание отменено. Если списания ещё не было,
	// запись остаётся надгробием и последующее списание с этим ключом ничего не делает.
	MovementCompensated MovementStatus = "COMPENSATED"
)

// allowedTransitions определяет валидные переходы статусов движения.
var allowedTransitions = map[MovementStatus][]MovementStatus{
	MovementApplied:  {MovementCompensated},
	MovementRejected: {MovementCompensated},
}

// StockMovement — запись журнала под ключом корректировки.
type StockMovement struct {
	Key           string // Ключ корректировки, уникален
	SKU           int64
	Quantity      int
	Type          MovementType
	Status        MovementStatus
	Reason        string
	ReferenceType string
	ReferenceID   string
	CompensatedBy *string // Ключ пополнения, отменившего списание
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// CanTransitionTo проверяет, допустим ли переход.
func (m *StockMovement) CanTransitionTo(next MovementStatus) bool {
	for _, s := range allowedTransitions[m.Status] {
		if s == next {
			return true
		}
	}
	return false
}

// Compensate помечает списание отменённым пополнением byKey.
// Возвращает, сколько остатка нужно вернуть на склад: для REJECTED списания ноль.
func (m *StockMovement) Compensate(byKey string, now time.Time) (int, error) {
	if m.Type != MovementDecrease || !m.CanTransitionTo(MovementCompensated) {
		return 0, transitionError(m.Status, MovementCompensated)
	}

	restore := 0
	if m.Status == MovementApplied {
		restore = m.Quantity
	}
	m.Status = MovementCompensated
	m.CompensatedBy = &byKey
	m.UpdatedAt = now
	return restore, nil
}

// IsTombstone — отмена пришла раньше списания.
func (m *StockMovement) IsTombstone() bool {
	return m.Type == MovementDecrease && m.Status == MovementCompensated && m.CompensatedBy != nil && m.Quantity == 0
}

// Adjustment — входные данные корректировки остатка.
type Adjustment struct {
	Key           string
	SKU           int64
	Quantity      int
	Reason        string
	ReferenceType string
	ReferenceID   string
}

// NewMovement создаёт APPLIED запись журнала для корректировки.
func NewMovement(typ MovementType, a Adjustment, now time.Time) *StockMovement {
	return &StockMovement{
		Key:           a.Key,
		SKU:           a.SKU,
		Quantity:      a.Quantity,
		Type:          typ,
		Status:        MovementApplied,
		Reason:        a.Reason,
		ReferenceType: a.ReferenceType,
		ReferenceID:   a.ReferenceID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// NewTombstone создаёт надгробие списания decreaseKey, отменённого пополнением a
// до того, как само списание дошло до склада.
func NewTombstone(decreaseKey string, a Adjustment, now time.Time) *StockMovement {
	m := NewMovement(MovementDecrease, Adjustment{
		Key:           decreaseKey,
		SKU:           a.SKU,
		Reason:        a.Reason,
		ReferenceType: a.ReferenceType,
		ReferenceID:   a.ReferenceID,
	}, now)
	m.Status = MovementCompensated
	m.CompensatedBy = &a.Key
	return m
}
