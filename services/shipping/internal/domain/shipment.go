// Package domain содержит бизнес-сущности Shipping Service.
package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Доменные ошибки Shipping Service.
var (
	// ErrShipmentNotFound — отгрузка не найдена.
	ErrShipmentNotFound = errors.New("отгрузка не найдена")

	// ErrDuplicateShipment — отгрузка по заказу уже существует.
	ErrDuplicateShipment = errors.New("отгрузка по заказу уже существует")

	// ErrInvalidTransition — недопустимый переход статуса.
	ErrInvalidTransition = errors.New("недопустимый переход статуса отгрузки")

	// ErrTrackingRequired — для передачи в доставку нужен трек-номер.
	ErrTrackingRequired = errors.New("трек-номер обязателен")

	// ErrConcurrentUpdate — отгрузка изменена параллельно.
	ErrConcurrentUpdate = errors.New("отгрузка изменена параллельно")
)

// ShipmentStatus — статус отгрузки.
type ShipmentStatus string

const (
	ShipmentStatusReady     ShipmentStatus = "READY"
	ShipmentStatusShipping  ShipmentStatus = "SHIPPING"
	ShipmentStatusDelivered ShipmentStatus = "DELIVERED"
	ShipmentStatusCanceled  ShipmentStatus = "CANCELED"
)

// allowedTransitions определяет валидные переходы статусов отгрузки.
var allowedTransitions = map[ShipmentStatus][]ShipmentStatus{
	ShipmentStatusReady:    {ShipmentStatusShipping, ShipmentStatusCanceled},
	ShipmentStatusShipping: {ShipmentStatusDelivered},
}

// Shipment — отгрузка оплаченного заказа. Один заказ — одна отгрузка.
type Shipment struct {
	ID             string
	OrderID        string
	Status         ShipmentStatus
	TrackingNumber *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NewShipment создаёт отгрузку в статусе READY.
func NewShipment(orderID string, now time.Time) *Shipment {
	return &Shipment{
		ID:        uuid.New().String(),
		OrderID:   orderID,
		Status:    ShipmentStatusReady,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NewCanceledShipment — отмена заказа пришла раньше оплаты: отгрузка сразу
// закрыта, и позднее order.paid её не откроет.
func NewCanceledShipment(orderID string, now time.Time) *Shipment {
	s := NewShipment(orderID, now)
	s.Status = ShipmentStatusCanceled
	return s
}

// CanTransitionTo проверяет, допустим ли переход.
func (s *Shipment) CanTransitionTo(next ShipmentStatus) bool {
	for _, st := range allowedTransitions[s.Status] {
		if st == next {
			return true
		}
	}
	return false
}

func (s *Shipment) transition(next ShipmentStatus, now time.Time) error {
	if !s.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, next)
	}
	s.Status = next
	s.UpdatedAt = now
	return nil
}

// Start передаёт отгрузку в доставку.
func (s *Shipment) Start(trackingNumber string, now time.Time) error {
	trackingNumber = strings.TrimSpace(trackingNumber)
	if trackingNumber == "" {
		return ErrTrackingRequired
	}
	if err := s.transition(ShipmentStatusShipping, now); err != nil {
		return err
	}
	s.TrackingNumber = &trackingNumber
	return nil
}

// Deliver фиксирует вручение.
func (s *Shipment) Deliver(now time.Time) error {
	return s.transition(ShipmentStatusDelivered, now)
}

// Cancel отменяет ещё не отправленную отгрузку.
func (s *Shipment) Cancel(now time.Time) error {
	return s.transition(ShipmentStatusCanceled, now)
}
