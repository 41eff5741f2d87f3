// Package service содержит бизнес-логику Shipping Service.
//
// Отгрузка создаётся по order.paid, а склад двигает её командами StartShipping
// и CompleteDelivery. Отмена заказа закрывает ещё не отправленную отгрузку.
package service

import (
	"context"
	"time"

	"gorm.io/gorm"

	"example.com/fulfillment/pkg/db"
	"example.com/fulfillment/pkg/events"
	"example.com/fulfillment/pkg/logger"
	"example.com/fulfillment/pkg/outbox"
	"example.com/fulfillment/services/shipping/internal/domain"
	"example.com/fulfillment/services/shipping/internal/repository"
)

// Service — команды склада и реакции на события заказа.
type Service struct {
	tx        db.Transactor
	shipments repository.ShipmentRepository
	outbox    outbox.Repository
	now       func() time.Time
}

// NewService создаёт сервис доставки.
func NewService(tx db.Transactor, shipments repository.ShipmentRepository, outboxRepo outbox.Repository) *Service {
	return &Service{
		tx:        tx,
		shipments: shipments,
		outbox:    outboxRepo,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// GetShipment возвращает отгрузку по ID.
func (s *Service) GetShipment(ctx context.Context, shipmentID string) (*domain.Shipment, error) {
	return s.shipments.GetByID(ctx, shipmentID)
}

// GetShipmentByOrder возвращает отгрузку заказа.
func (s *Service) GetShipmentByOrder(ctx context.Context, orderID string) (*domain.Shipment, error) {
	return s.shipments.GetByOrderID(ctx, orderID)
}

// StartShipping передаёт отгрузку в доставку и публикует shipment.started.
func (s *Service) StartShipping(ctx context.Context, shipmentID, trackingNumber string) (*domain.Shipment, error) {
	sh, err := s.mutate(ctx, shipmentID, func(sh *domain.Shipment, now time.Time) (events.Event, error) {
		if err := sh.Start(trackingNumber, now); err != nil {
			return nil, err
		}
		return &events.ShipmentStarted{
			Meta:           events.NewMeta(now),
			ShipmentID:     sh.ID,
			OrderID:        sh.OrderID,
			TrackingNumber: *sh.TrackingNumber,
		}, nil
	})
	if err != nil {
		return nil, err
	}

	logger.Ctx(ctx).Info().
		Str("shipment_id", sh.ID).
		Str("order_id", sh.OrderID).
		Str("tracking_number", *sh.TrackingNumber).
		Msg("Отгрузка передана в доставку")
	return sh, nil
}

// CompleteDelivery фиксирует вручение и публикует shipment.delivered.
func (s *Service) CompleteDelivery(ctx context.Context, shipmentID string) (*domain.Shipment, error) {
	sh, err := s.mutate(ctx, shipmentID, func(sh *domain.Shipment, now time.Time) (events.Event, error) {
		if err := sh.Deliver(now); err != nil {
			return nil, err
		}
		return &events.ShipmentDelivered{
			Meta:       events.NewMeta(now),
			ShipmentID: sh.ID,
			OrderID:    sh.OrderID,
		}, nil
	})
	if err != nil {
		return nil, err
	}

	logger.Ctx(ctx).Info().
		Str("shipment_id", sh.ID).
		Str("order_id", sh.OrderID).
		Msg("Отгрузка вручена")
	return sh, nil
}

// mutate блокирует отгрузку, применяет переход и пишет событие в outbox одной транзакцией.
func (s *Service) mutate(
	ctx context.Context,
	shipmentID string,
	apply func(sh *domain.Shipment, now time.Time) (events.Event, error),
) (*domain.Shipment, error) {
	var result *domain.Shipment
	err := s.tx.Transaction(ctx, func(tx *gorm.DB) error {
		shipments := s.shipments.WithTx(tx)

		sh, err := shipments.GetForUpdate(ctx, shipmentID)
		if err != nil {
			return err
		}

		from := sh.Status
		evt, err := apply(sh, s.now())
		if err != nil {
			return err
		}
		if err := shipments.Update(ctx, sh, from); err != nil {
			return err
		}

		rec, err := outbox.NewRecord(ctx, evt)
		if err != nil {
			return err
		}
		if err := s.outbox.WithTx(tx).Append(ctx, rec); err != nil {
			return err
		}
		result = sh
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
