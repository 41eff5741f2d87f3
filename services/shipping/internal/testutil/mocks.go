// Package testutil содержит репозиторий Shipping Service в памяти.
package testutil

import (
	"context"

	"gorm.io/gorm"

	"example.com/fulfillment/pkg/testutil"
	"example.com/fulfillment/services/shipping/internal/domain"
	"example.com/fulfillment/services/shipping/internal/repository"
)

// Shipments — repository.ShipmentRepository в памяти.
type Shipments struct {
	*testutil.Table[*domain.Shipment]
}

// NewShipments создаёт хранилище с отгрузками items.
func NewShipments(items ...*domain.Shipment) *Shipments {
	r := &Shipments{Table: testutil.NewTable(func(s *domain.Shipment) *domain.Shipment {
		c := *s
		if s.TrackingNumber != nil {
			tn := *s.TrackingNumber
			c.TrackingNumber = &tn
		}
		return &c
	})}
	for _, s := range items {
		r.Put(s.ID, s)
	}
	return r
}

func (r *Shipments) WithTx(*gorm.DB) repository.ShipmentRepository { return r }

func (r *Shipments) Create(_ context.Context, s *domain.Shipment) error {
	if len(r.Find(func(x *domain.Shipment) bool { return x.OrderID == s.OrderID })) > 0 {
		return domain.ErrDuplicateShipment
	}
	r.Put(s.ID, s)
	return nil
}

func (r *Shipments) GetByID(_ context.Context, id string) (*domain.Shipment, error) {
	s, ok := r.Get(id)
	if !ok {
		return nil, domain.ErrShipmentNotFound
	}
	return s, nil
}

func (r *Shipments) GetByOrderID(_ context.Context, orderID string) (*domain.Shipment, error) {
	found := r.Find(func(s *domain.Shipment) bool { return s.OrderID == orderID })
	if len(found) == 0 {
		return nil, domain.ErrShipmentNotFound
	}
	return found[0], nil
}

func (r *Shipments) GetForUpdate(ctx context.Context, id string) (*domain.Shipment, error) {
	return r.GetByID(ctx, id)
}

func (r *Shipments) GetForUpdateByOrder(ctx context.Context, orderID string) (*domain.Shipment, error) {
	return r.GetByOrderID(ctx, orderID)
}

func (r *Shipments) Update(_ context.Context, s *domain.Shipment, from domain.ShipmentStatus) error {
	cur, ok := r.Get(s.ID)
	if !ok || cur.Status != from {
		return domain.ErrConcurrentUpdate
	}
	r.Put(s.ID, s)
	return nil
}
