// Package testutil содержит репозитории Order Service в памяти.
// Они откатываются вместе с testutil.Transactor из pkg/testutil.
package testutil

import (
	"context"
	"sort"

	"gorm.io/gorm"

	"example.com/fulfillment/pkg/testutil"
	"example.com/fulfillment/services/order/internal/domain"
	"example.com/fulfillment/services/order/internal/repository"
)

// =============================================================================
// Orders
// =============================================================================

// Orders — repository.OrderRepository в памяти.
type Orders struct {
	*testutil.Table[*domain.Order]
}

// NewOrders создаёт пустое хранилище заказов.
func NewOrders() *Orders {
	return &Orders{testutil.NewTable(func(o *domain.Order) *domain.Order {
		c := *o
		c.Items = append([]domain.OrderItem(nil), o.Items...)
		return &c
	})}
}

func (r *Orders) WithTx(*gorm.DB) repository.OrderRepository { return r }

func (r *Orders) Create(_ context.Context, o *domain.Order) error {
	if _, ok := r.Get(o.ID); ok {
		return domain.ErrDuplicateOrder
	}
	if o.IdempotencyKey != "" {
		if len(r.Find(func(x *domain.Order) bool { return x.IdempotencyKey == o.IdempotencyKey })) > 0 {
			return domain.ErrDuplicateOrder
		}
	}
	r.Put(o.ID, o)
	return nil
}

func (r *Orders) GetByID(_ context.Context, id string) (*domain.Order, error) {
	o, ok := r.Get(id)
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return o, nil
}

func (r *Orders) GetForUpdate(ctx context.Context, id string) (*domain.Order, error) {
	return r.GetByID(ctx, id)
}

func (r *Orders) GetByIdempotencyKey(_ context.Context, key string) (*domain.Order, error) {
	found := r.Find(func(o *domain.Order) bool { return o.IdempotencyKey == key })
	if len(found) == 0 {
		return nil, domain.ErrOrderNotFound
	}
	return found[0], nil
}

func (r *Orders) ListByUserID(_ context.Context, userID string, status *domain.OrderStatus, offset, limit int) ([]*domain.Order, int64, error) {
	found := r.Find(func(o *domain.Order) bool {
		return o.UserID == userID && (status == nil || o.Status == *status)
	})
	sort.SliceStable(found, func(i, j int) bool { return found[i].CreatedAt.After(found[j].CreatedAt) })

	total := int64(len(found))
	if offset >= len(found) {
		return nil, total, nil
	}
	found = found[offset:]
	if len(found) > limit {
		found = found[:limit]
	}
	return found, total, nil
}

func (r *Orders) Update(_ context.Context, o *domain.Order, from domain.OrderStatus) error {
	cur, ok := r.Get(o.ID)
	if !ok || cur.Status != from {
		return domain.ErrConcurrentUpdate
	}
	r.Put(o.ID, o)
	return nil
}

// =============================================================================
// Exchanges
// =============================================================================

// Exchanges — repository.ExchangeRepository в памяти.
type Exchanges struct {
	*testutil.Table[*domain.Exchange]
}

// NewExchanges создаёт пустое хранилище обменов.
func NewExchanges() *Exchanges {
	return &Exchanges{testutil.NewTable(func(e *domain.Exchange) *domain.Exchange {
		c := *e
		return &c
	})}
}

func (r *Exchanges) WithTx(*gorm.DB) repository.ExchangeRepository { return r }

func (r *Exchanges) Create(_ context.Context, e *domain.Exchange) error {
	r.Put(e.ID, e)
	return nil
}

func (r *Exchanges) GetByID(_ context.Context, id string) (*domain.Exchange, error) {
	e, ok := r.Get(id)
	if !ok {
		return nil, domain.ErrExchangeNotFound
	}
	return e, nil
}

func (r *Exchanges) GetForUpdate(ctx context.Context, id string) (*domain.Exchange, error) {
	return r.GetByID(ctx, id)
}

func (r *Exchanges) ListByOrder(_ context.Context, orderID string) ([]*domain.Exchange, error) {
	return r.Find(func(e *domain.Exchange) bool { return e.OrderID == orderID }), nil
}

func (r *Exchanges) Update(_ context.Context, e *domain.Exchange, from domain.ExchangeStatus) error {
	cur, ok := r.Get(e.ID)
	if !ok || cur.Status != from {
		return domain.ErrConcurrentUpdate
	}
	r.Put(e.ID, e)
	return nil
}

// =============================================================================
// Returns
// =============================================================================

// Returns — repository.ReturnRepository в памяти.
type Returns struct {
	*testutil.Table[*domain.Return]
}

// NewReturns создаёт пустое хранилище возвратов.
func NewReturns() *Returns {
	return &Returns{testutil.NewTable(func(r *domain.Return) *domain.Return {
		c := *r
		c.Items = append([]domain.ReturnItem(nil), r.Items...)
		return &c
	})}
}

func (r *Returns) WithTx(*gorm.DB) repository.ReturnRepository { return r }

func (r *Returns) Create(_ context.Context, ret *domain.Return) error {
	r.Put(ret.ID, ret)
	return nil
}

func (r *Returns) GetByID(_ context.Context, id string) (*domain.Return, error) {
	ret, ok := r.Get(id)
	if !ok {
		return nil, domain.ErrReturnNotFound
	}
	return ret, nil
}

func (r *Returns) GetForUpdate(ctx context.Context, id string) (*domain.Return, error) {
	return r.GetByID(ctx, id)
}

func (r *Returns) Update(_ context.Context, ret *domain.Return, from domain.ReturnStatus) error {
	cur, ok := r.Get(ret.ID)
	if !ok || cur.Status != from {
		return domain.ErrConcurrentUpdate
	}
	r.Put(ret.ID, ret)
	return nil
}
