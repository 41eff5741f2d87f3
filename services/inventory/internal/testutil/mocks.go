// Package testutil содержит репозитории Inventory Service в памяти.
package testutil

import (
	"context"
	"sort"
	"strconv"

	"gorm.io/gorm"

	"example.com/fulfillment/pkg/testutil"
	"example.com/fulfillment/services/inventory/internal/domain"
	"example.com/fulfillment/services/inventory/internal/repository"
)

// Stock — repository.StockRepository в памяти.
type Stock struct {
	*testutil.Table[*domain.Stock]
}

// NewStock создаёт склад с остатками items.
func NewStock(items ...*domain.Stock) *Stock {
	s := &Stock{testutil.NewTable(func(st *domain.Stock) *domain.Stock {
		c := *st
		return &c
	})}
	for _, st := range items {
		s.Put(skuKey(st.SKU), st)
	}
	return s
}

func skuKey(sku int64) string { return strconv.FormatInt(sku, 10) }

// Available возвращает остаток SKU или -1, если SKU нет.
func (r *Stock) Available(sku int64) int {
	st, ok := r.Table.Get(skuKey(sku))
	if !ok {
		return -1
	}
	return st.Available
}

func (r *Stock) WithTx(*gorm.DB) repository.StockRepository { return r }

func (r *Stock) Get(_ context.Context, sku int64) (*domain.Stock, error) {
	st, ok := r.Table.Get(skuKey(sku))
	if !ok {
		return nil, domain.ErrStockNotFound
	}
	return st, nil
}

func (r *Stock) GetForUpdate(ctx context.Context, sku int64) (*domain.Stock, error) {
	return r.Get(ctx, sku)
}

func (r *Stock) Save(_ context.Context, st *domain.Stock) error {
	r.Put(skuKey(st.SKU), st)
	return nil
}

// Movements — repository.MovementRepository в памяти.
type Movements struct {
	*testutil.Table[*domain.StockMovement]
}

// NewMovements создаёт пустой журнал.
func NewMovements() *Movements {
	return &Movements{testutil.NewTable(func(m *domain.StockMovement) *domain.StockMovement {
		c := *m
		return &c
	})}
}

// ByKey возвращает движение по ключу корректировки.
func (r *Movements) ByKey(key string) (*domain.StockMovement, bool) {
	return r.Table.Get(key)
}

func (r *Movements) WithTx(*gorm.DB) repository.MovementRepository { return r }

func (r *Movements) GetForUpdate(_ context.Context, key string) (*domain.StockMovement, error) {
	m, ok := r.Table.Get(key)
	if !ok {
		return nil, domain.ErrMovementNotFound
	}
	return m, nil
}

func (r *Movements) Create(_ context.Context, m *domain.StockMovement) error {
	if _, ok := r.Table.Get(m.Key); ok {
		return domain.ErrDuplicateMovement
	}
	r.Put(m.Key, m)
	return nil
}

func (r *Movements) Update(_ context.Context, m *domain.StockMovement, from domain.MovementStatus) error {
	cur, ok := r.Table.Get(m.Key)
	if !ok || cur.Status != from {
		return domain.ErrConcurrentUpdate
	}
	r.Put(m.Key, m)
	return nil
}

func (r *Movements) ListBySKU(_ context.Context, sku int64, limit int) ([]*domain.StockMovement, error) {
	found := r.Find(func(m *domain.StockMovement) bool { return m.SKU == sku })
	sort.SliceStable(found, func(i, j int) bool { return found[i].CreatedAt.After(found[j].CreatedAt) })
	if len(found) > limit {
		found = found[:limit]
	}
	return found, nil
}
