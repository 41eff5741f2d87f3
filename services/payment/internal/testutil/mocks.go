// Package testutil содержит репозиторий Payment Service в памяти.
package testutil

import (
	"context"
	"sort"
	"time"

	"gorm.io/gorm"

	"example.com/fulfillment/pkg/testutil"
	"example.com/fulfillment/services/payment/internal/domain"
	"example.com/fulfillment/services/payment/internal/repository"
)

// Payments — repository.PaymentRepository в памяти.
type Payments struct {
	payments *testutil.Table[*domain.Payment]
	refunds  *testutil.Table[*domain.Refund]
}

// NewPayments создаёт хранилище с платежами items.
func NewPayments(items ...*domain.Payment) *Payments {
	r := &Payments{
		payments: testutil.NewTable(func(p *domain.Payment) *domain.Payment {
			c := *p
			return &c
		}),
		refunds: testutil.NewTable(func(r *domain.Refund) *domain.Refund {
			c := *r
			return &c
		}),
	}
	for _, p := range items {
		r.payments.Put(p.ID, p)
	}
	return r
}

// Snapshot откатывает платежи и возвраты вместе.
func (r *Payments) Snapshot() func() {
	restorePayments := r.payments.Snapshot()
	restoreRefunds := r.refunds.Snapshot()
	return func() {
		restorePayments()
		restoreRefunds()
	}
}

// Refunds возвращает все записанные возвраты.
func (r *Payments) Refunds() []*domain.Refund {
	return r.refunds.Find(func(*domain.Refund) bool { return true })
}

func (r *Payments) WithTx(*gorm.DB) repository.PaymentRepository { return r }

func (r *Payments) Create(_ context.Context, p *domain.Payment) error {
	if len(r.payments.Find(func(x *domain.Payment) bool { return x.OrderID == p.OrderID })) > 0 {
		return domain.ErrDuplicatePayment
	}
	r.payments.Put(p.ID, p)
	return nil
}

func (r *Payments) GetByID(_ context.Context, id string) (*domain.Payment, error) {
	p, ok := r.payments.Get(id)
	if !ok {
		return nil, domain.ErrPaymentNotFound
	}
	return p, nil
}

func (r *Payments) GetByOrderID(_ context.Context, orderID string) (*domain.Payment, error) {
	found := r.payments.Find(func(p *domain.Payment) bool { return p.OrderID == orderID })
	if len(found) == 0 {
		return nil, domain.ErrPaymentNotFound
	}
	return found[0], nil
}

func (r *Payments) GetForUpdateByOrder(ctx context.Context, orderID string) (*domain.Payment, error) {
	return r.GetByOrderID(ctx, orderID)
}

func (r *Payments) Update(_ context.Context, p *domain.Payment, from domain.PaymentStatus) error {
	cur, ok := r.payments.Get(p.ID)
	if !ok || cur.Status != from {
		return domain.ErrConcurrentUpdate
	}
	r.payments.Put(p.ID, p)
	return nil
}

func (r *Payments) AddRefund(_ context.Context, refund *domain.Refund) error {
	dup := r.refunds.Find(func(x *domain.Refund) bool {
		return x.PaymentID == refund.PaymentID && x.RefundKey == refund.RefundKey
	})
	if len(dup) > 0 {
		return domain.ErrDuplicateRefund
	}
	r.refunds.Put(refund.ID, refund)
	return nil
}

func (r *Payments) ListRefunds(_ context.Context, paymentID string) ([]*domain.Refund, error) {
	return r.refunds.Find(func(x *domain.Refund) bool { return x.PaymentID == paymentID }), nil
}

func (r *Payments) ListPendingBefore(_ context.Context, before time.Time, limit int) ([]*domain.Payment, error) {
	found := r.payments.Find(func(p *domain.Payment) bool {
		return p.Status == domain.PaymentStatusPending && p.CreatedAt.Before(before)
	})
	sort.SliceStable(found, func(i, j int) bool { return found[i].CreatedAt.Before(found[j].CreatedAt) })
	if len(found) > limit {
		found = found[:limit]
	}
	return found, nil
}
