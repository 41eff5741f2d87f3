package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/fulfillment/pkg/testutil"
	"example.com/fulfillment/services/payment/internal/domain"
)

var paymentColumns = []string{
	"id", "order_id", "user_id", "amount", "currency", "status",
	"cancel_reason", "refunded_amount", "created_at", "updated_at",
}

var created = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestPaymentRepository_CreateДубликатЗаказа(t *testing.T) {
	gdb, mock := testutil.NewMockDB(t)
	repo := NewPaymentRepository(gdb)

	p, err := domain.NewPayment("order-1", "user-1", 2000, "RUB", created)
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `payments`")).
		WillReturnError(errors.New("Error 1062 (23000): Duplicate entry 'order-1' for key 'order_id'"))
	mock.ExpectRollback()

	err = repo.Create(context.Background(), p)

	assert.ErrorIs(t, err, domain.ErrDuplicatePayment)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentRepository_GetForUpdateByOrder(t *testing.T) {
	gdb, mock := testutil.NewMockDB(t)
	repo := NewPaymentRepository(gdb)

	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WillReturnRows(sqlmock.NewRows(paymentColumns).
			AddRow("pay-1", "order-1", "user-1", 2000, "RUB", "CONFIRMED", nil, 500, created, created))

	p, err := repo.GetForUpdateByOrder(context.Background(), "order-1")

	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusConfirmed, p.Status)
	assert.Equal(t, int64(1500), p.Refundable())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentRepository_GetByOrderIDНеНайден(t *testing.T) {
	gdb, mock := testutil.NewMockDB(t)
	repo := NewPaymentRepository(gdb)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `payments` WHERE order_id = ?")).
		WillReturnRows(sqlmock.NewRows(paymentColumns))

	_, err := repo.GetByOrderID(context.Background(), "missing")

	assert.ErrorIs(t, err, domain.ErrPaymentNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentRepository_UpdateПараллельноеИзменение(t *testing.T) {
	gdb, mock := testutil.NewMockDB(t)
	repo := NewPaymentRepository(gdb)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE `payments` SET")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	p := &domain.Payment{ID: "pay-1", Status: domain.PaymentStatusConfirmed, UpdatedAt: created}
	err := repo.Update(context.Background(), p, domain.PaymentStatusPending)

	assert.ErrorIs(t, err, domain.ErrConcurrentUpdate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentRepository_AddRefund(t *testing.T) {
	tests := []struct {
		name        string
		execErr     error
		expectedErr error
	}{
		{name: "новый ключ"},
		{
			name:        "повтор ключа",
			execErr:     errors.New("Error 1062 (23000): Duplicate entry 'pay-1-return:r-1'"),
			expectedErr: domain.ErrDuplicateRefund,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gdb, mock := testutil.NewMockDB(t)
			repo := NewPaymentRepository(gdb)

			mock.ExpectBegin()
			exec := mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `payment_refunds`"))
			if tt.execErr != nil {
				exec.WillReturnError(tt.execErr)
				mock.ExpectRollback()
			} else {
				exec.WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectCommit()
			}

			err := repo.AddRefund(context.Background(), &domain.Refund{
				ID: "ref-1", PaymentID: "pay-1", RefundKey: "return:r-1", Amount: 500, CreatedAt: created,
			})

			if tt.expectedErr != nil {
				assert.ErrorIs(t, err, tt.expectedErr)
			} else {
				assert.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPaymentRepository_ListPendingBefore(t *testing.T) {
	gdb, mock := testutil.NewMockDB(t)
	repo := NewPaymentRepository(gdb)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `payments` WHERE status = ? AND created_at < ? ORDER BY created_at ASC")).
		WillReturnRows(sqlmock.NewRows(paymentColumns).
			AddRow("pay-1", "order-1", "user-1", 2000, "RUB", "PENDING", nil, 0, created.Add(-time.Hour), created.Add(-time.Hour)))

	payments, err := repo.ListPendingBefore(context.Background(), created, 10)

	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, "order-1", payments[0].OrderID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
