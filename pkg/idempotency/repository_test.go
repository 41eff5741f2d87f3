package idempotency

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"example.com/fulfillment/pkg/db"
	"example.com/fulfillment/pkg/testutil"
)

var ledgerColumns = []string{
	"id", "event_type", "event_key", "payload_snapshot", "status", "result_message",
	"duplicate_count", "processed_at", "last_seen_at", "created_at", "updated_at",
}

func TestRepository_Claim(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		want     bool
	}{
		{name: "новый ключ", affected: 1, want: true},
		{name: "ключ уже занят", affected: 0, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gdb, mock := testutil.NewMockDB(t)
			repo := NewRepository(gdb)

			mock.ExpectBegin()
			mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `idempotency_ledger`") + ".*ON DUPLICATE KEY UPDATE").
				WillReturnResult(sqlmock.NewResult(0, tt.affected))
			mock.ExpectCommit()

			var claimed bool
			err := gdb.Transaction(func(tx *gorm.DB) error {
				var err error
				claimed, err = repo.WithTx(tx).Claim(context.Background(), NewEntry("order.created", "100", []byte(`{}`), time.Now()))
				return err
			})

			require.NoError(t, err)
			assert.Equal(t, tt.want, claimed)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestRepository_GetForUpdate(t *testing.T) {
	gdb, mock := testutil.NewMockDB(t)
	repo := NewRepository(gdb)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `idempotency_ledger` WHERE event_type = ? AND event_key = ?") + ".*FOR UPDATE").
		WillReturnRows(sqlmock.NewRows(ledgerColumns).
			AddRow("e-1", "order.created", "100", []byte(`{}`), "SUCCESS", "применено", 0, now, now, now, now))

	e, err := repo.GetForUpdate(context.Background(), "order.created", "100")

	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, e.Status)
	assert.Equal(t, "e-1", e.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_GetНеНайдено(t *testing.T) {
	gdb, mock := testutil.NewMockDB(t)
	repo := NewRepository(gdb)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `idempotency_ledger`")).
		WillReturnRows(sqlmock.NewRows(ledgerColumns))

	_, err := repo.Get(context.Background(), "order.created", "404")

	assert.ErrorIs(t, err, ErrEntryNotFound)
}

func TestRepository_RecordFailureUpsert(t *testing.T) {
	gdb, mock := testutil.NewMockDB(t)
	repo := NewRepository(gdb)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("`status`=IF(`status` IN ('SUCCESS','DUPLICATE'), `status`, VALUES(`status`))")).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	err := gdb.Transaction(func(tx *gorm.DB) error {
		return repo.WithTx(tx).RecordFailure(context.Background(),
			NewFailedEntry("inventory.decrease", "order:1:5", nil, errors.New("deadlock"), time.Now()))
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// Ошибка эффекта: транзакция эффекта откатывается целиком, FAILED пишется отдельной транзакцией.
func TestGuard_ОшибкаЭффектаПишетсяОтдельнойТранзакцией(t *testing.T) {
	gdb, mock := testutil.NewMockDB(t)
	guard := NewGuard(db.NewTransactor(gdb), NewRepository(gdb), "test")
	effectErr := errors.New("недостаточно данных")

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `idempotency_ledger`")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("ON DUPLICATE KEY UPDATE `result_message`=IF(")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	status, err := guard.Process(context.Background(),
		Delivery{EventType: "inventory.decrease", EventKey: "order:1:5", Payload: []byte(`{}`)},
		func(context.Context, *gorm.DB) error { return effectErr })

	assert.ErrorIs(t, err, effectErr)
	assert.Equal(t, StatusFailed, status)
	assert.NoError(t, mock.ExpectationsWereMet())
}
