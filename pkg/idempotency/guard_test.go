package idempotency_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"example.com/fulfillment/pkg/idempotency"
	"example.com/fulfillment/pkg/testutil"
	"example.com/fulfillment/pkg/testutil/fakes"
)

// counter — доменное состояние в памяти, участвующее в транзакции.
type counter struct{ n int }

func (c *counter) Snapshot() func() {
	saved := c.n
	return func() { c.n = saved }
}

func setup() (*idempotency.Guard, *fakes.Ledger, *counter) {
	ledger := fakes.NewLedger()
	state := &counter{}
	tx := testutil.NewTransactor(ledger, state)
	return idempotency.NewGuard(tx, ledger, "test"), ledger, state
}

func delivery(key string) idempotency.Delivery {
	return idempotency.Delivery{EventType: "order.created", EventKey: key, Payload: []byte(`{"orderId":"` + key + `"}`)}
}

func TestGuard_ПовторнаяДоставкаНеПрименяетсяДважды(t *testing.T) {
	guard, ledger, state := setup()
	ctx := context.Background()
	effect := func(context.Context, *gorm.DB) error {
		state.n += 2
		return nil
	}

	status, err := guard.Process(ctx, delivery("100"), effect)
	require.NoError(t, err)
	assert.Equal(t, idempotency.StatusSuccess, status)

	status, err = guard.Process(ctx, delivery("100"), effect)
	require.NoError(t, err)
	assert.Equal(t, idempotency.StatusDuplicate, status)

	status, err = guard.Process(ctx, delivery("100"), effect)
	require.NoError(t, err)
	assert.Equal(t, idempotency.StatusDuplicate, status)

	assert.Equal(t, 2, state.n, "эффект применён ровно один раз")

	entries := ledger.Entries()
	require.Len(t, entries, 1, "одна строка на ключ")
	assert.Equal(t, idempotency.StatusDuplicate, entries[0].Status)
	assert.Equal(t, 2, entries[0].DuplicateCount)
}

func TestGuard_РазныеКлючиНезависимы(t *testing.T) {
	guard, ledger, state := setup()
	effect := func(context.Context, *gorm.DB) error {
		state.n++
		return nil
	}

	for _, key := range []string{"1", "2", "3"} {
		status, err := guard.Process(context.Background(), delivery(key), effect)
		require.NoError(t, err)
		assert.Equal(t, idempotency.StatusSuccess, status)
	}

	assert.Equal(t, 3, state.n)
	assert.Len(t, ledger.Entries(), 3)
}

func TestGuard_ОшибкаОткатываетЭффектИФиксируетFAILED(t *testing.T) {
	guard, ledger, state := setup()
	ctx := context.Background()
	boom := errors.New("склад недоступен")

	status, err := guard.Process(ctx, delivery("100"), func(context.Context, *gorm.DB) error {
		state.n += 2 // частичное изменение до ошибки
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, idempotency.StatusFailed, status)
	assert.Equal(t, 0, state.n, "частичный эффект откатан транзакцией")

	entry, err := ledger.Get(ctx, "order.created", "100")
	require.NoError(t, err)
	assert.Equal(t, idempotency.StatusFailed, entry.Status)
	assert.Contains(t, entry.ResultMessage, "склад недоступен")

	// повтор после FAILED применяет эффект
	status, err = guard.Process(ctx, delivery("100"), func(context.Context, *gorm.DB) error {
		state.n += 2
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, idempotency.StatusSuccess, status)
	assert.Equal(t, 2, state.n)

	entry, err = ledger.Get(ctx, "order.created", "100")
	require.NoError(t, err)
	assert.Equal(t, idempotency.StatusSuccess, entry.Status)
}

// flakyLedger отказывает в Update заданное число раз, имитируя lock wait timeout.
type flakyLedger struct {
	*fakes.Ledger
	failUpdates int
}

func (l *flakyLedger) WithTx(*gorm.DB) idempotency.Repository { return l }

func (l *flakyLedger) Update(ctx context.Context, e *idempotency.Entry) error {
	if l.failUpdates > 0 {
		l.failUpdates--
		return errors.New("Error 1205: Lock wait timeout exceeded")
	}
	return l.Ledger.Update(ctx, e)
}

// Сбой при отметке повтора не должен понижать применённую запись до FAILED.
func TestGuard_СбойНаПовтореНеПереприменяетЭффект(t *testing.T) {
	ledger := &flakyLedger{Ledger: fakes.NewLedger()}
	state := &counter{}
	guard := idempotency.NewGuard(testutil.NewTransactor(ledger.Ledger, state), ledger, "test")
	ctx := context.Background()
	effect := func(context.Context, *gorm.DB) error {
		state.n -= 2
		return nil
	}

	status, err := guard.Process(ctx, delivery("100"), effect)
	require.NoError(t, err)
	assert.Equal(t, idempotency.StatusSuccess, status)

	ledger.failUpdates = 1
	status, err = guard.Process(ctx, delivery("100"), effect)
	require.Error(t, err)
	assert.Equal(t, idempotency.StatusFailed, status)

	entry, err := ledger.Get(ctx, "order.created", "100")
	require.NoError(t, err)
	assert.Equal(t, idempotency.StatusSuccess, entry.Status, "применённая запись не понижается")

	status, err = guard.Process(ctx, delivery("100"), effect)
	require.NoError(t, err)
	assert.Equal(t, idempotency.StatusDuplicate, status)
	assert.Equal(t, -2, state.n, "эффект применён ровно один раз")
}

func TestGuard_ПустойКлюч(t *testing.T) {
	guard, _, _ := setup()

	_, err := guard.Process(context.Background(), idempotency.Delivery{EventType: "order.created"},
		func(context.Context, *gorm.DB) error { return nil })

	assert.Error(t, err)
}
