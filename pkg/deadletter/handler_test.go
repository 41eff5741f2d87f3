package deadletter_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/fulfillment/pkg/deadletter"
	"example.com/fulfillment/pkg/kafka"
	"example.com/fulfillment/pkg/retry"
	"example.com/fulfillment/pkg/testutil/fakes"
)

// failingRepository — хранилище, в которое нельзя записать.
type failingRepository struct {
	*fakes.DeadLetters
}

func (failingRepository) Save(context.Context, *deadletter.Record) (bool, error) {
	return false, errors.New("mysql: connection refused")
}

func original() *kafka.Message {
	return &kafka.Message{
		Topic:     "inventory.decrease",
		Partition: 2,
		Offset:    41,
		Key:       []byte("order-100"),
		Value:     []byte(`{"adjustmentKey":"order:100:1"}`),
		Headers:   map[string]string{kafka.HeaderEventType: "inventory.decrease"},
	}
}

func TestHandler_ПовторноеЧтениеDLTНеСоздаётДубль(t *testing.T) {
	store := fakes.NewDeadLetters()
	h := deadletter.NewHandler(store, "inventory")

	msg := original()
	msg.Topic = "inventory.decrease-dlt"
	msg.Headers[retry.HeaderOriginalTopic] = "inventory.decrease"
	msg.Headers[retry.HeaderOriginalPartition] = "2"
	msg.Headers[retry.HeaderOriginalOffset] = "41"

	require.NoError(t, h.Handle(context.Background(), msg))
	require.NoError(t, h.Handle(context.Background(), msg))

	assert.Len(t, store.Records(), 1)
}

// flakyRepository отказывает в Save заданное число раз.
type flakyRepository struct {
	*fakes.DeadLetters
	failures int
	calls    int
}

func (r *flakyRepository) Save(ctx context.Context, rec *deadletter.Record) (bool, error) {
	r.calls++
	if r.calls <= r.failures {
		return false, errors.New("mysql: connection refused")
	}
	return r.DeadLetters.Save(ctx, rec)
}

func fastBackoff() retry.Policy {
	return retry.Policy{BaseDelay: time.Millisecond, Multiplier: 1}
}

func TestHandler_ВременныйСбойХранилищаПовторяется(t *testing.T) {
	repo := &flakyRepository{DeadLetters: fakes.NewDeadLetters(), failures: 2}
	h := deadletter.NewHandler(repo, "inventory").WithSaveBackoff(fastBackoff())

	err := h.Handle(context.Background(), original())

	require.NoError(t, err)
	assert.Equal(t, 3, repo.calls)
	records := repo.Records()
	require.Len(t, records, 1)
	assert.Equal(t, deadletter.StatusPending, records[0].Status)
}

func TestHandler_ОстановкаПрерываетПовторы(t *testing.T) {
	h := deadletter.NewHandler(failingRepository{fakes.NewDeadLetters()}, "inventory").
		WithSaveBackoff(fastBackoff())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := h.Handle(ctx, original())

	assert.ErrorIs(t, err, context.DeadlineExceeded, "offset не коммитится, сообщение будет прочитано снова")
}

// Обработчик, который всегда падает: 4 попытки, затем ровно одна dead letter запись
// с координатами исходной доставки.
func TestЦепочка_ПостоянныйСбойСоздаётОднуЗапись(t *testing.T) {
	pub := &fakes.Publisher{}
	router := retry.NewRouter(pub, retry.Policy{
		Attempts:   3,
		BaseDelay:  time.Millisecond,
		Multiplier: 2,
		MaxDelay:   10 * time.Millisecond,
	})

	calls := 0
	runner := retry.NewRunner("inventory.decrease", func(context.Context, *kafka.Message) error {
		calls++
		return errors.New("deadlock")
	}, router)

	store := fakes.NewDeadLetters()
	dlt := deadletter.NewHandler(store, "inventory")
	ctx := context.Background()

	var delays []time.Duration
	msg := original()
	for i := 0; i < 10; i++ {
		require.NoError(t, runner.Handle(ctx, msg))

		sent := pub.Messages()
		last := sent[len(sent)-1].Clone()
		last.Partition, last.Offset = 0, int64(100+i)

		if last.Topic == retry.DeadLetterTopic("inventory.decrease") {
			require.NoError(t, dlt.Handle(ctx, last))
			require.NoError(t, dlt.Handle(ctx, last), "повторное чтение DLT")
			break
		}
		delays = append(delays, router.Chain("inventory.decrease").Steps[retry.Attempt(last)-1].Delay)
		msg = last
	}

	assert.Equal(t, 4, calls)
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond, 4 * time.Millisecond}, delays)

	records := store.Records()
	require.Len(t, records, 1)
	assert.Equal(t, "inventory.decrease", records[0].Topic)
	assert.Equal(t, 2, records[0].Partition)
	assert.Equal(t, int64(41), records[0].Offset)
	assert.Equal(t, deadletter.StatusPending, records[0].Status)
	assert.Equal(t, "deadlock", records[0].ExceptionMessage)
	assert.NotEmpty(t, records[0].StackTrace)
}
