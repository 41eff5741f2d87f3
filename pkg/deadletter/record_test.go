package deadletter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/fulfillment/pkg/kafka"
	"example.com/fulfillment/pkg/retry"
)

func dltMessage() *kafka.Message {
	return &kafka.Message{
		Topic:     "inventory.decrease-dlt",
		Partition: 0,
		Offset:    5,
		Key:       []byte("order-100"),
		Value:     []byte(`{"adjustmentKey":"order:100:1"}`),
		Headers: map[string]string{
			kafka.HeaderEventType:         "inventory.decrease",
			kafka.HeaderCorrelationID:     "corr-1",
			retry.HeaderAttempt:           "4",
			retry.HeaderOriginalTopic:     "inventory.decrease",
			retry.HeaderOriginalPartition: "2",
			retry.HeaderOriginalOffset:    "41",
			retry.HeaderException:         "deadlock",
			retry.HeaderStacktrace:        "goroutine 1 [running]:",
			retry.HeaderFailedAt:          "2026-03-01T12:00:07Z",
		},
	}
}

func TestNewRecord(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 10, 0, time.UTC)

	rec := NewRecord(dltMessage(), now)

	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, "inventory.decrease", rec.Topic)
	assert.Equal(t, "inventory.decrease-dlt", rec.DeadLetterTopic)
	assert.Equal(t, 2, rec.Partition)
	assert.Equal(t, int64(41), rec.Offset)
	assert.Equal(t, "inventory.decrease", rec.EventType)
	assert.Equal(t, "order-100", rec.MessageKey)
	assert.Equal(t, "deadlock", rec.ExceptionMessage)
	assert.Equal(t, "goroutine 1 [running]:", rec.StackTrace)
	assert.NotContains(t, rec.Headers, retry.HeaderStacktrace, "стек хранится отдельной колонкой")
	assert.Equal(t, StatusPending, rec.Status)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 7, 0, time.UTC), rec.FailedAt)
	assert.Equal(t, now, rec.CreatedAt)
}

func TestNewRecord_БезЗаголовковЦепочки(t *testing.T) {
	now := time.Now().UTC()
	msg := &kafka.Message{Topic: "x-dlt", Partition: 1, Offset: 9}

	rec := NewRecord(msg, now)

	assert.Equal(t, "x-dlt", rec.Topic, "без заголовков исходная доставка — само сообщение")
	assert.Equal(t, int64(9), rec.Offset)
	assert.Equal(t, now, rec.FailedAt)
}

func TestStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to Status
		ok       bool
	}{
		{StatusPending, StatusProcessing, true},
		{StatusPending, StatusIgnored, true},
		{StatusPending, StatusProcessed, false},
		{StatusProcessing, StatusProcessed, true},
		{StatusProcessing, StatusRetryFailed, true},
		{StatusRetryFailed, StatusProcessing, true},
		{StatusRetryFailed, StatusIgnored, true},
		{StatusProcessed, StatusProcessing, false},
		{StatusIgnored, StatusPending, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.ok, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestRecord_Transition(t *testing.T) {
	rec := NewRecord(dltMessage(), time.Now())
	now := time.Now().UTC()

	require.NoError(t, rec.Transition(StatusProcessing, "проверяю", now))
	assert.Equal(t, 1, rec.RetryCount)
	require.NotNil(t, rec.LastRetryAt)
	require.NotNil(t, rec.Memo)
	assert.Equal(t, "проверяю", *rec.Memo)

	require.NoError(t, rec.Transition(StatusRetryFailed, "", now))
	require.NoError(t, rec.Transition(StatusProcessing, "", now))
	assert.Equal(t, 2, rec.RetryCount)
	assert.Equal(t, "проверяю", *rec.Memo, "пустой memo не затирает прежний")

	require.NoError(t, rec.Transition(StatusProcessed, "исправлено", now))
	require.NotNil(t, rec.ProcessedAt)

	err := rec.Transition(StatusIgnored, "", now)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StatusProcessed, rec.Status)
}

func TestRecord_Replay(t *testing.T) {
	rec := NewRecord(dltMessage(), time.Now())

	msg := rec.Replay()

	assert.Equal(t, "inventory.decrease", msg.Topic)
	assert.Equal(t, []byte("order-100"), msg.Key)
	assert.Equal(t, rec.Payload, msg.Value)
	assert.Equal(t, "inventory.decrease", msg.Headers[kafka.HeaderEventType])
	assert.Equal(t, "corr-1", msg.Headers[kafka.HeaderCorrelationID])
	assert.Equal(t, rec.ID, msg.Headers[HeaderDeadLetterID])
	for _, h := range []string{retry.HeaderAttempt, retry.HeaderOriginalTopic, retry.HeaderException, retry.HeaderFailedAt} {
		assert.NotContains(t, msg.Headers, h, "повтор начинает цепочку заново")
	}
	assert.Equal(t, 0, retry.Attempt(msg))
}
