package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/fulfillment/pkg/events"
	"example.com/fulfillment/pkg/kafka"
	"example.com/fulfillment/pkg/logger"
)

func TestStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to Status
		ok       bool
	}{
		{StatusPending, StatusPublished, true},
		{StatusPending, StatusFailed, true},
		{StatusFailed, StatusFailed, true},
		{StatusFailed, StatusPublished, true},
		{StatusPublished, StatusFailed, false},
		{StatusPublished, StatusPending, false},
		{StatusFailed, StatusPending, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.ok, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestNewRecord(t *testing.T) {
	ctx := logger.NewContextWithIDs(context.Background(), "trace-1", "corr-1")
	evt := &events.OrderCreated{
		Meta:    events.NewMeta(time.Now()),
		OrderID: "100",
		Items:   []events.LineItem{{SKU: 1, Quantity: 2}},
	}

	rec, err := NewRecord(ctx, evt)
	require.NoError(t, err)

	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, StatusPending, rec.Status)
	assert.Equal(t, "order-100", rec.MessageKey)
	assert.Equal(t, events.TypeOrderCreated, rec.Topic)
	assert.Equal(t, events.TypeOrderCreated, rec.Headers[kafka.HeaderEventType])
	assert.Equal(t, "1", rec.Headers[kafka.HeaderSchemaVersion])
	assert.Equal(t, rec.ID, rec.Headers[kafka.HeaderOutboxID])
	assert.Equal(t, "trace-1", rec.Headers[kafka.HeaderTraceID])
	assert.Equal(t, "corr-1", rec.Headers[kafka.HeaderCorrelationID])
	assert.False(t, rec.CreatedAt.IsZero())

	decoded, err := events.Default().Decode(rec.EventType, rec.Payload)
	require.NoError(t, err)
	assert.Equal(t, "100", decoded.AggregateID())
}

func TestNewRecords_СохраняетПорядокСоздания(t *testing.T) {
	var evts []events.Event
	for i := 0; i < 5; i++ {
		evts = append(evts, &events.OrderPaid{Meta: events.NewMeta(time.Now()), OrderID: "o"})
	}

	recs, err := NewRecords(context.Background(), evts...)
	require.NoError(t, err)
	require.Len(t, recs, 5)

	for i := 1; i < len(recs); i++ {
		assert.False(t, recs[i].CreatedAt.Before(recs[i-1].CreatedAt))
		assert.Greater(t, recs[i].ID, recs[i-1].ID, "UUIDv7 растут монотонно")
	}
}

func TestRecord_Mutators(t *testing.T) {
	rec := &Record{ID: "1", Status: StatusPending}

	require.NoError(t, rec.MarkFailed(errors.New("broker down")))
	assert.Equal(t, StatusFailed, rec.Status)
	assert.Equal(t, 1, rec.Attempts)
	require.NotNil(t, rec.LastError)

	require.NoError(t, rec.MarkPublished(time.Now()))
	assert.Equal(t, StatusPublished, rec.Status)
	require.NotNil(t, rec.PublishedAt)

	err := rec.MarkFailed(errors.New("late"))
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StatusPublished, rec.Status)
}

func TestRecord_MessageКопируетЗаголовки(t *testing.T) {
	rec := &Record{Topic: "t", MessageKey: "order-1", Headers: map[string]string{"a": "1"}}

	msg := rec.Message()
	msg.Headers["b"] = "2"

	assert.Equal(t, []byte("order-1"), msg.Key)
	assert.NotContains(t, rec.Headers, "b")
}
