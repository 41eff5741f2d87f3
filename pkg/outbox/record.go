// Package outbox реализует Transactional Outbox: событие пишется в таблицу outbox
// в той же локальной транзакции, что и изменение агрегата, а Relay асинхронно
// публикует записи в Kafka.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"example.com/fulfillment/pkg/events"
	"example.com/fulfillment/pkg/kafka"
	"example.com/fulfillment/pkg/logger"
	"example.com/fulfillment/pkg/tracing"
)

// Status — статус записи outbox.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusPublished Status = "PUBLISHED"
	StatusFailed    Status = "FAILED"
)

// ErrInvalidTransition — недопустимая смена статуса записи.
var ErrInvalidTransition = errors.New("недопустимый переход статуса outbox")

// CanTransitionTo проверяет переход статуса.
// PUBLISHED — конечный статус, FAILED повторяется до успешной публикации.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending, StatusFailed:
		return next == StatusPublished || next == StatusFailed
	default:
		return false
	}
}

// Record — запись outbox. Никогда не удаляется.
type Record struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Topic         string
	MessageKey    string
	SchemaVersion int
	Payload       []byte
	Headers       map[string]string
	Status        Status
	Attempts      int
	LastError     *string
	CreatedAt     time.Time
	PublishedAt   *time.Time
}

// MessageKey строит ключ сообщения "{aggregateType}-{aggregateId}".
// Все события одного агрегата попадают в одну партицию.
func MessageKey(aggregateType, aggregateID string) string {
	return aggregateType + "-" + aggregateID
}

// NewRecord строит PENDING запись для события.
// trace и correlation id из ctx сохраняются в заголовках, чтобы Relay продолжил ту же трассу.
func NewRecord(ctx context.Context, evt events.Event) (*Record, error) {
	payload, err := events.Encode(evt)
	if err != nil {
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("ошибка генерации id outbox: %w", err)
	}

	headers := map[string]string{
		kafka.HeaderEventType:     evt.EventType(),
		kafka.HeaderSchemaVersion: strconv.Itoa(evt.Version()),
		kafka.HeaderOutboxID:      id.String(),
	}
	if traceID := logger.TraceIDFromContext(ctx); traceID != "" {
		headers[kafka.HeaderTraceID] = traceID
	}
	if correlationID := logger.CorrelationIDFromContext(ctx); correlationID != "" {
		headers[kafka.HeaderCorrelationID] = correlationID
	}
	tracing.Inject(ctx, headers)

	return &Record{
		ID:            id.String(),
		AggregateType: evt.AggregateType(),
		AggregateID:   evt.AggregateID(),
		EventType:     evt.EventType(),
		Topic:         evt.EventType(),
		MessageKey:    MessageKey(evt.AggregateType(), evt.AggregateID()),
		SchemaVersion: evt.Version(),
		Payload:       payload,
		Headers:       headers,
		Status:        StatusPending,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// NewRecords строит записи для нескольких событий в порядке их следования.
func NewRecords(ctx context.Context, evts ...events.Event) ([]*Record, error) {
	records := make([]*Record, 0, len(evts))
	for _, evt := range evts {
		r, err := NewRecord(ctx, evt)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, nil
}

// MarkPublished переводит запись в PUBLISHED.
func (r *Record) MarkPublished(at time.Time) error {
	if !r.Status.CanTransitionTo(StatusPublished) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, StatusPublished)
	}
	at = at.UTC()
	r.Status = StatusPublished
	r.PublishedAt = &at
	return nil
}

// MarkFailed переводит запись в FAILED и сохраняет причину.
func (r *Record) MarkFailed(cause error) error {
	if !r.Status.CanTransitionTo(StatusFailed) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, StatusFailed)
	}
	msg := cause.Error()
	r.Status = StatusFailed
	r.Attempts++
	r.LastError = &msg
	return nil
}

// Message формирует сообщение Kafka из записи.
func (r *Record) Message() *kafka.Message {
	headers := make(map[string]string, len(r.Headers))
	for k, v := range r.Headers {
		headers[k] = v
	}
	return &kafka.Message{
		Topic:   r.Topic,
		Key:     []byte(r.MessageKey),
		Value:   r.Payload,
		Headers: headers,
	}
}
