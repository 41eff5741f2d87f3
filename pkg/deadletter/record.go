// Package deadletter хранит сообщения, исчерпавшие цепочку повторов.
// Запись создаётся в PENDING и дальше меняет статус только по действию оператора.
package deadletter

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"example.com/fulfillment/pkg/kafka"
	"example.com/fulfillment/pkg/retry"
)

// Status — статус dead letter записи.
type Status string

const (
	StatusPending     Status = "PENDING"
	StatusProcessing  Status = "PROCESSING"
	StatusProcessed   Status = "PROCESSED"
	StatusRetryFailed Status = "RETRY_FAILED"
	StatusIgnored     Status = "IGNORED"
)

// ErrInvalidTransition — недопустимый переход статуса.
var ErrInvalidTransition = errors.New("недопустимый переход статуса dead letter")

var transitions = map[Status][]Status{
	StatusPending:     {StatusProcessing, StatusIgnored},
	StatusProcessing:  {StatusProcessed, StatusRetryFailed, StatusIgnored},
	StatusRetryFailed: {StatusProcessing, StatusIgnored},
}

// CanTransitionTo проверяет переход. PROCESSED и IGNORED конечные.
func (s Status) CanTransitionTo(to Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// IsValid сообщает, что статус известен.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusProcessed, StatusRetryFailed, StatusIgnored:
		return true
	}
	return false
}

// Record — сообщение, которое не удалось обработать.
// Topic, Partition и Offset указывают на исходную доставку, а не на DLT.
type Record struct {
	ID               string
	Topic            string
	DeadLetterTopic  string
	EventType        string
	Partition        int
	Offset           int64
	MessageKey       string
	Payload          []byte
	Headers          map[string]string
	ExceptionMessage string
	StackTrace       string
	Status           Status
	RetryCount       int
	FailedAt         time.Time
	LastRetryAt      *time.Time
	ProcessedAt      *time.Time
	Memo             *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// NewRecord строит PENDING запись из сообщения DLT.
func NewRecord(msg *kafka.Message, now time.Time) *Record {
	now = now.UTC()
	origin := retry.OriginOf(msg)

	failedAt := now
	if ts, err := time.Parse(time.RFC3339Nano, msg.Header(retry.HeaderFailedAt)); err == nil {
		failedAt = ts.UTC()
	}

	headers := make(map[string]string, len(msg.Headers))
	for k, v := range msg.Headers {
		if k == retry.HeaderStacktrace {
			continue
		}
		headers[k] = v
	}

	return &Record{
		ID:               uuid.New().String(),
		Topic:            origin.Topic,
		DeadLetterTopic:  msg.Topic,
		EventType:        msg.Header(kafka.HeaderEventType),
		Partition:        origin.Partition,
		Offset:           origin.Offset,
		MessageKey:       string(msg.Key),
		Payload:          msg.Value,
		Headers:          headers,
		ExceptionMessage: msg.Header(retry.HeaderException),
		StackTrace:       msg.Header(retry.HeaderStacktrace),
		Status:           StatusPending,
		FailedAt:         failedAt,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// Transition переводит запись в статус to.
// PROCESSING означает новую попытку: растёт RetryCount.
func (r *Record) Transition(to Status, memo string, now time.Time) error {
	if !r.Status.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, to)
	}

	now = now.UTC()
	switch to {
	case StatusProcessing:
		r.RetryCount++
		r.LastRetryAt = &now
	case StatusProcessed, StatusIgnored:
		r.ProcessedAt = &now
	}
	if memo != "" {
		r.Memo = &memo
	}
	r.Status = to
	r.UpdatedAt = now
	return nil
}

// Replay возвращает сообщение для повторной публикации в исходный топик.
// Заголовки цепочки повторов сбрасываются: сообщение проходит цепочку заново.
func (r *Record) Replay() *kafka.Message {
	headers := make(map[string]string, len(r.Headers)+1)
	for k, v := range r.Headers {
		switch k {
		case retry.HeaderAttempt, retry.HeaderNotBefore,
			retry.HeaderOriginalTopic, retry.HeaderOriginalPartition, retry.HeaderOriginalOffset,
			retry.HeaderException, retry.HeaderStacktrace, retry.HeaderFailedAt:
			continue
		}
		headers[k] = v
	}
	headers[HeaderDeadLetterID] = r.ID

	return &kafka.Message{
		Topic:   r.Topic,
		Key:     []byte(r.MessageKey),
		Value:   r.Payload,
		Headers: headers,
	}
}

// HeaderDeadLetterID — id записи, из которой сообщение переотправлено вручную.
const HeaderDeadLetterID = "dead_letter_id"
