// Package idempotency — ledger идемпотентности: (тип события, бизнес-ключ) → исход обработки.
// Уникальный ключ (event_type, event_key) — единственная гарантия того, что повторная
// доставка at-least-once не применит эффект дважды.
package idempotency

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status — исход обработки события.
type Status string

const (
	StatusSuccess   Status = "SUCCESS"
	StatusDuplicate Status = "DUPLICATE"
	StatusFailed    Status = "FAILED"
)

// ErrInvalidTransition — недопустимая смена статуса записи ledger.
var ErrInvalidTransition = errors.New("недопустимый переход статуса ledger")

// Entry — запись ledger. Одна на (EventType, EventKey), повторы её обновляют.
type Entry struct {
	ID              string
	EventType       string
	EventKey        string
	PayloadSnapshot []byte
	Status          Status
	ResultMessage   string
	DuplicateCount  int
	ProcessedAt     time.Time
	LastSeenAt      time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NewEntry создаёт запись первой успешной обработки.
func NewEntry(eventType, eventKey string, payload []byte, now time.Time) *Entry {
	now = now.UTC()
	return &Entry{
		ID:              uuid.New().String(),
		EventType:       eventType,
		EventKey:        eventKey,
		PayloadSnapshot: payload,
		Status:          StatusSuccess,
		ResultMessage:   "применено",
		ProcessedAt:     now,
		LastSeenAt:      now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// NewFailedEntry создаёт запись неудачной обработки.
func NewFailedEntry(eventType, eventKey string, payload []byte, cause error, now time.Time) *Entry {
	e := NewEntry(eventType, eventKey, payload, now)
	e.Status = StatusFailed
	e.ResultMessage = truncate(cause.Error())
	return e
}

// MarkDuplicate фиксирует повторную доставку уже применённого события.
func (e *Entry) MarkDuplicate(now time.Time) error {
	if e.Status != StatusSuccess && e.Status != StatusDuplicate {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, e.Status, StatusDuplicate)
	}
	now = now.UTC()
	e.Status = StatusDuplicate
	e.DuplicateCount++
	e.LastSeenAt = now
	e.UpdatedAt = now
	return nil
}

// MarkSuccess фиксирует успешное применение после предыдущей неудачи.
func (e *Entry) MarkSuccess(now time.Time) error {
	if e.Status != StatusFailed {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, e.Status, StatusSuccess)
	}
	now = now.UTC()
	e.Status = StatusSuccess
	e.ResultMessage = "применено после повтора"
	e.ProcessedAt = now
	e.LastSeenAt = now
	e.UpdatedAt = now
	return nil
}

// maxResultMessage — длина колонки result_message.
const maxResultMessage = 2000

func truncate(s string) string {
	if len(s) <= maxResultMessage {
		return s
	}
	return s[:maxResultMessage]
}
