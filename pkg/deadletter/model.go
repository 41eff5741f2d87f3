package deadletter

import (
	"time"

	"gorm.io/datatypes"
)

// Model — GORM модель таблицы dead_letter.
// Уникальный ключ по исходной доставке делает сохранение идемпотентным при повторном чтении DLT.
type Model struct {
	ID               string            `gorm:"column:id;type:varchar(36);primaryKey"`
	SourceTopic      string            `gorm:"column:source_topic;type:varchar(150);not null;uniqueIndex:uk_dead_letter_source,priority:1"`
	SourcePartition  int               `gorm:"column:source_partition;not null;uniqueIndex:uk_dead_letter_source,priority:2"`
	SourceOffset     int64             `gorm:"column:source_offset;not null;uniqueIndex:uk_dead_letter_source,priority:3"`
	DeadLetterTopic  string            `gorm:"column:dead_letter_topic;type:varchar(150);not null"`
	EventType        string            `gorm:"column:event_type;type:varchar(100);not null;default:''"`
	MessageKey       string            `gorm:"column:message_key;type:varchar(150);not null;default:''"`
	Payload          []byte            `gorm:"column:payload;type:mediumblob"`
	Headers          datatypes.JSONMap `gorm:"column:headers;type:json"`
	ExceptionMessage string            `gorm:"column:exception_message;type:text"`
	StackTrace       string            `gorm:"column:stack_trace;type:mediumtext"`
	Status           string            `gorm:"column:status;type:varchar(16);not null;index:idx_dead_letter_status"`
	RetryCount       int               `gorm:"column:retry_count;not null;default:0"`
	FailedAt         time.Time         `gorm:"column:failed_at;type:datetime(6);not null"`
	LastRetryAt      *time.Time        `gorm:"column:last_retry_at;type:datetime(6)"`
	ProcessedAt      *time.Time        `gorm:"column:processed_at;type:datetime(6)"`
	Memo             *string           `gorm:"column:memo;type:varchar(1000)"`
	CreatedAt        time.Time         `gorm:"column:created_at;type:datetime(6);not null;autoCreateTime:false"`
	UpdatedAt        time.Time         `gorm:"column:updated_at;type:datetime(6);not null;autoUpdateTime:false"`
}

// TableName возвращает имя таблицы в БД.
func (Model) TableName() string {
	return "dead_letter"
}

// ToDomain конвертирует GORM модель в запись.
func (m *Model) ToDomain() *Record {
	headers := make(map[string]string, len(m.Headers))
	for k, v := range m.Headers {
		if s, ok := v.(string); ok {
			headers[k] = s
		}
	}

	return &Record{
		ID:               m.ID,
		Topic:            m.SourceTopic,
		DeadLetterTopic:  m.DeadLetterTopic,
		EventType:        m.EventType,
		Partition:        m.SourcePartition,
		Offset:           m.SourceOffset,
		MessageKey:       m.MessageKey,
		Payload:          m.Payload,
		Headers:          headers,
		ExceptionMessage: m.ExceptionMessage,
		StackTrace:       m.StackTrace,
		Status:           Status(m.Status),
		RetryCount:       m.RetryCount,
		FailedAt:         m.FailedAt,
		LastRetryAt:      m.LastRetryAt,
		ProcessedAt:      m.ProcessedAt,
		Memo:             m.Memo,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

// ModelFromDomain конвертирует запись в GORM модель.
func ModelFromDomain(r *Record) *Model {
	headers := make(datatypes.JSONMap, len(r.Headers))
	for k, v := range r.Headers {
		headers[k] = v
	}

	return &Model{
		ID:               r.ID,
		SourceTopic:      r.Topic,
		SourcePartition:  r.Partition,
		SourceOffset:     r.Offset,
		DeadLetterTopic:  r.DeadLetterTopic,
		EventType:        r.EventType,
		MessageKey:       r.MessageKey,
		Payload:          r.Payload,
		Headers:          headers,
		ExceptionMessage: r.ExceptionMessage,
		StackTrace:       r.StackTrace,
		Status:           string(r.Status),
		RetryCount:       r.RetryCount,
		FailedAt:         r.FailedAt,
		LastRetryAt:      r.LastRetryAt,
		ProcessedAt:      r.ProcessedAt,
		Memo:             r.Memo,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
}
