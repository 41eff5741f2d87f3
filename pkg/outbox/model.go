package outbox

import (
	"time"

	"gorm.io/datatypes"
)

// Model — GORM модель таблицы outbox.
// created_at с микросекундами: порядок выборки должен совпадать с порядком записи.
type Model struct {
	ID            string            `gorm:"column:id;type:varchar(36);primaryKey"`
	AggregateType string            `gorm:"column:aggregate_type;type:varchar(50);not null;index:idx_outbox_aggregate"`
	AggregateID   string            `gorm:"column:aggregate_id;type:varchar(64);not null;index:idx_outbox_aggregate"`
	EventType     string            `gorm:"column:event_type;type:varchar(100);not null"`
	Topic         string            `gorm:"column:topic;type:varchar(150);not null"`
	MessageKey    string            `gorm:"column:message_key;type:varchar(150);not null"`
	SchemaVersion int               `gorm:"column:schema_version;not null;default:1"`
	Payload       []byte            `gorm:"column:payload;type:json;not null"`
	Headers       datatypes.JSONMap `gorm:"column:headers;type:json"`
	Status        string            `gorm:"column:status;type:varchar(16);not null;index:idx_outbox_status_created,priority:1"`
	Attempts      int               `gorm:"column:attempts;not null;default:0"`
	LastError     *string           `gorm:"column:last_error;type:text"`
	CreatedAt     time.Time         `gorm:"column:created_at;type:datetime(6);not null;autoCreateTime:false;index:idx_outbox_status_created,priority:2"`
	PublishedAt   *time.Time        `gorm:"column:published_at;type:datetime(6)"`
}

// TableName возвращает имя таблицы в БД.
func (Model) TableName() string {
	return "outbox"
}

// ToDomain конвертирует GORM модель в запись outbox.
func (m *Model) ToDomain() *Record {
	headers := make(map[string]string, len(m.Headers))
	for k, v := range m.Headers {
		if s, ok := v.(string); ok {
			headers[k] = s
		}
	}

	return &Record{
		ID:            m.ID,
		AggregateType: m.AggregateType,
		AggregateID:   m.AggregateID,
		EventType:     m.EventType,
		Topic:         m.Topic,
		MessageKey:    m.MessageKey,
		SchemaVersion: m.SchemaVersion,
		Payload:       m.Payload,
		Headers:       headers,
		Status:        Status(m.Status),
		Attempts:      m.Attempts,
		LastError:     m.LastError,
		CreatedAt:     m.CreatedAt,
		PublishedAt:   m.PublishedAt,
	}
}

// ModelFromDomain конвертирует запись outbox в GORM модель.
func ModelFromDomain(r *Record) *Model {
	var headers datatypes.JSONMap
	if r.Headers != nil {
		headers = make(datatypes.JSONMap, len(r.Headers))
		for k, v := range r.Headers {
			headers[k] = v
		}
	}

	return &Model{
		ID:            r.ID,
		AggregateType: r.AggregateType,
		AggregateID:   r.AggregateID,
		EventType:     r.EventType,
		Topic:         r.Topic,
		MessageKey:    r.MessageKey,
		SchemaVersion: r.SchemaVersion,
		Payload:       r.Payload,
		Headers:       headers,
		Status:        string(r.Status),
		Attempts:      r.Attempts,
		LastError:     r.LastError,
		CreatedAt:     r.CreatedAt,
		PublishedAt:   r.PublishedAt,
	}
}
