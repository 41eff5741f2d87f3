package idempotency

import "time"

// Model — GORM модель таблицы idempotency_ledger.
type Model struct {
	ID              string    `gorm:"column:id;type:varchar(36);primaryKey"`
	EventType       string    `gorm:"column:event_type;type:varchar(100);not null;uniqueIndex:uk_ledger_event,priority:1"`
	EventKey        string    `gorm:"column:event_key;type:varchar(191);not null;uniqueIndex:uk_ledger_event,priority:2"`
	PayloadSnapshot []byte    `gorm:"column:payload_snapshot;type:json"`
	Status          string    `gorm:"column:status;type:varchar(16);not null;index"`
	ResultMessage   string    `gorm:"column:result_message;type:varchar(2000)"`
	DuplicateCount  int       `gorm:"column:duplicate_count;not null;default:0"`
	ProcessedAt     time.Time `gorm:"column:processed_at;type:datetime(6);not null"`
	LastSeenAt      time.Time `gorm:"column:last_seen_at;type:datetime(6);not null"`
	CreatedAt       time.Time `gorm:"column:created_at;type:datetime(6);autoCreateTime:false"`
	UpdatedAt       time.Time `gorm:"column:updated_at;type:datetime(6);autoUpdateTime:false"`
}

// TableName возвращает имя таблицы в БД.
func (Model) TableName() string {
	return "idempotency_ledger"
}

// ToDomain конвертирует GORM модель в запись ledger.
func (m *Model) ToDomain() *Entry {
	return &Entry{
		ID:              m.ID,
		EventType:       m.EventType,
		EventKey:        m.EventKey,
		PayloadSnapshot: m.PayloadSnapshot,
		Status:          Status(m.Status),
		ResultMessage:   m.ResultMessage,
		DuplicateCount:  m.DuplicateCount,
		ProcessedAt:     m.ProcessedAt,
		LastSeenAt:      m.LastSeenAt,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

// ModelFromDomain конвертирует запись ledger в GORM модель.
func ModelFromDomain(e *Entry) *Model {
	return &Model{
		ID:              e.ID,
		EventType:       e.EventType,
		EventKey:        e.EventKey,
		PayloadSnapshot: e.PayloadSnapshot,
		Status:          string(e.Status),
		ResultMessage:   e.ResultMessage,
		DuplicateCount:  e.DuplicateCount,
		ProcessedAt:     e.ProcessedAt,
		LastSeenAt:      e.LastSeenAt,
		CreatedAt:       e.CreatedAt,
		UpdatedAt:       e.UpdatedAt,
	}
}
