package idempotency

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrEntryNotFound — запись ledger не найдена.
var ErrEntryNotFound = errors.New("запись ledger не найдена")

// Repository — хранилище ledger сервиса.
type Repository interface {
	// WithTx привязывает репозиторий к транзакции вызывающего.
	WithTx(tx *gorm.DB) Repository

	// Claim вставляет запись, если ключа ещё нет. false — ключ уже занят.
	Claim(ctx context.Context, e *Entry) (bool, error)

	// GetForUpdate читает запись с блокировкой строки до конца транзакции.
	GetForUpdate(ctx context.Context, eventType, eventKey string) (*Entry, error)

	// Get читает запись без блокировки.
	Get(ctx context.Context, eventType, eventKey string) (*Entry, error)

	// Update сохраняет статус, счётчики и время.
	Update(ctx context.Context, e *Entry) error

	// RecordFailure вставляет или обновляет запись FAILED.
	RecordFailure(ctx context.Context, e *Entry) error
}

// GormRepository — GORM реализация Repository.
type GormRepository struct {
	db *gorm.DB
}

// NewRepository создаёт репозиторий ledger.
func NewRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

// WithTx возвращает репозиторий, работающий в транзакции tx.
func (r *GormRepository) WithTx(tx *gorm.DB) Repository {
	return &GormRepository{db: tx}
}

// Claim — INSERT ... ON DUPLICATE KEY UPDATE id=id. Ноль затронутых строк означает, что ключ занят.
func (r *GormRepository) Claim(ctx context.Context, e *Entry) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(ModelFromDomain(e))
	if result.Error != nil {
		return false, fmt.Errorf("ошибка записи в ledger: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}

// GetForUpdate — SELECT ... FOR UPDATE по уникальному ключу.
func (r *GormRepository) GetForUpdate(ctx context.Context, eventType, eventKey string) (*Entry, error) {
	return r.get(r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), eventType, eventKey)
}

// Get читает запись по уникальному ключу.
func (r *GormRepository) Get(ctx context.Context, eventType, eventKey string) (*Entry, error) {
	return r.get(r.db.WithContext(ctx), eventType, eventKey)
}

func (r *GormRepository) get(q *gorm.DB, eventType, eventKey string) (*Entry, error) {
	var m Model
	if err := q.Where("event_type = ? AND event_key = ?", eventType, eventKey).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEntryNotFound
		}
		return nil, fmt.Errorf("ошибка чтения ledger: %w", err)
	}
	return m.ToDomain(), nil
}

// Update сохраняет изменяемые поля записи.
func (r *GormRepository) Update(ctx context.Context, e *Entry) error {
	result := r.db.WithContext(ctx).Model(&Model{}).
		Where("id = ?", e.ID).
		Updates(map[string]any{
			"status":          string(e.Status),
			"result_message":  e.ResultMessage,
			"duplicate_count": e.DuplicateCount,
			"processed_at":    e.ProcessedAt,
			"last_seen_at":    e.LastSeenAt,
			"updated_at":      e.UpdatedAt,
		})
	if result.Error != nil {
		return fmt.Errorf("ошибка обновления ledger: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrEntryNotFound
	}
	return nil
}

// keepApplied оставляет значение колонки, если событие уже применено (SUCCESS или DUPLICATE).
func keepApplied(column string) clause.Expr {
	return gorm.Expr(fmt.Sprintf("IF(`status` IN ('%s','%s'), `%s`, VALUES(`%s`))",
		StatusSuccess, StatusDuplicate, column, column))
}

// RecordFailure — upsert по (event_type, event_key).
// Применённая запись не понижается до FAILED: иначе следующая доставка повторит эффект.
// status присваивается последним, так как MySQL вычисляет присваивания слева направо.
func (r *GormRepository) RecordFailure(ctx context.Context, e *Entry) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "event_type"}, {Name: "event_key"}},
			DoUpdates: clause.Set{
				{Column: clause.Column{Name: "result_message"}, Value: keepApplied("result_message")},
				{Column: clause.Column{Name: "updated_at"}, Value: keepApplied("updated_at")},
				{Column: clause.Column{Name: "last_seen_at"}, Value: gorm.Expr("VALUES(`last_seen_at`)")},
				{Column: clause.Column{Name: "status"}, Value: keepApplied("status")},
			},
		}).
		Create(ModelFromDomain(e)).Error
	if err != nil {
		return fmt.Errorf("ошибка записи FAILED в ledger: %w", err)
	}
	return nil
}
