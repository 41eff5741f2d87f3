package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"example.com/fulfillment/pkg/db"
)

var (
	// ErrNoTransaction — операция outbox вызвана вне транзакции.
	ErrNoTransaction = errors.New("операция outbox требует открытой транзакции")

	// ErrRecordNotFound — запись не найдена или уже в конечном статусе.
	ErrRecordNotFound = errors.New("запись outbox не найдена или уже опубликована")
)

// Repository — хранилище outbox одного сервиса.
// Все операции выполняются в транзакции, к которой репозиторий привязан через WithTx.
type Repository interface {
	// WithTx привязывает репозиторий к транзакции вызывающего.
	WithTx(tx *gorm.DB) Repository

	// Append добавляет записи в транзакции изменения агрегата.
	Append(ctx context.Context, records ...*Record) error

	// ListPending резервирует PENDING и FAILED записи, старые первыми.
	// Строки блокируются до конца транзакции, параллельные Relay их пропускают.
	ListPending(ctx context.Context, limit int) ([]*Record, error)

	// MarkPublished переводит запись в PUBLISHED.
	MarkPublished(ctx context.Context, id string, at time.Time) error

	// MarkFailed переводит запись в FAILED и увеличивает счётчик попыток.
	MarkFailed(ctx context.Context, id string, cause error) error
}

// GormRepository — GORM реализация Repository.
type GormRepository struct {
	db *gorm.DB
}

// NewRepository создаёт репозиторий outbox.
func NewRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

// WithTx возвращает репозиторий, работающий в транзакции tx.
func (r *GormRepository) WithTx(tx *gorm.DB) Repository {
	return &GormRepository{db: tx}
}

func (r *GormRepository) tx(ctx context.Context) (*gorm.DB, error) {
	if !db.InTransaction(r.db) {
		return nil, ErrNoTransaction
	}
	return r.db.WithContext(ctx), nil
}

// Append добавляет записи одним INSERT.
func (r *GormRepository) Append(ctx context.Context, records ...*Record) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := r.tx(ctx)
	if err != nil {
		return err
	}

	models := make([]*Model, 0, len(records))
	for _, rec := range records {
		if rec.Status != StatusPending {
			return fmt.Errorf("%w: новая запись в статусе %s", ErrInvalidTransition, rec.Status)
		}
		models = append(models, ModelFromDomain(rec))
	}

	if err := tx.Create(&models).Error; err != nil {
		return fmt.Errorf("ошибка записи в outbox: %w", err)
	}
	return nil
}

// ListPending выбирает записи с SELECT ... FOR UPDATE SKIP LOCKED.
func (r *GormRepository) ListPending(ctx context.Context, limit int) ([]*Record, error) {
	tx, err := r.tx(ctx)
	if err != nil {
		return nil, err
	}

	var models []Model
	if err := tx.
		Where("status IN ?", []string{string(StatusPending), string(StatusFailed)}).
		Order("created_at ASC, id ASC").
		Limit(limit).
		Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("ошибка чтения outbox: %w", err)
	}

	result := make([]*Record, len(models))
	for i := range models {
		result[i] = models[i].ToDomain()
	}
	return result, nil
}

// MarkPublished переводит запись в PUBLISHED. Условие на статус защищает от повторной публикации.
func (r *GormRepository) MarkPublished(ctx context.Context, id string, at time.Time) error {
	tx, err := r.tx(ctx)
	if err != nil {
		return err
	}

	at = at.UTC()
	result := tx.Model(&Model{}).
		Where("id = ? AND status IN ?", id, []string{string(StatusPending), string(StatusFailed)}).
		Updates(map[string]any{
			"status":       string(StatusPublished),
			"published_at": at,
		})
	if result.Error != nil {
		return fmt.Errorf("ошибка пометки outbox как опубликованной: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// MarkFailed переводит запись в FAILED.
func (r *GormRepository) MarkFailed(ctx context.Context, id string, cause error) error {
	tx, err := r.tx(ctx)
	if err != nil {
		return err
	}

	result := tx.Model(&Model{}).
		Where("id = ? AND status IN ?", id, []string{string(StatusPending), string(StatusFailed)}).
		Updates(map[string]any{
			"status":     string(StatusFailed),
			"attempts":   gorm.Expr("attempts + 1"),
			"last_error": cause.Error(),
		})
	if result.Error != nil {
		return fmt.Errorf("ошибка пометки outbox как failed: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}
