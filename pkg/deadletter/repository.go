package deadletter

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrRecordNotFound — запись не найдена.
	ErrRecordNotFound = errors.New("dead letter запись не найдена")

	// ErrInvalidStatus — неизвестный статус в фильтре.
	ErrInvalidStatus = errors.New("неизвестный статус dead letter")

	// ErrConcurrentUpdate — статус записи изменился после чтения.
	ErrConcurrentUpdate = errors.New("dead letter запись изменена параллельно")
)

// DefaultListLimit — размер страницы List по умолчанию.
const DefaultListLimit = 100

// Repository — хранилище dead letter записей сервиса.
type Repository interface {
	// Save сохраняет запись. false — запись для этой доставки уже есть.
	Save(ctx context.Context, r *Record) (bool, error)

	// Get возвращает запись по id.
	Get(ctx context.Context, id string) (*Record, error)

	// List возвращает записи в статусе status (пустой — любые), новые первыми.
	List(ctx context.Context, status Status, limit int) ([]*Record, error)

	// Update сохраняет запись, если её статус в БД всё ещё from.
	Update(ctx context.Context, r *Record, from Status) error
}

// GormRepository — GORM реализация Repository.
type GormRepository struct {
	db *gorm.DB
}

// NewRepository создаёт репозиторий dead letter.
func NewRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

// Save — INSERT ... ON DUPLICATE KEY UPDATE id=id по (source_topic, source_partition, source_offset).
func (r *GormRepository) Save(ctx context.Context, rec *Record) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(ModelFromDomain(rec))
	if result.Error != nil {
		return false, fmt.Errorf("ошибка сохранения dead letter: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}

// Get возвращает запись по id.
func (r *GormRepository) Get(ctx context.Context, id string) (*Record, error) {
	var m Model
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("ошибка чтения dead letter: %w", err)
	}
	return m.ToDomain(), nil
}

// List возвращает записи по статусу.
func (r *GormRepository) List(ctx context.Context, status Status, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	q := r.db.WithContext(ctx)
	if status != "" {
		q = q.Where("status = ?", string(status))
	}

	var models []Model
	if err := q.Order("failed_at DESC").Limit(limit).Find(&models).Error; err != nil {
		return nil, fmt.Errorf("ошибка чтения dead letter: %w", err)
	}

	result := make([]*Record, len(models))
	for i := range models {
		result[i] = models[i].ToDomain()
	}
	return result, nil
}

// Update сохраняет изменяемые поля записи с условием на прежний статус.
func (r *GormRepository) Update(ctx context.Context, rec *Record, from Status) error {
	result := r.db.WithContext(ctx).Model(&Model{}).
		Where("id = ? AND status = ?", rec.ID, string(from)).
		Updates(map[string]any{
			"status":        string(rec.Status),
			"retry_count":   rec.RetryCount,
			"last_retry_at": rec.LastRetryAt,
			"processed_at":  rec.ProcessedAt,
			"memo":          rec.Memo,
			"updated_at":    rec.UpdatedAt,
		})
	if result.Error != nil {
		return fmt.Errorf("ошибка обновления dead letter: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrConcurrentUpdate
	}
	return nil
}
