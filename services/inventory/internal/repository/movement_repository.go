package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"example.com/fulfillment/services/inventory/internal/domain"
)

// MovementRepository определяет интерфейс журнала движений остатка.
type MovementRepository interface {
	// WithTx возвращает репозиторий, работающий в транзакции tx.
	WithTx(tx *gorm.DB) MovementRepository

	// GetForUpdate читает движение по ключу корректировки с блокировкой.
	GetForUpdate(ctx context.Context, key string) (*domain.StockMovement, error)

	// Create записывает движение. Повтор ключа — ErrDuplicateMovement.
	Create(ctx context.Context, m *domain.StockMovement) error

	// Update сохраняет статус движения, если в БД он всё ещё from.
	Update(ctx context.Context, m *domain.StockMovement, from domain.MovementStatus) error

	// ListBySKU возвращает последние движения SKU, новые первыми.
	ListBySKU(ctx context.Context, sku int64, limit int) ([]*domain.StockMovement, error)
}

// MovementModel — GORM модель для таблицы stock_movements.
type MovementModel struct {
	Key           string    `gorm:"column:adjustment_key;type:varchar(191);primaryKey"`
	SKU           int64     `gorm:"column:sku;not null;index:idx_movements_sku_created"`
	Quantity      int       `gorm:"column:quantity;not null"`
	Type          string    `gorm:"column:type;type:varchar(16);not null"`
	Status        string    `gorm:"column:status;type:varchar(16);not null"`
	Reason        string    `gorm:"column:reason;type:varchar(64)"`
	ReferenceType string    `gorm:"column:reference_type;type:varchar(32);not null"`
	ReferenceID   string    `gorm:"column:reference_id;type:varchar(64);not null;index"`
	CompensatedBy *string   `gorm:"column:compensated_by;type:varchar(191)"`
	CreatedAt     time.Time `gorm:"column:created_at;type:datetime(6);autoCreateTime:false;index:idx_movements_sku_created"`
	UpdatedAt     time.Time `gorm:"column:updated_at;type:datetime(6);autoUpdateTime:false"`
}

// TableName возвращает имя таблицы в БД.
func (MovementModel) TableName() string {
	return "stock_movements"
}

func (m *MovementModel) toDomain() *domain.StockMovement {
	return &domain.StockMovement{
		Key:           m.Key,
		SKU:           m.SKU,
		Quantity:      m.Quantity,
		Type:          domain.MovementType(m.Type),
		Status:        domain.MovementStatus(m.Status),
		Reason:        m.Reason,
		ReferenceType: m.ReferenceType,
		ReferenceID:   m.ReferenceID,
		CompensatedBy: m.CompensatedBy,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func movementModelFromDomain(m *domain.StockMovement) *MovementModel {
	return &MovementModel{
		Key:           m.Key,
		SKU:           m.SKU,
		Quantity:      m.Quantity,
		Type:          string(m.Type),
		Status:        string(m.Status),
		Reason:        m.Reason,
		ReferenceType: m.ReferenceType,
		ReferenceID:   m.ReferenceID,
		CompensatedBy: m.CompensatedBy,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

// movementRepository — GORM реализация MovementRepository.
type movementRepository struct {
	db *gorm.DB
}

// NewMovementRepository создаёт репозиторий журнала движений.
func NewMovementRepository(db *gorm.DB) MovementRepository {
	return &movementRepository{db: db}
}

func (r *movementRepository) WithTx(tx *gorm.DB) MovementRepository {
	return &movementRepository{db: tx}
}

// GetForUpdate читает движение с SELECT ... FOR UPDATE.
func (r *movementRepository) GetForUpdate(ctx context.Context, key string) (*domain.StockMovement, error) {
	var m MovementModel
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("adjustment_key = ?", key).
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrMovementNotFound
		}
		return nil, err
	}
	return m.toDomain(), nil
}

func (r *movementRepository) Create(ctx context.Context, m *domain.StockMovement) error {
	if err := r.db.WithContext(ctx).Create(movementModelFromDomain(m)).Error; err != nil {
		if isDuplicateKeyError(err) {
			return domain.ErrDuplicateMovement
		}
		return err
	}
	return nil
}

// Update сохраняет статус движения с проверкой прежнего статуса.
func (r *movementRepository) Update(ctx context.Context, m *domain.StockMovement, from domain.MovementStatus) error {
	result := r.db.WithContext(ctx).
		Model(&MovementModel{}).
		Where("adjustment_key = ? AND status = ?", m.Key, string(from)).
		Updates(map[string]any{
			"status":         string(m.Status),
			"compensated_by": m.CompensatedBy,
			"updated_at":     m.UpdatedAt,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConcurrentUpdate
	}
	return nil
}

func (r *movementRepository) ListBySKU(ctx context.Context, sku int64, limit int) ([]*domain.StockMovement, error) {
	var models []MovementModel
	if err := r.db.WithContext(ctx).
		Where("sku = ?", sku).
		Order("created_at DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}

	out := make([]*domain.StockMovement, len(models))
	for i := range models {
		out[i] = models[i].toDomain()
	}
	return out, nil
}
