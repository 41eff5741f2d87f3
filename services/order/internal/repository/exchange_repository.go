package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"example.com/fulfillment/services/order/internal/domain"
)

// ExchangeRepository — хранилище обменов.
type ExchangeRepository interface {
	WithTx(tx *gorm.DB) ExchangeRepository
	Create(ctx context.Context, e *domain.Exchange) error
	GetByID(ctx context.Context, id string) (*domain.Exchange, error)
	GetForUpdate(ctx context.Context, id string) (*domain.Exchange, error)
	ListByOrder(ctx context.Context, orderID string) ([]*domain.Exchange, error)
	Update(ctx context.Context, e *domain.Exchange, from domain.ExchangeStatus) error
}

// ExchangeModel — GORM модель для таблицы exchanges.
type ExchangeModel struct {
	ID               string    `gorm:"column:id;type:varchar(36);primaryKey"`
	OrderID          string    `gorm:"column:order_id;type:varchar(36);not null;index"`
	OriginalOptionID int64     `gorm:"column:original_option_id;not null"`
	NewOptionID      int64     `gorm:"column:new_option_id;not null"`
	Quantity         int       `gorm:"column:quantity;not null"`
	Status           string    `gorm:"column:status;type:varchar(24);not null"`
	Reason           *string   `gorm:"column:reason;type:varchar(255)"`
	CreatedAt        time.Time `gorm:"column:created_at;type:datetime(6);autoCreateTime:false"`
	UpdatedAt        time.Time `gorm:"column:updated_at;type:datetime(6);autoUpdateTime:false"`
}

// TableName возвращает имя таблицы в БД.
func (ExchangeModel) TableName() string {
	return "exchanges"
}

func (m *ExchangeModel) toDomain() *domain.Exchange {
	return &domain.Exchange{
		ID:               m.ID,
		OrderID:          m.OrderID,
		OriginalOptionID: m.OriginalOptionID,
		NewOptionID:      m.NewOptionID,
		Quantity:         m.Quantity,
		Status:           domain.ExchangeStatus(m.Status),
		Reason:           m.Reason,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

func exchangeModelFromDomain(e *domain.Exchange) *ExchangeModel {
	return &ExchangeModel{
		ID:               e.ID,
		OrderID:          e.OrderID,
		OriginalOptionID: e.OriginalOptionID,
		NewOptionID:      e.NewOptionID,
		Quantity:         e.Quantity,
		Status:           string(e.Status),
		Reason:           e.Reason,
		CreatedAt:        e.CreatedAt,
		UpdatedAt:        e.UpdatedAt,
	}
}

type exchangeRepository struct {
	db *gorm.DB
}

// NewExchangeRepository создаёт репозиторий обменов.
func NewExchangeRepository(db *gorm.DB) ExchangeRepository {
	return &exchangeRepository{db: db}
}

func (r *exchangeRepository) WithTx(tx *gorm.DB) ExchangeRepository {
	return &exchangeRepository{db: tx}
}

func (r *exchangeRepository) Create(ctx context.Context, e *domain.Exchange) error {
	return r.db.WithContext(ctx).Create(exchangeModelFromDomain(e)).Error
}

func (r *exchangeRepository) GetByID(ctx context.Context, id string) (*domain.Exchange, error) {
	return r.first(r.db.WithContext(ctx).Where("id = ?", id))
}

func (r *exchangeRepository) GetForUpdate(ctx context.Context, id string) (*domain.Exchange, error) {
	return r.first(r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id))
}

func (r *exchangeRepository) first(query *gorm.DB) (*domain.Exchange, error) {
	var model ExchangeModel
	if err := query.First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrExchangeNotFound
		}
		return nil, err
	}
	return model.toDomain(), nil
}

func (r *exchangeRepository) ListByOrder(ctx context.Context, orderID string) ([]*domain.Exchange, error) {
	var models []ExchangeModel
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}

	out := make([]*domain.Exchange, len(models))
	for i := range models {
		out[i] = models[i].toDomain()
	}
	return out, nil
}

func (r *exchangeRepository) Update(ctx context.Context, e *domain.Exchange, from domain.ExchangeStatus) error {
	result := r.db.WithContext(ctx).
		Model(&ExchangeModel{}).
		Where("id = ? AND status = ?", e.ID, string(from)).
		Updates(map[string]any{
			"status":     string(e.Status),
			"reason":     e.Reason,
			"updated_at": e.UpdatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConcurrentUpdate
	}
	return nil
}
