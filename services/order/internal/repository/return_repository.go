package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"example.com/fulfillment/services/order/internal/domain"
)

// ReturnRepository — хранилище возвратов.
type ReturnRepository interface {
	WithTx(tx *gorm.DB) ReturnRepository
	Create(ctx context.Context, r *domain.Return) error
	GetByID(ctx context.Context, id string) (*domain.Return, error)
	GetForUpdate(ctx context.Context, id string) (*domain.Return, error)
	Update(ctx context.Context, r *domain.Return, from domain.ReturnStatus) error
}

// ReturnModel — GORM модель для таблицы order_returns.
type ReturnModel struct {
	ID           string            `gorm:"column:id;type:varchar(36);primaryKey"`
	OrderID      string            `gorm:"column:order_id;type:varchar(36);not null;index"`
	RefundAmount int64             `gorm:"column:refund_amount;not null"`
	Currency     string            `gorm:"column:currency;type:varchar(3);not null"`
	Status       string            `gorm:"column:status;type:varchar(24);not null"`
	Reason       *string           `gorm:"column:reason;type:varchar(255)"`
	CreatedAt    time.Time         `gorm:"column:created_at;type:datetime(6);autoCreateTime:false"`
	UpdatedAt    time.Time         `gorm:"column:updated_at;type:datetime(6);autoUpdateTime:false"`
	Items        []ReturnItemModel `gorm:"foreignKey:ReturnID;references:ID"`
}

// TableName возвращает имя таблицы в БД.
func (ReturnModel) TableName() string {
	return "order_returns"
}

// ReturnItemModel — GORM модель для таблицы order_return_items.
type ReturnItemModel struct {
	ID       uint   `gorm:"column:id;primaryKey;autoIncrement"`
	ReturnID string `gorm:"column:return_id;type:varchar(36);not null;index"`
	SKU      int64  `gorm:"column:sku;not null"`
	Quantity int    `gorm:"column:quantity;not null"`
}

// TableName возвращает имя таблицы в БД.
func (ReturnItemModel) TableName() string {
	return "order_return_items"
}

func (m *ReturnModel) toDomain() *domain.Return {
	ret := &domain.Return{
		ID:           m.ID,
		OrderID:      m.OrderID,
		RefundAmount: domain.Money{Amount: m.RefundAmount, Currency: m.Currency},
		Status:       domain.ReturnStatus(m.Status),
		Reason:       m.Reason,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
		Items:        make([]domain.ReturnItem, len(m.Items)),
	}
	for i, it := range m.Items {
		ret.Items[i] = domain.ReturnItem{SKU: it.SKU, Quantity: it.Quantity}
	}
	return ret
}

func returnModelFromDomain(r *domain.Return) *ReturnModel {
	m := &ReturnModel{
		ID:           r.ID,
		OrderID:      r.OrderID,
		RefundAmount: r.RefundAmount.Amount,
		Currency:     r.RefundAmount.Currency,
		Status:       string(r.Status),
		Reason:       r.Reason,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
		Items:        make([]ReturnItemModel, len(r.Items)),
	}
	for i, it := range r.Items {
		m.Items[i] = ReturnItemModel{ReturnID: r.ID, SKU: it.SKU, Quantity: it.Quantity}
	}
	return m
}

type returnRepository struct {
	db *gorm.DB
}

// NewReturnRepository создаёт репозиторий возвратов.
func NewReturnRepository(db *gorm.DB) ReturnRepository {
	return &returnRepository{db: db}
}

func (r *returnRepository) WithTx(tx *gorm.DB) ReturnRepository {
	return &returnRepository{db: tx}
}

func (r *returnRepository) Create(ctx context.Context, ret *domain.Return) error {
	return r.db.WithContext(ctx).Create(returnModelFromDomain(ret)).Error
}

func (r *returnRepository) GetByID(ctx context.Context, id string) (*domain.Return, error) {
	return r.first(r.db.WithContext(ctx).Where("id = ?", id))
}

func (r *returnRepository) GetForUpdate(ctx context.Context, id string) (*domain.Return, error) {
	return r.first(r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id))
}

func (r *returnRepository) first(query *gorm.DB) (*domain.Return, error) {
	var model ReturnModel
	if err := query.Preload("Items").First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrReturnNotFound
		}
		return nil, err
	}
	return model.toDomain(), nil
}

func (r *returnRepository) Update(ctx context.Context, ret *domain.Return, from domain.ReturnStatus) error {
	result := r.db.WithContext(ctx).
		Model(&ReturnModel{}).
		Where("id = ? AND status = ?", ret.ID, string(from)).
		Updates(map[string]any{
			"status":     string(ret.Status),
			"reason":     ret.Reason,
			"updated_at": ret.UpdatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConcurrentUpdate
	}
	return nil
}
