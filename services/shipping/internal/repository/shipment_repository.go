// Package repository содержит реализацию доступа к данным для Shipping Service.
package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"example.com/fulfillment/services/shipping/internal/domain"
)

// ShipmentRepository определяет интерфейс для работы с отгрузками.
type ShipmentRepository interface {
	// WithTx возвращает репозиторий, работающий в транзакции tx.
	WithTx(tx *gorm.DB) ShipmentRepository

	// Create создаёт отгрузку. Вторая отгрузка по заказу — ErrDuplicateShipment.
	Create(ctx context.Context, s *domain.Shipment) error

	// GetByID возвращает отгрузку по ID.
	GetByID(ctx context.Context, id string) (*domain.Shipment, error)

	// GetByOrderID возвращает отгрузку заказа.
	GetByOrderID(ctx context.Context, orderID string) (*domain.Shipment, error)

	// GetForUpdate читает отгрузку по ID с блокировкой.
	GetForUpdate(ctx context.Context, id string) (*domain.Shipment, error)

	// GetForUpdateByOrder читает отгрузку заказа с блокировкой.
	GetForUpdateByOrder(ctx context.Context, orderID string) (*domain.Shipment, error)

	// Update сохраняет отгрузку, если в БД она всё ещё в статусе from.
	Update(ctx context.Context, s *domain.Shipment, from domain.ShipmentStatus) error
}

// ShipmentModel — GORM модель для таблицы shipments.
type ShipmentModel struct {
	ID             string    `gorm:"column:id;type:varchar(36);primaryKey"`
	OrderID        string    `gorm:"column:order_id;type:varchar(36);not null;uniqueIndex"`
	Status         string    `gorm:"column:status;type:varchar(20);not null;index"`
	TrackingNumber *string   `gorm:"column:tracking_number;type:varchar(64)"`
	CreatedAt      time.Time `gorm:"column:created_at;type:datetime(6);autoCreateTime:false"`
	UpdatedAt      time.Time `gorm:"column:updated_at;type:datetime(6);autoUpdateTime:false"`
}

// TableName возвращает имя таблицы в БД.
func (ShipmentModel) TableName() string {
	return "shipments"
}

func (m *ShipmentModel) toDomain() *domain.Shipment {
	return &domain.Shipment{
		ID:             m.ID,
		OrderID:        m.OrderID,
		Status:         domain.ShipmentStatus(m.Status),
		TrackingNumber: m.TrackingNumber,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

// shipmentRepository — GORM реализация ShipmentRepository.
type shipmentRepository struct {
	db *gorm.DB
}

// NewShipmentRepository создаёт репозиторий отгрузок.
func NewShipmentRepository(db *gorm.DB) ShipmentRepository {
	return &shipmentRepository{db: db}
}

func (r *shipmentRepository) WithTx(tx *gorm.DB) ShipmentRepository {
	return &shipmentRepository{db: tx}
}

func (r *shipmentRepository) Create(ctx context.Context, s *domain.Shipment) error {
	model := &ShipmentModel{
		ID:             s.ID,
		OrderID:        s.OrderID,
		Status:         string(s.Status),
		TrackingNumber: s.TrackingNumber,
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if isDuplicateKeyError(err) {
			return domain.ErrDuplicateShipment
		}
		return err
	}
	return nil
}

func (r *shipmentRepository) GetByID(ctx context.Context, id string) (*domain.Shipment, error) {
	return r.first(r.db.WithContext(ctx).Where("id = ?", id))
}

func (r *shipmentRepository) GetByOrderID(ctx context.Context, orderID string) (*domain.Shipment, error) {
	return r.first(r.db.WithContext(ctx).Where("order_id = ?", orderID))
}

func (r *shipmentRepository) GetForUpdate(ctx context.Context, id string) (*domain.Shipment, error) {
	return r.first(r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id))
}

func (r *shipmentRepository) GetForUpdateByOrder(ctx context.Context, orderID string) (*domain.Shipment, error) {
	return r.first(r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).Where("order_id = ?", orderID))
}

func (r *shipmentRepository) first(query *gorm.DB) (*domain.Shipment, error) {
	var m ShipmentModel
	if err := query.First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrShipmentNotFound
		}
		return nil, err
	}
	return m.toDomain(), nil
}

// Update сохраняет статус и трек-номер с проверкой прежнего статуса.
func (r *shipmentRepository) Update(ctx context.Context, s *domain.Shipment, from domain.ShipmentStatus) error {
	result := r.db.WithContext(ctx).
		Model(&ShipmentModel{}).
		Where("id = ? AND status = ?", s.ID, string(from)).
		Updates(map[string]any{
			"status":          string(s.Status),
			"tracking_number": s.TrackingNumber,
			"updated_at":      s.UpdatedAt,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConcurrentUpdate
	}
	return nil
}

// isDuplicateKeyError проверяет, является ли ошибка дубликатом ключа.
// MySQL возвращает ошибку с кодом 1062 при попытке вставить дубликат.
func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	errMsg := err.Error()
	return errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(errMsg, "Duplicate entry") ||
		strings.Contains(errMsg, "1062")
}
