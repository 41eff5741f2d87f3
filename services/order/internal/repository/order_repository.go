// Package repository содержит реализацию доступа к данным для Order Service.
// Все репозитории привязываются к транзакции вызывающего через WithTx:
// изменение агрегата и записи outbox коммитятся вместе.
package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"example.com/fulfillment/services/order/internal/domain"
)

// OrderRepository определяет интерфейс для работы с заказами в БД.
type OrderRepository interface {
	// WithTx возвращает репозиторий, работающий в транзакции tx.
	WithTx(tx *gorm.DB) OrderRepository

	// Create создаёт новый заказ с позициями.
	Create(ctx context.Context, order *domain.Order) error

	// GetByID возвращает заказ по ID с загруженными позициями.
	GetByID(ctx context.Context, orderID string) (*domain.Order, error)

	// GetForUpdate читает заказ с блокировкой строки до конца транзакции.
	GetForUpdate(ctx context.Context, orderID string) (*domain.Order, error)

	// GetByIdempotencyKey возвращает заказ по ключу идемпотентности.
	GetByIdempotencyKey(ctx context.Context, idempotencyKey string) (*domain.Order, error)

	// ListByUserID возвращает заказы пользователя с пагинацией.
	// status может быть nil для получения заказов во всех статусах.
	ListByUserID(ctx context.Context, userID string, status *domain.OrderStatus, offset, limit int) ([]*domain.Order, int64, error)

	// Update сохраняет статус заказа, если в БД он всё ещё from.
	Update(ctx context.Context, order *domain.Order, from domain.OrderStatus) error
}

// OrderModel — GORM модель для таблицы orders.
// Отделена от доменной сущности для гибкости.
type OrderModel struct {
	ID             string           `gorm:"column:id;type:varchar(36);primaryKey"`
	UserID         string           `gorm:"column:user_id;type:varchar(36);not null;index"`
	Status         string           `gorm:"column:status;type:varchar(20);not null;index"`
	TotalAmount    int64            `gorm:"column:total_amount;not null"`
	Currency       string           `gorm:"column:currency;type:varchar(3);not null"`
	IdempotencyKey *string          `gorm:"column:idempotency_key;type:varchar(64);uniqueIndex"`
	PaymentID      *string          `gorm:"column:payment_id;type:varchar(36)"`
	Reason         *string          `gorm:"column:reason;type:varchar(64)"`
	CreatedAt      time.Time        `gorm:"column:created_at;type:datetime(6);autoCreateTime:false"`
	UpdatedAt      time.Time        `gorm:"column:updated_at;type:datetime(6);autoUpdateTime:false"`
	Items          []OrderItemModel `gorm:"foreignKey:OrderID;references:ID"`
}

// TableName возвращает имя таблицы в БД.
func (OrderModel) TableName() string {
	return "orders"
}

// OrderItemModel — GORM модель для таблицы order_items.
type OrderItemModel struct {
	ID          string `gorm:"column:id;type:varchar(36);primaryKey"`
	OrderID     string `gorm:"column:order_id;type:varchar(36);not null;index"`
	SKU         int64  `gorm:"column:sku;not null"`
	ProductName string `gorm:"column:product_name;type:varchar(255);not null"`
	Quantity    int    `gorm:"column:quantity;not null"`
	UnitPrice   int64  `gorm:"column:unit_price;not null"`
	Currency    string `gorm:"column:currency;type:varchar(3);not null"`
}

// TableName возвращает имя таблицы в БД.
func (OrderItemModel) TableName() string {
	return "order_items"
}

// toDomain конвертирует GORM модель заказа в доменную сущность.
func (m *OrderModel) toDomain() *domain.Order {
	order := &domain.Order{
		ID:     m.ID,
		UserID: m.UserID,
		Status: domain.OrderStatus(m.Status),
		TotalAmount: domain.Money{
			Amount:   m.TotalAmount,
			Currency: m.Currency,
		},
		PaymentID: m.PaymentID,
		Reason:    m.Reason,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
		Items:     make([]domain.OrderItem, len(m.Items)),
	}

	if m.IdempotencyKey != nil {
		order.IdempotencyKey = *m.IdempotencyKey
	}

	for i, item := range m.Items {
		order.Items[i] = domain.OrderItem{
			ID:          item.ID,
			OrderID:     item.OrderID,
			SKU:         item.SKU,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   domain.Money{Amount: item.UnitPrice, Currency: item.Currency},
		}
	}

	return order
}

// orderModelFromDomain конвертирует доменную сущность заказа в GORM модель.
func orderModelFromDomain(o *domain.Order) *OrderModel {
	model := &OrderModel{
		ID:          o.ID,
		UserID:      o.UserID,
		Status:      string(o.Status),
		TotalAmount: o.TotalAmount.Amount,
		Currency:    o.TotalAmount.Currency,
		PaymentID:   o.PaymentID,
		Reason:      o.Reason,
		CreatedAt:   o.CreatedAt,
		UpdatedAt:   o.UpdatedAt,
		Items:       make([]OrderItemModel, len(o.Items)),
	}

	// пустая строка -> NULL, иначе уникальный индекс не пропустит второй заказ без ключа
	if o.IdempotencyKey != "" {
		model.IdempotencyKey = &o.IdempotencyKey
	}

	for i, item := range o.Items {
		model.Items[i] = OrderItemModel{
			ID:          item.ID,
			OrderID:     item.OrderID,
			SKU:         item.SKU,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice.Amount,
			Currency:    item.UnitPrice.Currency,
		}
	}

	return model
}

// orderRepository — GORM реализация OrderRepository.
type orderRepository struct {
	db *gorm.DB
}

// NewOrderRepository создаёт новый репозиторий заказов.
func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepository{db: db}
}

func (r *orderRepository) WithTx(tx *gorm.DB) OrderRepository {
	return &orderRepository{db: tx}
}

// Create создаёт заказ, позиции пишутся через ассоциацию.
func (r *orderRepository) Create(ctx context.Context, order *domain.Order) error {
	if err := r.db.WithContext(ctx).Create(orderModelFromDomain(order)).Error; err != nil {
		// Проверяем на дубликат idempotency_key (MySQL error 1062)
		if isDuplicateKeyError(err) {
			return domain.ErrDuplicateOrder
		}
		return err
	}
	return nil
}

// GetByID возвращает заказ по ID с загруженными позициями.
func (r *orderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	return r.first(r.db.WithContext(ctx).Where("id = ?", id))
}

// GetForUpdate читает заказ с SELECT ... FOR UPDATE.
func (r *orderRepository) GetForUpdate(ctx context.Context, id string) (*domain.Order, error) {
	return r.first(r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id))
}

// GetByIdempotencyKey возвращает заказ по ключу идемпотентности.
func (r *orderRepository) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error) {
	return r.first(r.db.WithContext(ctx).Where("idempotency_key = ?", key))
}

func (r *orderRepository) first(query *gorm.DB) (*domain.Order, error) {
	var model OrderModel
	if err := query.Preload("Items").First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, err
	}
	return model.toDomain(), nil
}

// ListByUserID возвращает список заказов пользователя с пагинацией.
// Опциональный фильтр по статусу, возвращает также общее количество записей.
func (r *orderRepository) ListByUserID(ctx context.Context, userID string, status *domain.OrderStatus, offset, limit int) ([]*domain.Order, int64, error) {
	var models []OrderModel
	var totalCount int64

	query := r.db.WithContext(ctx).Model(&OrderModel{}).Where("user_id = ?", userID)

	if status != nil {
		query = query.Where("status = ?", string(*status))
	}

	// Подсчёт общего количества записей (до пагинации)
	if err := query.Count(&totalCount).Error; err != nil {
		return nil, 0, err
	}

	// Новые заказы первыми
	if err := query.
		Preload("Items").
		Order("created_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, 0, err
	}

	orders := make([]*domain.Order, len(models))
	for i := range models {
		orders[i] = models[i].toDomain()
	}

	return orders, totalCount, nil
}

// Update сохраняет изменяемые поля заказа с проверкой прежнего статуса.
func (r *orderRepository) Update(ctx context.Context, o *domain.Order, from domain.OrderStatus) error {
	result := r.db.WithContext(ctx).
		Model(&OrderModel{}).
		Where("id = ? AND status = ?", o.ID, string(from)).
		Updates(map[string]any{
			"status":     string(o.Status),
			"payment_id": o.PaymentID,
			"reason":     o.Reason,
			"updated_at": o.UpdatedAt,
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
