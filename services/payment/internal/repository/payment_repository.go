// Package repository содержит реализацию доступа к данным для Payment Service.
package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"example.com/fulfillment/services/payment/internal/domain"
)

// PaymentRepository определяет интерфейс для работы с платежами в БД.
type PaymentRepository interface {
	// WithTx возвращает репозиторий, работающий в транзакции tx.
	WithTx(tx *gorm.DB) PaymentRepository

	// Create создаёт новый платёж. Второй платёж по заказу — ErrDuplicatePayment.
	Create(ctx context.Context, payment *domain.Payment) error

	// GetByID возвращает платёж по ID.
	GetByID(ctx context.Context, paymentID string) (*domain.Payment, error)

	// GetByOrderID возвращает платёж по ID заказа.
	GetByOrderID(ctx context.Context, orderID string) (*domain.Payment, error)

	// GetForUpdateByOrder читает платёж заказа с блокировкой строки.
	GetForUpdateByOrder(ctx context.Context, orderID string) (*domain.Payment, error)

	// Update сохраняет платёж, если в БД он всё ещё в статусе from.
	Update(ctx context.Context, payment *domain.Payment, from domain.PaymentStatus) error

	// AddRefund записывает возврат. Повтор ключа — ErrDuplicateRefund.
	AddRefund(ctx context.Context, refund *domain.Refund) error

	// ListRefunds возвращает возвраты платежа в порядке создания.
	ListRefunds(ctx context.Context, paymentID string) ([]*domain.Refund, error)

	// ListPendingBefore возвращает PENDING платежи, созданные раньше before.
	ListPendingBefore(ctx context.Context, before time.Time, limit int) ([]*domain.Payment, error)
}

// =============================================================================
// GORM модели
// =============================================================================

// PaymentModel — GORM модель для таблицы payments.
type PaymentModel struct {
	ID             string    `gorm:"column:id;type:varchar(36);primaryKey"`
	OrderID        string    `gorm:"column:order_id;type:varchar(36);not null;uniqueIndex"`
	UserID         string    `gorm:"column:user_id;type:varchar(36);not null;index"`
	Amount         int64     `gorm:"column:amount;not null"`
	Currency       string    `gorm:"column:currency;type:varchar(3);not null"`
	Status         string    `gorm:"column:status;type:varchar(20);not null;index:idx_payments_status_created"`
	CancelReason   *string   `gorm:"column:cancel_reason;type:varchar(64)"`
	RefundedAmount int64     `gorm:"column:refunded_amount;not null;default:0"`
	CreatedAt      time.Time `gorm:"column:created_at;type:datetime(6);autoCreateTime:false;index:idx_payments_status_created"`
	UpdatedAt      time.Time `gorm:"column:updated_at;type:datetime(6);autoUpdateTime:false"`
}

// TableName возвращает имя таблицы в БД.
func (PaymentModel) TableName() string {
	return "payments"
}

// RefundModel — GORM модель для таблицы payment_refunds.
type RefundModel struct {
	ID        string    `gorm:"column:id;type:varchar(36);primaryKey"`
	PaymentID string    `gorm:"column:payment_id;type:varchar(36);not null;uniqueIndex:idx_refund_key"`
	RefundKey string    `gorm:"column:refund_key;type:varchar(128);not null;uniqueIndex:idx_refund_key"`
	Amount    int64     `gorm:"column:amount;not null"`
	CreatedAt time.Time `gorm:"column:created_at;type:datetime(6);autoCreateTime:false"`
}

// TableName возвращает имя таблицы в БД.
func (RefundModel) TableName() string {
	return "payment_refunds"
}

// toDomain конвертирует GORM модель в доменную сущность.
func (m *PaymentModel) toDomain() *domain.Payment {
	return &domain.Payment{
		ID:             m.ID,
		OrderID:        m.OrderID,
		UserID:         m.UserID,
		Amount:         m.Amount,
		Currency:       m.Currency,
		Status:         domain.PaymentStatus(m.Status),
		CancelReason:   m.CancelReason,
		RefundedAmount: m.RefundedAmount,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

// paymentModelFromDomain конвертирует доменную сущность в GORM модель.
func paymentModelFromDomain(p *domain.Payment) *PaymentModel {
	return &PaymentModel{
		ID:             p.ID,
		OrderID:        p.OrderID,
		UserID:         p.UserID,
		Amount:         p.Amount,
		Currency:       p.Currency,
		Status:         string(p.Status),
		CancelReason:   p.CancelReason,
		RefundedAmount: p.RefundedAmount,
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	}
}

// =============================================================================
// Реализация репозитория
// =============================================================================

// paymentRepository — GORM реализация PaymentRepository.
type paymentRepository struct {
	db *gorm.DB
}

// NewPaymentRepository создаёт новый репозиторий платежей.
func NewPaymentRepository(db *gorm.DB) PaymentRepository {
	return &paymentRepository{db: db}
}

func (r *paymentRepository) WithTx(tx *gorm.DB) PaymentRepository {
	return &paymentRepository{db: tx}
}

// Create создаёт новый платёж в БД.
func (r *paymentRepository) Create(ctx context.Context, p *domain.Payment) error {
	if err := r.db.WithContext(ctx).Create(paymentModelFromDomain(p)).Error; err != nil {
		// уникальный индекс по order_id
		if isDuplicateKeyError(err) {
			return domain.ErrDuplicatePayment
		}
		return err
	}
	return nil
}

// GetByID возвращает платёж по ID.
func (r *paymentRepository) GetByID(ctx context.Context, id string) (*domain.Payment, error) {
	return r.first(r.db.WithContext(ctx).Where("id = ?", id))
}

// GetByOrderID возвращает платёж по ID заказа.
func (r *paymentRepository) GetByOrderID(ctx context.Context, orderID string) (*domain.Payment, error) {
	return r.first(r.db.WithContext(ctx).Where("order_id = ?", orderID))
}

// GetForUpdateByOrder читает платёж с SELECT ... FOR UPDATE.
func (r *paymentRepository) GetForUpdateByOrder(ctx context.Context, orderID string) (*domain.Payment, error) {
	return r.first(r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("order_id = ?", orderID))
}

func (r *paymentRepository) first(query *gorm.DB) (*domain.Payment, error) {
	var model PaymentModel
	if err := query.First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrPaymentNotFound
		}
		return nil, err
	}
	return model.toDomain(), nil
}

// Update обновляет изменяемые поля платежа с проверкой прежнего статуса.
func (r *paymentRepository) Update(ctx context.Context, p *domain.Payment, from domain.PaymentStatus) error {
	result := r.db.WithContext(ctx).
		Model(&PaymentModel{}).
		Where("id = ? AND status = ?", p.ID, string(from)).
		Updates(map[string]any{
			"status":          string(p.Status),
			"cancel_reason":   p.CancelReason,
			"refunded_amount": p.RefundedAmount,
			"updated_at":      p.UpdatedAt,
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return domain.ErrConcurrentUpdate
	}

	return nil
}

// AddRefund записывает возврат, уникальный по (payment_id, refund_key).
func (r *paymentRepository) AddRefund(ctx context.Context, refund *domain.Refund) error {
	model := &RefundModel{
		ID:        refund.ID,
		PaymentID: refund.PaymentID,
		RefundKey: refund.RefundKey,
		Amount:    refund.Amount,
		CreatedAt: refund.CreatedAt,
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if isDuplicateKeyError(err) {
			return domain.ErrDuplicateRefund
		}
		return err
	}
	return nil
}

// ListRefunds возвращает возвраты платежа.
func (r *paymentRepository) ListRefunds(ctx context.Context, paymentID string) ([]*domain.Refund, error) {
	var models []RefundModel
	if err := r.db.WithContext(ctx).
		Where("payment_id = ?", paymentID).
		Order("created_at ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}

	refunds := make([]*domain.Refund, len(models))
	for i, m := range models {
		refunds[i] = &domain.Refund{
			ID:        m.ID,
			PaymentID: m.PaymentID,
			RefundKey: m.RefundKey,
			Amount:    m.Amount,
			CreatedAt: m.CreatedAt,
		}
	}
	return refunds, nil
}

// ListPendingBefore возвращает зависшие PENDING платежи, старые первыми.
func (r *paymentRepository) ListPendingBefore(ctx context.Context, before time.Time, limit int) ([]*domain.Payment, error) {
	var models []PaymentModel

	if err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", string(domain.PaymentStatusPending), before).
		Order("created_at ASC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}

	payments := make([]*domain.Payment, len(models))
	for i := range models {
		payments[i] = models[i].toDomain()
	}

	return payments, nil
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
