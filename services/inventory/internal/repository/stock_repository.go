// Package repository содержит реализацию доступа к данным для Inventory Service.
// Остаток и журнал движений меняются в транзакции ledger идемпотентности через WithTx.
package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"example.com/fulfillment/services/inventory/internal/domain"
)

// StockRepository определяет интерфейс для работы с остатками.
type StockRepository interface {
	// WithTx возвращает репозиторий, работающий в транзакции tx.
	WithTx(tx *gorm.DB) StockRepository

	// Get возвращает остаток SKU.
	Get(ctx context.Context, sku int64) (*domain.Stock, error)

	// GetForUpdate читает остаток с блокировкой строки.
	GetForUpdate(ctx context.Context, sku int64) (*domain.Stock, error)

	// Save создаёт или перезаписывает остаток SKU.
	Save(ctx context.Context, stock *domain.Stock) error
}

// StockModel — GORM модель для таблицы stock.
type StockModel struct {
	SKU       int64     `gorm:"column:sku;primaryKey;autoIncrement:false"`
	Available int       `gorm:"column:available;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:datetime(6);autoUpdateTime:false"`
}

// TableName возвращает имя таблицы в БД.
func (StockModel) TableName() string {
	return "stock"
}

// stockRepository — GORM реализация StockRepository.
type stockRepository struct {
	db *gorm.DB
}

// NewStockRepository создаёт репозиторий остатков.
func NewStockRepository(db *gorm.DB) StockRepository {
	return &stockRepository{db: db}
}

func (r *stockRepository) WithTx(tx *gorm.DB) StockRepository {
	return &stockRepository{db: tx}
}

func (r *stockRepository) Get(ctx context.Context, sku int64) (*domain.Stock, error) {
	return r.first(r.db.WithContext(ctx).Where("sku = ?", sku))
}

// GetForUpdate читает остаток с SELECT ... FOR UPDATE.
func (r *stockRepository) GetForUpdate(ctx context.Context, sku int64) (*domain.Stock, error) {
	return r.first(r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("sku = ?", sku))
}

func (r *stockRepository) first(query *gorm.DB) (*domain.Stock, error) {
	var m StockModel
	if err := query.First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrStockNotFound
		}
		return nil, err
	}
	return &domain.Stock{SKU: m.SKU, Available: m.Available, UpdatedAt: m.UpdatedAt}, nil
}

// Save выполняет INSERT ... ON DUPLICATE KEY UPDATE.
func (r *stockRepository) Save(ctx context.Context, s *domain.Stock) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "sku"}},
			DoUpdates: clause.AssignmentColumns([]string{"available", "updated_at"}),
		}).
		Create(&StockModel{SKU: s.SKU, Available: s.Available, UpdatedAt: s.UpdatedAt}).Error
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
