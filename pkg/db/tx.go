package db

import (
	"context"

	"gorm.io/gorm"
)

// Transactor запускает функцию в локальной транзакции.
// Коммит при nil, откат при ошибке или панике.
// Интерфейс для тестируемости: в unit-тестах подменяется транзакцией в памяти.
type Transactor interface {
	Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// GormTransactor — реализация Transactor поверх gorm.DB.
type GormTransactor struct {
	db *gorm.DB
}

// NewTransactor создаёт Transactor для пула соединений сервиса.
func NewTransactor(db *gorm.DB) *GormTransactor {
	return &GormTransactor{db: db}
}

// Transaction выполняет fn в транзакции gorm.
func (t *GormTransactor) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return t.db.WithContext(ctx).Transaction(fn)
}

// InTransaction сообщает, привязан ли tx к открытой транзакции.
func InTransaction(tx *gorm.DB) bool {
	if tx == nil || tx.Statement == nil {
		return false
	}
	_, ok := tx.Statement.ConnPool.(gorm.TxCommitter)
	return ok
}
