// Package testutil содержит общие утилиты для тестирования.
// ВАЖНО: этот пакет не импортирует пакеты модуля, иначе их тесты получат циклический импорт.
// Фейки хранилищ в памяти лежат в testutil/fakes.
package testutil

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// =============================================================================
// sqlmock + GORM
// =============================================================================

// NewMockDB создаёт GORM поверх sqlmock с regexp сопоставлением запросов.
func NewMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()

	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err, "Ошибка создания sqlmock")

	gormDB, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err, "Ошибка инициализации GORM")

	t.Cleanup(func() { _ = sqlDB.Close() })
	return gormDB, mock
}

// =============================================================================
// Транзакция в памяти
// =============================================================================

// Snapshotter — хранилище в памяти, умеющее откатываться.
// Snapshot запоминает состояние и возвращает функцию его восстановления.
type Snapshotter interface {
	Snapshot() (restore func())
}

// ErrCrash — имитация падения процесса до коммита.
var ErrCrash = errors.New("процесс упал до коммита")

// Transactor — транзакция над хранилищами в памяти.
// Транзакции сериализуются, при ошибке или панике все участники откатываются.
// fn получает nil вместо *gorm.DB: фейки его игнорируют.
type Transactor struct {
	mu           sync.Mutex
	participants []Snapshotter

	// FailCommit — если задано, коммит падает с этой ошибкой после успешной fn.
	FailCommit error

	// Commits и Rollbacks считают завершённые транзакции.
	Commits   int
	Rollbacks int
}

// NewTransactor создаёт Transactor над участниками.
func NewTransactor(participants ...Snapshotter) *Transactor {
	return &Transactor{participants: participants}
}

// Add добавляет участника транзакций.
func (t *Transactor) Add(p Snapshotter) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.participants = append(t.participants, p)
}

// Transaction выполняет fn атомарно относительно участников.
func (t *Transactor) Transaction(_ context.Context, fn func(tx *gorm.DB) error) (err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	restores := make([]func(), 0, len(t.participants))
	for _, p := range t.participants {
		restores = append(restores, p.Snapshot())
	}
	rollback := func() {
		for _, restore := range restores {
			restore()
		}
		t.Rollbacks++
	}

	defer func() {
		if r := recover(); r != nil {
			rollback()
			panic(r)
		}
	}()

	if err = fn(nil); err != nil {
		rollback()
		return err
	}
	if t.FailCommit != nil {
		rollback()
		return t.FailCommit
	}
	t.Commits++
	return nil
}

// =============================================================================
// Таблица в памяти
// =============================================================================

// Table — таблица в памяти с откатом для фейков репозиториев сервисов.
// Строки хранятся и отдаются копиями, сделанными clone, поэтому изменения
// доменной сущности вне Put не попадают в хранилище.
type Table[T any] struct {
	mu    sync.Mutex
	keys  []string
	rows  map[string]T
	clone func(T) T
}

// NewTable создаёт пустую таблицу.
func NewTable[T any](clone func(T) T) *Table[T] {
	return &Table[T]{rows: make(map[string]T), clone: clone}
}

// Snapshot запоминает состояние для отката.
func (t *Table[T]) Snapshot() func() {
	t.mu.Lock()
	keys := append([]string(nil), t.keys...)
	rows := make(map[string]T, len(t.rows))
	for k, v := range t.rows {
		rows[k] = t.clone(v)
	}
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		t.keys = keys
		t.rows = rows
		t.mu.Unlock()
	}
}

// Get возвращает копию строки.
func (t *Table[T]) Get(key string) (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.rows[key]
	if !ok {
		var zero T
		return zero, false
	}
	return t.clone(v), true
}

// Put вставляет или заменяет строку.
func (t *Table[T]) Put(key string, v T) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.rows[key]; !ok {
		t.keys = append(t.keys, key)
	}
	t.rows[key] = t.clone(v)
}

// Find возвращает копии строк, подходящих под match, в порядке вставки.
func (t *Table[T]) Find(match func(T) bool) []T {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []T
	for _, k := range t.keys {
		if v := t.rows[k]; match(v) {
			out = append(out, t.clone(v))
		}
	}
	return out
}

// Len возвращает число строк.
func (t *Table[T]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.rows)
}
