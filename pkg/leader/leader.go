// Package leader — распределённая блокировка единственного активного экземпляра
// фоновой задачи (Outbox Relay, сканирование таймаутов) на redsync.
package leader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"

	"example.com/fulfillment/pkg/logger"
)

// DefaultTTL — время жизни блокировки без продления.
const DefaultTTL = 10 * time.Second

// Lock — лидерство на ключе Redis. Лидер продлевает блокировку при каждом Acquire.
// TTL должен быть больше интервала опроса, иначе лидерство будет теряться между циклами.
type Lock struct {
	mu     sync.Mutex
	mutex  *redsync.Mutex
	key    string
	holder bool
}

// New создаёт Lock на ключе key.
func New(rdb *redis.Client, key string, ttl time.Duration) *Lock {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	rs := redsync.New(goredis.NewPool(rdb))
	return &Lock{
		key: key,
		mutex: rs.NewMutex(key,
			redsync.WithExpiry(ttl),
			redsync.WithTries(1),
		),
	}
}

// Acquire продлевает лидерство или пытается его захватить.
// Занятая другим экземпляром блокировка — не ошибка: возвращается false.
func (l *Lock) Acquire(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.holder {
		if ok, err := l.mutex.ExtendContext(ctx); err == nil && ok {
			return true, nil
		}
		l.holder = false
		logger.Ctx(ctx).Warn().Str("lock", l.key).Msg("Лидерство потеряно")
	}

	err := l.mutex.TryLockContext(ctx)
	if err == nil {
		l.holder = true
		logger.Ctx(ctx).Info().Str("lock", l.key).Msg("Лидерство захвачено")
		return true, nil
	}

	var taken *redsync.ErrTaken
	if errors.As(err, &taken) || errors.Is(err, redsync.ErrFailed) {
		return false, nil
	}
	return false, fmt.Errorf("ошибка захвата блокировки %s: %w", l.key, err)
}

// IsHolder сообщает, считает ли экземпляр себя лидером.
func (l *Lock) IsHolder() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.holder
}

// Release освобождает блокировку при остановке сервиса.
func (l *Lock) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.holder {
		return nil
	}
	l.holder = false
	if _, err := l.mutex.UnlockContext(ctx); err != nil {
		return fmt.Errorf("ошибка освобождения блокировки %s: %w", l.key, err)
	}
	logger.Ctx(ctx).Info().Str("lock", l.key).Msg("Лидерство освобождено")
	return nil
}
