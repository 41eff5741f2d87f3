package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"example.com/fulfillment/services/inventory/internal/domain"
)

// StockCache — кэш остатков для чтения через API.
// Источник правды — таблица stock: кэш сбрасывается при каждом изменении
// остатка и живёт не дольше ttl.
type StockCache struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewStockCache создаёт кэш остатков.
func NewStockCache(rdb *redis.Client, ttl time.Duration) *StockCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &StockCache{redis: rdb, ttl: ttl}
}

type cachedStock struct {
	SKU       int64     `json:"sku"`
	Available int       `json:"available"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func stockKey(sku int64) string {
	return fmt.Sprintf("inventory:stock:%d", sku)
}

// Get возвращает остаток из кэша. Промах — (nil, nil).
func (c *StockCache) Get(ctx context.Context, sku int64) (*domain.Stock, error) {
	raw, err := c.redis.Get(ctx, stockKey(sku)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var v cachedStock
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("битая запись кэша остатка %d: %w", sku, err)
	}
	return &domain.Stock{SKU: v.SKU, Available: v.Available, UpdatedAt: v.UpdatedAt}, nil
}

// Set кладёт остаток в кэш на ttl.
func (c *StockCache) Set(ctx context.Context, s *domain.Stock) error {
	raw, err := json.Marshal(cachedStock{SKU: s.SKU, Available: s.Available, UpdatedAt: s.UpdatedAt})
	if err != nil {
		return err
	}
	return c.redis.Set(ctx, stockKey(s.SKU), raw, c.ttl).Err()
}

// Invalidate удаляет остатки SKU из кэша.
func (c *StockCache) Invalidate(ctx context.Context, skus ...int64) error {
	if len(skus) == 0 {
		return nil
	}
	keys := make([]string, len(skus))
	for i, sku := range skus {
		keys[i] = stockKey(sku)
	}
	return c.redis.Del(ctx, keys...).Err()
}
