package cache

import (
	"context"
	"time"

	"github.com/Jcrispin99/gym-app-sub001/internal/domain"
)

// StockCache memoizes stock reads per (variant, warehouse) key. Entries are
// invalidated whenever a document posting touches the key, so a hit is at
// worst TTL-stale against writes that bypassed this process.
type StockCache interface {
	Get(ctx context.Context, key string) (*domain.StockStatus, bool, error)
	Set(ctx context.Context, key string, value *domain.StockStatus, ttl time.Duration) error
	Invalidate(ctx context.Context, key string) error
}

type NoopStockCache struct{}

func (NoopStockCache) Get(_ context.Context, _ string) (*domain.StockStatus, bool, error) {
	return nil, false, nil
}

func (NoopStockCache) Set(_ context.Context, _ string, _ *domain.StockStatus, _ time.Duration) error {
	return nil
}

func (NoopStockCache) Invalidate(_ context.Context, _ string) error {
	return nil
}
