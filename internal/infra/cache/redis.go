package cache

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// 商品在庫の読みキャッシュをコミット後に同期破棄する。
// ベストエフォート。失敗してもログだけ残して先へ進む（書き込みの正しさには影響しない）。
type StockCacheInvalidator struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func NewStockCacheInvalidator(addr string, logger *zap.Logger) *StockCacheInvalidator {
	if logger == nil {
		logger = zap.NewNop()
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	return &StockCacheInvalidator{rdb: rdb, logger: logger}
}

func (s *StockCacheInvalidator) InvalidateProducts(ctx context.Context, productIDs []int64) {
	if len(productIDs) == 0 {
		return
	}

	keys := make([]string, 0, len(productIDs))
	for _, id := range productIDs {
		keys = append(keys, fmt.Sprintf("stock:%d", id))
	}

	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		s.logger.Warn("failed to invalidate stock cache",
			zap.Int64s("product_ids", productIDs),
			zap.Error(err))
	}
}

func (s *StockCacheInvalidator) Close() error {
	return s.rdb.Close()
}
