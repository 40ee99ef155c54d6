package repository

import (
	"app/internal/domain/model"
	"context"
)

// ロールバック時の不整合記録
type StockAnomalyRepository interface {
	Create(ctx context.Context, anomaly model.StockAnomaly) error
	ListByOrderID(ctx context.Context, orderID int64) ([]model.StockAnomaly, error)
}
