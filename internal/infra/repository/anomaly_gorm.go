package repository

import (
	"context"

	"app/internal/domain/model"

	"gorm.io/gorm"
)

type StockAnomalyGormRepository struct {
	db *gorm.DB
}

func NewStockAnomalyGormRepository(db *gorm.DB) *StockAnomalyGormRepository {
	return &StockAnomalyGormRepository{db: db}
}

func (r *StockAnomalyGormRepository) Create(ctx context.Context, anomaly model.StockAnomaly) error {
	return r.db.WithContext(ctx).Create(&anomaly).Error
}

func (r *StockAnomalyGormRepository) ListByOrderID(ctx context.Context, orderID int64) ([]model.StockAnomaly, error) {
	var items []model.StockAnomaly
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("id asc").
		Find(&items).Error
	if err != nil {
		return []model.StockAnomaly{}, err
	}
	return items, nil
}
