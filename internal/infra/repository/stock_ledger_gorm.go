package repository

import (
	"context"
	"errors"
	"fmt"

	"app/internal/domain/model"
	repo "app/internal/repository"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type StockLedgerGormRepository struct {
	db *gorm.DB
}

func NewStockLedgerGormRepository(db *gorm.DB) *StockLedgerGormRepository {
	return &StockLedgerGormRepository{db: db}
}

func (r *StockLedgerGormRepository) FindByProductID(ctx context.Context, productID int64) (model.StockLedger, error) {
	var l model.StockLedger
	err := r.db.WithContext(ctx).Where("product_id = ?", productID).First(&l).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.StockLedger{}, repo.ErrNotFound
	}
	if err != nil {
		return model.StockLedger{}, err
	}
	return l, nil
}

func (r *StockLedgerGormRepository) Create(ctx context.Context, ledger model.StockLedger) error {
	return r.db.WithContext(ctx).Create(&ledger).Error
}

// 在庫が足りるときだけ予約に移す（check-then-mutateを1文で直列化）
func (r *StockLedgerGormRepository) ReserveIfAvailable(ctx context.Context, productID int64, qty int64) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&model.StockLedger{}).
		Where("product_id = ? AND available_stock >= ?", productID, qty).
		Updates(map[string]interface{}{
			"available_stock": gorm.Expr("available_stock - ?", qty),
			"reserved_stock":  gorm.Expr("reserved_stock + ?", qty),
		})

	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	return true, nil
}

// 確定：予約分を総在庫ごと減らす（出荷済み扱い）。reservedは負にしない。
func (r *StockLedgerGormRepository) DeductReserved(ctx context.Context, productID int64, qty int64) (int64, error) {
	var applied int64

	err := r.withLockedLedger(ctx, productID, func(tx *gorm.DB, l *model.StockLedger) error {
		applied = min64(qty, l.ReservedStock)
		if applied == 0 {
			return nil
		}
		return tx.Model(l).Updates(map[string]interface{}{
			"reserved_stock": gorm.Expr("reserved_stock - ?", applied),
			"total_stock":    gorm.Expr("total_stock - ?", applied),
		}).Error
	})
	if err != nil {
		return 0, err
	}
	return applied, nil
}

// 戻し：予約分をavailableへ返す。reservedは負にしない。
func (r *StockLedgerGormRepository) RestoreReserved(ctx context.Context, productID int64, qty int64) (int64, error) {
	var applied int64

	err := r.withLockedLedger(ctx, productID, func(tx *gorm.DB, l *model.StockLedger) error {
		applied = min64(qty, l.ReservedStock)
		if applied == 0 {
			return nil
		}
		return tx.Model(l).Updates(map[string]interface{}{
			"reserved_stock":  gorm.Expr("reserved_stock - ?", applied),
			"available_stock": gorm.Expr("available_stock + ?", applied),
		}).Error
	})
	if err != nil {
		return 0, err
	}
	return applied, nil
}

// 総在庫の付け替え。予約中の分は奪えない。
func (r *StockLedgerGormRepository) SetTotalStock(ctx context.Context, productID int64, newTotal int64) error {
	return r.withLockedLedger(ctx, productID, func(tx *gorm.DB, l *model.StockLedger) error {
		if newTotal < l.ReservedStock {
			return fmt.Errorf("%w: total %d reserved %d", repo.ErrStockBelowReserved, newTotal, l.ReservedStock)
		}
		return tx.Model(l).Updates(map[string]interface{}{
			"total_stock":     newTotal,
			"available_stock": newTotal - l.ReservedStock,
		}).Error
	})
}

// 調整履歴作成
func (r *StockLedgerGormRepository) CreateAdjustment(ctx context.Context, adj model.InventoryAdjustment) error {
	return r.db.WithContext(ctx).Create(&adj).Error
}

// 対象商品の行をFOR UPDATEで取ってから更新する
func (r *StockLedgerGormRepository) withLockedLedger(ctx context.Context, productID int64, fn func(tx *gorm.DB, l *model.StockLedger) error) error {
	var l model.StockLedger
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("product_id = ?", productID).
		First(&l).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return repo.ErrNotFound
	}
	if err != nil {
		return err
	}
	return fn(r.db.WithContext(ctx), &l)
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
