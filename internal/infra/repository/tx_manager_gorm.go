package repository

import (
	"context"
	"errors"
	"fmt"

	repo "app/internal/repository"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

type txReposGorm struct {
	orders       repo.OrderRepository
	orderItems   repo.OrderItemRepository
	products     repo.ProductRepository
	stockLedgers repo.StockLedgerRepository
	reservations repo.ReservationRepository
	anomalies    repo.StockAnomalyRepository
}

func (r *txReposGorm) Orders() repo.OrderRepository             { return r.orders }
func (r *txReposGorm) OrderItems() repo.OrderItemRepository     { return r.orderItems }
func (r *txReposGorm) Products() repo.ProductRepository         { return r.products }
func (r *txReposGorm) StockLedgers() repo.StockLedgerRepository { return r.stockLedgers }
func (r *txReposGorm) Reservations() repo.ReservationRepository { return r.reservations }
func (r *txReposGorm) Anomalies() repo.StockAnomalyRepository   { return r.anomalies }

type TxManagerGorm struct {
	db *gorm.DB
}

func NewTxManagerGorm(db *gorm.DB) *TxManagerGorm {
	return &TxManagerGorm{db: db}
}

func (tm *TxManagerGorm) WithinTx(ctx context.Context, fn func(r repo.TxRepos) error) error {
	err := tm.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		//repoはtxを持ったDBで作り直す
		r := &txReposGorm{
			orders:       NewOrderGormRepository(tx),
			orderItems:   NewOrderItemGormRepository(tx),
			products:     NewProductGormRepository(tx),
			stockLedgers: NewStockLedgerGormRepository(tx),
			reservations: NewReservationGormRepository(tx),
			anomalies:    NewStockAnomalyGormRepository(tx),
		}
		return fn(r)
	})
	if isTransientPgError(err) {
		return fmt.Errorf("%w: %v", repo.ErrTransient, err)
	}
	return err
}

// 直列化異常（40001）・デッドロック（40P01）・ロック待ちタイムアウト（55P03）。
// どれもリトライで解消するので呼び出し側に再試行させる。
func isTransientPgError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "40001", "40P01", "55P03":
		return true
	}
	return false
}
