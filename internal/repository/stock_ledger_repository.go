package repository

import (
	"app/internal/domain/model"
	"context"
	"errors"
)

// 総在庫をreservedより下に付け替えようとした
var ErrStockBelowReserved = errors.New("total stock below reserved")

// 在庫台帳の永続化。商品単位の増減は全て条件付きUPDATEか行ロックで直列化する。
type StockLedgerRepository interface {
	FindByProductID(ctx context.Context, productID int64) (model.StockLedger, error)

	// 商品登録時に台帳を作る（available = total, reserved = 0）
	Create(ctx context.Context, ledger model.StockLedger) error

	// available >= qty のときだけ available -= qty, reserved += qty。
	// 足りなければ false（台帳は触らない）。
	ReserveIfAvailable(ctx context.Context, productID int64, qty int64) (bool, error)

	// 確定：reserved と total を min(qty, reserved) だけ減らす。
	// 実際に減らした数を返す（reservedを負にしない）。
	DeductReserved(ctx context.Context, productID int64, qty int64) (int64, error)

	// 戻し：min(qty, reserved) だけ reserved -= n, available += n。
	// 実際に戻した数を返す（reservedを負にしない）。
	RestoreReserved(ctx context.Context, productID int64, qty int64) (int64, error)

	// 管理者による総在庫の付け替え。reserved を下回る値には設定できない。
	SetTotalStock(ctx context.Context, productID int64, newTotal int64) error

	// 調整履歴作成
	CreateAdjustment(ctx context.Context, adjustment model.InventoryAdjustment) error
}
