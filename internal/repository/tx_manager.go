package repository

import (
	"context"
	"errors"
)

// リトライで解消する永続化失敗（デッドロック・直列化異常・ロック待ちタイムアウト）
var ErrTransient = errors.New("transient persistence failure")

// トランザクション内で使う約束
type TxRepos interface {
	Orders() OrderRepository
	OrderItems() OrderItemRepository
	Products() ProductRepository
	StockLedgers() StockLedgerRepository
	Reservations() ReservationRepository
	Anomalies() StockAnomalyRepository
}

// UsecaseからTxの開始/commit/rollbackを隠す。
type TransactionManager interface {
	WithinTx(ctx context.Context, fn func(r TxRepos) error) error
}
