package model

import "time"

type AnomalyKind string

const (
	//台帳が見つからない
	AnomalyKindMissingLedger AnomalyKind = "MISSING_LEDGER"
	//予約数より少ない在庫しか戻せなかった
	AnomalyKindUnderReserved AnomalyKind = "UNDER_RESERVED"
)

//ロールバック中に見つかった不整合の記録。致命ではなく診断用。

type StockAnomaly struct {
	ID           int64       `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID      int64       `gorm:"not null;index" json:"order_id"`
	ProductID    int64       `gorm:"not null;index" json:"product_id"`
	Kind         AnomalyKind `gorm:"type:varchar(30);not null" json:"kind"`
	RequestedQty int64       `gorm:"not null" json:"requested_qty"`
	RestoredQty  int64       `gorm:"not null" json:"restored_qty"`
	CreatedAt    time.Time   `gorm:"not null;autoCreateTime" json:"created_at"`
}
