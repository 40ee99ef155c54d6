package model

import "time"

//商品ごとの在庫台帳。在庫数の唯一の正。
//available + reserved == total を常に保つ。

type StockLedger struct {
	ID             int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	ProductID      int64     `gorm:"not null;uniqueIndex" json:"product_id"`
	TotalStock     int64     `gorm:"not null" json:"total_stock"`
	AvailableStock int64     `gorm:"not null" json:"available_stock"`
	ReservedStock  int64     `gorm:"not null" json:"reserved_stock"`
	CreatedAt      time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"not null;autoUpdateTime" json:"updated_at"`
}
