package model

import "time"

type ReservationState string

const (
	ReservationStateNone       ReservationState = "NONE"
	ReservationStateReserved   ReservationState = "RESERVED"
	ReservationStateFinalized  ReservationState = "FINALIZED"
	ReservationStateRolledBack ReservationState = "ROLLED_BACK"
)

// 終端状態か（FINALIZED / ROLLED_BACK は二度と動かない）
func (s ReservationState) IsTerminal() bool {
	return s == ReservationStateFinalized || s == ReservationStateRolledBack
}

//注文ごとの予約状態。補償処理の二重適用を防ぐ台帳。
//在庫の増減と同じトランザクションで必ず一緒に更新する。

type OrderReservation struct {
	ID        int64            `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID   int64            `gorm:"not null;uniqueIndex" json:"order_id"`
	State     ReservationState `gorm:"type:varchar(20);not null" json:"state"`
	CreatedAt time.Time        `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time        `gorm:"not null;autoUpdateTime" json:"updated_at"`
}
