package repository

import (
	"app/internal/domain/model"
	"context"
	"errors"
)

// 同時作成の衝突（order_idのunique違反）
var ErrConflict = errors.New("conflict")

// 注文ごとの予約状態の永続化。
// 状態の判定と更新は在庫の増減と同じトランザクション内で行うこと。
type ReservationRepository interface {
	FindByOrderID(ctx context.Context, orderID int64) (model.OrderReservation, error)

	// FOR UPDATE で取得して同一注文の並行操作を直列化する
	FindByOrderIDForUpdate(ctx context.Context, orderID int64) (model.OrderReservation, error)

	// unique違反は ErrConflict を返す
	Create(ctx context.Context, rec model.OrderReservation) error

	UpdateState(ctx context.Context, orderID int64, state model.ReservationState) error
}
