package usecase

import (
	"context"
	"errors"

	"app/internal/domain/model"
	repo "app/internal/repository"

	"go.uber.org/zap"
)

// 読み側キャッシュの同期破棄。コミット成功後にだけ呼ぶ。
// キャッシュは読み取り最適化であって、在庫判断の根拠には決してしない。
type StockCacheInvalidator interface {
	InvalidateProducts(ctx context.Context, productIDs []int64)
}

// 在庫の予約・確定・戻しを注文単位で行う状態機械。
//
//	NONE --reserve--> RESERVED --finalize--> FINALIZED
//	                  RESERVED --rollback--> ROLLED_BACK
//
// どの操作も同一トランザクション内で予約状態と台帳を一緒に更新するので、
// リトライで同じ増減が二回走ることはない。
type ReservationUsecase struct {
	tx     repo.TransactionManager
	logger *zap.Logger
	cache  StockCacheInvalidator
}

// DI（cacheはnil可）
func NewReservationUsecase(tx repo.TransactionManager, logger *zap.Logger, cache StockCacheInvalidator) *ReservationUsecase {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReservationUsecase{tx: tx, logger: logger, cache: cache}
}

type ReserveItem struct {
	ProductID int64
	Quantity  int64
}

// Reserve は注文の明細ぶんをまとめて予約する。全件成功か、全件なしか。
// すでにRESERVED/終端状態ならno-op成功。
func (u *ReservationUsecase) Reserve(ctx context.Context, orderID int64, items []ReserveItem) error {
	if orderID <= 0 {
		return ErrPreconditionFailed
	}
	if len(items) == 0 {
		return ErrPreconditionFailed
	}
	for _, it := range items {
		if it.ProductID <= 0 || it.Quantity <= 0 {
			return ErrPreconditionFailed
		}
	}

	mutated := false

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		rec, err := u.lockOrCreateReservation(ctx, r, orderID)
		if err != nil {
			return err
		}

		// 再実行は台帳を触らず成功を返す
		if rec.State == model.ReservationStateReserved || rec.State.IsTerminal() {
			return nil
		}

		// 商品ごとの条件付きUPDATE。失敗した商品は全部集める。
		// 一つでも足りなければtxごと中断するので部分予約は残らない。
		var lacking []int64
		for _, it := range items {
			ok, err := r.StockLedgers().ReserveIfAvailable(ctx, it.ProductID, it.Quantity)
			if err != nil {
				return err
			}
			if !ok {
				lacking = append(lacking, it.ProductID)
			}
		}
		if len(lacking) > 0 {
			return &InsufficientStockError{ProductIDs: lacking}
		}

		if err := r.Reservations().UpdateState(ctx, orderID, model.ReservationStateReserved); err != nil {
			return err
		}
		mutated = true
		return nil
	})
	if err != nil {
		return err
	}

	if mutated {
		u.invalidate(ctx, productIDs(items))
	}
	return nil
}

// Finalize は予約を恒久的な払い出しに変える（支払い成功）。
// reservedとtotalが減り、availableは変わらない。
func (u *ReservationUsecase) Finalize(ctx context.Context, orderID int64) error {
	if orderID <= 0 {
		return ErrPreconditionFailed
	}

	var touched []int64

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		rec, err := r.Reservations().FindByOrderIDForUpdate(ctx, orderID)
		if errors.Is(err, repo.ErrNotFound) {
			return ErrPreconditionFailed
		}
		if err != nil {
			return err
		}

		switch rec.State {
		case model.ReservationStateNone:
			return ErrPreconditionFailed
		case model.ReservationStateFinalized:
			return nil
		case model.ReservationStateRolledBack:
			return ErrStateConflict
		}

		items, err := r.OrderItems().ListByOrderID(ctx, orderID)
		if err != nil {
			return err
		}

		for _, it := range items {
			applied, err := r.StockLedgers().DeductReserved(ctx, it.ProductID, it.Quantity)
			if errors.Is(err, repo.ErrNotFound) {
				u.recordAnomaly(ctx, r, orderID, it.ProductID, model.AnomalyKindMissingLedger, it.Quantity, 0)
				continue
			}
			if err != nil {
				return err
			}
			if applied < it.Quantity {
				u.recordAnomaly(ctx, r, orderID, it.ProductID, model.AnomalyKindUnderReserved, it.Quantity, applied)
			}
			touched = append(touched, it.ProductID)
		}

		return r.Reservations().UpdateState(ctx, orderID, model.ReservationStateFinalized)
	})
	if err != nil {
		return err
	}

	u.invalidate(ctx, touched)
	return nil
}

type RollbackAnomaly struct {
	ProductID    int64             `json:"product_id"`
	Kind         model.AnomalyKind `json:"kind"`
	RequestedQty int64             `json:"requested_qty"`
	RestoredQty  int64             `json:"restored_qty"`
}

type RollbackOutput struct {
	Anomalies []RollbackAnomaly `json:"anomalies"`
}

// Rollback は予約をavailableへ戻す（支払い失敗・キャンセル）。
// 明細の異常は記録して続行し、処理後は必ずROLLED_BACKにする。
// 二回目以降はno-op成功。戻せる分だけ戻し、reservedは絶対に負にしない。
func (u *ReservationUsecase) Rollback(ctx context.Context, orderID int64) (RollbackOutput, error) {
	if orderID <= 0 {
		return RollbackOutput{}, ErrPreconditionFailed
	}

	var out RollbackOutput
	var touched []int64

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		rec, err := u.lockOrCreateReservation(ctx, r, orderID)
		if err != nil {
			return err
		}

		switch rec.State {
		case model.ReservationStateRolledBack:
			//二重ロールバック防止。ここが一番大事。
			return nil
		case model.ReservationStateFinalized:
			return ErrStateConflict
		case model.ReservationStateNone:
			//予約前のキャンセル。戻すものがないので状態だけ倒す。
			return r.Reservations().UpdateState(ctx, orderID, model.ReservationStateRolledBack)
		}

		items, err := r.OrderItems().ListByOrderID(ctx, orderID)
		if err != nil {
			return err
		}

		for _, it := range items {
			applied, err := r.StockLedgers().RestoreReserved(ctx, it.ProductID, it.Quantity)
			if errors.Is(err, repo.ErrNotFound) {
				//台帳がない商品があってもロールバック全体は止めない
				u.logger.Error("stock ledger missing during rollback",
					zap.Int64("order_id", orderID),
					zap.Int64("product_id", it.ProductID))
				u.recordAnomaly(ctx, r, orderID, it.ProductID, model.AnomalyKindMissingLedger, it.Quantity, 0)
				out.Anomalies = append(out.Anomalies, RollbackAnomaly{
					ProductID:    it.ProductID,
					Kind:         model.AnomalyKindMissingLedger,
					RequestedQty: it.Quantity,
				})
				continue
			}
			if err != nil {
				return err
			}
			if applied < it.Quantity {
				//予約されていた数より明細が多い。戻せた分だけ戻す。
				u.logger.Warn("under-reserved stock during rollback",
					zap.Int64("order_id", orderID),
					zap.Int64("product_id", it.ProductID),
					zap.Int64("requested", it.Quantity),
					zap.Int64("restored", applied))
				u.recordAnomaly(ctx, r, orderID, it.ProductID, model.AnomalyKindUnderReserved, it.Quantity, applied)
				out.Anomalies = append(out.Anomalies, RollbackAnomaly{
					ProductID:    it.ProductID,
					Kind:         model.AnomalyKindUnderReserved,
					RequestedQty: it.Quantity,
					RestoredQty:  applied,
				})
			}
			if applied > 0 {
				touched = append(touched, it.ProductID)
			}
		}

		//異常があっても「実行済み」にする。リトライに再処理させない。
		return r.Reservations().UpdateState(ctx, orderID, model.ReservationStateRolledBack)
	})
	if err != nil {
		return RollbackOutput{}, err
	}

	u.invalidate(ctx, touched)
	return out, nil
}

type ReservationStatusOutput struct {
	OrderID   int64                  `json:"order_id"`
	State     model.ReservationState `json:"state"`
	Anomalies []model.StockAnomaly   `json:"anomalies"`
}

// GetStatus は注文の予約状態と記録済みの不整合を返す（管理者向けの診断）。
// 予約レコードが無ければNONE扱い。
func (u *ReservationUsecase) GetStatus(ctx context.Context, orderID int64) (ReservationStatusOutput, error) {
	if orderID <= 0 {
		return ReservationStatusOutput{}, ErrPreconditionFailed
	}

	out := ReservationStatusOutput{
		OrderID:   orderID,
		State:     model.ReservationStateNone,
		Anomalies: []model.StockAnomaly{},
	}

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		rec, err := r.Reservations().FindByOrderID(ctx, orderID)
		if err == nil {
			out.State = rec.State
		} else if !errors.Is(err, repo.ErrNotFound) {
			return err
		}

		anomalies, err := r.Anomalies().ListByOrderID(ctx, orderID)
		if err != nil {
			return err
		}
		if len(anomalies) > 0 {
			out.Anomalies = anomalies
		}
		return nil
	})
	if err != nil {
		return ReservationStatusOutput{}, err
	}
	return out, nil
}

// 予約レコードをFOR UPDATEで取る。なければNONEで作る。
// 同時に作られた場合はunique違反になるのでリトライしてもらう。
func (u *ReservationUsecase) lockOrCreateReservation(ctx context.Context, r repo.TxRepos, orderID int64) (model.OrderReservation, error) {
	rec, err := r.Reservations().FindByOrderIDForUpdate(ctx, orderID)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return model.OrderReservation{}, err
	}

	rec = model.OrderReservation{
		OrderID: orderID,
		State:   model.ReservationStateNone,
	}
	if err := r.Reservations().Create(ctx, rec); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			return model.OrderReservation{}, &TransientError{Err: err}
		}
		return model.OrderReservation{}, err
	}
	return rec, nil
}

// 失敗してもロールバック本体は止めない
func (u *ReservationUsecase) recordAnomaly(ctx context.Context, r repo.TxRepos, orderID, productID int64, kind model.AnomalyKind, requested, restored int64) {
	err := r.Anomalies().Create(ctx, model.StockAnomaly{
		OrderID:      orderID,
		ProductID:    productID,
		Kind:         kind,
		RequestedQty: requested,
		RestoredQty:  restored,
	})
	if err != nil {
		u.logger.Error("failed to record stock anomaly",
			zap.Int64("order_id", orderID),
			zap.Int64("product_id", productID),
			zap.Error(err))
	}
}

func (u *ReservationUsecase) invalidate(ctx context.Context, ids []int64) {
	if u.cache == nil || len(ids) == 0 {
		return
	}
	u.cache.InvalidateProducts(ctx, ids)
}

func productIDs(items []ReserveItem) []int64 {
	ids := make([]int64, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ProductID)
	}
	return ids
}
