package usecase

import (
	"context"
	"errors"
	"net/http"

	"app/internal/domain/model"
	repo "app/internal/repository"

	"go.uber.org/zap"
)

// 決済結果を受けて注文と在庫を確定/戻しする（webhook駆動）。
// webhookは再配送されるので、ここから先は全部冪等でなければならない。
type PaymentUsecase struct {
	tx          repo.TransactionManager
	reservation *ReservationUsecase
	logger      *zap.Logger
}

func NewPaymentUsecase(tx repo.TransactionManager, reservation *ReservationUsecase, logger *zap.Logger) *PaymentUsecase {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PaymentUsecase{tx: tx, reservation: reservation, logger: logger}
}

type PaymentResultInput struct {
	OrderID int64
	Paid    bool
}

// RecordPaymentResult は支払い成功なら確定、失敗なら戻し。
func (u *PaymentUsecase) RecordPaymentResult(ctx context.Context, in PaymentResultInput) error {
	if in.OrderID <= 0 {
		return NewHTTPError(http.StatusBadRequest, "invalid order_id")
	}

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		_, err := r.Orders().FindByID(ctx, in.OrderID)
		if errors.Is(err, repo.ErrNotFound) {
			return NewHTTPError(http.StatusNotFound, "not found")
		}
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		return nil
	})
	if err != nil {
		return err
	}

	if in.Paid {
		return u.markPaid(ctx, in.OrderID)
	}
	return u.markFailed(ctx, in.OrderID)
}

func (u *PaymentUsecase) markPaid(ctx context.Context, orderID int64) error {
	if err := u.reservation.Finalize(ctx, orderID); err != nil {
		switch {
		case errors.Is(err, ErrStateConflict):
			//ロールバック済みの注文に支払い成功が届いた
			u.logger.Error("payment success for rolled back order", zap.Int64("order_id", orderID))
			return NewHTTPError(http.StatusConflict, "order already rolled back")
		case errors.Is(err, ErrPreconditionFailed):
			return NewHTTPError(http.StatusConflict, "order not reserved")
		case IsTransient(err):
			return NewHTTPError(http.StatusServiceUnavailable, "retry later")
		}
		return NewHTTPError(http.StatusInternalServerError, "finalize failed")
	}

	return u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		if err := r.Orders().UpdateStatus(ctx, orderID, model.OrderStatusPaid); err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		return nil
	})
}

func (u *PaymentUsecase) markFailed(ctx context.Context, orderID int64) error {
	out, err := u.reservation.Rollback(ctx, orderID)
	if err != nil {
		switch {
		case errors.Is(err, ErrStateConflict):
			//確定済みの注文に支払い失敗が届いた
			u.logger.Error("payment failure for finalized order", zap.Int64("order_id", orderID))
			return NewHTTPError(http.StatusConflict, "order already finalized")
		case IsTransient(err):
			return NewHTTPError(http.StatusServiceUnavailable, "retry later")
		}
		return NewHTTPError(http.StatusInternalServerError, "rollback failed")
	}
	if len(out.Anomalies) > 0 {
		u.logger.Warn("rollback finished with anomalies",
			zap.Int64("order_id", orderID),
			zap.Int("anomalies", len(out.Anomalies)))
	}

	return u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		if err := r.Orders().UpdateStatus(ctx, orderID, model.OrderStatusCanceled); err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		return nil
	})
}
