package usecase

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"app/internal/domain/model"
	repo "app/internal/repository"
)

type OrderUsecase struct {
	tx          repo.TransactionManager
	reservation *ReservationUsecase
}

func NewOrderUsecase(tx repo.TransactionManager, reservation *ReservationUsecase) *OrderUsecase {
	return &OrderUsecase{tx: tx, reservation: reservation}
}

type OrderLineInput struct {
	ProductID int64 `json:"product_id"`
	Quantity  int64 `json:"quantity"`
}

type PlaceOrderInput struct {
	Items          []OrderLineInput
	IdempotencyKey string
}

type OrderItemOutput struct {
	ProductID int64  `json:"product_id"`
	Name      string `json:"name"`
	Price     int64  `json:"price"`
	Quantity  int64  `json:"quantity"`
}

type OrderOutput struct {
	ID         int64             `json:"id"`
	UserID     int64             `json:"user_id"`
	Status     string            `json:"status"`
	TotalPrice int64             `json:"total_price"`
	CreatedAt  time.Time         `json:"created_at"`
	Items      []OrderItemOutput `json:"items"`
}

// PlaceOrder は注文を作って在庫を予約する。
// 同じIdempotencyKeyの再送には同じ注文を返す。
func (u *OrderUsecase) PlaceOrder(ctx context.Context, userID int64, in PlaceOrderInput) (OrderOutput, error) {
	if userID <= 0 {
		return OrderOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	key := strings.TrimSpace(in.IdempotencyKey)
	if key == "" || len(key) > 255 {
		return OrderOutput{}, NewHTTPError(http.StatusBadRequest, "invalid idempotency_key")
	}
	if len(in.Items) == 0 {
		return OrderOutput{}, NewHTTPError(http.StatusBadRequest, "items required")
	}
	for _, it := range in.Items {
		if it.ProductID <= 0 || it.Quantity <= 0 {
			return OrderOutput{}, NewHTTPError(http.StatusBadRequest, "invalid items")
		}
	}

	var out OrderOutput
	var orderID int64
	replayed := false

	//注文作成はトランザクション
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		// 同じキーなら同じ結果
		existing, found, err := r.Orders().FindByIdempotencyKey(ctx, userID, key)
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		if found {
			items, err := r.OrderItems().ListByOrderID(ctx, existing.ID)
			if err != nil {
				return NewHTTPError(http.StatusInternalServerError, "db error")
			}
			out = toOrderOutput(existing, items)
			replayed = true
			return nil
		}

		//商品のスナップショットを取りながら明細を組む
		orderItems := make([]model.OrderItem, 0, len(in.Items))
		var total int64 = 0
		now := time.Now()

		for _, it := range in.Items {
			p, err := r.Products().FindByID(ctx, it.ProductID)
			if errors.Is(err, repo.ErrNotFound) {
				return NewHTTPError(http.StatusBadRequest, "invalid product")
			}
			if err != nil {
				return NewHTTPError(http.StatusInternalServerError, "db error")
			}
			if !p.IsActive {
				return NewHTTPError(http.StatusBadRequest, "invalid product")
			}

			orderItems = append(orderItems, model.OrderItem{
				ProductID:           it.ProductID,
				ProductNameSnapshot: p.Name,
				UnitPriceSnapshot:   p.Price,
				Quantity:            it.Quantity,
				CreatedAt:           now,
			})
			total += p.Price * it.Quantity
		}

		id, err := r.Orders().Create(ctx, model.Order{
			UserID:         userID,
			Status:         model.OrderStatusPending,
			TotalPrice:     total,
			IdempotencyKey: key,
			CreatedAt:      now,
			UpdatedAt:      now,
		})
		if err != nil {
			//競合（同時で同じキーが入った等）はもう一回検索して同じ結果を返す
			ex2, found2, err2 := r.Orders().FindByIdempotencyKey(ctx, userID, key)
			if err2 == nil && found2 {
				items2, err3 := r.OrderItems().ListByOrderID(ctx, ex2.ID)
				if err3 != nil {
					return NewHTTPError(http.StatusInternalServerError, "db error")
				}
				out = toOrderOutput(ex2, items2)
				replayed = true
				return nil
			}
			return NewHTTPError(http.StatusBadRequest, "idempotency conflict")
		}

		if err := r.OrderItems().CreateBulk(ctx, id, orderItems); err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}

		orderID = id
		out = toOrderOutput(model.Order{
			ID:         id,
			UserID:     userID,
			Status:     model.OrderStatusPending,
			TotalPrice: total,
			CreatedAt:  now,
		}, orderItems)
		return nil
	})
	if err != nil {
		return OrderOutput{}, err
	}
	if replayed {
		if out.Status != string(model.OrderStatusPending) {
			return out, nil
		}
		//PENDINGのままの再送は予約の前に落ちた可能性がある。
		//Reserveは冪等なので、もう一度呼んで取りこぼしを回収する。
		orderID = out.ID
	}

	//在庫予約。失敗したら注文はキャンセルに倒す。
	//明細は保存済みスナップショットから組む（再送時も同じ内容で予約する）。
	reserveItems := make([]ReserveItem, 0, len(out.Items))
	for _, it := range out.Items {
		reserveItems = append(reserveItems, ReserveItem{ProductID: it.ProductID, Quantity: it.Quantity})
	}

	if err := u.reservation.Reserve(ctx, orderID, reserveItems); err != nil {
		if _, ok := AsInsufficientStock(err); ok {
			_ = u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
				return r.Orders().UpdateStatus(ctx, orderID, model.OrderStatusCanceled)
			})
			return OrderOutput{}, err
		}
		return OrderOutput{}, err
	}

	return out, nil
}

// CancelOrder は支払い前の注文を取り消して在庫を戻す。
func (u *OrderUsecase) CancelOrder(ctx context.Context, userID int64, orderID int64) error {
	if userID <= 0 {
		return NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if orderID <= 0 {
		return NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	var o model.Order
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		found, err := r.Orders().FindByID(ctx, orderID)
		if errors.Is(err, repo.ErrNotFound) {
			return NewHTTPError(http.StatusNotFound, "not found")
		}
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		if found.UserID != userID {
			//他人の注文は「存在しない扱い」にする
			return NewHTTPError(http.StatusNotFound, "not found")
		}
		o = found
		return nil
	})
	if err != nil {
		return err
	}

	switch o.Status {
	case model.OrderStatusCanceled:
		//キャンセル済みはそのまま成功
		return nil
	case model.OrderStatusPending:
	default:
		return NewHTTPError(http.StatusConflict, "cannot cancel")
	}

	if _, err := u.reservation.Rollback(ctx, orderID); err != nil {
		if errors.Is(err, ErrStateConflict) {
			return NewHTTPError(http.StatusConflict, "cannot cancel")
		}
		return NewHTTPError(http.StatusInternalServerError, "rollback failed")
	}

	return u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		if err := r.Orders().UpdateStatus(ctx, orderID, model.OrderStatusCanceled); err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		return nil
	})
}

func (u *OrderUsecase) ListMyOrders(ctx context.Context, userID int64) ([]OrderOutput, error) {
	if userID <= 0 {
		return []OrderOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}

	//ページングでまずは固定で取る
	var outs []OrderOutput

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		orders, _, err := r.Orders().ListByUserID(ctx, userID, 1, 50)
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}

		outs = make([]OrderOutput, 0, len(orders))
		for _, o := range orders {
			items, err := r.OrderItems().ListByOrderID(ctx, o.ID)
			if err != nil {
				return NewHTTPError(http.StatusInternalServerError, "db error")
			}
			outs = append(outs, toOrderOutput(o, items))
		}
		return nil
	})
	if err != nil {
		return []OrderOutput{}, err
	}
	return outs, nil
}

func (u *OrderUsecase) GetMyOrderDetail(ctx context.Context, userID int64, orderID int64) (OrderOutput, error) {
	if userID <= 0 {
		return OrderOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if orderID <= 0 {
		return OrderOutput{}, NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	var out OrderOutput

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := r.Orders().FindByID(ctx, orderID)
		if errors.Is(err, repo.ErrNotFound) {
			return NewHTTPError(http.StatusNotFound, "not found")
		}
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		if o.UserID != userID {
			return NewHTTPError(http.StatusNotFound, "not found")
		}

		items, err := r.OrderItems().ListByOrderID(ctx, orderID)
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}

		out = toOrderOutput(o, items)
		return nil
	})
	if err != nil {
		return OrderOutput{}, err
	}
	return out, nil
}

func toOrderOutput(o model.Order, items []model.OrderItem) OrderOutput {
	outItems := make([]OrderItemOutput, 0, len(items))
	for _, it := range items {
		outItems = append(outItems, OrderItemOutput{
			ProductID: it.ProductID,
			Name:      it.ProductNameSnapshot,
			Price:     it.UnitPriceSnapshot,
			Quantity:  it.Quantity,
		})
	}

	return OrderOutput{
		ID:         o.ID,
		UserID:     o.UserID,
		Status:     string(o.Status),
		TotalPrice: o.TotalPrice,
		CreatedAt:  o.CreatedAt,
		Items:      outItems,
	}
}
