package unit

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"app/internal/domain/model"
	repo "app/internal/repository"
	"app/internal/usecase"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type paymentFixture struct {
	store    *fakeStore
	orders   *usecase.OrderUsecase
	payments *usecase.PaymentUsecase
}

func newPaymentFixture() *paymentFixture {
	store := newFakeStore()
	tx := newFakeTxManager(store)
	reservation := usecase.NewReservationUsecase(tx, nil, nil)
	return &paymentFixture{
		store:    store,
		orders:   usecase.NewOrderUsecase(tx, reservation),
		payments: usecase.NewPaymentUsecase(tx, reservation, nil),
	}
}

func (f *paymentFixture) placeOrder(t *testing.T, qty int64) int64 {
	t.Helper()
	out, err := f.orders.PlaceOrder(context.Background(), 7, usecase.PlaceOrderInput{
		IdempotencyKey: "key-1",
		Items:          []usecase.OrderLineInput{{ProductID: 1, Quantity: qty}},
	})
	require.NoError(t, err)
	return out.ID
}

func TestRecordPaymentResult_Paid_FinalizesAndMarksPaid(t *testing.T) {
	f := newPaymentFixture()
	seedProduct(f.store, 1, "apple", 120, 10)
	orderID := f.placeOrder(t, 4)
	ctx := context.Background()

	require.NoError(t, f.payments.RecordPaymentResult(ctx, usecase.PaymentResultInput{OrderID: orderID, Paid: true}))

	l := f.store.ledgers[1]
	assert.Equal(t, int64(6), l.TotalStock)
	assert.Equal(t, int64(0), l.ReservedStock)
	assert.Equal(t, model.OrderStatusPaid, f.store.orders[orderID].Status)
	assert.Equal(t, model.ReservationStateFinalized, f.store.reservations[orderID].State)
}

func TestRecordPaymentResult_Paid_RedeliveryIsNoOp(t *testing.T) {
	f := newPaymentFixture()
	seedProduct(f.store, 1, "apple", 120, 10)
	orderID := f.placeOrder(t, 4)
	ctx := context.Background()

	in := usecase.PaymentResultInput{OrderID: orderID, Paid: true}
	require.NoError(t, f.payments.RecordPaymentResult(ctx, in))
	//webhookの再配送
	require.NoError(t, f.payments.RecordPaymentResult(ctx, in))

	assert.Equal(t, int64(6), f.store.ledgers[1].TotalStock)
}

func TestRecordPaymentResult_Failed_RollsBackAndCancels(t *testing.T) {
	f := newPaymentFixture()
	seedProduct(f.store, 1, "apple", 120, 10)
	orderID := f.placeOrder(t, 4)
	ctx := context.Background()

	require.NoError(t, f.payments.RecordPaymentResult(ctx, usecase.PaymentResultInput{OrderID: orderID, Paid: false}))

	l := f.store.ledgers[1]
	assert.Equal(t, int64(10), l.AvailableStock)
	assert.Equal(t, int64(0), l.ReservedStock)
	assert.Equal(t, model.OrderStatusCanceled, f.store.orders[orderID].Status)
}

func TestRecordPaymentResult_FailedAfterPaid_Conflict(t *testing.T) {
	f := newPaymentFixture()
	seedProduct(f.store, 1, "apple", 120, 10)
	orderID := f.placeOrder(t, 4)
	ctx := context.Background()

	require.NoError(t, f.payments.RecordPaymentResult(ctx, usecase.PaymentResultInput{OrderID: orderID, Paid: true}))

	err := f.payments.RecordPaymentResult(ctx, usecase.PaymentResultInput{OrderID: orderID, Paid: false})
	he, ok := usecase.AsHTTPError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusConflict, he.Status)
	assertErrContains(t, err, "already finalized")

	//確定済みの在庫は戻らない
	assert.Equal(t, int64(6), f.store.ledgers[1].TotalStock)
}

func TestRecordPaymentResult_PaidAfterFailed_Conflict(t *testing.T) {
	f := newPaymentFixture()
	seedProduct(f.store, 1, "apple", 120, 10)
	orderID := f.placeOrder(t, 4)
	ctx := context.Background()

	require.NoError(t, f.payments.RecordPaymentResult(ctx, usecase.PaymentResultInput{OrderID: orderID, Paid: false}))

	err := f.payments.RecordPaymentResult(ctx, usecase.PaymentResultInput{OrderID: orderID, Paid: true})
	he, ok := usecase.AsHTTPError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusConflict, he.Status)
	assertErrContains(t, err, "rolled back")
}

func TestRecordPaymentResult_UnknownOrder_NotFound(t *testing.T) {
	f := newPaymentFixture()

	err := f.payments.RecordPaymentResult(context.Background(), usecase.PaymentResultInput{OrderID: 999, Paid: true})
	he, ok := usecase.AsHTTPError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusNotFound, he.Status)
}

func TestRecordPaymentResult_InvalidOrderID(t *testing.T) {
	f := newPaymentFixture()

	err := f.payments.RecordPaymentResult(context.Background(), usecase.PaymentResultInput{OrderID: 0, Paid: true})
	he, ok := usecase.AsHTTPError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadRequest, he.Status)
}

// 指定回数目以降のtxをリトライ可能な失敗にする
type flakyTxManager struct {
	inner    repo.TransactionManager
	failFrom int
	calls    int
}

func (m *flakyTxManager) WithinTx(ctx context.Context, fn func(r repo.TxRepos) error) error {
	m.calls++
	if m.calls >= m.failFrom {
		return fmt.Errorf("%w: deadlock detected", repo.ErrTransient)
	}
	return m.inner.WithinTx(ctx, fn)
}

func TestRecordPaymentResult_TransientFailureIs503(t *testing.T) {
	store := newFakeStore()
	seedProduct(store, 1, "apple", 120, 10)
	tx := newFakeTxManager(store)
	orders := usecase.NewOrderUsecase(tx, usecase.NewReservationUsecase(tx, nil, nil))

	out, err := orders.PlaceOrder(context.Background(), 7, usecase.PlaceOrderInput{
		IdempotencyKey: "key-1",
		Items:          []usecase.OrderLineInput{{ProductID: 1, Quantity: 4}},
	})
	require.NoError(t, err)

	//注文の存在確認は通り、確定のtxがデッドロックで落ちる
	flaky := &flakyTxManager{inner: tx, failFrom: 2}
	payments := usecase.NewPaymentUsecase(flaky, usecase.NewReservationUsecase(flaky, nil, nil), nil)

	err = payments.RecordPaymentResult(context.Background(), usecase.PaymentResultInput{OrderID: out.ID, Paid: true})

	he, ok := usecase.AsHTTPError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusServiceUnavailable, he.Status)
	//在庫は確定されていない
	assert.Equal(t, int64(10), store.ledgers[1].TotalStock)
	assert.Equal(t, int64(4), store.ledgers[1].ReservedStock)
}
