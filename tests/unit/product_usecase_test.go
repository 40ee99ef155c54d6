package unit

import (
	"context"
	"net/http"
	"testing"

	"app/internal/domain/model"
	"app/internal/usecase"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newProductUsecase(store *fakeStore) *usecase.ProductUsecase {
	return usecase.NewProductUsecase(
		&fakeProductRepo{store},
		&fakeLedgerRepo{store},
		newFakeTxManager(store),
	)
}

func TestGetProductDetail_ReadsAvailableFromLedger(t *testing.T) {
	store := newFakeStore()
	store.setProduct(model.Product{ID: 1, Name: "apple", Price: 120, IsActive: true})
	store.setLedger(1, 10, 6, 4)
	u := newProductUsecase(store)

	out, err := u.GetProductDetail(context.Background(), 1)

	require.NoError(t, err)
	assert.Equal(t, "apple", out.Product.Name)
	//見せるのはavailableだけ（totalでもreservedでもない）
	assert.Equal(t, int64(6), out.AvailableStock)
}

func TestGetProductDetail_InactiveHidden(t *testing.T) {
	store := newFakeStore()
	store.setProduct(model.Product{ID: 1, Name: "hidden", Price: 120, IsActive: false})
	u := newProductUsecase(store)

	_, err := u.GetProductDetail(context.Background(), 1)

	he, ok := usecase.AsHTTPError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusNotFound, he.Status)
}

func TestListPublicProducts_Validation(t *testing.T) {
	u := newProductUsecase(newFakeStore())
	ctx := context.Background()

	neg := int64(-1)
	low := int64(100)
	high := int64(50)

	cases := []struct {
		name string
		in   usecase.ListProductsInput
		msg  string
	}{
		{"page zero", usecase.ListProductsInput{Page: 0, Limit: 20}, "invalid page"},
		{"limit too big", usecase.ListProductsInput{Page: 1, Limit: 101}, "invalid limit"},
		{"negative min", usecase.ListProductsInput{Page: 1, Limit: 20, MinPrice: &neg}, "min_price"},
		{"min over max", usecase.ListProductsInput{Page: 1, Limit: 20, MinPrice: &low, MaxPrice: &high}, "min_price must be <= max_price"},
		{"bad sort", usecase.ListProductsInput{Page: 1, Limit: 20, Sort: "oldest"}, "invalid sort"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := u.ListPublicProducts(ctx, tc.in)
			assertErrContains(t, err, tc.msg)
		})
	}
}

func TestAdminCreateProduct_CreatesLedgerToo(t *testing.T) {
	store := newFakeStore()
	u := newProductUsecase(store)

	id, err := u.AdminCreateProduct(context.Background(), 1, usecase.AdminCreateProductInput{
		Name:     "apple",
		Price:    120,
		Stock:    10,
		IsActive: true,
	})

	require.NoError(t, err)
	require.NotZero(t, id)

	l, ok := store.ledgers[id]
	require.True(t, ok)
	assert.Equal(t, int64(10), l.TotalStock)
	assert.Equal(t, int64(10), l.AvailableStock)
	assert.Equal(t, int64(0), l.ReservedStock)
}

func TestAdminCreateProduct_Validation(t *testing.T) {
	u := newProductUsecase(newFakeStore())
	ctx := context.Background()

	_, err := u.AdminCreateProduct(ctx, 1, usecase.AdminCreateProductInput{Name: "  ", Price: 100, Stock: 1})
	assertErrContains(t, err, "name required")

	_, err = u.AdminCreateProduct(ctx, 1, usecase.AdminCreateProductInput{Name: "x", Price: -1, Stock: 1})
	assertErrContains(t, err, "price")

	_, err = u.AdminCreateProduct(ctx, 1, usecase.AdminCreateProductInput{Name: "x", Price: 1, Stock: -1})
	assertErrContains(t, err, "stock")
}

func TestAdminSetStock_RecordsAdjustmentDelta(t *testing.T) {
	store := newFakeStore()
	store.setProduct(model.Product{ID: 1, Name: "apple", Price: 120, IsActive: true})
	store.setLedger(1, 10, 8, 2)
	u := newProductUsecase(store)

	require.NoError(t, u.AdminSetStock(context.Background(), 5, usecase.AdminSetStockInput{
		ProductID: 1,
		NewTotal:  15,
		Reason:    "restock",
	}))

	l := store.ledgers[1]
	assert.Equal(t, int64(15), l.TotalStock)
	assert.Equal(t, int64(13), l.AvailableStock)
	assert.Equal(t, int64(2), l.ReservedStock)
	assertLedgerInvariant(t, l)

	require.Len(t, store.adjustments, 1)
	adj := store.adjustments[0]
	assert.Equal(t, int64(5), adj.AdminUserID)
	assert.Equal(t, int64(5), adj.Delta)
	assert.Equal(t, "restock", adj.Reason)
}

func TestAdminSetStock_BelowReservedConflicts(t *testing.T) {
	store := newFakeStore()
	store.setLedger(1, 10, 5, 5)
	u := newProductUsecase(store)

	err := u.AdminSetStock(context.Background(), 5, usecase.AdminSetStockInput{
		ProductID: 1,
		NewTotal:  3,
		Reason:    "shrink",
	})

	he, ok := usecase.AsHTTPError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusConflict, he.Status)

	//台帳も調整履歴も変わらない
	assert.Equal(t, int64(10), store.ledgers[1].TotalStock)
	assert.Empty(t, store.adjustments)
}

func TestAdminSetStock_UnknownProduct(t *testing.T) {
	u := newProductUsecase(newFakeStore())

	err := u.AdminSetStock(context.Background(), 5, usecase.AdminSetStockInput{
		ProductID: 42,
		NewTotal:  3,
		Reason:    "restock",
	})

	he, ok := usecase.AsHTTPError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusNotFound, he.Status)
}

func TestAdminGetStock(t *testing.T) {
	store := newFakeStore()
	store.setLedger(1, 10, 6, 4)
	u := newProductUsecase(store)

	l, err := u.AdminGetStock(context.Background(), 5, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(10), l.TotalStock)
	assert.Equal(t, int64(4), l.ReservedStock)

	_, err = u.AdminGetStock(context.Background(), 5, 99)
	he, ok := usecase.AsHTTPError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusNotFound, he.Status)
}

func TestAdminSetStock_InfraFailureIs500(t *testing.T) {
	store := newFakeStore()
	store.setLedger(1, 10, 8, 2)
	store.setTotalStockErr = assert.AnError
	u := newProductUsecase(store)

	err := u.AdminSetStock(context.Background(), 5, usecase.AdminSetStockInput{
		ProductID: 1,
		NewTotal:  15,
		Reason:    "restock",
	})

	//DB障害は業務上の競合と区別して500で返す
	he, ok := usecase.AsHTTPError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusInternalServerError, he.Status)
	assert.Empty(t, store.adjustments)
}
