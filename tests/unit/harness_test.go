package unit

import (
	"context"
	"strings"
	"sync"
	"testing"

	"app/internal/domain/model"
	repo "app/internal/repository"

	"github.com/stretchr/testify/assert"
)

// =====================
// In-memory fake store
// =====================

// fakeStore はリポジトリ一式のメモリ実装。
// WithinTxがmutexで直列化するので、行ロック相当の振る舞いになる。
type fakeStore struct {
	mu sync.Mutex

	ledgers      map[int64]model.StockLedger
	reservations map[int64]model.OrderReservation
	orders       map[int64]model.Order
	orderItems   map[int64][]model.OrderItem
	anomalies    []model.StockAnomaly
	adjustments  []model.InventoryAdjustment
	products     map[int64]model.Product

	nextOrderID   int64
	nextProductID int64

	//インフラ障害を注入するためのフック
	setTotalStockErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		ledgers:      map[int64]model.StockLedger{},
		reservations: map[int64]model.OrderReservation{},
		orders:       map[int64]model.Order{},
		orderItems:   map[int64][]model.OrderItem{},
		products:     map[int64]model.Product{},
	}
}

func (s *fakeStore) setLedger(productID, total, available, reserved int64) {
	s.ledgers[productID] = model.StockLedger{
		ProductID:      productID,
		TotalStock:     total,
		AvailableStock: available,
		ReservedStock:  reserved,
	}
}

func (s *fakeStore) setOrderItems(orderID int64, items ...model.OrderItem) {
	s.orderItems[orderID] = items
}

func (s *fakeStore) setProduct(p model.Product) {
	s.products[p.ID] = p
	if p.ID >= s.nextProductID {
		s.nextProductID = p.ID
	}
}

// 全状態のコピー（tx失敗時の巻き戻しに使う）
func (s *fakeStore) snapshot() *fakeStore {
	c := newFakeStore()
	for k, v := range s.ledgers {
		c.ledgers[k] = v
	}
	for k, v := range s.reservations {
		c.reservations[k] = v
	}
	for k, v := range s.orders {
		c.orders[k] = v
	}
	for k, v := range s.orderItems {
		items := make([]model.OrderItem, len(v))
		copy(items, v)
		c.orderItems[k] = items
	}
	for k, v := range s.products {
		c.products[k] = v
	}
	c.anomalies = append([]model.StockAnomaly{}, s.anomalies...)
	c.adjustments = append([]model.InventoryAdjustment{}, s.adjustments...)
	c.nextOrderID = s.nextOrderID
	c.nextProductID = s.nextProductID
	return c
}

func (s *fakeStore) restore(from *fakeStore) {
	s.ledgers = from.ledgers
	s.reservations = from.reservations
	s.orders = from.orders
	s.orderItems = from.orderItems
	s.products = from.products
	s.anomalies = from.anomalies
	s.adjustments = from.adjustments
	s.nextOrderID = from.nextOrderID
	s.nextProductID = from.nextProductID
}

// =====================
// TransactionManager
// =====================

type fakeTxManager struct {
	store *fakeStore
}

func newFakeTxManager(store *fakeStore) *fakeTxManager {
	return &fakeTxManager{store: store}
}

func (m *fakeTxManager) WithinTx(ctx context.Context, fn func(r repo.TxRepos) error) error {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()

	snap := m.store.snapshot()
	if err := fn(&fakeTxRepos{store: m.store}); err != nil {
		//失敗したtxは何も残さない
		m.store.restore(snap)
		return err
	}
	return nil
}

type fakeTxRepos struct {
	store *fakeStore
}

func (r *fakeTxRepos) Orders() repo.OrderRepository             { return &fakeOrderRepo{r.store} }
func (r *fakeTxRepos) OrderItems() repo.OrderItemRepository     { return &fakeOrderItemRepo{r.store} }
func (r *fakeTxRepos) Products() repo.ProductRepository         { return &fakeProductRepo{r.store} }
func (r *fakeTxRepos) StockLedgers() repo.StockLedgerRepository { return &fakeLedgerRepo{r.store} }
func (r *fakeTxRepos) Reservations() repo.ReservationRepository { return &fakeReservationRepo{r.store} }
func (r *fakeTxRepos) Anomalies() repo.StockAnomalyRepository   { return &fakeAnomalyRepo{r.store} }

// =====================
// StockLedgerRepository
// =====================

type fakeLedgerRepo struct{ store *fakeStore }

func (f *fakeLedgerRepo) FindByProductID(ctx context.Context, productID int64) (model.StockLedger, error) {
	l, ok := f.store.ledgers[productID]
	if !ok {
		return model.StockLedger{}, repo.ErrNotFound
	}
	return l, nil
}

func (f *fakeLedgerRepo) Create(ctx context.Context, ledger model.StockLedger) error {
	f.store.ledgers[ledger.ProductID] = ledger
	return nil
}

func (f *fakeLedgerRepo) ReserveIfAvailable(ctx context.Context, productID int64, qty int64) (bool, error) {
	l, ok := f.store.ledgers[productID]
	if !ok || l.AvailableStock < qty {
		return false, nil
	}
	l.AvailableStock -= qty
	l.ReservedStock += qty
	f.store.ledgers[productID] = l
	return true, nil
}

func (f *fakeLedgerRepo) DeductReserved(ctx context.Context, productID int64, qty int64) (int64, error) {
	l, ok := f.store.ledgers[productID]
	if !ok {
		return 0, repo.ErrNotFound
	}
	applied := qty
	if l.ReservedStock < applied {
		applied = l.ReservedStock
	}
	l.ReservedStock -= applied
	l.TotalStock -= applied
	f.store.ledgers[productID] = l
	return applied, nil
}

func (f *fakeLedgerRepo) RestoreReserved(ctx context.Context, productID int64, qty int64) (int64, error) {
	l, ok := f.store.ledgers[productID]
	if !ok {
		return 0, repo.ErrNotFound
	}
	applied := qty
	if l.ReservedStock < applied {
		applied = l.ReservedStock
	}
	l.ReservedStock -= applied
	l.AvailableStock += applied
	f.store.ledgers[productID] = l
	return applied, nil
}

func (f *fakeLedgerRepo) SetTotalStock(ctx context.Context, productID int64, newTotal int64) error {
	if f.store.setTotalStockErr != nil {
		return f.store.setTotalStockErr
	}
	l, ok := f.store.ledgers[productID]
	if !ok {
		return repo.ErrNotFound
	}
	if newTotal < l.ReservedStock {
		return repo.ErrStockBelowReserved
	}
	l.TotalStock = newTotal
	l.AvailableStock = newTotal - l.ReservedStock
	f.store.ledgers[productID] = l
	return nil
}

func (f *fakeLedgerRepo) CreateAdjustment(ctx context.Context, adjustment model.InventoryAdjustment) error {
	f.store.adjustments = append(f.store.adjustments, adjustment)
	return nil
}

// =====================
// ReservationRepository
// =====================

type fakeReservationRepo struct{ store *fakeStore }

func (f *fakeReservationRepo) FindByOrderID(ctx context.Context, orderID int64) (model.OrderReservation, error) {
	rec, ok := f.store.reservations[orderID]
	if !ok {
		return model.OrderReservation{}, repo.ErrNotFound
	}
	return rec, nil
}

func (f *fakeReservationRepo) FindByOrderIDForUpdate(ctx context.Context, orderID int64) (model.OrderReservation, error) {
	return f.FindByOrderID(ctx, orderID)
}

func (f *fakeReservationRepo) Create(ctx context.Context, rec model.OrderReservation) error {
	if _, ok := f.store.reservations[rec.OrderID]; ok {
		return repo.ErrConflict
	}
	f.store.reservations[rec.OrderID] = rec
	return nil
}

func (f *fakeReservationRepo) UpdateState(ctx context.Context, orderID int64, state model.ReservationState) error {
	rec, ok := f.store.reservations[orderID]
	if !ok {
		return repo.ErrNotFound
	}
	rec.State = state
	f.store.reservations[orderID] = rec
	return nil
}

// =====================
// Order / OrderItem
// =====================

type fakeOrderRepo struct{ store *fakeStore }

func (f *fakeOrderRepo) FindByID(ctx context.Context, orderID int64) (model.Order, error) {
	o, ok := f.store.orders[orderID]
	if !ok {
		return model.Order{}, repo.ErrNotFound
	}
	return o, nil
}

func (f *fakeOrderRepo) ListByUserID(ctx context.Context, userID int64, page int, limit int) ([]model.Order, int64, error) {
	var out []model.Order
	for _, o := range f.store.orders {
		if o.UserID == userID {
			out = append(out, o)
		}
	}
	return out, int64(len(out)), nil
}

func (f *fakeOrderRepo) Create(ctx context.Context, order model.Order) (int64, error) {
	for _, o := range f.store.orders {
		if o.UserID == order.UserID && o.IdempotencyKey == order.IdempotencyKey {
			return 0, repo.ErrConflict
		}
	}
	f.store.nextOrderID++
	order.ID = f.store.nextOrderID
	f.store.orders[order.ID] = order
	return order.ID, nil
}

func (f *fakeOrderRepo) UpdateStatus(ctx context.Context, orderID int64, status model.OrderStatus) error {
	o, ok := f.store.orders[orderID]
	if !ok {
		return repo.ErrNotFound
	}
	o.Status = status
	f.store.orders[orderID] = o
	return nil
}

func (f *fakeOrderRepo) FindByIdempotencyKey(ctx context.Context, userID int64, key string) (model.Order, bool, error) {
	for _, o := range f.store.orders {
		if o.UserID == userID && o.IdempotencyKey == key {
			return o, true, nil
		}
	}
	return model.Order{}, false, nil
}

type fakeOrderItemRepo struct{ store *fakeStore }

func (f *fakeOrderItemRepo) CreateBulk(ctx context.Context, orderID int64, items []model.OrderItem) error {
	for i := range items {
		items[i].OrderID = orderID
	}
	f.store.orderItems[orderID] = append(f.store.orderItems[orderID], items...)
	return nil
}

func (f *fakeOrderItemRepo) ListByOrderID(ctx context.Context, orderID int64) ([]model.OrderItem, error) {
	return f.store.orderItems[orderID], nil
}

// =====================
// Product / Anomaly
// =====================

type fakeProductRepo struct{ store *fakeStore }

func (f *fakeProductRepo) ListPublic(ctx context.Context, q repo.ProductListQuery) ([]model.Product, int64, error) {
	var out []model.Product
	for _, p := range f.store.products {
		if p.IsActive {
			out = append(out, p)
		}
	}
	return out, int64(len(out)), nil
}

func (f *fakeProductRepo) FindByID(ctx context.Context, id int64) (model.Product, error) {
	p, ok := f.store.products[id]
	if !ok {
		return model.Product{}, repo.ErrNotFound
	}
	return p, nil
}

func (f *fakeProductRepo) Create(ctx context.Context, p model.Product) (model.Product, error) {
	f.store.nextProductID++
	p.ID = f.store.nextProductID
	f.store.products[p.ID] = p
	return p, nil
}

func (f *fakeProductRepo) Update(ctx context.Context, p model.Product) error {
	old, ok := f.store.products[p.ID]
	if !ok {
		return repo.ErrNotFound
	}
	p.CreatedAt = old.CreatedAt
	f.store.products[p.ID] = p
	return nil
}

func (f *fakeProductRepo) SoftDelete(ctx context.Context, id int64) error {
	if _, ok := f.store.products[id]; !ok {
		return repo.ErrNotFound
	}
	delete(f.store.products, id)
	return nil
}

type fakeAnomalyRepo struct{ store *fakeStore }

func (f *fakeAnomalyRepo) Create(ctx context.Context, anomaly model.StockAnomaly) error {
	f.store.anomalies = append(f.store.anomalies, anomaly)
	return nil
}

func (f *fakeAnomalyRepo) ListByOrderID(ctx context.Context, orderID int64) ([]model.StockAnomaly, error) {
	var out []model.StockAnomaly
	for _, a := range f.store.anomalies {
		if a.OrderID == orderID {
			out = append(out, a)
		}
	}
	return out, nil
}

// =====================
// Helpers
// =====================

func assertErrContains(t *testing.T, err error, wantSubstr string) {
	t.Helper()
	if assert.Error(t, err) {
		assert.True(t, strings.Contains(err.Error(), wantSubstr), "err=%q want contains %q", err.Error(), wantSubstr)
	}
}

// 台帳の不変条件（available + reserved == total、どちらも負でない）
func assertLedgerInvariant(t *testing.T, l model.StockLedger) {
	t.Helper()
	assert.GreaterOrEqual(t, l.AvailableStock, int64(0))
	assert.GreaterOrEqual(t, l.ReservedStock, int64(0))
	assert.Equal(t, l.TotalStock, l.AvailableStock+l.ReservedStock)
}
