package order

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/domain/voucher"
)

// --- In-memory transactional store ---

type memState struct {
	products map[int64]product.Product
	vouchers map[int64]voucher.Voucher
	orders   map[string]Order
	nextID   int64
}

func (s memState) clone() memState {
	return memState{
		products: maps.Clone(s.products),
		vouchers: maps.Clone(s.vouchers),
		orders:   maps.Clone(s.orders),
		nextID:   s.nextID,
	}
}

// memStore serializes transactions and discards a transaction's writes when
// fn returns an error.
type memStore struct {
	mu        sync.Mutex
	state     memState
	createErr error
}

func newMemStore() *memStore {
	return &memStore{state: memState{
		products: map[int64]product.Product{},
		vouchers: map[int64]voucher.Voucher{},
		orders:   map[string]Order{},
	}}
}

func (m *memStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	work := m.state.clone()
	if err := fn(ctx, &memTx{state: &work, createErr: m.createErr}); err != nil {
		return err
	}
	m.state = work
	return nil
}

func (m *memStore) voucher(id int64) voucher.Voucher {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.vouchers[id]
}

func (m *memStore) orderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.state.orders)
}

type memTx struct {
	state     *memState
	createErr error
}

func (t *memTx) Products() product.Catalog { return memProducts{t} }
func (t *memTx) Vouchers() voucher.Repository { return memVouchers{t} }
func (t *memTx) Orders() Repository { return memOrders{t} }

type memProducts struct{ t *memTx }

func (r memProducts) ListActive(context.Context) ([]product.Product, error) { return nil, nil }

func (r memProducts) GetActive(_ context.Context, id int64) (*product.Product, error) {
	p, ok := r.t.state.products[id]
	if !ok || !p.IsActive {
		return nil, product.ErrNotFound
	}
	return &p, nil
}

type memVouchers struct{ t *memTx }

func (r memVouchers) FindByCode(_ context.Context, code string) (*voucher.Voucher, error) {
	for _, v := range r.t.state.vouchers {
		if v.Code == code && v.IsActive {
			return &v, nil
		}
	}
	return nil, voucher.ErrInvalidVoucher
}

func (r memVouchers) Consume(_ context.Context, id int64) error {
	v := r.t.state.vouchers[id]
	if !v.Unlimited() && v.UsedCount >= v.UsageLimit {
		return voucher.ErrVoucherLimit
	}
	v.UsedCount++
	r.t.state.vouchers[id] = v
	return nil
}

func (r memVouchers) List(context.Context) ([]voucher.Voucher, error) { return nil, nil }
func (r memVouchers) Get(context.Context, int64) (*voucher.Voucher, error) { return nil, nil }
func (r memVouchers) Create(context.Context, *voucher.Voucher) error { return nil }
func (r memVouchers) Update(context.Context, *voucher.Voucher) error { return nil }
func (r memVouchers) Delete(context.Context, int64) error { return nil }

type memOrders struct{ t *memTx }

func (r memOrders) Create(_ context.Context, o *Order) error {
	if r.t.createErr != nil {
		return r.t.createErr
	}
	if _, ok := r.t.state.orders[o.Code]; ok {
		return ErrDuplicateCode
	}
	r.t.state.nextID++
	o.ID = r.t.state.nextID
	r.t.state.orders[o.Code] = *o
	return nil
}

func (r memOrders) Get(context.Context, int64) (*Order, error) { return nil, ErrNotFound }
func (r memOrders) GetByCode(context.Context, string) (*Order, error) { return nil, ErrNotFound }
func (r memOrders) List(context.Context, int, int) ([]Order, error) { return nil, nil }
func (r memOrders) UpdateStatus(context.Context, int64, Status) error { return nil }

type mockPublisher struct {
	published []string
	err       error
}

func (m *mockPublisher) OrderCreated(_ context.Context, o *Order) error {
	m.published = append(m.published, o.Code)
	return m.err
}

// --- Helpers ---

var fixedNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func seqCodes() CodeGenerator {
	var mu sync.Mutex
	n := 0
	return func(time.Time) string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("ORD%04d", n)
	}
}

func newTestService(t *testing.T, store *memStore, opts ...Option) *Service {
	t.Helper()
	opts = append([]Option{
		WithClock(func() time.Time { return fixedNow }),
		WithCodeGenerator(seqCodes()),
	}, opts...)
	svc, err := NewService(store, opts...)
	require.NoError(t, err)
	return svc
}

func seedProduct(store *memStore, id int64, price int64) {
	store.state.products[id] = product.Product{
		ID:       id,
		Name:     fmt.Sprintf("Product %d", id),
		Price:    decimal.NewFromInt(price),
		Stock:    10,
		IsActive: true,
	}
}

func seedVoucher(store *memStore, id int64, code string, discount int64, limit, used int) {
	store.state.vouchers[id] = voucher.Voucher{
		ID:             id,
		Code:           code,
		DiscountAmount: decimal.NewFromInt(discount),
		ValidFrom:      fixedNow.Add(-24 * time.Hour),
		ValidTo:        fixedNow.Add(24 * time.Hour),
		UsageLimit:     limit,
		UsedCount:      used,
		IsActive:       true,
	}
}

func validInput(productID int64) CreateOrderInput {
	return CreateOrderInput{
		CustomerName:    "Nguyen Van A",
		CustomerPhone:   "0900000000",
		CustomerAddress: "1 Le Loi, District 1",
		ProductID:       productID,
	}
}

// --- Tests ---

func TestCreateOrder_MissingFields(t *testing.T) {
	store := newMemStore()
	seedProduct(store, 1, 100)
	svc := newTestService(t, store)

	for name, mutate := range map[string]func(*CreateOrderInput){
		"name":       func(in *CreateOrderInput) { in.CustomerName = "  " },
		"phone":      func(in *CreateOrderInput) { in.CustomerPhone = "" },
		"address":    func(in *CreateOrderInput) { in.CustomerAddress = "" },
		"product id": func(in *CreateOrderInput) { in.ProductID = 0 },
	} {
		t.Run(name, func(t *testing.T) {
			in := validInput(1)
			mutate(&in)

			_, err := svc.CreateOrder(context.Background(), in)
			require.ErrorIs(t, err, ErrMissingFields)
		})
	}
	assert.Zero(t, store.orderCount())
}

func TestCreateOrder_InvalidQuantity(t *testing.T) {
	store := newMemStore()
	seedProduct(store, 1, 100)
	svc := newTestService(t, store)

	in := validInput(1)
	in.Quantity = -2
	_, err := svc.CreateOrder(context.Background(), in)
	require.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestCreateOrder_ProductNotFound(t *testing.T) {
	store := newMemStore()
	store.state.products[2] = product.Product{ID: 2, Name: "Hidden", Price: decimal.NewFromInt(10)}
	svc := newTestService(t, store)

	_, err := svc.CreateOrder(context.Background(), validInput(1))
	require.ErrorIs(t, err, product.ErrNotFound)

	_, err = svc.CreateOrder(context.Background(), validInput(2))
	require.ErrorIs(t, err, product.ErrNotFound, "inactive product must not be orderable")
}

func TestCreateOrder_NoVoucher(t *testing.T) {
	store := newMemStore()
	seedProduct(store, 1, 200000)
	svc := newTestService(t, store)

	in := validInput(1)
	in.Quantity = 3
	res, err := svc.CreateOrder(context.Background(), in)
	require.NoError(t, err)

	assert.True(t, decimal.NewFromInt(600000).Equal(res.Total))
	assert.True(t, res.Discount.IsZero())
	assert.Equal(t, "ORD0001", res.Order.Code)
	assert.Equal(t, "Product 1", res.Order.ProductName)
	assert.Equal(t, StatusPending, res.Order.Status)
}

func TestCreateOrder_DefaultQuantity(t *testing.T) {
	store := newMemStore()
	seedProduct(store, 1, 150)
	svc := newTestService(t, store)

	res, err := svc.CreateOrder(context.Background(), validInput(1))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Order.Quantity)
	assert.True(t, decimal.NewFromInt(150).Equal(res.Total))
}

func TestCreateOrder_WithVoucher(t *testing.T) {
	store := newMemStore()
	seedProduct(store, 1, 200000)
	seedVoucher(store, 7, "SALE50K", 50000, 10, 0)
	svc := newTestService(t, store)

	in := validInput(1)
	in.Quantity = 2
	in.VoucherCode = " sale50k "
	res, err := svc.CreateOrder(context.Background(), in)
	require.NoError(t, err)

	assert.True(t, decimal.NewFromInt(350000).Equal(res.Total), "got %s", res.Total)
	assert.True(t, decimal.NewFromInt(50000).Equal(res.Discount))
	assert.Equal(t, "SALE50K", res.Order.VoucherCode)
	assert.Equal(t, 1, store.voucher(7).UsedCount)
}

func TestCreateOrder_DiscountFlooredAtZero(t *testing.T) {
	store := newMemStore()
	seedProduct(store, 1, 10000)
	seedVoucher(store, 1, "HUGE", 999999, 0, 0)
	svc := newTestService(t, store)

	in := validInput(1)
	in.VoucherCode = "HUGE"
	res, err := svc.CreateOrder(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, res.Total.IsZero())
	assert.True(t, decimal.NewFromInt(999999).Equal(res.Discount))
}

func TestCreateOrder_VoucherErrors(t *testing.T) {
	tests := []struct {
		name    string
		seed    func(*memStore)
		code    string
		wantErr error
	}{
		{
			name:    "unknown code",
			seed:    func(*memStore) {},
			code:    "NOPE",
			wantErr: voucher.ErrInvalidVoucher,
		},
		{
			name: "expired",
			seed: func(s *memStore) {
				seedVoucher(s, 1, "OLD", 1000, 0, 0)
				v := s.state.vouchers[1]
				v.ValidTo = fixedNow.Add(-time.Minute)
				s.state.vouchers[1] = v
			},
			code:    "OLD",
			wantErr: voucher.ErrInvalidVoucher,
		},
		{
			name:    "used up",
			seed:    func(s *memStore) { seedVoucher(s, 1, "ONCE", 1000, 1, 1) },
			code:    "ONCE",
			wantErr: voucher.ErrVoucherLimit,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			seedProduct(store, 1, 100000)
			tt.seed(store)
			svc := newTestService(t, store)

			in := validInput(1)
			in.VoucherCode = tt.code
			_, err := svc.CreateOrder(context.Background(), in)
			require.ErrorIs(t, err, tt.wantErr)
			assert.Zero(t, store.orderCount())
		})
	}
}

func TestCreateOrder_LimitedVoucherRedeemsExactlyN(t *testing.T) {
	const limit = 5

	store := newMemStore()
	seedProduct(store, 1, 100000)
	seedVoucher(store, 1, "FIVE", 10000, limit, 0)
	svc := newTestService(t, store)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok       int
		limitErr int
	)
	for range 3 * limit {
		wg.Add(1)
		go func() {
			defer wg.Done()
			in := validInput(1)
			in.VoucherCode = "FIVE"
			_, err := svc.CreateOrder(context.Background(), in)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, voucher.ErrVoucherLimit):
				limitErr++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, limit, ok)
	assert.Equal(t, 2*limit, limitErr)
	assert.Equal(t, limit, store.voucher(1).UsedCount)
	assert.Equal(t, limit, store.orderCount())
}

func TestCreateOrder_UnlimitedVoucherNeverLimited(t *testing.T) {
	store := newMemStore()
	seedProduct(store, 1, 100000)
	seedVoucher(store, 1, "ALWAYS", 10000, 0, 1_000_000)
	svc := newTestService(t, store)

	for range 20 {
		in := validInput(1)
		in.VoucherCode = "ALWAYS"
		_, err := svc.CreateOrder(context.Background(), in)
		require.NoError(t, err)
	}
	assert.Equal(t, 1_000_020, store.voucher(1).UsedCount)
}

func TestCreateOrder_InsertFailureRollsBackVoucher(t *testing.T) {
	store := newMemStore()
	seedProduct(store, 1, 100000)
	seedVoucher(store, 1, "ONCE", 10000, 1, 0)
	store.createErr = errors.New("db write failed")
	svc := newTestService(t, store)

	in := validInput(1)
	in.VoucherCode = "ONCE"
	_, err := svc.CreateOrder(context.Background(), in)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create order")
	assert.Zero(t, store.voucher(1).UsedCount, "voucher increment must roll back with the order")

	store.createErr = nil
	_, err = svc.CreateOrder(context.Background(), in)
	require.NoError(t, err, "voucher must still be redeemable")
}

func TestCreateOrder_RetriesCodeCollision(t *testing.T) {
	store := newMemStore()
	seedProduct(store, 1, 100)
	store.state.orders["TAKEN"] = Order{Code: "TAKEN"}

	codes := []string{"TAKEN", "FREE"}
	gen := func(time.Time) string {
		c := codes[0]
		codes = codes[1:]
		return c
	}
	svc := newTestService(t, store, WithCodeGenerator(gen))

	res, err := svc.CreateOrder(context.Background(), validInput(1))
	require.NoError(t, err)
	assert.Equal(t, "FREE", res.Order.Code)
}

func TestCreateOrder_GivesUpAfterRepeatedCollisions(t *testing.T) {
	store := newMemStore()
	seedProduct(store, 1, 100)
	store.state.orders["SAME"] = Order{Code: "SAME"}
	svc := newTestService(t, store, WithCodeGenerator(func(time.Time) string { return "SAME" }))

	_, err := svc.CreateOrder(context.Background(), validInput(1))
	require.ErrorIs(t, err, ErrDuplicateCode)
}

func TestCreateOrder_PublishesEvent(t *testing.T) {
	store := newMemStore()
	seedProduct(store, 1, 100)
	pub := &mockPublisher{err: errors.New("broker down")}
	svc := newTestService(t, store, WithPublisher(pub))

	res, err := svc.CreateOrder(context.Background(), validInput(1))
	require.NoError(t, err, "publish failure must not fail a committed order")
	assert.Equal(t, []string{res.Order.Code}, pub.published)

	_, err = svc.CreateOrder(context.Background(), CreateOrderInput{})
	require.Error(t, err)
	assert.Len(t, pub.published, 1)
}

func TestRejectReason(t *testing.T) {
	assert.Equal(t, "missing_fields", RejectReason(ErrMissingFields))
	assert.Equal(t, "product_not_found", RejectReason(product.ErrNotFound))
	assert.Equal(t, "invalid_voucher", RejectReason(errors.Wrap(voucher.ErrInvalidVoucher, "x")))
	assert.Equal(t, "voucher_limit", RejectReason(voucher.ErrVoucherLimit))
	assert.Equal(t, "internal", RejectReason(errors.New("boom")))
}
