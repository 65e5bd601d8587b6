package handler

import (
	"context"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/domain/voucher"
)

type mockCheckout struct {
	res *order.CreateOrderResult
	err error
	got order.CreateOrderInput
}

func (m *mockCheckout) CreateOrder(_ context.Context, in order.CreateOrderInput) (*order.CreateOrderResult, error) {
	m.got = in
	return m.res, m.err
}

type mockProducts struct {
	items       map[int64]*product.Product
	err         error
	created     *product.Product
	updated     *product.Product
	deactivated int64
}

func (m *mockProducts) find(id int64, activeOnly bool) (*product.Product, error) {
	if m.err != nil {
		return nil, m.err
	}
	p, ok := m.items[id]
	if !ok || (activeOnly && !p.IsActive) {
		return nil, product.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *mockProducts) ListActive(context.Context) ([]product.Product, error) {
	var out []product.Product
	for _, p := range m.items {
		if p.IsActive {
			out = append(out, *p)
		}
	}
	return out, m.err
}

func (m *mockProducts) GetActive(_ context.Context, id int64) (*product.Product, error) {
	return m.find(id, true)
}

func (m *mockProducts) List(context.Context) ([]product.Product, error) {
	var out []product.Product
	for _, p := range m.items {
		out = append(out, *p)
	}
	return out, m.err
}

func (m *mockProducts) Get(_ context.Context, id int64) (*product.Product, error) {
	return m.find(id, false)
}

func (m *mockProducts) Create(_ context.Context, p *product.Product) error {
	if m.err != nil {
		return m.err
	}
	p.ID = 100
	m.created = p
	return nil
}

func (m *mockProducts) Update(_ context.Context, p *product.Product) error {
	if m.err != nil {
		return m.err
	}
	m.updated = p
	return nil
}

func (m *mockProducts) Deactivate(_ context.Context, id int64) error {
	if _, ok := m.items[id]; !ok {
		return product.ErrNotFound
	}
	m.deactivated = id
	return nil
}

type mockVouchers struct {
	byCode    map[string]*voucher.Voucher
	createErr error
	created   *voucher.Voucher
	updated   *voucher.Voucher
	deleted   int64
}

func (m *mockVouchers) FindByCode(_ context.Context, code string) (*voucher.Voucher, error) {
	v, ok := m.byCode[code]
	if !ok {
		return nil, voucher.ErrInvalidVoucher
	}
	cp := *v
	return &cp, nil
}

func (m *mockVouchers) Consume(context.Context, int64) error { return nil }

func (m *mockVouchers) List(context.Context) ([]voucher.Voucher, error) {
	var out []voucher.Voucher
	for _, v := range m.byCode {
		out = append(out, *v)
	}
	return out, nil
}

func (m *mockVouchers) Get(_ context.Context, id int64) (*voucher.Voucher, error) {
	for _, v := range m.byCode {
		if v.ID == id {
			cp := *v
			return &cp, nil
		}
	}
	return nil, voucher.ErrNotFound
}

func (m *mockVouchers) Create(_ context.Context, v *voucher.Voucher) error {
	if m.createErr != nil {
		return m.createErr
	}
	v.ID = 7
	m.created = v
	return nil
}

func (m *mockVouchers) Update(_ context.Context, v *voucher.Voucher) error {
	m.updated = v
	return nil
}

func (m *mockVouchers) Delete(_ context.Context, id int64) error {
	if _, err := m.Get(context.Background(), id); err != nil {
		return err
	}
	m.deleted = id
	return nil
}

type mockOrders struct {
	byCode      map[string]*order.Order
	listLimit   int
	listOffset  int
	statusID    int64
	statusValue order.Status
}

func (m *mockOrders) Create(context.Context, *order.Order) error { return nil }

func (m *mockOrders) Get(_ context.Context, id int64) (*order.Order, error) {
	for _, o := range m.byCode {
		if o.ID == id {
			return o, nil
		}
	}
	return nil, order.ErrNotFound
}

func (m *mockOrders) GetByCode(_ context.Context, code string) (*order.Order, error) {
	o, ok := m.byCode[code]
	if !ok {
		return nil, order.ErrNotFound
	}
	return o, nil
}

func (m *mockOrders) List(_ context.Context, limit, offset int) ([]order.Order, error) {
	m.listLimit, m.listOffset = limit, offset
	var out []order.Order
	for _, o := range m.byCode {
		out = append(out, *o)
	}
	return out, nil
}

func (m *mockOrders) UpdateStatus(_ context.Context, id int64, status order.Status) error {
	if _, err := m.Get(context.Background(), id); err != nil {
		return err
	}
	m.statusID, m.statusValue = id, status
	return nil
}

type mockAuth struct {
	keys map[string]*auth.APIKeyInfo
}

func (m *mockAuth) Authenticate(_ context.Context, key string) (*auth.APIKeyInfo, error) {
	info, ok := m.keys[key]
	if !ok {
		return nil, auth.ErrUnauthorized
	}
	return info, nil
}
