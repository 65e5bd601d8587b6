package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/domain/voucher"
)

// OrderCreator runs the checkout workflow. *order.Service implements it.
type OrderCreator interface {
	CreateOrder(ctx context.Context, in order.CreateOrderInput) (*order.CreateOrderResult, error)
}

// Authenticator resolves an API key. *auth.Authenticator implements it.
type Authenticator interface {
	Authenticate(ctx context.Context, key string) (*auth.APIKeyInfo, error)
}

// Config holds the dependencies of Handler.
type Config struct {
	Checkout OrderCreator
	Products product.Repository
	Vouchers voucher.Repository
	Orders   order.Repository
	Auth     Authenticator
	// Now defaults to time.Now.
	Now func() time.Time
}

// Handler serves the storefront HTTP API.
type Handler struct {
	checkout OrderCreator
	products product.Repository
	vouchers voucher.Repository
	orders   order.Repository
	auth     Authenticator
	now      func() time.Time
}

// NewHandler constructs a Handler from cfg.
func NewHandler(cfg Config) *Handler {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Handler{
		checkout: cfg.Checkout,
		products: cfg.Products,
		vouchers: cfg.Vouchers,
		orders:   cfg.Orders,
		auth:     cfg.Auth,
		now:      now,
	}
}

// Mount registers the public and admin routes on r.
func (h *Handler) Mount(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/products", h.ListProducts)
		r.Get("/products/{id}", h.GetProduct)
		r.Post("/orders", h.CreateOrder)
		r.Get("/orders/{code}", h.GetOrder)
		r.Post("/vouchers/validate", h.ValidateVoucher)

		r.Route("/admin", func(r chi.Router) {
			r.Use(RequireAPIKey(h.auth, auth.ScopeAdmin))

			r.Route("/products", func(r chi.Router) {
				r.Get("/", h.AdminListProducts)
				r.Post("/", h.AdminCreateProduct)
				r.Get("/{id}", h.AdminGetProduct)
				r.Put("/{id}", h.AdminUpdateProduct)
				r.Delete("/{id}", h.AdminDeleteProduct)
			})
			r.Route("/vouchers", func(r chi.Router) {
				r.Get("/", h.AdminListVouchers)
				r.Post("/", h.AdminCreateVoucher)
				r.Get("/{id}", h.AdminGetVoucher)
				r.Put("/{id}", h.AdminUpdateVoucher)
				r.Delete("/{id}", h.AdminDeleteVoucher)
			})
			r.Route("/orders", func(r chi.Router) {
				r.Get("/", h.AdminListOrders)
				r.Get("/{id}", h.AdminGetOrder)
				r.Patch("/{id}/status", h.AdminUpdateOrderStatus)
			})
		})
	})
}

// Router returns a chi router with all routes mounted.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	h.Mount(r)
	return r
}
