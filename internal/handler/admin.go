package handler

import (
	"encoding/json"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/domain/voucher"
)

const (
	defaultOrderPageSize = 50
	maxOrderPageSize     = 200
)

var validate = newValidate()

func newValidate() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type productRequest struct {
	Name          string           `json:"name" validate:"required,max=255"`
	Price         decimal.Decimal  `json:"price"`
	OriginalPrice *decimal.Decimal `json:"original_price"`
	Stock         *int             `json:"stock" validate:"omitempty,min=0"`
	IsActive      *bool            `json:"is_active"`
}

func (req *productRequest) apply(p *product.Product) error {
	if req.Price.IsNegative() {
		return badRequest("price must not be negative")
	}
	if req.OriginalPrice != nil && req.OriginalPrice.IsNegative() {
		return badRequest("original_price must not be negative")
	}
	p.Name = strings.TrimSpace(req.Name)
	p.Price = req.Price
	p.OriginalPrice = req.OriginalPrice
	if req.Stock != nil {
		p.Stock = *req.Stock
	}
	if req.IsActive != nil {
		p.IsActive = *req.IsActive
	}
	return nil
}

type voucherRequest struct {
	Code           string          `json:"code" validate:"required,max=64"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	ValidFrom      time.Time       `json:"valid_from" validate:"required"`
	ValidTo        time.Time       `json:"valid_to" validate:"required"`
	UsageLimit     int             `json:"usage_limit" validate:"min=0"`
	IsActive       *bool           `json:"is_active"`
}

func (req *voucherRequest) apply(v *voucher.Voucher) error {
	v.Code = req.Code
	v.DiscountAmount = req.DiscountAmount
	v.ValidFrom = req.ValidFrom
	v.ValidTo = req.ValidTo
	v.UsageLimit = req.UsageLimit
	if req.IsActive != nil {
		v.IsActive = *req.IsActive
	}
	return v.Prepare()
}

type statusRequest struct {
	Status string `json:"status" validate:"required"`
}

// decodeAdmin decodes a JSON body into dst and validates its tags.
func decodeAdmin(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return badRequest("invalid JSON body: %v", err)
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			first := verrs[0]
			if first.Param() != "" {
				return badRequest("%s failed %s=%s", first.Field(), first.Tag(), first.Param())
			}
			return badRequest("%s is %s", first.Field(), first.Tag())
		}
		return errors.Wrap(err, "validate")
	}
	return nil
}

// AdminListProducts handles GET /api/admin/products, including inactive ones.
func (h *Handler) AdminListProducts(w http.ResponseWriter, r *http.Request) {
	ps, err := h.products.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, func(e *jx.Encoder) {
		e.FieldStart("products")
		encodeProducts(e, ps)
	})
}

func (h *Handler) AdminGetProduct(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.products.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeProduct(w, http.StatusOK, p)
}

func (h *Handler) AdminCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if err := decodeAdmin(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	p := &product.Product{IsActive: true}
	if err := req.apply(p); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.products.Create(r.Context(), p); err != nil {
		writeError(w, r, err)
		return
	}
	writeProduct(w, http.StatusCreated, p)
}

// AdminUpdateProduct handles PUT /api/admin/products/{id}. Omitted stock and
// is_active keep their current values.
func (h *Handler) AdminUpdateProduct(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req productRequest
	if err := decodeAdmin(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.products.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := req.apply(p); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.products.Update(r.Context(), p); err != nil {
		writeError(w, r, err)
		return
	}
	writeProduct(w, http.StatusOK, p)
}

// AdminDeleteProduct handles DELETE /api/admin/products/{id}. Products are
// deactivated, not removed, since orders reference them.
func (h *Handler) AdminDeleteProduct(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.products.Deactivate(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, nil)
}

func writeProduct(w http.ResponseWriter, status int, p *product.Product) {
	writeOK(w, status, func(e *jx.Encoder) {
		e.FieldStart("product")
		encodeProduct(e, p)
	})
}

func (h *Handler) AdminListVouchers(w http.ResponseWriter, r *http.Request) {
	vs, err := h.vouchers.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, func(e *jx.Encoder) {
		e.FieldStart("vouchers")
		e.ArrStart()
		for i := range vs {
			encodeVoucher(e, &vs[i])
		}
		e.ArrEnd()
	})
}

func (h *Handler) AdminGetVoucher(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	v, err := h.vouchers.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeVoucher(w, http.StatusOK, v)
}

func (h *Handler) AdminCreateVoucher(w http.ResponseWriter, r *http.Request) {
	var req voucherRequest
	if err := decodeAdmin(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	v := &voucher.Voucher{IsActive: true}
	if err := req.apply(v); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.vouchers.Create(r.Context(), v); err != nil {
		writeError(w, r, err)
		return
	}
	writeVoucher(w, http.StatusCreated, v)
}

// AdminUpdateVoucher handles PUT /api/admin/vouchers/{id}. The used count is
// never changed here.
func (h *Handler) AdminUpdateVoucher(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req voucherRequest
	if err := decodeAdmin(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	v, err := h.vouchers.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := req.apply(v); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.vouchers.Update(r.Context(), v); err != nil {
		writeError(w, r, err)
		return
	}
	writeVoucher(w, http.StatusOK, v)
}

func (h *Handler) AdminDeleteVoucher(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.vouchers.Delete(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, nil)
}

func writeVoucher(w http.ResponseWriter, status int, v *voucher.Voucher) {
	writeOK(w, status, func(e *jx.Encoder) {
		e.FieldStart("voucher")
		encodeVoucher(e, v)
	})
}

// AdminListOrders handles GET /api/admin/orders?limit=&offset=, newest first.
func (h *Handler) AdminListOrders(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultOrderPageSize)
	if err != nil {
		writeError(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if limit < 1 {
		limit = defaultOrderPageSize
	}
	limit = min(limit, maxOrderPageSize)

	list, err := h.orders.List(r.Context(), limit, offset)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, func(e *jx.Encoder) {
		e.FieldStart("orders")
		e.ArrStart()
		for i := range list {
			encodeOrder(e, &list[i])
		}
		e.ArrEnd()
		e.FieldStart("limit")
		e.Int(limit)
		e.FieldStart("offset")
		e.Int(offset)
	})
}

func (h *Handler) AdminGetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.orders.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, func(e *jx.Encoder) {
		e.FieldStart("order")
		encodeOrder(e, o)
	})
}

// AdminUpdateOrderStatus handles PATCH /api/admin/orders/{id}/status.
func (h *Handler) AdminUpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req statusRequest
	if err := decodeAdmin(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	status, err := order.ParseStatus(strings.ToLower(strings.TrimSpace(req.Status)))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.orders.UpdateStatus(r.Context(), id, status); err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, func(e *jx.Encoder) {
		e.FieldStart("status")
		e.Str(string(status))
	})
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, badRequest("%s must be a non-negative integer", name)
	}
	return n, nil
}
