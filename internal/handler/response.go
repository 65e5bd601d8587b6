package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/domain/voucher"
)

// Client-visible error messages.
const (
	msgInvalidVoucher = "INVALID_VOUCHER"
	msgVoucherLimit   = "VOUCHER_LIMIT"
	msgMissingFields  = "Missing required fields"
	msgNotFound       = "Product not found"
)

// errForbidden is returned when an authenticated key lacks a scope.
var errForbidden = errors.New("forbidden")

// requestError is a malformed body or parameter. Its message is shown to
// the client.
type requestError struct {
	msg string
}

func (e *requestError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &requestError{msg: fmt.Sprintf(format, args...)}
}

// errorStatus maps an error to the HTTP status and client message.
// Unclassified errors pass their message through with a 500.
func errorStatus(err error) (int, string) {
	var reqErr *requestError
	switch {
	case errors.As(err, &reqErr):
		return http.StatusBadRequest, reqErr.msg
	case errors.Is(err, voucher.ErrInvalidVoucher):
		return http.StatusBadRequest, msgInvalidVoucher
	case errors.Is(err, voucher.ErrVoucherLimit):
		return http.StatusBadRequest, msgVoucherLimit
	case errors.Is(err, order.ErrMissingFields):
		return http.StatusBadRequest, msgMissingFields
	case errors.Is(err, product.ErrNotFound):
		return http.StatusNotFound, msgNotFound
	case errors.Is(err, order.ErrNotFound):
		return http.StatusNotFound, "Order not found"
	case errors.Is(err, voucher.ErrNotFound):
		return http.StatusNotFound, "Voucher not found"
	case errors.Is(err, voucher.ErrDuplicateCode):
		return http.StatusConflict, "Voucher code already exists"
	case errors.Is(err, auth.ErrUnauthorized):
		return http.StatusUnauthorized, "Unauthorized"
	case errors.Is(err, errForbidden):
		return http.StatusForbidden, "Forbidden"
	case errors.Is(err, order.ErrInvalidQuantity),
		errors.Is(err, order.ErrInvalidStatus),
		errors.Is(err, voucher.ErrInvalidDefinition):
		return http.StatusBadRequest, err.Error()
	default:
		return http.StatusInternalServerError, err.Error()
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := errorStatus(err)
	lg := zctx.From(r.Context())
	if status >= http.StatusInternalServerError {
		lg.Error("Request failed", zap.Error(err))
	} else {
		lg.Debug("Request rejected", zap.Int("status", status), zap.Error(err))
	}

	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("success")
	e.Bool(false)
	e.FieldStart("error")
	e.Str(msg)
	e.ObjEnd()
	writeBody(w, status, e.Bytes())
}

// writeOK writes {"success":true, ...fields}.
func writeOK(w http.ResponseWriter, status int, fields func(e *jx.Encoder)) {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("success")
	e.Bool(true)
	if fields != nil {
		fields(&e)
	}
	e.ObjEnd()
	writeBody(w, status, e.Bytes())
}

func writeBody(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func encodeMoney(e *jx.Encoder, d decimal.Decimal) {
	e.Num(jx.Num(d.String()))
}

func encodeTime(e *jx.Encoder, t time.Time) {
	e.Str(t.UTC().Format(time.RFC3339))
}

func encodeProduct(e *jx.Encoder, p *product.Product) {
	e.ObjStart()
	e.FieldStart("id")
	e.Int64(p.ID)
	e.FieldStart("name")
	e.Str(p.Name)
	e.FieldStart("price")
	encodeMoney(e, p.Price)
	e.FieldStart("original_price")
	if p.OriginalPrice != nil {
		encodeMoney(e, *p.OriginalPrice)
	} else {
		e.Null()
	}
	e.FieldStart("stock")
	e.Int(p.Stock)
	e.FieldStart("is_active")
	e.Bool(p.IsActive)
	e.FieldStart("created_at")
	encodeTime(e, p.CreatedAt)
	e.FieldStart("updated_at")
	encodeTime(e, p.UpdatedAt)
	e.ObjEnd()
}

func encodeProducts(e *jx.Encoder, ps []product.Product) {
	e.ArrStart()
	for i := range ps {
		encodeProduct(e, &ps[i])
	}
	e.ArrEnd()
}

// encodeVoucherFields writes the voucher attributes into the current object.
func encodeVoucherFields(e *jx.Encoder, v *voucher.Voucher) {
	e.FieldStart("code")
	e.Str(v.Code)
	e.FieldStart("discount_amount")
	encodeMoney(e, v.DiscountAmount)
	e.FieldStart("valid_from")
	encodeTime(e, v.ValidFrom)
	e.FieldStart("valid_to")
	encodeTime(e, v.ValidTo)
	e.FieldStart("usage_limit")
	e.Int(v.UsageLimit)
	e.FieldStart("used_count")
	e.Int(v.UsedCount)
}

func encodeVoucher(e *jx.Encoder, v *voucher.Voucher) {
	e.ObjStart()
	e.FieldStart("id")
	e.Int64(v.ID)
	encodeVoucherFields(e, v)
	e.FieldStart("is_active")
	e.Bool(v.IsActive)
	e.FieldStart("created_at")
	encodeTime(e, v.CreatedAt)
	e.ObjEnd()
}

func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.ObjStart()
	e.FieldStart("id")
	e.Int64(o.ID)
	e.FieldStart("order_code")
	e.Str(o.Code)
	e.FieldStart("customer_name")
	e.Str(o.CustomerName)
	e.FieldStart("customer_phone")
	e.Str(o.CustomerPhone)
	e.FieldStart("customer_address")
	e.Str(o.CustomerAddress)
	e.FieldStart("product_id")
	e.Int64(o.ProductID)
	e.FieldStart("product_name")
	e.Str(o.ProductName)
	e.FieldStart("product_price")
	encodeMoney(e, o.ProductPrice)
	e.FieldStart("color")
	e.Str(o.Color)
	e.FieldStart("size")
	e.Str(o.Size)
	e.FieldStart("quantity")
	e.Int(o.Quantity)
	e.FieldStart("voucher_code")
	e.Str(o.VoucherCode)
	e.FieldStart("discount_amount")
	encodeMoney(e, o.DiscountAmount)
	e.FieldStart("total_price")
	encodeMoney(e, o.TotalPrice)
	e.FieldStart("note")
	e.Str(o.Note)
	e.FieldStart("status")
	e.Str(string(o.Status))
	e.FieldStart("created_at")
	encodeTime(e, o.CreatedAt)
	e.ObjEnd()
}
