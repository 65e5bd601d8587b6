package handler

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/storefront/internal/domain/order"
)

const maxBodyBytes = 1 << 20

// CreateOrder handles POST /api/orders.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	in, err := decodeCreateOrder(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.checkout.CreateOrder(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeOK(w, http.StatusOK, func(e *jx.Encoder) {
		e.FieldStart("order_code")
		e.Str(res.Order.Code)
		e.FieldStart("discount")
		encodeMoney(e, res.Discount)
		e.FieldStart("total")
		encodeMoney(e, res.Total)
	})
}

// GetOrder handles GET /api/orders/{code}.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	code := strings.ToUpper(strings.TrimSpace(chi.URLParam(r, "code")))
	o, err := h.orders.GetByCode(r.Context(), code)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, func(e *jx.Encoder) {
		e.FieldStart("order")
		encodeOrder(e, o)
	})
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	b, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, badRequest("request body too large or unreadable")
	}
	return b, nil
}

// decodeObject decodes a JSON object body, calling field for every key.
func decodeObject(w http.ResponseWriter, r *http.Request, field func(d *jx.Decoder, key string) error) error {
	b, err := readBody(w, r)
	if err != nil {
		return err
	}
	if err := jx.DecodeBytes(b).Obj(field); err != nil {
		var reqErr *requestError
		if errors.As(err, &reqErr) {
			return reqErr
		}
		return badRequest("invalid JSON body")
	}
	return nil
}

func decodeCreateOrder(w http.ResponseWriter, r *http.Request) (order.CreateOrderInput, error) {
	var in order.CreateOrderInput
	err := decodeObject(w, r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "customer_name":
			in.CustomerName, err = decodeString(d)
		case "customer_phone":
			in.CustomerPhone, err = decodeString(d)
		case "customer_address":
			in.CustomerAddress, err = decodeString(d)
		case "product_id":
			in.ProductID, err = decodeInt(d, key)
		case "color":
			in.Color, err = decodeString(d)
		case "size":
			in.Size, err = decodeString(d)
		case "quantity":
			var q int64
			q, err = decodeInt(d, key)
			in.Quantity = int(q)
		case "voucher_code":
			in.VoucherCode, err = decodeString(d)
		case "note":
			in.Note, err = decodeString(d)
		default:
			err = d.Skip()
		}
		return err
	})
	return in, err
}

// decodeString reads a string, treating null as empty.
func decodeString(d *jx.Decoder) (string, error) {
	if d.Next() == jx.Null {
		return "", d.Null()
	}
	s, err := d.Str()
	if err != nil {
		return "", err
	}
	return s, nil
}

// decodeInt reads an integer given either as a JSON number or as a numeric
// string. Null and the empty string read as zero.
func decodeInt(d *jx.Decoder, field string) (int64, error) {
	switch d.Next() {
	case jx.Null:
		return 0, d.Null()
	case jx.Number:
		num, err := d.Num()
		if err != nil {
			return 0, err
		}
		n, err := strconv.ParseInt(string(num), 10, 64)
		if err != nil {
			return 0, badRequest("%s must be an integer", field)
		}
		return n, nil
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return 0, err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return 0, nil
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, badRequest("%s must be an integer", field)
		}
		return n, nil
	default:
		if err := d.Skip(); err != nil {
			return 0, err
		}
		return 0, badRequest("%s must be an integer", field)
	}
}
