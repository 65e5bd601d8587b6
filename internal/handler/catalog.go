package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/xenking/storefront/internal/domain/voucher"
)

// ListProducts handles GET /api/products.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	ps, err := h.products.ListActive(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, func(e *jx.Encoder) {
		e.FieldStart("products")
		encodeProducts(e, ps)
	})
}

// GetProduct handles GET /api/products/{id}.
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.products.GetActive(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, func(e *jx.Encoder) {
		e.FieldStart("product")
		encodeProduct(e, p)
	})
}

// ValidateVoucher handles POST /api/vouchers/validate. It reports whether
// the code is redeemable now without consuming a use.
func (h *Handler) ValidateVoucher(w http.ResponseWriter, r *http.Request) {
	var code string
	err := decodeObject(w, r, func(d *jx.Decoder, key string) error {
		if key != "code" {
			return d.Skip()
		}
		var err error
		code, err = decodeString(d)
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	v, err := voucher.NewValidator(h.vouchers).Validate(r.Context(), code, h.now())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, func(e *jx.Encoder) {
		encodeVoucherFields(e, v)
	})
}

// pathID parses the {id} URL parameter.
func pathID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, badRequest("invalid id %q", raw)
	}
	return id, nil
}
