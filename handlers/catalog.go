package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/astroskulture/checkout/models"
	"github.com/astroskulture/checkout/store"
)

// listProducts handles GET /api/products. Only active products are listed.
func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	items, err := h.store.ListProducts(true)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// getProduct handles GET /api/products/{id}.
func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.store.GetProduct(chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) || (err == nil && !p.IsActive) {
		writeError(w, http.StatusNotFound, "product not found")
		return
	}
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// getSettings handles GET /api/settings so the storefront can preview tax
// and shipping. Checkout always recomputes them server side.
func (h *Handler) getSettings(w http.ResponseWriter, r *http.Request) {
	st, err := h.store.ActiveSettings()
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// putProduct handles PUT /api/admin/products/{id}. It creates or replaces
// the product; TotalStock is always derived from the sizes.
func (h *Handler) putProduct(w http.ResponseWriter, r *http.Request) {
	var p models.Product
	if err := decode(r, &p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	p.ID = chi.URLParam(r, "id")

	if msg := validateProduct(&p); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	saved, err := h.store.PutProduct(&p)
	if err != nil {
		if errors.Is(err, store.ErrInsufficientStock) {
			writeError(w, http.StatusBadRequest, "stock cannot be negative")
			return
		}
		h.respondError(w, r, err)
		return
	}
	h.log.Info("product saved", "product", saved.ID, "total_stock", saved.TotalStock, "active", saved.IsActive)
	writeJSON(w, http.StatusOK, saved)
}

func validateProduct(p *models.Product) string {
	if strings.TrimSpace(p.Name) == "" {
		return "name is required"
	}
	if p.Price <= 0 {
		return "price must be positive"
	}
	if p.DiscountPrice < 0 {
		return "discountPrice cannot be negative"
	}
	seen := make(map[string]bool, len(p.Sizes))
	for _, s := range p.Sizes {
		if s.Size == "" {
			return "size name is required"
		}
		if seen[s.Size] {
			return "duplicate size " + s.Size
		}
		seen[s.Size] = true
	}
	return ""
}

// putSettings handles PUT /api/admin/settings. There is only ever one
// settings record.
func (h *Handler) putSettings(w http.ResponseWriter, r *http.Request) {
	var st models.Settings
	if err := decode(r, &st); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if st.GSTPercentage.IsNegative() || st.GSTPercentage.GreaterThan(decimal.NewFromInt(100)) {
		writeError(w, http.StatusBadRequest, "gstPercentage must be between 0 and 100")
		return
	}
	if st.ShippingFee < 0 || st.FreeShippingAbove < 0 {
		writeError(w, http.StatusBadRequest, "amounts cannot be negative")
		return
	}

	saved, err := h.store.PutSettings(st)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.log.Info("settings saved",
		"gst", saved.GSTPercentage.String(),
		"gst_enabled", saved.GSTEnabled,
		"shipping_fee", saved.ShippingFee.String(),
		"free_above", saved.FreeShippingAbove.String())
	writeJSON(w, http.StatusOK, saved)
}
