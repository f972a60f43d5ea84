package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/astroskulture/checkout/models"
)

type statusRequest struct {
	Status         models.OrderStatus `json:"status"`
	TrackingNumber string             `json:"trackingNumber"`
}

// listAllOrders handles GET /api/admin/orders.
func (h *Handler) listAllOrders(w http.ResponseWriter, r *http.Request) {
	items, err := h.orders.ListOrders(r.Context(), r.URL.Query().Get("user"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// updateStatus handles PATCH /api/admin/orders/{number}/status.
func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	order, err := h.orders.UpdateStatus(r.Context(), chi.URLParam(r, "number"), req.Status, req.TrackingNumber)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// refund handles POST /api/admin/orders/{number}/refund once the refund has
// been issued at the gateway.
func (h *Handler) refund(w http.ResponseWriter, r *http.Request) {
	order, err := h.orders.MarkRefunded(r.Context(), chi.URLParam(r, "number"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// reconcile handles POST /api/admin/reconcile and runs one batch inline.
func (h *Handler) reconcile(w http.ResponseWriter, r *http.Request) {
	if h.reconciler == nil {
		writeError(w, http.StatusNotImplemented, "reconciliation is disabled")
		return
	}
	rep, err := h.reconciler.RunOnce(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}
