package handlers

import (
	"crypto/subtle"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/astroskulture/checkout/auth"
	"github.com/astroskulture/checkout/models"
	"github.com/astroskulture/checkout/orders"
)

// maxIdempotencyKey bounds the Idempotency-Key header.
const maxIdempotencyKey = 128

type paymentResponse struct {
	Order   *models.Order `json:"order"`
	Applied bool          `json:"applied"`
}

type failureRequest struct {
	GatewayOrderID string `json:"razorpay_order_id"`
	Reason         string `json:"reason"`
}

type orderError struct {
	Error string        `json:"error"`
	Order *models.Order `json:"order,omitempty"`
}

// createOrder handles POST /api/orders.
//
// The first request for an Idempotency-Key returns 201 Created; a retry
// with the same key returns the same order with 200 OK. When the order was
// stored but the gateway failed, the order is returned alongside the error
// so the client can retry payment against it.
func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req orders.CreateOrderRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	req.IdempotencyKey = strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if len(req.IdempotencyKey) > maxIdempotencyKey {
		writeError(w, http.StatusBadRequest, "Idempotency-Key is too long")
		return
	}
	if id, ok := auth.IdentityFromContext(r.Context()); ok {
		req.UserID = id.UserID
	}

	order, created, err := h.orders.CreateOrder(r.Context(), req)
	setWritten(w, created)
	if err != nil {
		if order != nil {
			kind := orders.KindOf(err)
			writeJSON(w, statusFor(kind), orderError{Error: messageOf(err), Order: order})
			return
		}
		h.respondError(w, r, err)
		return
	}

	if created {
		writeJSON(w, http.StatusCreated, order)
	} else {
		writeJSON(w, http.StatusOK, order)
	}
}

// getOrder handles GET /api/orders/{number}.
func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	order, ok := h.visibleOrder(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// listMyOrders handles GET /api/orders for the authenticated user.
func (h *Handler) listMyOrders(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFromContext(r.Context())
	items, err := h.orders.ListOrders(r.Context(), id.UserID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// retryPayment handles POST /api/orders/{number}/payment.
func (h *Handler) retryPayment(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.visibleOrder(w, r); !ok {
		return
	}
	order, err := h.orders.RetryPayment(r.Context(), chi.URLParam(r, "number"))
	if err != nil {
		if order != nil {
			writeJSON(w, statusFor(orders.KindOf(err)), orderError{Error: messageOf(err), Order: order})
			return
		}
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// verifyPayment handles POST /api/orders/{number}/verify. A repeated
// confirmation answers 200 with applied=false.
func (h *Handler) verifyPayment(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.visibleOrder(w, r); !ok {
		return
	}

	var req orders.VerifyRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.PaymentID == "" || req.Signature == "" || req.GatewayOrderID == "" {
		writeError(w, http.StatusBadRequest, "razorpay_order_id, razorpay_payment_id and razorpay_signature are required")
		return
	}

	order, applied, err := h.orders.VerifyPayment(r.Context(), chi.URLParam(r, "number"), req)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	setWritten(w, applied)
	writeJSON(w, http.StatusOK, paymentResponse{Order: order, Applied: applied})
}

// paymentFailed handles POST /api/orders/{number}/failure. The caller must
// echo the gateway order id handed out at checkout, so knowing an order
// number alone is not enough to cancel a guest order.
func (h *Handler) paymentFailed(w http.ResponseWriter, r *http.Request) {
	current, ok := h.visibleOrder(w, r)
	if !ok {
		return
	}

	var req failureRequest
	if err := decode(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.GatewayOrderID == "" {
		writeError(w, http.StatusBadRequest, "razorpay_order_id is required")
		return
	}
	if current.GatewayOrderID == "" ||
		subtle.ConstantTimeCompare([]byte(req.GatewayOrderID), []byte(current.GatewayOrderID)) != 1 {
		h.log.Warn("payment failure with mismatched gateway order", "order", current.Number)
		writeError(w, http.StatusBadRequest, "razorpay_order_id does not match this order")
		return
	}

	order, applied, err := h.orders.RecordPaymentFailure(r.Context(), chi.URLParam(r, "number"), req.Reason)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	setWritten(w, applied)
	writeJSON(w, http.StatusOK, paymentResponse{Order: order, Applied: applied})
}

// visibleOrder loads the order in the path. Orders placed by a signed-in
// user are only visible to that user and to admins; others get 404.
func (h *Handler) visibleOrder(w http.ResponseWriter, r *http.Request) (*models.Order, bool) {
	order, err := h.orders.GetOrder(r.Context(), chi.URLParam(r, "number"))
	if err != nil {
		h.respondError(w, r, err)
		return nil, false
	}
	if order.UserID != "" {
		id, ok := auth.IdentityFromContext(r.Context())
		if !ok || (id.UserID != order.UserID && !id.IsAdmin()) {
			writeError(w, http.StatusNotFound, "order not found")
			return nil, false
		}
	}
	return order, true
}

func messageOf(err error) string {
	var oe *orders.Error
	if errors.As(err, &oe) && oe.Message != "" {
		return oe.Message
	}
	return "internal error"
}
