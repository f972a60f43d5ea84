// Package handlers exposes the storefront and admin JSON API.
//
// Mutating checkout endpoints are safe to retry:
//
//   - POST /api/orders with an Idempotency-Key header returns the order
//     created by the first request (200 instead of 201) without reserving
//     stock again.
//   - POST /api/orders/{number}/verify returns the paid order on every call;
//     only the first call changes it.
//   - POST /api/orders/{number}/failure is a no-op once the order failed.
//
// X-Idempotency-Write tells the caller whether the request changed anything.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/astroskulture/checkout/auth"
	"github.com/astroskulture/checkout/orders"
	"github.com/astroskulture/checkout/reconcile"
	"github.com/astroskulture/checkout/store"
)

// maxBodyBytes bounds every request body.
const maxBodyBytes = 1 << 20

// Reconciler runs one reconciliation batch on demand.
type Reconciler interface {
	RunOnce(ctx context.Context) (reconcile.Report, error)
}

// Handler holds the dependencies for all HTTP handlers.
type Handler struct {
	orders     *orders.Service
	store      *store.Store
	reconciler Reconciler
	authn      *auth.Authenticator
	log        *slog.Logger
}

// New creates a Handler. reconciler may be nil, which disables the manual
// reconcile endpoint.
func New(svc *orders.Service, st *store.Store, reconciler Reconciler, authn *auth.Authenticator, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		orders:     svc,
		store:      st,
		reconciler: reconciler,
		authn:      authn,
		log:        log.With("component", "http"),
	}
}

// Routes builds the router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(cors)
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", h.health)

	r.Route("/api", func(r chi.Router) {
		r.Get("/products", h.listProducts)
		r.Get("/products/{id}", h.getProduct)
		r.Get("/settings", h.getSettings)

		r.Route("/orders", func(r chi.Router) {
			r.With(h.authn.Required).Get("/", h.listMyOrders)

			r.Group(func(r chi.Router) {
				r.Use(h.authn.Optional)
				r.Post("/", h.createOrder)
				r.Get("/{number}", h.getOrder)
				r.Post("/{number}/payment", h.retryPayment)
				r.Post("/{number}/verify", h.verifyPayment)
				r.Post("/{number}/failure", h.paymentFailed)
			})
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(h.authn.Required)
			r.Use(auth.RequireRole(auth.RoleAdmin))

			r.Put("/products/{id}", h.putProduct)
			r.Get("/orders", h.listAllOrders)
			r.Patch("/orders/{number}/status", h.updateStatus)
			r.Post("/orders/{number}/refund", h.refund)
			r.Put("/settings", h.putSettings)
			r.Post("/reconcile", h.reconcile)
		})
	})

	return r
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if _, err := h.store.ActiveSettings(); err != nil {
		writeError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeJSON serialises v as JSON and writes it to w with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func setWritten(w http.ResponseWriter, written bool) {
	if written {
		w.Header().Set("X-Idempotency-Write", "true")
	} else {
		w.Header().Set("X-Idempotency-Write", "false")
	}
}

// decode reads a JSON body, rejecting unknown fields.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// statusFor maps an error kind to an HTTP status.
func statusFor(kind orders.Kind) int {
	switch kind {
	case orders.KindValidation, orders.KindSignature:
		return http.StatusBadRequest
	case orders.KindNotFound:
		return http.StatusNotFound
	case orders.KindInvalidTransition:
		return http.StatusConflict
	case orders.KindGateway:
		return http.StatusBadGateway
	case orders.KindGatewayUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// respondError writes err. Messages of classified errors are safe to show;
// anything else is logged and answered with a generic 500.
func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	var oe *orders.Error
	if errors.As(err, &oe) && oe.Kind != orders.KindUnknown {
		writeError(w, statusFor(oe.Kind), oe.Message)
		return
	}
	h.log.Error("request failed",
		"method", r.Method,
		"path", r.URL.Path,
		"request_id", middleware.GetReqID(r.Context()),
		"err", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.log.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

// cors lets the storefront, served from another origin, reach the API.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, Idempotency-Key")
		w.Header().Set("Access-Control-Expose-Headers", "X-Idempotency-Write")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
