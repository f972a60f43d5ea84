// Package orders owns every transition of an order's status and payment
// status, and keeps product stock consistent with those transitions.
//
// Stock policy: stock is reserved (decremented) when the order is created,
// inside the same transaction that validates availability and persists the
// order. A confirmed payment commits the reservation without touching stock
// again, so stock moves exactly once per order no matter how many times the
// payment is confirmed. Payment failure, expiry and cancellation before
// shipping release the reservation, guarded by Order.StockReleased.
//
// Every transition is a guarded update inside one store transaction keyed on
// the current payment status. The client-driven verify path and the
// reconciliation job can therefore race on the same order safely: whichever
// commits second sees "already paid" and does nothing.
package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/astroskulture/checkout/events"
	"github.com/astroskulture/checkout/gateway"
	"github.com/astroskulture/checkout/models"
	"github.com/astroskulture/checkout/store"
)

// DefaultCurrency is charged when Options.Currency is empty.
const DefaultCurrency = "INR"

// Options configures a Service.
type Options struct {
	Currency string
	Logger   *slog.Logger
	Events   events.Publisher
}

// Service is the order lifecycle controller.
type Service struct {
	store    *store.Store
	gw       gateway.Gateway
	events   events.Publisher
	log      *slog.Logger
	currency string
	metrics  *metrics
}

// NewService creates a Service.
func NewService(st *store.Store, gw gateway.Gateway, opts Options) *Service {
	if opts.Currency == "" {
		opts.Currency = DefaultCurrency
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Events == nil {
		opts.Events = events.Nop{}
	}
	return &Service{
		store:    st,
		gw:       gw,
		events:   opts.Events,
		log:      opts.Logger.With("component", "orders"),
		currency: opts.Currency,
		metrics:  newMetrics(),
	}
}

// CartItem is one requested line of a checkout.
type CartItem struct {
	ProductID string `json:"productId"`
	Size      string `json:"size"`
	Quantity  int    `json:"quantity"`
}

// CreateOrderRequest is a checkout submission. Prices are never taken from
// the client; they are read from the catalog.
type CreateOrderRequest struct {
	UserID          string         `json:"-"`
	IdempotencyKey  string         `json:"-"`
	Items           []CartItem     `json:"items"`
	ShippingAddress models.Address `json:"shippingAddress"`
}

// MaxQuantity caps a single line.
const MaxQuantity = 50

func (r *CreateOrderRequest) validate(op string) error {
	if len(r.Items) == 0 {
		return validationf(op, "cart is empty")
	}
	for i, it := range r.Items {
		if it.ProductID == "" || it.Size == "" {
			return validationf(op, "item %d: product and size are required", i+1)
		}
		if it.Quantity < 1 || it.Quantity > MaxQuantity {
			return validationf(op, "item %d: quantity must be between 1 and %d", i+1, MaxQuantity)
		}
	}

	a := r.ShippingAddress
	var missing []string
	for _, f := range []struct{ name, value string }{
		{"name", a.Name}, {"phone", a.Phone}, {"line1", a.Line1},
		{"city", a.City}, {"postalCode", a.PostalCode},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return validationf(op, "shipping address: missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// CreateOrder validates the cart against the live catalog, prices it,
// reserves stock and persists a pending order, then requests a gateway
// payment order for it.
//
// created is false when the same caller already used req.IdempotencyKey;
// the original order is returned and nothing is reserved again. Keys are
// scoped to req.UserID, so another caller reusing a key gets its own order.
//
// A gateway failure returns the persisted pending order together with a
// KindGateway or KindGatewayUnavailable error, so checkout can be retried
// against the same order with RetryPayment.
func (s *Service) CreateOrder(ctx context.Context, req CreateOrderRequest) (order *models.Order, created bool, err error) {
	const op = "orders.CreateOrder"

	if err := req.validate(op); err != nil {
		return nil, false, err
	}

	err = s.store.Update(func(tx *store.Tx) error {
		if req.IdempotencyKey != "" {
			if number, ok := tx.IdempotentOrder(req.UserID, req.IdempotencyKey); ok {
				o, err := tx.Order(number)
				order = o
				return err
			}
		}

		o, err := s.priceAndReserve(op, tx, req)
		if err != nil {
			return err
		}
		if err := tx.PutOrder(o); err != nil {
			return err
		}
		if req.IdempotencyKey != "" {
			if err := tx.PutIdempotencyKey(req.UserID, req.IdempotencyKey, o.Number); err != nil {
				return err
			}
		}
		order, created = o, true
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	if created {
		add(ctx, s.metrics.created)
		s.log.Info("order created",
			"order", order.Number,
			"user", order.UserID,
			"items", len(order.Items),
			"total", order.Total.String())
		s.publish(ctx, events.OrderCreated, order, "")
	}

	if order.PaymentStatus == models.PaymentPending && order.GatewayOrderID == "" {
		order, err = s.attachGatewayOrder(ctx, op, order)
		return order, created, err
	}
	return order, created, nil
}

// priceAndReserve builds the order from live catalog data and decrements
// stock for every line within tx.
func (s *Service) priceAndReserve(op string, tx *store.Tx, req CreateOrderRequest) (*models.Order, error) {
	settings, err := tx.Settings()
	if err != nil {
		return nil, err
	}

	o := &models.Order{
		UserID:          req.UserID,
		Currency:        s.currency,
		Status:          models.OrderPending,
		PaymentStatus:   models.PaymentPending,
		ShippingAddress: req.ShippingAddress,
	}

	for _, it := range req.Items {
		p, err := tx.Product(it.ProductID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, validationf(op, "product %s does not exist", it.ProductID)
		}
		if err != nil {
			return nil, err
		}
		if !p.IsActive {
			return nil, validationf(op, "%s is no longer available", p.Name)
		}

		err = tx.AdjustStock(p.ID, it.Size, -it.Quantity)
		switch {
		case errors.Is(err, store.ErrUnknownSize):
			return nil, validationf(op, "%s is not available in size %s", p.Name, it.Size)
		case errors.Is(err, store.ErrInsufficientStock):
			return nil, validationf(op, "%s (size %s) is out of stock for quantity %d", p.Name, it.Size, it.Quantity)
		case err != nil:
			return nil, err
		}

		line := models.LineItem{
			ProductID: p.ID,
			Name:      p.Name,
			Size:      it.Size,
			UnitPrice: p.EffectivePrice(),
			Quantity:  it.Quantity,
		}
		o.Items = append(o.Items, line)
		o.Subtotal += line.LineTotal()
	}

	o.Tax = settings.TaxOn(o.Subtotal)
	o.Shipping = settings.ShippingFor(o.Subtotal)
	o.Total = o.Subtotal + o.Tax + o.Shipping

	number, err := newOrderNumber(tx)
	if err != nil {
		return nil, err
	}
	o.Number = number
	return o, nil
}

// newOrderNumber returns an unused number of the form AK-YYYYMMDD-XXXXXXXX.
func newOrderNumber(tx *store.Tx) (string, error) {
	day := tx.Now().Format("20060102")
	for range 5 {
		suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
		number := "AK-" + day + "-" + suffix
		if !tx.OrderExists(number) {
			return number, nil
		}
	}
	return "", errors.New("orders: could not allocate an order number")
}

// RetryPayment requests a gateway payment order for a pending order that
// does not have one yet. An order that already has one is returned as is.
func (s *Service) RetryPayment(ctx context.Context, number string) (*models.Order, error) {
	const op = "orders.RetryPayment"

	o, err := s.getOrder(op, number)
	if err != nil {
		return nil, err
	}
	if o.PaymentStatus != models.PaymentPending {
		return nil, transitionf(op, number, "payment is already %s", o.PaymentStatus)
	}
	if o.GatewayOrderID != "" {
		return o, nil
	}
	return s.attachGatewayOrder(ctx, op, o)
}

// attachGatewayOrder creates the gateway order outside any store
// transaction, then stores its id only if the order still has none.
func (s *Service) attachGatewayOrder(ctx context.Context, op string, o *models.Order) (*models.Order, error) {
	gwID, err := s.gw.CreatePaymentOrder(ctx, o.Total, o.Currency, o.Number)
	if err != nil {
		kind := KindGateway
		if errors.Is(err, gateway.ErrUnavailable) || errors.Is(err, context.DeadlineExceeded) {
			kind = KindGatewayUnavailable
		}
		add(ctx, s.metrics.gatewayErrs, attribute.String("kind", kind.String()))
		s.log.Error("payment order creation failed", "order", o.Number, "kind", kind.String(), "err", err)
		return o, &Error{Op: op, Kind: kind, Order: o.Number, Message: "payment could not be initiated, please retry", Err: err}
	}

	var out *models.Order
	err = s.store.Update(func(tx *store.Tx) error {
		cur, err := tx.Order(o.Number)
		if err != nil {
			return err
		}
		out = cur
		if cur.GatewayOrderID != "" || cur.PaymentStatus != models.PaymentPending {
			return nil
		}
		cur.GatewayOrderID = gwID
		if err := tx.PutOrder(cur); err != nil {
			return err
		}
		return tx.PutPayment(&models.Payment{
			ID:             uuid.NewString(),
			OrderNumber:    cur.Number,
			GatewayOrderID: gwID,
			Amount:         cur.Total,
			Currency:       cur.Currency,
			Status:         models.RecordPending,
		})
	})
	if err != nil {
		return o, err
	}
	if out.GatewayOrderID != gwID {
		s.log.Warn("discarding concurrent gateway order", "order", out.Number, "gateway_order", gwID)
	}
	return out, nil
}

// VerifyRequest is the confirmation the client receives from the gateway
// checkout.
type VerifyRequest struct {
	GatewayOrderID string `json:"razorpay_order_id"`
	PaymentID      string `json:"razorpay_payment_id"`
	Signature      string `json:"razorpay_signature"`
}

// VerifyPayment checks the gateway signature against the order's stored
// gateway order id and, when valid, marks the order paid and processing.
//
// applied is false when the order had already been paid (a duplicate
// callback or a reconciliation run got there first); that is not an error.
// Signature mismatches fail closed with KindSignature and change nothing.
func (s *Service) VerifyPayment(ctx context.Context, number string, req VerifyRequest) (order *models.Order, applied bool, err error) {
	const op = "orders.VerifyPayment"

	o, err := s.getOrder(op, number)
	if err != nil {
		return nil, false, err
	}

	if o.GatewayOrderID == "" || req.GatewayOrderID != o.GatewayOrderID ||
		!s.gw.VerifySignature(o.GatewayOrderID, req.PaymentID, req.Signature) {
		add(ctx, s.metrics.rejected)
		s.log.Warn("payment signature rejected, possible tampering",
			"order", number,
			"gateway_order", req.GatewayOrderID,
			"payment", req.PaymentID)
		return nil, false, &Error{Op: op, Kind: KindSignature, Order: number, Message: "payment verification failed"}
	}

	return s.markPaid(ctx, op, number, confirmation{
		gatewayOrderID: o.GatewayOrderID,
		paymentID:      req.PaymentID,
		signature:      req.Signature,
		source:         "verify",
	})
}

// ConfirmGatewayPayment marks an order paid on the strength of a payment the
// gateway reports as captured or authorized. It shares the guarded update of
// VerifyPayment.
func (s *Service) ConfirmGatewayPayment(ctx context.Context, number string, p gateway.PaymentSummary) (*models.Order, bool, error) {
	const op = "orders.ConfirmGatewayPayment"

	if !p.Succeeded() {
		return nil, false, transitionf(op, number, "gateway payment %s is %s", p.ID, p.Status)
	}
	o, err := s.getOrder(op, number)
	if err != nil {
		return nil, false, err
	}
	return s.markPaid(ctx, op, number, confirmation{
		gatewayOrderID: o.GatewayOrderID,
		paymentID:      p.ID,
		method:         p.Method,
		source:         "reconcile",
	})
}

type confirmation struct {
	gatewayOrderID string
	paymentID      string
	signature      string
	method         string
	source         string
}

func (s *Service) markPaid(ctx context.Context, op, number string, c confirmation) (*models.Order, bool, error) {
	var (
		out     *models.Order
		applied bool
		late    bool
	)
	err := s.store.Update(func(tx *store.Tx) error {
		o, err := tx.Order(number)
		if err != nil {
			return err
		}
		out = o
		if o.PaymentStatus == models.PaymentPaid || o.PaymentStatus == models.PaymentRefunded {
			return nil
		}

		now := tx.Now()
		o.PaymentStatus = models.PaymentPaid
		o.PaymentID = c.paymentID
		o.PaidAt = &now
		switch o.Status {
		case models.OrderPending:
			o.Status = models.OrderProcessing
		case models.OrderCancelled:
			// Paid after expiry: the reservation is gone, so the order
			// stays cancelled and is left for a refund.
			late = true
		}

		rec, err := tx.OpenPayment(number, c.gatewayOrderID)
		if errors.Is(err, store.ErrNotFound) {
			rec = &models.Payment{
				ID:             uuid.NewString(),
				OrderNumber:    number,
				GatewayOrderID: c.gatewayOrderID,
				Amount:         o.Total,
				Currency:       o.Currency,
			}
		} else if err != nil {
			return err
		}
		rec.Status = models.RecordCompleted
		rec.GatewayPaymentID = c.paymentID
		rec.Signature = c.signature
		if c.method != "" {
			rec.Method = c.method
		}
		if err := tx.PutPayment(rec); err != nil {
			return err
		}

		applied = true
		return tx.PutOrder(o)
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, false, &Error{Op: op, Kind: KindNotFound, Order: number, Message: "order not found", Err: err}
	}
	if err != nil {
		return nil, false, err
	}

	if !applied {
		s.log.Info("payment already processed", "order", number, "payment", c.paymentID, "source", c.source)
		return out, false, nil
	}

	add(ctx, s.metrics.paid, attribute.String("source", c.source))
	if late {
		s.log.Warn("payment received for cancelled order, refund required",
			"order", number, "payment", c.paymentID, "source", c.source)
	} else {
		s.log.Info("order paid", "order", number, "payment", c.paymentID, "source", c.source)
	}
	s.publish(ctx, events.OrderPaid, out, "")
	return out, true, nil
}

// RecordPaymentFailure cancels a pending order whose payment failed and
// releases its stock. Repeating the call is a no-op.
func (s *Service) RecordPaymentFailure(ctx context.Context, number, reason string) (*models.Order, bool, error) {
	const op = "orders.RecordPaymentFailure"
	if reason == "" {
		reason = "payment failed"
	}
	return s.fail(ctx, op, number, reason, func(o *models.Order) (bool, error) {
		switch o.PaymentStatus {
		case models.PaymentPending:
			return true, nil
		case models.PaymentFailed:
			return false, nil
		}
		return false, transitionf(op, number, "payment is already %s", o.PaymentStatus)
	})
}

// ExpireOrder cancels an order still awaiting payment that was created
// before cutoff, and releases its stock. Orders that were paid in the
// meantime or are younger than cutoff are left alone.
func (s *Service) ExpireOrder(ctx context.Context, number string, cutoff time.Time) (*models.Order, bool, error) {
	const op = "orders.ExpireOrder"
	return s.fail(ctx, op, number, "payment not received in time", func(o *models.Order) (bool, error) {
		return o.PaymentStatus == models.PaymentPending && o.CreatedAt.Before(cutoff), nil
	})
}

// fail moves an order to failed/cancelled when guard allows it.
func (s *Service) fail(ctx context.Context, op, number, reason string, guard func(*models.Order) (bool, error)) (*models.Order, bool, error) {
	var (
		out     *models.Order
		applied bool
		skipped []string
	)
	err := s.store.Update(func(tx *store.Tx) error {
		o, err := tx.Order(number)
		if err != nil {
			return err
		}
		out = o

		ok, err := guard(o)
		if err != nil || !ok {
			return err
		}

		o.PaymentStatus = models.PaymentFailed
		o.Status = models.OrderCancelled
		o.CancelReason = reason
		if skipped, err = releaseStock(tx, o); err != nil {
			return err
		}

		if o.GatewayOrderID != "" {
			rec, err := tx.OpenPayment(number, o.GatewayOrderID)
			if err == nil {
				rec.Status = models.RecordFailed
				rec.FailureReason = reason
				if err := tx.PutPayment(rec); err != nil {
					return err
				}
			} else if !errors.Is(err, store.ErrNotFound) {
				return err
			}
		}

		applied = true
		return tx.PutOrder(o)
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, false, &Error{Op: op, Kind: KindNotFound, Order: number, Message: "order not found", Err: err}
	}
	if err != nil {
		return nil, false, err
	}

	if applied {
		s.cancelled(ctx, out, reason, skipped)
	}
	return out, applied, nil
}

// releaseStock returns the order's reservation to the catalog once. Lines
// whose product or size no longer exists are skipped and reported.
func releaseStock(tx *store.Tx, o *models.Order) (skipped []string, err error) {
	if o.StockReleased {
		return nil, nil
	}
	for _, it := range o.Items {
		err := tx.AdjustStock(it.ProductID, it.Size, it.Quantity)
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrUnknownSize) {
			skipped = append(skipped, it.ProductID+"/"+it.Size)
			continue
		}
		if err != nil {
			return nil, err
		}
	}
	o.StockReleased = true
	return skipped, nil
}

func (s *Service) cancelled(ctx context.Context, o *models.Order, reason string, skipped []string) {
	add(ctx, s.metrics.cancelled)
	if len(skipped) > 0 {
		s.log.Warn("stock not restored for removed products", "order", o.Number, "lines", skipped)
	}
	s.log.Info("order cancelled", "order", o.Number, "reason", reason)
	s.publish(ctx, events.OrderCancelled, o, reason)
}

// UpdateStatus applies an administrative fulfilment transition. Status moves
// forward one step at a time (pending→processing→shipped→delivered), and
// only a paid order may leave pending other than by cancellation.
// Cancelling before shipment releases the reserved stock. Setting the
// current status again only updates the tracking number.
func (s *Service) UpdateStatus(ctx context.Context, number string, next models.OrderStatus, trackingNumber string) (*models.Order, error) {
	const op = "orders.UpdateStatus"

	if !next.Valid() {
		return nil, validationf(op, "unknown status %q", next)
	}

	var (
		out     *models.Order
		from    models.OrderStatus
		changed bool
		skipped []string
	)
	err := s.store.Update(func(tx *store.Tx) error {
		o, err := tx.Order(number)
		if err != nil {
			return err
		}
		out, from = o, o.Status

		if o.Status == next {
			if trackingNumber == "" || trackingNumber == o.TrackingNumber {
				return nil
			}
			o.TrackingNumber = trackingNumber
			return tx.PutOrder(o)
		}

		if !o.Status.CanTransition(next) {
			return transitionf(op, number, "cannot move order from %s to %s", o.Status, next)
		}
		if next.RequiresPayment() && o.PaymentStatus != models.PaymentPaid {
			return transitionf(op, number, "order cannot be %s while payment is %s", next, o.PaymentStatus)
		}

		switch next {
		case models.OrderShipped:
			if trackingNumber != "" {
				o.TrackingNumber = trackingNumber
			}
		case models.OrderCancelled:
			if o.Status == models.OrderPending || o.Status == models.OrderProcessing {
				if skipped, err = releaseStock(tx, o); err != nil {
					return err
				}
			}
			// An unpaid order that is cancelled no longer expects payment.
			if o.PaymentStatus == models.PaymentPending {
				o.PaymentStatus = models.PaymentFailed
			}
			o.CancelReason = "cancelled by administrator"
		}

		o.Status = next
		changed = true
		return tx.PutOrder(o)
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, &Error{Op: op, Kind: KindNotFound, Order: number, Message: "order not found", Err: err}
	}
	if err != nil {
		return nil, err
	}

	if changed {
		s.log.Info("order status changed", "order", number, "from", from, "to", next)
		if next == models.OrderCancelled {
			s.cancelled(ctx, out, out.CancelReason, skipped)
		} else {
			s.publish(ctx, events.OrderStatusChanged, out, "")
		}
	}
	return out, nil
}

// MarkRefunded records that the payment of a cancelled, paid order was
// refunded.
func (s *Service) MarkRefunded(ctx context.Context, number string) (*models.Order, error) {
	const op = "orders.MarkRefunded"

	var out *models.Order
	err := s.store.Update(func(tx *store.Tx) error {
		o, err := tx.Order(number)
		if err != nil {
			return err
		}
		out = o
		if o.Status != models.OrderCancelled || o.PaymentStatus != models.PaymentPaid {
			return transitionf(op, number, "only cancelled, paid orders can be refunded (status %s, payment %s)", o.Status, o.PaymentStatus)
		}
		o.PaymentStatus = models.PaymentRefunded

		recs, err := tx.Payments(number)
		if err != nil {
			return err
		}
		for i := range recs {
			if recs[i].Status == models.RecordCompleted {
				recs[i].Status = models.RecordRefunded
				if err := tx.PutPayment(&recs[i]); err != nil {
					return err
				}
			}
		}
		return tx.PutOrder(o)
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, &Error{Op: op, Kind: KindNotFound, Order: number, Message: "order not found", Err: err}
	}
	if err != nil {
		return nil, err
	}

	s.log.Info("order refunded", "order", number)
	s.publish(ctx, events.OrderRefunded, out, "")
	return out, nil
}

// GetOrder returns an order by number.
func (s *Service) GetOrder(_ context.Context, number string) (*models.Order, error) {
	return s.getOrder("orders.GetOrder", number)
}

// ListOrders returns orders newest first; a non-empty userID restricts the
// list to that user.
func (s *Service) ListOrders(_ context.Context, userID string) ([]models.Order, error) {
	return s.store.ListOrders(userID)
}

// Payments returns the payment history of an order.
func (s *Service) Payments(_ context.Context, number string) ([]models.Payment, error) {
	if _, err := s.getOrder("orders.Payments", number); err != nil {
		return nil, err
	}
	return s.store.ListPayments(number)
}

func (s *Service) getOrder(op, number string) (*models.Order, error) {
	o, err := s.store.GetOrder(number)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &Error{Op: op, Kind: KindNotFound, Order: number, Message: "order not found", Err: err}
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return o, nil
}

func (s *Service) publish(ctx context.Context, typ string, o *models.Order, reason string) {
	if err := s.events.Publish(ctx, events.NewOrderEvent(typ, o, reason)); err != nil {
		s.log.Error("event publish failed", "order", o.Number, "event", typ, "err", err)
	}
}
