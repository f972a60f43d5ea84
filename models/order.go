package models

import "time"

// OrderStatus is the fulfilment state of an order.
type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderProcessing OrderStatus = "processing"
	OrderShipped    OrderStatus = "shipped"
	OrderDelivered  OrderStatus = "delivered"
	OrderCancelled  OrderStatus = "cancelled"
)

// Valid reports whether s is a known order status.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderPending, OrderProcessing, OrderShipped, OrderDelivered, OrderCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed out of s.
func (s OrderStatus) Terminal() bool {
	return s == OrderDelivered || s == OrderCancelled
}

// rank orders the forward-only fulfilment chain. Cancelled is off the chain.
func (s OrderStatus) rank() int {
	switch s {
	case OrderPending:
		return 0
	case OrderProcessing:
		return 1
	case OrderShipped:
		return 2
	case OrderDelivered:
		return 3
	}
	return -1
}

// CanTransition reports whether the fulfilment chain allows moving from s to
// next: one step forward along pending→processing→shipped→delivered, or to
// cancelled from any non-terminal state. Payment preconditions are checked by
// the caller.
func (s OrderStatus) CanTransition(next OrderStatus) bool {
	if s.Terminal() || !next.Valid() {
		return false
	}
	if next == OrderCancelled {
		return true
	}
	return next.rank() == s.rank()+1
}

// RequiresPayment reports whether an order may only hold status s once paid.
func (s OrderStatus) RequiresPayment() bool {
	return s == OrderProcessing || s == OrderShipped || s == OrderDelivered
}

// PaymentStatus is the payment state of an order.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

// LineItem is one ordered product. Name and UnitPrice are snapshots taken
// when the order is created; later catalog edits do not change them.
type LineItem struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	Size      string `json:"size"`
	UnitPrice Paise  `json:"unitPrice"`
	Quantity  int    `json:"quantity"`
}

// LineTotal is UnitPrice × Quantity.
func (l LineItem) LineTotal() Paise {
	return l.UnitPrice * Paise(l.Quantity)
}

// Address is a shipping address snapshot copied into the order.
type Address struct {
	Name       string `json:"name"`
	Phone      string `json:"phone"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country,omitempty"`
}

// Order is a customer order and its payment state.
//
// Status and PaymentStatus only change through guarded store transactions:
// PaymentStatus reaches paid only after a verified or gateway-confirmed
// payment, and Status reaches processing, shipped or delivered only once
// PaymentStatus is paid.
type Order struct {
	// Number is the human-readable unique identifier, e.g. AK-20261017-1A2B3C4D.
	Number string `json:"number"`

	// UserID is empty for guest checkouts.
	UserID string `json:"userId,omitempty"`

	Items []LineItem `json:"items"`

	Subtotal Paise  `json:"subtotal"`
	Tax      Paise  `json:"tax"`
	Shipping Paise  `json:"shipping"`
	Total    Paise  `json:"total"`
	Currency string `json:"currency"`

	Status        OrderStatus   `json:"status"`
	PaymentStatus PaymentStatus `json:"paymentStatus"`

	// GatewayOrderID is issued by the payment gateway; empty until the
	// payment order was created successfully.
	GatewayOrderID string `json:"gatewayOrderId,omitempty"`
	PaymentID      string `json:"paymentId,omitempty"`

	ShippingAddress Address `json:"shippingAddress"`
	TrackingNumber  string  `json:"trackingNumber,omitempty"`
	CancelReason    string  `json:"cancelReason,omitempty"`

	// StockReleased is set once the stock reserved at creation has been
	// returned to the catalog. It keeps the restock exactly-once.
	StockReleased bool `json:"stockReleased,omitempty"`

	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	PaidAt    *time.Time `json:"paidAt,omitempty"`
}

// TotalsConsistent reports whether Total equals Subtotal + Tax + Shipping.
func (o *Order) TotalsConsistent() bool {
	return o.Total == o.Subtotal+o.Tax+o.Shipping
}
