// Package events publishes order lifecycle events for downstream consumers
// (notifications, analytics, fulfilment). The order store stays the source
// of truth: events are emitted after a transition has been committed, and a
// failed publish never rolls a transition back.
package events

import (
	"context"
	"time"

	"github.com/astroskulture/checkout/models"
)

// Event types.
const (
	OrderCreated       = "order.created"
	OrderPaid          = "order.paid"
	OrderCancelled     = "order.cancelled"
	OrderStatusChanged = "order.status_changed"
	OrderRefunded      = "order.refunded"
)

// Event is the envelope written to the broker.
type Event struct {
	Type       string    `json:"event_type"`
	OccurredAt time.Time `json:"occurred_at"`
	Data       OrderData `json:"data"`
}

// OrderData is the order summary carried by every event.
type OrderData struct {
	OrderNumber   string               `json:"order_number"`
	UserID        string               `json:"user_id,omitempty"`
	Status        models.OrderStatus   `json:"status"`
	PaymentStatus models.PaymentStatus `json:"payment_status"`
	PaymentID     string               `json:"payment_id,omitempty"`
	Total         models.Paise         `json:"total"`
	Reason        string               `json:"reason,omitempty"`
}

// NewOrderEvent builds an event from the committed state of o.
func NewOrderEvent(typ string, o *models.Order, reason string) Event {
	return Event{
		Type:       typ,
		OccurredAt: o.UpdatedAt,
		Data: OrderData{
			OrderNumber:   o.Number,
			UserID:        o.UserID,
			Status:        o.Status,
			PaymentStatus: o.PaymentStatus,
			PaymentID:     o.PaymentID,
			Total:         o.Total,
			Reason:        reason,
		},
	}
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Nop discards every event. It is used when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }
