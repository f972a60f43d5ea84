// Package gateway isolates every call to the external payment processor
// behind the Gateway interface. It holds no business rules: callers decide
// what a failed or missing payment means for an order.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/astroskulture/checkout/models"
)

var (
	// ErrUnavailable marks transient failures (network errors, timeouts,
	// rate limiting, 5xx). Callers may retry.
	ErrUnavailable = errors.New("payment gateway unavailable")

	// ErrRejected marks requests the gateway refused. Retrying the same
	// request will not help.
	ErrRejected = errors.New("payment gateway rejected request")
)

// Payment statuses reported by the gateway.
const (
	StatusCreated    = "created"
	StatusAuthorized = "authorized"
	StatusCaptured   = "captured"
	StatusRefunded   = "refunded"
	StatusFailed     = "failed"
)

// PaymentSummary is one payment attempt listed for a gateway order.
type PaymentSummary struct {
	ID     string       `json:"id"`
	Status string       `json:"status"`
	Amount models.Paise `json:"amount"`
	Method string       `json:"method"`
}

// Succeeded reports whether the gateway holds the customer's money for this
// payment, either captured or authorized for capture.
func (p PaymentSummary) Succeeded() bool {
	return p.Status == StatusCaptured || p.Status == StatusAuthorized
}

// PaymentDetail is a single payment fetched by id.
type PaymentDetail struct {
	ID         string
	Status     string
	Amount     models.Paise
	Method     string
	CapturedAt *time.Time
}

// Gateway is the narrow surface the order lifecycle needs from a payment
// processor.
type Gateway interface {
	// CreatePaymentOrder registers a charge attempt and returns the
	// gateway order id the client pays against.
	CreatePaymentOrder(ctx context.Context, amount models.Paise, currency, receipt string) (string, error)

	// FetchPayments lists the payment attempts made against a gateway order.
	FetchPayments(ctx context.Context, gatewayOrderID string) ([]PaymentSummary, error)

	// FetchPayment returns a single payment.
	FetchPayment(ctx context.Context, paymentID string) (*PaymentDetail, error)

	// VerifySignature reports whether signature proves that the gateway
	// confirmed paymentID for gatewayOrderID.
	VerifySignature(gatewayOrderID, paymentID, signature string) bool
}

// APIError carries the gateway's own error code and description. It wraps
// ErrUnavailable or ErrRejected.
type APIError struct {
	StatusCode  int
	Code        string
	Description string
	kind        error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway: %d %s: %s", e.StatusCode, e.Code, e.Description)
}

func (e *APIError) Unwrap() error {
	return e.kind
}
