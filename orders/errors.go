package orders

import (
	"errors"
	"fmt"
)

// Kind classifies a lifecycle failure. Callers switch on the kind instead of
// inspecting messages.
type Kind int

const (
	KindUnknown Kind = iota

	// KindValidation: bad input such as an out-of-stock line, an inactive
	// product or an incomplete address. Nothing was persisted.
	KindValidation

	// KindNotFound: the order does not exist.
	KindNotFound

	// KindGateway: the gateway refused the request. The order is persisted
	// as pending.
	KindGateway

	// KindGatewayUnavailable: a transient gateway failure. The order is
	// persisted as pending and payment creation may be retried.
	KindGatewayUnavailable

	// KindSignature: the payment confirmation did not match the expected
	// signature. The order was not changed.
	KindSignature

	// KindInvalidTransition: the requested status change is not allowed
	// from the order's current state. The order was not changed.
	KindInvalidTransition
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindGateway:
		return "gateway"
	case KindGatewayUnavailable:
		return "gateway_unavailable"
	case KindSignature:
		return "signature"
	case KindInvalidTransition:
		return "invalid_transition"
	}
	return "unknown"
}

// Error is returned by every Service operation.
type Error struct {
	Op      string // operation, e.g. "orders.VerifyPayment"
	Kind    Kind
	Order   string // order number, when known
	Message string // safe to show to the caller
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Order != "" {
		return fmt.Sprintf("%s [%s]: %s", e.Op, e.Order, msg)
	}
	return fmt.Sprintf("%s: %s", e.Op, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the first *Error in err's chain, or
// KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func validationf(op, format string, args ...any) *Error {
	return &Error{Op: op, Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func transitionf(op, number, format string, args ...any) *Error {
	return &Error{Op: op, Kind: KindInvalidTransition, Order: number, Message: fmt.Sprintf(format, args...)}
}
