package models

import "time"

// PaymentRecordStatus is the state of one payment attempt.
type PaymentRecordStatus string

const (
	RecordPending   PaymentRecordStatus = "pending"
	RecordCompleted PaymentRecordStatus = "completed"
	RecordFailed    PaymentRecordStatus = "failed"
	RecordRefunded  PaymentRecordStatus = "refunded"
)

// Payment is the audit record of one payment attempt against an order. It
// is kept independently of the mutable Order so the payment history
// survives later order edits.
type Payment struct {
	ID          string `json:"id"`
	OrderNumber string `json:"orderNumber"`

	GatewayOrderID   string `json:"gatewayOrderId"`
	GatewayPaymentID string `json:"gatewayPaymentId,omitempty"`
	Signature        string `json:"signature,omitempty"`

	Amount   Paise               `json:"amount"`
	Currency string              `json:"currency"`
	Status   PaymentRecordStatus `json:"status"`
	Method   string              `json:"method,omitempty"`

	FailureReason string `json:"failureReason,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
